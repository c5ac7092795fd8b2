// Package engine runs the local ledger: it verifies and executes bundles,
// records their outcome and advances the slot clock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/ledger/program"
	"github.com/louisbranch/fundraising.space/internal/services/ledger/storage"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
)

// DefaultSlotDuration is how long one slot lasts when unset.
const DefaultSlotDuration = 400 * time.Millisecond

// Config describes the program a ledger runs.
type Config struct {
	Program      address.Address
	Reserve      uint64
	SlotDuration time.Duration
	Genesis      time.Time
	AllowAirdrop bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// Ledger is the local stand-in for the remote settlement program.
type Ledger struct {
	store   storage.Store
	program *program.Program
	cfg     Config
	clock   func() time.Time
	log     slog.Logger

	// mu serializes submissions so digest checks and execution do not race.
	mu sync.Mutex
}

var _ chain.Client = (*Ledger)(nil)

// New builds a ledger over store.
func New(store storage.Store, cfg Config, log slog.Logger, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if cfg.Program.IsZero() {
		return nil, errors.New("program address is required")
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = DefaultSlotDuration
	}
	if log == nil {
		log = slog.Disabled
	}
	l := &Ledger{
		store:   store,
		program: program.New(address.NewDeriver(cfg.Program), cfg.Reserve),
		cfg:     cfg,
		clock:   time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.Genesis.IsZero() {
		l.cfg.Genesis = l.clock()
	}
	return l, nil
}

// Deriver returns the address rules of the program.
func (l *Ledger) Deriver() address.Deriver {
	return l.program.Deriver()
}

func (l *Ledger) tick() (uint64, time.Time) {
	now := l.clock().UTC()
	if now.Before(l.cfg.Genesis) {
		return 0, now
	}
	return uint64(now.Sub(l.cfg.Genesis) / l.cfg.SlotDuration), now
}

// CurrentSlot implements chain.Client.
func (l *Ledger) CurrentSlot(context.Context) (uint64, error) {
	slot, _ := l.tick()
	return slot, nil
}

// GetAccount implements chain.Client.
func (l *Ledger) GetAccount(ctx context.Context, addr address.Address) (*chain.Account, error) {
	acct, err := l.store.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, chain.NotFound(addr)
	}
	return acct, nil
}

// GetAccounts implements chain.Client.
func (l *Ledger) GetAccounts(ctx context.Context, addrs []address.Address) ([]*chain.Account, error) {
	return l.store.Accounts(ctx, addrs)
}

// ListAccounts implements chain.Client.
func (l *Ledger) ListAccounts(ctx context.Context, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error) {
	return l.store.AccountsByOwner(ctx, owner, kind)
}

// GetBundleStatus implements chain.Client.
func (l *Ledger) GetBundleStatus(ctx context.Context, digest bundle.Digest) (chain.BundleStatus, error) {
	slot, _ := l.tick()
	rec, err := l.store.Bundle(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		return chain.BundleStatus{Digest: digest, State: chain.StateUnknown, CurrentSlot: slot}, nil
	}
	if err != nil {
		return chain.BundleStatus{}, err
	}
	return rec.Status(slot), nil
}

// admit runs the checks shared by Submit and Simulate.
func (l *Ledger) admit(ctx context.Context, b *bundle.Bundle, slot uint64) (bundle.Digest, error) {
	digest, err := b.Verify()
	if err != nil {
		return bundle.Digest{}, err
	}
	if b.RecentSlot > slot {
		return bundle.Digest{}, apperrors.Fieldf(apperrors.CodeInvalidArgument, "recent_slot", "recent slot %d is ahead of slot %d", b.RecentSlot, slot)
	}
	if b.Expired(slot) {
		return bundle.Digest{}, apperrors.WithMetadata(apperrors.CodeSubmissionExpired,
			fmt.Sprintf("bundle expired after slot %d", b.ExpiresAfter()),
			map[string]string{"Slot": fmt.Sprint(b.ExpiresAfter())})
	}
	_, err = l.store.Bundle(ctx, digest)
	switch {
	case err == nil:
		return bundle.Digest{}, apperrors.WithMetadata(apperrors.CodeAlreadyProcessed,
			fmt.Sprintf("bundle %s already processed", digest),
			map[string]string{"Bundle": digest.String()})
	case !errors.Is(err, storage.ErrNotFound):
		return bundle.Digest{}, err
	}
	return digest, nil
}

// Submit implements chain.Client. A bundle that fails execution is still
// accepted and recorded as failed; the failure is reported by
// GetBundleStatus.
func (l *Ledger) Submit(ctx context.Context, b bundle.Bundle) (bundle.Digest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, now := l.tick()
	digest, err := l.admit(ctx, &b, slot)
	if err != nil {
		l.log.Debugf("Rejected bundle at slot %d: %v", slot, err)
		return bundle.Digest{}, err
	}

	var (
		logs    []string
		execErr error
	)
	err = l.store.Update(ctx, func(tx storage.Tx) error {
		logs, execErr = l.program.Execute(ctx, tx, program.Env{Slot: slot, Now: now}, &b)
		if execErr != nil {
			return execErr
		}
		return tx.RecordBundle(ctx, storage.BundleRecord{
			Digest: digest,
			State:  chain.StateProcessed,
			Slot:   slot,
			Logs:   logs,
		})
	})
	if err == nil {
		l.log.Infof("Processed bundle %s at slot %d (%d instructions)", digest, slot, len(b.Instructions))
		return digest, nil
	}
	if execErr == nil || apperrors.GetCode(execErr) == apperrors.CodeUnknown {
		return bundle.Digest{}, err
	}

	l.log.Infof("Bundle %s failed at slot %d: %v", digest, slot, execErr)
	if apperrors.IsIntegrity(execErr) {
		l.log.Criticalf("Integrity failure executing bundle %s: %v", digest, execErr)
	}
	if err := l.store.RecordBundle(ctx, storage.BundleRecord{
		Digest:  digest,
		State:   chain.StateFailed,
		Slot:    slot,
		Failure: chain.FailureOf(execErr),
		Logs:    logs,
	}); err != nil {
		return bundle.Digest{}, err
	}
	return digest, nil
}

// Simulate implements chain.Client. Nothing it executes is committed.
func (l *Ledger) Simulate(ctx context.Context, b bundle.Bundle) (chain.SimulationResult, error) {
	slot, now := l.tick()
	if _, err := l.admit(ctx, &b, slot); err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			return chain.SimulationResult{}, err
		}
		return chain.SimulationResult{Failure: chain.FailureOf(err)}, nil
	}

	var (
		logs    []string
		execErr error
	)
	err := l.store.DryRun(ctx, func(tx storage.Tx) error {
		logs, execErr = l.program.Execute(ctx, tx, program.Env{Slot: slot, Now: now}, &b)
		return nil
	})
	if err != nil {
		return chain.SimulationResult{}, err
	}
	if execErr != nil {
		if apperrors.GetCode(execErr) == apperrors.CodeUnknown {
			return chain.SimulationResult{}, execErr
		}
		return chain.SimulationResult{Failure: chain.FailureOf(execErr), Logs: logs}, nil
	}
	return chain.SimulationResult{OK: true, Logs: logs}, nil
}

// Airdrop credits a development balance. A zero mint credits the native
// balance of the owner's wallet; otherwise the owner's associated currency
// account is credited, created without a reserve if missing.
func (l *Ledger) Airdrop(ctx context.Context, owner, mint address.Address, amount uint64) (*chain.Account, error) {
	if !l.cfg.AllowAirdrop {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "airdrops are disabled on this ledger")
	}
	if owner.IsZero() || amount == 0 {
		return nil, apperrors.Field(apperrors.CodeInvalidArgument, "amount", "airdrop needs an owner and a positive amount")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	target := owner
	kind := chain.KindWallet
	if !mint.IsZero() {
		addr, _, err := l.Deriver().Token(owner, mint)
		if err != nil {
			return nil, err
		}
		target, kind = addr, chain.KindToken
	}

	var out *chain.Account
	err := l.store.Update(ctx, func(tx storage.Tx) error {
		acct, err := tx.Account(ctx, target)
		if err != nil {
			return err
		}
		if acct == nil {
			acct = &chain.Account{Address: target, Kind: kind, Owner: owner, Mint: mint}
		}
		if acct.Kind != kind || acct.Owner != owner || acct.Mint != mint {
			return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
				fmt.Sprintf("account %s cannot receive this airdrop", target),
				map[string]string{"Account": target.String()})
		}
		if acct.Amount+amount < acct.Amount {
			return apperrors.Field(apperrors.CodeInvalidArgument, "amount", "airdrop overflows the balance")
		}
		acct.Amount += amount
		out = acct
		return tx.PutAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	l.log.Debugf("Airdropped %d to %s", amount, target)
	return out, nil
}
