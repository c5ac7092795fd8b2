// Package program executes settlement bundles against ledger state.
//
// Execution is all-or-nothing from the caller's point of view: the program
// mutates State as it goes and returns the first failure, and the caller is
// expected to run it inside a transaction it rolls back on error. The rules
// are the same pure transitions the settlement client pre-flights with, so a
// bundle that simulates cleanly executes the same way.
package program

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// State is the account store a bundle executes against.
type State interface {
	// Account returns nil, nil when the account does not exist.
	Account(ctx context.Context, addr address.Address) (*chain.Account, error)
	PutAccount(ctx context.Context, acct *chain.Account) error
	DeleteAccount(ctx context.Context, addr address.Address) error
	// AccountsByOwner lists accounts of one kind owned by owner, ordered by
	// address.
	AccountsByOwner(ctx context.Context, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error)
}

// Env is the execution context of one bundle.
type Env struct {
	Slot uint64
	Now  time.Time
}

// Program holds the derivation rules and the storage reserve charged for
// every account it creates.
type Program struct {
	deriver address.Deriver
	reserve uint64
}

// New builds a program.
func New(deriver address.Deriver, reserve uint64) *Program {
	return &Program{deriver: deriver, reserve: reserve}
}

// Deriver returns the derivation rules of the program.
func (p *Program) Deriver() address.Deriver {
	return p.deriver
}

// Reserve is the storage deposit of one account.
func (p *Program) Reserve() uint64 {
	return p.reserve
}

// Execute applies every instruction of b in order. Signatures must already
// be verified. The returned logs describe what ran, including on failure.
func (p *Program) Execute(ctx context.Context, st State, env Env, b *bundle.Bundle) ([]string, error) {
	if len(b.Instructions) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "bundle has no instructions")
	}
	if len(b.Instructions) > bundle.MaxInstructions {
		return nil, apperrors.WithMetadata(apperrors.CodeBundleTooLarge,
			fmt.Sprintf("bundle has %d instructions, limit %d", len(b.Instructions), bundle.MaxInstructions),
			map[string]string{"Count": fmt.Sprint(len(b.Instructions)), "Max": fmt.Sprint(bundle.MaxInstructions)})
	}
	x := &execution{
		Program:  p,
		ctx:      ctx,
		st:       st,
		env:      env,
		feePayer: b.FeePayer,
		outflows: make(map[address.Address][]room.Payout),
		closed:   make(map[address.Address]bool),
	}
	for i, ins := range b.Instructions {
		if err := x.apply(ins); err != nil {
			x.logf("instruction %d %s failed: %v", i, ins.Kind, err)
			return x.logs, fmt.Errorf("instruction %d (%s): %w", i, ins.Kind, err)
		}
		x.logf("instruction %d %s ok", i, ins.Kind)
	}
	for roomAddr := range x.outflows {
		if !x.closed[roomAddr] {
			return x.logs, apperrors.New(apperrors.CodeUnauthorized,
				fmt.Sprintf("custody outflow from room %s without a terminal instruction", roomAddr))
		}
	}
	return x.logs, nil
}

// execution is the state of one Execute call.
type execution struct {
	*Program
	ctx      context.Context
	st       State
	env      Env
	feePayer address.Address
	signers  []address.Address
	logs     []string

	// outflows records custody transfers per room until a terminal
	// instruction verifies them.
	outflows map[address.Address][]room.Payout
	closed   map[address.Address]bool
}

func (x *execution) logf(format string, args ...any) {
	x.logs = append(x.logs, fmt.Sprintf(format, args...))
}

func (x *execution) apply(ins bundle.Instruction) error {
	x.signers = ins.Signers
	switch ins.Kind {
	case bundle.KindTokenCreateIdempotent:
		return decodeAnd(ins, x.createTokenAccount)
	case bundle.KindTokenTransfer:
		return decodeAnd(ins, x.transfer)
	case bundle.KindConfigInitialize:
		return decodeAnd(ins, x.initializeConfig)
	case bundle.KindConfigUpdate:
		return decodeAnd(ins, x.updateConfig)
	case bundle.KindRoomCreate:
		return decodeAnd(ins, x.createRoom)
	case bundle.KindRoomUpdateFees:
		return decodeAnd(ins, x.updateRoomFees)
	case bundle.KindRoomDepositPrize:
		return decodeAnd(ins, x.depositPrize)
	case bundle.KindRoomJoin:
		return decodeAnd(ins, x.joinRoom)
	case bundle.KindRoomCloseJoining:
		return decodeAnd(ins, x.closeJoining)
	case bundle.KindRoomDeclareWinners:
		return decodeAnd(ins, x.declareWinners)
	case bundle.KindRoomEnd:
		return decodeAnd(ins, x.endRoom)
	case bundle.KindRoomRecover:
		return decodeAnd(ins, x.recoverRoom)
	case bundle.KindRoomCleanup:
		return decodeAnd(ins, x.cleanupRoom)
	default:
		return apperrors.Fieldf(apperrors.CodeInvalidArgument, "kind", "unknown instruction kind %q", ins.Kind)
	}
}

func decodeAnd[P any](ins bundle.Instruction, fn func(address.Address, P) error) error {
	var payload P
	if err := ins.Decode(&payload); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	return fn(ins.Target, payload)
}

// requireSigner checks that addr authorized the current instruction.
func (x *execution) requireSigner(addr address.Address) error {
	if addr == x.feePayer || slices.Contains(x.signers, addr) {
		return nil
	}
	return apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("%s did not sign", addr))
}

func (x *execution) account(addr address.Address) (*chain.Account, error) {
	return x.st.Account(x.ctx, addr)
}

func (x *execution) put(acct *chain.Account) error {
	return x.st.PutAccount(x.ctx, acct)
}

// expectDerived fails when a target does not match its derivation.
func expectDerived(target, derived address.Address, what string) error {
	if target == derived {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
		fmt.Sprintf("%s %s does not match derived address %s", what, target, derived),
		map[string]string{"Account": target.String()})
}

// charge moves a storage reserve out of payer's native balance.
func (x *execution) charge(payer address.Address) (uint64, error) {
	if x.reserve == 0 {
		return 0, nil
	}
	wallet, err := x.account(payer)
	if err != nil {
		return 0, err
	}
	var available uint64
	if wallet != nil && wallet.Kind == chain.KindWallet {
		available = wallet.Amount
	}
	if available < x.reserve {
		return 0, room.InsufficientFunds(x.reserve, available)
	}
	wallet.Amount -= x.reserve
	return x.reserve, x.put(wallet)
}

// release returns a closed account's reserve to a wallet, creating the
// wallet record when needed.
func (x *execution) release(to address.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	wallet, err := x.account(to)
	if err != nil {
		return err
	}
	if wallet == nil {
		wallet = &chain.Account{Address: to, Kind: chain.KindWallet, Owner: to}
	}
	if wallet.Kind != chain.KindWallet {
		return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
			fmt.Sprintf("reserve recipient %s is not a wallet", to),
			map[string]string{"Account": to.String()})
	}
	wallet.Amount += amount
	return x.put(wallet)
}

func (x *execution) create(payer address.Address, acct *chain.Account) error {
	reserve, err := x.charge(payer)
	if err != nil {
		return err
	}
	acct.Reserve = reserve
	return x.put(acct)
}

func (x *execution) closeAccount(acct *chain.Account, reserveTo address.Address) error {
	if err := x.st.DeleteAccount(x.ctx, acct.Address); err != nil {
		return err
	}
	return x.release(reserveTo, acct.Reserve)
}

func encodeData(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode account data: %w", err)
	}
	return raw, nil
}
