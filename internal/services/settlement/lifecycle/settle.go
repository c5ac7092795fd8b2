package lifecycle

import (
	"context"
	"fmt"
	"slices"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/builder"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
)

// maxPayoutRounds bounds how many times a payout is re-planned after
// prerequisite account creations.
const maxPayoutRounds = 3

// SettleParams ends a room. The host may settle once winners are declared;
// anyone may after the room expires.
type SettleParams struct {
	Room   RoomRef
	Caller bundle.Signer
}

// Settle pays platform, host, charity and every winner out of the room's
// custody accounts and marks the room Ended, all in one bundle. Amounts are
// recomputed from the room's stored values.
func (m *Manager) Settle(ctx context.Context, p SettleParams) (res *Result, err error) {
	if err := requireSigner(p.Caller, "caller"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "Settle", roomAddr)
	defer func() { m.end(span, "Settle", res, err) }()

	caller := p.Caller.Address()
	return m.payout(ctx, payoutRun{
		op:     "settle",
		room:   roomAddr,
		caller: p.Caller,
		prepare: func(_ context.Context, r *room.Room) (room.Distribution, error) {
			if err := r.CheckSettle(caller, m.clock()); err != nil {
				return room.Distribution{}, err
			}
			return r.Distribution()
		},
		plan: m.builder.Settle,
		landed: func(r *room.Room) bool {
			return r.Phase.AtLeast(room.PhaseEnded) && !r.Recovered
		},
	})
}

// RecoverParams refunds a room.
type RecoverParams struct {
	Room   RoomRef
	Caller bundle.Signer
}

// RecoverRoom refunds every entry's fee and extras to its player and every
// deposited prize asset to the host, then marks the room Ended. Anyone may
// recover an expired room; the host may recover earlier while no winners
// are declared.
func (m *Manager) RecoverRoom(ctx context.Context, p RecoverParams) (res *Result, err error) {
	if err := requireSigner(p.Caller, "caller"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "RecoverRoom", roomAddr)
	defer func() { m.end(span, "RecoverRoom", res, err) }()

	caller := p.Caller.Address()
	return m.payout(ctx, payoutRun{
		op:     "recover",
		room:   roomAddr,
		caller: p.Caller,
		prepare: func(ctx context.Context, r *room.Room) (room.Distribution, error) {
			if err := r.CheckRecover(caller, m.clock()); err != nil {
				return room.Distribution{}, err
			}
			entries, err := m.entries(ctx, r.Address)
			if err != nil {
				return room.Distribution{}, err
			}
			return r.Refunds(entries)
		},
		plan: m.builder.Recover,
		landed: func(r *room.Room) bool {
			return r.Phase.AtLeast(room.PhaseEnded) && r.Recovered
		},
	})
}

type payoutRun struct {
	op     string
	room   address.Address
	caller bundle.Signer
	// prepare runs the pre-flight rules on a fresh snapshot and computes
	// what the room owes.
	prepare func(context.Context, *room.Room) (room.Distribution, error)
	plan    func(*room.Room, address.Address, room.Distribution, []bundle.Instruction) (builder.Plan, error)
	landed  func(*room.Room) bool
}

// payout submits a terminal transition. When the account creations do not
// fit alongside the payout they are submitted first as prerequisites; the
// room is then re-read and the payout re-derived from current state, never
// from what this call believes it already did.
func (m *Manager) payout(ctx context.Context, run payoutRun) (*Result, error) {
	payer := run.caller.Address()
	signers := signerList(run.caller)
	var prerequisites []bundle.Digest

	for round := 0; round < maxPayoutRounds; round++ {
		r, err := m.fetchRoom(ctx, run.room)
		if err != nil {
			return nil, err
		}
		d, err := run.prepare(ctx, r)
		if err != nil {
			return nil, err
		}
		_, creates, err := m.resolver.EnsureAll(ctx, payer, builder.Recipients(d))
		if err != nil {
			return nil, err
		}
		plan, err := run.plan(r, payer, d, creates)
		if err != nil {
			return nil, err
		}

		if !plan.NeedsRebuild() {
			out, err := m.execute(ctx, run.op, run.room, payer, signers, plan.Final, m.roomProbe(run.room, run.landed))
			if err != nil {
				return nil, err
			}
			after, err := m.refetch(ctx, run.room, room.PhaseEnded)
			if err != nil {
				return nil, err
			}
			return &Result{
				Signature:     out.Digest,
				Status:        out.Status,
				Prerequisites: prerequisites,
				Addresses:     m.payoutAddresses(r, d),
				Room:          after,
				Distribution:  &d,
			}, nil
		}

		m.log.Infof("%s for room %s needs %d prerequisite bundles", run.op, run.room, len(plan.Prerequisites))
		for _, batch := range plan.Prerequisites {
			out, err := m.execute(ctx, run.op+"_prerequisite", run.room, payer, signers, batch, m.accountsProbe(batch))
			if err != nil {
				return nil, err
			}
			prerequisites = append(prerequisites, out.Digest)
		}
	}
	return nil, apperrors.New(apperrors.CodeBundleTooLarge,
		fmt.Sprintf("%s payout for room %s still does not fit after %d rounds", run.op, run.room, maxPayoutRounds))
}

// accountsProbe reports whether every account a batch creates exists.
func (m *Manager) accountsProbe(batch []bundle.Instruction) submit.Probe {
	targets := make([]address.Address, 0, len(batch))
	for _, ins := range batch {
		targets = append(targets, ins.Target)
	}
	return func(ctx context.Context) (bool, error) {
		accts, err := m.ledger.GetAccounts(ctx, targets)
		if err != nil {
			return false, err
		}
		return !slices.Contains(accts, nil), nil
	}
}

// entries lists a room's player entries in join order.
func (m *Manager) entries(ctx context.Context, roomAddr address.Address) ([]room.PlayerEntry, error) {
	accts, err := m.ledger.ListAccounts(ctx, roomAddr, chain.KindEntry)
	if err != nil {
		return nil, err
	}
	out := make([]room.PlayerEntry, 0, len(accts))
	for _, acct := range accts {
		entry, err := acct.Entry()
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b room.PlayerEntry) int { return int(a.JoinSeq) - int(b.JoinSeq) })
	return out, nil
}

func (m *Manager) payoutAddresses(r *room.Room, d room.Distribution) map[string]address.Address {
	out := map[string]address.Address{"room": r.Address, "vault": r.Vault}
	counts := make(map[room.Role]int)
	for _, p := range d.Payouts {
		to, _, err := m.deriver.Token(p.Recipient, p.Mint)
		if err != nil {
			continue
		}
		key := string(p.Role)
		if p.Role == room.RoleWinner || p.Role == room.RoleRefund {
			key = fmt.Sprintf("%s.%d", p.Role, counts[p.Role])
			counts[p.Role]++
		}
		out[key] = to
	}
	return out
}
