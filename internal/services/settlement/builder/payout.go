package builder

import (
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// Plan is the bundle layout of a terminal transition.
//
// When the account creations and the payout fit one bundle, Final holds
// creates followed by every transfer and the terminal instruction. Otherwise
// only the creations are split into Prerequisites and Final is empty: the
// caller submits the prerequisites, re-resolves accounts from the ledger and
// plans again. The payout itself is never split.
type Plan struct {
	Prerequisites [][]bundle.Instruction
	Final         []bundle.Instruction
}

// NeedsRebuild reports whether the payout must be planned again after the
// prerequisites land.
func (p Plan) NeedsRebuild() bool {
	return len(p.Final) == 0
}

// Settle plans the settlement payout: creates, then platform, host, charity
// and winner transfers, then end_room.
func (b *Builder) Settle(r *room.Room, signer address.Address, d room.Distribution, creates []bundle.Instruction) (Plan, error) {
	end, err := bundle.NewInstruction(r.Address, bundle.KindRoomEnd, bundle.EndRoom{Signer: signer}, signer)
	if err != nil {
		return Plan{}, err
	}
	return b.plan(r, d, creates, end)
}

// Recover plans the refund of every entry and deposited prize asset.
func (b *Builder) Recover(r *room.Room, signer address.Address, d room.Distribution, creates []bundle.Instruction) (Plan, error) {
	end, err := bundle.NewInstruction(r.Address, bundle.KindRoomRecover, bundle.RecoverRoom{Signer: signer}, signer)
	if err != nil {
		return Plan{}, err
	}
	return b.plan(r, d, creates, end)
}

func (b *Builder) plan(r *room.Room, d room.Distribution, creates []bundle.Instruction, terminal bundle.Instruction) (Plan, error) {
	payout, err := b.transfers(r, d)
	if err != nil {
		return Plan{}, err
	}
	payout = append(payout, terminal)
	if len(payout) > b.maxInstructions {
		return Plan{}, tooLarge(len(payout), b.maxInstructions)
	}
	if len(creates)+len(payout) <= b.maxInstructions {
		final := make([]bundle.Instruction, 0, len(creates)+len(payout))
		final = append(final, creates...)
		final = append(final, payout...)
		return Plan{Final: final}, nil
	}
	var plan Plan
	for start := 0; start < len(creates); start += b.maxInstructions {
		end := min(start+b.maxInstructions, len(creates))
		plan.Prerequisites = append(plan.Prerequisites, creates[start:end:end])
	}
	return plan, nil
}

// transfers emits one custody transfer per payout, in payout order.
func (b *Builder) transfers(r *room.Room, d room.Distribution) ([]bundle.Instruction, error) {
	out := make([]bundle.Instruction, 0, len(d.Payouts))
	for _, p := range d.Payouts {
		if p.Amount == 0 {
			continue
		}
		source, err := b.custody(r, p.Slot)
		if err != nil {
			return nil, err
		}
		to, _, err := b.deriver.Token(p.Recipient, p.Mint)
		if err != nil {
			return nil, err
		}
		ins, err := bundle.NewInstruction(source, bundle.KindTokenTransfer, bundle.Transfer{
			To:        to,
			Authority: r.Address,
			Amount:    p.Amount,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, nil
}

func (b *Builder) custody(r *room.Room, slot int) (address.Address, error) {
	if slot == room.VaultSlot {
		return r.Vault, nil
	}
	addr, _, err := b.deriver.PrizeVault(r.Address, uint8(slot))
	return addr, err
}
