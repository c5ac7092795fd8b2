package program

import (
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

func (x *execution) createTokenAccount(target address.Address, p bundle.CreateTokenAccount) error {
	derived, _, err := x.deriver.Token(p.Owner, p.Mint)
	if err != nil {
		return err
	}
	if err := expectDerived(target, derived, "token account"); err != nil {
		return err
	}
	existing, err := x.account(target)
	if err != nil {
		return err
	}
	if existing != nil {
		return checkTokenAccount(existing, p.Owner, p.Mint)
	}
	if err := x.requireSigner(p.Payer); err != nil {
		return err
	}
	return x.create(p.Payer, &chain.Account{
		Address: target,
		Kind:    chain.KindToken,
		Owner:   p.Owner,
		Mint:    p.Mint,
	})
}

// checkTokenAccount verifies an existing account can stand in for the
// associated account of owner for mint.
func checkTokenAccount(acct *chain.Account, owner, mint address.Address) error {
	if acct.Kind == chain.KindToken && acct.Owner == owner && acct.Mint == mint {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
		fmt.Sprintf("account %s is not the %s account of %s", acct.Address, mint, owner),
		map[string]string{"Account": acct.Address.String()})
}

func (x *execution) tokenAccount(addr address.Address) (*chain.Account, error) {
	acct, err := x.account(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, chain.NotFound(addr)
	}
	if acct.Kind != chain.KindToken {
		return nil, apperrors.WithMetadata(apperrors.CodeAccountMismatch,
			fmt.Sprintf("account %s is not a token account", addr),
			map[string]string{"Account": addr.String()})
	}
	return acct, nil
}

// custodian returns the room owning acct, or nil for wallet-owned accounts.
func (x *execution) custodian(acct *chain.Account) (*room.Room, error) {
	owner, err := x.account(acct.Owner)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Kind != chain.KindRoom {
		return nil, nil
	}
	return owner.Room()
}

// move debits from and credits to without any authorization checks.
func move(from, to *chain.Account, amount uint64) error {
	if from.Mint != to.Mint {
		return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
			fmt.Sprintf("cannot move %s into a %s account", from.Mint, to.Mint),
			map[string]string{"Account": to.Address.String()})
	}
	if from.Amount < amount {
		return room.InsufficientFunds(amount, from.Amount)
	}
	if to.Amount+amount < to.Amount {
		return apperrors.New(apperrors.CodeInvalidArgument, "transfer overflows the destination balance")
	}
	from.Amount -= amount
	to.Amount += amount
	return nil
}

func (x *execution) transfer(source address.Address, p bundle.Transfer) error {
	if p.Amount == 0 {
		return apperrors.Field(apperrors.CodeInvalidArgument, "amount", "transfer amount must be positive")
	}
	if source == p.To {
		return apperrors.Field(apperrors.CodeInvalidArgument, "to", "transfer source and destination are the same")
	}
	from, err := x.tokenAccount(source)
	if err != nil {
		return err
	}
	to, err := x.tokenAccount(p.To)
	if err != nil {
		return err
	}
	if p.Authority != from.Owner {
		return apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("%s does not own %s", p.Authority, source))
	}
	if into, err := x.custodian(to); err != nil {
		return err
	} else if into != nil {
		return apperrors.New(apperrors.CodeUnauthorized, "custody accounts are only funded by joins and deposits")
	}

	custody, err := x.custodian(from)
	if err != nil {
		return err
	}
	if custody == nil {
		if err := x.requireSigner(p.Authority); err != nil {
			return err
		}
	} else {
		if x.closed[custody.Address] {
			return apperrors.New(apperrors.CodeUnauthorized, "custody transfer after the room was finalized")
		}
		slot, err := x.custodySlot(custody, source)
		if err != nil {
			return err
		}
		x.outflows[custody.Address] = append(x.outflows[custody.Address], room.Payout{
			Recipient: to.Owner,
			Mint:      from.Mint,
			Amount:    p.Amount,
			Slot:      slot,
		})
	}

	if err := move(from, to, p.Amount); err != nil {
		return err
	}
	if err := x.put(from); err != nil {
		return err
	}
	return x.put(to)
}

// custodySlot maps a custody account to the payout slot it funds.
func (x *execution) custodySlot(r *room.Room, source address.Address) (int, error) {
	if source == r.Vault {
		return room.VaultSlot, nil
	}
	for i := range r.PrizeAssets {
		escrow, _, err := x.deriver.PrizeVault(r.Address, uint8(i))
		if err != nil {
			return 0, err
		}
		if escrow == source {
			return i, nil
		}
	}
	return 0, apperrors.WithMetadata(apperrors.CodeAccountMismatch,
		fmt.Sprintf("account %s is not a custody account of room %s", source, r.Address),
		map[string]string{"Account": source.String()})
}
