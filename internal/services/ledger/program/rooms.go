package program

import (
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

func (x *execution) loadRoom(addr address.Address) (*chain.Account, *room.Room, error) {
	acct, err := x.account(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, apperrors.WithMetadata(apperrors.CodeRoomNotFound,
			fmt.Sprintf("room %s not found", addr),
			map[string]string{"Account": addr.String()})
	}
	r, err := acct.Room()
	if err != nil {
		return nil, nil, err
	}
	return acct, r, nil
}

func (x *execution) saveRoom(acct *chain.Account, r *room.Room) error {
	data, err := encodeData(r)
	if err != nil {
		return err
	}
	acct.Data = data
	return x.put(acct)
}

func advance(r *room.Room, to room.Phase) error {
	if !room.IsPhaseTransitionAllowed(r.Phase, to) {
		return room.UnexpectedPhase(r.Phase, to)
	}
	r.Phase = to
	return nil
}

func (x *execution) createRoom(target address.Address, p bundle.CreateRoom) error {
	if err := x.requireSigner(p.Payer); err != nil {
		return err
	}
	if err := x.requireSigner(p.Params.Host); err != nil {
		return err
	}
	_, cfg, err := x.loadConfig()
	if err != nil {
		return err
	}
	roomAddr, nonce, err := x.deriver.Room(p.Params.Host, p.Params.RoomID)
	if err != nil {
		return err
	}
	if err := expectDerived(target, roomAddr, "room"); err != nil {
		return err
	}
	existing, err := x.account(roomAddr)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.New(apperrors.CodeRoomAlreadyExists, fmt.Sprintf("room %q already exists for this host", p.Params.RoomID))
	}
	vault, _, err := x.deriver.Vault(roomAddr)
	if err != nil {
		return err
	}
	r, err := room.NewRoom(p.Params, room.Accounts{Room: roomAddr, Nonce: nonce, Vault: vault}, *cfg, x.env.Slot, x.env.Now)
	if err != nil {
		return err
	}
	data, err := encodeData(r)
	if err != nil {
		return err
	}
	if err := x.create(p.Payer, &chain.Account{Address: roomAddr, Kind: chain.KindRoom, Owner: r.Host, Data: data}); err != nil {
		return err
	}
	return x.create(p.Payer, &chain.Account{Address: vault, Kind: chain.KindToken, Owner: roomAddr, Mint: r.Mint})
}

func (x *execution) updateRoomFees(target address.Address, p bundle.UpdateRoomFees) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	if p.Signer != r.Host {
		return apperrors.New(apperrors.CodeUnauthorized, "only the host can update fees")
	}
	_, cfg, err := x.loadConfig()
	if err != nil {
		return err
	}
	if err := r.UpdateFees(p.HostBps, p.PrizeBps, p.PrizeDistribution, cfg.Policy); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

func (x *execution) depositPrize(target address.Address, p bundle.DepositPrize) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	src, err := x.tokenAccount(p.Source)
	if err != nil {
		return err
	}
	if err := x.requireSigner(src.Owner); err != nil {
		return err
	}
	slot := int(p.Slot)
	if err := r.DepositPrize(src.Owner, slot); err != nil {
		return err
	}
	asset := r.PrizeAssets[slot]
	escrowAddr, _, err := x.deriver.PrizeVault(r.Address, p.Slot)
	if err != nil {
		return err
	}
	escrow, err := x.account(escrowAddr)
	if err != nil {
		return err
	}
	if escrow == nil {
		escrow = &chain.Account{Address: escrowAddr, Kind: chain.KindToken, Owner: r.Address, Mint: asset.Mint}
		if escrow.Reserve, err = x.charge(src.Owner); err != nil {
			return err
		}
	} else if err := checkTokenAccount(escrow, r.Address, asset.Mint); err != nil {
		return err
	}
	if err := move(src, escrow, asset.Amount); err != nil {
		return err
	}
	if err := x.put(src); err != nil {
		return err
	}
	if err := x.put(escrow); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

func (x *execution) joinRoom(target address.Address, p bundle.JoinRoom) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Player); err != nil {
		return err
	}
	entryAddr, _, err := x.deriver.Entry(r.Address, p.Player)
	if err != nil {
		return err
	}
	existing, err := x.account(entryAddr)
	if err != nil {
		return err
	}
	src, err := x.tokenAccount(p.Source)
	if err != nil {
		return err
	}
	if err := checkTokenAccount(src, p.Player, r.Mint); err != nil {
		return err
	}
	entry, err := r.Join(room.JoinCheck{
		Player:        p.Player,
		Extras:        p.Extras,
		AlreadyJoined: existing != nil,
		Available:     src.Amount,
		Now:           x.env.Now,
	}, entryAddr)
	if err != nil {
		return err
	}
	vault, err := x.tokenAccount(r.Vault)
	if err != nil {
		return err
	}
	if err := move(src, vault, entry.Paid()); err != nil {
		return err
	}
	data, err := encodeData(entry)
	if err != nil {
		return err
	}
	if err := x.create(p.Player, &chain.Account{Address: entryAddr, Kind: chain.KindEntry, Owner: r.Address, Data: data}); err != nil {
		return err
	}
	if err := x.put(src); err != nil {
		return err
	}
	if err := x.put(vault); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

func (x *execution) closeJoining(target address.Address, p bundle.CloseJoining) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	if err := r.CloseJoining(p.Signer); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

func (x *execution) declareWinners(target address.Address, p bundle.DeclareWinners) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	joined := func(player address.Address) (bool, error) {
		entryAddr, _, err := x.deriver.Entry(r.Address, player)
		if err != nil {
			return false, err
		}
		entry, err := x.account(entryAddr)
		if err != nil {
			return false, err
		}
		return entry != nil && entry.Kind == chain.KindEntry, nil
	}
	noop, err := r.DeclareWinners(p.Signer, p.Winners, joined)
	if err != nil {
		return err
	}
	if noop {
		x.logf("winners already declared for room %s", r.Address)
		return nil
	}
	return x.saveRoom(acct, r)
}

func (x *execution) endRoom(target address.Address, p bundle.EndRoom) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	if err := r.CheckSettle(p.Signer, x.env.Now); err != nil {
		return err
	}
	d, err := r.Distribution()
	if err != nil {
		return err
	}
	if err := x.finalize(r, d); err != nil {
		return err
	}
	if err := advance(r, room.PhaseEnded); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

func (x *execution) recoverRoom(target address.Address, p bundle.RecoverRoom) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	if err := r.CheckRecover(p.Signer, x.env.Now); err != nil {
		return err
	}
	entries, err := x.entries(r.Address)
	if err != nil {
		return err
	}
	d, err := r.Refunds(entries)
	if err != nil {
		return err
	}
	if err := x.finalize(r, d); err != nil {
		return err
	}
	if err := advance(r, room.PhaseEnded); err != nil {
		return err
	}
	r.Recovered = true
	return x.saveRoom(acct, r)
}

func (x *execution) cleanupRoom(target address.Address, p bundle.CleanupRoom) error {
	acct, r, err := x.loadRoom(target)
	if err != nil {
		return err
	}
	if err := x.requireSigner(p.Signer); err != nil {
		return err
	}
	custody, holding, err := x.custodyAccounts(r)
	if err != nil {
		return err
	}
	if err := r.CheckCleanup(p.Signer, holding, x.env.Now); err != nil {
		return err
	}
	for _, c := range custody {
		if err := x.closeAccount(c, r.Host); err != nil {
			return err
		}
	}
	entryAccounts, err := x.st.AccountsByOwner(x.ctx, r.Address, chain.KindEntry)
	if err != nil {
		return err
	}
	for _, ea := range entryAccounts {
		entry, err := ea.Entry()
		if err != nil {
			return err
		}
		if err := x.closeAccount(ea, entry.Player); err != nil {
			return err
		}
	}
	if err := advance(r, room.PhaseCleanedUp); err != nil {
		return err
	}
	return x.saveRoom(acct, r)
}

// finalize checks the custody outflows recorded for the room against the
// recomputed distribution and marks the room's custody closed for the rest
// of the bundle.
func (x *execution) finalize(r *room.Room, d room.Distribution) error {
	got := x.outflows[r.Address]
	if len(got) != len(d.Payouts) {
		return apperrors.WithMetadata(apperrors.CodeDistributionMismatch,
			fmt.Sprintf("bundle pays %d legs, room %s owes %d", len(got), r.Address, len(d.Payouts)),
			map[string]string{"Count": fmt.Sprint(len(got)), "Expected": fmt.Sprint(len(d.Payouts))})
	}
	for i, want := range d.Payouts {
		have := got[i]
		if have.Recipient != want.Recipient || have.Mint != want.Mint || have.Amount != want.Amount || have.Slot != want.Slot {
			return apperrors.WithMetadata(apperrors.CodeDistributionMismatch,
				fmt.Sprintf("leg %d pays %d to %s, owed %d to %s", i, have.Amount, have.Recipient, want.Amount, want.Recipient),
				map[string]string{"Expected": fmt.Sprint(want.Amount), "Sum": fmt.Sprint(have.Amount)})
		}
	}
	x.closed[r.Address] = true

	_, holding, err := x.custodyAccounts(r)
	if err != nil {
		return err
	}
	if holding != 0 {
		return apperrors.WithMetadata(apperrors.CodeDistributionMismatch,
			fmt.Sprintf("room %s custody still holds %d after finalization", r.Address, holding),
			map[string]string{"Balance": fmt.Sprint(holding)})
	}
	return nil
}

// custodyAccounts returns the room's vault and prize escrows with their
// combined balance.
func (x *execution) custodyAccounts(r *room.Room) ([]*chain.Account, uint64, error) {
	var out []*chain.Account
	var holding uint64
	addrs := []address.Address{r.Vault}
	for i := range r.PrizeAssets {
		escrow, _, err := x.deriver.PrizeVault(r.Address, uint8(i))
		if err != nil {
			return nil, 0, err
		}
		addrs = append(addrs, escrow)
	}
	for _, addr := range addrs {
		acct, err := x.account(addr)
		if err != nil {
			return nil, 0, err
		}
		if acct == nil {
			continue
		}
		out = append(out, acct)
		holding += acct.Amount
	}
	return out, holding, nil
}

// entries returns the room's player entries in join order.
func (x *execution) entries(roomAddr address.Address) ([]room.PlayerEntry, error) {
	accts, err := x.st.AccountsByOwner(x.ctx, roomAddr, chain.KindEntry)
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
	sort.Slice(out, func(i, j int) bool { return out[i].JoinSeq < out[j].JoinSeq })
	return out, nil
}
