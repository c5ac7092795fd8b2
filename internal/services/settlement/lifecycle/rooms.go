package lifecycle

import (
	"context"
	"fmt"
	"slices"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/accounts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// CreateRoomParams creates a room. Payer funds the storage reserves and
// defaults to the host. Params.Host is taken from the host signer.
type CreateRoomParams struct {
	Host   bundle.Signer
	Payer  bundle.Signer
	Params room.CreateParams
}

// CreateRoom allocates a room and its holding account. Pool rooms open
// Ready; asset rooms wait in AwaitingFunding for their deposits.
func (m *Manager) CreateRoom(ctx context.Context, p CreateRoomParams) (res *Result, err error) {
	if err := requireSigner(p.Host, "host"); err != nil {
		return nil, err
	}
	params := p.Params
	params.Host = p.Host.Address()
	payer := p.Host
	if p.Payer != nil {
		payer = p.Payer
	}

	ins, accts, err := m.builder.CreateRoom(payer.Address(), params)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "CreateRoom", accts.Room)
	defer func() { m.end(span, "CreateRoom", res, err) }()

	cfg, err := m.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	slot, err := m.ledger.CurrentSlot(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := room.NewRoom(params, room.Accounts{Room: accts.Room, Nonce: accts.Nonce, Vault: accts.Vault}, *cfg, slot, m.clock()); err != nil {
		return nil, err
	}
	existing, err := m.ledger.GetAccounts(ctx, []address.Address{accts.Room})
	if err != nil {
		return nil, err
	}
	if existing[0] != nil {
		return nil, apperrors.New(apperrors.CodeRoomAlreadyExists, fmt.Sprintf("room %q already exists for this host", params.RoomID))
	}

	probe := m.roomProbe(accts.Room, func(r *room.Room) bool {
		return r.Host == params.Host && r.RoomID == params.RoomID
	})
	out, err := m.execute(ctx, "create_room", accts.Room, payer.Address(), signerList(payer, p.Host), ins, probe)
	if err != nil {
		return nil, err
	}
	r, err := m.refetch(ctx, accts.Room, room.PhaseUnspecified)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": accts.Room, "vault": accts.Vault},
		Room:      r,
	}, nil
}

// UpdateRoomFeesParams changes a room's host and prize shares before any
// player joins.
type UpdateRoomFeesParams struct {
	Room              RoomRef
	Host              bundle.Signer
	HostBps           uint16
	PrizeBps          uint16
	PrizeDistribution []uint8
}

// UpdateRoomFees re-validates and replaces the fee structure. It fails with
// FEES_LOCKED once a player joined.
func (m *Manager) UpdateRoomFees(ctx context.Context, p UpdateRoomFeesParams) (res *Result, err error) {
	if err := requireSigner(p.Host, "host"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "UpdateRoomFees", roomAddr)
	defer func() { m.end(span, "UpdateRoomFees", res, err) }()

	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	if p.Host.Address() != r.Host {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "only the host can update fees")
	}
	cfg, err := m.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	want := r.Clone()
	if err := want.UpdateFees(p.HostBps, p.PrizeBps, p.PrizeDistribution, cfg.Policy); err != nil {
		return nil, err
	}

	ins, err := m.builder.UpdateRoomFees(r, r.Host, p.HostBps, p.PrizeBps, p.PrizeDistribution)
	if err != nil {
		return nil, err
	}
	probe := m.roomProbe(roomAddr, func(got *room.Room) bool {
		return got.Fees == want.Fees && slices.Equal(got.PrizeDistribution, want.PrizeDistribution)
	})
	out, err := m.execute(ctx, "update_room_fees", roomAddr, r.Host, signerList(p.Host), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, roomAddr, r.Phase)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": roomAddr},
		Room:      after,
	}, nil
}

// DepositPrizeParams funds one asset prize slot from the host's account for
// that asset.
type DepositPrizeParams struct {
	Room RoomRef
	Host bundle.Signer
	Slot int
}

// DepositPrizeAsset funds one slot. The room moves to Ready once every
// configured slot is deposited.
func (m *Manager) DepositPrizeAsset(ctx context.Context, p DepositPrizeParams) (res *Result, err error) {
	if err := requireSigner(p.Host, "host"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "DepositPrizeAsset", roomAddr)
	defer func() { m.end(span, "DepositPrizeAsset", res, err) }()

	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	depositor := p.Host.Address()
	want := r.Clone()
	if err := want.DepositPrize(depositor, p.Slot); err != nil {
		return nil, err
	}
	asset := r.PrizeAssets[p.Slot]
	source, err := m.resolver.Ensure(ctx, depositor, accounts.Request{Owner: depositor, Mint: asset.Mint})
	if err != nil {
		return nil, err
	}
	if source.Balance < asset.Amount {
		return nil, room.InsufficientFunds(asset.Amount, source.Balance)
	}

	ins, escrow, err := m.builder.DepositPrize(r, depositor, p.Slot)
	if err != nil {
		return nil, err
	}
	slot := p.Slot
	probe := m.roomProbe(roomAddr, func(got *room.Room) bool {
		return slot < len(got.PrizeAssets) && got.PrizeAssets[slot].Deposited
	})
	out, err := m.execute(ctx, "deposit_prize", roomAddr, depositor, signerList(p.Host), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, roomAddr, want.Phase)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": roomAddr, "prize_vault": escrow, "source": source.Address},
		Room:      after,
	}, nil
}

// RoomParams is a host or caller transition without extra inputs.
type RoomParams struct {
	Room   RoomRef
	Signer bundle.Signer
}

// CloseJoining stops further joins. Host only.
func (m *Manager) CloseJoining(ctx context.Context, p RoomParams) (res *Result, err error) {
	if err := requireSigner(p.Signer, "signer"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "CloseJoining", roomAddr)
	defer func() { m.end(span, "CloseJoining", res, err) }()

	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	if err := r.Clone().CloseJoining(p.Signer.Address()); err != nil {
		return nil, err
	}
	ins, err := m.builder.CloseJoining(r, p.Signer.Address())
	if err != nil {
		return nil, err
	}
	probe := m.roomProbe(roomAddr, func(got *room.Room) bool { return got.JoiningClosed })
	out, err := m.execute(ctx, "close_joining", roomAddr, p.Signer.Address(), signerList(p.Signer), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, roomAddr, room.PhaseActive)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": roomAddr},
		Room:      after,
	}, nil
}

// DeclareWinnersParams records the ordered winner list.
type DeclareWinnersParams struct {
	Room    RoomRef
	Host    bundle.Signer
	Winners []address.Address
}

// DeclareWinners records the winners. Declaring the identical list again
// succeeds without a submission; a different list fails with
// WINNERS_ALREADY_DECLARED.
func (m *Manager) DeclareWinners(ctx context.Context, p DeclareWinnersParams) (res *Result, err error) {
	if err := requireSigner(p.Host, "host"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "DeclareWinners", roomAddr)
	defer func() { m.end(span, "DeclareWinners", res, err) }()

	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	joined, err := m.joinedPlayers(ctx, roomAddr, p.Winners)
	if err != nil {
		return nil, err
	}
	noop, err := r.Clone().DeclareWinners(p.Host.Address(), p.Winners, func(player address.Address) (bool, error) {
		return joined[player], nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return &Result{
			Status:    StatusUnchanged,
			Addresses: map[string]address.Address{"room": roomAddr},
			Room:      r,
		}, nil
	}

	ins, err := m.builder.DeclareWinners(r, p.Host.Address(), p.Winners)
	if err != nil {
		return nil, err
	}
	winners := slices.Clone(p.Winners)
	probe := m.roomProbe(roomAddr, func(got *room.Room) bool {
		return got.Phase == room.PhaseWinnersDeclared && slices.Equal(got.Winners, winners)
	})
	out, err := m.execute(ctx, "declare_winners", roomAddr, p.Host.Address(), signerList(p.Host), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, roomAddr, room.PhaseWinnersDeclared)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": roomAddr},
		Room:      after,
	}, nil
}

// joinedPlayers reads the entry accounts of players in one batch.
func (m *Manager) joinedPlayers(ctx context.Context, roomAddr address.Address, players []address.Address) (map[address.Address]bool, error) {
	addrs := make([]address.Address, len(players))
	for i, player := range players {
		entry, _, err := m.deriver.Entry(roomAddr, player)
		if err != nil {
			return nil, err
		}
		addrs[i] = entry
	}
	accts, err := m.ledger.GetAccounts(ctx, addrs)
	if err != nil {
		return nil, err
	}
	out := make(map[address.Address]bool, len(players))
	for i, acct := range accts {
		out[players[i]] = acct != nil && acct.Kind == chain.KindEntry
	}
	return out, nil
}

// Cleanup closes the room's custody and entry accounts once settled and
// returns their storage reserves. The holding account must be empty.
func (m *Manager) Cleanup(ctx context.Context, p RoomParams) (res *Result, err error) {
	if err := requireSigner(p.Signer, "signer"); err != nil {
		return nil, err
	}
	roomAddr, err := p.Room.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "Cleanup", roomAddr)
	defer func() { m.end(span, "Cleanup", res, err) }()

	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	holding, err := m.holding(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := r.CheckCleanup(p.Signer.Address(), holding.Total, m.clock()); err != nil {
		return nil, err
	}
	ins, err := m.builder.Cleanup(r, p.Signer.Address())
	if err != nil {
		return nil, err
	}
	probe := m.roomProbe(roomAddr, func(got *room.Room) bool { return got.Phase == room.PhaseCleanedUp })
	out, err := m.execute(ctx, "cleanup", roomAddr, p.Signer.Address(), signerList(p.Signer), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, roomAddr, room.PhaseCleanedUp)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": roomAddr, "vault": r.Vault},
		Room:      after,
	}, nil
}
