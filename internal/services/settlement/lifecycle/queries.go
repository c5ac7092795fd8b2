package lifecycle

import (
	"context"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// Holding is what a room's custody accounts hold right now.
type Holding struct {
	Vault   uint64   `json:"vault"`
	Escrows []uint64 `json:"escrows,omitempty"`
	Total   uint64   `json:"total"`
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	Room    *room.Room `json:"room"`
	Holding Holding    `json:"holding"`
	Expired bool       `json:"expired"`
}

// GetRoomInfo reads a room and its custody balances.
func (m *Manager) GetRoomInfo(ctx context.Context, ref RoomRef) (RoomInfo, error) {
	_, r, err := m.fetchRef(ctx, ref)
	if err != nil {
		return RoomInfo{}, err
	}
	holding, err := m.holding(ctx, r)
	if err != nil {
		return RoomInfo{}, err
	}
	return RoomInfo{Room: r, Holding: holding, Expired: r.Expired(m.clock())}, nil
}

// GetPlayerEntry reads one player's entry in a room.
func (m *Manager) GetPlayerEntry(ctx context.Context, ref RoomRef, player address.Address) (*room.PlayerEntry, error) {
	roomAddr, err := ref.Address(m.deriver)
	if err != nil {
		return nil, err
	}
	entryAddr, _, err := m.deriver.Entry(roomAddr, player)
	if err != nil {
		return nil, err
	}
	acct, err := m.ledger.GetAccount(ctx, entryAddr)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeAccountNotFound) {
			return nil, apperrors.WithMetadata(apperrors.CodeEntryNotFound, "player has not joined the room",
				map[string]string{"Player": player.String(), "Room": roomAddr.String()})
		}
		return nil, err
	}
	return acct.Entry()
}

// holding sums the vault and every prize escrow. Accounts that were never
// created or are already closed count as empty.
func (m *Manager) holding(ctx context.Context, r *room.Room) (Holding, error) {
	addrs := []address.Address{r.Vault}
	for i := range r.PrizeAssets {
		escrow, _, err := m.deriver.PrizeVault(r.Address, uint8(i))
		if err != nil {
			return Holding{}, err
		}
		addrs = append(addrs, escrow)
	}
	accts, err := m.ledger.GetAccounts(ctx, addrs)
	if err != nil {
		return Holding{}, err
	}
	var h Holding
	for i, acct := range accts {
		var amount uint64
		if acct != nil {
			amount = acct.Amount
		}
		if i == 0 {
			h.Vault = amount
		} else {
			h.Escrows = append(h.Escrows, amount)
		}
		h.Total += amount
	}
	return h, nil
}
