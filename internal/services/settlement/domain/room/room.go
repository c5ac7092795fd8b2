package room

import (
	"slices"
	"time"

	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
)

// Mode decides where prizes come from.
type Mode string

const (
	// ModePool pays prizes from a share of collected fees.
	ModePool Mode = "pool"
	// ModeAsset pays prizes from assets the host deposits before opening.
	ModeAsset Mode = "asset"
)

const (
	// MaxPrizeSlots bounds the asset prizes of one room.
	MaxPrizeSlots = 3
	// MaxWinners bounds the winner list.
	MaxWinners = fee.MaxPrizePlaces
	// MaxPlayersLimit bounds the capacity of one room.
	MaxPlayersLimit = 100_000
)

// PrizeAsset is one asset-mode prize slot.
type PrizeAsset struct {
	Mint      address.Address `json:"mint"`
	Amount    uint64          `json:"amount"`
	Deposited bool            `json:"deposited"`
}

// Room is the on-ledger record of one fundraising event.
type Room struct {
	Address           address.Address   `json:"address"`
	Nonce             uint8             `json:"nonce"`
	RoomID            string            `json:"room_id"`
	Host              address.Address   `json:"host"`
	Mode              Mode              `json:"mode"`
	Mint              address.Address   `json:"mint"`
	Decimals          uint8             `json:"decimals"`
	Fees              fee.Structure     `json:"fees"`
	PrizeDistribution []uint8           `json:"prize_distribution,omitempty"`
	PrizeAssets       []PrizeAsset      `json:"prize_assets,omitempty"`
	EntryFee          uint64            `json:"entry_fee"`
	MaxPlayers        uint32            `json:"max_players"`
	PlayerCount       uint32            `json:"player_count"`
	TotalCollected    uint64            `json:"total_collected"`
	TotalExtras       uint64            `json:"total_extras"`
	ExtrasRouting     fee.ExtrasRouting `json:"extras_routing"`
	Phase             Phase             `json:"phase"`
	JoiningClosed     bool              `json:"joining_closed"`
	Winners           []address.Address `json:"winners,omitempty"`
	Recovered         bool              `json:"recovered,omitempty"`
	Vault             address.Address   `json:"vault"`
	PlatformWallet    address.Address   `json:"platform_wallet"`
	CharityWallet     address.Address   `json:"charity_wallet"`
	CreatedSlot       uint64            `json:"created_slot"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// WinnerCount is the number of winners the room pays.
func (r *Room) WinnerCount() int {
	if r.Mode == ModeAsset {
		return len(r.PrizeAssets)
	}
	return len(r.PrizeDistribution)
}

// Expired reports whether the recovery deadline has passed.
func (r *Room) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AllDeposited reports whether every asset slot is funded.
func (r *Room) AllDeposited() bool {
	for _, asset := range r.PrizeAssets {
		if !asset.Deposited {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so rules can be applied without aliasing the
// caller's snapshot.
func (r *Room) Clone() *Room {
	out := *r
	out.PrizeDistribution = slices.Clone(r.PrizeDistribution)
	out.PrizeAssets = slices.Clone(r.PrizeAssets)
	out.Winners = slices.Clone(r.Winners)
	return &out
}

// PlayerEntry is created exactly once per (room, player) at join time.
type PlayerEntry struct {
	Address    address.Address `json:"address"`
	Room       address.Address `json:"room"`
	Player     address.Address `json:"player"`
	EntryPaid  uint64          `json:"entry_paid"`
	ExtrasPaid uint64          `json:"extras_paid"`
	JoinSeq    uint32          `json:"join_seq"`
	JoinedAt   time.Time       `json:"joined_at"`
}

// Paid is the total moved into the vault by this entry.
func (e PlayerEntry) Paid() uint64 {
	return e.EntryPaid + e.ExtrasPaid
}

// GlobalConfig is the process-wide platform singleton.
type GlobalConfig struct {
	Address        address.Address `json:"address"`
	Admin          address.Address `json:"admin"`
	PlatformWallet address.Address `json:"platform_wallet"`
	CharityWallet  address.Address `json:"charity_wallet"`
	Policy         fee.Policy      `json:"policy"`
	Paused         bool            `json:"paused"`
}
