package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// Kind names an operation the ledger program executes.
type Kind string

const (
	KindTokenCreateIdempotent Kind = "token.create_idempotent"
	KindTokenTransfer         Kind = "token.transfer"
	KindConfigInitialize      Kind = "config.initialize"
	KindConfigUpdate          Kind = "config.update"
	KindRoomCreate            Kind = "room.create"
	KindRoomUpdateFees        Kind = "room.update_fees"
	KindRoomDepositPrize      Kind = "room.deposit_prize"
	KindRoomJoin              Kind = "room.join"
	KindRoomCloseJoining      Kind = "room.close_joining"
	KindRoomDeclareWinners    Kind = "room.declare_winners"
	KindRoomEnd               Kind = "room.end"
	KindRoomRecover           Kind = "room.recover"
	KindRoomCleanup           Kind = "room.cleanup"
)

// Terminal reports whether the kind releases funds from a room's custody
// accounts.
func (k Kind) Terminal() bool {
	return k == KindRoomEnd || k == KindRoomRecover
}

// CreateTokenAccount creates the associated currency account of Owner for
// Mint at the target, or does nothing if it already exists.
type CreateTokenAccount struct {
	Payer address.Address `json:"payer"`
	Owner address.Address `json:"owner"`
	Mint  address.Address `json:"mint"`
}

// Transfer moves Amount from the target account to To. Authority is the
// wallet owning the source, or the room for custody accounts.
type Transfer struct {
	To        address.Address `json:"to"`
	Authority address.Address `json:"authority"`
	Amount    uint64          `json:"amount"`
}

// InitializeConfig creates the global configuration singleton.
type InitializeConfig struct {
	Admin          address.Address `json:"admin"`
	PlatformWallet address.Address `json:"platform_wallet"`
	CharityWallet  address.Address `json:"charity_wallet"`
	Policy         fee.Policy      `json:"policy"`
}

// UpdateConfig is the administrative configuration update.
type UpdateConfig struct {
	Admin  address.Address   `json:"admin"`
	Update room.ConfigUpdate `json:"update"`
}

// CreateRoom creates a room and its holding account.
type CreateRoom struct {
	Payer  address.Address   `json:"payer"`
	Params room.CreateParams `json:"params"`
}

// UpdateRoomFees re-validates the fee structure before any join.
type UpdateRoomFees struct {
	Signer            address.Address `json:"signer"`
	HostBps           uint16          `json:"host_bps"`
	PrizeBps          uint16          `json:"prize_bps"`
	PrizeDistribution []uint8         `json:"prize_distribution,omitempty"`
}

// DepositPrize funds one asset slot from the host's currency account.
type DepositPrize struct {
	Slot   uint8           `json:"slot"`
	Source address.Address `json:"source"`
}

// JoinRoom creates the player's entry and moves entry fee plus extras from
// Source into the room's holding account.
type JoinRoom struct {
	Player address.Address `json:"player"`
	Source address.Address `json:"source"`
	Extras uint64          `json:"extras"`
}

// CloseJoining stops further joins.
type CloseJoining struct {
	Signer address.Address `json:"signer"`
}

// DeclareWinners records the ordered winner list.
type DeclareWinners struct {
	Signer  address.Address   `json:"signer"`
	Winners []address.Address `json:"winners"`
}

// EndRoom finalizes settlement; the program checks the bundle's custody
// outflows against the room's distribution.
type EndRoom struct {
	Signer address.Address `json:"signer"`
}

// RecoverRoom finalizes a refund of every entry.
type RecoverRoom struct {
	Signer address.Address `json:"signer"`
}

// CleanupRoom closes the room's custody and entry accounts and returns
// their storage reserves to the host.
type CleanupRoom struct {
	Signer address.Address `json:"signer"`
}

// NewInstruction encodes a typed payload.
func NewInstruction(target address.Address, kind Kind, payload any, signers ...address.Address) (Instruction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Instruction{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Instruction{Target: target, Kind: kind, Signers: signers, Payload: raw}, nil
}

// Decode unmarshals the payload into v, which must match the kind.
func (i Instruction) Decode(v any) error {
	if err := json.Unmarshal(i.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", i.Kind, err)
	}
	return nil
}
