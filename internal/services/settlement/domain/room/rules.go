package room

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
)

// PrizeAssetSpec configures one asset prize slot at creation.
type PrizeAssetSpec struct {
	Mint   address.Address `json:"mint"`
	Amount uint64          `json:"amount"`
}

// CreateParams are the host's inputs to room creation.
type CreateParams struct {
	RoomID            string            `json:"room_id"`
	Host              address.Address   `json:"host"`
	Mode              Mode              `json:"mode"`
	Mint              address.Address   `json:"mint"`
	Decimals          uint8             `json:"decimals"`
	HostBps           uint16            `json:"host_bps"`
	PrizeBps          uint16            `json:"prize_bps"`
	PrizeDistribution []uint8           `json:"prize_distribution,omitempty"`
	PrizeAssets       []PrizeAssetSpec  `json:"prize_assets,omitempty"`
	EntryFee          uint64            `json:"entry_fee"`
	MaxPlayers        uint32            `json:"max_players"`
	ExtrasRouting     fee.ExtrasRouting `json:"extras_routing,omitempty"`
	CharityWallet     address.Address   `json:"charity_wallet,omitempty"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// Accounts are the derived addresses a new room occupies.
type Accounts struct {
	Room  address.Address
	Nonce uint8
	Vault address.Address
}

// NewRoom validates creation parameters against the global configuration
// and returns the initial room record.
func NewRoom(p CreateParams, accounts Accounts, cfg GlobalConfig, slot uint64, now time.Time) (*Room, error) {
	if err := address.ValidateRoomID(p.RoomID); err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, apperrors.New(apperrors.CodePlatformPaused, "platform is paused")
	}
	if p.Host.IsZero() {
		return nil, invalidConfig("host", "host is required")
	}
	if p.Mint.IsZero() {
		return nil, invalidConfig("mint", "settlement currency is required")
	}
	if p.EntryFee == 0 {
		return nil, invalidConfig("entry_fee", "entry fee must be positive")
	}
	if p.MaxPlayers == 0 || p.MaxPlayers > MaxPlayersLimit {
		return nil, invalidConfig("max_players", fmt.Sprintf("max players must be 1..%d", MaxPlayersLimit))
	}
	if uint64(p.MaxPlayers) > math.MaxUint64/p.EntryFee {
		return nil, invalidConfig("entry_fee", "entry fee times capacity overflows")
	}
	if !p.ExpiresAt.After(now) {
		return nil, invalidConfig("expires_at", "expiration must be in the future")
	}
	routing, err := fee.ParseExtrasRouting(string(p.ExtrasRouting))
	if err != nil {
		return nil, err
	}
	structure, err := fee.Validate(p.HostBps, p.PrizeBps, cfg.Policy)
	if err != nil {
		return nil, err
	}

	r := &Room{
		Address:        accounts.Room,
		Nonce:          accounts.Nonce,
		RoomID:         p.RoomID,
		Host:           p.Host,
		Mode:           p.Mode,
		Mint:           p.Mint,
		Decimals:       p.Decimals,
		Fees:           structure,
		EntryFee:       p.EntryFee,
		MaxPlayers:     p.MaxPlayers,
		ExtrasRouting:  routing,
		Vault:          accounts.Vault,
		PlatformWallet: cfg.PlatformWallet,
		CharityWallet:  cfg.CharityWallet,
		CreatedSlot:    slot,
		ExpiresAt:      p.ExpiresAt.UTC(),
	}
	if !p.CharityWallet.IsZero() {
		r.CharityWallet = p.CharityWallet
	}
	if r.CharityWallet == p.Host {
		return nil, invalidConfig("charity_wallet", "charity wallet cannot be the host")
	}

	switch p.Mode {
	case ModePool:
		if len(p.PrizeAssets) > 0 {
			return nil, invalidConfig("prize_assets", "pool rooms do not take prize assets")
		}
		distribution := p.PrizeDistribution
		if len(distribution) == 0 {
			distribution = []uint8{100}
		}
		if err := fee.ValidatePercentages(distribution); err != nil {
			return nil, err
		}
		r.PrizeDistribution = slices.Clone(distribution)
		r.Phase = PhaseReady
	case ModeAsset:
		if structure.PrizeBps != 0 {
			return nil, invalidConfig("prize_bps", "asset rooms cannot also take a prize share")
		}
		if len(p.PrizeDistribution) > 0 {
			return nil, invalidConfig("prize_distribution", "asset rooms pay one asset per winner")
		}
		if len(p.PrizeAssets) == 0 || len(p.PrizeAssets) > MaxPrizeSlots {
			return nil, invalidConfig("prize_assets", fmt.Sprintf("asset rooms need 1..%d prize slots", MaxPrizeSlots))
		}
		for i, spec := range p.PrizeAssets {
			if spec.Mint.IsZero() || spec.Amount == 0 {
				return nil, invalidConfig("prize_assets", fmt.Sprintf("prize slot %d needs a mint and a positive amount", i))
			}
			r.PrizeAssets = append(r.PrizeAssets, PrizeAsset{Mint: spec.Mint, Amount: spec.Amount})
		}
		r.Phase = PhaseAwaitingFunding
	default:
		return nil, invalidConfig("mode", fmt.Sprintf("unknown room mode %q", p.Mode))
	}
	return r, nil
}

// UpdateFees re-validates a new host/prize share before any player joins.
func (r *Room) UpdateFees(hostBps, prizeBps uint16, distribution []uint8, policy fee.Policy) error {
	if r.PlayerCount != 0 {
		return apperrors.New(apperrors.CodeFeesLocked, "fees are locked once players join")
	}
	if err := ValidateOperation(r.Phase, OpUpdateFees); err != nil {
		return err
	}
	structure, err := fee.Validate(hostBps, prizeBps, policy)
	if err != nil {
		return err
	}
	if r.Mode == ModeAsset {
		if structure.PrizeBps != 0 {
			return invalidConfig("prize_bps", "asset rooms cannot also take a prize share")
		}
		r.Fees = structure
		return nil
	}
	if len(distribution) > 0 {
		if err := fee.ValidatePercentages(distribution); err != nil {
			return err
		}
		r.PrizeDistribution = slices.Clone(distribution)
	}
	r.Fees = structure
	return nil
}

// DepositPrize marks an asset slot funded and opens the room once all are.
func (r *Room) DepositPrize(signer address.Address, slot int) error {
	if signer != r.Host {
		return unauthorized("only the host can deposit prizes")
	}
	if r.Mode != ModeAsset {
		return invalidConfig("mode", "pool rooms have no prize slots")
	}
	if slot < 0 || slot >= len(r.PrizeAssets) {
		return invalidConfig("slot", fmt.Sprintf("prize slot %d out of range", slot))
	}
	if r.PrizeAssets[slot].Deposited {
		return apperrors.WithMetadata(apperrors.CodeDuplicateDeposit,
			fmt.Sprintf("prize slot %d already deposited", slot),
			map[string]string{"Slot": strconv.Itoa(slot)})
	}
	if err := ValidateOperation(r.Phase, OpDepositPrize); err != nil {
		return err
	}
	r.PrizeAssets[slot].Deposited = true
	if r.AllDeposited() {
		r.Phase = PhaseReady
	}
	return nil
}

// JoinCheck carries the authoritative facts a join is decided on.
type JoinCheck struct {
	Player        address.Address
	Extras        uint64
	AlreadyJoined bool
	Available     uint64
	Now           time.Time
}

// Join validates a join and applies it, returning the new entry.
func (r *Room) Join(c JoinCheck, entryAddr address.Address) (PlayerEntry, error) {
	if err := ValidateOperation(r.Phase, OpJoin); err != nil {
		return PlayerEntry{}, err
	}
	if c.AlreadyJoined {
		return PlayerEntry{}, apperrors.New(apperrors.CodeAlreadyJoined, "player already joined")
	}
	if r.JoiningClosed || r.Expired(c.Now) {
		return PlayerEntry{}, apperrors.New(apperrors.CodeJoiningClosed, "joining is closed")
	}
	if r.PlayerCount >= r.MaxPlayers {
		return PlayerEntry{}, apperrors.WithMetadata(apperrors.CodeRoomFull, "room is full",
			map[string]string{"MaxPlayers": strconv.FormatUint(uint64(r.MaxPlayers), 10)})
	}
	required := r.EntryFee + c.Extras
	if required < r.EntryFee || r.TotalCollected+required < r.TotalCollected {
		return PlayerEntry{}, invalidConfig("extras", "extras overflow the collected total")
	}
	if c.Available < required {
		return PlayerEntry{}, InsufficientFunds(required, c.Available)
	}

	r.PlayerCount++
	r.TotalCollected += required
	r.TotalExtras += c.Extras
	r.Phase = PhaseActive
	return PlayerEntry{
		Address:    entryAddr,
		Room:       r.Address,
		Player:     c.Player,
		EntryPaid:  r.EntryFee,
		ExtrasPaid: c.Extras,
		JoinSeq:    r.PlayerCount,
		JoinedAt:   c.Now.UTC(),
	}, nil
}

// CloseJoining stops further joins without changing the phase.
func (r *Room) CloseJoining(signer address.Address) error {
	if signer != r.Host {
		return unauthorized("only the host can close joining")
	}
	if err := ValidateOperation(r.Phase, OpCloseJoining); err != nil {
		return err
	}
	r.JoiningClosed = true
	return nil
}

// DeclareWinners records the winner list. It reports noop when the same list
// is declared again; a different list fails.
func (r *Room) DeclareWinners(signer address.Address, winners []address.Address, joined func(address.Address) (bool, error)) (noop bool, err error) {
	if signer != r.Host {
		return false, unauthorized("only the host can declare winners")
	}
	if r.Phase.AtLeast(PhaseWinnersDeclared) && len(r.Winners) > 0 {
		if slices.Equal(r.Winners, winners) {
			return true, nil
		}
		return false, apperrors.New(apperrors.CodeWinnersAlreadyDeclared, "a different winner list was already declared")
	}
	if err := ValidateOperation(r.Phase, OpDeclareWinners); err != nil {
		return false, err
	}
	if err := r.checkWinnerList(winners); err != nil {
		return false, err
	}
	for _, winner := range winners {
		ok, err := joined(winner)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, apperrors.WithMetadata(apperrors.CodeWinnerNeverJoined,
				fmt.Sprintf("winner %s never joined", winner),
				map[string]string{"Winner": winner.String()})
		}
	}
	r.Winners = slices.Clone(winners)
	r.Phase = PhaseWinnersDeclared
	return false, nil
}

func (r *Room) checkWinnerList(winners []address.Address) error {
	count := len(winners)
	if count < 1 || count > MaxWinners || count != r.WinnerCount() {
		return apperrors.WithMetadata(apperrors.CodeInvalidWinnerCount,
			fmt.Sprintf("got %d winners, room pays %d", count, r.WinnerCount()),
			map[string]string{"Count": strconv.Itoa(count), "Expected": strconv.Itoa(r.WinnerCount())})
	}
	seen := make(map[address.Address]struct{}, count)
	for _, winner := range winners {
		if winner == r.Host {
			return apperrors.New(apperrors.CodeHostCannotWin, "host cannot be a winner")
		}
		if _, dup := seen[winner]; dup {
			return apperrors.WithMetadata(apperrors.CodeDuplicateWinner,
				fmt.Sprintf("winner %s listed twice", winner),
				map[string]string{"Winner": winner.String()})
		}
		seen[winner] = struct{}{}
	}
	return nil
}

// CheckSettle validates the terminal payout. The host may settle at any time
// once winners are declared; anyone may after expiry.
func (r *Room) CheckSettle(signer address.Address, now time.Time) error {
	if err := ValidateOperation(r.Phase, OpSettle); err != nil {
		return err
	}
	if len(r.Winners) == 0 {
		return UnexpectedPhase(r.Phase, PhaseActive)
	}
	if signer != r.Host && !r.Expired(now) {
		return notExpired(r.ExpiresAt)
	}
	return nil
}

// CheckRecover validates a refund of every entry. The host may recover
// before winners are declared; after expiry anyone may recover a room that
// has not ended.
func (r *Room) CheckRecover(signer address.Address, now time.Time) error {
	if err := ValidateOperation(r.Phase, OpRecover); err != nil {
		return err
	}
	if r.Expired(now) {
		return nil
	}
	if signer != r.Host {
		return notExpired(r.ExpiresAt)
	}
	if r.Phase == PhaseWinnersDeclared {
		return notExpired(r.ExpiresAt)
	}
	return nil
}

// CheckCleanup validates closing the room's sub-accounts.
func (r *Room) CheckCleanup(signer address.Address, holdingBalance uint64, now time.Time) error {
	if err := ValidateOperation(r.Phase, OpCleanup); err != nil {
		return err
	}
	if signer != r.Host && !r.Expired(now) {
		return notExpired(r.ExpiresAt)
	}
	if holdingBalance != 0 {
		return apperrors.WithMetadata(apperrors.CodeHoldingNotEmpty,
			fmt.Sprintf("holding account has %d", holdingBalance),
			map[string]string{"Balance": strconv.FormatUint(holdingBalance, 10)})
	}
	return nil
}

// InsufficientFunds reports a shortfall with the amounts involved.
func InsufficientFunds(required, available uint64) error {
	return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
		fmt.Sprintf("need %d, have %d", required, available),
		map[string]string{
			"Required":  strconv.FormatUint(required, 10),
			"Available": strconv.FormatUint(available, 10),
			"Shortfall": strconv.FormatUint(required-available, 10),
		})
}

func invalidConfig(field, message string) error {
	return apperrors.Field(apperrors.CodeInvalidRoomConfig, field, message)
}

func unauthorized(message string) error {
	return apperrors.New(apperrors.CodeUnauthorized, message)
}

func notExpired(expiresAt time.Time) error {
	return apperrors.WithMetadata(apperrors.CodeRoomNotExpired,
		fmt.Sprintf("room expires at %s", expiresAt.Format(time.RFC3339)),
		map[string]string{"ExpiresAt": expiresAt.Format(time.RFC3339)})
}
