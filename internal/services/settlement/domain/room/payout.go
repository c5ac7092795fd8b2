package room

import (
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
)

// Role labels who a payout is for.
type Role string

const (
	RolePlatform Role = "platform"
	RoleHost     Role = "host"
	RoleCharity  Role = "charity"
	RoleWinner   Role = "winner"
	RoleRefund   Role = "refund"
)

// Payout moves Amount of Mint from one of the room's custody accounts to a
// recipient wallet. Slot is -1 for the main vault and the prize slot index
// for asset escrows.
type Payout struct {
	Role      Role            `json:"role"`
	Recipient address.Address `json:"recipient"`
	Mint      address.Address `json:"mint"`
	Amount    uint64          `json:"amount"`
	Slot      int             `json:"slot"`
}

// VaultSlot marks payouts drawn from the main holding account.
const VaultSlot = -1

// Distribution is the full settlement of a room.
type Distribution struct {
	Split   fee.Split `json:"split"`
	Prizes  []uint64  `json:"prizes,omitempty"`
	Payouts []Payout  `json:"payouts"`
}

// Distribution recomputes the settlement from the room's stored values.
// Payouts are ordered platform, host, charity, then winners in declared
// order; zero-amount legs are omitted.
func (r *Room) Distribution() (Distribution, error) {
	if len(r.Winners) != r.WinnerCount() || len(r.Winners) == 0 {
		return Distribution{}, apperrors.New(apperrors.CodeInvalidWinnerCount,
			fmt.Sprintf("room has %d winners, pays %d", len(r.Winners), r.WinnerCount()))
	}
	split, err := fee.SplitWithExtras(r.TotalCollected, r.TotalExtras, r.Fees, r.ExtrasRouting)
	if err != nil {
		return Distribution{}, err
	}

	d := Distribution{Split: split}
	d.add(Payout{Role: RolePlatform, Recipient: r.PlatformWallet, Mint: r.Mint, Amount: split.Platform, Slot: VaultSlot})
	d.add(Payout{Role: RoleHost, Recipient: r.Host, Mint: r.Mint, Amount: split.Host, Slot: VaultSlot})
	d.add(Payout{Role: RoleCharity, Recipient: r.CharityWallet, Mint: r.Mint, Amount: split.Charity, Slot: VaultSlot})

	switch r.Mode {
	case ModePool:
		prizes, err := fee.SplitPrizes(split.Prize, r.PrizeDistribution)
		if err != nil {
			return Distribution{}, err
		}
		d.Prizes = prizes
		for i, winner := range r.Winners {
			d.add(Payout{Role: RoleWinner, Recipient: winner, Mint: r.Mint, Amount: prizes[i], Slot: VaultSlot})
		}
	case ModeAsset:
		if split.Prize != 0 {
			return Distribution{}, apperrors.New(apperrors.CodeDistributionMismatch, "asset room carries a prize share")
		}
		for i, winner := range r.Winners {
			asset := r.PrizeAssets[i]
			d.Prizes = append(d.Prizes, asset.Amount)
			d.add(Payout{Role: RoleWinner, Recipient: winner, Mint: asset.Mint, Amount: asset.Amount, Slot: i})
		}
	}

	if total := d.VaultTotal(); total != r.TotalCollected {
		return Distribution{}, apperrors.WithMetadata(apperrors.CodeFeeSplitDoesNotSumToTotal,
			fmt.Sprintf("vault payouts sum to %d, collected %d", total, r.TotalCollected),
			map[string]string{"Total": fmt.Sprint(r.TotalCollected), "Sum": fmt.Sprint(total)})
	}
	return d, nil
}

// Refunds returns every entry's payment to its player and every deposited
// prize asset to the host.
func (r *Room) Refunds(entries []PlayerEntry) (Distribution, error) {
	var d Distribution
	var refunded uint64
	for _, entry := range entries {
		if entry.Room != r.Address {
			return Distribution{}, apperrors.New(apperrors.CodeDistributionMismatch, "entry belongs to another room")
		}
		refunded += entry.Paid()
		d.add(Payout{Role: RoleRefund, Recipient: entry.Player, Mint: r.Mint, Amount: entry.Paid(), Slot: VaultSlot})
	}
	if refunded != r.TotalCollected || uint32(len(entries)) != r.PlayerCount {
		return Distribution{}, apperrors.New(apperrors.CodeDistributionMismatch,
			fmt.Sprintf("%d entries refund %d, room collected %d from %d players", len(entries), refunded, r.TotalCollected, r.PlayerCount))
	}
	for i, asset := range r.PrizeAssets {
		if asset.Deposited {
			d.add(Payout{Role: RoleRefund, Recipient: r.Host, Mint: asset.Mint, Amount: asset.Amount, Slot: i})
		}
	}
	return d, nil
}

// VaultTotal sums the payouts drawn from the main holding account.
func (d Distribution) VaultTotal() uint64 {
	var total uint64
	for _, p := range d.Payouts {
		if p.Slot == VaultSlot {
			total += p.Amount
		}
	}
	return total
}

func (d *Distribution) add(p Payout) {
	if p.Amount == 0 {
		return
	}
	d.Payouts = append(d.Payouts, p)
}
