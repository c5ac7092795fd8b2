package fee

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
)

// Split is a collected total divided among the four recipients.
type Split struct {
	Platform uint64 `json:"platform"`
	Host     uint64 `json:"host"`
	Prize    uint64 `json:"prize"`
	Charity  uint64 `json:"charity"`
}

// Sum adds the legs on a wide integer so an inconsistent split cannot wrap.
func (s Split) Sum() *uint256.Int {
	sum := uint256.NewInt(s.Platform)
	sum.Add(sum, uint256.NewInt(s.Host))
	sum.Add(sum, uint256.NewInt(s.Prize))
	sum.Add(sum, uint256.NewInt(s.Charity))
	return sum
}

// ComputeSplit floors each leg of total*bps/10000 independently and assigns
// the rounding remainder (at most three minor units) to charity.
func ComputeSplit(total uint64, s Structure) (Split, error) {
	if err := s.Check(); err != nil {
		return Split{}, err
	}
	split := Split{
		Platform: mulDiv(total, uint64(s.PlatformBps), TotalBps),
		Host:     mulDiv(total, uint64(s.HostBps), TotalBps),
		Prize:    mulDiv(total, uint64(s.PrizeBps), TotalBps),
		Charity:  mulDiv(total, uint64(s.CharityBps), TotalBps),
	}
	assigned := split.Platform + split.Host + split.Prize + split.Charity
	if assigned > total || total-assigned > 3 {
		return Split{}, sumMismatch(total, split.Sum())
	}
	split.Charity += total - assigned
	if err := checkSum(total, split); err != nil {
		return Split{}, err
	}
	return split, nil
}

// ExtrasRouting decides where optional extra contributions go.
type ExtrasRouting string

const (
	// ExtrasSamePool adds extras to the collected total split by bps.
	ExtrasSamePool ExtrasRouting = "same_pool"
	// ExtrasToCharity pays extras to the charity in full.
	ExtrasToCharity ExtrasRouting = "charity"
)

// ParseExtrasRouting accepts the wire names; empty means same pool.
func ParseExtrasRouting(raw string) (ExtrasRouting, error) {
	switch ExtrasRouting(raw) {
	case "", ExtrasSamePool:
		return ExtrasSamePool, nil
	case ExtrasToCharity:
		return ExtrasToCharity, nil
	default:
		return "", apperrors.Fieldf(apperrors.CodeInvalidRoomConfig, "extras_routing", "unknown extras routing %q", raw)
	}
}

// SplitWithExtras splits a collected total of which extras came from
// optional contributions.
func SplitWithExtras(total, extras uint64, s Structure, routing ExtrasRouting) (Split, error) {
	if extras > total {
		return Split{}, sumMismatch(total, uint256.NewInt(extras))
	}
	switch routing {
	case ExtrasToCharity:
		split, err := ComputeSplit(total-extras, s)
		if err != nil {
			return Split{}, err
		}
		split.Charity += extras
		if err := checkSum(total, split); err != nil {
			return Split{}, err
		}
		return split, nil
	default:
		return ComputeSplit(total, s)
	}
}

// MaxPrizePlaces bounds the prize distribution and the winner list.
const MaxPrizePlaces = 10

// ValidatePercentages checks a prize distribution: 1 to 10 positive entries
// summing to exactly 100.
func ValidatePercentages(percentages []uint8) error {
	if len(percentages) == 0 || len(percentages) > MaxPrizePlaces {
		return apperrors.New(apperrors.CodeInvalidPrizeSplit,
			fmt.Sprintf("prize split has %d entries", len(percentages)))
	}
	sum := 0
	for i, pct := range percentages {
		if pct == 0 {
			return apperrors.New(apperrors.CodeInvalidPrizeSplit, fmt.Sprintf("place %d has 0%%", i+1))
		}
		sum += int(pct)
	}
	if sum != 100 {
		return apperrors.New(apperrors.CodeInvalidPrizeSplit, fmt.Sprintf("prize split sums to %d%%", sum))
	}
	return nil
}

// SplitPrizes divides a prize pool by place percentages, flooring each
// place and giving the remainder to the last place.
func SplitPrizes(pool uint64, percentages []uint8) ([]uint64, error) {
	if err := ValidatePercentages(percentages); err != nil {
		return nil, err
	}
	amounts := make([]uint64, len(percentages))
	var assigned uint64
	for i, pct := range percentages {
		amounts[i] = mulDiv(pool, uint64(pct), 100)
		assigned += amounts[i]
	}
	amounts[len(amounts)-1] += pool - assigned
	return amounts, nil
}

func mulDiv(amount, numerator, denominator uint64) uint64 {
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(numerator))
	return product.Div(product, uint256.NewInt(denominator)).Uint64()
}

func checkSum(total uint64, split Split) error {
	sum := split.Sum()
	if !sum.Eq(uint256.NewInt(total)) {
		return sumMismatch(total, sum)
	}
	return nil
}

func sumMismatch(total uint64, sum *uint256.Int) error {
	return apperrors.WithMetadata(apperrors.CodeFeeSplitDoesNotSumToTotal,
		fmt.Sprintf("split sums to %s, total %d", sum.Dec(), total),
		map[string]string{"Total": strconv.FormatUint(total, 10), "Sum": sum.Dec()})
}
