// Package fee validates fee structures in basis points and applies them to
// collected totals.
package fee

import (
	"fmt"
	"strconv"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
)

// TotalBps is 100% in basis points.
const TotalBps = 10000

// Policy bounds the fee structures a room may be created with.
type Policy struct {
	PlatformBps         uint16 `json:"platform_bps"`
	MaxHostBps          uint16 `json:"max_host_bps"`
	MaxHostPlusPrizeBps uint16 `json:"max_host_plus_prize_bps"`
	MinCharityBps       uint16 `json:"min_charity_bps"`
}

// DefaultPolicy is the policy a fresh deployment starts with.
func DefaultPolicy() Policy {
	return Policy{
		PlatformBps:         2000,
		MaxHostBps:          500,
		MaxHostPlusPrizeBps: 4000,
		MinCharityBps:       4000,
	}
}

// Validate checks that the policy admits at least the zero host/prize
// structure.
func (p Policy) Validate() error {
	switch {
	case p.PlatformBps > TotalBps,
		p.MaxHostBps > TotalBps,
		p.MaxHostPlusPrizeBps > TotalBps,
		p.MinCharityBps > TotalBps:
		return apperrors.New(apperrors.CodeInvalidFeeStructure, "policy bounds exceed 10000 bps")
	case p.MaxHostBps > p.MaxHostPlusPrizeBps:
		return apperrors.New(apperrors.CodeInvalidFeeStructure, "max host bps exceeds host plus prize ceiling")
	case uint32(p.PlatformBps)+uint32(p.MinCharityBps) > TotalBps:
		return apperrors.New(apperrors.CodeInvalidFeeStructure, "platform share leaves no room for the charity floor")
	}
	return nil
}

// Structure is a complete 4-way split whose legs sum to TotalBps.
type Structure struct {
	PlatformBps uint16 `json:"platform_bps"`
	HostBps     uint16 `json:"host_bps"`
	PrizeBps    uint16 `json:"prize_bps"`
	CharityBps  uint16 `json:"charity_bps"`
}

// Sum adds the four legs.
func (s Structure) Sum() uint32 {
	return uint32(s.PlatformBps) + uint32(s.HostBps) + uint32(s.PrizeBps) + uint32(s.CharityBps)
}

// Check verifies the structure is complete.
func (s Structure) Check() error {
	if s.Sum() != TotalBps {
		return apperrors.New(apperrors.CodeInvalidFeeStructure,
			fmt.Sprintf("fee structure sums to %d bps, want %d", s.Sum(), TotalBps))
	}
	return nil
}

// Validate builds the full structure for a host and prize share under a
// policy. Host or prize values above 100% are malformed; values that are
// well formed but outside the policy fail with the policy codes.
func Validate(hostBps, prizeBps uint16, policy Policy) (Structure, error) {
	if hostBps > TotalBps || prizeBps > TotalBps {
		return Structure{}, apperrors.New(apperrors.CodeInvalidFeeStructure,
			fmt.Sprintf("host %d bps or prize %d bps out of range", hostBps, prizeBps))
	}
	metadata := map[string]string{
		"HostBps":  strconv.Itoa(int(hostBps)),
		"PrizeBps": strconv.Itoa(int(prizeBps)),
		"Ceiling":  strconv.Itoa(int(policy.MaxHostPlusPrizeBps)),
	}
	if hostBps > policy.MaxHostBps {
		metadata["Ceiling"] = strconv.Itoa(int(policy.MaxHostBps))
		return Structure{}, apperrors.WithMetadata(apperrors.CodeFeeStructureExceedsPolicy,
			fmt.Sprintf("host %d bps exceeds max %d", hostBps, policy.MaxHostBps), metadata)
	}
	if uint32(hostBps)+uint32(prizeBps) > uint32(policy.MaxHostPlusPrizeBps) {
		return Structure{}, apperrors.WithMetadata(apperrors.CodeFeeStructureExceedsPolicy,
			fmt.Sprintf("host %d + prize %d bps exceeds ceiling %d", hostBps, prizeBps, policy.MaxHostPlusPrizeBps), metadata)
	}
	allocated := uint32(policy.PlatformBps) + uint32(hostBps) + uint32(prizeBps)
	if allocated > TotalBps {
		return Structure{}, apperrors.New(apperrors.CodeInvalidFeeStructure,
			fmt.Sprintf("platform, host and prize allocate %d bps", allocated))
	}
	charity := uint16(TotalBps - allocated)
	if charity < policy.MinCharityBps {
		return Structure{}, apperrors.WithMetadata(apperrors.CodeCharityBelowFloor,
			fmt.Sprintf("charity %d bps below floor %d", charity, policy.MinCharityBps),
			map[string]string{
				"CharityBps": strconv.Itoa(int(charity)),
				"Floor":      strconv.Itoa(int(policy.MinCharityBps)),
			})
	}
	return Structure{
		PlatformBps: policy.PlatformBps,
		HostBps:     hostBps,
		PrizeBps:    prizeBps,
		CharityBps:  charity,
	}, nil
}
