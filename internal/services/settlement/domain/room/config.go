package room

import (
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
)

// NewGlobalConfig validates the initial platform configuration.
func NewGlobalConfig(addr, admin, platformWallet, charityWallet address.Address, policy fee.Policy) (*GlobalConfig, error) {
	cfg := &GlobalConfig{
		Address:        addr,
		Admin:          admin,
		PlatformWallet: platformWallet,
		CharityWallet:  charityWallet,
		Policy:         policy,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigUpdate changes selected fields of the global configuration. Nil
// fields are left unchanged.
type ConfigUpdate struct {
	Admin          *address.Address `json:"admin,omitempty"`
	PlatformWallet *address.Address `json:"platform_wallet,omitempty"`
	CharityWallet  *address.Address `json:"charity_wallet,omitempty"`
	Policy         *fee.Policy      `json:"policy,omitempty"`
	Paused         *bool            `json:"paused,omitempty"`
}

// Apply performs an administrative update. Existing rooms keep the wallets
// and fees they were created with.
func (c *GlobalConfig) Apply(signer address.Address, u ConfigUpdate) error {
	if signer != c.Admin {
		return apperrors.New(apperrors.CodeUnauthorized, "only the admin can update the configuration")
	}
	next := *c
	if u.Admin != nil {
		next.Admin = *u.Admin
	}
	if u.PlatformWallet != nil {
		next.PlatformWallet = *u.PlatformWallet
	}
	if u.CharityWallet != nil {
		next.CharityWallet = *u.CharityWallet
	}
	if u.Policy != nil {
		next.Policy = *u.Policy
	}
	if u.Paused != nil {
		next.Paused = *u.Paused
	}
	if err := next.validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func (c *GlobalConfig) validate() error {
	switch {
	case c.Admin.IsZero():
		return invalidConfig("admin", "admin is required")
	case c.PlatformWallet.IsZero():
		return invalidConfig("platform_wallet", "platform wallet is required")
	case c.CharityWallet.IsZero():
		return invalidConfig("charity_wallet", "charity wallet is required")
	}
	return c.Policy.Validate()
}
