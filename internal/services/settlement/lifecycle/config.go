package lifecycle

import (
	"context"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// InitializeConfigParams creates the global configuration.
type InitializeConfigParams struct {
	Admin          bundle.Signer
	PlatformWallet address.Address
	CharityWallet  address.Address
	Policy         fee.Policy
}

// InitializeGlobalConfig creates the platform singleton. It fails with
// CONFIG_ALREADY_INITIALIZED when it exists.
func (m *Manager) InitializeGlobalConfig(ctx context.Context, p InitializeConfigParams) (res *Result, err error) {
	cfgAddr, _, err := m.deriver.Config()
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "InitializeGlobalConfig", address.Address{})
	defer func() { m.end(span, "InitializeGlobalConfig", res, err) }()

	if err := requireSigner(p.Admin, "admin"); err != nil {
		return nil, err
	}
	admin := p.Admin.Address()
	if _, err := room.NewGlobalConfig(cfgAddr, admin, p.PlatformWallet, p.CharityWallet, p.Policy); err != nil {
		return nil, err
	}
	if _, err := m.fetchConfig(ctx); err == nil {
		return nil, apperrors.New(apperrors.CodeConfigAlreadyInitialized, "global configuration already exists")
	} else if !apperrors.IsCode(err, apperrors.CodeConfigNotInitialized) {
		return nil, err
	}

	ins, _, err := m.builder.InitializeConfig(admin, p.PlatformWallet, p.CharityWallet, p.Policy)
	if err != nil {
		return nil, err
	}
	probe := func(ctx context.Context) (bool, error) {
		cfg, err := m.fetchConfig(ctx)
		if apperrors.IsCode(err, apperrors.CodeConfigNotInitialized) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return cfg.Admin == admin, nil
	}
	out, err := m.execute(ctx, "initialize_config", cfgAddr, admin, signerList(p.Admin), ins, probe)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"config": cfgAddr},
	}, nil
}

// UpdateConfigParams is an administrative configuration update.
type UpdateConfigParams struct {
	Admin  bundle.Signer
	Update room.ConfigUpdate
}

// UpdateGlobalConfig applies an administrative update. Existing rooms keep
// the wallets and fees they were created with.
func (m *Manager) UpdateGlobalConfig(ctx context.Context, p UpdateConfigParams) (res *Result, err error) {
	cfgAddr, _, err := m.deriver.Config()
	if err != nil {
		return nil, err
	}
	ctx, span := m.start(ctx, "UpdateGlobalConfig", address.Address{})
	defer func() { m.end(span, "UpdateGlobalConfig", res, err) }()

	if err := requireSigner(p.Admin, "admin"); err != nil {
		return nil, err
	}
	cfg, err := m.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	want := *cfg
	if err := want.Apply(p.Admin.Address(), p.Update); err != nil {
		return nil, err
	}

	ins, err := m.builder.UpdateConfig(p.Admin.Address(), p.Update)
	if err != nil {
		return nil, err
	}
	probe := func(ctx context.Context) (bool, error) {
		got, err := m.fetchConfig(ctx)
		if err != nil {
			return false, err
		}
		return *got == want, nil
	}
	out, err := m.execute(ctx, "update_config", cfgAddr, p.Admin.Address(), signerList(p.Admin), ins, probe)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"config": cfgAddr},
	}, nil
}

// GetGlobalConfig reads the platform configuration.
func (m *Manager) GetGlobalConfig(ctx context.Context) (*room.GlobalConfig, error) {
	return m.fetchConfig(ctx)
}
