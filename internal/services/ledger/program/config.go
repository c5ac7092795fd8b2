package program

import (
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

func (x *execution) loadConfig() (*chain.Account, *room.GlobalConfig, error) {
	addr, _, err := x.deriver.Config()
	if err != nil {
		return nil, nil, err
	}
	acct, err := x.account(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, apperrors.New(apperrors.CodeConfigNotInitialized, "global configuration is not initialized")
	}
	cfg, err := acct.Config()
	if err != nil {
		return nil, nil, err
	}
	return acct, cfg, nil
}

func (x *execution) initializeConfig(target address.Address, p bundle.InitializeConfig) error {
	derived, _, err := x.deriver.Config()
	if err != nil {
		return err
	}
	if err := expectDerived(target, derived, "config"); err != nil {
		return err
	}
	existing, err := x.account(target)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.New(apperrors.CodeConfigAlreadyInitialized, "global configuration already exists")
	}
	if err := x.requireSigner(p.Admin); err != nil {
		return err
	}
	cfg, err := room.NewGlobalConfig(target, p.Admin, p.PlatformWallet, p.CharityWallet, p.Policy)
	if err != nil {
		return err
	}
	data, err := encodeData(cfg)
	if err != nil {
		return err
	}
	return x.create(p.Admin, &chain.Account{
		Address: target,
		Kind:    chain.KindConfig,
		Owner:   x.deriver.Program(),
		Data:    data,
	})
}

func (x *execution) updateConfig(target address.Address, p bundle.UpdateConfig) error {
	acct, cfg, err := x.loadConfig()
	if err != nil {
		return err
	}
	if err := expectDerived(target, acct.Address, "config"); err != nil {
		return err
	}
	if err := x.requireSigner(p.Admin); err != nil {
		return err
	}
	if err := cfg.Apply(p.Admin, p.Update); err != nil {
		return err
	}
	if acct.Data, err = encodeData(cfg); err != nil {
		return err
	}
	return x.put(acct)
}
