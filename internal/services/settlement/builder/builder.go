// Package builder assembles the ordered instruction lists for each room
// transition. Builders never read the ledger; callers pass the authoritative
// snapshots and the account creations the resolver scheduled.
package builder

import (
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/accounts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// Builder turns transitions into instructions.
type Builder struct {
	deriver         address.Deriver
	maxInstructions int
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxInstructions lowers the per-bundle instruction limit. Values outside
// 1..bundle.MaxInstructions are ignored.
func WithMaxInstructions(n int) Option {
	return func(b *Builder) {
		if n > 0 && n <= bundle.MaxInstructions {
			b.maxInstructions = n
		}
	}
}

// New creates a builder.
func New(deriver address.Deriver, opts ...Option) *Builder {
	b := &Builder{deriver: deriver, maxInstructions: bundle.MaxInstructions}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxInstructions is the per-bundle limit in effect.
func (b *Builder) MaxInstructions() int {
	return b.maxInstructions
}

// Bundle wraps instructions into an unsigned bundle.
func (b *Builder) Bundle(feePayer address.Address, recentSlot uint64, ins []bundle.Instruction) (bundle.Bundle, error) {
	if len(ins) == 0 {
		return bundle.Bundle{}, apperrors.New(apperrors.CodeInvalidArgument, "bundle has no instructions")
	}
	if len(ins) > b.maxInstructions {
		return bundle.Bundle{}, tooLarge(len(ins), b.maxInstructions)
	}
	return bundle.Bundle{FeePayer: feePayer, RecentSlot: recentSlot, Instructions: ins}, nil
}

// InitializeConfig creates the global configuration singleton.
func (b *Builder) InitializeConfig(admin, platformWallet, charityWallet address.Address, policy fee.Policy) ([]bundle.Instruction, address.Address, error) {
	cfgAddr, _, err := b.deriver.Config()
	if err != nil {
		return nil, address.Address{}, err
	}
	ins, err := bundle.NewInstruction(cfgAddr, bundle.KindConfigInitialize, bundle.InitializeConfig{
		Admin:          admin,
		PlatformWallet: platformWallet,
		CharityWallet:  charityWallet,
		Policy:         policy,
	}, admin)
	if err != nil {
		return nil, address.Address{}, err
	}
	return []bundle.Instruction{ins}, cfgAddr, nil
}

// UpdateConfig applies an administrative configuration update.
func (b *Builder) UpdateConfig(admin address.Address, update room.ConfigUpdate) ([]bundle.Instruction, error) {
	cfgAddr, _, err := b.deriver.Config()
	if err != nil {
		return nil, err
	}
	ins, err := bundle.NewInstruction(cfgAddr, bundle.KindConfigUpdate, bundle.UpdateConfig{Admin: admin, Update: update}, admin)
	if err != nil {
		return nil, err
	}
	return []bundle.Instruction{ins}, nil
}

// RoomAccounts are the addresses a new room occupies.
type RoomAccounts struct {
	Room  address.Address
	Nonce uint8
	Vault address.Address
}

// CreateRoom allocates the room and its holding account.
func (b *Builder) CreateRoom(payer address.Address, params room.CreateParams) ([]bundle.Instruction, RoomAccounts, error) {
	roomAddr, nonce, err := b.deriver.Room(params.Host, params.RoomID)
	if err != nil {
		return nil, RoomAccounts{}, err
	}
	vault, _, err := b.deriver.Vault(roomAddr)
	if err != nil {
		return nil, RoomAccounts{}, err
	}
	signers := []address.Address{payer}
	if params.Host != payer {
		signers = append(signers, params.Host)
	}
	ins, err := bundle.NewInstruction(roomAddr, bundle.KindRoomCreate, bundle.CreateRoom{Payer: payer, Params: params}, signers...)
	if err != nil {
		return nil, RoomAccounts{}, err
	}
	return []bundle.Instruction{ins}, RoomAccounts{Room: roomAddr, Nonce: nonce, Vault: vault}, nil
}

// UpdateRoomFees re-validates the room's fee structure.
func (b *Builder) UpdateRoomFees(r *room.Room, signer address.Address, hostBps, prizeBps uint16, distribution []uint8) ([]bundle.Instruction, error) {
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomUpdateFees, bundle.UpdateRoomFees{
		Signer:            signer,
		HostBps:           hostBps,
		PrizeBps:          prizeBps,
		PrizeDistribution: distribution,
	}, signer)
	if err != nil {
		return nil, err
	}
	return []bundle.Instruction{ins}, nil
}

// DepositPrize funds one asset slot from the depositor's currency account
// for that asset.
func (b *Builder) DepositPrize(r *room.Room, depositor address.Address, slot int) ([]bundle.Instruction, address.Address, error) {
	if slot < 0 || slot >= len(r.PrizeAssets) {
		return nil, address.Address{}, apperrors.Fieldf(apperrors.CodeInvalidArgument, "slot", "room has no prize slot %d", slot)
	}
	source, _, err := b.deriver.Token(depositor, r.PrizeAssets[slot].Mint)
	if err != nil {
		return nil, address.Address{}, err
	}
	escrow, _, err := b.deriver.PrizeVault(r.Address, uint8(slot))
	if err != nil {
		return nil, address.Address{}, err
	}
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomDepositPrize, bundle.DepositPrize{Slot: uint8(slot), Source: source}, depositor)
	if err != nil {
		return nil, address.Address{}, err
	}
	return []bundle.Instruction{ins}, escrow, nil
}

// JoinRoom creates the player's entry and pays the entry fee plus extras.
func (b *Builder) JoinRoom(r *room.Room, player address.Address, extras uint64) ([]bundle.Instruction, address.Address, error) {
	source, _, err := b.deriver.Token(player, r.Mint)
	if err != nil {
		return nil, address.Address{}, err
	}
	entry, _, err := b.deriver.Entry(r.Address, player)
	if err != nil {
		return nil, address.Address{}, err
	}
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomJoin, bundle.JoinRoom{Player: player, Source: source, Extras: extras}, player)
	if err != nil {
		return nil, address.Address{}, err
	}
	return []bundle.Instruction{ins}, entry, nil
}

// CloseJoining stops further joins.
func (b *Builder) CloseJoining(r *room.Room, signer address.Address) ([]bundle.Instruction, error) {
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomCloseJoining, bundle.CloseJoining{Signer: signer}, signer)
	if err != nil {
		return nil, err
	}
	return []bundle.Instruction{ins}, nil
}

// DeclareWinners records the ordered winner list.
func (b *Builder) DeclareWinners(r *room.Room, signer address.Address, winners []address.Address) ([]bundle.Instruction, error) {
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomDeclareWinners, bundle.DeclareWinners{Signer: signer, Winners: winners}, signer)
	if err != nil {
		return nil, err
	}
	return []bundle.Instruction{ins}, nil
}

// Cleanup closes the room's custody and entry accounts.
func (b *Builder) Cleanup(r *room.Room, signer address.Address) ([]bundle.Instruction, error) {
	ins, err := bundle.NewInstruction(r.Address, bundle.KindRoomCleanup, bundle.CleanupRoom{Signer: signer}, signer)
	if err != nil {
		return nil, err
	}
	return []bundle.Instruction{ins}, nil
}

func tooLarge(n, limit int) error {
	return apperrors.WithMetadata(apperrors.CodeBundleTooLarge,
		fmt.Sprintf("bundle needs %d instructions, limit is %d", n, limit),
		map[string]string{"Count": fmt.Sprint(n), "Limit": fmt.Sprint(limit)})
}

// Recipients lists the currency accounts a distribution pays into, in
// payout order.
func Recipients(d room.Distribution) []accounts.Request {
	out := make([]accounts.Request, 0, len(d.Payouts))
	for _, p := range d.Payouts {
		out = append(out, accounts.Request{Owner: p.Recipient, Mint: p.Mint})
	}
	return out
}
