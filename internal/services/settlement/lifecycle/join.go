package lifecycle

import (
	"context"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/accounts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// JoinQuery is the partial input a join starts from.
type JoinQuery struct {
	Room   RoomRef
	Player address.Address
	Extras uint64
}

// ResolvedJoinParams is a join with every field looked up. Nothing in it is
// optional, so JoinRoom never has to decide what to fetch.
type ResolvedJoinParams struct {
	Room     address.Address `json:"room"`
	Host     address.Address `json:"host"`
	RoomID   string          `json:"room_id"`
	Player   address.Address `json:"player"`
	Mint     address.Address `json:"mint"`
	EntryFee uint64          `json:"entry_fee"`
	Extras   uint64          `json:"extras"`
	Source   address.Address `json:"source"`
	Entry    address.Address `json:"entry"`
	Vault    address.Address `json:"vault"`
}

// Total is what the join moves into the holding account.
func (p ResolvedJoinParams) Total() uint64 {
	return p.EntryFee + p.Extras
}

// ResolveJoinTarget looks up everything a join needs. It only reads.
func (m *Manager) ResolveJoinTarget(ctx context.Context, q JoinQuery) (ResolvedJoinParams, error) {
	if q.Player.IsZero() {
		return ResolvedJoinParams{}, apperrors.Field(apperrors.CodeInvalidArgument, "player", "player is required")
	}
	roomAddr, r, err := m.fetchRef(ctx, q.Room)
	if err != nil {
		return ResolvedJoinParams{}, err
	}
	source, _, err := m.deriver.Token(q.Player, r.Mint)
	if err != nil {
		return ResolvedJoinParams{}, err
	}
	entry, _, err := m.deriver.Entry(roomAddr, q.Player)
	if err != nil {
		return ResolvedJoinParams{}, err
	}
	return ResolvedJoinParams{
		Room:     roomAddr,
		Host:     r.Host,
		RoomID:   r.RoomID,
		Player:   q.Player,
		Mint:     r.Mint,
		EntryFee: r.EntryFee,
		Extras:   q.Extras,
		Source:   source,
		Entry:    entry,
		Vault:    r.Vault,
	}, nil
}

// JoinParams is a resolved join signed by the player.
type JoinParams struct {
	Target ResolvedJoinParams
	Player bundle.Signer
}

// JoinRoom creates the player's entry and moves entry fee plus extras into
// the holding account. A second join of the same player fails with
// ALREADY_JOINED.
func (m *Manager) JoinRoom(ctx context.Context, p JoinParams) (res *Result, err error) {
	if err := requireSigner(p.Player, "player"); err != nil {
		return nil, err
	}
	t := p.Target
	if p.Player.Address() != t.Player {
		return nil, apperrors.Fieldf(apperrors.CodeInvalidArgument, "player", "signer %s is not player %s", p.Player.Address(), t.Player)
	}
	ctx, span := m.start(ctx, "JoinRoom", t.Room)
	defer func() { m.end(span, "JoinRoom", res, err) }()

	r, err := m.fetchRoom(ctx, t.Room)
	if err != nil {
		return nil, err
	}
	if r.Mint != t.Mint || r.EntryFee != t.EntryFee {
		return nil, apperrors.Field(apperrors.CodeInvalidArgument, "target", "join target is stale; resolve it again")
	}
	joined, err := m.joinedPlayers(ctx, t.Room, []address.Address{t.Player})
	if err != nil {
		return nil, err
	}
	source, err := m.resolver.Ensure(ctx, t.Player, accounts.Request{Owner: t.Player, Mint: t.Mint})
	if err != nil {
		return nil, err
	}
	if _, err := r.Clone().Join(room.JoinCheck{
		Player:        t.Player,
		Extras:        t.Extras,
		AlreadyJoined: joined[t.Player],
		Available:     source.Balance,
		Now:           m.clock(),
	}, t.Entry); err != nil {
		return nil, err
	}

	ins, entry, err := m.builder.JoinRoom(r, t.Player, t.Extras)
	if err != nil {
		return nil, err
	}
	player := t.Player
	probe := func(ctx context.Context) (bool, error) {
		got, err := m.joinedPlayers(ctx, t.Room, []address.Address{player})
		if err != nil {
			return false, err
		}
		return got[player], nil
	}
	out, err := m.execute(ctx, "join", t.Room, t.Player, signerList(p.Player), ins, probe)
	if err != nil {
		return nil, err
	}
	after, err := m.refetch(ctx, t.Room, room.PhaseActive)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature: out.Digest,
		Status:    out.Status,
		Addresses: map[string]address.Address{"room": t.Room, "entry": entry, "vault": r.Vault, "source": source.Address},
		Room:      after,
	}, nil
}
