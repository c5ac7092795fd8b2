package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ledgerengine "github.com/louisbranch/fundraising.space/internal/services/ledger/engine"
	ledgersqlite "github.com/louisbranch/fundraising.space/internal/services/ledger/storage/sqlite"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	settlementsqlite "github.com/louisbranch/fundraising.space/internal/services/settlement/storage/sqlite"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *testClock
	ledger   *ledgerengine.Ledger
	journal  *settlementsqlite.Store
	recorder *tracetest.SpanRecorder
	m        *Manager

	admin    *address.KeyPair
	host     *address.KeyPair
	platform address.Address
	charity  address.Address
	mint     address.Address

	mu        sync.Mutex
	integrity []error
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		t:        t,
		ctx:      ctx,
		clock:    &testClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)},
		recorder: tracetest.NewSpanRecorder(),
		platform: address.Address{20},
		charity:  address.Address{21},
		mint:     address.Address{0x30},
	}

	ledgerStore, err := ledgersqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger store: %v", err)
	}
	t.Cleanup(func() { _ = ledgerStore.Close() })
	h.ledger, err = ledgerengine.New(ledgerStore, ledgerengine.Config{
		Program:      address.Address{0xee},
		Reserve:      10,
		SlotDuration: time.Second,
		Genesis:      h.clock.Now(),
		AllowAirdrop: true,
	}, nil, ledgerengine.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	h.journal, err = settlementsqlite.Open(filepath.Join(t.TempDir(), "settlement.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = h.journal.Close() })

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.recorder))
	cfg := Config{
		Ledger:  h.ledger,
		Deriver: h.ledger.Deriver(),
		Journal: h.journal,
		Tracer:  tp.Tracer("test"),
		Clock:   h.clock.Now,
		OnIntegrity: func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.integrity = append(h.integrity, err)
		},
		RetrierOptions: []submit.Option{submit.WithPollInterval(time.Millisecond, 10*time.Millisecond)},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.m, err = New(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	h.admin = h.key()
	h.host = h.key()
	if _, err := h.m.InitializeGlobalConfig(ctx, InitializeConfigParams{
		Admin:          h.admin,
		PlatformWallet: h.platform,
		CharityWallet:  h.charity,
		Policy:         fee.DefaultPolicy(),
	}); err != nil {
		t.Fatalf("initialize config: %v", err)
	}
	return h
}

// key generates a wallet with enough native balance for a few reserves.
func (h *harness) key() *address.KeyPair {
	h.t.Helper()
	k, err := address.GenerateKeyPair()
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	if _, err := h.ledger.Airdrop(h.ctx, k.Address(), address.Zero, 1_000); err != nil {
		h.t.Fatalf("airdrop native: %v", err)
	}
	return k
}

// player generates a wallet holding tokens of the room currency.
func (h *harness) player(tokens uint64) *address.KeyPair {
	h.t.Helper()
	k := h.key()
	if _, err := h.ledger.Airdrop(h.ctx, k.Address(), h.mint, tokens); err != nil {
		h.t.Fatalf("airdrop tokens: %v", err)
	}
	return k
}

func (h *harness) poolParams(roomID string, entryFee uint64, maxPlayers uint32, hostBps, prizeBps uint16, dist []uint8) room.CreateParams {
	return room.CreateParams{
		RoomID:            roomID,
		Mode:              room.ModePool,
		Mint:              h.mint,
		Decimals:          6,
		HostBps:           hostBps,
		PrizeBps:          prizeBps,
		PrizeDistribution: dist,
		EntryFee:          entryFee,
		MaxPlayers:        maxPlayers,
		ExpiresAt:         h.clock.Now().Add(time.Hour),
	}
}

func (h *harness) createRoom(params room.CreateParams) RoomRef {
	h.t.Helper()
	res, err := h.m.CreateRoom(h.ctx, CreateRoomParams{Host: h.host, Params: params})
	if err != nil {
		h.t.Fatalf("create room %s: %v", params.RoomID, err)
	}
	if res.Status != submit.StatusConfirmed {
		h.t.Fatalf("create room status = %s", res.Status)
	}
	return RoomRef{Host: h.host.Address(), RoomID: params.RoomID}
}

func (h *harness) join(ref RoomRef, player *address.KeyPair, extras uint64) (*Result, error) {
	h.t.Helper()
	target, err := h.m.ResolveJoinTarget(h.ctx, JoinQuery{Room: ref, Player: player.Address(), Extras: extras})
	if err != nil {
		return nil, err
	}
	return h.m.JoinRoom(h.ctx, JoinParams{Target: target, Player: player})
}

func (h *harness) mustJoin(ref RoomRef, player *address.KeyPair, extras uint64) {
	h.t.Helper()
	if _, err := h.join(ref, player, extras); err != nil {
		h.t.Fatalf("join %s: %v", player.Address(), err)
	}
}

func (h *harness) declare(ref RoomRef, winners ...address.Address) (*Result, error) {
	h.t.Helper()
	return h.m.DeclareWinners(h.ctx, DeclareWinnersParams{Room: ref, Host: h.host, Winners: winners})
}

// balance reads owner's token balance of mint, zero when the account is missing.
func (h *harness) balance(owner, mint address.Address) uint64 {
	h.t.Helper()
	addr, _, err := h.ledger.Deriver().Token(owner, mint)
	if err != nil {
		h.t.Fatalf("derive token: %v", err)
	}
	accts, err := h.ledger.GetAccounts(h.ctx, []address.Address{addr})
	if err != nil {
		h.t.Fatalf("get accounts: %v", err)
	}
	if accts[0] == nil {
		return 0
	}
	return accts[0].Amount
}

func (h *harness) info(ref RoomRef) RoomInfo {
	h.t.Helper()
	info, err := h.m.GetRoomInfo(h.ctx, ref)
	if err != nil {
		h.t.Fatalf("room info: %v", err)
	}
	return info
}

func (h *harness) integrityErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.integrity...)
}

func (h *harness) spanNames() map[string]int {
	out := make(map[string]int)
	for _, span := range h.recorder.Ended() {
		out[span.Name()]++
	}
	return out
}

// frozenRooms serves stale room snapshots once frozen, as a lagging ledger
// replica would.
type frozenRooms struct {
	chain.Client
	mu     sync.Mutex
	frozen bool
	snaps  map[address.Address]*chain.Account
}

func (f *frozenRooms) freeze() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen = true
}

func (f *frozenRooms) GetAccount(ctx context.Context, addr address.Address) (*chain.Account, error) {
	acct, err := f.Client.GetAccount(ctx, addr)
	if err != nil || acct.Kind != chain.KindRoom {
		return acct, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snaps == nil {
		f.snaps = make(map[address.Address]*chain.Account)
	}
	if snap, ok := f.snaps[addr]; ok && f.frozen {
		return snap, nil
	}
	f.snaps[addr] = acct
	return acct, nil
}
