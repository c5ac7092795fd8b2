package lifecycle

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
)

func TestGlobalConfigLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.m.InitializeGlobalConfig(h.ctx, InitializeConfigParams{
		Admin:          h.admin,
		PlatformWallet: h.platform,
		CharityWallet:  h.charity,
		Policy:         fee.DefaultPolicy(),
	})
	if !apperrors.IsCode(err, apperrors.CodeConfigAlreadyInitialized) {
		t.Fatalf("second init err = %v, want %s", err, apperrors.CodeConfigAlreadyInitialized)
	}

	paused := true
	if _, err := h.m.UpdateGlobalConfig(h.ctx, UpdateConfigParams{Admin: h.host, Update: room.ConfigUpdate{Paused: &paused}}); !apperrors.IsCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("non-admin update err = %v, want %s", err, apperrors.CodeUnauthorized)
	}
	res, err := h.m.UpdateGlobalConfig(h.ctx, UpdateConfigParams{Admin: h.admin, Update: room.ConfigUpdate{Paused: &paused}})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if res.Status != submit.StatusConfirmed {
		t.Fatalf("pause status = %s", res.Status)
	}
	cfg, err := h.m.GetGlobalConfig(h.ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !cfg.Paused || cfg.Admin != h.admin.Address() {
		t.Fatalf("config = %+v", cfg)
	}

	_, err = h.m.CreateRoom(h.ctx, CreateRoomParams{Host: h.host, Params: h.poolParams("paused", 100, 5, 0, 0, nil)})
	if !apperrors.IsCode(err, apperrors.CodePlatformPaused) {
		t.Fatalf("create while paused err = %v, want %s", err, apperrors.CodePlatformPaused)
	}
}

func TestCreateRoomRejectsDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	params := h.poolParams("weekly-quiz", 1_000, 5, 300, 2000, []uint8{100})
	ref := h.createRoom(params)

	info := h.info(ref)
	if info.Room.Phase != room.PhaseReady || info.Room.Host != h.host.Address() {
		t.Fatalf("room = %+v", info.Room)
	}
	if info.Room.PlatformWallet != h.platform || info.Room.CharityWallet != h.charity {
		t.Fatalf("wallets = %s/%s", info.Room.PlatformWallet, info.Room.CharityWallet)
	}

	_, err := h.m.CreateRoom(h.ctx, CreateRoomParams{Host: h.host, Params: params})
	if !apperrors.IsCode(err, apperrors.CodeRoomAlreadyExists) {
		t.Fatalf("duplicate err = %v, want %s", err, apperrors.CodeRoomAlreadyExists)
	}

	// Room ids are scoped by host.
	other := h.key()
	if _, err := h.m.CreateRoom(h.ctx, CreateRoomParams{Host: other, Params: params}); err != nil {
		t.Fatalf("same id for another host: %v", err)
	}
}

func TestUpdateRoomFeesLocksOnFirstJoin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("fees", 1_000, 5, 300, 2000, []uint8{100}))

	res, err := h.m.UpdateRoomFees(h.ctx, UpdateRoomFeesParams{Room: ref, Host: h.host, HostBps: 500, PrizeBps: 1500, PrizeDistribution: []uint8{100}})
	if err != nil {
		t.Fatalf("update fees: %v", err)
	}
	want := fee.Structure{PlatformBps: 2000, HostBps: 500, PrizeBps: 1500, CharityBps: 6000}
	if res.Room.Fees != want {
		t.Fatalf("fees = %+v, want %+v", res.Room.Fees, want)
	}

	_, err = h.m.UpdateRoomFees(h.ctx, UpdateRoomFeesParams{Room: ref, Host: h.host, HostBps: 600, PrizeBps: 0})
	if !apperrors.IsCode(err, apperrors.CodeFeeStructureExceedsPolicy) {
		t.Fatalf("host over cap err = %v, want %s", err, apperrors.CodeFeeStructureExceedsPolicy)
	}

	h.mustJoin(ref, h.player(1_000), 0)
	_, err = h.m.UpdateRoomFees(h.ctx, UpdateRoomFeesParams{Room: ref, Host: h.host, HostBps: 100, PrizeBps: 100})
	if !apperrors.IsCode(err, apperrors.CodeFeesLocked) {
		t.Fatalf("update after join err = %v, want %s", err, apperrors.CodeFeesLocked)
	}
}

func TestJoinIsAtMostOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("once", 1_000, 5, 0, 2000, []uint8{100}))
	p := h.player(5_000)

	target, err := h.m.ResolveJoinTarget(h.ctx, JoinQuery{Room: ref, Player: p.Address(), Extras: 250})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.Total() != 1_250 || target.Room.IsZero() || target.Entry.IsZero() {
		t.Fatalf("target = %+v", target)
	}
	res, err := h.m.JoinRoom(h.ctx, JoinParams{Target: target, Player: p})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Room.Phase != room.PhaseActive || res.Room.PlayerCount != 1 || res.Room.TotalCollected != 1_250 || res.Room.TotalExtras != 250 {
		t.Fatalf("room = %+v", res.Room)
	}
	if res.Addresses["entry"] != target.Entry {
		t.Fatalf("entry address = %s, want %s", res.Addresses["entry"], target.Entry)
	}

	if _, err := h.m.JoinRoom(h.ctx, JoinParams{Target: target, Player: p}); !apperrors.IsCode(err, apperrors.CodeAlreadyJoined) {
		t.Fatalf("second join err = %v, want %s", err, apperrors.CodeAlreadyJoined)
	}
	if got := h.balance(p.Address(), h.mint); got != 3_750 {
		t.Fatalf("player balance = %d, want 3750", got)
	}
	info := h.info(ref)
	if info.Room.PlayerCount != 1 || info.Holding.Vault != 1_250 {
		t.Fatalf("info = %+v", info)
	}

	entry, err := h.m.GetPlayerEntry(h.ctx, ref, p.Address())
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.EntryPaid != 1_000 || entry.ExtrasPaid != 250 || entry.JoinSeq != 1 {
		t.Fatalf("entry = %+v", entry)
	}
	if _, err := h.m.GetPlayerEntry(h.ctx, ref, address.Address{99}); !apperrors.IsCode(err, apperrors.CodeEntryNotFound) {
		t.Fatalf("missing entry err = %v, want %s", err, apperrors.CodeEntryNotFound)
	}
}

func TestJoinRejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("picky", 5_000, 1, 0, 2000, []uint8{100}))

	poor := h.player(1_200)
	_, err := h.join(ref, poor, 0)
	if !apperrors.IsCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("poor join err = %v, want %s", err, apperrors.CodeInsufficientFunds)
	}
	if got := apperrors.GetMetadata(err)["Shortfall"]; got != "3800" {
		t.Fatalf("shortfall = %q, want 3800", got)
	}

	h.mustJoin(ref, h.player(5_000), 0)
	if _, err := h.join(ref, h.player(5_000), 0); !apperrors.IsCode(err, apperrors.CodeRoomFull) {
		t.Fatalf("full room err = %v, want %s", err, apperrors.CodeRoomFull)
	}

	p := h.player(5_000)
	target, err := h.m.ResolveJoinTarget(h.ctx, JoinQuery{Room: ref, Player: p.Address()})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := h.m.JoinRoom(h.ctx, JoinParams{Target: target, Player: h.player(5_000)}); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("wrong signer err = %v, want %s", err, apperrors.CodeInvalidArgument)
	}
	if _, err := h.m.ResolveJoinTarget(h.ctx, JoinQuery{Room: RoomRef{Host: h.host.Address(), RoomID: "missing"}, Player: p.Address()}); !apperrors.IsCode(err, apperrors.CodeRoomNotFound) {
		t.Fatalf("missing room err = %v, want %s", err, apperrors.CodeRoomNotFound)
	}
}

func TestCloseJoiningStopsJoins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("closing", 100, 5, 0, 2000, []uint8{100}))
	h.mustJoin(ref, h.player(100), 0)

	if _, err := h.m.CloseJoining(h.ctx, RoomParams{Room: ref, Signer: h.key()}); !apperrors.IsCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("stranger close err = %v, want %s", err, apperrors.CodeUnauthorized)
	}
	res, err := h.m.CloseJoining(h.ctx, RoomParams{Room: ref, Signer: h.host})
	if err != nil {
		t.Fatalf("close joining: %v", err)
	}
	if !res.Room.JoiningClosed || res.Room.Phase != room.PhaseActive {
		t.Fatalf("room = %+v", res.Room)
	}
	if _, err := h.join(ref, h.player(100), 0); !apperrors.IsCode(err, apperrors.CodeJoiningClosed) {
		t.Fatalf("join after close err = %v, want %s", err, apperrors.CodeJoiningClosed)
	}
}

func TestDeclareWinners(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("podium", 100, 5, 0, 2000, []uint8{60, 40}))
	a, b, c := h.player(100), h.player(100), h.player(100)
	for _, p := range []*address.KeyPair{a, b, c} {
		h.mustJoin(ref, p, 0)
	}

	rejections := []struct {
		name    string
		winners []address.Address
		code    apperrors.Code
	}{
		{name: "wrong count", winners: []address.Address{a.Address()}, code: apperrors.CodeInvalidWinnerCount},
		{name: "duplicate", winners: []address.Address{a.Address(), a.Address()}, code: apperrors.CodeDuplicateWinner},
		{name: "host", winners: []address.Address{a.Address(), h.host.Address()}, code: apperrors.CodeHostCannotWin},
		{name: "never joined", winners: []address.Address{a.Address(), {77}}, code: apperrors.CodeWinnerNeverJoined},
	}
	for _, tc := range rejections {
		if _, err := h.declare(ref, tc.winners...); !apperrors.IsCode(err, tc.code) {
			t.Fatalf("%s: err = %v, want %s", tc.name, err, tc.code)
		}
	}

	res, err := h.declare(ref, b.Address(), a.Address())
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if res.Status != submit.StatusConfirmed || res.Room.Phase != room.PhaseWinnersDeclared {
		t.Fatalf("result = %+v", res)
	}

	again, err := h.declare(ref, b.Address(), a.Address())
	if err != nil {
		t.Fatalf("declare same list: %v", err)
	}
	if again.Status != StatusUnchanged || !again.Signature.IsZero() {
		t.Fatalf("repeat result = %+v, want unchanged without a submission", again)
	}
	if _, err := h.declare(ref, a.Address(), b.Address()); !apperrors.IsCode(err, apperrors.CodeWinnersAlreadyDeclared) {
		t.Fatalf("different list err = %v, want %s", err, apperrors.CodeWinnersAlreadyDeclared)
	}

	subs, err := h.journal.ListSubmissions(h.ctx, res.Room.Address, submit.StatusConfirmed)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	var declares int
	for _, sub := range subs {
		if sub.Operation == "declare_winners" {
			declares++
		}
	}
	if declares != 1 {
		t.Fatalf("declare submissions = %d, want 1", declares)
	}
}

func TestAssetRoomDepositsAndSettles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	gold, silver := address.Address{0x41}, address.Address{0x42}
	for mint, amount := range map[address.Address]uint64{gold: 7, silver: 3} {
		if _, err := h.ledger.Airdrop(h.ctx, h.host.Address(), mint, amount); err != nil {
			t.Fatalf("airdrop asset: %v", err)
		}
	}
	ref := h.createRoom(room.CreateParams{
		RoomID:      "asset-night",
		Mode:        room.ModeAsset,
		Mint:        h.mint,
		HostBps:     500,
		PrizeAssets: []room.PrizeAssetSpec{{Mint: gold, Amount: 7}, {Mint: silver, Amount: 3}},
		EntryFee:    1_000_000,
		MaxPlayers:  10,
		ExpiresAt:   h.clock.Now().Add(time.Hour),
	})
	if got := h.info(ref).Room.Phase; got != room.PhaseAwaitingFunding {
		t.Fatalf("phase = %s, want %s", got, room.PhaseAwaitingFunding)
	}

	p1, p2 := h.player(1_000_000), h.player(1_000_000)
	if _, err := h.join(ref, p1, 0); !apperrors.IsCode(err, apperrors.CodeInvalidPhase) {
		t.Fatalf("join before funding err = %v, want %s", err, apperrors.CodeInvalidPhase)
	}

	res, err := h.m.DepositPrizeAsset(h.ctx, DepositPrizeParams{Room: ref, Host: h.host, Slot: 0})
	if err != nil {
		t.Fatalf("deposit slot 0: %v", err)
	}
	if res.Room.Phase != room.PhaseAwaitingFunding || !res.Room.PrizeAssets[0].Deposited {
		t.Fatalf("room after first deposit = %+v", res.Room)
	}
	if _, err := h.m.DepositPrizeAsset(h.ctx, DepositPrizeParams{Room: ref, Host: h.host, Slot: 0}); !apperrors.IsCode(err, apperrors.CodeDuplicateDeposit) {
		t.Fatalf("duplicate deposit err = %v, want %s", err, apperrors.CodeDuplicateDeposit)
	}
	res, err = h.m.DepositPrizeAsset(h.ctx, DepositPrizeParams{Room: ref, Host: h.host, Slot: 1})
	if err != nil {
		t.Fatalf("deposit slot 1: %v", err)
	}
	if res.Room.Phase != room.PhaseReady {
		t.Fatalf("phase = %s, want %s", res.Room.Phase, room.PhaseReady)
	}
	if info := h.info(ref); info.Holding.Total != 10 || len(info.Holding.Escrows) != 2 {
		t.Fatalf("holding = %+v", info.Holding)
	}

	h.mustJoin(ref, p1, 0)
	h.mustJoin(ref, p2, 0)
	if _, err := h.declare(ref, p2.Address(), p1.Address()); err != nil {
		t.Fatalf("declare: %v", err)
	}
	settled, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: h.host})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Room.Phase != room.PhaseEnded {
		t.Fatalf("phase = %s", settled.Room.Phase)
	}

	balances := []struct {
		name  string
		owner address.Address
		mint  address.Address
		want  uint64
	}{
		{"first winner gold", p2.Address(), gold, 7},
		{"second winner silver", p1.Address(), silver, 3},
		{"platform", h.platform, h.mint, 400_000},
		{"host", h.host.Address(), h.mint, 100_000},
		{"charity", h.charity, h.mint, 1_500_000},
	}
	for _, b := range balances {
		if got := h.balance(b.owner, b.mint); got != b.want {
			t.Errorf("%s = %d, want %d", b.name, got, b.want)
		}
	}
	if info := h.info(ref); info.Holding.Total != 0 {
		t.Fatalf("holding after settle = %+v", info.Holding)
	}
}
