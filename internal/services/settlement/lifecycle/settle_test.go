package lifecycle

import (
	"slices"
	"testing"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/builder"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
)

func TestSettlePaysEveryLegInOneBundle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("charity-quiz", 5_000_000, 10, 300, 2000, []uint8{50, 30, 20}))

	players := make([]*address.KeyPair, 10)
	for i := range players {
		players[i] = h.player(5_000_000)
		h.mustJoin(ref, players[i], 0)
	}
	info := h.info(ref)
	if info.Room.PlayerCount != 10 || info.Room.TotalCollected != 50_000_000 || info.Holding.Vault != 50_000_000 {
		t.Fatalf("info before settle = %+v", info)
	}

	winners := []address.Address{players[3].Address(), players[0].Address(), players[7].Address()}
	if _, err := h.declare(ref, winners...); err != nil {
		t.Fatalf("declare: %v", err)
	}
	res, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: h.host})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Status != submit.StatusConfirmed || res.Room.Phase != room.PhaseEnded || res.Room.Recovered {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Prerequisites) != 0 {
		t.Fatalf("prerequisites = %v, want none", res.Prerequisites)
	}
	wantSplit := fee.Split{Platform: 10_000_000, Host: 1_500_000, Prize: 10_000_000, Charity: 28_500_000}
	if res.Distribution.Split != wantSplit {
		t.Fatalf("split = %+v, want %+v", res.Distribution.Split, wantSplit)
	}
	if !slices.Equal(res.Distribution.Prizes, []uint64{5_000_000, 3_000_000, 2_000_000}) {
		t.Fatalf("prizes = %v", res.Distribution.Prizes)
	}
	firstWinner, _, _ := h.ledger.Deriver().Token(winners[0], h.mint)
	if res.Addresses["winner.0"] != firstWinner {
		t.Fatalf("winner.0 = %s, want %s", res.Addresses["winner.0"], firstWinner)
	}

	want := map[address.Address]uint64{
		h.platform:       10_000_000,
		h.host.Address(): 1_500_000,
		h.charity:        28_500_000,
		winners[0]:       5_000_000,
		winners[1]:       3_000_000,
		winners[2]:       2_000_000,
	}
	var paid uint64
	for _, p := range players {
		got := h.balance(p.Address(), h.mint)
		if got != want[p.Address()] {
			t.Errorf("player %s balance = %d, want %d", p.Address(), got, want[p.Address()])
		}
		paid += got
	}
	for _, owner := range []address.Address{h.platform, h.host.Address(), h.charity} {
		got := h.balance(owner, h.mint)
		if got != want[owner] {
			t.Errorf("%s balance = %d, want %d", owner, got, want[owner])
		}
		paid += got
	}
	if paid != 50_000_000 {
		t.Fatalf("paid out %d, collected 50000000", paid)
	}
	if info := h.info(ref); info.Holding.Total != 0 {
		t.Fatalf("holding after settle = %+v", info.Holding)
	}

	if _, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: h.host}); !apperrors.IsCode(err, apperrors.CodeInvalidPhase) {
		t.Fatalf("second settle err = %v, want %s", err, apperrors.CodeInvalidPhase)
	}

	spans := h.spanNames()
	if spans["lifecycle.Settle"] != 2 || spans["submit.Simulate"] == 0 || spans["submit.Submit"] == 0 {
		t.Fatalf("spans = %v", spans)
	}
}

func TestSettleIsAllOrNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("atomic", 1_000, 5, 300, 2000, []uint8{100}))
	winner, loser := h.player(1_000), h.player(1_000)
	h.mustJoin(ref, winner, 0)
	h.mustJoin(ref, loser, 0)
	if _, err := h.declare(ref, winner.Address()); err != nil {
		t.Fatalf("declare: %v", err)
	}

	// A caller without a wallet cannot fund the recipients' account reserves.
	caller, err := address.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: caller}); !apperrors.IsCode(err, apperrors.CodeRoomNotExpired) {
		t.Fatalf("early settle err = %v, want %s", err, apperrors.CodeRoomNotExpired)
	}
	h.clock.Advance(2 * time.Hour)
	_, err = h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: caller})
	if !apperrors.IsCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("unfunded settle err = %v, want %s from simulation", err, apperrors.CodeInsufficientFunds)
	}
	roomAddr, err := ref.Address(h.m.Deriver())
	if err != nil {
		t.Fatalf("room address: %v", err)
	}
	subs, err := h.journal.ListSubmissions(h.ctx, roomAddr, "")
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	for _, sub := range subs {
		if sub.Operation == "settle" {
			t.Fatalf("rejected simulation was still submitted: %+v", sub)
		}
	}

	// Push the same bundle past the simulation gate.
	r, err := h.m.fetchRoom(h.ctx, roomAddr)
	if err != nil {
		t.Fatalf("fetch room: %v", err)
	}
	d, err := r.Distribution()
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	_, creates, err := h.m.resolver.EnsureAll(h.ctx, caller.Address(), builder.Recipients(d))
	if err != nil {
		t.Fatalf("ensure accounts: %v", err)
	}
	plan, err := h.m.builder.Settle(r, caller.Address(), d, creates)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	slot, err := h.ledger.CurrentSlot(h.ctx)
	if err != nil {
		t.Fatalf("current slot: %v", err)
	}
	b, err := h.m.builder.Bundle(caller.Address(), slot, plan.Final)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if _, err := b.Sign(caller); err != nil {
		t.Fatalf("sign: %v", err)
	}
	digest, err := h.ledger.Submit(h.ctx, b)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	status, err := h.ledger.GetBundleStatus(h.ctx, digest)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != chain.StateFailed || status.Failure == nil || status.Failure.Code != apperrors.CodeInsufficientFunds {
		t.Fatalf("status = %+v, want failed with %s", status, apperrors.CodeInsufficientFunds)
	}
	if _, err := h.ledger.Submit(h.ctx, b); !apperrors.IsCode(err, apperrors.CodeAlreadyProcessed) {
		t.Fatalf("resubmit err = %v, want %s", err, apperrors.CodeAlreadyProcessed)
	}

	info := h.info(ref)
	if info.Room.Phase != room.PhaseWinnersDeclared || info.Holding.Vault != 2_000 {
		t.Fatalf("room after failed settle = %+v", info)
	}
	for _, owner := range []address.Address{h.platform, h.charity, winner.Address()} {
		if got := h.balance(owner, h.mint); got != 0 {
			t.Fatalf("%s was paid %d by a failed bundle", owner, got)
		}
	}

	if _, err := h.ledger.Airdrop(h.ctx, caller.Address(), address.Zero, 100); err != nil {
		t.Fatalf("fund caller: %v", err)
	}
	h.clock.Advance(time.Second)
	res, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: caller})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Room.Phase != room.PhaseEnded {
		t.Fatalf("phase = %s", res.Room.Phase)
	}
	if got := h.balance(winner.Address(), h.mint); got != 400 {
		t.Fatalf("winner balance = %d, want 400", got)
	}
}

func TestSettleSplitsAccountCreationsWhenBundleIsFull(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *Config) { cfg.MaxInstructions = 6 })
	ref := h.createRoom(h.poolParams("small-bundles", 1_000, 5, 300, 2000, []uint8{100}))
	winner := h.player(1_000)
	h.mustJoin(ref, winner, 0)
	h.mustJoin(ref, h.player(1_000), 0)
	if _, err := h.declare(ref, winner.Address()); err != nil {
		t.Fatalf("declare: %v", err)
	}

	res, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: h.host})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(res.Prerequisites) != 1 {
		t.Fatalf("prerequisites = %d, want 1", len(res.Prerequisites))
	}
	if res.Status != submit.StatusConfirmed || res.Room.Phase != room.PhaseEnded {
		t.Fatalf("result = %+v", res)
	}

	balances := map[address.Address]uint64{
		h.platform:       400,
		h.host.Address(): 60,
		h.charity:        1_140,
		winner.Address(): 400,
	}
	for owner, want := range balances {
		if got := h.balance(owner, h.mint); got != want {
			t.Errorf("%s balance = %d, want %d", owner, got, want)
		}
	}

	subs, err := h.journal.ListSubmissions(h.ctx, res.Room.Address, submit.StatusConfirmed)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	ops := make(map[string]int)
	for _, sub := range subs {
		ops[sub.Operation]++
	}
	if ops["settle_prerequisite"] != 1 || ops["settle"] != 1 {
		t.Fatalf("journaled operations = %v", ops)
	}
}

func TestRecoverRefundsThenCleanup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ref := h.createRoom(h.poolParams("rained-out", 1_000, 5, 300, 2000, []uint8{100}))
	players := []*address.KeyPair{h.player(1_000), h.player(1_000), h.player(2_000)}
	for i, p := range players {
		var extras uint64
		if i == 2 {
			extras = 500
		}
		h.mustJoin(ref, p, extras)
	}

	stranger := h.key()
	if _, err := h.m.RecoverRoom(h.ctx, RecoverParams{Room: ref, Caller: stranger}); !apperrors.IsCode(err, apperrors.CodeRoomNotExpired) {
		t.Fatalf("early recover err = %v, want %s", err, apperrors.CodeRoomNotExpired)
	}
	if _, err := h.m.Cleanup(h.ctx, RoomParams{Room: ref, Signer: h.host}); !apperrors.IsCode(err, apperrors.CodeInvalidPhase) {
		t.Fatalf("early cleanup err = %v, want %s", err, apperrors.CodeInvalidPhase)
	}

	h.clock.Advance(2 * time.Hour)
	if info := h.info(ref); !info.Expired {
		t.Fatalf("room should be expired: %+v", info)
	}
	res, err := h.m.RecoverRoom(h.ctx, RecoverParams{Room: ref, Caller: stranger})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if res.Room.Phase != room.PhaseEnded || !res.Room.Recovered {
		t.Fatalf("room = %+v", res.Room)
	}
	if len(res.Distribution.Payouts) != 3 {
		t.Fatalf("payouts = %+v", res.Distribution.Payouts)
	}
	for i, p := range players {
		if got := res.Distribution.Payouts[i].Recipient; got != p.Address() {
			t.Fatalf("refund %d goes to %s, want %s in join order", i, got, p.Address())
		}
	}
	for i, want := range []uint64{1_000, 1_000, 2_000} {
		if got := h.balance(players[i].Address(), h.mint); got != want {
			t.Fatalf("player %d balance = %d, want %d", i, got, want)
		}
	}
	if _, err := h.m.Settle(h.ctx, SettleParams{Room: ref, Caller: h.host}); !apperrors.IsCode(err, apperrors.CodeInvalidPhase) {
		t.Fatalf("settle after recover err = %v, want %s", err, apperrors.CodeInvalidPhase)
	}

	cleaned, err := h.m.Cleanup(h.ctx, RoomParams{Room: ref, Signer: stranger})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned.Room.Phase != room.PhaseCleanedUp {
		t.Fatalf("phase = %s", cleaned.Room.Phase)
	}
	entries, err := h.ledger.ListAccounts(h.ctx, cleaned.Room.Address, chain.KindEntry)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries left after cleanup: %d", len(entries))
	}
	vault, err := h.ledger.GetAccounts(h.ctx, []address.Address{cleaned.Room.Vault})
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if vault[0] != nil {
		t.Fatalf("vault still open: %+v", vault[0])
	}
	for _, p := range players {
		wallet, err := h.ledger.GetAccount(h.ctx, p.Address())
		if err != nil {
			t.Fatalf("get wallet: %v", err)
		}
		if wallet.Amount != 1_000 {
			t.Fatalf("player wallet = %d, want entry reserve returned", wallet.Amount)
		}
	}
}

func TestIntegrityFailureReachesHook(t *testing.T) {
	t.Parallel()
	var replica *frozenRooms
	h := newHarness(t, func(cfg *Config) {
		replica = &frozenRooms{Client: cfg.Ledger}
		cfg.Ledger = replica
	})
	ref := h.createRoom(h.poolParams("lagging", 100, 5, 0, 2000, []uint8{100}))
	p := h.player(100)
	h.mustJoin(ref, p, 0)

	replica.freeze()
	_, err := h.declare(ref, p.Address())
	if !apperrors.IsCode(err, apperrors.CodeUnexpectedPhase) || !apperrors.IsIntegrity(err) {
		t.Fatalf("err = %v, want integrity %s", err, apperrors.CodeUnexpectedPhase)
	}
	got := h.integrityErrors()
	if len(got) != 1 || !apperrors.IsCode(got[0], apperrors.CodeUnexpectedPhase) {
		t.Fatalf("integrity hook saw %v", got)
	}

	roomAddr, err := ref.Address(h.m.Deriver())
	if err != nil {
		t.Fatalf("room address: %v", err)
	}
	acct, err := h.ledger.GetAccount(h.ctx, roomAddr)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	r, err := acct.Room()
	if err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if r.Phase != room.PhaseWinnersDeclared {
		t.Fatalf("ledger phase = %s, want %s", r.Phase, room.PhaseWinnersDeclared)
	}
}
