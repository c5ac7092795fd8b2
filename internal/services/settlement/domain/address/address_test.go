package address

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/decred/dcrd/crypto/blake256"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
)

func testDeriver() Deriver {
	var program Address
	copy(program[:], []byte("fundraising-settlement-program!!"))
	return NewDeriver(program)
}

func TestRoomDerivationIsDeterministic(t *testing.T) {
	t.Parallel()
	d := testDeriver()
	host := mustKeyPair(t).Address()

	first, nonce1, err := d.Room(host, "quiz-night")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, nonce2, err := d.Room(host, "quiz-night")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if first != second || nonce1 != nonce2 {
		t.Fatalf("derivation not deterministic: %s/%d vs %s/%d", first, nonce1, second, nonce2)
	}

	other, _, err := d.Room(host, "bingo-night")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if other == first {
		t.Fatal("different room ids must derive different addresses")
	}

	otherHost := mustKeyPair(t).Address()
	sameIDOtherHost, _, err := d.Room(otherHost, "quiz-night")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if sameIDOtherHost == first {
		t.Fatal("same room id under another host must derive a different address")
	}
}

func TestDerivedAddressesAreOffCurve(t *testing.T) {
	t.Parallel()
	d := testDeriver()
	room, _, err := d.Room(mustKeyPair(t).Address(), "r1")
	if err != nil {
		t.Fatalf("derive room: %v", err)
	}
	player := mustKeyPair(t).Address()

	derivers := map[string]func() (Address, uint8, error){
		"vault":       func() (Address, uint8, error) { return d.Vault(room) },
		"prize-vault": func() (Address, uint8, error) { return d.PrizeVault(room, 2) },
		"entry":       func() (Address, uint8, error) { return d.Entry(room, player) },
		"config":      d.Config,
		"token":       func() (Address, uint8, error) { return d.Token(player, room) },
	}
	seen := map[Address]string{room: "room"}
	for name, derive := range derivers {
		addr, nonce, err := derive()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if OnCurve(addr) {
			t.Fatalf("%s address %s is on curve", name, addr)
		}
		if prev, dup := seen[addr]; dup {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[addr] = name
		if nonce == 0 && addr.IsZero() {
			t.Fatalf("%s returned zero address", name)
		}
	}
}

func TestFindSkipsOnCurveNonces(t *testing.T) {
	t.Parallel()
	d := testDeriver()
	// Walk several seeds until one needs more than the first nonce, and check
	// that every skipped nonce was on curve.
	for i := 0; i < 64; i++ {
		seed := []byte{byte(i)}
		addr, nonce, err := d.Find(seed)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		for skipped := 255; skipped > int(nonce); skipped-- {
			if !OnCurve(d.hash(uint8(skipped), [][]byte{seed})) {
				t.Fatalf("nonce %d was skipped but is off curve", skipped)
			}
		}
		if !d.Verify(addr, nonce, seed) {
			t.Fatal("verify rejected its own derivation")
		}
		if d.Verify(addr, nonce, []byte{byte(i), 0}) {
			t.Fatal("verify accepted different seeds")
		}
	}
}

func TestHashLayout(t *testing.T) {
	t.Parallel()
	d := testDeriver()
	seed := []byte("abc")
	var buf []byte
	buf = append(buf, 3)
	buf = append(buf, seed...)
	buf = append(buf, 255)
	buf = append(buf, d.program[:]...)
	buf = append(buf, "DerivedAddress"...)
	want := blake256.Sum256(buf)
	if got := d.hash(255, [][]byte{seed}); got != Address(want) {
		t.Fatalf("hash = %x, want %x", got, want)
	}
}

func TestFindRejectsLongSeed(t *testing.T) {
	t.Parallel()
	if _, _, err := testDeriver().Find(make([]byte, 33)); err != ErrSeedTooLong {
		t.Fatalf("err = %v, want ErrSeedTooLong", err)
	}
}

func TestValidateRoomID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		id   string
		want apperrors.Code
	}{
		{"simple", "quiz-night_01", ""},
		{"max length", strings.Repeat("a", 32), ""},
		{"too long", strings.Repeat("a", 33), apperrors.CodeRoomIDTooLong},
		{"empty", "", apperrors.CodeRoomIDInvalid},
		{"space", "quiz night", apperrors.CodeRoomIDInvalid},
		{"unicode", "sala-ção", apperrors.CodeRoomIDInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRoomID(tt.id)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !apperrors.IsCode(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
		})
	}
	if _, _, err := testDeriver().Room(Zero, strings.Repeat("x", 40)); !apperrors.IsCode(err, apperrors.CodeRoomIDTooLong) {
		t.Fatalf("Room err = %v", err)
	}
}

func TestAddressTextRoundTrip(t *testing.T) {
	t.Parallel()
	addr := mustKeyPair(t).Address()
	parsed, err := Parse(addr.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatal("parse did not round trip")
	}

	raw, err := json.Marshal(map[string]Address{"host": addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]Address
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["host"] != addr {
		t.Fatal("json did not round trip")
	}

	for _, bad := range []string{"", "0OIl", "3mJr7AoUXx2Wqd"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return kp
}
