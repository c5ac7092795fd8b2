package address

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
)

// MaxSeedLen bounds each derivation seed.
const MaxSeedLen = 32

// MaxRoomIDLen bounds room identifiers, which are used as a single seed.
const MaxRoomIDLen = MaxSeedLen

const derivationMarker = "DerivedAddress"

// Namespace separates the address spaces of the different account kinds.
type Namespace string

const (
	NamespaceRoom       Namespace = "room"
	NamespaceVault      Namespace = "vault"
	NamespacePrizeVault Namespace = "prize-vault"
	NamespaceEntry      Namespace = "entry"
	NamespaceConfig     Namespace = "config"
	NamespaceToken      Namespace = "token"
)

var (
	// ErrSeedTooLong is returned when a seed exceeds MaxSeedLen bytes.
	ErrSeedTooLong = errors.New("derivation seed exceeds 32 bytes")
	// ErrNoViableNonce is returned when every nonce yields an on-curve point.
	ErrNoViableNonce = errors.New("no off-curve nonce found")
)

// Deriver computes program-owned addresses. It is a pure value; the zero
// program id is valid but every deployment should configure its own.
type Deriver struct {
	program Address
}

// NewDeriver returns a deriver bound to a program id.
func NewDeriver(program Address) Deriver {
	return Deriver{program: program}
}

// Program returns the program id the deriver is bound to.
func (d Deriver) Program() Address {
	return d.program
}

// Find hashes the seeds with a nonce starting at 255 and walking down until
// the digest is not the x-coordinate of a curve point, so no private key can
// sign for the result. It returns the address and the nonce that produced it.
func (d Deriver) Find(seeds ...[]byte) (Address, uint8, error) {
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Zero, 0, ErrSeedTooLong
		}
	}
	for nonce := 255; nonce >= 0; nonce-- {
		candidate := d.hash(uint8(nonce), seeds)
		if !OnCurve(candidate) {
			return candidate, uint8(nonce), nil
		}
	}
	return Zero, 0, ErrNoViableNonce
}

// Verify reports whether addr is the derivation of seeds with nonce.
func (d Deriver) Verify(addr Address, nonce uint8, seeds ...[]byte) bool {
	want, wantNonce, err := d.Find(seeds...)
	return err == nil && want == addr && wantNonce == nonce
}

func (d Deriver) hash(nonce uint8, seeds [][]byte) Address {
	h := blake256.New()
	for _, seed := range seeds {
		h.Write([]byte{byte(len(seed))})
		h.Write(seed)
	}
	h.Write([]byte{nonce})
	h.Write(d.program[:])
	h.Write([]byte(derivationMarker))
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// OnCurve reports whether a is the x-coordinate of a secp256k1 point.
func OnCurve(a Address) bool {
	compressed := make([]byte, 0, 1+Size)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, a[:]...)
	_, err := secp256k1.ParsePubKey(compressed)
	return err == nil
}

// Derive maps (namespace, owner, key[, sub-index]) to an address. Callers
// normally use the typed helpers below.
func (d Deriver) Derive(ns Namespace, owner Address, key []byte, sub ...uint8) (Address, uint8, error) {
	seeds := [][]byte{[]byte(ns)}
	if ns != NamespaceConfig {
		seeds = append(seeds, owner[:])
	}
	if key != nil {
		seeds = append(seeds, key)
	}
	if len(sub) > 0 {
		seeds = append(seeds, []byte{sub[0]})
	}
	return d.Find(seeds...)
}

// Room derives the room account for a host and room id.
func (d Deriver) Room(host Address, roomID string) (Address, uint8, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return Zero, 0, err
	}
	return d.Derive(NamespaceRoom, host, []byte(roomID))
}

// Vault derives the holding account that custodies a room's collected funds.
func (d Deriver) Vault(room Address) (Address, uint8, error) {
	return d.Derive(NamespaceVault, room, nil)
}

// PrizeVault derives the escrow account for one asset prize slot.
func (d Deriver) PrizeVault(room Address, slot uint8) (Address, uint8, error) {
	return d.Derive(NamespacePrizeVault, room, nil, slot)
}

// Entry derives the player entry account for (room, player).
func (d Deriver) Entry(room, player Address) (Address, uint8, error) {
	return d.Derive(NamespaceEntry, room, player[:])
}

// Config derives the global configuration singleton.
func (d Deriver) Config() (Address, uint8, error) {
	return d.Derive(NamespaceConfig, Zero, nil)
}

// Token derives the associated currency account of owner for mint.
func (d Deriver) Token(owner, mint Address) (Address, uint8, error) {
	return d.Derive(NamespaceToken, owner, mint[:])
}

// ValidateRoomID checks the length and charset of a room identifier.
func ValidateRoomID(roomID string) error {
	if len(roomID) > MaxRoomIDLen {
		return apperrors.WithMetadata(apperrors.CodeRoomIDTooLong,
			fmt.Sprintf("room id is %d bytes, limit %d", len(roomID), MaxRoomIDLen),
			map[string]string{"Length": strconv.Itoa(len(roomID)), "Max": strconv.Itoa(MaxRoomIDLen)})
	}
	if roomID == "" {
		return apperrors.New(apperrors.CodeRoomIDInvalid, "room id is empty")
	}
	for _, r := range roomID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return apperrors.New(apperrors.CodeRoomIDInvalid, fmt.Sprintf("room id contains %q", r))
		}
	}
	return nil
}
