// Package address derives the deterministic account addresses used by the
// settlement program and holds the signing key pairs of wallet owners.
package address

import (
	"bytes"
	"fmt"

	"github.com/decred/base58"
)

// Size is the byte length of every address.
const Size = 32

// Address identifies an account on the ledger. Wallet addresses are x-only
// secp256k1 public keys; derived addresses are off-curve hashes.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

// FromBytes copies a 32-byte slice into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("address must be %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Parse decodes the base58 text form.
func Parse(s string) (Address, error) {
	raw := base58.Decode(s)
	if len(raw) == 0 && s != "" {
		return Zero, fmt.Errorf("address %q is not base58", s)
	}
	a, err := FromBytes(raw)
	if err != nil {
		return Zero, fmt.Errorf("parse address %q: %w", s, err)
	}
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 text form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Zero
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
