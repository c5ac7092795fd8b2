// Package bundle defines the ordered, all-or-nothing operation bundles sent
// to the ledger program, their canonical encoding and their signatures.
package bundle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/decred/dcrd/crypto/blake256"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
)

// LifetimeSlots is how many slots after RecentSlot a bundle stays valid.
const LifetimeSlots = 150

// MaxInstructions is the largest bundle the ledger accepts.
const MaxInstructions = 32

// Instruction is one entry of a bundle: an operation kind applied to a
// target account with a kind-specific payload.
type Instruction struct {
	Target  address.Address   `json:"target"`
	Kind    Kind              `json:"kind"`
	Signers []address.Address `json:"signers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

// Signature is one signer's signature over the bundle digest.
type Signature struct {
	Signer    address.Address `json:"signer"`
	Signature []byte          `json:"signature"`
}

// Bundle is an ordered list of instructions executed atomically.
type Bundle struct {
	FeePayer     address.Address `json:"fee_payer"`
	RecentSlot   uint64          `json:"recent_slot"`
	Instructions []Instruction   `json:"instructions"`
	Signatures   []Signature     `json:"signatures,omitempty"`
}

// Digest identifies a bundle; it is the BLAKE-256 of the canonical message.
type Digest [32]byte

// String returns the hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes the hex form.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// message is the signed part of a bundle.
type message struct {
	FeePayer     address.Address `json:"fee_payer"`
	RecentSlot   uint64          `json:"recent_slot"`
	Instructions []Instruction   `json:"instructions"`
}

// Message returns the canonical encoding that is hashed and signed.
// Struct fields encode in declaration order and payloads are produced by
// NewInstruction, so equal bundles always encode to equal bytes.
func (b *Bundle) Message() ([]byte, error) {
	return json.Marshal(message{
		FeePayer:     b.FeePayer,
		RecentSlot:   b.RecentSlot,
		Instructions: b.Instructions,
	})
}

// Digest hashes the canonical message.
func (b *Bundle) Digest() (Digest, error) {
	msg, err := b.Message()
	if err != nil {
		return Digest{}, fmt.Errorf("encode bundle: %w", err)
	}
	return Digest(blake256.Sum256(msg)), nil
}

// RequiredSigners lists the fee payer followed by each distinct instruction
// signer in first-seen order.
func (b *Bundle) RequiredSigners() []address.Address {
	out := []address.Address{b.FeePayer}
	for _, ins := range b.Instructions {
		for _, signer := range ins.Signers {
			if !slices.Contains(out, signer) {
				out = append(out, signer)
			}
		}
	}
	return out
}

// Signer produces signatures for one wallet.
type Signer interface {
	Address() address.Address
	Sign(digest [32]byte) []byte
}

// Sign attaches a signature for every required signer. Signing replaces any
// previous signatures.
func (b *Bundle) Sign(signers ...Signer) (Digest, error) {
	digest, err := b.Digest()
	if err != nil {
		return Digest{}, err
	}
	byAddr := make(map[address.Address]Signer, len(signers))
	for _, s := range signers {
		byAddr[s.Address()] = s
	}
	required := b.RequiredSigners()
	b.Signatures = make([]Signature, 0, len(required))
	for _, addr := range required {
		s, ok := byAddr[addr]
		if !ok {
			return Digest{}, apperrors.New(apperrors.CodeInvalidSignature, fmt.Sprintf("no key to sign for %s", addr))
		}
		b.Signatures = append(b.Signatures, Signature{Signer: addr, Signature: s.Sign(digest)})
	}
	return digest, nil
}

// Verify checks that every required signer has a valid signature and
// returns the digest.
func (b *Bundle) Verify() (Digest, error) {
	digest, err := b.Digest()
	if err != nil {
		return Digest{}, err
	}
	for _, addr := range b.RequiredSigners() {
		idx := slices.IndexFunc(b.Signatures, func(s Signature) bool { return s.Signer == addr })
		if idx < 0 {
			return Digest{}, apperrors.New(apperrors.CodeInvalidSignature, fmt.Sprintf("missing signature for %s", addr))
		}
		if !address.VerifySignature(addr, digest, b.Signatures[idx].Signature) {
			return Digest{}, apperrors.New(apperrors.CodeInvalidSignature, fmt.Sprintf("bad signature for %s", addr))
		}
	}
	return digest, nil
}

// ExpiresAfter is the last slot at which the bundle may still be processed.
func (b *Bundle) ExpiresAfter() uint64 {
	return b.RecentSlot + LifetimeSlots
}

// Expired reports whether the bundle can no longer be processed.
func (b *Bundle) Expired(currentSlot uint64) bool {
	return currentSlot > b.ExpiresAfter()
}
