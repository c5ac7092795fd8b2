package address

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyPair is a wallet secret whose public key has an even Y coordinate, so
// the 32-byte x-only address is enough to recover it for verification.
type KeyPair struct {
	priv *secp256k1.PrivateKey
	addr Address
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeyPair(priv), nil
}

// ParseKeyPair decodes a hex-encoded 32-byte secret.
func ParseKeyPair(secretHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret must be 32 bytes, got %d", len(raw))
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("secret is zero")
	}
	return newKeyPair(priv), nil
}

func newKeyPair(priv *secp256k1.PrivateKey) *KeyPair {
	comp := priv.PubKey().SerializeCompressed()
	if comp[0] == secp256k1.PubKeyFormatCompressedOdd {
		var neg secp256k1.ModNScalar
		neg.NegateVal(&priv.Key)
		negBytes := neg.Bytes()
		priv = secp256k1.PrivKeyFromBytes(negBytes[:])
		comp = priv.PubKey().SerializeCompressed()
	}
	kp := &KeyPair{priv: priv}
	copy(kp.addr[:], comp[1:])
	return kp
}

// Address returns the x-only public key.
func (k *KeyPair) Address() Address {
	return k.addr
}

// SecretHex returns the normalized secret.
func (k *KeyPair) SecretHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// Sign returns a DER-encoded ECDSA signature over a 32-byte digest.
func (k *KeyPair) Sign(digest [32]byte) []byte {
	return ecdsa.Sign(k.priv, digest[:]).Serialize()
}

// VerifySignature checks a DER signature against a wallet address.
func VerifySignature(signer Address, digest [32]byte, sig []byte) bool {
	compressed := append([]byte{secp256k1.PubKeyFormatCompressedEven}, signer[:]...)
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub)
}
