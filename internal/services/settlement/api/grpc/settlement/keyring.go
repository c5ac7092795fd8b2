package settlement

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
)

// Keyring holds the signing keys the service may use on behalf of hosts,
// players and the admin.
type Keyring struct {
	keys map[address.Address]*address.KeyPair
}

// NewKeyring parses hex-encoded secret keys. Blank entries are skipped.
func NewKeyring(secrets []string) (*Keyring, error) {
	k := &Keyring{keys: make(map[address.Address]*address.KeyPair, len(secrets))}
	for i, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		kp, err := address.ParseKeyPair(secret)
		if err != nil {
			return nil, fmt.Errorf("parse key %d: %w", i, err)
		}
		k.Add(kp)
	}
	return k, nil
}

// Add registers a key pair.
func (k *Keyring) Add(kp *address.KeyPair) {
	k.keys[kp.Address()] = kp
}

// Addresses lists the held keys in address order.
func (k *Keyring) Addresses() []address.Address {
	out := make([]address.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	slices.SortFunc(out, address.Address.Compare)
	return out
}

// Signer returns the key for addr. field names the request field for the
// error.
func (k *Keyring) Signer(addr address.Address, field string) (bundle.Signer, error) {
	if addr.IsZero() {
		return nil, apperrors.Field(apperrors.CodeInvalidArgument, field, field+" is required")
	}
	kp, ok := k.keys[addr]
	if !ok {
		return nil, apperrors.Fieldf(apperrors.CodeUnauthorized, field, "no signing key held for %s", addr)
	}
	return kp, nil
}
