// Package storage defines persistence contracts for ledger state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// BundleRecord is the processing outcome of one bundle digest.
type BundleRecord struct {
	Digest     bundle.Digest
	State      chain.BundleState
	Slot       uint64
	Failure    *chain.Failure
	Logs       []string
	RecordedAt time.Time
}

// Status converts the record for the chain client.
func (r BundleRecord) Status(currentSlot uint64) chain.BundleStatus {
	return chain.BundleStatus{
		Digest:      r.Digest,
		State:       r.State,
		Slot:        r.Slot,
		CurrentSlot: currentSlot,
		Failure:     r.Failure,
	}
}

// AccountReader reads account state.
type AccountReader interface {
	// Account returns nil, nil when the account does not exist.
	Account(ctx context.Context, addr address.Address) (*chain.Account, error)
	AccountsByOwner(ctx context.Context, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error)
}

// Tx is one all-or-nothing unit of ledger writes.
type Tx interface {
	AccountReader
	PutAccount(ctx context.Context, acct *chain.Account) error
	DeleteAccount(ctx context.Context, addr address.Address) error
	Bundle(ctx context.Context, digest bundle.Digest) (BundleRecord, error)
	RecordBundle(ctx context.Context, rec BundleRecord) error
}

// Store persists ledger accounts and processed bundles.
type Store interface {
	AccountReader
	// Accounts returns one entry per address, nil for missing accounts.
	Accounts(ctx context.Context, addrs []address.Address) ([]*chain.Account, error)
	Bundle(ctx context.Context, digest bundle.Digest) (BundleRecord, error)
	RecordBundle(ctx context.Context, rec BundleRecord) error
	// Update runs fn in a transaction committed when fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// DryRun runs fn in a transaction that is always rolled back.
	DryRun(ctx context.Context, fn func(Tx) error) error
	Close() error
}
