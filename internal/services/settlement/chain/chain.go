// Package chain is the boundary to the ledger program that executes
// settlement bundles.
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
)

// Client reads authoritative ledger state and submits bundles.
type Client interface {
	// GetAccount fails with ACCOUNT_NOT_FOUND when the account does not exist.
	GetAccount(ctx context.Context, addr address.Address) (*Account, error)
	// GetAccounts returns one entry per address, nil for missing accounts.
	GetAccounts(ctx context.Context, addrs []address.Address) ([]*Account, error)
	// ListAccounts returns the accounts of one kind owned by owner, ordered
	// by address.
	ListAccounts(ctx context.Context, owner address.Address, kind AccountKind) ([]*Account, error)
	CurrentSlot(ctx context.Context) (uint64, error)
	// Simulate executes the bundle without committing.
	Simulate(ctx context.Context, b bundle.Bundle) (SimulationResult, error)
	// Submit sends the bundle once. Execution failures are reported through
	// GetBundleStatus; Submit only fails when the bundle was not accepted or
	// the transport is ambiguous.
	Submit(ctx context.Context, b bundle.Bundle) (bundle.Digest, error)
	GetBundleStatus(ctx context.Context, digest bundle.Digest) (BundleStatus, error)
}

// AccountKind distinguishes the record an account holds.
type AccountKind string

const (
	KindWallet AccountKind = "wallet"
	KindToken  AccountKind = "token"
	KindRoom   AccountKind = "room"
	KindEntry  AccountKind = "entry"
	KindConfig AccountKind = "config"
)

// Account is a ledger account. Amount is the native balance for wallets and
// the currency balance for token accounts. Reserve is the storage deposit
// locked while the account exists.
type Account struct {
	Address address.Address `json:"address"`
	Kind    AccountKind     `json:"kind"`
	Owner   address.Address `json:"owner"`
	Mint    address.Address `json:"mint,omitempty"`
	Amount  uint64          `json:"amount"`
	Reserve uint64          `json:"reserve"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Room decodes a room account.
func (a *Account) Room() (*room.Room, error) {
	var r room.Room
	if err := a.decode(KindRoom, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Entry decodes a player entry account.
func (a *Account) Entry() (*room.PlayerEntry, error) {
	var e room.PlayerEntry
	if err := a.decode(KindEntry, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Config decodes the global configuration account.
func (a *Account) Config() (*room.GlobalConfig, error) {
	var c room.GlobalConfig
	if err := a.decode(KindConfig, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *Account) decode(kind AccountKind, v any) error {
	if a.Kind != kind {
		return apperrors.WithMetadata(apperrors.CodeAccountMismatch,
			fmt.Sprintf("account %s is %s, want %s", a.Address, a.Kind, kind),
			map[string]string{"Account": a.Address.String()})
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("decode %s account %s: %w", kind, a.Address, err)
	}
	return nil
}

// NotFound is the resource error for a missing account.
func NotFound(addr address.Address) error {
	return apperrors.WithMetadata(apperrors.CodeAccountNotFound,
		fmt.Sprintf("account %s not found", addr),
		map[string]string{"Account": addr.String()})
}

// BundleState is the processing state of a submitted bundle.
type BundleState string

const (
	// StateUnknown means the ledger has not processed the digest.
	StateUnknown   BundleState = "unknown"
	StateProcessed BundleState = "processed"
	StateFailed    BundleState = "failed"
)

// Failure is a typed execution error carried over the wire.
type Failure struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FailureOf captures an execution error; nil stays nil.
func FailureOf(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{
		Code:     apperrors.GetCode(err),
		Message:  err.Error(),
		Metadata: apperrors.GetMetadata(err),
	}
}

// Err rebuilds the domain error.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	return apperrors.WithMetadata(f.Code, f.Message, f.Metadata)
}

// BundleStatus reports what the ledger knows about a digest.
type BundleStatus struct {
	Digest      bundle.Digest `json:"digest"`
	State       BundleState   `json:"state"`
	Slot        uint64        `json:"slot,omitempty"`
	CurrentSlot uint64        `json:"current_slot"`
	Failure     *Failure      `json:"failure,omitempty"`
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	OK      bool     `json:"ok"`
	Failure *Failure `json:"failure,omitempty"`
	Logs    []string `json:"logs,omitempty"`
}

// PredictedError returns the error the bundle would fail with.
func (r SimulationResult) PredictedError() error {
	if r.OK {
		return nil
	}
	if r.Failure == nil {
		return apperrors.New(apperrors.CodeUnknown, "simulation failed without a reason")
	}
	return r.Failure.Err()
}
