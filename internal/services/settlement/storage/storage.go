// Package storage defines persistence contracts for the settlement service:
// the submission journal and the off-chain payments ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SubmissionStore is the durable submission journal.
type SubmissionStore interface {
	submit.Journal
	GetSubmission(ctx context.Context, id string) (submit.Submission, error)
	// ListSubmissions returns a room's submissions, newest first. An empty
	// status lists every status.
	ListSubmissions(ctx context.Context, room address.Address, status submit.Status) ([]submit.Submission, error)
}

// PaymentKind classifies off-chain collections.
type PaymentKind string

const (
	// PaymentTicket is ticket revenue collected outside the ledger.
	PaymentTicket PaymentKind = "ticket"
	// PaymentOffChain is any other cash or bank payment tied to a room.
	PaymentOffChain PaymentKind = "offchain"
)

// ParsePaymentKind accepts the stored names.
func ParsePaymentKind(raw string) (PaymentKind, error) {
	switch PaymentKind(raw) {
	case PaymentTicket, PaymentOffChain:
		return PaymentKind(raw), nil
	default:
		return "", fmt.Errorf("unknown payment kind %q", raw)
	}
}

// Payment is one off-chain collection for a room.
type Payment struct {
	ID         string          `json:"id"`
	Room       address.Address `json:"room"`
	Kind       PaymentKind     `json:"kind"`
	Amount     uint64          `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ExternalTotals sums a room's off-chain collections.
type ExternalTotals struct {
	TicketRevenue    uint64 `json:"ticket_revenue"`
	OffChainPayments uint64 `json:"off_chain_payments"`
}

// PaymentStore is the off-chain payments ledger.
type PaymentStore interface {
	RecordPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, room address.Address) ([]Payment, error)
	GetExternalTotals(ctx context.Context, room address.Address) (ExternalTotals, error)
}

// Store is the settlement service's storage.
type Store interface {
	SubmissionStore
	PaymentStore
	Close() error
}
