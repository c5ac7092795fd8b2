package submit

import (
	"context"
	"time"

	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
)

// Status is the resolved outcome of a submission.
type Status string

const (
	// StatusPending is journaled before the bundle is sent.
	StatusPending Status = "pending"
	// StatusConfirmed means the ledger reported the bundle processed.
	StatusConfirmed Status = "confirmed"
	// StatusResolved means the confirmation was ambiguous but a re-read of
	// authoritative state shows the intended effect.
	StatusResolved Status = "resolved"
	// StatusFailed means the bundle definitely did not apply.
	StatusFailed Status = "failed"
	// StatusUnresolved means the outcome could not be determined and needs
	// manual inspection.
	StatusUnresolved Status = "unresolved"
)

// Succeeded reports whether the bundle's effect is known to have landed.
func (s Status) Succeeded() bool {
	return s == StatusConfirmed || s == StatusResolved
}

// Submission is one journaled bundle.
type Submission struct {
	ID           string
	Operation    string
	Room         address.Address
	Digest       bundle.Digest
	RecentSlot   uint64
	ExpiresAfter uint64
	Status       Status
	Slot         uint64
	ErrorCode    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Journal records every submission before it is sent and its outcome after.
type Journal interface {
	BeginSubmission(ctx context.Context, s Submission) error
	FinishSubmission(ctx context.Context, id string, outcome Outcome, at time.Time) error
}

// NopJournal discards journal writes.
type NopJournal struct{}

// BeginSubmission implements Journal.
func (NopJournal) BeginSubmission(context.Context, Submission) error { return nil }

// FinishSubmission implements Journal.
func (NopJournal) FinishSubmission(context.Context, string, Outcome, time.Time) error { return nil }
