package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/id"
	"github.com/louisbranch/fundraising.space/internal/platform/timeouts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Sender submits bundles and reports their status.
type Sender interface {
	Submit(ctx context.Context, b bundle.Bundle) (bundle.Digest, error)
	GetBundleStatus(ctx context.Context, digest bundle.Digest) (chain.BundleStatus, error)
}

// Probe re-reads authoritative state and reports whether the submission's
// intended effect is visible, e.g. the room now exists or is now Ended.
type Probe func(ctx context.Context) (bool, error)

// Request is one bundle to send. The bundle must already be signed.
type Request struct {
	Operation string
	Room      address.Address
	Bundle    bundle.Bundle
	Probe     Probe
}

// Outcome is the resolved result of a submission. Err is set for Failed and
// Unresolved outcomes.
type Outcome struct {
	Status Status
	Digest bundle.Digest
	Slot   uint64
	Err    error
}

// Retrier sends each bundle exactly once and determines its outcome.
type Retrier struct {
	sender         Sender
	journal        Journal
	log            slog.Logger
	tracer         trace.Tracer
	clock          func() time.Time
	submitTimeout  time.Duration
	confirmTimeout time.Duration
	pollInitial    time.Duration
	pollMax        time.Duration
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger.
func WithLogger(log slog.Logger) Option {
	return func(r *Retrier) {
		if log != nil {
			r.log = log
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Retrier) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithClock overrides the journal clock.
func WithClock(clock func() time.Time) Option {
	return func(r *Retrier) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithConfirmTimeout bounds confirmation polling.
func WithConfirmTimeout(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.confirmTimeout = d
		}
	}
}

// WithPollInterval sets the first and the largest delay between status polls.
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(r *Retrier) {
		if initial > 0 && maxInterval >= initial {
			r.pollInitial = initial
			r.pollMax = maxInterval
		}
	}
}

// NewRetrier builds a retrier. A nil journal discards journal writes.
func NewRetrier(sender Sender, journal Journal, opts ...Option) *Retrier {
	if journal == nil {
		journal = NopJournal{}
	}
	r := &Retrier{
		sender:         sender,
		journal:        journal,
		log:            slog.Disabled,
		tracer:         noop.NewTracerProvider().Tracer(""),
		clock:          time.Now,
		submitTimeout:  timeouts.LedgerSubmit,
		confirmTimeout: timeouts.Confirmation,
		pollInitial:    200 * time.Millisecond,
		pollMax:        2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit journals, sends and confirms one bundle. The returned error is
// only set when the bundle was never sent; every post-send result is an
// Outcome. The caller's context only cancels work before the send.
func (r *Retrier) Submit(ctx context.Context, req Request) (Outcome, error) {
	b := req.Bundle
	digest, err := b.Digest()
	if err != nil {
		return Outcome{}, err
	}
	ctx, span := r.tracer.Start(ctx, "submit.Submit", trace.WithAttributes(
		attribute.String("settlement.operation", req.Operation),
		attribute.String("room.address", req.Room.String()),
		attribute.String("bundle.digest", digest.String()),
		attribute.Int("bundle.instructions", len(b.Instructions)),
	))
	defer span.End()

	journalID, err := id.NewID()
	if err != nil {
		return Outcome{}, err
	}
	now := r.clock()
	if err := r.journal.BeginSubmission(ctx, Submission{
		ID:           journalID,
		Operation:    req.Operation,
		Room:         req.Room,
		Digest:       digest,
		RecentSlot:   b.RecentSlot,
		ExpiresAfter: b.ExpiresAfter(),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return Outcome{}, fmt.Errorf("journal submission: %w", err)
	}
	if err := ctx.Err(); err != nil {
		out := Outcome{Status: StatusFailed, Digest: digest, Err: err}
		r.finish(ctx, span, journalID, req, out)
		return out, err
	}

	// Past this point the bundle may land, so its outcome is always chased
	// to the end regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	_, sendErr := r.sender.Submit(sendCtx, b)
	cancel()

	confirmCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	var out Outcome
	switch code := apperrors.GetCode(sendErr); {
	case sendErr == nil:
		out = r.confirm(confirmCtx, req, digest)
	case code != apperrors.CodeUnknown && !code.Ambiguous():
		r.log.Infof("%s bundle %s rejected: %v", req.Operation, digest, sendErr)
		out = Outcome{Status: StatusFailed, Digest: digest, Err: sendErr}
	default:
		r.log.Warnf("%s bundle %s submission ambiguous: %v", req.Operation, digest, sendErr)
		out = r.resolve(confirmCtx, req, digest)
	}
	r.finish(ctx, span, journalID, req, out)
	return out, nil
}

var errPending = errors.New("bundle pending")

// confirm polls the bundle status until it is final, the bundle expires or
// the confirmation window closes.
func (r *Retrier) confirm(ctx context.Context, req Request, digest bundle.Digest) Outcome {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.pollInitial
	policy.MaxInterval = r.pollMax

	st, err := backoff.Retry(ctx, func() (chain.BundleStatus, error) {
		st, err := r.sender.GetBundleStatus(ctx, digest)
		if err != nil {
			if code := apperrors.GetCode(err); code != apperrors.CodeUnknown && code.Category() != apperrors.CategoryNetwork {
				return chain.BundleStatus{}, backoff.Permanent(err)
			}
			return chain.BundleStatus{}, err
		}
		if st.State == chain.StateUnknown && !req.Bundle.Expired(st.CurrentSlot) {
			return st, errPending
		}
		return st, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(r.confirmTimeout))
	if err == nil {
		switch st.State {
		case chain.StateProcessed:
			return Outcome{Status: StatusConfirmed, Digest: digest, Slot: st.Slot}
		case chain.StateFailed:
			return Outcome{Status: StatusFailed, Digest: digest, Slot: st.Slot, Err: failureErr(st)}
		}
	} else {
		r.log.Warnf("%s bundle %s unconfirmed: %v", req.Operation, digest, err)
	}
	return r.resolve(ctx, req, digest)
}

// resolve determines the outcome of an ambiguous submission from the
// bundle's recorded status, the caller's probe of authoritative state and
// the bundle's expiry. It never re-sends.
func (r *Retrier) resolve(ctx context.Context, req Request, digest bundle.Digest) Outcome {
	if ctx.Err() != nil {
		// The confirmation window is spent; allow one short read.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeouts.LedgerRead)
		defer cancel()
	}

	st, statusErr := r.sender.GetBundleStatus(ctx, digest)
	if statusErr == nil {
		switch st.State {
		case chain.StateProcessed:
			return Outcome{Status: StatusConfirmed, Digest: digest, Slot: st.Slot}
		case chain.StateFailed:
			return Outcome{Status: StatusFailed, Digest: digest, Slot: st.Slot, Err: failureErr(st)}
		}
	}

	if req.Probe != nil {
		landed, err := req.Probe(ctx)
		switch {
		case err != nil:
			r.log.Warnf("%s bundle %s probe failed: %v", req.Operation, digest, err)
		case landed:
			return Outcome{Status: StatusResolved, Digest: digest}
		}
	}

	if statusErr == nil && req.Bundle.Expired(st.CurrentSlot) {
		return Outcome{Status: StatusFailed, Digest: digest, Err: apperrors.WithMetadata(apperrors.CodeSubmissionExpired,
			fmt.Sprintf("bundle %s expired after slot %d without being processed", digest, req.Bundle.ExpiresAfter()),
			map[string]string{"Digest": digest.String(), "ExpiresAfter": fmt.Sprint(req.Bundle.ExpiresAfter())})}
	}

	cause := statusErr
	if cause == nil {
		cause = errPending
	}
	return Outcome{Status: StatusUnresolved, Digest: digest, Err: apperrors.WrapWithMetadata(apperrors.CodeUnresolvedOutcome,
		fmt.Sprintf("outcome of %s bundle %s is unknown", req.Operation, digest),
		map[string]string{"Digest": digest.String(), "Operation": req.Operation}, cause)}
}

func (r *Retrier) finish(ctx context.Context, span trace.Span, journalID string, req Request, out Outcome) {
	span.SetAttributes(attribute.String("submit.status", string(out.Status)))
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	if !out.Status.Succeeded() {
		span.SetStatus(codes.Error, string(out.Status))
	}
	if out.Status == StatusUnresolved {
		r.log.Errorf("%s bundle %s for room %s needs inspection: %v", req.Operation, out.Digest, req.Room, out.Err)
	}
	if err := r.journal.FinishSubmission(context.WithoutCancel(ctx), journalID, out, r.clock()); err != nil {
		r.log.Errorf("journal outcome of bundle %s: %v", out.Digest, err)
	}
}

func failureErr(st chain.BundleStatus) error {
	if st.Failure == nil {
		return apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("bundle %s failed without a reason", st.Digest))
	}
	return st.Failure.Err()
}
