package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeSender struct {
	mu        sync.Mutex
	submitErr error
	statuses  []chain.BundleStatus
	statusErr error
	sends     int
	polls     int
}

func (f *fakeSender) Submit(_ context.Context, b bundle.Bundle) (bundle.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	digest, err := b.Digest()
	if err != nil {
		return bundle.Digest{}, err
	}
	return digest, f.submitErr
}

func (f *fakeSender) GetBundleStatus(_ context.Context, digest bundle.Digest) (chain.BundleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return chain.BundleStatus{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return chain.BundleStatus{Digest: digest, State: chain.StateUnknown, CurrentSlot: 100}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	st.Digest = digest
	return st, nil
}

type fakeJournal struct {
	mu       sync.Mutex
	begun    []Submission
	finished map[string]Outcome
	err      error
}

func (j *fakeJournal) BeginSubmission(_ context.Context, s Submission) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.begun = append(j.begun, s)
	return nil
}

func (j *fakeJournal) FinishSubmission(_ context.Context, id string, out Outcome, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished == nil {
		j.finished = make(map[string]Outcome)
	}
	j.finished[id] = out
	return nil
}

func signedBundle(t *testing.T) bundle.Bundle {
	t.Helper()
	key, err := address.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ins, err := bundle.NewInstruction(address.Address{9}, bundle.KindRoomCloseJoining, bundle.CloseJoining{Signer: key.Address()}, key.Address())
	if err != nil {
		t.Fatalf("new instruction: %v", err)
	}
	b := bundle.Bundle{FeePayer: key.Address(), RecentSlot: 100, Instructions: []bundle.Instruction{ins}}
	if _, err := b.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return b
}

func newTestRetrier(sender Sender, journal Journal, opts ...Option) *Retrier {
	opts = append([]Option{
		WithPollInterval(time.Millisecond, 5*time.Millisecond),
		WithConfirmTimeout(200 * time.Millisecond),
	}, opts...)
	return NewRetrier(sender, journal, opts...)
}

func probeReturning(landed bool, calls *int) Probe {
	return func(context.Context) (bool, error) {
		*calls++
		return landed, nil
	}
}

func TestSubmitOutcomes(t *testing.T) {
	t.Parallel()

	processed := chain.BundleStatus{State: chain.StateProcessed, Slot: 101, CurrentSlot: 101}
	unknown := chain.BundleStatus{State: chain.StateUnknown, CurrentSlot: 101}
	expired := chain.BundleStatus{State: chain.StateUnknown, CurrentSlot: 100 + bundle.LifetimeSlots + 1}
	failed := chain.BundleStatus{State: chain.StateFailed, Slot: 101, CurrentSlot: 101,
		Failure: &chain.Failure{Code: apperrors.CodeRoomFull, Message: "room is full"}}

	tests := []struct {
		name       string
		submitErr  error
		statuses   []chain.BundleStatus
		landed     bool
		wantStatus Status
		wantCode   apperrors.Code
		wantProbe  bool
	}{
		{
			name:       "confirmed",
			statuses:   []chain.BundleStatus{processed},
			wantStatus: StatusConfirmed,
		},
		{
			name:       "confirmed after pending polls",
			statuses:   []chain.BundleStatus{unknown, unknown, processed},
			wantStatus: StatusConfirmed,
		},
		{
			name:       "execution failure",
			statuses:   []chain.BundleStatus{failed},
			wantStatus: StatusFailed,
			wantCode:   apperrors.CodeRoomFull,
		},
		{
			name:       "rejected before execution",
			submitErr:  apperrors.New(apperrors.CodeInvalidSignature, "bad signature"),
			wantStatus: StatusFailed,
			wantCode:   apperrors.CodeInvalidSignature,
		},
		{
			name:       "timeout but status shows processed",
			submitErr:  apperrors.New(apperrors.CodeNetworkTimeout, "deadline exceeded"),
			statuses:   []chain.BundleStatus{processed},
			wantStatus: StatusConfirmed,
		},
		{
			name:       "already processed resolved by probe",
			submitErr:  apperrors.New(apperrors.CodeAlreadyProcessed, "duplicate"),
			statuses:   []chain.BundleStatus{unknown},
			landed:     true,
			wantStatus: StatusResolved,
			wantProbe:  true,
		},
		{
			name:       "expired and unseen",
			submitErr:  apperrors.New(apperrors.CodeLedgerUnavailable, "unavailable"),
			statuses:   []chain.BundleStatus{expired},
			wantStatus: StatusFailed,
			wantCode:   apperrors.CodeSubmissionExpired,
			wantProbe:  true,
		},
		{
			name:       "untyped transport error unresolved",
			submitErr:  errors.New("connection reset"),
			statuses:   []chain.BundleStatus{unknown},
			wantStatus: StatusUnresolved,
			wantCode:   apperrors.CodeUnresolvedOutcome,
			wantProbe:  true,
		},
		{
			name:       "never confirmed and not expired",
			statuses:   []chain.BundleStatus{unknown},
			wantStatus: StatusUnresolved,
			wantCode:   apperrors.CodeUnresolvedOutcome,
			wantProbe:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &fakeSender{submitErr: tt.submitErr, statuses: tt.statuses}
			journal := &fakeJournal{}
			var probes int
			r := newTestRetrier(sender, journal)

			out, err := r.Submit(context.Background(), Request{
				Operation: "settle",
				Room:      address.Address{9},
				Bundle:    signedBundle(t),
				Probe:     probeReturning(tt.landed, &probes),
			})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if out.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s (err %v)", out.Status, tt.wantStatus, out.Err)
			}
			if tt.wantCode != "" && !apperrors.IsCode(out.Err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", out.Err, tt.wantCode)
			}
			if tt.wantCode == "" && out.Err != nil {
				t.Fatalf("unexpected err: %v", out.Err)
			}
			if sender.sends != 1 {
				t.Fatalf("sends = %d, want exactly 1", sender.sends)
			}
			if tt.wantProbe && probes == 0 {
				t.Fatal("expected the outcome to be probed")
			}
			if len(journal.begun) != 1 || journal.begun[0].Status != StatusPending {
				t.Fatalf("journal begun = %+v", journal.begun)
			}
			got, ok := journal.finished[journal.begun[0].ID]
			if !ok || got.Status != out.Status || got.Digest != out.Digest {
				t.Fatalf("journal finished = %+v, want %+v", got, out)
			}
		})
	}
}

func TestSubmitDoesNotSendWhenJournalFails(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	r := newTestRetrier(sender, &fakeJournal{err: errors.New("disk full")})
	if _, err := r.Submit(context.Background(), Request{Operation: "join", Bundle: signedBundle(t)}); err == nil {
		t.Fatal("expected journal error")
	}
	if sender.sends != 0 {
		t.Fatalf("sends = %d, want 0", sender.sends)
	}
}

func TestSubmitHonorsCancellationBeforeSend(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := newTestRetrier(sender, nil).Submit(ctx, Request{Operation: "join", Bundle: signedBundle(t)})
	if !errors.Is(err, context.Canceled) || out.Status != StatusFailed {
		t.Fatalf("outcome = %+v err = %v", out, err)
	}
	if sender.sends != 0 {
		t.Fatalf("sends = %d, want 0", sender.sends)
	}
}

func TestSubmitRecordsSpan(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	sender := &fakeSender{statuses: []chain.BundleStatus{{State: chain.StateProcessed, Slot: 101, CurrentSlot: 101}}}
	r := newTestRetrier(sender, nil, WithTracer(tp.Tracer("test")))

	if _, err := r.Submit(context.Background(), Request{Operation: "settle", Room: address.Address{9}, Bundle: signedBundle(t)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "submit.Submit" {
		t.Fatalf("spans = %v", spans)
	}
	var status string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "submit.status" {
			status = kv.Value.AsString()
		}
	}
	if status != string(StatusConfirmed) {
		t.Fatalf("submit.status = %q", status)
	}
}

type fakeSimulator struct {
	result chain.SimulationResult
	err    error
}

func (f fakeSimulator) Simulate(context.Context, bundle.Bundle) (chain.SimulationResult, error) {
	return f.result, f.err
}

func TestGateCheck(t *testing.T) {
	t.Parallel()
	boom := errors.New("ledger down")
	tests := []struct {
		name     string
		sim      fakeSimulator
		wantCode apperrors.Code
		wantErr  error
	}{
		{name: "ok", sim: fakeSimulator{result: chain.SimulationResult{OK: true}}},
		{
			name: "predicted failure",
			sim: fakeSimulator{result: chain.SimulationResult{
				Failure: &chain.Failure{Code: apperrors.CodeInsufficientFunds, Message: "short", Metadata: map[string]string{"Shortfall": "5"}},
				Logs:    []string{"join failed"},
			}},
			wantCode: apperrors.CodeInsufficientFunds,
		},
		{name: "failure without reason", sim: fakeSimulator{}, wantCode: apperrors.CodeUnknown},
		{name: "transport", sim: fakeSimulator{err: boom}, wantErr: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewGate(tt.sim, nil, nil).Check(context.Background(), signedBundle(t))
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantCode != "":
				var appErr *apperrors.Error
				if !errors.As(err, &appErr) || appErr.Code != tt.wantCode {
					t.Fatalf("err = %v, want %s", err, tt.wantCode)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
			}
		})
	}
	err := NewGate(fakeSimulator{result: chain.SimulationResult{Failure: &chain.Failure{
		Code: apperrors.CodeInsufficientFunds, Metadata: map[string]string{"Shortfall": "5"},
	}}}, nil, nil).Check(context.Background(), signedBundle(t))
	if apperrors.GetMetadata(err)["Shortfall"] != "5" {
		t.Fatalf("metadata = %v", apperrors.GetMetadata(err))
	}
}
