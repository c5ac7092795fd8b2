// Package lifecycle drives every room transition through the same pipeline:
// fetch authoritative state, run the pure pre-flight rules, derive addresses,
// resolve currency accounts, build, simulate, submit, confirm and re-fetch.
// Nothing here mutates a room locally; every change happens on the ledger.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/accounts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/builder"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config wires a Manager.
type Config struct {
	Ledger  chain.Client
	Deriver address.Deriver
	Journal submit.Journal
	// MaxInstructions lowers the per-bundle limit; zero keeps the ledger's.
	MaxInstructions int
	Logger          slog.Logger
	Tracer          trace.Tracer
	Clock           func() time.Time
	// OnIntegrity is called with every integrity error before it is
	// returned. Production wiring stops the process.
	OnIntegrity    func(error)
	RetrierOptions []submit.Option
}

// Manager runs room transitions.
type Manager struct {
	ledger      chain.Client
	deriver     address.Deriver
	resolver    *accounts.Resolver
	builder     *builder.Builder
	gate        *submit.Gate
	retrier     *submit.Retrier
	log         slog.Logger
	tracer      trace.Tracer
	clock       func() time.Time
	onIntegrity func(error)
}

// New builds a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if cfg.Deriver.Program().IsZero() {
		return nil, fmt.Errorf("program id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Disabled
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.OnIntegrity == nil {
		cfg.OnIntegrity = func(error) {}
	}
	var builderOpts []builder.Option
	if cfg.MaxInstructions > 0 {
		builderOpts = append(builderOpts, builder.WithMaxInstructions(cfg.MaxInstructions))
	}
	retrierOpts := append([]submit.Option{
		submit.WithLogger(cfg.Logger),
		submit.WithTracer(cfg.Tracer),
		submit.WithClock(cfg.Clock),
	}, cfg.RetrierOptions...)

	return &Manager{
		ledger:      cfg.Ledger,
		deriver:     cfg.Deriver,
		resolver:    accounts.NewResolver(cfg.Ledger, cfg.Deriver),
		builder:     builder.New(cfg.Deriver, builderOpts...),
		gate:        submit.NewGate(cfg.Ledger, cfg.Logger, cfg.Tracer),
		retrier:     submit.NewRetrier(cfg.Ledger, cfg.Journal, retrierOpts...),
		log:         cfg.Logger,
		tracer:      cfg.Tracer,
		clock:       cfg.Clock,
		onIntegrity: cfg.OnIntegrity,
	}, nil
}

// Deriver returns the address deriver in use.
func (m *Manager) Deriver() address.Deriver {
	return m.deriver
}

// RoomRef identifies a room by its host and id.
type RoomRef struct {
	Host   address.Address `json:"host"`
	RoomID string          `json:"room_id"`
}

// Address derives the room address.
func (ref RoomRef) Address(d address.Deriver) (address.Address, error) {
	addr, _, err := d.Room(ref.Host, ref.RoomID)
	return addr, err
}

// StatusUnchanged reports a transition that was already in effect, so
// nothing was submitted.
const StatusUnchanged submit.Status = "unchanged"

// Result is the success payload of a transition.
type Result struct {
	Signature     bundle.Digest              `json:"signature"`
	Status        submit.Status              `json:"status"`
	Prerequisites []bundle.Digest            `json:"prerequisites,omitempty"`
	Addresses     map[string]address.Address `json:"addresses"`
	Room          *room.Room                 `json:"room,omitempty"`
	Distribution  *room.Distribution         `json:"distribution,omitempty"`
}

// start opens the span of one transition.
func (m *Manager) start(ctx context.Context, op string, roomAddr address.Address) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(
		attribute.String("settlement.operation", op),
		attribute.String("room.address", roomAddr.String()),
	))
}

// end closes a span, escalating integrity errors.
func (m *Manager) end(span trace.Span, op string, res *Result, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
		if apperrors.IsIntegrity(err) {
			m.log.Criticalf("%s: integrity failure: %v", op, err)
			m.onIntegrity(err)
		}
		return
	}
	if res == nil {
		return
	}
	span.SetAttributes(
		attribute.String("bundle.digest", res.Signature.String()),
		attribute.String("submit.status", string(res.Status)),
	)
	if res.Room != nil {
		span.SetAttributes(attribute.String("room.phase", string(res.Room.Phase)))
	}
}

// execute signs, simulates and submits one bundle.
func (m *Manager) execute(ctx context.Context, op string, roomAddr address.Address, feePayer address.Address, signers []bundle.Signer, ins []bundle.Instruction, probe submit.Probe) (submit.Outcome, error) {
	slot, err := m.ledger.CurrentSlot(ctx)
	if err != nil {
		return submit.Outcome{}, err
	}
	b, err := m.builder.Bundle(feePayer, slot, ins)
	if err != nil {
		return submit.Outcome{}, err
	}
	if _, err := b.Sign(signers...); err != nil {
		return submit.Outcome{}, err
	}
	if err := m.gate.Check(ctx, b); err != nil {
		return submit.Outcome{}, err
	}
	out, err := m.retrier.Submit(ctx, submit.Request{Operation: op, Room: roomAddr, Bundle: b, Probe: probe})
	if err != nil {
		return out, err
	}
	if !out.Status.Succeeded() {
		return out, out.Err
	}
	m.log.Infof("%s %s for room %s (slot %d)", op, out.Status, roomAddr, out.Slot)
	return out, nil
}

// fetchRoom reads a room account.
func (m *Manager) fetchRoom(ctx context.Context, roomAddr address.Address) (*room.Room, error) {
	acct, err := m.ledger.GetAccount(ctx, roomAddr)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeAccountNotFound) {
			return nil, apperrors.WithMetadata(apperrors.CodeRoomNotFound,
				fmt.Sprintf("room %s not found", roomAddr), map[string]string{"Room": roomAddr.String()})
		}
		return nil, err
	}
	return acct.Room()
}

// fetchRef derives and reads a room.
func (m *Manager) fetchRef(ctx context.Context, ref RoomRef) (address.Address, *room.Room, error) {
	roomAddr, err := ref.Address(m.deriver)
	if err != nil {
		return address.Address{}, nil, err
	}
	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return roomAddr, nil, err
	}
	return roomAddr, r, nil
}

// fetchConfig reads the global configuration.
func (m *Manager) fetchConfig(ctx context.Context) (*room.GlobalConfig, error) {
	cfgAddr, _, err := m.deriver.Config()
	if err != nil {
		return nil, err
	}
	acct, err := m.ledger.GetAccount(ctx, cfgAddr)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeAccountNotFound) {
			return nil, apperrors.New(apperrors.CodeConfigNotInitialized, "global configuration is not initialized")
		}
		return nil, err
	}
	return acct.Config()
}

// roomProbe reports whether the re-fetched room satisfies landed.
func (m *Manager) roomProbe(roomAddr address.Address, landed func(*room.Room) bool) submit.Probe {
	return func(ctx context.Context) (bool, error) {
		r, err := m.fetchRoom(ctx, roomAddr)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeRoomNotFound) {
				return false, nil
			}
			return false, err
		}
		return landed(r), nil
	}
}

// refetch returns the room after a confirmed transition and checks it is
// at or past the phase the transition leads to. Later phases are fine since
// other actors may have moved the room on since.
func (m *Manager) refetch(ctx context.Context, roomAddr address.Address, want room.Phase) (*room.Room, error) {
	r, err := m.fetchRoom(ctx, roomAddr)
	if err != nil {
		return nil, err
	}
	if !r.Phase.AtLeast(want) {
		return r, room.UnexpectedPhase(r.Phase, want)
	}
	return r, nil
}

func signerList(signers ...bundle.Signer) []bundle.Signer {
	out := make([]bundle.Signer, 0, len(signers))
	for _, s := range signers {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func requireSigner(s bundle.Signer, field string) error {
	if s == nil {
		return apperrors.Field(apperrors.CodeInvalidArgument, field, field+" signer is required")
	}
	return nil
}
