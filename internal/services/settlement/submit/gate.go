// Package submit guards and sends bundles: a simulation gate that surfaces
// predicted failures before any submission cost is paid, and a retrier that
// sends exactly once and resolves ambiguous outcomes by re-reading state.
package submit

import (
	"context"
	"time"

	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/timeouts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Simulator dry-runs bundles.
type Simulator interface {
	Simulate(ctx context.Context, b bundle.Bundle) (chain.SimulationResult, error)
}

// Gate executes a bundle against current ledger state without committing.
type Gate struct {
	ledger  Simulator
	log     slog.Logger
	tracer  trace.Tracer
	timeout time.Duration
}

// NewGate builds a gate. A nil logger or tracer disables that output.
func NewGate(ledger Simulator, log slog.Logger, tracer trace.Tracer) *Gate {
	if log == nil {
		log = slog.Disabled
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Gate{ledger: ledger, log: log, tracer: tracer, timeout: timeouts.LedgerRead}
}

// Check returns the typed error the bundle would fail with, or nil when the
// simulation succeeds.
func (g *Gate) Check(ctx context.Context, b bundle.Bundle) error {
	ctx, span := g.tracer.Start(ctx, "submit.Simulate", trace.WithAttributes(
		attribute.Int("bundle.instructions", len(b.Instructions)),
	))
	defer span.End()

	simCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.ledger.Simulate(simCtx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulate")
		return err
	}
	if predicted := res.PredictedError(); predicted != nil {
		for _, line := range res.Logs {
			g.log.Debugf("simulation: %s", line)
		}
		span.SetAttributes(attribute.String("simulation.failure", string(apperrors.GetCode(predicted))))
		span.SetStatus(codes.Error, "predicted failure")
		return predicted
	}
	return nil
}
