// Package otel configures OpenTelemetry tracing for service processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/fundraising.space/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type tracingEnv struct {
	Endpoint    string  `env:"FUNDRAISING_SPACE_OTEL_ENDPOINT"`
	Enabled     string  `env:"FUNDRAISING_SPACE_OTEL_ENABLED"`
	SampleRatio float64 `env:"FUNDRAISING_SPACE_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Validate implements config.Validator.
func (e *tracingEnv) Validate() error {
	if e.SampleRatio < 0 || e.SampleRatio > 1 {
		return fmt.Errorf("otel sample ratio %v is outside [0, 1]", e.SampleRatio)
	}
	return nil
}

func (e *tracingEnv) active() bool {
	return e.Endpoint != "" && !strings.EqualFold(e.Enabled, "false")
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when FUNDRAISING_SPACE_OTEL_ENDPOINT is empty or
// FUNDRAISING_SPACE_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg tracingEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return noop, err
	}
	if !cfg.active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider. Callers that never
// ran Setup get the no-op tracer registered by default.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// sampler follows the parent's decision and samples new roots at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
