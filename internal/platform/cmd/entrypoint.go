// Package cmd holds the startup sequence shared by the ledger and settlement
// commands: environment defaults, flag overrides, tracing and the run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
	"github.com/louisbranch/fundraising.space/internal/platform/logging"
	"github.com/louisbranch/fundraising.space/internal/platform/otel"
)

// Service names, used as the OpenTelemetry service.name.
const (
	ServiceSettlement = "settlement"
	ServiceLedger     = "ledger"
)

const defaultTelemetryFlush = 5 * time.Second

type runConfig struct {
	flush time.Duration
	log   slog.Logger
}

// Option adjusts Run.
type Option func(*runConfig)

// WithTelemetryFlush bounds how long Run waits for spans to export on exit.
func WithTelemetryFlush(d time.Duration) Option {
	return func(c *runConfig) {
		if d > 0 {
			c.flush = d
		}
	}
}

// WithLogger sets where Run reports telemetry shutdown failures.
func WithLogger(log slog.Logger) Option {
	return func(c *runConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs applies flag overrides on top of the environment.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// Run sets up tracing for service, runs fn and flushes spans once fn returns.
func Run(ctx context.Context, service string, fn func(context.Context) error, opts ...Option) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if fn == nil {
		return errors.New("run function is required")
	}
	cfg := runConfig{flush: defaultTelemetryFlush}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		backend, err := logging.NewBackend(os.Stderr, "info")
		if err != nil {
			return err
		}
		cfg.log = backend.Logger(logging.SubsystemInit)
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.flush)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			cfg.log.Warnf("%s telemetry shutdown: %v", service, err)
		}
	}()
	return fn(ctx)
}
