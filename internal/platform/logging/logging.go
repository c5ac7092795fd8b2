// Package logging provides leveled subsystem loggers backed by
// github.com/decred/slog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/decred/slog"
)

// Subsystem tags used across services.
const (
	SubsystemSettlement = "STLM"
	SubsystemLedger     = "LDGR"
	SubsystemChain      = "CHAN"
	SubsystemInit       = "INIT"
)

// Backend hands out subsystem loggers that share one writer and level.
type Backend struct {
	backend *slog.Backend

	mu      sync.Mutex
	level   slog.Level
	loggers map[string]slog.Logger
}

// NewBackend returns a backend writing to w at the named level.
func NewBackend(w io.Writer, level string) (*Backend, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	return &Backend{
		backend: slog.NewBackend(w),
		level:   parsed,
		loggers: map[string]slog.Logger{},
	}, nil
}

// Logger returns the logger for a subsystem tag, creating it on first use.
func (b *Backend) Logger(subsystem string) slog.Logger {
	if b == nil {
		return slog.Disabled
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger, ok := b.loggers[subsystem]; ok {
		return logger
	}
	logger := b.backend.Logger(subsystem)
	logger.SetLevel(b.level)
	b.loggers[subsystem] = logger
	return logger
}

// SetLevel changes the level of every logger handed out so far and of those
// created later.
func (b *Backend) SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = parsed
	for _, logger := range b.loggers {
		logger.SetLevel(parsed)
	}
	return nil
}

// ParseLevel converts a level name such as "info" or "debug".
func ParseLevel(level string) (slog.Level, error) {
	trimmed := strings.ToLower(strings.TrimSpace(level))
	if trimmed == "" {
		return slog.LevelInfo, nil
	}
	parsed, ok := slog.LevelFromString(trimmed)
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return parsed, nil
}

// Disabled is a logger that discards everything, used when no backend is
// wired.
var Disabled = slog.Disabled
