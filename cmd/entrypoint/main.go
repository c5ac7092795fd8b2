// Package main runs the ledger and settlement servers in one container.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
	"github.com/louisbranch/fundraising.space/internal/platform/logging"
)

// shutdownTimeout is the grace period before forcing child exit.
const shutdownTimeout = 10 * time.Second

type entrypointEnv struct {
	LedgerBin      string `env:"FUNDRAISING_SPACE_LEDGER_BIN" envDefault:"/app/ledger"`
	SettlementBin  string `env:"FUNDRAISING_SPACE_SETTLEMENT_BIN" envDefault:"/app/settlement"`
	LedgerPort     int    `env:"FUNDRAISING_SPACE_LEDGER_PORT" envDefault:"8091"`
	SettlementPort int    `env:"FUNDRAISING_SPACE_SETTLEMENT_PORT" envDefault:"8090"`
	LogLevel       string `env:"FUNDRAISING_SPACE_LOG_LEVEL" envDefault:"info"`
}

// childProcess describes a managed child command.
type childProcess struct {
	name string
	cmd  *exec.Cmd
}

// processExit reports a child process exit result.
type processExit struct {
	name string
	err  error
}

// main starts the ledger, then settlement pointed at it, and supervises both.
// Settlement waits for the ledger's health check on its own.
func main() {
	var env entrypointEnv
	config.ExitOnError("parse env", config.ParseEnv(&env))
	backend, err := logging.NewBackend(os.Stderr, env.LogLevel)
	config.ExitOnError("logging", err)
	log := backend.Logger(logging.SubsystemInit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := startChild("ledger", exec.Command(env.LedgerBin, "-port="+strconv.Itoa(env.LedgerPort)))
	if err != nil {
		log.Criticalf("Start ledger: %v", err)
		os.Exit(1)
	}

	settlementCmd := exec.Command(env.SettlementBin, "-port="+strconv.Itoa(env.SettlementPort))
	settlementCmd.Env = append(os.Environ(), fmt.Sprintf("FUNDRAISING_SPACE_LEDGER_ADDR=127.0.0.1:%d", env.LedgerPort))
	settlement, err := startChild("settlement", settlementCmd)
	if err != nil {
		terminateChildren([]*childProcess{ledger})
		log.Criticalf("Start settlement: %v", err)
		os.Exit(1)
	}

	children := []*childProcess{ledger, settlement}
	exitCh := make(chan processExit, len(children))
	for _, child := range children {
		go waitChild(child, exitCh)
	}

	select {
	case <-ctx.Done():
		log.Infof("Shutdown signal received")
		terminateChildren(children)
		waitForChildren(exitCh, len(children), shutdownTimeout, children)
	case exit := <-exitCh:
		logExit(log, exit)
		terminateChildren(children)
		waitForChildren(exitCh, len(children)-1, shutdownTimeout, children)
		os.Exit(exitCode(exit.err))
	}
}

func logExit(log slog.Logger, exit processExit) {
	if exit.err != nil {
		log.Errorf("%s exited: %v", exit.name, exit.err)
		return
	}
	log.Warnf("%s exited", exit.name)
}

// startChild starts a child process with inherited stdio streams.
func startChild(name string, cmd *exec.Cmd) (*childProcess, error) {
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &childProcess{name: name, cmd: cmd}, nil
}

// waitChild waits for a child process and reports its exit.
func waitChild(child *childProcess, exitCh chan<- processExit) {
	err := child.cmd.Wait()
	exitCh <- processExit{name: child.name, err: err}
}

// terminateChildren sends SIGTERM to all child processes.
func terminateChildren(children []*childProcess) {
	for _, child := range children {
		if child == nil || child.cmd == nil || child.cmd.Process == nil {
			continue
		}
		_ = child.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// waitForChildren waits for the remaining exits or forces shutdown.
func waitForChildren(exitCh <-chan processExit, remaining int, timeout time.Duration, children []*childProcess) {
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for remaining > 0 {
		select {
		case <-exitCh:
			remaining--
		case <-timer.C:
			forceKill(children)
			return
		}
	}
}

// forceKill sends SIGKILL to any child still running.
func forceKill(children []*childProcess) {
	for _, child := range children {
		if child == nil || child.cmd == nil || child.cmd.Process == nil {
			continue
		}
		if child.cmd.ProcessState != nil {
			continue
		}
		_ = child.cmd.Process.Kill()
	}
}

// exitCode derives a process exit code from a wait error. An integrity halt
// in settlement surfaces here as its non-zero exit.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
