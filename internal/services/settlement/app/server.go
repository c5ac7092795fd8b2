// Package server wires the settlement runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
	platformgrpc "github.com/louisbranch/fundraising.space/internal/platform/grpc"
	"github.com/louisbranch/fundraising.space/internal/platform/logging"
	"github.com/louisbranch/fundraising.space/internal/platform/otel"
	settlementservice "github.com/louisbranch/fundraising.space/internal/services/settlement/api/grpc/settlement"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/lifecycle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/reconcile"
	settlementsqlite "github.com/louisbranch/fundraising.space/internal/services/settlement/storage/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// errIntegrity stops the server after the settlement layer observed ledger
// state it cannot explain.
var errIntegrity = errors.New("settlement halted on integrity failure")

type serverEnv struct {
	DBPath          string        `env:"FUNDRAISING_SPACE_SETTLEMENT_DB_PATH"`
	LedgerAddr      string        `env:"FUNDRAISING_SPACE_LEDGER_ADDR" envDefault:"localhost:8091"`
	LedgerWait      time.Duration `env:"FUNDRAISING_SPACE_LEDGER_HEALTH_TIMEOUT" envDefault:"10s"`
	ProgramID       string        `env:"FUNDRAISING_SPACE_PROGRAM_ID"`
	Keys            []string      `env:"FUNDRAISING_SPACE_SETTLEMENT_KEYS" envSeparator:","`
	MaxInstructions int           `env:"FUNDRAISING_SPACE_SETTLEMENT_MAX_INSTRUCTIONS"`
	LogLevel        string        `env:"FUNDRAISING_SPACE_LOG_LEVEL" envDefault:"info"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return serverEnv{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "settlement.db")
	}
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = chain.DefaultProgramID
	}
	if cfg.MaxInstructions < 0 {
		return serverEnv{}, fmt.Errorf("max instructions must not be negative")
	}
	return cfg, nil
}

// Server hosts the settlement gRPC API and its ledger connection.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	ledger     *grpc.ClientConn
	store      *settlementsqlite.Store
	log        slog.Logger

	haltOnce sync.Once
	halted   chan struct{}
}

// New creates a configured settlement server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured settlement server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	srvEnv, err := loadServerEnv()
	if err != nil {
		return nil, err
	}
	program, err := address.Parse(srvEnv.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse program id: %w", err)
	}
	keys, err := settlementservice.NewKeyring(srvEnv.Keys)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	backend, err := logging.NewBackend(os.Stderr, srvEnv.LogLevel)
	if err != nil {
		return nil, err
	}
	log := backend.Logger(logging.SubsystemSettlement)

	conn, err := platformgrpc.DialWithHealth(context.Background(), nil, srvEnv.LedgerAddr, chain.LedgerServiceName, srvEnv.LedgerWait)
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openSettlementStore(srvEnv.DBPath)
	if err != nil {
		_ = conn.Close()
		_ = listener.Close()
		return nil, err
	}

	s := &Server{
		listener: listener,
		ledger:   conn,
		store:    store,
		log:      log,
		halted:   make(chan struct{}),
	}
	manager, err := lifecycle.New(lifecycle.Config{
		Ledger:          chain.NewGRPCClient(conn, backend.Logger(logging.SubsystemChain)),
		Deriver:         address.NewDeriver(program),
		Journal:         store,
		MaxInstructions: srvEnv.MaxInstructions,
		Logger:          log,
		Tracer:          otel.Tracer("settlement"),
		OnIntegrity:     s.halt,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	reconciler, err := reconcile.New(manager, store, store, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.grpcServer = grpc.NewServer(platformgrpc.DefaultServerOptions()...)
	settlementservice.NewService(settlementservice.Deps{
		Lifecycle:  manager,
		Reconciler: reconciler,
		Payments:   store,
		Keys:       keys,
	}).Register(s.grpcServer)
	s.health = platformgrpc.NewHealthServer(settlementservice.ServiceName)
	platformgrpc.RegisterHealth(s.grpcServer, s.health)

	for _, signer := range keys.Addresses() {
		log.Debugf("Holding signing key for %s", signer)
	}
	return s, nil
}

// halt records an integrity failure and asks Serve to stop.
func (s *Server) halt(err error) {
	s.haltOnce.Do(func() {
		s.log.Criticalf("Halting settlement: %v", err)
		close(s.halted)
	})
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a settlement server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation or an integrity
// failure.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.log.Infof("Settlement server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	stop := func() error {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		return stop()
	case <-s.halted:
		if err := stop(); err != nil {
			return errors.Join(errIntegrity, err)
		}
		return errIntegrity
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases settlement server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.ledger != nil {
		_ = s.ledger.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Errorf("Close settlement store: %v", err)
		}
	}
}

func openSettlementStore(path string) (*settlementsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := settlementsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settlement sqlite store: %w", err)
	}
	return store, nil
}
