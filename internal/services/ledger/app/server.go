// Package server wires the ledger runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
	platformgrpc "github.com/louisbranch/fundraising.space/internal/platform/grpc"
	"github.com/louisbranch/fundraising.space/internal/platform/logging"
	ledgerservice "github.com/louisbranch/fundraising.space/internal/services/ledger/api/grpc/ledger"
	"github.com/louisbranch/fundraising.space/internal/services/ledger/engine"
	ledgersqlite "github.com/louisbranch/fundraising.space/internal/services/ledger/storage/sqlite"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

type serverEnv struct {
	DBPath       string        `env:"FUNDRAISING_SPACE_LEDGER_DB_PATH"`
	ProgramID    string        `env:"FUNDRAISING_SPACE_PROGRAM_ID"`
	Reserve      uint64        `env:"FUNDRAISING_SPACE_LEDGER_RESERVE" envDefault:"2000"`
	SlotDuration time.Duration `env:"FUNDRAISING_SPACE_LEDGER_SLOT_DURATION" envDefault:"400ms"`
	AllowAirdrop bool          `env:"FUNDRAISING_SPACE_LEDGER_ALLOW_AIRDROP" envDefault:"true"`
	LogLevel     string        `env:"FUNDRAISING_SPACE_LOG_LEVEL" envDefault:"info"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return serverEnv{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "ledger.db")
	}
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = chain.DefaultProgramID
	}
	return cfg, nil
}

// Server hosts the ledger gRPC API and storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *ledgersqlite.Store
	log        slog.Logger
}

// New creates a configured ledger server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured ledger server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	srvEnv, err := loadServerEnv()
	if err != nil {
		return nil, err
	}
	program, err := address.Parse(srvEnv.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse program id: %w", err)
	}
	backend, err := logging.NewBackend(os.Stderr, srvEnv.LogLevel)
	if err != nil {
		return nil, err
	}
	log := backend.Logger(logging.SubsystemLedger)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openLedgerStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	ledger, err := engine.New(store, engine.Config{
		Program:      program,
		Reserve:      srvEnv.Reserve,
		SlotDuration: srvEnv.SlotDuration,
		AllowAirdrop: srvEnv.AllowAirdrop,
	}, log)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	grpcServer := grpc.NewServer(platformgrpc.DefaultServerOptions()...)
	ledgerservice.NewService(ledger).Register(grpcServer)
	healthServer := platformgrpc.NewHealthServer(chain.LedgerServiceName)
	platformgrpc.RegisterHealth(grpcServer, healthServer)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		log:        log,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a ledger server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.log.Infof("Ledger server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases ledger server resources.
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
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Errorf("Close ledger store: %v", err)
		}
	}
}

func openLedgerStore(path string) (*ledgersqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := ledgersqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger sqlite store: %w", err)
	}
	return store, nil
}
