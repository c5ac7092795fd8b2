package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialWithHealthSuccess(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	conn, err := DialWithHealth(context.Background(), nil, addr, "", 2*time.Second)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
}

func TestDialWithHealthTransitionsToServing(t *testing.T) {
	addr, srv, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	go func() {
		time.Sleep(150 * time.Millisecond)
		srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	conn, err := DialWithHealth(context.Background(), nil, addr, "", 2*time.Second)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	_ = conn.Close()
}

func TestDialWithHealthErrorStages(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		connector := ConnectorFunc(func(string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
			return nil, errors.New("bad target")
		})
		_, err := DialWithHealth(context.Background(), connector, "unused", "", time.Second)
		var dialErr *DialError
		if !errors.As(err, &dialErr) {
			t.Fatalf("expected DialError, got %T", err)
		}
		if dialErr.Stage != DialStageConnect {
			t.Fatalf("stage = %q, want %q", dialErr.Stage, DialStageConnect)
		}
	})

	t.Run("health", func(t *testing.T) {
		addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		defer stop()

		start := time.Now()
		_, err := DialWithHealth(context.Background(), nil, addr, "", 300*time.Millisecond)
		var dialErr *DialError
		if !errors.As(err, &dialErr) {
			t.Fatalf("expected DialError, got %T", err)
		}
		if dialErr.Stage != DialStageHealth {
			t.Fatalf("stage = %q, want %q", dialErr.Stage, DialStageHealth)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("health timeout not honoured, took %v", elapsed)
		}
	})
}

func TestDialErrorFormatting(t *testing.T) {
	wrapped := &DialError{Stage: DialStageConnect, Addr: "ledger:8111", Err: errors.New("boom")}
	if !strings.Contains(wrapped.Error(), "gRPC connect error for ledger:8111") {
		t.Fatalf("unexpected error: %s", wrapped.Error())
	}
	if wrapped.Unwrap() == nil {
		t.Fatal("expected wrapped error")
	}

	var nilErr *DialError
	if nilErr.Error() == "" {
		t.Fatal("expected fallback error message")
	}
	if nilErr.Unwrap() != nil {
		t.Fatal("expected nil unwrap for nil error")
	}
}

func TestWaitForHealthRequiresConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestWaitForHealthNamedService(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer()
	grpc_health_v1.RegisterHealthServer(server, NewHealthServer("ledger.v1.LedgerService"))
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := gogrpc.NewClient(lis.Addr().String(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForHealth(ctx, conn, "ledger.v1.LedgerService"); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) (string, *health.Server, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", status)
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(lis) }()
	return lis.Addr().String(), healthServer, func() {
		server.Stop()
		_ = lis.Close()
	}
}
