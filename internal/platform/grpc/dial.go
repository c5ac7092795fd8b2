// Package grpc holds the client and server plumbing shared by the
// settlement and ledger services.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Connector creates a client connection for a target.
type Connector interface {
	Connect(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)
}

// ConnectorFunc adapts a constructor function to the Connector interface.
type ConnectorFunc func(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Connect implements Connector for ConnectorFunc.
func (fn ConnectorFunc) Connect(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	return fn(addr, opts...)
}

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	// DialStageConnect indicates a connection construction failure.
	DialStageConnect DialStage = "connect"
	// DialStageHealth indicates the health check never reported SERVING.
	DialStageHealth DialStage = "health"
)

// DialError wraps dial and health check failures with a stage indicator.
type DialError struct {
	Stage DialStage
	Addr  string
	Err   error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	return fmt.Sprintf("gRPC %s error for %s: %v", e.Stage, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns standard dial options for in-cluster
// clients, with OTel stats so outbound calls carry trace context.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		gogrpc.WithChainUnaryInterceptor(UnaryErrorClientInterceptor()),
	}
}

// DefaultServerOptions returns the tracing and error-mapping options shared
// by every service.
func DefaultServerOptions() []gogrpc.ServerOption {
	return []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(UnaryErrorServerInterceptor()),
	}
}

// DialWithHealth connects to addr and waits until the named health service
// reports SERVING, bounded by healthTimeout. The connection is closed when
// the wait fails.
func DialWithHealth(ctx context.Context, connector Connector, addr, service string, healthTimeout time.Duration, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if connector == nil {
		connector = ConnectorFunc(gogrpc.NewClient)
	}
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}

	conn, err := connector.Connect(addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: DialStageConnect, Addr: addr, Err: err}
	}

	waitCtx := ctx
	if healthTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, healthTimeout)
		defer cancel()
	}
	if err := WaitForHealth(waitCtx, conn, service); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: DialStageHealth, Addr: addr, Err: err}
	}
	return conn, nil
}
