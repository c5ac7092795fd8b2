package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

var errNotServing = errors.New("health status is not SERVING")

// WaitForHealth blocks until the gRPC health check reports SERVING or the
// context ends, probing with capped exponential backoff.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := grpc_health_v1.NewHealthClient(conn)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return struct{}{}, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return struct{}{}, errNotServing
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wait for gRPC health: %w", ctxErr)
		}
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	return nil
}

// NewHealthServer returns a health server reporting SERVING for the empty
// service name and every name given.
func NewHealthServer(services ...string) *health.Server {
	srv := health.NewServer()
	srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, name := range services {
		srv.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return srv
}

// RegisterHealth attaches a health server to a gRPC server.
func RegisterHealth(server *gogrpc.Server, srv *health.Server) {
	grpc_health_v1.RegisterHealthServer(server, srv)
}
