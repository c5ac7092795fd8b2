// Package main starts the local ledger gRPC service process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	ledgercmd "github.com/louisbranch/fundraising.space/internal/cmd/ledger"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
)

func main() {
	cfg, err := ledgercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ExitOnError("failed to serve", ledgercmd.Run(ctx, cfg))
}
