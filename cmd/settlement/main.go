// Package main starts the settlement gRPC service process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	settlementcmd "github.com/louisbranch/fundraising.space/internal/cmd/settlement"
	"github.com/louisbranch/fundraising.space/internal/platform/config"
)

func main() {
	cfg, err := settlementcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ExitOnError("failed to serve", settlementcmd.Run(ctx, cfg))
}
