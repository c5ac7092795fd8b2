// Package ledger parses ledger service flags and launches the service.
package ledger

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/fundraising.space/internal/platform/cmd"
	server "github.com/louisbranch/fundraising.space/internal/services/ledger/app"
)

// Config holds ledger command configuration.
type Config struct {
	Port int `env:"FUNDRAISING_SPACE_LEDGER_PORT" envDefault:"8091"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ledger gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ledger gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.Run(ctx, entrypoint.ServiceLedger, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
