// Package settlement parses settlement service flags and launches the service.
package settlement

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/fundraising.space/internal/platform/cmd"
	server "github.com/louisbranch/fundraising.space/internal/services/settlement/app"
)

// Config holds settlement command configuration.
type Config struct {
	Port int `env:"FUNDRAISING_SPACE_SETTLEMENT_PORT" envDefault:"8090"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The settlement gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the settlement gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.Run(ctx, entrypoint.ServiceSettlement, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
