package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/decred/slog"
)

type testConfig struct {
	LedgerAddr string `env:"CMD_TEST_LEDGER_ADDR" envDefault:"127.0.0.1:8111"`
	Mint       string `env:"CMD_TEST_MINT" envDefault:"usdc"`
}

func TestParseConfigThenFlags(t *testing.T) {
	t.Setenv("CMD_TEST_LEDGER_ADDR", "env:9000")
	t.Setenv("CMD_TEST_MINT", "env-mint")

	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.LedgerAddr, "ledger", cfg.LedgerAddr, "ledger address")
	fs.StringVar(&cfg.Mint, "mint", cfg.Mint, "mint")
	if err := ParseArgs(fs, []string{"-ledger", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.LedgerAddr != "flag:9001" || cfg.Mint != "env-mint" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsNilInputs(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil target error")
	}
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected nil parser error")
	}
}

func TestRun(t *testing.T) {
	t.Setenv("FUNDRAISING_SPACE_OTEL_ENDPOINT", "")
	boom := errors.New("boom")

	tests := []struct {
		name    string
		service string
		fn      func(context.Context) error
		want    error
		wantErr bool
	}{
		{name: "blank service", service: " ", fn: func(context.Context) error { return nil }, wantErr: true},
		{name: "nil run", service: ServiceLedger, wantErr: true},
		{name: "run error", service: ServiceSettlement, fn: func(context.Context) error { return boom }, want: boom, wantErr: true},
		{name: "clean exit", service: ServiceSettlement, fn: func(context.Context) error { return nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(context.Background(), tc.service, tc.fn,
				WithTelemetryFlush(time.Second), WithLogger(slog.Disabled))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRunPassesContext(t *testing.T) {
	t.Setenv("FUNDRAISING_SPACE_OTEL_ENDPOINT", "")
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "settlement")

	err := Run(ctx, ServiceSettlement, func(got context.Context) error {
		if got.Value(key{}) != "settlement" {
			return errors.New("context not passed through")
		}
		return nil
	}, WithLogger(slog.Disabled))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}
