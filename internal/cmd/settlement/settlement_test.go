package settlement

import (
	"flag"
	"testing"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name string
		env  string
		args []string
		want int
	}{
		{name: "default", want: 8090},
		{name: "env", env: "9100", want: 9100},
		{name: "flag wins", env: "9100", args: []string{"-port", "9101"}, want: 9101},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("FUNDRAISING_SPACE_SETTLEMENT_PORT", tc.env)
			}
			cfg, err := ParseConfig(flag.NewFlagSet("settlement", flag.ContinueOnError), tc.args)
			if err != nil {
				t.Fatalf("parse config: %v", err)
			}
			if cfg.Port != tc.want {
				t.Fatalf("port = %d, want %d", cfg.Port, tc.want)
			}
		})
	}
}
