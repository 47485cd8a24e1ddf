package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    func(c *Config)
		wantErr bool
	}{
		{name: "no flags keep defaults", args: nil, want: func(*Config) {}},
		{
			name: "all flags",
			args: []string{"-a", "10.0.0.1:9090", "--db", "/tmp/x.db", "--key-file", "/tmp/k",
				"--timeout", "3s", "--retries", "0", "--batch-size", "7",
				"--collections", "passwords,history", "--log-level", "debug", "--log-file", "/tmp/gs.log", "-c", "ignored.json"},
			want: func(c *Config) {
				c.ServerEndpointAddr = "10.0.0.1:9090"
				c.DatabasePath = "/tmp/x.db"
				c.KeyFile = "/tmp/k"
				c.RequestTimeout = 3 * time.Second
				c.MaxRetries = 0
				c.UploadBatchSize = 7
				c.Collections = []string{"passwords", "history"}
				c.LogLevel = "debug"
				c.LogFile = "/tmp/gs.log"
			},
		},
		{name: "bad duration", args: []string{"--timeout", "abc"}, wantErr: true},
		{name: "bad batch size", args: []string{"--batch-size", "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			BindFlags(fs, cfg)

			err := fs.Parse(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := defaults()
			tt.want(want)
			assert.Empty(t, cmp.Diff(want, cfg))
		})
	}
}
