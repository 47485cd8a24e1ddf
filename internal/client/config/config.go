package config

import "time"

// Config holds runtime settings for the gophsync CLI.
type Config struct {
	ServerEndpointAddr string
	DatabasePath       string
	// KeyFile holds the device key that seals sensitive fields at rest.
	KeyFile         string
	RequestTimeout  time.Duration
	MaxRetries      uint64
	UploadBatchSize int
	// Collections limits syncing to the named collections; empty means all.
	Collections []string
	LogLevel    string
	// LogFile sends logs to a rotated file instead of stderr.
	LogFile string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DatabasePath = "gophsync.db"
	c.KeyFile = "gophsync.key"
	c.RequestTimeout = 10 * time.Second
	c.MaxRetries = 3
	c.UploadBatchSize = 100
	c.Collections = nil
	c.LogLevel = "warn"
	c.LogFile = ""
}

// Load applies defaults and then the JSON file named by -c/--config in args,
// if any. Command-line flags are bound afterwards with BindFlags, so they
// take precedence.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
