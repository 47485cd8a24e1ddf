package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/flagx"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// leave the corresponding Config field as it was.
type JsonConfig struct {
	ServerEndpointAddr *string         `json:"server_endpoint_addr"`
	DatabasePath       *string         `json:"database_path"`
	KeyFile            *string         `json:"key_file"`
	RequestTimeout     *timex.Duration `json:"request_timeout"`
	MaxRetries         *uint64         `json:"max_retries"`
	UploadBatchSize    *int            `json:"upload_batch_size"`
	Collections        []string        `json:"collections"`
	LogLevel           *string         `json:"log_level"`
	LogFile            *string         `json:"log_file"`
}

// parseJson overlays cfg with the file selected by -c/--config in args.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.DatabasePath != nil {
		cfg.DatabasePath = *jc.DatabasePath
	}
	if jc.KeyFile != nil {
		cfg.KeyFile = *jc.KeyFile
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.UploadBatchSize != nil {
		cfg.UploadBatchSize = *jc.UploadBatchSize
	}
	if jc.Collections != nil {
		cfg.Collections = jc.Collections
	}
	if jc.LogLevel != nil {
		cfg.LogLevel = *jc.LogLevel
	}
	if jc.LogFile != nil {
		cfg.LogFile = *jc.LogFile
	}
	return nil
}
