// Package config loads runtime configuration for the gophsync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config.
//  3. Command-line flags bound on the cobra root command (see BindFlags).
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "3s" or integer
// nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "database_path": "gophsync.db",
//	  "key_file": "gophsync.key",
//	  "request_timeout": "10s",
//	  "max_retries": 3,
//	  "upload_batch_size": 100,
//	  "collections": ["passwords", "bookmarks"],
//	  "log_level": "info"
//	}
package config
