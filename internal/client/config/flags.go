package config

import "github.com/spf13/pflag"

// BindFlags registers the configuration flags on fs. Each flag writes into
// cfg and defaults to cfg's current value, so call it after Load.
//
// -c/--config is registered too so the command line parses; its value was
// already consumed by Load.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringP("config", "c", "", "path to JSON config file")
	fs.StringVarP(&cfg.ServerEndpointAddr, "addr", "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "path to the local database")
	fs.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "path to the device key file")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "timeout of one remote call")
	fs.Uint64Var(&cfg.MaxRetries, "retries", cfg.MaxRetries, "retries of a remote call that failed with a transient error")
	fs.IntVar(&cfg.UploadBatchSize, "batch-size", cfg.UploadBatchSize, "records per upload batch")
	fs.StringSliceVar(&cfg.Collections, "collections", cfg.Collections, "collections to sync (default all)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file, rotated by size")
}
