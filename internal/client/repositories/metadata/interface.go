// Package metadata stores small key/value bookkeeping shared by all
// collections: schema version, sync ids, last sync timestamps.
package metadata

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
}

// Keys used by the sync engine. Per-collection keys are namespaced with
// the collection name.
const (
	KeySchemaVersion = "schema_version"
	KeyGlobalSyncID  = "global.sync_id"
	KeyUsername      = "auth.username"
	KeySalt          = "auth.salt"
	KeyVerifier      = "auth.verifier"
	KeyRefreshToken  = "auth.refresh_token"
)

func LastSyncKey(collection string) string { return collection + ".last_sync" }
func SyncIDKey(collection string) string   { return collection + ".sync_id" }

// SyncPrefix covers every per-collection sync key of collection.
func SyncPrefix(collection string) string { return collection + "." }
