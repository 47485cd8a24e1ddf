package syncer

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/models"
)

// KeyBundle hands out the provider sealing the records of one collection
// on the wire.
type KeyBundle interface {
	ProviderFor(collection string) (encryption.Provider, error)
}

// Credentials are what a session needs to talk to the remote store.
type Credentials struct {
	Token string
	Keys  KeyBundle
}

// AuthProvider supplies credentials. Refresh is called once when the
// remote rejects the current ones.
type AuthProvider interface {
	Credentials(ctx context.Context) (*Credentials, error)
	Refresh(ctx context.Context) (*Credentials, error)
}

// Transport moves envelopes to and from the remote store. Implementations
// retry transient failures themselves and report persistent ones as
// common.ErrUnavailable; rejected credentials are common.ErrorUnauthorized
// or common.ErrTokenExpired.
type Transport interface {
	InfoCollections(ctx context.Context, cred *Credentials) (map[string]int64, error)
	// MetaGlobal returns common.ErrorNotFound when the record is absent.
	MetaGlobal(ctx context.Context, cred *Credentials) (*MetaGlobal, error)
	PutMetaGlobal(ctx context.Context, cred *Credentials, mg *MetaGlobal) error
	Fetch(ctx context.Context, cred *Credentials, collection string, since int64) (*FetchResult, error)
	// Upload returns common.ErrConflict when the collection changed after
	// ifUnmodifiedSince.
	Upload(ctx context.Context, cred *Credentials, collection string, ifUnmodifiedSince int64, records []models.BSO) (*UploadResult, error)
}

// MetaGlobal is the account-wide record describing storage format and the
// sync ids of every collection.
type MetaGlobal struct {
	SyncID         string                `json:"syncID"`
	StorageVersion int                   `json:"storageVersion"`
	Engines        map[string]EngineMeta `json:"engines"`
	Declined       []string              `json:"declined,omitempty"`
}

type EngineMeta struct {
	Version int    `json:"version"`
	SyncID  string `json:"syncID"`
}

type FetchResult struct {
	Records []models.BSO
	// Timestamp is the collection's last-modified time on the server.
	Timestamp int64
}

type UploadResult struct {
	Accepted []string
	// Rejected maps guid to the server's reason.
	Rejected  map[string]string
	Timestamp int64
}
