// Package storage is the local store: it opens and migrates the SQLite
// database and exposes record CRUD for every collection. The sync engine
// reaches the same tables through Repos inside its own transactions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/migrations"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/mirror"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/quarantine"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/staging"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	_ "modernc.org/sqlite"
)

// dsnParams apply to every pooled connection: concurrent readers under WAL,
// writers wait instead of failing, and transactions take the write lock up
// front.
const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Repos bundles the repositories of one collection bound to one handle,
// usually a transaction.
type Repos struct {
	Records    records.Repository
	Mirror     mirror.Repository
	Staging    staging.Repository
	Quarantine quarantine.Repository
	Metadata   metadata.Repository
}

func NewRepos(db dbx.DBTX, c *schema.Collection) Repos {
	return Repos{
		Records:    records.NewSQLiteRepository(db, c),
		Mirror:     mirror.NewSQLiteRepository(db, c),
		Staging:    staging.NewSQLiteRepository(db, c),
		Quarantine: quarantine.NewSQLiteRepository(db),
		Metadata:   metadata.NewSQLiteRepository(db),
	}
}

type Store struct {
	writer      *dbx.Writer
	boundary    *encryption.Boundary
	logger      logging.Logger
	collections []*schema.Collection
	now         func() time.Time
}

// Open opens the database at path, applies migrations and empties every
// staging table left over from an interrupted process.
func Open(ctx context.Context, path string, boundary *encryption.Boundary, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	version, err := migrations.Up(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		writer:      dbx.NewWriter(db),
		boundary:    boundary,
		logger:      logger.With("module", "storage"),
		collections: schema.Collections(),
		now:         time.Now,
	}

	err = s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := metadata.NewSQLiteRepository(tx).SetInt64(ctx, metadata.KeySchemaVersion, version); err != nil {
			return err
		}
		return s.clearStaging(ctx, tx)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug(ctx, "store opened", "path", path, "schema_version", version)
	return s, nil
}

func (s *Store) Close() error {
	return s.writer.DB().Close()
}

// Writer serializes every write to the store, including the sync engine's.
func (s *Store) Writer() *dbx.Writer {
	return s.writer
}

func (s *Store) Boundary() *encryption.Boundary {
	return s.boundary
}

func (s *Store) Collections() []*schema.Collection {
	return s.collections
}

func (s *Store) Metadata() metadata.Repository {
	return metadata.NewSQLiteRepository(s.writer.DB())
}

// Now is the store clock in Unix milliseconds.
func (s *Store) Now() int64 {
	return s.now().UnixMilli()
}

// ClearStaging empties the staging tables of every collection.
func (s *Store) ClearStaging(ctx context.Context) error {
	return s.writer.WithTx(ctx, s.clearStaging)
}

func (s *Store) clearStaging(ctx context.Context, tx dbx.DBTX) error {
	for _, c := range s.collections {
		if err := staging.NewSQLiteRepository(tx, c).Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ResetSyncState forgets everything learned from the server: mirrors,
// tombstones, staging, quarantine and sync bookkeeping. Local data is kept
// and will be uploaded in full by the next sync.
func (s *Store) ResetSyncState(ctx context.Context) error {
	err := s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		for _, c := range s.collections {
			if err := ResetCollection(ctx, NewRepos(tx, c), c); err != nil {
				return err
			}
		}
		return metadata.NewSQLiteRepository(tx).Delete(ctx, metadata.KeyGlobalSyncID)
	})
	if err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	s.logger.Info(ctx, "sync state reset")
	return nil
}

// ResetCollection is ResetSyncState for one collection, run inside the
// caller's transaction.
func ResetCollection(ctx context.Context, r Repos, c *schema.Collection) error {
	if err := r.Mirror.Clear(ctx); err != nil {
		return err
	}
	if err := r.Records.ClearTombstones(ctx); err != nil {
		return err
	}
	if err := r.Staging.Clear(ctx); err != nil {
		return err
	}
	if err := r.Quarantine.Clear(ctx, c.Name); err != nil {
		return err
	}
	return r.Metadata.DeletePrefix(ctx, metadata.SyncPrefix(c.Name))
}
