// Package records owns a collection's data and tombstone tables. It
// enforces the cross-table rules of the local store inside the caller's
// transaction and doubles as the change tracker.
//
// Fields passed to and returned from this package are stored fields:
// sensitive values are envelopes, never plaintext.
package records

import (
	"context"
	"iter"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
)

type Repository interface {
	// Insert adds a new row with the record's change counter.
	Insert(ctx context.Context, rec *models.Record) error
	// Update overwrites fields, timestamps and counter of an existing row.
	Update(ctx context.Context, rec *models.Record) error
	// RecordChanged stores a local edit: existing rows get their fields
	// replaced and the counter incremented, new rows start at 1.
	RecordChanged(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, guid string) (*models.Record, error)
	List(ctx context.Context) ([]*models.Record, error)
	Exists(ctx context.Context, guid string) (bool, error)
	// FindBy lists rows whose column holds value.
	FindBy(ctx context.Context, column string, value any) ([]*models.Record, error)

	// Delete removes a row on behalf of the application and reports
	// whether a tombstone was written (only when a mirror row exists).
	Delete(ctx context.Context, guid string, now int64) (bool, error)
	// Remove deletes a row without leaving a tombstone.
	Remove(ctx context.Context, guid string) error

	InsertTombstone(ctx context.Context, guid string, at int64) error
	RemoveTombstone(ctx context.Context, guid string) error
	TombstoneExists(ctx context.Context, guid string) (bool, error)
	Tombstones(ctx context.Context) ([]models.Tombstone, error)
	ClearTombstones(ctx context.Context) error

	// PendingChanges yields rows with a positive counter, page by page.
	// Each call starts from the beginning.
	PendingChanges(ctx context.Context) iter.Seq2[models.PendingChange, error]
	// Unmirrored lists clean rows the server has never acknowledged.
	Unmirrored(ctx context.Context) ([]*models.Record, error)
	// MarkSynced subtracts the counter observed at upload time, so edits
	// made while the upload was in flight stay pending.
	MarkSynced(ctx context.Context, guid string, uploaded int64) error
}

// Invariant names carried by common.InvariantError.
const (
	InvariantExclusion  = "data-tombstone-exclusion"
	InvariantUniqueGUID = "unique-guid"
)
