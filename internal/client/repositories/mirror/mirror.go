// Package mirror keeps the last server-acknowledged copy of each record,
// the common ancestor of three-way merges.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

type Repository interface {
	// Get returns (nil, nil) when no mirror row exists.
	Get(ctx context.Context, guid string) (*models.MirrorRow, error)
	Put(ctx context.Context, row *models.MirrorRow) error
	Delete(ctx context.Context, guid string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

type SQLiteRepository struct {
	db    dbx.DBTX
	table string
}

func NewSQLiteRepository(db dbx.DBTX, coll *schema.Collection) *SQLiteRepository {
	return &SQLiteRepository{db: db, table: coll.MirrorTable()}
}

func (r *SQLiteRepository) Get(ctx context.Context, guid string) (*models.MirrorRow, error) {
	row := &models.MirrorRow{}
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT guid, payload, server_modified FROM %s WHERE guid = ?`, r.table), guid,
	).Scan(&row.GUID, &row.Payload, &row.ServerModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirror[%s]: %w", guid, err)
	}
	return row, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, row *models.MirrorRow) error {
	if row.GUID == "" || row.Payload == "" {
		return &common.ValidationError{GUID: row.GUID, Reason: "mirror rows need a guid and a payload"}
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (guid, payload, server_modified) VALUES (?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET payload = excluded.payload, server_modified = excluded.server_modified
	`, r.table), row.GUID, row.Payload, row.ServerModified)
	if err != nil {
		return fmt.Errorf("failed to put mirror[%s]: %w", row.GUID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, guid string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE guid = ?`, r.table), guid); err != nil {
		return fmt.Errorf("failed to delete mirror[%s]: %w", guid, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table)); err != nil {
		return fmt.Errorf("failed to clear mirror: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mirror: %w", err)
	}
	return n, nil
}
