// Package quarantine records incoming records that failed validation, so
// they are never applied silently and the next sync refetches them.
package quarantine

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

type Repository interface {
	Put(ctx context.Context, e models.QuarantineEntry) error
	List(ctx context.Context, collection string) ([]models.QuarantineEntry, error)
	Delete(ctx context.Context, collection, guid string) error
	Count(ctx context.Context, collection string) (int, error)
	Clear(ctx context.Context, collection string) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, e models.QuarantineEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_quarantine (collection, guid, reason, time_quarantined) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, guid) DO UPDATE SET reason = excluded.reason, time_quarantined = excluded.time_quarantined
	`, e.Collection, e.GUID, e.Reason, e.TimeQuarantined)
	if err != nil {
		return fmt.Errorf("failed to quarantine %s/%s: %w", e.Collection, e.GUID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, collection string) ([]models.QuarantineEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT collection, guid, reason, time_quarantined FROM sync_quarantine
		WHERE collection = ? ORDER BY guid`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine: %w", err)
	}
	defer rows.Close()

	var out []models.QuarantineEntry
	for rows.Next() {
		var e models.QuarantineEntry
		if err := rows.Scan(&e.Collection, &e.GUID, &e.Reason, &e.TimeQuarantined); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, collection, guid string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_quarantine WHERE collection = ? AND guid = ?`, collection, guid); err != nil {
		return fmt.Errorf("failed to release %s/%s: %w", collection, guid, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_quarantine WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count quarantine: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, collection string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_quarantine WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear quarantine: %w", err)
	}
	return nil
}
