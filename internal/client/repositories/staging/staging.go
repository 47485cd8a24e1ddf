// Package staging holds the per-session working sets of a collection:
// downloaded envelopes waiting to be merged and local records queued for
// upload. Both tables are empty whenever no sync session is running.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

type Repository interface {
	PutIncoming(ctx context.Context, rows []models.IncomingRow) error
	Incoming(ctx context.Context) ([]models.IncomingRow, error)
	DeleteIncoming(ctx context.Context, guid string) error

	PutOutgoing(ctx context.Context, row models.OutgoingRow) error
	Outgoing(ctx context.Context) ([]models.OutgoingRow, error)
	// GetOutgoing returns (nil, nil) when guid is not queued.
	GetOutgoing(ctx context.Context, guid string) (*models.OutgoingRow, error)
	DeleteOutgoing(ctx context.Context, guid string) error

	Clear(ctx context.Context) error
}

type SQLiteRepository struct {
	db       dbx.DBTX
	incoming string
	outgoing string
}

func NewSQLiteRepository(db dbx.DBTX, coll *schema.Collection) *SQLiteRepository {
	return &SQLiteRepository{db: db, incoming: coll.StagingTable(), outgoing: coll.OutgoingTable()}
}

func (r *SQLiteRepository) PutIncoming(ctx context.Context, rows []models.IncomingRow) error {
	query := fmt.Sprintf(`INSERT INTO %s (guid, payload, server_modified) VALUES (?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET payload = excluded.payload, server_modified = excluded.server_modified`, r.incoming)
	for _, row := range rows {
		if _, err := r.db.ExecContext(ctx, query, row.GUID, row.Payload, row.ServerModified); err != nil {
			return fmt.Errorf("failed to stage incoming[%s]: %w", row.GUID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Incoming(ctx context.Context) ([]models.IncomingRow, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT guid, payload, server_modified FROM %s ORDER BY server_modified, guid`, r.incoming))
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming: %w", err)
	}
	defer rows.Close()

	var out []models.IncomingRow
	for rows.Next() {
		var row models.IncomingRow
		if err := rows.Scan(&row.GUID, &row.Payload, &row.ServerModified); err != nil {
			return nil, fmt.Errorf("failed to scan incoming: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteIncoming(ctx context.Context, guid string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE guid = ?`, r.incoming), guid); err != nil {
		return fmt.Errorf("failed to unstage incoming[%s]: %w", guid, err)
	}
	return nil
}

func (r *SQLiteRepository) PutOutgoing(ctx context.Context, row models.OutgoingRow) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (guid, payload, sync_change_counter, is_tombstone) VALUES (?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET payload = excluded.payload,
			sync_change_counter = excluded.sync_change_counter, is_tombstone = excluded.is_tombstone
	`, r.outgoing), row.GUID, row.Payload, row.Counter, row.Tombstone)
	if err != nil {
		return fmt.Errorf("failed to stage outgoing[%s]: %w", row.GUID, err)
	}
	return nil
}

func (r *SQLiteRepository) Outgoing(ctx context.Context) ([]models.OutgoingRow, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT guid, payload, sync_change_counter, is_tombstone FROM %s ORDER BY guid`, r.outgoing))
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing: %w", err)
	}
	defer rows.Close()

	var out []models.OutgoingRow
	for rows.Next() {
		var row models.OutgoingRow
		if err := rows.Scan(&row.GUID, &row.Payload, &row.Counter, &row.Tombstone); err != nil {
			return nil, fmt.Errorf("failed to scan outgoing: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetOutgoing(ctx context.Context, guid string) (*models.OutgoingRow, error) {
	var row models.OutgoingRow
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT guid, payload, sync_change_counter, is_tombstone FROM %s WHERE guid = ?`, r.outgoing), guid,
	).Scan(&row.GUID, &row.Payload, &row.Counter, &row.Tombstone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outgoing[%s]: %w", guid, err)
	}
	return &row, nil
}

func (r *SQLiteRepository) DeleteOutgoing(ctx context.Context, guid string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE guid = ?`, r.outgoing), guid); err != nil {
		return fmt.Errorf("failed to unstage outgoing[%s]: %w", guid, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	for _, table := range []string{r.incoming, r.outgoing} {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
