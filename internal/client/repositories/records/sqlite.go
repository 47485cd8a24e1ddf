package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

const pageSize = 128

type SQLiteRepository struct {
	db   dbx.DBTX
	coll *schema.Collection
	cols string
}

func NewSQLiteRepository(db dbx.DBTX, coll *schema.Collection) *SQLiteRepository {
	return &SQLiteRepository{
		db:   db,
		coll: coll,
		cols: strings.Join(coll.ColumnNames(), ", "),
	}
}

func (r *SQLiteRepository) selectColumns() string {
	return "guid, " + r.cols + ", time_created, time_last_modified, sync_change_counter"
}

func (r *SQLiteRepository) validate(rec *models.Record) error {
	if rec.GUID == "" {
		return &common.ValidationError{Reason: "empty guid"}
	}
	if rec.ChangeCounter < 0 {
		return &common.ValidationError{GUID: rec.GUID, Reason: "negative change counter"}
	}
	return encryption.CheckOpaque(r.coll, rec.GUID, rec.Fields)
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.Record) error {
	if err := r.validate(rec); err != nil {
		return err
	}

	tombstoned, err := r.TombstoneExists(ctx, rec.GUID)
	if err != nil {
		return err
	}
	if tombstoned {
		return &common.InvariantError{Invariant: InvariantExclusion, Table: r.coll.DataTable(), GUID: rec.GUID}
	}

	exists, err := r.Exists(ctx, rec.GUID)
	if err != nil {
		return err
	}
	if exists {
		return &common.InvariantError{Invariant: InvariantUniqueGUID, Table: r.coll.DataTable(), GUID: rec.GUID}
	}

	args := make([]any, 0, len(r.coll.Columns)+4)
	args = append(args, rec.GUID)
	args = append(args, r.columnArgs(rec.Fields)...)
	args = append(args, rec.TimeCreated, rec.TimeLastModified, rec.ChangeCounter)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		r.coll.DataTable(), r.selectColumns(), placeholders(len(args)))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rec *models.Record) error {
	if err := r.validate(rec); err != nil {
		return err
	}

	args := r.columnArgs(rec.Fields)
	args = append(args, rec.TimeCreated, rec.TimeLastModified, rec.ChangeCounter, rec.GUID)

	query := fmt.Sprintf(`UPDATE %s SET %s, time_created = ?, time_last_modified = ?, sync_change_counter = ? WHERE guid = ?`,
		r.coll.DataTable(), r.assignments())

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) RecordChanged(ctx context.Context, rec *models.Record) error {
	exists, err := r.Exists(ctx, rec.GUID)
	if err != nil {
		return err
	}
	if !exists {
		rec.ChangeCounter = 1
		return r.Insert(ctx, rec)
	}

	if err := r.validate(rec); err != nil {
		return err
	}

	args := r.columnArgs(rec.Fields)
	args = append(args, rec.TimeLastModified, rec.GUID)

	query := fmt.Sprintf(`UPDATE %s SET %s, time_last_modified = ?, sync_change_counter = sync_change_counter + 1
		WHERE guid = ? RETURNING time_created, sync_change_counter`,
		r.coll.DataTable(), r.assignments())

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&rec.TimeCreated, &rec.ChangeCounter); err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, guid string) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE guid = ?`, r.selectColumns(), r.coll.DataTable())
	rec, err := r.scanRecord(r.db.QueryRowContext(ctx, query, guid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY time_created, guid`, r.selectColumns(), r.coll.DataTable())
	return r.queryRecords(ctx, query)
}

func (r *SQLiteRepository) FindBy(ctx context.Context, column string, value any) ([]*models.Record, error) {
	col, ok := r.coll.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q in %s", common.ErrValidation, column, r.coll.Name)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? ORDER BY guid`, r.selectColumns(), r.coll.DataTable(), col.Name)
	return r.queryRecords(ctx, query, columnValue(col, value))
}

func (r *SQLiteRepository) Exists(ctx context.Context, guid string) (bool, error) {
	return r.exists(ctx, r.coll.DataTable(), guid)
}

func (r *SQLiteRepository) Delete(ctx context.Context, guid string, now int64) (bool, error) {
	if err := r.Remove(ctx, guid); err != nil {
		return false, err
	}

	mirrored, err := r.exists(ctx, r.coll.MirrorTable(), guid)
	if err != nil {
		return false, err
	}
	if !mirrored {
		return false, nil
	}
	if err := r.InsertTombstone(ctx, guid, now); err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, guid string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE guid = ?`, r.coll.DataTable()), guid)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) InsertTombstone(ctx context.Context, guid string, at int64) error {
	if guid == "" {
		return &common.ValidationError{Reason: "empty guid"}
	}

	live, err := r.Exists(ctx, guid)
	if err != nil {
		return err
	}
	if live {
		return &common.InvariantError{Invariant: InvariantExclusion, Table: r.coll.TombstoneTable(), GUID: guid}
	}

	query := fmt.Sprintf(`INSERT INTO %s (guid, time_deleted) VALUES (?, ?)
		ON CONFLICT(guid) DO UPDATE SET time_deleted = excluded.time_deleted`, r.coll.TombstoneTable())
	if _, err := r.db.ExecContext(ctx, query, guid, at); err != nil {
		return fmt.Errorf("failed to insert tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveTombstone(ctx context.Context, guid string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE guid = ?`, r.coll.TombstoneTable()), guid); err != nil {
		return fmt.Errorf("failed to delete tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) TombstoneExists(ctx context.Context, guid string) (bool, error) {
	return r.exists(ctx, r.coll.TombstoneTable(), guid)
}

func (r *SQLiteRepository) Tombstones(ctx context.Context) ([]models.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT guid, time_deleted FROM %s ORDER BY guid`, r.coll.TombstoneTable()))
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	var out []models.Tombstone
	for rows.Next() {
		var t models.Tombstone
		if err := rows.Scan(&t.GUID, &t.TimeDeleted); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ClearTombstones(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.coll.TombstoneTable())); err != nil {
		return fmt.Errorf("failed to clear tombstones: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PendingChanges(ctx context.Context) iter.Seq2[models.PendingChange, error] {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sync_change_counter > 0 AND guid > ? ORDER BY guid LIMIT ?`,
		r.selectColumns(), r.coll.DataTable())

	return func(yield func(models.PendingChange, error) bool) {
		after := ""
		for {
			page, err := r.queryRecords(ctx, query, after, pageSize)
			if err != nil {
				yield(models.PendingChange{}, err)
				return
			}
			for _, rec := range page {
				if !yield(models.PendingChange{GUID: rec.GUID, Counter: rec.ChangeCounter, Record: rec}, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			after = page[len(page)-1].GUID
		}
	}
}

func (r *SQLiteRepository) Unmirrored(ctx context.Context) ([]*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s d WHERE sync_change_counter = 0
		AND NOT EXISTS (SELECT 1 FROM %s m WHERE m.guid = d.guid) ORDER BY guid`,
		r.selectColumns(), r.coll.DataTable(), r.coll.MirrorTable())
	return r.queryRecords(ctx, query)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, guid string, uploaded int64) error {
	query := fmt.Sprintf(`UPDATE %s SET sync_change_counter = MAX(sync_change_counter - ?, 0) WHERE guid = ?`, r.coll.DataTable())
	if _, err := r.db.ExecContext(ctx, query, uploaded, guid); err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) exists(ctx context.Context, table, guid string) (bool, error) {
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE guid = ?)`, table)
	if err := r.db.QueryRowContext(ctx, query, guid).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}
	return found, nil
}

func (r *SQLiteRepository) assignments() string {
	parts := make([]string, len(r.coll.Columns))
	for i, col := range r.coll.Columns {
		parts[i] = col.Name + " = ?"
	}
	return strings.Join(parts, ", ")
}

func (r *SQLiteRepository) columnArgs(f models.Fields) []any {
	args := make([]any, 0, len(r.coll.Columns)+4)
	for _, col := range r.coll.Columns {
		args = append(args, columnValue(col, f[col.Name]))
	}
	return args
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanRecord(s scanner) (*models.Record, error) {
	rec := &models.Record{Fields: make(models.Fields, len(r.coll.Columns))}

	values := make([]any, len(r.coll.Columns))
	dest := make([]any, 0, len(values)+4)
	dest = append(dest, &rec.GUID)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &rec.TimeCreated, &rec.TimeLastModified, &rec.ChangeCounter)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	for i, col := range r.coll.Columns {
		rec.Fields[col.Name] = columnValue(col, values[i])
	}
	return rec, nil
}

// columnValue coerces a driver or caller value to the column's Go type.
func columnValue(col schema.Column, v any) any {
	if col.Kind == schema.Integer {
		switch x := v.(type) {
		case int64:
			return x
		case int:
			return int64(x)
		case float64:
			return int64(x)
		}
		return int64(0)
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
