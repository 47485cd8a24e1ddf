package bsos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InfoCollections(ctx context.Context, userID string) (map[string]int64, error) {
	query :=
		`SELECT collection, MAX(modified) FROM bsos
		 WHERE user_id = $1
		 GROUP BY collection
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := map[string]int64{}
	for rows.Next() {
		var (
			name     string
			modified int64
		)
		if err := rows.Scan(&name, &modified); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result[name] = modified
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) CollectionModified(ctx context.Context, userID, collection string) (int64, error) {
	query :=
		`SELECT COALESCE(MAX(modified), 0) FROM bsos
		 WHERE user_id = $1 AND collection = $2
		 `

	var modified int64
	if err := r.db.QueryRowContext(ctx, query, userID, collection).Scan(&modified); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return modified, nil
}

func (r *PostgresRepository) Since(ctx context.Context, userID, collection string, since int64) ([]models.BSO, error) {
	query :=
		`SELECT id, payload, modified FROM bsos
		 WHERE user_id = $1 AND collection = $2 AND modified > $3
		 ORDER BY modified, id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, collection, since)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []models.BSO
	for rows.Next() {
		b := models.BSO{UserID: userID, Collection: collection}
		if err := rows.Scan(&b.ID, &b.Payload, &b.Modified); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, collection, id string) (*models.BSO, error) {
	query :=
		`SELECT payload, modified FROM bsos
		 WHERE user_id = $1 AND collection = $2 AND id = $3
		 `

	b := &models.BSO{UserID: userID, Collection: collection, ID: id}
	err := r.db.QueryRowContext(ctx, query, userID, collection, id).Scan(&b.Payload, &b.Modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, bso *models.BSO) error {
	query :=
		`INSERT INTO bsos (user_id, collection, id, payload, modified)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, collection, id)
		 DO UPDATE SET payload = EXCLUDED.payload, modified = EXCLUDED.modified
		 `

	if _, err := r.db.ExecContext(ctx, query, bso.UserID, bso.Collection, bso.ID, bso.Payload, bso.Modified); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAll(ctx context.Context, userID string) ([]models.BSO, error) {
	query :=
		`SELECT collection, id, payload, modified FROM bsos
		 WHERE user_id = $1
		 ORDER BY collection, id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []models.BSO
	for rows.Next() {
		b := models.BSO{UserID: userID}
		if err := rows.Scan(&b.Collection, &b.ID, &b.Payload, &b.Modified); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM bsos WHERE user_id = $1`

	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
