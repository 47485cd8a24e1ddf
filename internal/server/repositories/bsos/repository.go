// Package bsos declares storage for the opaque records clients upload,
// grouped per user into named collections.
package bsos

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	// InfoCollections maps every non-empty collection of the user to the
	// newest modified time in it.
	InfoCollections(ctx context.Context, userID string) (map[string]int64, error)

	// CollectionModified is the newest modified time of a collection, zero
	// when it holds nothing.
	CollectionModified(ctx context.Context, userID, collection string) (int64, error)

	// Since lists the records modified strictly after since, oldest first.
	Since(ctx context.Context, userID, collection string, since int64) ([]models.BSO, error)

	// Get returns common.ErrorNotFound when the record does not exist.
	Get(ctx context.Context, userID, collection, id string) (*models.BSO, error)

	// Upsert inserts the record or replaces its payload and modified time.
	Upsert(ctx context.Context, bso *models.BSO) error

	ListAll(ctx context.Context, userID string) ([]models.BSO, error)

	// DeleteAll removes every record of the user and reports how many.
	DeleteAll(ctx context.Context, userID string) (int64, error)
}
