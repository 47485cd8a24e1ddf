package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/google/uuid"
)

func (s *Store) collection(name string) (*schema.Collection, error) {
	for _, c := range s.collections {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: collection %q", common.ErrorNotFound, name)
}

// Create stores a new record from logical fields and returns its guid.
// Sensitive fields are sealed before they reach the database.
func (s *Store) Create(ctx context.Context, collection string, fields models.Fields) (string, error) {
	c, err := s.collection(collection)
	if err != nil {
		return "", err
	}

	guid := uuid.NewString()
	rec, err := s.prepare(c, guid, fields)
	if err != nil {
		return "", err
	}
	rec.TimeCreated = rec.TimeLastModified

	err = s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return records.NewSQLiteRepository(tx, c).RecordChanged(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return guid, nil
}

// Get returns the stored record. Sensitive fields stay sealed; use Reveal.
func (s *Store) Get(ctx context.Context, collection, guid string) (*models.Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return records.NewSQLiteRepository(s.writer.DB(), c).Get(ctx, guid)
}

func (s *Store) List(ctx context.Context, collection string) ([]*models.Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return records.NewSQLiteRepository(s.writer.DB(), c).List(ctx)
}

// Update applies patch to the logical fields of an existing record and
// counts it as one local change.
func (s *Store) Update(ctx context.Context, collection, guid string, patch models.Fields) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	return s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx, c)
		current, err := repo.Get(ctx, guid)
		if err != nil {
			return err
		}
		logical, err := s.boundary.Reveal(c, current.Fields)
		if err != nil {
			return err
		}
		for k, v := range patch {
			logical[k] = v
		}

		rec, err := s.prepare(c, guid, logical)
		if err != nil {
			return err
		}
		return repo.RecordChanged(ctx, rec)
	})
}

// Delete removes a record. A tombstone is kept only when the server has
// seen the record, so the deletion can be uploaded.
func (s *Store) Delete(ctx context.Context, collection, guid string) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	return s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := records.NewSQLiteRepository(tx, c).Delete(ctx, guid, s.Now())
		return err
	})
}

// Restore undoes a deletion: the tombstone is dropped and the record is
// stored again as a new local change, in one transaction.
func (s *Store) Restore(ctx context.Context, collection, guid string, fields models.Fields) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	rec, err := s.prepare(c, guid, fields)
	if err != nil {
		return err
	}
	rec.TimeCreated = rec.TimeLastModified

	return s.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx, c)
		if err := repo.RemoveTombstone(ctx, guid); err != nil {
			return err
		}
		return repo.RecordChanged(ctx, rec)
	})
}

// Reveal decrypts one sensitive field of a stored record.
func (s *Store) Reveal(ctx context.Context, collection, guid, field string) (string, error) {
	c, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	sf, ok := c.SensitiveByField(field)
	if !ok {
		return "", &common.ValidationError{GUID: guid, Field: field, Reason: "not a sensitive field"}
	}
	rec, err := records.NewSQLiteRepository(s.writer.DB(), c).Get(ctx, guid)
	if err != nil {
		return "", err
	}
	return s.boundary.DecryptField(rec.Fields.String(sf.Column))
}

// Tombstones lists pending local deletions of a collection.
func (s *Store) Tombstones(ctx context.Context, collection string) ([]models.Tombstone, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return records.NewSQLiteRepository(s.writer.DB(), c).Tombstones(ctx)
}

func (s *Store) prepare(c *schema.Collection, guid string, fields models.Fields) (*models.Record, error) {
	logical, err := models.Normalize(c, guid, fields, true)
	if err != nil {
		return nil, err
	}
	stored, err := s.boundary.Conceal(c, logical)
	if err != nil {
		return nil, err
	}
	return &models.Record{GUID: guid, Fields: stored, TimeLastModified: s.Now()}, nil
}
