package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	sc "github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
)

const (
	metaCollection = "meta"
	metaGlobalID   = "global"

	maxRecordIDLength      = 64
	defaultMaxPayloadBytes = 256 * 1024
)

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)

// UploadResult reports what happened to each uploaded record. Modified is
// the time every accepted record was stored with.
type UploadResult struct {
	Success  []string
	Failed   map[string]string
	Modified int64
}

// StorageService stores opaque records per user and collection. Every write
// advances the user's clock, so modified times only grow and an upload can
// be checked against what the client last saw.
type StorageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archiver    Archiver
	maxPayload  int
	now         func() time.Time
}

// NewStorageService builds the service. archiver may be nil, in which case
// DeleteAll keeps no copy.
func NewStorageService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, archiver Archiver) *StorageService {
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayloadBytes
	}
	return &StorageService{
		db:          db,
		repomanager: m,
		archiver:    archiver,
		maxPayload:  maxPayload,
		now:         time.Now,
	}
}

func validateCollection(name string) error {
	if !collectionNameRe.MatchString(name) || name == metaCollection {
		return fmt.Errorf("%w: bad collection name %q", common.ErrValidation, name)
	}
	return nil
}

func (s *StorageService) Info(ctx context.Context, userID string) (map[string]int64, error) {
	info, err := s.repomanager.BSOs(s.db).InfoCollections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error reading collections: %w", err)
	}
	return info, nil
}

// GetMeta returns the meta/global record or common.ErrorNotFound.
func (s *StorageService) GetMeta(ctx context.Context, userID string) (*models.BSO, error) {
	b, err := s.repomanager.BSOs(s.db).Get(ctx, userID, metaCollection, metaGlobalID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error reading meta/global: %w", err)
	}
	return b, nil
}

func (s *StorageService) PutMeta(ctx context.Context, userID, payload string) (int64, error) {
	if payload == "" || len(payload) > s.maxPayload {
		return 0, fmt.Errorf("%w: bad meta/global payload", common.ErrValidation)
	}

	var modified int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if modified, err = s.repomanager.Users(tx).Touch(ctx, userID, s.now().UnixMilli()); err != nil {
			return err
		}
		return s.repomanager.BSOs(tx).Upsert(ctx, &models.BSO{
			UserID:     userID,
			Collection: metaCollection,
			ID:         metaGlobalID,
			Payload:    payload,
			Modified:   modified,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("error storing meta/global: %w", err)
	}
	return modified, nil
}

// Fetch returns records changed after since and the collection's
// last-modified time. The time is read first, so records newer than it may
// be returned; clients see them again on the next fetch.
func (s *StorageService) Fetch(ctx context.Context, userID, collection string, since int64) ([]models.BSO, int64, error) {
	if err := validateCollection(collection); err != nil {
		return nil, 0, err
	}
	repo := s.repomanager.BSOs(s.db)

	ts, err := repo.CollectionModified(ctx, userID, collection)
	if err != nil {
		return nil, 0, fmt.Errorf("error reading collection: %w", err)
	}
	items, err := repo.Since(ctx, userID, collection, since)
	if err != nil {
		return nil, 0, fmt.Errorf("error reading collection: %w", err)
	}
	return items, ts, nil
}

func (s *StorageService) checkRecord(b models.BSO) string {
	switch {
	case b.ID == "":
		return "missing id"
	case len(b.ID) > maxRecordIDLength:
		return "id too long"
	case b.Payload == "":
		return "empty payload"
	case len(b.Payload) > s.maxPayload:
		return "payload too large"
	}
	return ""
}

// Upload stores records unless the collection changed after
// ifUnmodifiedSince, in which case it returns common.ErrConflict and stores
// nothing. Invalid records are reported in Failed; the rest are stored.
func (s *StorageService) Upload(ctx context.Context, userID, collection string, ifUnmodifiedSince int64, records []models.BSO) (*UploadResult, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	res := &UploadResult{Success: []string{}, Failed: map[string]string{}}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		modified, err := s.repomanager.Users(tx).Touch(ctx, userID, s.now().UnixMilli())
		if err != nil {
			return err
		}

		repo := s.repomanager.BSOs(tx)
		current, err := repo.CollectionModified(ctx, userID, collection)
		if err != nil {
			return err
		}
		if current > ifUnmodifiedSince {
			return common.ErrConflict
		}

		res.Modified = modified
		for _, b := range records {
			if reason := s.checkRecord(b); reason != "" {
				res.Failed[b.ID] = reason
				continue
			}
			b.UserID, b.Collection, b.Modified = userID, collection, modified
			if err := repo.Upsert(ctx, &b); err != nil {
				return err
			}
			res.Success = append(res.Success, b.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("error storing records: %w", err)
	}
	return res, nil
}

// DeleteAll removes every record of the user, meta/global included. With an
// archiver configured the records are archived first and the link returned;
// a failed archive leaves the records in place.
func (s *StorageService) DeleteAll(ctx context.Context, userID string) (string, error) {
	var url string
	if s.archiver != nil {
		items, err := s.repomanager.BSOs(s.db).ListAll(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("error reading records: %w", err)
		}
		if len(items) > 0 {
			if url, err = s.archiver.Archive(ctx, userID, items); err != nil {
				return "", err
			}
		}
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).Touch(ctx, userID, s.now().UnixMilli()); err != nil {
			return err
		}
		_, err := s.repomanager.BSOs(tx).DeleteAll(ctx, userID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error deleting records: %w", err)
	}
	return url, nil
}
