package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/google/uuid"
)

type session struct {
	engine *Engine
	intr   *interrupter
	logger logging.Logger
	report *Report
	cred   *Credentials

	declined []string
}

func newSession(e *Engine, intr *interrupter) *session {
	return &session{
		engine: e,
		intr:   intr,
		logger: e.logger.With("session", uuid.NewString()),
		report: &Report{Started: e.now(), Collections: []*CollectionReport{}},
	}
}

func (s *session) phase() Phase {
	return s.report.Phase()
}

func (s *session) enter(p Phase, collection string) error {
	from := s.phase()
	if !canTransition(from, p) {
		return &transitionError{from: from, to: p}
	}
	s.report.Transitions = append(s.report.Transitions, Transition{Phase: p, Collection: collection, At: s.engine.now()})
	s.logger.Debug(context.Background(), "sync phase", "phase", p, "collection", collection)
	return nil
}

// started reports whether the session got past the account-level steps.
func (s *session) started() bool {
	switch s.phase() {
	case PhaseIdle, PhaseAuthenticated, PhaseCollectionsInfoFetched:
		return false
	}
	return true
}

func (s *session) run(ctx context.Context) error {
	cred, err := s.engine.auth.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	s.cred = cred
	if err := s.enter(PhaseAuthenticated, ""); err != nil {
		return err
	}

	info, err := withRefresh(ctx, s, func(cred *Credentials) (map[string]int64, error) {
		return s.engine.transport.InfoCollections(ctx, cred)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch collections info: %w", err)
	}
	if err := s.ensureMetaGlobal(ctx); err != nil {
		return err
	}
	if err := s.enter(PhaseCollectionsInfoFetched, ""); err != nil {
		return err
	}

	for _, c := range s.engine.cfg.Collections {
		if err := s.intr.check(); err != nil {
			return err
		}
		cr := s.report.collection(c.Name)
		if slices.Contains(s.declined, c.Name) {
			cr.DownloadSkipped = true
			continue
		}
		if err := s.syncCollection(ctx, c, info[c.Name], cr); err != nil {
			if !s.stopped(err) {
				cr.Error = err.Error()
			}
			return err
		}
	}

	return s.enter(PhaseCompleted, "")
}

// stopped reports whether err is the session being interrupted rather
// than a failure.
func (s *session) stopped(err error) bool {
	if errors.Is(err, common.ErrInterrupted) {
		return true
	}
	return s.intr.interrupted() || errors.Is(err, context.Canceled)
}

func (s *session) finish(ctx context.Context, err error) {
	r := s.report
	switch {
	case err == nil:
		r.Status = StatusOK
		for _, c := range r.Collections {
			if !c.clean() {
				r.Status = StatusPartial
			}
		}
	case s.stopped(err):
		_ = s.enter(PhaseInterrupted, "")
		r.Status = StatusInterrupted
		err = common.ErrInterrupted
	default:
		if s.started() {
			r.Status = StatusFailed
		} else {
			r.Status = StatusFailedToStart
		}
		_ = s.enter(PhaseFailed, "")
	}

	if err != nil {
		r.Err = err
		r.Error = err.Error()
		s.logger.Warn(ctx, "sync ended early", "status", r.Status, "error", err)
	}

	if cerr := s.engine.store.ClearStaging(ctx); cerr != nil {
		s.logger.Error(ctx, "failed to clear staging", "error", cerr)
	}
	r.Finished = s.engine.now()
}

// ensureMetaGlobal reconciles the account-wide meta record with local
// sync ids, creating it when the server has none. A changed global sync id
// resets the whole store; a changed collection sync id resets only that
// collection.
func (s *session) ensureMetaGlobal(ctx context.Context) error {
	transport := s.engine.transport

	mg, err := withRefresh(ctx, s, func(cred *Credentials) (*MetaGlobal, error) {
		return transport.MetaGlobal(ctx, cred)
	})
	dirty := false
	switch {
	case errors.Is(err, common.ErrorNotFound):
		mg, dirty = s.newMetaGlobal(), true
	case err != nil:
		return fmt.Errorf("failed to fetch meta/global: %w", err)
	case mg.StorageVersion > common.StorageVersion:
		return fmt.Errorf("%w: server storage version %d", common.ErrClientUpgradeRequired, mg.StorageVersion)
	case mg.StorageVersion < common.StorageVersion:
		s.logger.Info(ctx, "server storage is outdated, starting fresh", "version", mg.StorageVersion)
		mg, dirty = s.newMetaGlobal(), true
	}
	if mg.Engines == nil {
		mg.Engines = map[string]EngineMeta{}
	}
	for _, c := range s.engine.cfg.Collections {
		if _, ok := mg.Engines[c.Name]; !ok && !slices.Contains(mg.Declined, c.Name) {
			mg.Engines[c.Name] = EngineMeta{Version: 1, SyncID: uuid.NewString()}
			dirty = true
		}
	}
	s.declined = mg.Declined

	if dirty {
		_, err := withRefresh(ctx, s, func(cred *Credentials) (struct{}, error) {
			return struct{}{}, transport.PutMetaGlobal(ctx, cred, mg)
		})
		if err != nil {
			return fmt.Errorf("failed to store meta/global: %w", err)
		}
	}

	store := s.engine.store
	local, err := store.Metadata().Get(ctx, metadata.KeyGlobalSyncID)
	if err != nil {
		return err
	}
	if local != nil && string(local) != mg.SyncID {
		s.logger.Info(ctx, "global sync id changed, resetting sync state")
		if err := store.ResetSyncState(ctx); err != nil {
			return err
		}
	}

	return store.Writer().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)
		if err := meta.Set(ctx, metadata.KeyGlobalSyncID, []byte(mg.SyncID)); err != nil {
			return err
		}
		for _, c := range s.engine.cfg.Collections {
			em, ok := mg.Engines[c.Name]
			if !ok {
				continue
			}
			if err := s.checkCollectionSyncID(ctx, tx, c, em.SyncID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) checkCollectionSyncID(ctx context.Context, tx dbx.DBTX, c *schema.Collection, syncID string) error {
	r := storage.NewRepos(tx, c)
	key := metadata.SyncIDKey(c.Name)
	local, err := r.Metadata.Get(ctx, key)
	if err != nil {
		return err
	}
	if local != nil && string(local) != syncID {
		s.logger.Info(ctx, "collection sync id changed, resetting", "collection", c.Name)
		if err := storage.ResetCollection(ctx, r, c); err != nil {
			return err
		}
	}
	return r.Metadata.Set(ctx, key, []byte(syncID))
}

func (s *session) newMetaGlobal() *MetaGlobal {
	mg := &MetaGlobal{
		SyncID:         uuid.NewString(),
		StorageVersion: common.StorageVersion,
		Engines:        map[string]EngineMeta{},
	}
	for _, c := range s.engine.cfg.Collections {
		mg.Engines[c.Name] = EngineMeta{Version: 1, SyncID: uuid.NewString()}
	}
	return mg
}
