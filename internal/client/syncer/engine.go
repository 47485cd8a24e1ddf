// Package syncer runs sync sessions: it downloads remote changes into
// staging, merges them into the local store one record at a time and
// uploads local changes, reporting the outcome of every collection.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/client/storage"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
)

const DefaultUploadBatchSize = 100

type Config struct {
	// Collections to sync, in order. Nil means every built-in collection.
	Collections []*schema.Collection
	// UploadBatchSize caps the records sent in one upload call.
	UploadBatchSize int
}

// Engine owns the sync lifecycle of one store. At most one session runs
// at a time.
type Engine struct {
	store     *storage.Store
	auth      AuthProvider
	transport Transport
	cfg       Config
	logger    logging.Logger
	now       func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	current *interrupter
}

func NewEngine(store *storage.Store, auth AuthProvider, transport Transport, cfg Config, logger logging.Logger) *Engine {
	if cfg.Collections == nil {
		cfg.Collections = store.Collections()
	}
	if cfg.UploadBatchSize <= 0 {
		cfg.UploadBatchSize = DefaultUploadBatchSize
	}
	return &Engine{
		store:     store,
		auth:      auth,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("module", "syncer"),
		now:       time.Now,
	}
}

// Sync runs one session and returns its report. The report is never nil;
// the error is the one recorded in Report.Err.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		now := e.now()
		return &Report{
			Status:   StatusFailedToStart,
			Started:  now,
			Finished: now,
			Error:    common.ErrSyncInProgress.Error(),
			Err:      common.ErrSyncInProgress,
		}, common.ErrSyncInProgress
	}
	defer e.running.Store(false)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	intr := newInterrupter(cancel)
	e.setCurrent(intr)
	defer e.setCurrent(nil)

	s := newSession(e, intr)
	err := s.run(sctx)
	s.finish(context.WithoutCancel(ctx), err)

	e.logger.Info(ctx, "sync finished", "status", s.report.Status, "phase", s.report.Phase())
	return s.report, s.report.Err
}

// Interrupt asks the running session, if any, to stop at the next record
// boundary and cancels its in-flight network calls. Work committed so far
// is kept.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.interrupt()
	}
}

// ResetSyncState drops every trace of the server from the store. It is
// refused while a session runs.
func (e *Engine) ResetSyncState(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return common.ErrSyncInProgress
	}
	defer e.running.Store(false)
	return e.store.ResetSyncState(ctx)
}

func (e *Engine) setCurrent(i *interrupter) {
	e.mu.Lock()
	e.current = i
	e.mu.Unlock()
}

// withRefresh runs fn and, when the remote rejects the credentials, asks
// the auth provider once for fresh ones and retries.
func withRefresh[T any](ctx context.Context, s *session, fn func(cred *Credentials) (T, error)) (T, error) {
	v, err := fn(s.cred)
	if !isAuthError(err) {
		return v, err
	}

	s.logger.Info(ctx, "credentials rejected, refreshing")
	cred, rerr := s.engine.auth.Refresh(ctx)
	if rerr != nil {
		var zero T
		return zero, fmt.Errorf("%w: refresh failed: %v", common.ErrorUnauthorized, rerr)
	}
	s.cred = cred
	return fn(cred)
}

func isAuthError(err error) bool {
	return errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrTokenExpired) ||
		errors.Is(err, common.ErrInvalidToken)
}
