package dbx

import (
	"context"
	"database/sql"
	"sync"
)

// Writer serializes write transactions over one *sql.DB. SQLite admits a
// single writer at a time; readers keep using DB() concurrently.
type Writer struct {
	mu sync.Mutex
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// DB returns the underlying handle for read-only queries.
func (w *Writer) DB() *sql.DB {
	return w.db
}

// WithTx runs fn inside a transaction while holding the writer lock.
// The lock is released before WithTx returns, commit included.
func (w *Writer) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WithTx(ctx, w.db, nil, fn)
}
