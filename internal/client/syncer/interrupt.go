package syncer

import (
	"context"
	"sync/atomic"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

// interrupter is the cooperative stop signal of one session. The flag is
// polled between per-record units; cancel aborts in-flight network calls.
type interrupter struct {
	flag   atomic.Bool
	cancel context.CancelFunc
}

func newInterrupter(cancel context.CancelFunc) *interrupter {
	return &interrupter{cancel: cancel}
}

func (i *interrupter) interrupt() {
	i.flag.Store(true)
	i.cancel()
}

func (i *interrupter) interrupted() bool {
	return i.flag.Load()
}

func (i *interrupter) check() error {
	if i.interrupted() {
		return common.ErrInterrupted
	}
	return nil
}
