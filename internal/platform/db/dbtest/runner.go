// Package dbtest provides an in-memory stand-in for db.TxManager.
package dbtest

import (
	"context"
	"sync"
)

type inTxKey struct{}

// Store is an in-memory repository that can roll back to a snapshot.
// Snapshot returns a function restoring the state at the time of the call.
type Store interface {
	Snapshot() (restore func())
}

// Runner implements db.TxRunner for tests. Units of work run one at a time,
// the way row locks serialise them against a real database, and stores
// registered with Track are restored when a unit of work fails.
type Runner struct {
	mu     sync.Mutex
	stores []Store
	// Commits counts units of work that committed.
	Commits int
	// Rollbacks counts units of work that failed.
	Rollbacks int
}

func NewRunner(stores ...Store) *Runner {
	return &Runner{stores: stores}
}

// Track adds stores to be restored on rollback.
func (r *Runner) Track(stores ...Store) {
	r.stores = append(r.stores, stores...)
}

func (r *Runner) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restores := make([]func(), 0, len(r.stores))
	for _, s := range r.stores {
		restores = append(restores, s.Snapshot())
	}
	defer func() {
		if p := recover(); p != nil {
			for _, restore := range restores {
				restore()
			}
			r.Rollbacks++
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		r.Rollbacks++
		return err
	}
	r.Commits++
	return nil
}

// InTx reports whether ctx is inside a unit of work started by a Runner.
func InTx(ctx context.Context) bool {
	return ctx.Value(inTxKey{}) != nil
}
