package memory

import (
	"context"
	"sync"

	"github.com/nolabru/psiconnect/internal/repository"
)

type txKey struct{}

// undoLog collects the inverse of every write made inside one transaction.
type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (u *undoLog) add(step func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.steps = append(u.steps, step)
}

func (u *undoLog) rollback() {
	u.mu.Lock()
	steps := u.steps
	u.steps = nil
	u.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// onRollback registers step when ctx carries a transaction. Repositories call
// it after a successful write, outside their own lock.
func onRollback(ctx context.Context, step func()) {
	if u, ok := ctx.Value(txKey{}).(*undoLog); ok {
		u.add(step)
	}
}

// Transactor gives memory writes the all-or-nothing outcome of a postgres
// transaction: when fn fails, every write made through its context is undone.
// Writes are visible to other callers before commit; there is no isolation.
type Transactor struct{}

var _ repository.Transactor = Transactor{}

func (Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	u := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, u)); err != nil {
		u.rollback()
		return err
	}
	return nil
}
