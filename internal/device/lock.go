package device

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// AccessController is the exclusive lock of one device. Acquire blocks
// without a timeout until the lock is free or ctx is done; it is not
// reentrant.
type AccessController struct {
	sem *semaphore.Weighted
}

func NewAccessController() *AccessController {
	return &AccessController{sem: semaphore.NewWeighted(1)}
}

func (a *AccessController) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.sem.Acquire(ctx, 1)
}

func (a *AccessController) Release() {
	a.sem.Release(1)
}
