package batcher

import "context"

// dispatchCompletion runs cb(status) on the completion pool, falling back
// to the calling goroutine if the pool is absent or refuses the task. cb
// has already been moved out of mu.flushCallback by the caller under lock,
// so this is the one and only place the flush callback can ever run.
func (b *Batcher) dispatchCompletion(cb FlushCallback, status error) {
	if cb == nil {
		return
	}

	task := func(context.Context) { cb(status) }

	if b.completionPool == nil {
		task(context.Background())
		return
	}
	if err := b.completionPool.RunNamedTask(context.Background(), "batcher-completion", task); err != nil {
		task(context.Background())
	}
}
