// Package stop provides a small goroutine-tracking runner. The batcher uses
// it as the completion-dispatcher thread pool and as the RPC dispatch pool
// for every group but the last in a flush.
package stop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by RunTask once the Stopper has been stopped.
var ErrUnavailable = errors.New("stopper is not running")

type state int32

const (
	running state = iota
	stopping
	stopped
)

// Option configures a Stopper at construction time.
type Option func(*Stopper)

// WithLogger attaches a logger used to report tasks that fail to exit
// within the stop timeout.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stopper) { s.logger = logger }
}

// Stopper runs cancelable tasks on their own goroutine and can wait for all
// of them to exit, bounding the wait with a timeout so a leaked task is
// reported instead of hanging shutdown forever.
type Stopper struct {
	name   string
	logger *zap.Logger
	stopC  chan struct{}

	cancels sync.Map // id -> context.CancelFunc
	names   sync.Map // id -> task name

	lastID    uint64
	taskCount int64

	mu struct {
		sync.RWMutex
		state state
	}
}

// NewStopper creates a named Stopper. The name is used only for logging.
func NewStopper(name string, opts ...Option) *Stopper {
	s := &Stopper{name: name, stopC: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.mu.state = running
	return s
}

// RunTask runs task on its own goroutine, deriving a cancelable context
// from ctx. It returns ErrUnavailable if the Stopper has already begun
// stopping.
func (s *Stopper) RunTask(ctx context.Context, task func(context.Context)) error {
	return s.RunNamedTask(ctx, "unnamed", task)
}

// RunNamedTask is like RunTask but records name for diagnostics if the task
// fails to exit before Stop's timeout elapses.
func (s *Stopper) RunNamedTask(ctx context.Context, name string, task func(context.Context)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mu.state != running {
		return ErrUnavailable
	}

	id, taskCtx, cancel := s.allocate(ctx)
	s.names.Store(id, name)
	atomic.AddInt64(&s.taskCount, 1)

	go func() {
		defer func() {
			s.names.Delete(id)
			s.cancels.Delete(id)
			cancel()
			atomic.AddInt64(&s.taskCount, -1)
		}()
		task(taskCtx)
	}()
	return nil
}

// Stop cancels every running task and waits up to one minute for them to
// exit, logging the names of any stragglers.
func (s *Stopper) Stop() {
	s.StopWithTimeout(time.Minute)
}

// StopWithTimeout is Stop with an explicit wait timeout.
func (s *Stopper) StopWithTimeout(timeout time.Duration) {
	s.mu.Lock()
	prev := s.mu.state
	s.mu.state = stopping
	s.mu.Unlock()

	switch prev {
	case stopped:
		return
	case stopping:
		<-s.stopC
		return
	}
	defer close(s.stopC)

	s.cancels.Range(func(_, v interface{}) bool {
		v.(context.CancelFunc)()
		return true
	})

	deadline := time.Now().Add(timeout)
	for atomic.LoadInt64(&s.taskCount) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 5)
	}
	if n := atomic.LoadInt64(&s.taskCount); n > 0 {
		var stragglers []string
		s.names.Range(func(_, v interface{}) bool {
			stragglers = append(stragglers, v.(string))
			return true
		})
		s.logger.Error("stopper timed out waiting for tasks",
			zap.String("stopper", s.name),
			zap.Int64("remaining", n),
			zap.Strings("tasks", stragglers))
	}

	s.mu.Lock()
	s.mu.state = stopped
	s.mu.Unlock()
}

func (s *Stopper) allocate(parent context.Context) (uint64, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	id := atomic.AddUint64(&s.lastID, 1)
	s.cancels.Store(id, cancel)
	return id, ctx, cancel
}
