// Package session implements the batcher's owner: the long-lived object a
// caller actually holds, which lazily creates a fresh Batcher per flush
// cycle, feeds it the collaborators every Batcher needs, and accumulates
// errors across flushes in one shared collector.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/chronosdb/chronosdb/batcher"
	"github.com/chronosdb/chronosdb/errcollector"
	"github.com/chronosdb/chronosdb/log"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/retryid"
	"github.com/chronosdb/chronosdb/rpc"
	"github.com/chronosdb/chronosdb/stop"
	"github.com/chronosdb/chronosdb/tablet"
	txncoord "github.com/chronosdb/chronosdb/txn"
)

// Client bundles the two collaborators every Batcher this session creates
// needs: somewhere to resolve partition keys to tablets, and somewhere to
// turn a dispatch group into a wire request.
type Client interface {
	Factory() rpc.Factory
	MetaCache() tablet.MetaCache
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger attaches a logger; the default is log.Default().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTransaction binds the session to a surrounding transaction. Every
// Batcher this session creates is handed the same Transaction handle.
func WithTransaction(t txncoord.Transaction) Option {
	return func(s *Session) { s.transaction = t }
}

// WithReadPoint attaches the consistent-read-point collaborator.
func WithReadPoint(rp batcher.ReadPoint) Option {
	return func(s *Session) { s.readPoint = rp }
}

// WithForceConsistentRead forces every read this session issues onto the
// consistent-read path, regardless of each op's requested class.
func WithForceConsistentRead(force bool) Option {
	return func(s *Session) { s.forceConsistentRead = force }
}

// WithCombinedErrors is the combine_batcher_errors toggle, applied to every
// Batcher this session creates.
func WithCombinedErrors(enabled bool) Option {
	return func(s *Session) { s.combineErrors = enabled }
}

// WithSimulatedLookupMismatch is the
// simulate_tablet_lookup_does_not_match_partition_key_probability toggle.
func WithSimulatedLookupMismatch(tableName string, probability float64) Option {
	return func(s *Session) {
		s.simulateMismatchTable = tableName
		s.simulateMismatchProbability = probability
	}
}

// WithRejectionScoreSource attaches the source rejection_score delegates to.
func WithRejectionScoreSource(src batcher.RejectionScoreSource) Option {
	return func(s *Session) { s.rejectionScoreSource = src }
}

// WithMaxConcurrentFlushes bounds how many flushes this session will have
// outstanding at once; FlushAsync blocks acquiring a slot beyond that. Zero
// (the default) leaves flushes unbounded.
func WithMaxConcurrentFlushes(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.flushSem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDispatchRateLimiter bounds the aggregate rate at which every Batcher
// this session creates hands groups to the RPC layer. The limiter is shared
// across Batchers, so it throttles the session as a whole, not per-flush.
func WithDispatchRateLimiter(l *rate.Limiter) Option {
	return func(s *Session) { s.dispatchLimiter = l }
}

// WithRequestIDAllocator attaches the allocator every Batcher this session
// creates stamps its dispatched groups with.
func WithRequestIDAllocator(a *retryid.Allocator) Option {
	return func(s *Session) { s.requestIDs = a }
}

// WithCompletionPool overrides the pool flush callbacks run on.
func WithCompletionPool(p *stop.Stopper) Option {
	return func(s *Session) { s.completionPool = p }
}

// WithDispatchPool overrides the pool used to send all but the last RPC of
// a flush.
func WithDispatchPool(p *stop.Stopper) Option {
	return func(s *Session) { s.dispatchPool = p }
}

// Session is the caller-facing owner of a Batcher's lifecycle: it exposes
// the add/flush/abort surface, lazily starts a new Batcher after each
// flush, and is the batcher.Session collaborator every Batcher it creates
// calls back into.
type Session struct {
	id uuid.UUID

	client      Client
	logger      *zap.Logger
	transaction txncoord.Transaction
	readPoint   batcher.ReadPoint

	forceConsistentRead         bool
	combineErrors               bool
	simulateMismatchTable       string
	simulateMismatchProbability float64
	rejectionScoreSource        batcher.RejectionScoreSource

	completionPool  *stop.Stopper
	dispatchPool    *stop.Stopper
	flushSem        *semaphore.Weighted
	dispatchLimiter *rate.Limiter
	requestIDs      *retryid.Allocator

	errors errcollector.Collector

	mu struct {
		sync.Mutex
		current  *batcher.Batcher
		deadline time.Time
	}
}

// New constructs a Session bound to client. The session starts with no
// current Batcher; one is created lazily on the first Add.
func New(client Client, opts ...Option) *Session {
	s := &Session{
		id:     uuid.New(),
		client: client,
		errors: errcollector.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Adjust(nil).Named("session")
	}
	s.logger = s.logger.With(zap.String("session", s.id.String()))
	return s
}

// ID returns the session's identifier, used only for logging and tracing.
func (s *Session) ID() uuid.UUID { return s.id }

// SetDeadline sets the absolute deadline applied to the current and every
// future Batcher this session creates.
func (s *Session) SetDeadline(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.deadline = deadline
	if s.mu.current != nil {
		s.mu.current.SetDeadline(deadline)
	}
}

// currentBatcherLocked returns the in-progress Batcher, creating one if
// none exists. Callers hold s.mu.
func (s *Session) currentBatcherLocked() *batcher.Batcher {
	if s.mu.current != nil {
		return s.mu.current
	}
	opts := []batcher.Option{
		batcher.WithLogger(s.logger),
		batcher.WithErrorCollector(s.errors),
		batcher.WithCombinedErrors(s.combineErrors),
		batcher.WithRejectionScoreSource(s.rejectionScoreSource),
	}
	if s.simulateMismatchProbability > 0 {
		opts = append(opts, batcher.WithSimulatedLookupMismatch(s.simulateMismatchTable, s.simulateMismatchProbability))
	}
	if s.completionPool != nil {
		opts = append(opts, batcher.WithCompletionPool(s.completionPool))
	}
	if s.dispatchPool != nil {
		opts = append(opts, batcher.WithDispatchPool(s.dispatchPool))
	}
	if s.dispatchLimiter != nil {
		opts = append(opts, batcher.WithDispatchRateLimiter(s.dispatchLimiter))
	}
	if s.requestIDs != nil {
		opts = append(opts, batcher.WithRequestIDAllocator(s.requestIDs))
	}

	b := batcher.New(s.client.Factory(), s.client.MetaCache(), s, s.transaction, s.readPoint, s.forceConsistentRead, opts...)
	if !s.mu.deadline.IsZero() {
		b.SetDeadline(s.mu.deadline)
	}
	s.mu.current = b
	return b
}

// Add hands op to the current Batcher, creating one if this is the first
// Add since the session was built or since the last flush. The Batcher's
// Add runs under s.mu, so a concurrent FlushAsync cannot detach and flush
// that Batcher while the Add is still in progress.
func (s *Session) Add(ctx context.Context, op optype.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBatcherLocked().Add(ctx, op)
}

// FlushAsync flushes the current Batcher and detaches it from the session,
// so the next Add starts a fresh one. isWithinTransactionRetry is relayed
// to the Batcher unchanged.
func (s *Session) FlushAsync(cb func(error), isWithinTransactionRetry bool) error {
	s.mu.Lock()
	b := s.currentBatcherLocked()
	s.mu.current = nil
	s.mu.Unlock()

	if s.flushSem != nil {
		if err := s.flushSem.Acquire(context.Background(), 1); err != nil {
			return err
		}
		inner := cb
		cb = func(status error) {
			s.flushSem.Release(1)
			inner(status)
		}
	}

	if observer, ok := s.rejectionScoreSource.(latencyObserver); ok {
		start := time.Now()
		inner := cb
		cb = func(status error) {
			observer.Observe(time.Since(start))
			inner(status)
		}
	}

	return b.FlushAsync(cb, isWithinTransactionRetry)
}

// Abort aborts the current Batcher, if one exists.
func (s *Session) Abort(status error) {
	s.mu.Lock()
	b := s.mu.current
	s.mu.current = nil
	s.mu.Unlock()
	if b != nil {
		b.Abort(status)
	}
}

// HasPendingOperations reports whether the current Batcher, if any, still
// references any operation.
func (s *Session) HasPendingOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.current != nil && s.mu.current.HasPendingOperations()
}

// CountBufferedOperations is 0 unless a Batcher is currently Gathering.
func (s *Session) CountBufferedOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.current == nil {
		return 0
	}
	return s.mu.current.CountBufferedOperations()
}

// GetAndClearPendingErrors drains the session-wide error collector, which
// every Batcher this session has created reports into.
func (s *Session) GetAndClearPendingErrors() []errcollector.OpError {
	return s.errors.GetAndClearErrors()
}

// RejectionScore delegates to the injected RejectionScoreSource.
func (s *Session) RejectionScore(attemptNum int) float64 {
	if s.rejectionScoreSource == nil {
		return 0
	}
	return s.rejectionScoreSource.RejectionScore(attemptNum)
}

// FlushStarted implements batcher.Session: it is purely diagnostic here.
func (s *Session) FlushStarted(expectedOps int) {
	s.logger.Debug("flush started", zap.Int("expectedOps", expectedOps))
}

// FlushFinished implements batcher.Session.
func (s *Session) FlushFinished() {
	s.logger.Debug("flush finished")
}
