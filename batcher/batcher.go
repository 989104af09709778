// Package batcher implements the client-side write/read batcher: it takes
// a set of per-row operations, resolves each to its owning tablet, groups
// them by (tablet, operation class), coordinates with an optional
// surrounding transaction, dispatches one RPC per group, collects errors,
// and invokes its flush callback exactly once.
//
// A Batcher is short-lived: construct one, Add operations to it while it is
// Gathering, call FlushAsync once, and let it run itself to completion.
package batcher

import (
	"context"
	"sync"
	"time"

	goqueue "github.com/phf/go-queue/queue"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chronosdb/chronosdb/errcollector"
	"github.com/chronosdb/chronosdb/hlc"
	"github.com/chronosdb/chronosdb/log"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/retryid"
	"github.com/chronosdb/chronosdb/rpc"
	"github.com/chronosdb/chronosdb/stop"
	"github.com/chronosdb/chronosdb/tablet"
	txncoord "github.com/chronosdb/chronosdb/txn"
)

// State is the batcher's lifecycle state. Transitions are summarized in the
// table below; every other (from, to) pair is a programming fault.
//
//	Gathering -> Resolving   FlushAsync
//	Gathering -> Aborted     Abort
//	Resolving -> Preparing   readiness check, ops_queue non-empty
//	Resolving -> Ready       readiness check, ops_queue empty
//	Resolving -> Aborted     Abort / fatal group validation
//	Preparing -> Ready       transaction prepare succeeded
//	Preparing -> Aborted     transaction prepare failed / Abort
//	Ready     -> Complete    finish check, ops empty
//	Ready     -> Aborted     Abort
type State int32

const (
	Gathering State = iota
	Resolving
	Preparing
	Ready
	Complete
	Aborted
)

func (s State) String() string {
	switch s {
	case Gathering:
		return "Gathering"
	case Resolving:
		return "Resolving"
	case Preparing:
		return "Preparing"
	case Ready:
		return "Ready"
	case Complete:
		return "Complete"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// FlushCallback is invoked exactly once per batcher lifecycle, after the
// batch reaches Complete or Aborted.
type FlushCallback func(status error)

// RejectionScoreSource supplies the session's backoff/load-shedding score
// for a given retry attempt; the batcher only relays it.
type RejectionScoreSource interface {
	RejectionScore(attemptNum int) float64
}

// Batcher is the heart of the module: see the package doc for the contract.
// All mutable state lives under mu; the documented lock order is
// session -> Batcher -> InFlightOp, and the Batcher never calls into the
// session, a user callback, or a collaborator while holding mu.
type Batcher struct {
	logger               *zap.Logger
	factory              rpc.Factory
	metaCache            tablet.MetaCache
	errors               errcollector.Collector
	clock                *hlc.Clock
	completionPool       *stop.Stopper
	dispatchPool         *stop.Stopper
	rejectionScoreSource RejectionScoreSource
	dispatchLimiter      *rate.Limiter
	requestIDs           *retryid.Allocator

	session             Session
	transaction         txncoord.Transaction
	readPoint           ReadPoint
	forceConsistentRead bool

	combineErrors               bool
	simulateMismatchProbability float64
	simulateMismatchTableName   string

	mu struct {
		sync.Mutex

		state State

		ops      map[int64]*InFlightOp
		opsQueue *goqueue.Queue

		outstandingLookups int
		groups             []group

		hadErrors     bool
		combinedError error
		failures      []opFailure

		flushCallback FlushCallback
		abortStatus   error

		deadline time.Time

		nextSequenceNumber int64
	}
}

// Option configures optional Batcher behavior at construction time,
// mirroring the session-level toggles described in the external interface.
type Option func(*Batcher)

// WithLogger attaches a logger; the default is log.Default().
func WithLogger(logger *zap.Logger) Option {
	return func(b *Batcher) { b.logger = logger }
}

// WithErrorCollector overrides the default in-memory error collector.
func WithErrorCollector(c errcollector.Collector) Option {
	return func(b *Batcher) { b.errors = c }
}

// WithCombinedErrors enables combine_batcher_errors: the flush status
// becomes a synthesized Combined/prefixed error instead of the generic
// IOError summary.
func WithCombinedErrors(enabled bool) Option {
	return func(b *Batcher) { b.combineErrors = enabled }
}

// WithSimulatedLookupMismatch injects the partition-mismatch failure path
// with probability p for ops of tableName: the op fails its lookup with
// ErrInternalPartitionMismatch, as if the resolved tablet did not contain
// its partition key.
func WithSimulatedLookupMismatch(tableName string, p float64) Option {
	return func(b *Batcher) {
		b.simulateMismatchTableName = tableName
		b.simulateMismatchProbability = p
	}
}

// WithDispatchPool overrides the pool used to send every group but the
// last on a flush; the default is a Batcher-private Stopper.
func WithDispatchPool(p *stop.Stopper) Option {
	return func(b *Batcher) { b.dispatchPool = p }
}

// WithCompletionPool overrides the pool the completion dispatcher submits
// the flush callback to; the default is a Batcher-private Stopper.
func WithCompletionPool(p *stop.Stopper) Option {
	return func(b *Batcher) { b.completionPool = p }
}

// WithRejectionScoreSource attaches the source RejectionScore delegates to.
func WithRejectionScoreSource(src RejectionScoreSource) Option {
	return func(b *Batcher) { b.rejectionScoreSource = src }
}

// WithDispatchRateLimiter throttles how fast this batcher hands groups to
// the RPC layer, so a session with many concurrent flushes cannot burst
// past what the tablet servers it targets can absorb. The limiter is
// consulted once per group, immediately before Send.
func WithDispatchRateLimiter(l *rate.Limiter) Option {
	return func(b *Batcher) { b.dispatchLimiter = l }
}

// WithRequestIDAllocator attaches a per-tablet retryable-request-id
// allocator; each dispatched group is stamped with one so a retried RPC can
// be deduplicated by the tablet server it lands on. Optional: a batcher
// with none simply does not stamp its groups.
func WithRequestIDAllocator(a *retryid.Allocator) Option {
	return func(b *Batcher) { b.requestIDs = a }
}

// New constructs a Batcher in the Gathering state. transaction, readPoint
// and session may be nil.
func New(factory rpc.Factory, metaCache tablet.MetaCache, session Session,
	transaction txncoord.Transaction, readPoint ReadPoint, forceConsistentRead bool,
	opts ...Option) *Batcher {
	b := &Batcher{
		factory:             factory,
		metaCache:           metaCache,
		session:             session,
		transaction:         transaction,
		readPoint:           readPoint,
		forceConsistentRead: forceConsistentRead,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Adjust(nil).Named("batcher")
	}
	if b.errors == nil {
		b.errors = errcollector.New()
	}
	if b.clock == nil {
		b.clock = hlc.NewClock(500 * time.Millisecond)
	}
	if b.dispatchPool == nil {
		b.dispatchPool = stop.NewStopper("batcher-dispatch", stop.WithLogger(b.logger))
	}
	if b.completionPool == nil {
		b.completionPool = stop.NewStopper("batcher-completion", stop.WithLogger(b.logger))
	}
	b.mu.state = Gathering
	b.mu.ops = make(map[int64]*InFlightOp)
	b.mu.opsQueue = goqueue.New()
	return b
}

// SetDeadline sets the absolute deadline passed to every lookup and RPC
// this batcher issues. It may be called before any Add, or left unset to
// mean "no deadline".
func (b *Batcher) SetDeadline(deadline time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mu.deadline = deadline
}

func (b *Batcher) deadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mu.deadline
}

// State returns the batcher's current lifecycle state.
func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mu.state
}

// HasPendingOperations reports whether any op is still tracked by this
// batcher, i.e. whether it is safe to destroy yet.
func (b *Batcher) HasPendingOperations() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mu.ops) > 0
}

// CountBufferedOperations returns the number of ops this batcher currently
// tracks (an op whose lookup already failed is no longer counted), but only
// while still Gathering (0 otherwise, per the external interface contract).
func (b *Batcher) CountBufferedOperations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mu.state != Gathering {
		return 0
	}
	return len(b.mu.ops)
}

// GetAndClearPendingErrors drains the error collector.
func (b *Batcher) GetAndClearPendingErrors() []errcollector.OpError {
	return b.errors.GetAndClearErrors()
}

// RejectionScore delegates to the injected RejectionScoreSource, or returns
// 0 if none was configured.
func (b *Batcher) RejectionScore(attemptNum int) float64 {
	if b.rejectionScoreSource == nil {
		return 0
	}
	return b.rejectionScoreSource.RejectionScore(attemptNum)
}

// Add enqueues one operation while Gathering. It never blocks on I/O: the
// tablet lookup it kicks off may complete before Add returns, and the
// implementation tolerates that by releasing the lock before dispatching
// the lookup.
func (b *Batcher) Add(ctx context.Context, op optype.Operation) error {
	partitionKey, err := op.PartitionKey()
	if err != nil {
		return err
	}

	table := op.Table()
	if table.PartitionSchema().HashPartitioned && op.HasHashColumns() {
		if code, ok := tablet.DecodeMultiColumnHashValue(table.PartitionSchema(), partitionKey); ok {
			op.SetHashCode(code)
		}
	}

	needsInvalidate := table.PartitionListIsStale()

	b.mu.Lock()
	if b.mu.state != Gathering {
		b.mu.Unlock()
		return ErrWrongState
	}

	seq := b.mu.nextSequenceNumber
	b.mu.nextSequenceNumber++

	inflight := newInFlightOp(op, partitionKey, seq)
	b.mu.ops[seq] = inflight
	b.mu.outstandingLookups++
	deadline := b.mu.deadline
	b.mu.Unlock()

	if needsInvalidate {
		b.metaCache.InvalidateTableCache(table)
	}

	if preselected := op.PreselectedTablet(); preselected != nil {
		b.onLookupComplete(inflight, preselected, nil)
		return nil
	}

	b.metaCache.LookupTabletByKey(ctx, table, partitionKey, deadline, func(t *tablet.Tablet, err error) {
		b.onLookupComplete(inflight, t, err)
	})
	return nil
}

// onLookupComplete is the MetaCache callback: it may run synchronously from
// within Add, or later on an arbitrary goroutine, and must tolerate racing
// against Add, against other lookups, and against Abort.
func (b *Batcher) onLookupComplete(inflight *InFlightOp, t *tablet.Tablet, lookupErr error) {
	if simErr := b.maybeSimulateMismatch(inflight); simErr != nil {
		lookupErr = simErr
		t = nil
	}

	b.mu.Lock()
	b.mu.outstandingLookups--
	lookupsExhausted := b.mu.outstandingLookups == 0

	if b.mu.state == Aborted {
		status := b.mu.abortStatus
		inflight.setState(opCompleted)
		b.mu.hadErrors = true
		b.mu.failures = append(b.mu.failures, opFailure{op: inflight.Op, err: status})
		delete(b.mu.ops, inflight.SequenceNumber)
		b.mu.Unlock()
		b.errors.AddError(inflight.Op, status)
		b.finishCheck()
		if lookupsExhausted {
			b.readinessCheck()
		}
		return
	}
	if b.mu.state != Gathering && b.mu.state != Resolving {
		b.logger.Error("lookup completion observed an illegal batcher state",
			log.SequenceField(inflight.SequenceNumber), zap.String("state", b.mu.state.String()))
		b.mu.Unlock()
		return
	}

	var failure error
	if lookupErr == nil {
		if !t.ContainsPartitionKey(inflight.PartitionKey) {
			failure = ErrInternalPartitionMismatch
			b.logger.Error("resolved tablet does not contain partition key",
				log.SequenceField(inflight.SequenceNumber), log.TabletField(t.ID),
				log.HexField("partitionKey", inflight.PartitionKey))
		}
	} else {
		failure = lookupErr
	}

	if failure == nil {
		inflight.setTablet(t)
		if !inflight.casState(opLookingUpTablet, opBufferedToTabletServer) {
			b.logger.Error("in-flight op was not in LookingUpTablet state at successful lookup completion",
				log.SequenceField(inflight.SequenceNumber))
		}
		b.mu.opsQueue.PushBack(inflight)
	} else {
		b.mu.hadErrors = true
		b.mu.failures = append(b.mu.failures, opFailure{op: inflight.Op, err: failure})
		delete(b.mu.ops, inflight.SequenceNumber)
	}
	b.mu.Unlock()

	if failure != nil {
		b.errors.AddError(inflight.Op, failure)
		if errorsIsStalePartitionList(failure) {
			inflight.Op.TagForPartitionRefresh()
		}
		b.finishCheck()
	}
	if lookupsExhausted {
		b.readinessCheck()
	}
}

func errorsIsStalePartitionList(err error) bool {
	return err == ErrTablePartitionListIsStale
}

// Abort drives the batcher to Aborted and guarantees the flush callback,
// if one is installed, fires with status. It races with every other
// transition and wins: lookup and RPC completions that observe Aborted
// discard or fail their op instead of proceeding normally.
func (b *Batcher) Abort(status error) {
	if status == nil {
		status = &AbortedError{Reason: AbortReasonExternal}
	}
	b.abort(status)
}

func (b *Batcher) abort(status error) {
	b.mu.Lock()
	if b.mu.state == Aborted || b.mu.state == Complete {
		b.mu.Unlock()
		return
	}
	b.mu.state = Aborted
	b.mu.abortStatus = status
	b.logger.Debug("batcher aborted", log.ReasonField(status.Error()))

	var failedOps []optype.Operation
	for seq, op := range b.mu.ops {
		if op.State() == opBufferedToTabletServer {
			op.setState(opCompleted)
			b.mu.hadErrors = true
			b.mu.failures = append(b.mu.failures, opFailure{op: op.Op, err: status})
			failedOps = append(failedOps, op.Op)
			delete(b.mu.ops, seq)
		}
	}

	cb := b.mu.flushCallback
	b.mu.flushCallback = nil
	b.mu.Unlock()

	for _, op := range failedOps {
		b.errors.AddError(op, status)
	}

	if cb != nil {
		b.dispatchCompletion(cb, status)
	}
}

// maybeSimulateMismatch implements simulate_tablet_lookup_does_not_match_partition_key_probability:
// with the configured probability, ops routed to the designated test table
// are failed as if the lookup had raced a partition split.
func (b *Batcher) maybeSimulateMismatch(inflight *InFlightOp) error {
	if b.simulateMismatchProbability <= 0 {
		return nil
	}
	if inflight.Op.Table().Name() != b.simulateMismatchTableName {
		return nil
	}
	if pseudoRandom(inflight.SequenceNumber) < b.simulateMismatchProbability {
		return ErrInternalPartitionMismatch
	}
	return nil
}

// pseudoRandom derives a deterministic float in [0, 1) from seq, so the
// injected-failure test mode does not need a shared RNG guarded by the
// batcher's lock.
func pseudoRandom(seq int64) float64 {
	x := uint64(seq)*2654435761 + 1
	x ^= x >> 13
	x *= 0x2545F4914F6CDD1D
	return float64(x%1_000_000) / 1_000_000
}
