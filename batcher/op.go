package batcher

import (
	"sync"
	"sync/atomic"

	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/tablet"
)

// opState is the per-op lifecycle state. Transitions are monotonic and the
// forward edge (LookingUpTablet -> BufferedToTabletServer) is taken with an
// atomic compare-and-swap, so a lookup completion that finds the op in any
// other state is detected. The lookup-completion path performs that swap
// while holding the batcher's main lock.
type opState int32

const (
	opLookingUpTablet opState = iota
	opBufferedToTabletServer
	opCompleted
)

func (s opState) String() string {
	switch s {
	case opLookingUpTablet:
		return "LookingUpTablet"
	case opBufferedToTabletServer:
		return "BufferedToTabletServer"
	case opCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// InFlightOp is the per-operation record the batcher tracks from ingress
// through dispatch: the user's operation, its routing key, a sequence
// number fixing its position in submission order, and a state cell that
// only ever moves forward.
type InFlightOp struct {
	Op             optype.Operation
	PartitionKey   []byte
	SequenceNumber int64

	state int32 // opState, accessed atomically

	tabletMu sync.Mutex
	tablet   *tablet.Tablet
}

func newInFlightOp(op optype.Operation, partitionKey []byte, seq int64) *InFlightOp {
	return &InFlightOp{
		Op:             op,
		PartitionKey:   partitionKey,
		SequenceNumber: seq,
		state:          int32(opLookingUpTablet),
	}
}

// State returns the op's current lifecycle state.
func (o *InFlightOp) State() opState {
	return opState(atomic.LoadInt32(&o.state))
}

// casState attempts the monotonic from->to transition, returning whether it
// succeeded. Callers treat failure as a programming fault except where the
// spec explicitly says otherwise.
func (o *InFlightOp) casState(from, to opState) bool {
	return atomic.CompareAndSwapInt32(&o.state, int32(from), int32(to))
}

func (o *InFlightOp) setState(to opState) {
	atomic.StoreInt32(&o.state, int32(to))
}

// setTablet records the tablet a lookup resolved for this op. Called at
// most once, from the lookup-completion path, before the op is ever placed
// on ops_queue or read concurrently by grouping.
func (o *InFlightOp) setTablet(t *tablet.Tablet) {
	o.tabletMu.Lock()
	o.tablet = t
	o.tabletMu.Unlock()
}

// Tablet returns the resolved tablet, or nil before lookup completes.
func (o *InFlightOp) Tablet() *tablet.Tablet {
	o.tabletMu.Lock()
	defer o.tabletMu.Unlock()
	return o.tablet
}

// opFailure pairs a failed in-flight op with the error that failed it. It
// is a batcher-internal bookkeeping type distinct from errcollector.OpError
// because not every opFailure necessarily survives to be reported (e.g. a
// race against a concurrent Abort may double-report).
type opFailure struct {
	op  optype.Operation
	err error
}
