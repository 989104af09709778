// Package txn defines the batcher's view of the surrounding transaction:
// just enough surface to let a batch wait for the transaction to be ready
// to accept it, and to tell the transaction which operations were flushed.
// The transaction coordinator itself — id allocation, read/write timestamp
// bookkeeping, commit/abort protocol — is out of scope here.
package txn

import (
	"context"
	"time"

	"github.com/chronosdb/chronosdb/hlc"
	"github.com/chronosdb/chronosdb/optype"
)

// GroupInfo is what the batcher tells the transaction about one dispatch
// group so it can decide what metadata (if any) that group's RPC needs to
// carry, e.g. whether this is the operation that must create the
// transaction record.
type GroupInfo struct {
	TabletID     string
	Class        optype.Class
	OpCount      int
	NeedMetadata bool
}

// ReadyCallback resumes a deferred Prepare call. err is nil on success.
type ReadyCallback func(err error)

// Trace is the distributed-tracing span collaborator; RPCs attach as
// children of it so a flush's RPCs show up nested under the transaction
// that issued them.
type Trace interface {
	Child(name string) Trace
}

// Transaction is the batcher's view of the coordinating transaction, if
// any. A batcher not created with a transaction never calls any of these.
type Transaction interface {
	// ExpectOperations tells the transaction how many operations this
	// flush is about to contribute, used for its own bookkeeping
	// (heartbeat scheduling, commit readiness).
	ExpectOperations(n int)
	// Prepare asks the transaction whether groups may be dispatched now.
	// It returns true if the decision was made synchronously (in which
	// case err is the verdict); it returns false if the decision will
	// come later via ready, in which case err is always nil here and the
	// real verdict arrives as ready's argument.
	Prepare(ctx context.Context, groups []GroupInfo, forceConsistentRead bool, deadline time.Time, initial bool, ready ReadyCallback) (done bool, err error)
	// Flushed reports that ops have completed their RPC (successfully or
	// not) so the transaction can fold their effect into its own state.
	Flushed(ops []optype.Operation, usedReadTime hlc.Timestamp, status error)
	Trace() Trace
}
