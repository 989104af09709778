// Package rpc defines the collaborator contract between the batcher and the
// transport layer: given a group of in-flight operations bound for one
// tablet, build the one wire request that carries all of them and send it.
// Building the actual wire-protocol payload and parsing the actual wire
// response are both out of scope here — the batcher only ever sees the
// Request/Response shapes below.
package rpc

import (
	"context"

	"github.com/chronosdb/chronosdb/hlc"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/tablet"
	txncoord "github.com/chronosdb/chronosdb/txn"
)

// Consistency selects which read path a read RPC takes.
type Consistency int

const (
	ConsistencyStrong Consistency = iota
	ConsistencyPrefix
)

// RowError is a per-row failure returned alongside an otherwise-successful
// RPC response; Index is the row's position within the request the RPC was
// built from.
type RowError struct {
	Index  int
	Status error
}

// Response is what a sent Request resolves to.
type Response struct {
	// Status is the server's verdict on the request as a whole (a transport
	// failure is Send's own error instead). A non-nil Status means every
	// row in the request failed for the same reason; RowErrors is only
	// meaningful when Status is nil.
	Status error
	// PropagatedTimestamp is the server's hybrid-time clock value at the
	// time it processed the request, if the RPC carries one (writes only).
	PropagatedTimestamp *hlc.Timestamp
	// UsedReadTime is the read timestamp the server actually used to
	// satisfy a read, if applicable.
	UsedReadTime *hlc.Timestamp
	RowErrors    []RowError
}

// Request is one RPC in flight: a single group's worth of operations bound
// for a single tablet.
type Request interface {
	Tablet() *tablet.Tablet
	Ops() []optype.Operation
	Send(ctx context.Context) (Response, error)
}

// Options carries the per-group facts the batcher knows at construction
// time that the factory folds into the wire request, since Request itself
// exposes no setters for them once built.
type Options struct {
	// NeedConsistentRead is true if this group's RPC must carry enough
	// metadata for the server to serve it off a consistent read point:
	// forced by the caller, part of a transaction, or one of several
	// groups in the same flush.
	NeedConsistentRead bool
	// Trace is this RPC's span, already created as a child of the
	// transaction's trace (or nil outside a transaction).
	Trace txncoord.Trace
}

// Factory builds the RPC variant appropriate to a group's operation class.
// The batcher supplies inputs only — the factory owns wire encoding.
type Factory interface {
	NewWriteRequest(t *tablet.Tablet, ops []optype.Operation, opts Options) Request
	NewReadRequest(t *tablet.Tablet, ops []optype.Operation, consistency Consistency, opts Options) Request
}
