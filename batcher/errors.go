package batcher

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrWrongState is returned by Add when the batcher is not in the Gathering
// state, and is a programming fault from the caller's perspective.
var ErrWrongState = errors.New("batcher: operation not allowed outside the Gathering state")

// AbortReason distinguishes the handful of ways a batch-wide abort can
// happen, since the session's retry policy depends on which one fired.
type AbortReason int

const (
	// AbortReasonExternal is a caller-initiated Abort, or an abort whose
	// cause is already fully described by the wrapped status.
	AbortReasonExternal AbortReason = iota
	// AbortReasonFailedTabletLookup means at least one op's lookup failed;
	// retriable at the session layer because no op in the batch was
	// dispatched, so sequence numbers are still meaningful on retry.
	AbortReasonFailedTabletLookup
	// AbortReasonPartitionListVersionMismatch means a resolved tablet's
	// partition-list version disagreed with what the caller last observed;
	// not retriable as-is because the caller's view of sharding is stale.
	AbortReasonPartitionListVersionMismatch
)

// AbortedError is the status surfaced to the flush callback (and recorded
// per-op) when a batch is aborted, whether by explicit Abort or by an
// internal terminal failure.
type AbortedError struct {
	Reason AbortReason
	Cause  error
}

func (e *AbortedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aborted: %v", e.Cause)
	}
	switch e.Reason {
	case AbortReasonFailedTabletLookup:
		return "aborted: batch aborted due to failed tablet lookup"
	case AbortReasonPartitionListVersionMismatch:
		return "aborted: table partition list version does not match"
	default:
		return "aborted"
	}
}

func (e *AbortedError) Unwrap() error { return e.Cause }

// Retriable reports whether the session should retry the whole batch as-is.
func (e *AbortedError) Retriable() bool {
	return e.Reason == AbortReasonFailedTabletLookup
}

// ErrTablePartitionListIsStale is surfaced by a failed lookup when the
// meta-cache reports the table's partition list is out of date; the op is
// tagged via optype.Operation.TagForPartitionRefresh so the session knows
// to refresh partitions before retrying it.
var ErrTablePartitionListIsStale = errors.New("table partition list is stale")

// ErrInternalPartitionMismatch fires when a lookup resolves a tablet that
// turns out not to contain the row's partition key — a defensive check
// against a partition split racing the lookup.
var ErrInternalPartitionMismatch = errors.New("resolved tablet does not contain partition key")

// ErrIO is the generic flush-level status surfaced when any op failed and
// combine_batcher_errors is off.
var ErrIO = errors.New("errors occurred while reaching out to the tablet servers")

// CombinedError summarizes every distinct error observed across a batch
// when combine_batcher_errors is on.
type CombinedError struct {
	Causes []error
}

func (e *CombinedError) Error() string {
	if len(e.Causes) == 1 {
		return e.Causes[0].Error()
	}
	return fmt.Sprintf("combined: %d distinct errors, first: %v", len(e.Causes), e.Causes[0])
}

// combineErrors implements the combine_batcher_errors summarization rule:
// a single op's error, prefixed with its description, if every failure
// shares one underlying message; otherwise a Combined status listing the
// distinct messages observed.
func combineErrors(errs []opFailure) error {
	if len(errs) == 0 {
		return nil
	}

	seen := make(map[string]error)
	var distinct []error
	for _, f := range errs {
		msg := f.err.Error()
		if _, ok := seen[msg]; !ok {
			seen[msg] = f.err
			distinct = append(distinct, f.err)
		}
	}

	if len(distinct) == 1 {
		return fmt.Errorf("%s: %w", errs[0].op.Description(), distinct[0])
	}
	return &CombinedError{Causes: distinct}
}
