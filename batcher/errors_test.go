package batcher

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortedErrorRetriable(t *testing.T) {
	cases := []struct {
		reason    AbortReason
		retriable bool
	}{
		{AbortReasonExternal, false},
		{AbortReasonFailedTabletLookup, true},
		{AbortReasonPartitionListVersionMismatch, false},
	}
	for _, c := range cases {
		e := &AbortedError{Reason: c.reason}
		assert.Equal(t, c.retriable, e.Retriable())
	}
}

func TestAbortedErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := &AbortedError{Reason: AbortReasonExternal, Cause: cause}
	assert.Equal(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "boom")
}

func TestCombineErrorsSingleMessageCollapses(t *testing.T) {
	opA := &fakeOp{desc: "opA"}
	opB := &fakeOp{desc: "opB"}
	shared := errors.New("timed out")

	got := combineErrors([]opFailure{
		{op: opA, err: shared},
		{op: opB, err: shared},
	})

	require.Error(t, got)
	assert.Contains(t, got.Error(), "opA")
	assert.ErrorIs(t, got, shared)
}

func TestCombineErrorsDistinctMessagesCombine(t *testing.T) {
	opA := &fakeOp{desc: "opA"}
	opB := &fakeOp{desc: "opB"}

	got := combineErrors([]opFailure{
		{op: opA, err: errors.New("timed out")},
		{op: opB, err: errors.New("not found")},
	})

	var combined *CombinedError
	require.ErrorAs(t, got, &combined)
	assert.Len(t, combined.Causes, 2)
}

func TestCombineErrorsEmpty(t *testing.T) {
	assert.Nil(t, combineErrors(nil))
}
