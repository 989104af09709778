package batcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chronosdb/chronosdb/tablet"
)

func TestInFlightOpStateTransitions(t *testing.T) {
	op := newInFlightOp(&fakeOp{desc: "op"}, []byte("k"), 7)
	assert.Equal(t, opLookingUpTablet, op.State())
	assert.Equal(t, int64(7), op.SequenceNumber)

	assert.True(t, op.casState(opLookingUpTablet, opBufferedToTabletServer))
	assert.Equal(t, opBufferedToTabletServer, op.State())

	// The forward transition is monotonic: a stale from-state fails.
	assert.False(t, op.casState(opLookingUpTablet, opBufferedToTabletServer))

	op.setState(opCompleted)
	assert.Equal(t, opCompleted, op.State())
}

func TestInFlightOpTablet(t *testing.T) {
	op := newInFlightOp(&fakeOp{desc: "op"}, []byte("k"), 1)
	assert.Nil(t, op.Tablet())

	tb := &tablet.Tablet{ID: "A"}
	op.setTablet(tb)
	assert.Same(t, tb, op.Tablet())
}
