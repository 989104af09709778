package batcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/tablet"
)

func opWithTablet(seq int64, class optype.Class, t *tablet.Tablet) *InFlightOp {
	op := newInFlightOp(&fakeOp{class: class, desc: "op"}, nil, seq)
	op.setTablet(t)
	op.setState(opBufferedToTabletServer)
	return op
}

func TestGroupOpsPartitionsByTabletAndClass(t *testing.T) {
	a := &tablet.Tablet{ID: "A"}
	b := &tablet.Tablet{ID: "B"}

	queue := []*InFlightOp{
		opWithTablet(2, optype.Write, a),
		opWithTablet(0, optype.Write, a),
		opWithTablet(1, optype.Write, b),
	}

	groups := groupOps(queue)
	require.Len(t, groups, 2)

	assert.Equal(t, "A", groups[0].tablet.ID)
	assert.Equal(t, 2, groups[0].size())
	assert.Equal(t, int64(0), queue[groups[0].begin].SequenceNumber)
	assert.Equal(t, int64(2), queue[groups[0].begin+1].SequenceNumber)

	assert.Equal(t, "B", groups[1].tablet.ID)
	assert.Equal(t, 1, groups[1].size())
}

func TestGroupOpsSeparatesClassesOnSameTablet(t *testing.T) {
	a := &tablet.Tablet{ID: "A"}

	queue := []*InFlightOp{
		opWithTablet(0, optype.Write, a),
		opWithTablet(1, optype.LeaderRead, a),
	}

	groups := groupOps(queue)
	require.Len(t, groups, 2)
	assert.NotEqual(t, groups[0].class, groups[1].class)
}

func TestGroupOpsIsFixedPoint(t *testing.T) {
	a := &tablet.Tablet{ID: "A"}
	b := &tablet.Tablet{ID: "B"}

	queue := []*InFlightOp{
		opWithTablet(0, optype.Write, a),
		opWithTablet(1, optype.Write, a),
		opWithTablet(2, optype.Write, b),
	}

	first := groupOps(queue)
	second := groupOps(queue)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestSetNeedMetadata(t *testing.T) {
	twoGroups := []group{{}, {}}
	setNeedMetadata(twoGroups, false, false)
	assert.True(t, twoGroups[0].needMetadata)
	assert.True(t, twoGroups[1].needMetadata)

	oneGroup := []group{{}}
	setNeedMetadata(oneGroup, false, false)
	assert.False(t, oneGroup[0].needMetadata)

	setNeedMetadata(oneGroup, true, false)
	assert.True(t, oneGroup[0].needMetadata)

	oneGroup[0].needMetadata = false
	setNeedMetadata(oneGroup, false, true)
	assert.True(t, oneGroup[0].needMetadata)
}
