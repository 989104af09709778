package retryid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextRequestIDAndMinRunningIsMonotonicPerTablet(t *testing.T) {
	a := NewAllocator()

	id0, min0 := a.NextRequestIDAndMinRunning("A")
	id1, min1 := a.NextRequestIDAndMinRunning("A")
	assert.Equal(t, ID(0), id0)
	assert.Equal(t, ID(1), id1)
	assert.Equal(t, ID(0), min0)
	assert.Equal(t, ID(0), min1)

	idB, minB := a.NextRequestIDAndMinRunning("B")
	assert.Equal(t, ID(0), idB)
	assert.Equal(t, ID(0), minB)
}

func TestRequestFinishedAdvancesMinRunning(t *testing.T) {
	a := NewAllocator()
	id0, _ := a.NextRequestIDAndMinRunning("A")
	id1, _ := a.NextRequestIDAndMinRunning("A")
	id2, minAfterThree := a.NextRequestIDAndMinRunning("A")
	assert.Equal(t, ID(0), minAfterThree)

	a.RequestFinished("A", id0)
	id3, min := a.NextRequestIDAndMinRunning("A")
	assert.Equal(t, id1, min)

	a.RequestFinished("A", id1)
	a.RequestFinished("A", id2)
	a.RequestFinished("A", id3)
	id4, minAllDone := a.NextRequestIDAndMinRunning("A")
	assert.Equal(t, id4, minAllDone)
}

func TestRequestFinishedOnUnknownTabletIsNoop(t *testing.T) {
	a := NewAllocator()
	a.RequestFinished("unknown", 5)
}
