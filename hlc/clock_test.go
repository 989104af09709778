package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToMicrosecond(t *testing.T) {
	assert.Equal(t, int64(1), toMicrosecond(1000))
}

func TestPhysicalClockMonotonic(t *testing.T) {
	v1 := physicalClock()
	time.Sleep(time.Microsecond)
	v2 := physicalClock()
	assert.True(t, v2 >= v1)
}

func TestNowAdvancesPastSource(t *testing.T) {
	pc := func() int64 { return 200 }
	c := NewClockWithSource(pc, time.Second)

	c.mu.ts = Timestamp{Physical: 100, Logical: 10}
	result := c.Now()
	assert.Equal(t, Timestamp{Physical: 200}, result)

	c.mu.ts = Timestamp{Physical: 300, Logical: 10}
	result = c.Now()
	assert.Equal(t, Timestamp{Physical: 300, Logical: 11}, result)
}

func TestUpdateTakesMax(t *testing.T) {
	pc := func() int64 { return 200 }
	c := NewClockWithSource(pc, time.Second)

	c.mu.ts = Timestamp{Physical: 100, Logical: 10}
	c.Update(Timestamp{Physical: 120})
	assert.Equal(t, Timestamp{Physical: 200}, c.mu.ts)

	// A fresh clock: a Clock never lets its learned physical time fall back.
	c = NewClockWithSource(func() int64 { return 50 }, time.Second)
	c.mu.ts = Timestamp{Physical: 100, Logical: 10}
	c.Update(Timestamp{Physical: 100, Logical: 100})
	assert.Equal(t, Timestamp{Physical: 100, Logical: 100}, c.mu.ts)

	c.mu.ts = Timestamp{Physical: 100, Logical: 10}
	m := Timestamp{Physical: 120, Logical: 100}
	c.Update(m)
	assert.Equal(t, m, c.mu.ts)

	c.mu.ts = Timestamp{Physical: 100, Logical: 10}
	old := c.mu.ts
	c.Update(Timestamp{Physical: 99, Logical: 100})
	assert.Equal(t, old, c.mu.ts)
}

func TestCompare(t *testing.T) {
	c := NewClock(time.Second)
	a := Timestamp{Physical: 1}
	b := Timestamp{Physical: 2}
	assert.Equal(t, -1, c.Compare(a, b))
	assert.Equal(t, 1, c.Compare(b, a))
	assert.Equal(t, 0, c.Compare(a, a))
}
