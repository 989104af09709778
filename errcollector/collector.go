// Package errcollector implements the append-only per-operation error sink
// the batcher reports into and the owning session drains from. It does not
// decide retry policy — it is pure bookkeeping.
package errcollector

import (
	"sync"

	"github.com/chronosdb/chronosdb/optype"
)

// OpError pairs a failed operation with the status that failed it.
type OpError struct {
	Op  optype.Operation
	Err error
}

// Collector is an append-only sink of (operation, failure) pairs, drained
// by the session between retries.
type Collector interface {
	AddError(op optype.Operation, err error)
	GetAndClearErrors() []OpError
}

type collector struct {
	mu     sync.Mutex
	errors []OpError
}

// New returns a Collector safe for concurrent use by lookup-completion and
// RPC-completion threads.
func New() Collector {
	return &collector{}
}

func (c *collector) AddError(op optype.Operation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, OpError{Op: op, Err: err})
}

func (c *collector) GetAndClearErrors() []OpError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) == 0 {
		return nil
	}
	out := c.errors
	c.errors = nil
	return out
}
