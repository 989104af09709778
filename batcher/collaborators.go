package batcher

import "github.com/chronosdb/chronosdb/hlc"

// Session is the batcher's back-reference to its owner. The batcher never
// calls it while holding its own lock, to keep the documented
// session -> batcher -> op lock order.
type Session interface {
	// FlushStarted is called once FlushAsync has captured the batch size
	// and moved to Resolving.
	FlushStarted(expectedOps int)
	// FlushFinished is called once the batch has reached Complete, right
	// before the flush callback runs.
	FlushFinished()
}

// ReadPoint is the client's consistent-read-point bookkeeping collaborator.
// A batcher not given one (nil) simply skips clock propagation.
type ReadPoint interface {
	UpdateClock(hlc.Timestamp)
}
