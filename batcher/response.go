package batcher

import (
	"go.uber.org/zap"

	"github.com/chronosdb/chronosdb/hlc"
	"github.com/chronosdb/chronosdb/log"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/rpc"
)

// handleResponse is the RPC completion path: sendErr is the transport-level
// outcome of Request.Send itself, resp.Status is the server's own verdict
// on the request as a whole, and resp.RowErrors carries per-row failures
// alongside an otherwise-successful response.
func (b *Batcher) handleResponse(inflight []*InFlightOp, class optype.Class, resp rpc.Response, sendErr error) {
	b.mu.Lock()
	state := b.mu.state
	if state != Ready {
		for _, f := range inflight {
			delete(b.mu.ops, f.SequenceNumber)
		}
		b.mu.Unlock()
		if state != Aborted {
			b.logger.Error("RPC completion observed an illegal batcher state", log.StateField("state", state))
		}
		return
	}
	b.mu.Unlock()

	status := sendErr
	if status == nil {
		status = resp.Status
	}

	perOpStatus := make([]error, len(inflight))
	if status != nil {
		for i := range perOpStatus {
			perOpStatus[i] = status
		}
	} else if class == optype.Write {
		// Clock propagation and per-row errors are a write-response concern;
		// the original ProcessReadResponse never touches either.
		if resp.PropagatedTimestamp != nil {
			b.clock.Update(*resp.PropagatedTimestamp)
		}
		if b.readPoint != nil {
			b.readPoint.UpdateClock(b.clock.Now())
		}
		for _, rowErr := range resp.RowErrors {
			if rowErr.Index < 0 || rowErr.Index >= len(inflight) {
				b.logger.Error("RPC response row error index out of range",
					zap.Int("index", rowErr.Index), zap.Int("opCount", len(inflight)))
				continue
			}
			perOpStatus[rowErr.Index] = rowErr.Status
		}
	}

	var usedReadTime hlc.Timestamp
	if resp.UsedReadTime != nil {
		usedReadTime = *resp.UsedReadTime
	}

	b.removeInFlightOpsAfterFlushing(inflight, perOpStatus, usedReadTime, status)
}

// removeInFlightOpsAfterFlushing folds per-op outcomes into the error
// collector and the transaction, then retires every op from b.mu.ops.
func (b *Batcher) removeInFlightOpsAfterFlushing(inflight []*InFlightOp, perOpStatus []error, usedReadTime hlc.Timestamp, rpcStatus error) {
	ops := make([]optype.Operation, len(inflight))
	for i, f := range inflight {
		ops[i] = f.Op
		if perOpStatus[i] != nil {
			b.errors.AddError(f.Op, perOpStatus[i])
		}
	}

	if b.transaction != nil {
		retriable := false
		if aborted, ok := rpcStatus.(*AbortedError); ok {
			retriable = aborted.Retriable()
		}
		if !retriable {
			b.transaction.Flushed(ops, usedReadTime, rpcStatus)
		}
	}

	b.mu.Lock()
	for i, f := range inflight {
		f.setState(opCompleted)
		if perOpStatus[i] != nil {
			b.mu.hadErrors = true
			b.mu.failures = append(b.mu.failures, opFailure{op: f.Op, err: perOpStatus[i]})
		}
		delete(b.mu.ops, f.SequenceNumber)
	}
	b.mu.Unlock()

	b.finishCheck()
}

// finishCheck completes the batcher once ops has drained and the state
// machine is in a terminal-eligible place. It is called from every path
// that can remove the last op: lookup failure, RPC completion, and abort.
func (b *Batcher) finishCheck() {
	b.mu.Lock()
	if len(b.mu.ops) > 0 {
		b.mu.Unlock()
		return
	}

	switch b.mu.state {
	case Complete, Gathering, Aborted:
		b.mu.Unlock()
		return
	case Resolving, Ready:
	default:
		b.logger.Error("finish check observed an illegal batcher state", log.StateField("state", b.mu.state))
		b.mu.Unlock()
		return
	}

	b.mu.state = Complete
	cb := b.mu.flushCallback
	b.mu.flushCallback = nil
	if b.mu.hadErrors && b.combineErrors && b.mu.combinedError == nil {
		b.mu.combinedError = combineErrors(b.mu.failures)
	}
	status := b.finalStatusLocked()
	session := b.session
	b.mu.Unlock()

	if session != nil {
		session.FlushFinished()
	}

	b.dispatchCompletion(cb, status)
}

// finalStatusLocked computes the summary status the flush callback
// receives: OK if nothing failed, the test-mode combined_error if one was
// synthesized, otherwise the generic IOError. Callers hold mu.
func (b *Batcher) finalStatusLocked() error {
	if !b.mu.hadErrors {
		return nil
	}
	if b.mu.combinedError != nil {
		return b.mu.combinedError
	}
	return ErrIO
}
