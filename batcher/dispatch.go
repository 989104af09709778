package batcher

import (
	"context"

	goqueue "github.com/phf/go-queue/queue"

	"github.com/chronosdb/chronosdb/log"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/retryid"
	"github.com/chronosdb/chronosdb/rpc"
	txncoord "github.com/chronosdb/chronosdb/txn"
)

// FlushAsync transitions the batcher out of Gathering and starts the
// resolve/prepare/dispatch pipeline. isWithinTransactionRetry suppresses
// the ExpectOperations notification on a retried flush, since the
// transaction already accounted for these ops on the first attempt.
func (b *Batcher) FlushAsync(cb FlushCallback, isWithinTransactionRetry bool) error {
	b.mu.Lock()
	if b.mu.state != Gathering {
		b.mu.Unlock()
		return ErrWrongState
	}
	b.mu.flushCallback = cb
	expected := len(b.mu.ops)
	b.mu.state = Resolving
	b.mu.Unlock()

	if b.session != nil {
		b.session.FlushStarted(expected)
	}
	if b.transaction != nil && !isWithinTransactionRetry {
		b.transaction.ExpectOperations(expected)
	}

	b.finishCheck()
	b.readinessCheck()
	return nil
}

// readinessCheck runs grouping and the transaction handshake once every
// lookup for this flush has completed. It is a no-op unless
// outstanding_lookups has just reached zero while still Resolving.
func (b *Batcher) readinessCheck() {
	b.mu.Lock()
	if b.mu.outstandingLookups != 0 || b.mu.state != Resolving {
		b.mu.Unlock()
		return
	}

	if b.mu.opsQueue.Len() == 0 {
		b.mu.state = Ready
		b.mu.Unlock()
		b.finishCheck()
		return
	}
	b.mu.state = Preparing

	if b.mu.hadErrors {
		b.mu.Unlock()
		b.abort(&AbortedError{Reason: AbortReasonFailedTabletLookup})
		return
	}

	pending := drainOpsQueue(b.mu.opsQueue)
	for _, op := range pending {
		version, ok := op.Op.RecordedPartitionListVersion()
		if !ok {
			continue
		}
		if t := op.Tablet(); t != nil && version != t.PartitionListVersion {
			b.mu.Unlock()
			b.abort(&AbortedError{Reason: AbortReasonPartitionListVersionMismatch})
			return
		}
	}

	groups := groupOps(pending)
	setNeedMetadata(groups, b.forceConsistentRead, b.transaction != nil)
	b.mu.groups = groups
	b.mu.Unlock()

	b.prepareAndDispatch(pending, groups)
}

// drainOpsQueue empties the resolved-op queue into a slice groupOps can
// sort and partition in place; go-queue's ring buffer supports push/pop but
// not in-place reordering. Callers hold b.mu.
func drainOpsQueue(q *goqueue.Queue) []*InFlightOp {
	pending := make([]*InFlightOp, 0, q.Len())
	for q.Len() > 0 {
		pending = append(pending, q.PopFront().(*InFlightOp))
	}
	return pending
}

// prepareAndDispatch asks the transaction (if any) whether these groups may
// be dispatched now. A transaction-free batcher dispatches immediately.
func (b *Batcher) prepareAndDispatch(queue []*InFlightOp, groups []group) {
	if b.transaction == nil {
		b.onPrepared(queue, groups, nil)
		return
	}

	infos := make([]txncoord.GroupInfo, len(groups))
	for i, g := range groups {
		infos[i] = txncoord.GroupInfo{
			TabletID:     g.tablet.ID,
			Class:        g.class,
			OpCount:      g.size(),
			NeedMetadata: g.needMetadata,
		}
	}

	done, err := b.transaction.Prepare(context.Background(), infos, b.forceConsistentRead, b.deadline(), true,
		func(err error) { b.onPrepared(queue, groups, err) })
	if done {
		b.onPrepared(queue, groups, err)
	}
}

// onPrepared is the transaction's ready callback, whether invoked
// synchronously by Prepare or later from another thread.
func (b *Batcher) onPrepared(queue []*InFlightOp, groups []group, err error) {
	if err != nil {
		b.abort(&AbortedError{Cause: err})
		return
	}

	b.mu.Lock()
	if b.mu.state == Aborted {
		b.mu.Unlock()
		return
	}
	if b.mu.state != Preparing {
		b.logger.Error("transaction prepare completed outside Preparing state",
			log.StateField("state", b.mu.state))
		b.mu.Unlock()
		return
	}
	b.mu.state = Ready
	b.mu.opsQueue = goqueue.New()
	b.mu.Unlock()

	b.dispatch(queue, groups)
}

type builtRequest struct {
	req       rpc.Request
	inflight  []*InFlightOp
	class     optype.Class
	tabletID  string
	requestID retryid.ID
	hasReqID  bool
}

// dispatch constructs one RPC per group and sends them. Only the last group
// is sent on the calling goroutine; earlier groups go through dispatchPool
// so a flush with many groups does not serialize on RPC latency.
func (b *Batcher) dispatch(queue []*InFlightOp, groups []group) {
	var trace txncoord.Trace
	if b.transaction != nil {
		trace = b.transaction.Trace()
	}

	requests := make([]builtRequest, len(groups))
	for i, g := range groups {
		inflight := make([]*InFlightOp, g.size())
		ops := make([]optype.Operation, g.size())
		for j := g.begin; j < g.end; j++ {
			inflight[j-g.begin] = queue[j]
			ops[j-g.begin] = queue[j].Op
		}

		var childTrace txncoord.Trace
		if trace != nil {
			childTrace = trace.Child(g.tablet.ID + ":" + g.class.String())
		}
		opts := rpc.Options{NeedConsistentRead: g.needMetadata, Trace: childTrace}

		var req rpc.Request
		switch g.class {
		case optype.Write:
			req = b.factory.NewWriteRequest(g.tablet, ops, opts)
		case optype.LeaderRead:
			req = b.factory.NewReadRequest(g.tablet, ops, rpc.ConsistencyStrong, opts)
		case optype.ConsistentPrefixRead:
			req = b.factory.NewReadRequest(g.tablet, ops, rpc.ConsistencyPrefix, opts)
		}
		requests[i] = builtRequest{req: req, inflight: inflight, class: g.class, tabletID: g.tablet.ID}
		if b.requestIDs != nil {
			requests[i].requestID, _ = b.requestIDs.NextRequestIDAndMinRunning(g.tablet.ID)
			requests[i].hasReqID = true
		}
	}

	deadline := b.deadline()
	for i, r := range requests {
		isLast := i == len(requests)-1
		request, inflight, class := r.req, r.inflight, r.class
		tabletID, reqID, hasReqID := r.tabletID, r.requestID, r.hasReqID
		send := func(ctx context.Context) {
			if !deadline.IsZero() {
				var cancel context.CancelFunc
				ctx, cancel = context.WithDeadline(ctx, deadline)
				defer cancel()
			}
			if b.dispatchLimiter != nil {
				if err := b.dispatchLimiter.Wait(ctx); err != nil {
					b.handleResponse(inflight, class, rpc.Response{}, err)
					return
				}
			}
			resp, err := request.Send(ctx)
			if hasReqID {
				b.requestIDs.RequestFinished(tabletID, reqID)
			}
			b.handleResponse(inflight, class, resp, err)
		}
		if isLast {
			send(context.Background())
			continue
		}
		if err := b.dispatchPool.RunTask(context.Background(), send); err != nil {
			send(context.Background())
		}
	}
}
