package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/chronosdb/chronosdb/hlc"
	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/rpc"
	"github.com/chronosdb/chronosdb/tablet"
	txncoord "github.com/chronosdb/chronosdb/txn"
)

type fakeTable struct {
	name   string
	schema tablet.PartitionSchema
	stale  bool
}

func (t *fakeTable) Name() string                          { return t.name }
func (t *fakeTable) PartitionSchema() tablet.PartitionSchema { return t.schema }
func (t *fakeTable) PartitionListIsStale() bool             { return t.stale }

type fakeOp struct {
	class           optype.Class
	table           tablet.Table
	key             []byte
	hashCols        bool
	preselected     *tablet.Tablet
	recordedVersion int64
	recordedOk      bool
	desc            string

	mu       sync.Mutex
	hashCode uint16
	tagged   bool
}

func (o *fakeOp) Kind() optype.Kind                       { return optype.QLWrite }
func (o *fakeOp) Class() optype.Class                     { return o.class }
func (o *fakeOp) Table() tablet.Table                     { return o.table }
func (o *fakeOp) PartitionKey() ([]byte, error)           { return o.key, nil }
func (o *fakeOp) HasHashColumns() bool                    { return o.hashCols }
func (o *fakeOp) PreselectedTablet() *tablet.Tablet        { return o.preselected }
func (o *fakeOp) RecordedPartitionListVersion() (int64, bool) {
	return o.recordedVersion, o.recordedOk
}
func (o *fakeOp) Description() string { return o.desc }

func (o *fakeOp) SetHashCode(code uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hashCode = code
}

func (o *fakeOp) TagForPartitionRefresh() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tagged = true
}

func (o *fakeOp) isTagged() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tagged
}

type lookupOutcome struct {
	tablet *tablet.Tablet
	err    error
}

// fakeMetaCache resolves a lookup immediately if a result was pre-registered
// with setResult; otherwise it parks the callback until resolve is called,
// letting tests model lookups still in flight at some later point in time.
type fakeMetaCache struct {
	mu          sync.Mutex
	results     map[string]lookupOutcome
	pending     map[string]tablet.LookupCallback
	invalidated []string
}

func newFakeMetaCache() *fakeMetaCache {
	return &fakeMetaCache{
		results: make(map[string]lookupOutcome),
		pending: make(map[string]tablet.LookupCallback),
	}
}

func (m *fakeMetaCache) setResult(key string, t *tablet.Tablet, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = lookupOutcome{tablet: t, err: err}
}

func (m *fakeMetaCache) LookupTabletByKey(ctx context.Context, table tablet.Table, partitionKey []byte, deadline time.Time, cb tablet.LookupCallback) {
	m.mu.Lock()
	outcome, ok := m.results[string(partitionKey)]
	if !ok {
		m.pending[string(partitionKey)] = cb
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	cb(outcome.tablet, outcome.err)
}

func (m *fakeMetaCache) resolve(key string, t *tablet.Tablet, err error) {
	m.mu.Lock()
	cb, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
	}
	m.mu.Unlock()
	if ok {
		cb(t, err)
	}
}

func (m *fakeMetaCache) InvalidateTableCache(table tablet.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, table.Name())
}

type fakeRequest struct {
	tablet *tablet.Tablet
	ops    []optype.Operation
	resp   rpc.Response
	err    error
	opts   rpc.Options
}

func (r *fakeRequest) Tablet() *tablet.Tablet          { return r.tablet }
func (r *fakeRequest) Ops() []optype.Operation          { return r.ops }
func (r *fakeRequest) Send(context.Context) (rpc.Response, error) {
	return r.resp, r.err
}

// fakeFactory records every request it builds so tests can assert on group
// shape, and looks up a canned response/error by tablet id.
type fakeFactory struct {
	mu         sync.Mutex
	writes     int
	reads      int
	requests   []*fakeRequest
	responses  map[string]rpc.Response
	sendErrors map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		responses:  make(map[string]rpc.Response),
		sendErrors: make(map[string]error),
	}
}

func (f *fakeFactory) NewWriteRequest(t *tablet.Tablet, ops []optype.Operation, opts rpc.Options) rpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	req := &fakeRequest{tablet: t, ops: ops, resp: f.responses[t.ID], err: f.sendErrors[t.ID], opts: opts}
	f.requests = append(f.requests, req)
	return req
}

func (f *fakeFactory) NewReadRequest(t *tablet.Tablet, ops []optype.Operation, _ rpc.Consistency, opts rpc.Options) rpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	req := &fakeRequest{tablet: t, ops: ops, resp: f.responses[t.ID], err: f.sendErrors[t.ID], opts: opts}
	f.requests = append(f.requests, req)
	return req
}

func (f *fakeFactory) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes + f.reads
}

func (f *fakeFactory) requestForTablet(id string) *fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.tablet.ID == id {
			return r
		}
	}
	return nil
}

type fakeSession struct {
	mu          sync.Mutex
	started     int
	finished    int
	expectedOps int
}

func (s *fakeSession) FlushStarted(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.expectedOps = n
}

func (s *fakeSession) FlushFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
}

// fakeReadPoint records every clock value it's told about, so tests can
// assert whether a response class propagated it or not.
type fakeReadPoint struct {
	mu      sync.Mutex
	updates []hlc.Timestamp
}

func (r *fakeReadPoint) UpdateClock(ts hlc.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, ts)
}

func (r *fakeReadPoint) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fakeTrace struct{}

func (f *fakeTrace) Child(string) txncoord.Trace { return f }

// fakeTransaction can either decide synchronously (deferReady false) or
// park the ready callback until fireReady is called, modeling a
// transaction coordinator that needs a round trip before admitting ops.
type fakeTransaction struct {
	mu          sync.Mutex
	deferReady  bool
	prepareErr  error
	expectedOps int
	readyCb     txncoord.ReadyCallback
	trace       txncoord.Trace
}

func (t *fakeTransaction) ExpectOperations(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectedOps = n
}

func (t *fakeTransaction) Prepare(_ context.Context, _ []txncoord.GroupInfo, _ bool, _ time.Time, _ bool, ready txncoord.ReadyCallback) (bool, error) {
	if t.deferReady {
		t.mu.Lock()
		t.readyCb = ready
		t.mu.Unlock()
		return false, nil
	}
	return true, t.prepareErr
}

func (t *fakeTransaction) Flushed([]optype.Operation, hlc.Timestamp, error) {}

func (t *fakeTransaction) Trace() txncoord.Trace { return t.trace }

func (t *fakeTransaction) fireReady(err error) {
	t.mu.Lock()
	cb := t.readyCb
	t.mu.Unlock()
	cb(err)
}
