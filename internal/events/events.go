// Package events implements the append-only observability fan-out of
// the design: a tagged Record per boundary the orchestrator crosses
// (request received, backend request/response, client response, policy
// decision), delivered best-effort to every registered Sink.
//
// Grounded on the teacher's log.Printf call sites scattered through
// internal/server and internal/provider (every one of which marks a
// boundary this package now gives a typed Record), generalized into a
// structured fan-out the way the design requires ("each record is a
// tagged structure... delivery is best-effort; failures must not affect
// transaction outcome").
package events

import (
	"context"
	"sync"
	"time"
)

// Kind discriminates the five record types of the design
type Kind string

const (
	KindRequestReceived Kind = "request_received"
	KindBackendRequest  Kind = "backend_request"
	KindBackendResponse Kind = "backend_response"
	KindClientResponse  Kind = "client_response"
	KindPolicyDecision  Kind = "policy_decision"
)

// Record is one observability event. Payload is typically the body as a
// JSON string; it is left as `any` so a Sink implementation
// decides how to serialize it.
type Record struct {
	Kind          Kind
	TransactionID string
	Timestamp     time.Time
	Payload       any
}

// Sink receives Records. Implementations must not block the caller for
// long — Publish is called from the hot path of every transaction.
type Sink interface {
	Publish(ctx context.Context, rec Record)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, rec Record)

func (f SinkFunc) Publish(ctx context.Context, rec Record) { f(ctx, rec) }

// now is a seam so tests can control timestamps.
var now = time.Now

// FanOut is a Sink that asynchronously forwards every Record to N
// registered Sinks via a single bounded channel drained by a supervised
// worker pool (the design design note: "replace asyncio.create_task(...)
// for best-effort logging with a supervised worker pool draining a single
// mpsc channel; drops under overload are acceptable but must be
// counted").
type FanOut struct {
	sinks  []Sink
	queue  chan Record
	onDrop func()

	mu        sync.Mutex
	droppedN  int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFanOut starts workers workers draining a queue of the given
// capacity. Publish never blocks once the queue is full: it drops the
// record and increments Dropped() instead, so a slow or dead sink can
// never stall a transaction.
func NewFanOut(sinks []Sink, queueCapacity, workers int) *FanOut {
	if workers < 1 {
		workers = 1
	}
	f := &FanOut{
		sinks: sinks,
		queue: make(chan Record, queueCapacity),
	}
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go f.drain()
	}
	return f
}

func (f *FanOut) drain() {
	defer f.wg.Done()
	for rec := range f.queue {
		for _, s := range f.sinks {
			s.Publish(context.Background(), rec)
		}
	}
}

// Publish enqueues rec for async delivery to every sink. It is safe to
// call concurrently from many transactions.
func (f *FanOut) Publish(_ context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	select {
	case f.queue <- rec:
	default:
		f.mu.Lock()
		f.droppedN++
		f.mu.Unlock()
		if f.onDrop != nil {
			f.onDrop()
		}
	}
}

// OnDrop registers fn to run once per record dropped on queue overflow —
// typically a metrics counter increment. Set it before traffic starts;
// it is read without a lock from Publish.
func (f *FanOut) OnDrop(fn func()) { f.onDrop = fn }

// Dropped reports how many records have been dropped due to a full queue
// since construction.
func (f *FanOut) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.droppedN
}

// Close stops accepting new records and waits for the queue to drain.
// Safe to call more than once.
func (f *FanOut) Close() {
	f.closeOnce.Do(func() { close(f.queue) })
	f.wg.Wait()
}
