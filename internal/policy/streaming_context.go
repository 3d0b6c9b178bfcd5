package policy

import (
	"errors"
	"sync"
	"time"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/streamcontext"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// ErrEgressTimeout is returned by Send (and the helpers built on it) when
// the egress queue stayed full for the whole put timeout — the sign of a
// dead or hopelessly slow client. The orchestrator treats it as fatal for
// the transaction; retrying the put would only mask the dead connection.
var ErrEgressTimeout = errors.New("egress put timed out: client not draining")

// StreamingContext is the per-transaction streaming policy state, grounded
// on the original's policy_core/streaming_policy_context.py dataclass
// (policy_ctx, egress_queue, original_streaming_response_state, keepalive).
// One is created per streaming transaction and threaded through every
// streaming hook call; Send (and the helpers in streaming_utils.go) is how
// a hook actually gets bytes to the client — hooks never write to the
// client connection directly.
type StreamingContext struct {
	*Context

	// Aggregator is the running view of the raw upstream stream. Policies
	// read it (e.g. to inspect everything accumulated so far) but only the
	// orchestrator ever calls Feed on it.
	Aggregator *streamstate.Aggregator

	// Egress is the queue of chunks a policy wants forwarded to the client,
	// in order. The default (pass-through) behavior queues, for every
	// upstream chunk the aggregator accepts, new chunks carrying its content
	// delta, tool-call fragments and finish_reason (built by the Send*
	// helpers); the upstream chunk value itself, with its id, model and other
	// fields, is not queued. A transforming
	// policy may queue a different chunk instead, a blocking policy may
	// queue nothing, and a synthesizing policy may queue chunks that never
	// came from upstream at all. Policies go through Send rather than the
	// channel directly so the put timeout applies.
	Egress chan chunk.Chunk

	// Store is the external per-call key-value store (keyed by this
	// transaction's id) for policies that need cross-chunk memory shared
	// beyond this process. Nil when the deployment runs without one.
	Store streamcontext.Store

	putTimeout time.Duration
	parent     *StreamingContext

	mu            sync.Mutex
	lastKeepalive time.Time
}

// NewStreamingContext returns a fresh StreamingContext for one streaming
// transaction. egressCapacity bounds how far the policy can run ahead of
// the client write loop before Send blocks; putTimeout bounds how long a
// single Send may stay blocked before the transaction is declared dead
// (zero means block indefinitely).
func NewStreamingContext(pctx *Context, agg *streamstate.Aggregator, egressCapacity int, putTimeout time.Duration) *StreamingContext {
	return &StreamingContext{
		Context:       pctx,
		Aggregator:    agg,
		Egress:        make(chan chunk.Chunk, egressCapacity),
		putTimeout:    putTimeout,
		lastKeepalive: now(),
	}
}

// NewChildStreamingContext returns a private StreamingContext for one
// stage of a composed policy chain: same transaction, scratchpad, store,
// and put timeout as parent, but its own aggregator and egress queue, so
// the stage's output can feed the next stage's input instead of the
// client. Keepalives on the child propagate to parent, since the
// orchestrator's stall monitor only ever watches the root context.
func NewChildStreamingContext(parent *StreamingContext, agg *streamstate.Aggregator, egressCapacity int) *StreamingContext {
	return &StreamingContext{
		Context:       parent.Context,
		Aggregator:    agg,
		Egress:        make(chan chunk.Chunk, egressCapacity),
		Store:         parent.Store,
		putTimeout:    parent.putTimeout,
		parent:        parent,
		lastKeepalive: now(),
	}
}

// now is a seam so tests can control time without depending on wall clock
// jitter; production always uses time.Now.
var now = time.Now

// Send queues one chunk for the client, blocking while the egress queue
// is full up to the context's put timeout. It is the primitive the
// streaming_utils helpers build on.
func (s *StreamingContext) Send(c chunk.Chunk) error {
	if s.putTimeout <= 0 {
		s.Egress <- c
		return nil
	}
	select {
	case s.Egress <- c:
		return nil
	default:
	}
	timer := time.NewTimer(s.putTimeout)
	defer timer.Stop()
	select {
	case s.Egress <- c:
		return nil
	case <-timer.C:
		return ErrEgressTimeout
	}
}

// Keepalive records that the policy is still actively processing this
// stream, resetting the stall timer the orchestrator's stall monitor
// watches (grounded on the original's DefaultPolicyExecutor.keepalive in
// v2/streaming/policy_executor/default.py).
func (s *StreamingContext) Keepalive() {
	s.mu.Lock()
	s.lastKeepalive = now()
	s.mu.Unlock()
	if s.parent != nil {
		s.parent.Keepalive()
	}
}

// TimeSinceKeepalive reports how long it has been since the last
// Keepalive call (or since the context was created, if none yet).
func (s *StreamingContext) TimeSinceKeepalive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now().Sub(s.lastKeepalive)
}

// Close signals that no more chunks will be queued. The orchestrator's
// write loop drains whatever remains and then finishes the client stream.
func (s *StreamingContext) Close() {
	close(s.Egress)
}
