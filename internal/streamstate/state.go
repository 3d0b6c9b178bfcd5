package streamstate

import (
	"fmt"

	"github.com/axiomgate/llmproxy/internal/chunk"
)

// EventKind discriminates the semantic events an Aggregator emits as it
// consumes chunks. These map directly onto the policy hook names of
// the design (on_content_delta, on_content_complete, on_tool_call_delta,
// on_tool_call_complete, on_finish_reason).
type EventKind int

const (
	EventContentDelta EventKind = iota
	EventContentComplete
	EventToolCallDelta
	EventToolCallComplete
	EventFinishReason
)

// Event is one semantic occurrence produced by Aggregator.Feed. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind         EventKind
	ContentDelta string         // EventContentDelta
	Content      *ContentBlock  // EventContentDelta, EventContentComplete
	ToolCall     *ToolCallBlock // EventToolCallDelta, EventToolCallComplete
	FinishReason string         // EventFinishReason
}

// State is the aggregator's running view of one stream, equivalent to the
// original's StreamState dataclass. Blocks holds every block seen so far,
// in first-seen order; CurrentBlock is whichever block most recently
// received a delta (nil between blocks, e.g. right after completion).
type State struct {
	Content       *ContentBlock
	ToolCalls     []*ToolCallBlock
	CurrentBlock  Block
	JustCompleted []Block
	FinishReason  *string
	RawChunks     []chunk.Chunk

	// LastEmissionIndex is the length-prefix of RawChunks already forwarded
	// to the client by the passthrough-accumulated helper
	// (internal/policy.PassthroughAccumulated). The aggregator itself never
	// writes it.
	LastEmissionIndex int
}

// AnomalyLogger is called whenever the aggregator observes a sequence the
// protocol shouldn't produce (an out-of-order tool-call index, a chunk fed
// after the stream already finished, content and tool-call deltas mixed in
// one chunk). It defaults to a no-op; callers that want visibility pass a
// function backed by internal/obslog.
type AnomalyLogger func(msg string, args ...any)

// Aggregator consumes a provider's Chunk stream one chunk at a time and
// emits the semantic Events a Policy's streaming hooks are driven by. It
// is explicit, mutable state — not a closure over locals — so that the
// orchestrator can hold onto it across goroutine handoffs without capturing
// anything but this struct (the design design note).
type Aggregator struct {
	state      State
	finished   bool
	onAnomaly  AnomalyLogger
	keepChunks bool
}

// NewAggregator returns an empty Aggregator. If keepChunks is true, every
// fed chunk is retained on State.RawChunks for policies that need a full
// replay (e.g. a judge policy scoring the whole turn after the fact).
func NewAggregator(keepChunks bool, onAnomaly AnomalyLogger) *Aggregator {
	if onAnomaly == nil {
		onAnomaly = func(string, ...any) {}
	}
	return &Aggregator{onAnomaly: onAnomaly, keepChunks: keepChunks}
}

// State returns the aggregator's current, still-mutable State. Callers
// must not retain pointers into it across the next Feed call expecting
// them to stay fixed — blocks are mutated in place as deltas arrive.
func (a *Aggregator) State() *State { return &a.state }

// ErrToolCallIndexGap is returned by Feed when a tool-call delta names an
// index that skips ahead of the next expected one — the design's
// "ascending index without gaps" invariant (spec.md §4.2). It wraps the
// expected and observed indices so callers can log or report them.
type ErrToolCallIndexGap struct {
	Expected int
	Got      int
}

func (e *ErrToolCallIndexGap) Error() string {
	return fmt.Sprintf("tool call index out of sequence: expected %d, got %d", e.Expected, e.Got)
}

// Feed applies one chunk to the running state and returns the ordered
// events it produced. A chunk fed after the stream has already seen a
// finish_reason is an anomaly: the aggregator logs it and drops the whole
// chunk, returning no events and a nil error (a repeated finish_reason
// produces no second EventFinishReason). Feed
// returns a non-nil error, and stops processing the chunk at the point
// of the violation, if a tool-call delta's index would open a gap in the
// ascending sequence (spec.md §4.2: "gap ⇒ error") — the events
// produced before the violation are still returned alongside it, since
// they already reached a consistent state.
func (a *Aggregator) Feed(c chunk.Chunk) ([]Event, error) {
	if a.keepChunks {
		a.state.RawChunks = append(a.state.RawChunks, c)
	}
	if a.finished {
		a.onAnomaly("chunk fed after stream finished, dropping", "chunk_id", c.ID)
		return nil, nil
	}
	a.state.JustCompleted = nil

	var events []Event
	choice := c.FirstChoice()
	delta := choice.Delta

	hasContent := delta.Content != ""
	hasToolCalls := len(delta.ToolCalls) > 0
	if hasContent && hasToolCalls {
		a.onAnomaly("chunk carries both content and tool_call deltas; applying both", "chunk_id", c.ID)
	}

	if hasContent {
		events = append(events, a.feedContent(delta.Content)...)
	}
	for _, td := range delta.ToolCalls {
		evs, err := a.feedToolCall(td)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}

	if choice.FinishReason != nil {
		events = append(events, a.finish(*choice.FinishReason)...)
	}

	return events, nil
}

// feedContent applies one content delta. A tool-call block still open from
// earlier chunks is finalized first: block identity changed, so the old
// block's fragments are over (spec'd tie-break — a provider shouldn't do
// this, and Feed already logged the anomaly when it happens mid-chunk).
func (a *Aggregator) feedContent(text string) []Event {
	var events []Event
	if cur, ok := a.state.CurrentBlock.(*ToolCallBlock); ok && !cur.IsComplete {
		events = append(events, a.completeToolCall(cur))
	}
	if a.state.Content == nil {
		a.state.Content = NewContentBlock()
	}
	a.state.Content.Text += text
	a.state.CurrentBlock = a.state.Content
	return append(events, Event{Kind: EventContentDelta, ContentDelta: text, Content: a.state.Content})
}

// feedToolCall applies one tool-call fragment, first finalizing whichever
// block was current if this fragment belongs to a different one — the
// content block when the stream's first tool call starts, or the previous
// tool call when the provider moves to the next index. Fragments of one
// call never interleave with another's, so a block that loses currency is
// done.
func (a *Aggregator) feedToolCall(td chunk.ToolCallDelta) ([]Event, error) {
	var events []Event
	switch cur := a.state.CurrentBlock.(type) {
	case *ContentBlock:
		if !cur.IsComplete {
			events = append(events, a.completeContent())
		}
	case *ToolCallBlock:
		if cur.Index != td.Index && !cur.IsComplete {
			events = append(events, a.completeToolCall(cur))
		}
	}

	tc, err := a.toolCallAt(td.Index)
	if err != nil {
		return events, err
	}
	if td.ID != nil {
		tc.ID = *td.ID
	}
	if td.Name != nil {
		tc.Name = *td.Name
	}
	tc.Arguments += td.Arguments
	a.state.CurrentBlock = tc
	return append(events, Event{Kind: EventToolCallDelta, ToolCall: tc}), nil
}

func (a *Aggregator) completeContent() Event {
	a.state.Content.IsComplete = true
	a.state.JustCompleted = append(a.state.JustCompleted, a.state.Content)
	return Event{Kind: EventContentComplete, Content: a.state.Content}
}

func (a *Aggregator) completeToolCall(tc *ToolCallBlock) Event {
	tc.IsComplete = true
	a.state.JustCompleted = append(a.state.JustCompleted, tc)
	return Event{Kind: EventToolCallComplete, ToolCall: tc}
}

// toolCallAt returns the ToolCallBlock for a given provider index,
// creating it if this is the first delta seen for that index. Indices
// are expected to arrive in ascending order without gaps (the design
// invariant 2: "gap ⇒ error"); a gap is logged and reported back to the
// caller as *ErrToolCallIndexGap rather than silently tolerated, since a
// skipped index means a downstream ToolCallBlock would otherwise be
// addressed by the wrong position.
func (a *Aggregator) toolCallAt(index int) (*ToolCallBlock, error) {
	for _, tc := range a.state.ToolCalls {
		if tc.Index == index {
			return tc, nil
		}
	}
	expected := len(a.state.ToolCalls)
	if index != expected {
		a.onAnomaly("tool call index out of sequence", "expected", expected, "got", index)
		return nil, &ErrToolCallIndexGap{Expected: expected, Got: index}
	}
	tc := &ToolCallBlock{Index: index}
	a.state.ToolCalls = append(a.state.ToolCalls, tc)
	return tc, nil
}

// finish closes out every open block exactly once and records the
// finish reason. A block that was already complete (should never happen,
// but the protocol is adversarial input from the client's point of view
// once policies can synthesize chunks) is skipped rather than re-emitted,
// preserving the at-most-once just_completed guarantee.
func (a *Aggregator) finish(reason string) []Event {
	var events []Event

	if a.state.Content != nil && !a.state.Content.IsComplete {
		events = append(events, a.completeContent())
	}
	for _, tc := range a.state.ToolCalls {
		if tc.IsComplete {
			continue
		}
		events = append(events, a.completeToolCall(tc))
	}

	a.state.FinishReason = &reason
	a.state.CurrentBlock = nil
	a.finished = true
	events = append(events, Event{Kind: EventFinishReason, FinishReason: reason})
	return events
}

// Finished reports whether a finish_reason has already been observed.
func (a *Aggregator) Finished() bool { return a.finished }
