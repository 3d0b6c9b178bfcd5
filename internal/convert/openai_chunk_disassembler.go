package convert

import (
	"encoding/json"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/chunk"
)

// OpenAIChunkDisassembler is the mirror image of AnthropicSSEAssembler: it
// takes the named-event Anthropic SSE stream an Anthropic upstream sends
// (internal/anthropictypes.StreamEvent) and decomposes it into the flat
// chunk.Chunk increments the aggregator and every downstream consumer
// actually understands. Grounded in the teacher's anthropicStreamEvent
// accumulation in internal/provider/anthropic.go, generalized from
// "accumulate a whole response" to "emit one Chunk per event".
type OpenAIChunkDisassembler struct {
	id          string
	model       string
	blockKind   map[int]string // anthropic block index -> "text" | "tool_use"
	toolOrdinal map[int]int    // anthropic block index -> OpenAI tool_calls index
	nextOrdinal int
}

// NewOpenAIChunkDisassembler returns a disassembler for one upstream
// stream.
func NewOpenAIChunkDisassembler() *OpenAIChunkDisassembler {
	return &OpenAIChunkDisassembler{
		blockKind:   make(map[int]string),
		toolOrdinal: make(map[int]int),
	}
}

// Process consumes one Anthropic StreamEvent and returns the chunk.Chunk
// it implies, or nil if the event carries nothing a client-facing chunk
// needs (message_start only seeds bookkeeping; content_block_stop and
// message_stop produce no chunk of their own — finish_reason is carried
// on the preceding message_delta instead, matching OpenAI's wire shape).
func (d *OpenAIChunkDisassembler) Process(ev anthropictypes.StreamEvent) (*chunk.Chunk, error) {
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			d.id = ev.Message.ID
			d.model = ev.Message.Model
		}
		return nil, nil

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, nil
		}
		d.blockKind[ev.Index] = ev.ContentBlock.Type
		if ev.ContentBlock.Type == "tool_use" {
			// Anthropic numbers blocks by position in the whole message
			// (text included); OpenAI's tool_calls index counts tool calls
			// only, so each tool_use block gets the next ordinal.
			d.toolOrdinal[ev.Index] = d.nextOrdinal
			d.nextOrdinal++
			id, name := ev.ContentBlock.ID, ev.ContentBlock.Name
			return d.toolCallChunk(ev.Index, &id, &name, ""), nil
		}
		return nil, nil

	case "content_block_delta":
		return d.processDelta(ev)

	case "content_block_stop":
		return nil, nil

	case "message_delta":
		return d.processMessageDelta(ev)

	case "message_stop":
		return nil, nil

	default:
		return nil, nil
	}
}

func (d *OpenAIChunkDisassembler) processDelta(ev anthropictypes.StreamEvent) (*chunk.Chunk, error) {
	kind := d.blockKind[ev.Index]
	switch kind {
	case "text":
		var delta anthropictypes.TextDelta
		if err := json.Unmarshal(ev.Delta, &delta); err != nil {
			return nil, err
		}
		return &chunk.Chunk{ID: d.id, Model: d.model, Choices: []chunk.Choice{{
			Delta: chunk.Delta{Content: delta.Text},
		}}}, nil
	case "tool_use":
		var delta anthropictypes.InputJSONDelta
		if err := json.Unmarshal(ev.Delta, &delta); err != nil {
			return nil, err
		}
		return d.toolCallChunk(ev.Index, nil, nil, delta.PartialJSON), nil
	default:
		return nil, nil
	}
}

func (d *OpenAIChunkDisassembler) toolCallChunk(blockIndex int, id, name *string, args string) *chunk.Chunk {
	return &chunk.Chunk{ID: d.id, Model: d.model, Choices: []chunk.Choice{{
		Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{
			Index: d.toolOrdinal[blockIndex], ID: id, Name: name, Arguments: args,
		}}},
	}}}
}

func (d *OpenAIChunkDisassembler) processMessageDelta(ev anthropictypes.StreamEvent) (*chunk.Chunk, error) {
	var delta anthropictypes.MessageDelta
	if len(ev.Delta) > 0 {
		if err := json.Unmarshal(ev.Delta, &delta); err != nil {
			return nil, err
		}
	}
	if delta.StopReason == "" {
		return nil, nil
	}
	reason := anthropictypes.StopReasonToOpenAI(delta.StopReason)
	return &chunk.Chunk{ID: d.id, Model: d.model, Choices: []chunk.Choice{{
		FinishReason: &reason,
	}}}, nil
}
