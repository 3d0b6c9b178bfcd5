// Package upstream implements the thin LLMClient abstraction of spec.md
// §4's "Upstream client abstraction" and §6's "Upstream interface": two
// methods, Stream and Complete, both over the internal (OpenAI-shaped)
// Request/Chunk/Response types, hiding which concrete provider HTTP API
// actually answers the call.
//
// Every concrete implementation here is grounded on one of the teacher's
// internal/provider/*.go adapters, generalized from the teacher's
// provider.ChatRequest/StreamChunk shapes (plain text only) to the
// internal/message and internal/chunk shapes this proxy's aggregator and
// policy layer require (tool calls, structured deltas, a real
// finish_reason).
package upstream

import (
	"context"
	"sort"
	"strings"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/obslog"
)

// Client is the Upstream client abstraction of the design
type Client interface {
	// Name identifies the provider for logging, metrics, and the
	// X-LLMRouter-Provider response header, per the teacher's
	// provider.Provider.Name convention.
	Name() string

	// Stream opens a streaming completion. The returned channel is closed
	// when the provider's stream ends (normally or on error); a chunk
	// whose Err is non-nil is the last value sent before close.
	Stream(ctx context.Context, req *message.Request) (<-chan StreamResult, error)

	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req *message.Request) (*message.Response, error)
}

// StreamResult is one value off a Client's streaming channel: either a
// normalized Chunk or a terminal error, never both.
type StreamResult struct {
	Chunk *chunk.Chunk
	Err   error
}

// openAIFamilyPrefixes are model-name prefixes recognized as OpenAI's own
// model family; NormalizeModel prepends "openai/" to a bare model name
// with one of these prefixes. OpenAIClient applies it to every request it
// sends, whichever endpoint its base URL points at.
var openAIFamilyPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}

// logDroppedExtras records the deterministic drop of provider-opaque
// request fields when the destination wire is a typed shape with no
// extension bag to carry them (Anthropic's and Gemini's request bodies).
// The transaction logger rides in on ctx (internal/obslog.Into), so the
// observation carries the transaction id without threading a logger
// through every adapter.
func logDroppedExtras(ctx context.Context, provider string, req *message.Request) {
	if len(req.Extra) == 0 {
		return
	}
	keys := make([]string, 0, len(req.Extra))
	for k := range req.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obslog.From(ctx).Warn("dropping passthrough fields unsupported by provider",
		"provider", provider, "fields", keys)
}

// NormalizeModel prepends "openai/" to model names that look like an
// OpenAI-family model but carry no provider prefix yet (no "/" at all).
// Names that already carry a prefix (e.g. "anthropic/claude-3-5-sonnet")
// or that don't match a known OpenAI family are returned unchanged.
func NormalizeModel(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	for _, prefix := range openAIFamilyPrefixes {
		if strings.HasPrefix(model, prefix) {
			return "openai/" + model
		}
	}
	return model
}
