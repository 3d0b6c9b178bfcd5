package events

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// RequestPayload is the KindRequestReceived Payload shape: the raw client
// body alongside a best-effort prompt token estimate, so an event sink can
// do token-budget accounting without re-tokenizing the request itself.
//
// Grounded on mihaisavezi-claude-code-open's ProxyHandler.countInputTokens,
// the pack's only call site for pkoukk/tiktoken-go: a cl100k_base encoding
// fetched once and reused, falling back to 0 (never an error) since a
// token estimate is observability sugar, not something a request can fail
// on.
type RequestPayload struct {
	Body           string `json:"body"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens returns a best-effort cl100k_base token count for text.
// It never errors: an encoding failure (e.g. running in an environment
// where tiktoken-go's bundled vocab can't load) just yields 0, since this
// number is purely advisory.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
