package builtin

import (
	"strings"

	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
)

// Uppercase uppercases every response content block and passes tool calls
// through unchanged, the design scenario 3. Grounded directly on
// original_source/.../v2/policies/simple_uppercase_example.py's
// SimpleUppercasePolicy: override on_response_content only, leave
// on_request and on_response_tool_call at their defaults.
type Uppercase struct {
	policy.Simple
}

// NewUppercase constructs an Uppercase policy. Simple needs a reference
// back to its embedder to dispatch OnResponseContent/OnResponseToolCall —
// see policy.SimpleHooks — so construction happens through this
// constructor rather than a bare struct literal.
func NewUppercase() *Uppercase {
	u := &Uppercase{}
	u.Simple.Impl = u
	return u
}

func (u *Uppercase) Name() string { return "uppercase" }

func (u *Uppercase) OnResponseContent(_ *message.Request, text string) string {
	return strings.ToUpper(text)
}

func (u *Uppercase) OnResponseToolCall(_ *message.Request, call message.ToolCall) (message.ToolCall, bool) {
	return call, true
}

var _ policy.Policy = (*Uppercase)(nil)
