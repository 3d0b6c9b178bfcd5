package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/convert"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
)

// promptText concatenates every message's text content, for a rough
// token-budget estimate (events.EstimateTokens) — not a faithful
// reconstruction of the prompt, just enough text to tokenize.
func promptText(req *message.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		if m.Content != nil {
			b.WriteString(*m.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// convertParseOpenAI decodes a client's OpenAI chat-completions body into
// the internal Request shape.
func convertParseOpenAI(raw []byte) (*message.Request, error) {
	return convert.ParseOpenAIRequest(raw)
}

// convertParseAnthropic decodes a client's Anthropic Messages body,
// returning both the native request (kept for the Anthropic-native policy
// path) and the internal Request, plus any session id extracted from
// metadata.user_id.
func convertParseAnthropic(raw []byte) (anthReq *anthropictypes.Request, req *message.Request, sessionID string, err error) {
	anthReq = &anthropictypes.Request{}
	if err = json.Unmarshal(raw, anthReq); err != nil {
		return nil, nil, "", err
	}

	req, err = convert.AnthropicRequestToInternal(anthReq)
	if err != nil {
		return anthReq, nil, "", err
	}
	if anthReq.Metadata != nil {
		sessionID = message.SessionIDFromUserID(anthReq.Metadata.UserID)
	}
	return anthReq, req, sessionID, nil
}

// renderNonStreaming encodes a complete internal Response in the client's
// native wire format.
func renderNonStreaming(format message.ClientFormat, resp *message.Response) ([]byte, error) {
	if format == message.FormatAnthropic {
		return json.Marshal(convert.InternalResponseToAnthropic(resp))
	}
	return convert.RenderOpenAIResponse(resp)
}

// nativePolicy returns the active policy's Anthropic-native hook set when
// the transaction's client speaks Anthropic and the policy opted in, nil
// otherwise — decided once per transaction, at request start.
func nativePolicy(format message.ClientFormat, pol policy.Policy) policy.AnthropicPolicy {
	if format != message.FormatAnthropic {
		return nil
	}
	ap, ok := policy.AsAnthropicPolicy(pol)
	if !ok {
		return nil
	}
	return ap
}
