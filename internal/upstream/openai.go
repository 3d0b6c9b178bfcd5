package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/axiomgate/llmproxy/internal/convert"
	"github.com/axiomgate/llmproxy/internal/message"
)

// OpenAIClient implements Client against an OpenAI-compatible
// chat-completions endpoint. Because the internal Request/Chunk/Response
// types are already OpenAI-shaped, this adapter is close to
// a direct passthrough — the only real work is wire-encoding and SSE
// framing, following the same translate → HTTP call → translate-back
// shape the teacher's GoogleProvider and AnthropicProvider both use.
type OpenAIClient struct {
	apiKey  string
	baseURL string // e.g. "https://api.openai.com/v1"
	client  *http.Client
}

// NewOpenAIClient constructs an OpenAIClient. client is injected rather
// than constructed internally so tests can pass a fake transport (or,
// via internal/upstream's VCR-recorded tests, a replaying one).
func NewOpenAIClient(apiKey, baseURL string, client *http.Client) *OpenAIClient {
	return &OpenAIClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIWireRequest struct {
	Model       string              `json:"model"`
	Messages    []message.Message   `json:"messages"`
	Tools       []openAIWireTool    `json:"tools,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type openAIWireTool struct {
	Type     string           `json:"type"`
	Function openAIWireToolFn `json:"function"`
}

type openAIWireToolFn struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toWireRequest(req *message.Request) openAIWireRequest {
	wire := openAIWireRequest{
		Model:       NormalizeModel(req.Model),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openAIWireTool{
			Type: "function",
			Function: openAIWireToolFn{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return wire
}

func (c *OpenAIClient) newHTTPRequest(ctx context.Context, req *message.Request, stream bool) (*http.Request, error) {
	wire := toWireRequest(req)
	wire.Stream = stream

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	// an OpenAI-compatible wire is a permissive extension point: opaque
	// client fields (top_p, stop, user, ...) ride along by key
	body, err = convert.MergeExtra(body, req.Extra)
	if err != nil {
		return nil, fmt.Errorf("merging passthrough fields: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

// openAIWireResponse is the non-streaming /chat/completions response
// shape.
type openAIWireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string              `json:"content"`
			ToolCalls []openAIWireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to openai: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("openai API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	var wire openAIWireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	choice := wire.Choices[0]

	resp := &message.Response{
		ID:         wire.ID,
		Model:      wire.Model,
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: message.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req *message.Request) (<-chan StreamResult, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to openai: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("openai API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			c, err := convert.ParseOpenAIChunk([]byte(payload))
			if err != nil {
				select {
				case ch <- StreamResult{Err: fmt.Errorf("decoding openai stream chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- StreamResult{Chunk: c}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamResult{Err: fmt.Errorf("reading openai stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

var _ Client = (*OpenAIClient)(nil)
