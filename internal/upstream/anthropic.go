package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/convert"
	"github.com/axiomgate/llmproxy/internal/message"
)

// anthropicAPIVersion and defaultMaxTokens are carried over verbatim from
// the teacher's internal/provider/anthropic.go — Anthropic's versioning
// header convention and required-field default haven't changed.
const (
	anthropicAPIVersion  = "2023-06-01"
	anthropicDefaultMax  = 1024
)

// AnthropicClient implements Client against Anthropic's native Messages
// API. It is the teacher's AnthropicProvider generalized from
// plain-text-only translation to the full internal/convert pipeline, so
// tool calls and streaming tool-call fragments survive the round trip —
// the teacher's original adapter never needed to carry tool calls because
// it only ever proxied plain chat.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient constructs an AnthropicClient.
func NewAnthropicClient(apiKey, baseURL string, client *http.Client) *AnthropicClient {
	return &AnthropicClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) newHTTPRequest(ctx context.Context, req *message.Request, stream bool) (*http.Request, error) {
	logDroppedExtras(ctx, c.Name(), req)
	anthropicReq, err := convert.InternalRequestToAnthropic(req)
	if err != nil {
		return nil, err
	}
	if anthropicReq.MaxTokens == 0 {
		anthropicReq.MaxTokens = anthropicDefaultMax
	}
	anthropicReq.Stream = stream

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to anthropic: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("anthropic API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	var anthropicResp anthropictypes.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}
	return convert.AnthropicResponseToInternal(&anthropicResp), nil
}

// Stream opens an Anthropic streaming call and normalizes its named SSE
// events into internal chunk.Chunk values via
// convert.OpenAIChunkDisassembler, so the aggregator never has to know
// whether a chunk originated from an OpenAI or an Anthropic upstream.
func (c *AnthropicClient) Stream(ctx context.Context, req *message.Request) (<-chan StreamResult, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to anthropic: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("anthropic API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		disassembler := convert.NewOpenAIChunkDisassembler()
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			var ev anthropictypes.StreamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				select {
				case ch <- StreamResult{Err: fmt.Errorf("decoding anthropic stream event: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			c, err := disassembler.Process(ev)
			if err != nil {
				select {
				case ch <- StreamResult{Err: fmt.Errorf("disassembling anthropic event: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if c == nil {
				continue
			}
			select {
			case ch <- StreamResult{Chunk: c}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamResult{Err: fmt.Errorf("reading anthropic stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

var _ Client = (*AnthropicClient)(nil)
