package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
)

// GoogleClient implements Client against Gemini's generateContent API. It
// is a direct generalization of the teacher's GoogleProvider onto the
// internal/message and internal/chunk shapes rather than the teacher's
// plain ChatRequest/StreamChunk — Gemini's API key-as-query-param auth and
// its "parts" content model are unchanged. Tool calls are not translated:
// Gemini's function-calling wire shape diverges enough (functionCall parts,
// no incremental JSON deltas) that bridging it is left for a later
// iteration, same as the teacher's adapter never attempted it.
type GoogleClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGoogleClient constructs a GoogleClient.
func NewGoogleClient(apiKey, baseURL string, client *http.Client) *GoogleClient {
	return &GoogleClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (g *GoogleClient) Name() string { return "google" }

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// toGeminiRequest flattens an internal Request's content into Gemini's
// contents/parts shape, pulling any leading system message out into
// systemInstruction the same way the teacher's toGeminiRequest does.
func toGeminiRequest(req *message.Request) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		text := contentOrEmpty(msg.Content)
		if msg.Role == message.RoleSystem {
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: text}}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, geminiPart{Text: text})
			}
			continue
		}

		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}

	if req.MaxTokens > 0 || req.Temperature != nil {
		gr.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return gr
}

func contentOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (g *GoogleClient) newHTTPRequest(ctx context.Context, req *message.Request, endpoint string) (*http.Request, error) {
	logDroppedExtras(ctx, g.Name(), req)
	geminiReq := toGeminiRequest(req)
	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s?key=%s", g.baseURL, req.Model, endpoint, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (g *GoogleClient) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	httpReq, err := g.newHTTPRequest(ctx, req, "generateContent")
	if err != nil {
		return nil, err
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to gemini: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("gemini API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}
	candidate := geminiResp.Candidates[0]

	var text string
	if len(candidate.Content.Parts) > 0 {
		text = candidate.Content.Parts[0].Text
	}

	resp := &message.Response{
		Model:      req.Model,
		Content:    text,
		StopReason: geminiStopReason(candidate.FinishReason),
	}
	if geminiResp.UsageMetadata != nil {
		resp.Usage = message.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

// Stream opens a Gemini streamGenerateContent call and emits one
// chunk.Chunk per SSE event, same translate-while-reading shape as
// internal/upstream's OpenAI and Anthropic clients.
func (g *GoogleClient) Stream(ctx context.Context, req *message.Request) (<-chan StreamResult, error) {
	httpReq, err := g.newHTTPRequest(ctx, req, "streamGenerateContent")
	if err != nil {
		return nil, err
	}
	q := httpReq.URL.Query()
	q.Set("alt", "sse")
	httpReq.URL.RawQuery = q.Encode()

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to gemini: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, fmt.Errorf("gemini API error (status %d): %v", httpResp.StatusCode, errBody)
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
			jsonData := strings.TrimPrefix(line, "data: ")

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &geminiResp); err != nil {
				select {
				case ch <- StreamResult{Err: fmt.Errorf("decoding gemini stream event: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			var delta string
			if len(candidate.Content.Parts) > 0 {
				delta = candidate.Content.Parts[0].Text
			}

			c := &chunk.Chunk{Model: req.Model, Choices: []chunk.Choice{{
				Delta: chunk.Delta{Content: delta},
			}}}
			if candidate.FinishReason != "" {
				reason := geminiStopReason(candidate.FinishReason)
				c.Choices[0].FinishReason = &reason
			}

			select {
			case ch <- StreamResult{Chunk: c}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamResult{Err: fmt.Errorf("reading gemini stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// geminiStopReason maps Gemini's finishReason values onto the internal
// stop_reason vocabulary so downstream code never has to know
// which upstream answered the call.
func geminiStopReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "":
		return ""
	default:
		return "stop"
	}
}

var _ Client = (*GoogleClient)(nil)
