// Package orchestrator implements the per-request pipeline coordinator of
// the design: the component that turns one client HTTP request into a
// Transaction, drives it through the active policy's hooks, dispatches to
// an upstream provider, and renders the result back in the client's
// original wire format.
//
// Grounded on the teacher's internal/server/handler.go
// (handleChatCompletions): decode request → resolve provider → branch on
// req.Stream → either write one JSON response or hand a channel of chunks
// to a stream writer. This package generalizes that shape to two client
// formats, a policy hook pipeline in between, and the full streaming
// task-and-channel architecture the design step 4 describes (feeder,
// client formatter, stall monitor, request watcher) in place of the
// teacher's single stream.Write call.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/apierror"
	"github.com/axiomgate/llmproxy/internal/config"
	"github.com/axiomgate/llmproxy/internal/convert"
	"github.com/axiomgate/llmproxy/internal/events"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/metrics"
	"github.com/axiomgate/llmproxy/internal/obslog"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/policy/manager"
	"github.com/axiomgate/llmproxy/internal/streamcontext"
	"github.com/axiomgate/llmproxy/internal/upstream"
)

// ClientResolver resolves a model name to the upstream.Client that serves
// it. internal/httpapi's wiring builds this from the provider/model
// registry main.go assembles out of config.
type ClientResolver func(model string) (upstream.Client, error)

// StreamFunc writes one streaming transaction's bytes to w, flushing after
// every SSE event it emits. ctx is the inbound HTTP request's context —
// cancelled on client disconnect, which is the request watcher of
// the design step 4.
type StreamFunc func(ctx context.Context, w io.Writer, flush func())

// Outcome is what a Handle* call hands back to internal/httpapi to write
// to the ResponseWriter. Exactly one of Body or Stream is set: a
// non-streaming call always has a fixed body and status; a streaming call
// (successful or not) is always rendered incrementally, even a one-shot
// error, since the client already committed to stream:true.
type Outcome struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Stream      StreamFunc
}

// Config groups every dependency the orchestrator needs. Sink, Metrics,
// StreamStore, and Logger are all optional (nil-safe) so tests can
// construct a minimal Orchestrator without standing up the whole stack.
type Config struct {
	Resolver        ClientResolver
	Policies        *manager.Manager
	Sink            events.Sink
	Metrics         *metrics.Metrics
	StreamStore     streamcontext.Store
	Logger          *slog.Logger
	Timeouts        config.TimeoutsConfig
	EgressQueueSize int
}

// Orchestrator is the coordinator described above. One instance serves
// every transaction across both client formats; all per-transaction state
// lives on the Transaction/Context/StreamingContext the Handle* methods
// construct fresh each call.
type Orchestrator struct {
	cfg Config
}

// New returns an Orchestrator wired with cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

func (o *Orchestrator) upstreamTimeout() time.Duration {
	if o.cfg.Timeouts.Upstream > 0 {
		return o.cfg.Timeouts.Upstream
	}
	return 60 * time.Second
}

func (o *Orchestrator) stallTimeout() time.Duration {
	if o.cfg.Timeouts.Stall > 0 {
		return o.cfg.Timeouts.Stall
	}
	return 30 * time.Second
}

func (o *Orchestrator) stallCheckPeriod() time.Duration {
	period := o.stallTimeout() / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	return period
}

func (o *Orchestrator) egressPutTimeout() time.Duration {
	if o.cfg.Timeouts.Egress > 0 {
		return o.cfg.Timeouts.Egress
	}
	return 30 * time.Second
}

func (o *Orchestrator) egressQueueSize() int {
	if o.cfg.EgressQueueSize > 0 {
		return o.cfg.EgressQueueSize
	}
	return 64
}

// HandleOpenAI handles one POST /v1/chat/completions body.
func (o *Orchestrator) HandleOpenAI(ctx context.Context, raw []byte, sessionID string) *Outcome {
	req, err := convertParseOpenAI(raw)
	if err != nil {
		return o.errOutcome(message.FormatOpenAI, false, apierror.Validation("malformed request body", err))
	}
	return o.handle(ctx, message.FormatOpenAI, raw, req, nil, sessionID)
}

// HandleAnthropic handles one POST /v1/messages body.
func (o *Orchestrator) HandleAnthropic(ctx context.Context, raw []byte) *Outcome {
	anthReq, req, sessionID, err := convertParseAnthropic(raw)
	if err != nil {
		wantsStream := anthReq != nil && anthReq.Stream
		return o.errOutcome(message.FormatAnthropic, wantsStream, apierror.Validation("malformed request body", err))
	}
	return o.handle(ctx, message.FormatAnthropic, raw, req, anthReq, sessionID)
}

// handle runs the common part of the design steps 1-3 for both client
// formats, then branches to the non-streaming or streaming tail. anthReq
// is non-nil only on the Anthropic path, where it feeds the native policy
// hook set before any conversion-derived state is committed.
func (o *Orchestrator) handle(ctx context.Context, format message.ClientFormat, raw []byte, req *message.Request, anthReq *anthropictypes.Request, sessionID string) *Outcome {
	if err := req.Validate(); err != nil {
		return o.errOutcome(format, req.Stream, apierror.Validation("invalid request", err))
	}

	txn := message.NewTransaction(format, raw)
	txn.SessionID = sessionID
	txn.Request = req
	pctx := policy.NewContext(txn)
	pctx.Logger = obslog.For(o.logger(), txn.ID, string(format))
	ctx = obslog.Into(ctx, pctx.Logger)

	if o.cfg.Sink != nil {
		// token estimation is observability sugar; only pay for it when a
		// sink will actually see the record
		o.publish(ctx, events.KindRequestReceived, txn.ID, events.RequestPayload{
			Body:            string(raw),
			EstimatedTokens: events.EstimateTokens(promptText(req)),
		})
	}

	pol := o.cfg.Policies.Current()
	native := nativePolicy(format, pol)

	if native != nil && anthReq != nil {
		transformed, err := native.OnAnthropicRequest(ctx, pctx, anthReq)
		if err != nil {
			o.publish(ctx, events.KindPolicyDecision, txn.ID, map[string]any{"hook": "on_anthropic_request", "error": err.Error()})
			return o.errOutcome(format, req.Stream, apierror.Policy("policy rejected request", err))
		}
		if transformed != anthReq {
			req, err = convertAnthropicTransformed(transformed, req)
			if err != nil {
				return o.errOutcome(format, req.Stream, apierror.Validation("policy produced an unconvertible request", err))
			}
			txn.Request = req
		}
	}

	transformed, err := pol.OnRequest(ctx, pctx, req)
	if err != nil {
		o.publish(ctx, events.KindPolicyDecision, txn.ID, map[string]any{"hook": "on_request", "error": err.Error()})
		return o.errOutcome(format, req.Stream, apierror.Policy("policy rejected request", err))
	}
	req = transformed

	client, err := o.cfg.Resolver(req.Model)
	if err != nil {
		return o.errOutcome(format, req.Stream, apierror.Validation("unknown model: "+req.Model, err))
	}

	if !req.Stream {
		return o.handleNonStreaming(ctx, format, pctx, client, req, pol, native)
	}
	return o.handleStreaming(format, pctx, client, req, pol, native)
}

func (o *Orchestrator) handleNonStreaming(ctx context.Context, format message.ClientFormat, pctx *policy.Context, client upstream.Client, req *message.Request, pol policy.Policy, native policy.AnthropicPolicy) *Outcome {
	upCtx, cancel := context.WithTimeout(ctx, o.upstreamTimeout())
	defer cancel()

	o.publish(ctx, events.KindBackendRequest, pctx.Transaction.ID, req)

	resp, err := client.Complete(upCtx, req)
	if err != nil {
		return o.errOutcome(format, false, apierror.Upstream("upstream request failed", err))
	}
	o.publish(ctx, events.KindBackendResponse, pctx.Transaction.ID, resp)

	resp, err = pol.OnResponse(ctx, pctx, resp)
	if err != nil {
		return o.errOutcome(format, false, apierror.Policy("policy rejected response", err))
	}

	var body []byte
	if native != nil {
		anthResp, err := native.OnAnthropicResponse(ctx, pctx, convert.InternalResponseToAnthropic(resp))
		if err != nil {
			return o.errOutcome(format, false, apierror.Policy("policy rejected response", err))
		}
		body, err = json.Marshal(anthResp)
		if err != nil {
			return o.errOutcome(format, false, apierror.Policy("failed to render response", err))
		}
	} else {
		body, err = renderNonStreaming(format, resp)
		if err != nil {
			return o.errOutcome(format, false, apierror.Policy("failed to render response", err))
		}
	}

	o.publish(ctx, events.KindClientResponse, pctx.Transaction.ID, string(body))
	o.recordMetric(format, "success")
	return &Outcome{StatusCode: http.StatusOK, ContentType: "application/json", Body: body}
}

// convertAnthropicTransformed re-normalizes a native-hook-transformed
// Anthropic request, carrying forward the stream flag the original
// request was admitted under so a policy cannot flip a streaming client
// to a non-streaming pipeline mid-flight.
func convertAnthropicTransformed(anthReq *anthropictypes.Request, original *message.Request) (*message.Request, error) {
	req, err := convert.AnthropicRequestToInternal(anthReq)
	if err != nil {
		return nil, err
	}
	req.Stream = original.Stream
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// publish is a nil-safe convenience wrapper around o.cfg.Sink.Publish.
func (o *Orchestrator) publish(ctx context.Context, kind events.Kind, txnID string, payload any) {
	if o.cfg.Sink == nil {
		return
	}
	o.cfg.Sink.Publish(ctx, events.Record{Kind: kind, TransactionID: txnID, Payload: payload})
}

func (o *Orchestrator) recordMetric(format message.ClientFormat, outcome string) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.RequestsTotal.WithLabelValues(string(format), "chat", outcome).Inc()
}

func (o *Orchestrator) recordStallMetric(policyName string) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.StallTimeoutTotal.WithLabelValues(policyName).Inc()
}

func (o *Orchestrator) observeStreamDuration(format message.ClientFormat, d time.Duration) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.StreamDuration.WithLabelValues(string(format)).Observe(d.Seconds())
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.cfg.Logger == nil {
		return slog.Default()
	}
	return o.cfg.Logger
}

// errOutcome renders apiErr in the client's wire format. A request that
// asked to stream always gets a well-formed one-shot SSE error (spec.md
// §4.4 step 3), even when the failure happened before any upstream call
// was attempted; a non-streaming request gets a plain JSON error body.
func (o *Orchestrator) errOutcome(format message.ClientFormat, wantsStream bool, apiErr *apierror.Error) *Outcome {
	if wantsStream {
		return &Outcome{Stream: func(_ context.Context, w io.Writer, flush func()) {
			writePreStreamError(format, w, apiErr)
			flush()
		}}
	}
	body := apiErr.OpenAIBody()
	if format == message.FormatAnthropic {
		body = apiErr.AnthropicBody()
	}
	return &Outcome{StatusCode: apiErr.Status, ContentType: "application/json", Body: body}
}

// writePreStreamError renders apiErr as the one-event error stream
// the design step 3 calls for when on_request (or request parsing
// itself) fails before any chunk has been sent. No message_start precedes
// it: the stream never actually began.
func writePreStreamError(format message.ClientFormat, w io.Writer, apiErr *apierror.Error) {
	if format == message.FormatAnthropic {
		io.WriteString(w, apiErr.AnthropicSSE())
		io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		return
	}
	io.WriteString(w, apiErr.OpenAISSE())
}
