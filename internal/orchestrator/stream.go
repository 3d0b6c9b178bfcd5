package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/apierror"
	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/convert"
	"github.com/axiomgate/llmproxy/internal/events"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/obslog"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/streamstate"
	"github.com/axiomgate/llmproxy/internal/upstream"
)

// handleStreaming returns an Outcome whose Stream runs the four
// cooperating tasks of the design step 4: a feeder goroutine draining
// the upstream channel into the aggregator and policy hooks, a stall
// monitor, and the returned StreamFunc itself acting as the client
// formatter — the request watcher is simply ctx, which internal/httpapi
// passes through from the inbound *http.Request and which net/http
// cancels on client disconnect.
func (o *Orchestrator) handleStreaming(format message.ClientFormat, pctx *policy.Context, client upstream.Client, req *message.Request, pol policy.Policy, native policy.AnthropicPolicy) *Outcome {
	return &Outcome{Stream: func(ctx context.Context, w io.Writer, flush func()) {
		o.runStream(ctx, format, pctx, client, req, pol, native, w, flush)
	}}
}

func (o *Orchestrator) runStream(ctx context.Context, format message.ClientFormat, pctx *policy.Context, client upstream.Client, req *message.Request, pol policy.Policy, native policy.AnthropicPolicy, w io.Writer, flush func()) {
	start := time.Now()
	txnID := pctx.Transaction.ID
	// the Stream ctx comes fresh from the inbound request; re-attach the
	// transaction logger so the upstream adapters' observations carry it
	ctx = obslog.Into(ctx, pctx.Log())

	agg := streamstate.NewAggregator(true, o.anomalyLogger(txnID))
	sctx := policy.NewStreamingContext(pctx, agg, o.egressQueueSize(), o.egressPutTimeout())
	sctx.Store = o.cfg.StreamStore
	if o.cfg.StreamStore != nil {
		defer o.cfg.StreamStore.Clear(context.Background(), txnID)
	}

	upCtx, cancel := context.WithTimeout(ctx, o.upstreamTimeout())
	defer cancel()

	o.publish(ctx, events.KindBackendRequest, txnID, req)
	results, err := client.Stream(upCtx, req)
	if err != nil {
		writePreStreamError(format, w, apierror.Upstream("failed to open upstream stream", err))
		flush()
		o.recordMetric(format, "error")
		return
	}

	errCh := make(chan error, 1)
	go o.feed(upCtx, sctx, pol, results, errCh)

	stopStall := make(chan struct{})
	stalled := make(chan struct{}, 1)
	go o.watchStall(sctx, o.stallTimeout(), stopStall, stalled)
	defer close(stopStall)

	cw := &clientWriter{
		ctx:    ctx,
		sctx:   sctx,
		native: native,
		w:      w,
	}
	if format == message.FormatAnthropic {
		cw.anthAgg = streamstate.NewAggregator(false, nil)
		cw.assembler = convert.NewAnthropicSSEAssembler(txnID, req.Model)
		if _, err := cw.writeAnthropicEvent(cw.assembler.Start()); err != nil {
			writeStreamError(format, w, cw.sentBytes, apierror.As(err))
			flush()
			o.recordMetric(format, "error")
			return
		}
		flush()
	}

	var finalErr error
loop:
	for {
		select {
		case c, ok := <-sctx.Egress:
			if !ok {
				finalErr = <-errCh
				break loop
			}
			wrote, err := cw.writeChunk(format, c)
			if err != nil {
				finalErr = err
				break loop
			}
			if wrote {
				flush()
			}

		case <-stalled:
			cancel()
			o.recordStallMetric(pol.Name())
			finalErr = apierror.Timeout("stream stalled: no policy progress", nil)
			break loop

		case <-ctx.Done():
			cancel()
			o.publish(ctx, events.KindPolicyDecision, txnID, map[string]any{"outcome": "client_disconnected"})
			return
		}
	}

	if finalErr != nil {
		writeStreamError(format, w, cw.sentBytes, apierror.As(finalErr))
		flush()
		o.recordMetric(format, "error")
		o.publish(ctx, events.KindClientResponse, txnID, map[string]any{"outcome": "error", "error": finalErr.Error()})
		return
	}

	if err := cw.writeStreamEnd(format); err != nil {
		writeStreamError(format, w, cw.sentBytes, apierror.As(err))
		flush()
		o.recordMetric(format, "error")
		return
	}
	flush()
	o.recordMetric(format, "success")
	o.observeStreamDuration(format, time.Since(start))
	o.publish(ctx, events.KindClientResponse, txnID, "stream complete")
}

// clientWriter is the client-formatter half of the streaming pipeline:
// it renders egress chunks in the client's wire format, re-aggregating
// them for Anthropic clients so the SSE assembler can reconstruct block
// boundaries from whatever chunks the policy actually queued — which may
// differ from what the upstream sent. A native-Anthropic policy gets one
// last look at every assembled event before it hits the wire.
type clientWriter struct {
	ctx       context.Context
	sctx      *policy.StreamingContext
	native    policy.AnthropicPolicy
	w         io.Writer
	anthAgg   *streamstate.Aggregator
	assembler *convert.AnthropicSSEAssembler
	sentBytes bool
}

// writeAnthropicEvent runs one assembled event through the native hook
// (when the policy opted in) and writes the surviving event to the wire,
// reporting whether anything was written.
func (cw *clientWriter) writeAnthropicEvent(se anthropictypes.StreamEvent) (bool, error) {
	if cw.native != nil {
		out, err := cw.native.OnAnthropicStreamEvent(cw.ctx, cw.sctx, &se)
		if err != nil {
			return false, apierror.Policy("on_anthropic_stream_event failed", err)
		}
		if out == nil {
			return false, nil
		}
		se = *out
	}
	io.WriteString(cw.w, convert.RenderAnthropicSSE(se))
	cw.sentBytes = true
	return true, nil
}

// writeChunk renders one egress chunk, returning whether anything was
// written. A tool-call delta that opens a gap in the egress-side index
// sequence means the policy itself queued a malformed stream, and is
// fatal; events produced before the gap are still rendered.
func (cw *clientWriter) writeChunk(format message.ClientFormat, c chunk.Chunk) (bool, error) {
	if format == message.FormatAnthropic {
		wrote := false
		evs, aggErr := cw.anthAgg.Feed(c)
		for _, ev := range evs {
			for _, se := range cw.assembler.Process(ev) {
				didWrite, err := cw.writeAnthropicEvent(se)
				wrote = wrote || didWrite
				if err != nil {
					return wrote, err
				}
			}
		}
		if aggErr != nil {
			return wrote, apierror.Policy("malformed egress tool-call sequence", aggErr)
		}
		return wrote, nil
	}

	data, err := convert.RenderOpenAIChunk(&c)
	if err != nil {
		return false, apierror.Policy("failed to render egress chunk", err)
	}
	fmt.Fprintf(cw.w, "data: %s\n\n", data)
	cw.sentBytes = true
	return true, nil
}

func (cw *clientWriter) writeStreamEnd(format message.ClientFormat) error {
	if format == message.FormatAnthropic {
		reason := "end_turn"
		if r := cw.anthAgg.State().FinishReason; r != nil {
			reason = anthropictypes.StopReasonFromOpenAI(*r)
		}
		for _, se := range cw.assembler.Finish(reason, message.Usage{}) {
			if _, err := cw.writeAnthropicEvent(se); err != nil {
				return err
			}
		}
		return nil
	}
	io.WriteString(cw.w, "data: [DONE]\n\n")
	cw.sentBytes = true
	return nil
}

// writeStreamError renders the terminal error event the design requires
// for a stream that has already committed bytes: the client-format error
// event followed by the format's stream-end sentinel. A stream that never
// sent a byte gets the same one-shot rendering the pre-stream path uses.
func writeStreamError(format message.ClientFormat, w io.Writer, alreadySent bool, apiErr *apierror.Error) {
	_ = alreadySent
	if format == message.FormatAnthropic {
		io.WriteString(w, apiErr.AnthropicSSE())
		io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		return
	}
	io.WriteString(w, apiErr.OpenAISSE())
}

// feed is the feeder task of the design step 4: it drains the
// upstream's StreamResult channel and drives each normalized chunk
// through the policy's full streaming hook surface (policy.DispatchChunk)
// against the transaction's root context. It closes sctx's egress queue
// exactly once, on every exit path, so the formatter loop in runStream
// always terminates.
func (o *Orchestrator) feed(ctx context.Context, sctx *policy.StreamingContext, pol policy.Policy, results <-chan upstream.StreamResult, errCh chan<- error) {
	defer sctx.Close()

	for {
		select {
		case r, ok := <-results:
			if !ok {
				if err := pol.OnStreamComplete(ctx, sctx); err != nil {
					errCh <- apierror.Policy("on_stream_complete failed", err)
					return
				}
				errCh <- nil
				return
			}
			if r.Err != nil {
				errCh <- apierror.Upstream("upstream stream error", r.Err)
				return
			}

			sctx.Keepalive()

			if err := policy.DispatchChunk(ctx, pol, sctx, *r.Chunk); err != nil {
				var gap *streamstate.ErrToolCallIndexGap
				if errors.As(err, &gap) {
					errCh <- apierror.Upstream("malformed tool-call chunk sequence", err)
				} else {
					errCh <- apierror.Policy("streaming hook failed", err)
				}
				return
			}

		case <-ctx.Done():
			errCh <- apierror.Cancellation("stream cancelled", ctx.Err())
			return
		}
	}
}

// watchStall is the stall monitor of the design step 4: it wakes every
// stallCheckPeriod and compares sctx.TimeSinceKeepalive against timeout,
// firing at most once before returning. Firing does not itself cancel
// anything — runStream's select loop owns that, since only it can safely
// decide whether a cancellation races with a clean completion.
func (o *Orchestrator) watchStall(sctx *policy.StreamingContext, timeout time.Duration, stop <-chan struct{}, fire chan<- struct{}) {
	ticker := time.NewTicker(o.stallCheckPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if sctx.TimeSinceKeepalive() > timeout {
				select {
				case fire <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

func (o *Orchestrator) anomalyLogger(txnID string) streamstate.AnomalyLogger {
	logger := o.logger()
	return func(msg string, args ...any) {
		logger.Warn(msg, append([]any{"transaction_id", txnID}, args...)...)
	}
}
