package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/axiomgate/llmproxy/internal/orchestrator"
)

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyReadError(w)
		return
	}
	sessionID := r.Header.Get("x-session-id")
	outcome := s.orch.HandleOpenAI(r.Context(), raw, sessionID)
	s.writeOutcome(w, r, outcome)
}

// handleMessages handles POST /v1/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyReadError(w)
		return
	}
	outcome := s.orch.HandleAnthropic(r.Context(), raw)
	s.writeOutcome(w, r, outcome)
}

// writeOutcome renders an orchestrator.Outcome to w: a fixed JSON body, or
// an incrementally-flushed SSE stream for streaming transactions.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, outcome *orchestrator.Outcome) {
	if outcome.Stream != nil {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		outcome.Stream(r.Context(), w, flush)
		return
	}

	contentType := outcome.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(outcome.StatusCode)
	w.Write(outcome.Body)
}

func writeBodyReadError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	writeJSON(w, map[string]string{"error": "failed to read request body"})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
