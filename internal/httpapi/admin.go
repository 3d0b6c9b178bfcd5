package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/axiomgate/llmproxy/internal/policy/manager"
)

// handleActivatePolicy handles POST /admin/policy/activate:
// body is internal/policy/manager.Config's JSON shape,
// {"policy": <class>, "policy_options": {...}}. The config file's
// "policy" section (internal/config.PolicyConfig) names the same two
// values under the keys "class" and "options" instead.
func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	var cfg manager.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if cfg.Class == "" {
		writeAdminError(w, http.StatusBadRequest, "policy class is required")
		return
	}

	if err := s.mgr.Load(cfg); err != nil {
		status := http.StatusInternalServerError
		var unknown *manager.UnknownClassError
		var invalid *manager.SchemaValidationError
		if errors.As(err, &unknown) || errors.As(err, &invalid) {
			status = http.StatusBadRequest
		}
		writeAdminError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"active_policy": s.mgr.Current().Name()})
}

// handleCurrentPolicy handles GET /admin/policy/current.
func (s *Server) handleCurrentPolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"active_policy":      s.mgr.Current().Name(),
		"registered_classes": manager.RegisteredClasses(),
	})
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message})
}
