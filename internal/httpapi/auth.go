package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// credentialFromRequest extracts a bearer token from either the
// Authorization header ("Bearer <token>") or the x-api-key header, per
// the design Returns "" if neither is present.
func credentialFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.Header.Get("x-api-key")
}

// constantTimeEqual reports whether a and b are equal, in constant time
// with respect to their content (the design: "compared in constant
// time"). Two different-length strings are never equal, and the length
// comparison itself is the one timing leak every constant-time string
// compare accepts — it only ever reveals length, never content.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// clientAuth enforces this system's client authentication: a Bearer token
// or x-api-key header matching the configured server API key. An empty
// configured key disables auth entirely — the natural default for local
// development, matching the teacher's own auth-free handler.
func (s *Server) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !constantTimeEqual(credentialFromRequest(r), s.cfg.Server.APIKey) {
			writeAuthError(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth enforces this system's separate admin credential.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Admin.APIKey == "" || !constantTimeEqual(credentialFromRequest(r), s.cfg.Admin.APIKey) {
			writeAuthError(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	writeJSON(w, map[string]string{"error": "invalid or missing credentials"})
}
