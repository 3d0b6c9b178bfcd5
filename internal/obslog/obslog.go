// Package obslog wraps log/slog with the transaction-scoped child-logger
// convention this proxy's ambient logging needs — every log line a
// transaction produces carries its id, policy name, and client format
// without every call site having to repeat them.
//
// Grounded on mihaisavezi-claude-code-open's internal/middleware/auth.go,
// the nearest pack example of a *slog.Logger threaded through an HTTP
// proxy's request path and fielded with structured `key, value` pairs
// rather than formatted strings — the teacher itself only ever used
// log.Printf, which has no notion of a per-request child logger.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

// New returns the process-wide base logger: JSON output to stderr, the
// level the caller chose. Call once at startup; every transaction logger
// is derived from it with For.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// For returns a child logger with the transaction's identifying fields
// attached, so every subsequent log call already carries them.
func For(base *slog.Logger, transactionID string, clientFormat string) *slog.Logger {
	return base.With("transaction_id", transactionID, "client_format", clientFormat)
}

// WithPolicy further scopes a transaction logger to the policy currently
// handling it, so a PolicyError's log line names the offending policy
// (the design: "logged with the originating policy name").
func WithPolicy(l *slog.Logger, policyName string) *slog.Logger {
	return l.With("policy", policyName)
}

type loggerKey struct{}

// Into stores l on ctx so deep call chains (aggregator, converters) that
// only carry a context.Context can still log with transaction fields
// attached, without threading a *slog.Logger parameter through every
// function signature.
func Into(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// From returns the logger stored on ctx by Into, or slog.Default() if
// none was attached.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
