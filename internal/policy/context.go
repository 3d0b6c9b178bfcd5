package policy

import (
	"log/slog"

	"github.com/axiomgate/llmproxy/internal/message"
)

// Context is the per-transaction, non-streaming policy state, grounded on
// the original's policy_core/policy_context.py scratchpad dict. The
// orchestrator creates exactly one per transaction and passes a pointer to
// every hook call for that transaction; it is never shared across
// transactions and never touched concurrently (the orchestrator runs one
// transaction's hooks sequentially).
type Context struct {
	Transaction *message.Transaction

	// Logger is the transaction-scoped observability handle
	// (internal/obslog.For), already fielded with the transaction id and
	// client format. May be nil in minimal test setups; use Log.
	Logger *slog.Logger

	scratchpad
}

// NewContext returns a fresh Context for one transaction.
func NewContext(txn *message.Transaction) *Context {
	return &Context{Transaction: txn, scratchpad: newScratchpad()}
}

// Log returns the transaction logger, falling back to slog.Default when
// none was attached.
func (c *Context) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
