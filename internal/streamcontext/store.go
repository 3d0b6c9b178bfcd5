// Package streamcontext implements the external per-call Stream Context
// Store of the design: an append-only text accumulator and a
// monotonically increasing chunk counter, each keyed by transaction id
// and TTL-refreshed on every write.
//
// This is a different concern from internal/policy's in-process
// scratchpad: the scratchpad lives only as long as the Go process and
// one transaction's StreamingContext, while the Stream Context Store is
// meant to survive a process restart and be shared across replicas of
// this proxy — the same role Redis plays in the teacher's indirect
// dependency graph, now exercised directly.
package streamcontext

import (
	"context"
	"fmt"
	"time"
)

// Store is the five-operation per-transaction KV. Implementations must be
// safe for concurrent use by independent transactions; two transactions'
// keyspaces never interfere because every key is namespaced by
// transaction id.
type Store interface {
	// AppendDelta appends text to the "stream:<id>:text" accumulator and
	// refreshes its TTL.
	AppendDelta(ctx context.Context, transactionID, text string) error

	// GetAccumulated returns everything appended so far for transactionID.
	GetAccumulated(ctx context.Context, transactionID string) (string, error)

	// IncrIndex increments and returns the "stream:<id>:index" chunk
	// counter, refreshing its TTL. Starts at 1 on first call.
	IncrIndex(ctx context.Context, transactionID string) (int64, error)

	// GetIndex returns the current value of the chunk counter without
	// incrementing it.
	GetIndex(ctx context.Context, transactionID string) (int64, error)

	// Clear removes both keys for transactionID, e.g. once a transaction
	// has fully completed and a policy no longer needs cross-chunk memory.
	Clear(ctx context.Context, transactionID string) error
}

// DefaultTTL is the the design default, refreshed on every write.
const DefaultTTL = time.Hour

func textKey(id string) string  { return fmt.Sprintf("stream:%s:text", id) }
func indexKey(id string) string { return fmt.Sprintf("stream:%s:index", id) }
