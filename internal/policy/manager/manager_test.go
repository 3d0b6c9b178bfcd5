package manager_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/policy/builtin"
	"github.com/axiomgate/llmproxy/internal/policy/manager"
)

func TestLoadUnknownClassReturnsTypedError(t *testing.T) {
	m := manager.New(&builtin.NoOp{})
	err := m.Load(manager.Config{Class: "no.such.policy"})
	require.Error(t, err)
	var unknown *manager.UnknownClassError
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "noop", m.Current().Name(), "a failed Load must not disturb the active policy")
}

func TestLoadRejectsConfigFailingSchema(t *testing.T) {
	m := manager.New(&builtin.NoOp{})
	err := m.Load(manager.Config{Class: "builtin.tool_blocklist", Options: json.RawMessage(`{}`)})
	require.Error(t, err)
	var schemaErr *manager.SchemaValidationError
	assert.ErrorAs(t, err, &schemaErr, "missing required \"blocked\" field must fail schema validation")
}

func TestLoadConstructsAndSwapsRegisteredClass(t *testing.T) {
	m := manager.New(&builtin.NoOp{})
	err := m.Load(manager.Config{
		Class:   "builtin.tool_blocklist",
		Options: json.RawMessage(`{"blocked":["execute_code"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "tool_blocklist", m.Current().Name())
}

func TestLoadEmptyClassIsNoOp(t *testing.T) {
	m := manager.New(&builtin.NoOp{})
	require.NoError(t, m.Load(manager.Config{}))
	assert.Equal(t, "noop", m.Current().Name())
}

// TestSwapIsolatesInFlightTransactions exercises this system's
// policy-swap-isolation scenario directly: a transaction that has already
// captured Current() keeps running against that value even if Swap lands
// concurrently, and a transaction that reads Current() afterward observes
// the new policy.
func TestSwapIsolatesInFlightTransactions(t *testing.T) {
	m := manager.New(builtin.NewUppercase())

	captured := m.Current()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Swap(&builtin.NoOp{})
	}()
	wg.Wait()

	req := &message.Request{}
	txn := message.NewTransaction(message.FormatOpenAI, nil)
	txn.Request = req
	pctx := policy.NewContext(txn)

	resp := &message.Response{Content: "still uppercase"}
	out, err := captured.OnResponse(context.Background(), pctx, resp)
	require.NoError(t, err)
	assert.Equal(t, "STILL UPPERCASE", out.Content, "the in-flight handle must keep using the policy it captured")

	assert.Equal(t, "noop", m.Current().Name(), "a later Current() call observes the swapped policy")
}
