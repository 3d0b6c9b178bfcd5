// Package manager holds the single hot-swappable active policy (spec.md
// §4.7) behind a lock-free atomic pointer, and the registry that resolves
// a config-file policy reference to a constructor.
//
// Grounded on
// original_source/.../control_plane/policy_loader.py's
// load_policy_from_config: a YAML config names the policy as
// "module_path:ClassName" plus a policy_options dict, importing the
// module and instantiating the class at runtime, falling back to NoOp on
// any failure. Go cannot import a package path discovered at runtime, so
// the class reference instead resolves against a registry every
// constructor registers itself into at package init — Register plays the
// role of Python's dynamic __import__.
package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/axiomgate/llmproxy/internal/policy"
)

// Constructor builds a Policy from its raw JSON kwargs (policy_options in
// the original's config shape). Kwargs is nil when the config supplies
// none.
type Constructor func(kwargs json.RawMessage) (policy.Policy, error)

// Config is the on-disk/admin-API shape of a policy reference, grounded
// directly on policy_loader.py's "policy" / "policy_options" YAML keys.
type Config struct {
	Class   string          `json:"policy" yaml:"policy"`
	Options json.RawMessage `json:"policy_options,omitempty" yaml:"policy_options,omitempty"`
}

type registration struct {
	ctor   Constructor
	schema *jsonschema.Schema
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register makes a policy class available to Load/Config.Class by name,
// with no kwargs schema validation.
func Register(class string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = registration{ctor: ctor}
}

// RegisterWithSchema is like Register, but additionally validates a
// loaded config's Options against compiled JSON Schema schemaJSON before
// the constructor ever runs — this system's "rejects non-conforming
// classes with a typed error." schemaJSON must compile or
// RegisterWithSchema panics, since a broken built-in schema is a
// programming error caught at package init, not a runtime condition.
func RegisterWithSchema(class string, schemaJSON string, ctor Constructor) {
	compiler := jsonschema.NewCompiler()
	schemaURL := "mem://policy/" + class + ".schema.json"
	if err := compiler.AddResource(schemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
		panic(fmt.Sprintf("policy manager: invalid schema for %q: %v", class, err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("policy manager: invalid schema for %q: %v", class, err))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = registration{ctor: ctor, schema: schema}
}

// UnknownClassError is returned by Load when Config.Class has no
// registered constructor.
type UnknownClassError struct {
	Class string
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("policy manager: unknown policy class %q", e.Class)
}

// SchemaValidationError wraps a JSON Schema validation failure against a
// registered policy's declared config schema.
type SchemaValidationError struct {
	Class string
	Err   error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("policy manager: config for %q failed schema validation: %v", e.Class, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// Manager holds the single currently-active Policy behind an
// atomic.Pointer, so every transaction's Current() call is a single
// atomic load with no lock in the hot path, while Load/Swap
// can run concurrently with in-flight transactions without either side
// blocking — the essence of the policy-swap-isolation property spec.md
// §8 describes (a transaction that already read Current() finishes
// against the old policy value even if a swap lands mid-flight).
type Manager struct {
	current atomic.Pointer[policy.Policy]
}

// New returns a Manager whose initial active policy is initial.
func New(initial policy.Policy) *Manager {
	m := &Manager{}
	m.Swap(initial)
	return m
}

// Current returns the active policy. Safe to call concurrently with Swap
// or Load from any number of goroutines.
func (m *Manager) Current() policy.Policy {
	return *m.current.Load()
}

// Swap installs p as the active policy, replacing whatever was active
// before. Any transaction that already loaded the previous value via
// Current keeps running against it; only transactions that call Current
// after Swap returns observe p.
func (m *Manager) Swap(p policy.Policy) {
	m.current.Store(&p)
}

// Load resolves cfg.Class against the registry, validates cfg.Options
// against its declared schema (if any), constructs the policy, and swaps
// it in. An empty cfg.Class is a no-op success, matching the original's
// "no policy specified in config" fallback — callers that want NoOp
// explicit should register and reference it by name instead of relying
// on this fallback.
func (m *Manager) Load(cfg Config) error {
	if cfg.Class == "" {
		return nil
	}

	registryMu.RLock()
	reg, ok := registry[cfg.Class]
	registryMu.RUnlock()
	if !ok {
		return &UnknownClassError{Class: cfg.Class}
	}

	if reg.schema != nil {
		instance, err := decodeForValidation(cfg.Options)
		if err != nil {
			return fmt.Errorf("policy manager: decoding config for %q: %w", cfg.Class, err)
		}
		if err := reg.schema.Validate(instance); err != nil {
			return &SchemaValidationError{Class: cfg.Class, Err: err}
		}
	}

	p, err := reg.ctor(cfg.Options)
	if err != nil {
		return fmt.Errorf("policy manager: constructing %q: %w", cfg.Class, err)
	}

	m.Swap(p)
	return nil
}

// decodeForValidation decodes raw kwargs JSON the way
// santhosh-tekuri/jsonschema wants it: via jsonschema.UnmarshalJSON so
// numbers keep arbitrary precision instead of collapsing to float64,
// which matters for schemas asserting integer-only constraints.
func decodeForValidation(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// RegisteredClasses returns the currently-registered policy class names,
// for the admin status endpoint (internal/httpapi) to report what can be
// activated.
func RegisteredClasses() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
