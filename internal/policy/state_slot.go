package policy

import "fmt"

// StateSlot is a typed key into a Context's or StreamingContext's
// scratchpad, grounded on the original's policy_core/state_slot.py
// StateSlot[T]. Policies that need to carry data from one hook call to
// the next (e.g. a running token count from OnContentDelta to
// OnStreamComplete) declare one package-level StateSlot per piece of
// state, instead of reaching for instance fields — which a stateless,
// concurrently-shared Policy value cannot have.
type StateSlot[T any] struct {
	name    string
	factory func() T
}

// NewStateSlot declares a slot. factory produces the zero value to store
// the first time a transaction touches this slot; pass nil to use T's Go
// zero value.
func NewStateSlot[T any](name string, factory func() T) StateSlot[T] {
	return StateSlot[T]{name: name, factory: factory}
}

func (s StateSlot[T]) zero() T {
	if s.factory != nil {
		return s.factory()
	}
	var zero T
	return zero
}

// scratchpad is the map both Context and StreamingContext embed. It is
// not exported: all access goes through a StateSlot, so a slot's stored
// type is enforced at the call site rather than by runtime assertion
// failures scattered through policy code.
type scratchpad struct {
	values map[string]any
}

func newScratchpad() scratchpad {
	return scratchpad{values: make(map[string]any)}
}

func (s *scratchpad) get(slotName string) (any, bool) {
	v, ok := s.values[slotName]
	return v, ok
}

func (s *scratchpad) set(slotName string, v any) {
	s.values[slotName] = v
}

// Get returns the slot's current value on pctx's scratchpad, initializing
// it via the slot's factory on first access. A StreamingContext embeds
// *Context, so streaming hooks pass sctx.Context.
func Get[T any](pctx *Context, slot StateSlot[T]) T {
	if v, ok := pctx.get(slot.name); ok {
		typed, ok := v.(T)
		if !ok {
			panic(fmt.Sprintf("policy: state slot %q holds unexpected type %T", slot.name, v))
		}
		return typed
	}
	zero := slot.zero()
	pctx.set(slot.name, zero)
	return zero
}

// Set overwrites the slot's value on pctx's scratchpad.
func Set[T any](pctx *Context, slot StateSlot[T], v T) {
	pctx.set(slot.name, v)
}
