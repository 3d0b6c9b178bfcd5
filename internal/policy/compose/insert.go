package compose

import "github.com/axiomgate/llmproxy/internal/policy"

// Insert adds additional into current's serial chain, returning a new
// Policy — current and additional are never mutated. Grounded directly on
// original_source/.../policy_composition.py's compose_policy: if current
// is already a serial chain, additional is spliced into its existing
// sub-policy list rather than wrapping it in a new nested chain; position
// nil appends, otherwise additional is inserted at that index the way
// Python's list.insert(position, additional) would.
func Insert(current policy.Policy, additional policy.Policy, position *int) policy.Policy {
	var policies []policy.Policy
	if sp, ok := current.(*SerialPolicy); ok {
		policies = append(policies, sp.policies...)
	} else {
		policies = []policy.Policy{current}
	}

	if position == nil {
		policies = append(policies, additional)
	} else {
		at := *position
		if at < 0 {
			at = 0
		}
		if at > len(policies) {
			at = len(policies)
		}
		policies = append(policies[:at:at], append([]policy.Policy{additional}, policies[at:]...)...)
	}

	return Serial(policies...)
}
