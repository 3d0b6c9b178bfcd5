package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/policy/manager"
)

// toolBlocklistOptions is the policy_options shape for "builtin.tool_blocklist".
type toolBlocklistOptions struct {
	Blocked []string `json:"blocked"`
}

const toolBlocklistSchema = `{
	"type": "object",
	"properties": {
		"blocked": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["blocked"]
}`

// init registers every builtin policy with internal/policy/manager so a
// config's "policy: builtin.xyz" reference resolves without the caller
// needing to import this package's concrete types directly — mirroring
// how policy_loader.py resolves any "module_path:ClassName" string
// without the caller naming a type.
func init() {
	manager.Register("builtin.noop", func(json.RawMessage) (policy.Policy, error) {
		return &NoOp{}, nil
	})
	manager.Register("builtin.uppercase", func(json.RawMessage) (policy.Policy, error) {
		return NewUppercase(), nil
	})
	manager.RegisterWithSchema("builtin.tool_blocklist", toolBlocklistSchema, func(raw json.RawMessage) (policy.Policy, error) {
		var opts toolBlocklistOptions
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &opts); err != nil {
				return nil, fmt.Errorf("builtin.tool_blocklist: %w", err)
			}
		}
		return NewToolBlocklist(opts.Blocked...), nil
	})
}
