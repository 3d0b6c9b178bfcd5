package message

import (
	"regexp"

	"github.com/google/uuid"
)

// Transaction is one client request/response cycle. The
// orchestrator creates one at ingress and owns it exclusively for the
// lifetime of the pipeline; the policy only ever observes it through the
// read-only fields exposed on PolicyContext.
type Transaction struct {
	ID          string
	ClientFmt   ClientFormat
	SessionID   string // empty if no session could be extracted
	RawRequest  []byte // original client bytes, retained for the event sink only
	Request     *Request
}

// NewTransaction mints a Transaction with a fresh server-generated id.
func NewTransaction(format ClientFormat, raw []byte) *Transaction {
	return &Transaction{
		ID:         uuid.NewString(),
		ClientFmt:  format,
		RawRequest: raw,
	}
}

// sessionSuffix matches the `_session_<uuid>` suffix the design requires be
// pulled out of Anthropic's metadata.user_id.
var sessionSuffix = regexp.MustCompile(`_session_([a-f0-9-]+)$`)

// SessionIDFromUserID extracts a session id from an Anthropic
// metadata.user_id value, per the design Returns "" if no match.
func SessionIDFromUserID(userID string) string {
	m := sessionSuffix.FindStringSubmatch(userID)
	if m == nil {
		return ""
	}
	return m[1]
}
