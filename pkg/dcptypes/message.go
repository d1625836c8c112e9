// Package dcptypes defines the conversation data model the dynamic context
// pruning engine reads from and writes to the host: messages, parts, tool
// call state, and compression summaries.
package dcptypes

// Message is a single turn in the conversation, as reported by the host.
// The engine treats it as read-only: it never mutates a Message in place,
// only produces a new rewritten sequence (see the rewrite package).
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      Role        `json:"role"`
	Time      MessageTime `json:"time"`

	// Summary marks an assistant message that rolls up prior history.
	// A Summary message newer than the session's last observed one
	// triggers a compaction reset (§3, §4.3 of the design).
	Summary bool `json:"summary,omitempty"`

	Parts []Part `json:"parts"`
}

// Role distinguishes user and assistant messages.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageTime holds the creation timestamp for a message.
type MessageTime struct {
	Created int64 `json:"created"`
}

// TokenUsage mirrors the host's own accounting, used only to sanity-check
// the engine's token estimates; the engine never trusts it blindly.
type TokenUsage struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	Reasoning int `json:"reasoning,omitempty"`
}

// MessageError describes a failure the host attached to an assistant turn.
type MessageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IsIgnored reports whether this is an "ignored user message" per the
// glossary: a user message whose parts are all synthetic/ignored, so it
// is skipped both for ref assignment and as a compress-range boundary.
func (m *Message) IsIgnored() bool {
	if m.Role != RoleUser || len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if !p.Ignored() {
			return false
		}
	}
	return true
}
