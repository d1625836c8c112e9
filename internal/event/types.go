package event

import "github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"

// MessageUpdatedData is the payload for message.updated: a message's
// metadata changed (role, time, summary flag) independent of its parts.
type MessageUpdatedData struct {
	SessionID string            `json:"sessionID"`
	Message   *dcptypes.Message `json:"message"`
}

// MessagePartUpdatedData is the payload for message.part.updated, the
// busiest event in the router's dispatch table (§4.9): a part was
// created or is still streaming.
type MessagePartUpdatedData struct {
	SessionID string        `json:"sessionID"`
	MessageID string        `json:"messageID"`
	Role      dcptypes.Role `json:"role"`
	Part      dcptypes.Part `json:"part"`
}

// SessionStatusData is the payload for session.status.
type SessionStatusData struct {
	SessionID string `json:"sessionID"`
	Status    string `json:"status"` // e.g. "idle", "running", "error"
}

// SessionIdleData is the payload for session.idle: end of turn, the
// signal that triggers the prune planner.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// PermissionAskedData is the payload for permission.asked. The engine
// never answers these; the router only surfaces each request ID once.
type PermissionAskedData struct {
	RequestID string   `json:"requestID"`
	SessionID string   `json:"sessionID"`
	Type      string   `json:"type"` // "bash" | "edit" | "external_directory"
	Pattern   []string `json:"pattern,omitempty"`
	Title     string   `json:"title"`
}

// QuestionAskedData is the payload for question.asked, an interactive
// question the host is asking the user that the engine cannot answer.
type QuestionAskedData struct {
	QuestionID string `json:"questionID"`
	SessionID  string `json:"sessionID"`
	Prompt     string `json:"prompt"`
}
