// Package host declares the interfaces the dynamic context pruning engine
// expects its chat runtime collaborator to provide (§6 outbound calls).
// The engine never talks to a transport directly; everything it needs
// from the host arrives through these five methods, which lets the
// engine's own tests substitute an in-memory fake instead of a real
// runtime.
package host

import (
	"context"

	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// SessionInfo is the subset of session metadata the engine needs from
// session.get: just enough to tell a sub-agent session from a primary
// one (§4.6 rule 1).
type SessionInfo struct {
	ID         string
	IsSubAgent bool
}

// PermissionReply is the payload for permission.reply.
type PermissionReply struct {
	RequestID string
	Reply     string // "once" | "always" | "reject"
	Message   string
}

// Host is the chat runtime's side of the engine/host boundary.
type Host interface {
	// SessionGet fetches session metadata, used to detect sub-agent
	// sessions. Failure is treated as "not a sub-agent" by the caller
	// (§4.3 error handling), never as a hard error.
	SessionGet(ctx context.Context, sessionID string) (SessionInfo, error)

	// SessionMessages returns the full, paginated message history for a
	// session, each with its parts populated.
	SessionMessages(ctx context.Context, sessionID string) ([]*dcptypes.Message, error)

	// SessionAbort cancels a running session in response to a
	// cooperative shutdown request.
	SessionAbort(ctx context.Context, sessionID string) error

	// EventSubscribe returns a channel of host events. The returned
	// channel is closed when ctx is canceled or the host tears the
	// subscription down; the caller owns draining it.
	EventSubscribe(ctx context.Context, directory string) (<-chan Event, error)

	// PermissionReply answers a pending permission prompt. The engine
	// itself never calls this with a decision of its own — it only
	// relays permission.asked events — but the host interface exposes
	// it so a caller wiring the two together doesn't need a second
	// abstraction.
	PermissionReply(ctx context.Context, reply PermissionReply) error
}

// Event is a single item off the host's event stream, already decoded
// into the engine's own event vocabulary.
type Event struct {
	Type string
	Data any
}
