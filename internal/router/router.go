// Package router is the event router (C9): the single entry point for
// host events, dispatching tool-call observations into the session
// state store and surfacing end-of-turn, permission, and question
// signals to the engine (§4.9).
package router

import (
	"context"
	"sync"

	"github.com/sst/opencode-dynamic-context-pruning/internal/dstore"
	"github.com/sst/opencode-dynamic-context-pruning/internal/event"
	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// Router dispatches one host event at a time, in arrival order, to the
// session state store and a small set of callbacks the engine supplies
// for signals it alone can act on (idle, permission, question).
type Router struct {
	store *dstore.Store

	// OnIdle fires once per session.idle / session.status{idle} event,
	// the engine's cue to run the prune planner.
	OnIdle func(ctx context.Context, sessionID string)

	// OnPermissionAsked fires the first time a given request ID is
	// seen; the engine only relays it, it never answers on its own.
	OnPermissionAsked func(data event.PermissionAskedData)

	// OnQuestionAsked fires the first time a given question ID is
	// seen; the core cannot answer interactive questions (§4.9).
	OnQuestionAsked func(data event.QuestionAskedData)

	mu             sync.Mutex
	messageRoles   map[string]dcptypes.Role  // messageID -> role, for user-part filtering
	seenAttachment map[string]map[string]bool // callID -> attachmentID -> seen
	seenPermission map[string]bool
	seenQuestion   map[string]bool
}

// New returns a Router dispatching tool-part observations into store.
func New(store *dstore.Store) *Router {
	return &Router{
		store:          store,
		messageRoles:   make(map[string]dcptypes.Role),
		seenAttachment: make(map[string]map[string]bool),
		seenPermission: make(map[string]bool),
		seenQuestion:   make(map[string]bool),
	}
}

// Dispatch handles one event, already decoded into the engine's event
// vocabulary. activeSessionID is the session the caller is currently
// driving; events for any other session are dropped (§4.9 "filter to
// the active session").
func (r *Router) Dispatch(ctx context.Context, activeSessionID string, ev event.Event) {
	switch ev.Type {
	case event.MessageUpdated:
		data, ok := ev.Data.(event.MessageUpdatedData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		r.recordRole(data.Message)

	case event.MessagePartUpdated:
		data, ok := ev.Data.(event.MessagePartUpdatedData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		r.handlePartUpdated(ctx, data)

	case event.SessionStatus:
		data, ok := ev.Data.(event.SessionStatusData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		if data.Status == "idle" {
			r.fireIdle(ctx, data.SessionID)
		}

	case event.SessionIdle:
		data, ok := ev.Data.(event.SessionIdleData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		r.fireIdle(ctx, data.SessionID)

	case event.PermissionAsked:
		data, ok := ev.Data.(event.PermissionAskedData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		r.firePermissionAsked(data)

	case event.QuestionAsked:
		data, ok := ev.Data.(event.QuestionAskedData)
		if !ok || data.SessionID != activeSessionID {
			return
		}
		r.fireQuestionAsked(data)

	case event.Noop:
		// nothing to do.
	}
}

func (r *Router) recordRole(m *dcptypes.Message) {
	if m == nil {
		return
	}
	r.mu.Lock()
	r.messageRoles[m.ID] = m.Role
	r.mu.Unlock()
}

// handlePartUpdated implements §4.9's per-status-type tool dispatch. A
// user-authored part is never forwarded to the tool cache; it only
// counts toward turn tracking, which C3 derives independently from
// step-start parts on the next CheckSession call, so there is nothing
// further to do here beyond recording the role.
func (r *Router) handlePartUpdated(ctx context.Context, data event.MessagePartUpdatedData) {
	r.mu.Lock()
	r.messageRoles[data.MessageID] = data.Role
	r.mu.Unlock()

	if data.Role == dcptypes.RoleUser {
		return
	}

	tp, ok := data.Part.(*dcptypes.ToolPart)
	if !ok {
		return
	}

	r.store.WithSession(ctx, data.SessionID, func(state *dcptypes.SessionState) {
		dstore.RecordToolPart(state, tp)
	})

	switch tp.State.Status {
	case dcptypes.ToolCompleted:
		r.recordAttachments(tp)
	case dcptypes.ToolError:
		r.recordAttachments(tp)
		logging.Warn().
			Str("sessionID", data.SessionID).
			Str("callID", tp.CallID).
			Str("tool", tp.Tool).
			Msg("router: tool call errored")
	}
}

// recordAttachments de-duplicates attachment file parts by attachment
// ID (§4.9); only the first observation of a given attachment per call
// is new.
func (r *Router) recordAttachments(tp *dcptypes.ToolPart) {
	if len(tp.State.Attachments) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen, ok := r.seenAttachment[tp.CallID]
	if !ok {
		seen = make(map[string]bool)
		r.seenAttachment[tp.CallID] = seen
	}
	for _, a := range tp.State.Attachments {
		seen[a.ID] = true
	}
}

func (r *Router) fireIdle(ctx context.Context, sessionID string) {
	if r.OnIdle != nil {
		r.OnIdle(ctx, sessionID)
	}
}

func (r *Router) firePermissionAsked(data event.PermissionAskedData) {
	r.mu.Lock()
	if r.seenPermission[data.RequestID] {
		r.mu.Unlock()
		return
	}
	r.seenPermission[data.RequestID] = true
	r.mu.Unlock()

	if r.OnPermissionAsked != nil {
		r.OnPermissionAsked(data)
	}
}

func (r *Router) fireQuestionAsked(data event.QuestionAskedData) {
	r.mu.Lock()
	if r.seenQuestion[data.QuestionID] {
		r.mu.Unlock()
		return
	}
	r.seenQuestion[data.QuestionID] = true
	r.mu.Unlock()

	if r.OnQuestionAsked != nil {
		r.OnQuestionAsked(data)
	}
}
