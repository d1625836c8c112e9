package router

import (
	"context"
	"testing"

	"github.com/sst/opencode-dynamic-context-pruning/internal/dstore"
	"github.com/sst/opencode-dynamic-context-pruning/internal/event"
	"github.com/sst/opencode-dynamic-context-pruning/internal/host"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

type fakeHost struct{}

func (fakeHost) SessionGet(ctx context.Context, sessionID string) (host.SessionInfo, error) {
	return host.SessionInfo{ID: sessionID}, nil
}
func (fakeHost) SessionMessages(ctx context.Context, sessionID string) ([]*dcptypes.Message, error) {
	return nil, nil
}
func (fakeHost) SessionAbort(ctx context.Context, sessionID string) error { return nil }
func (fakeHost) EventSubscribe(ctx context.Context, directory string) (<-chan host.Event, error) {
	return nil, nil
}
func (fakeHost) PermissionReply(ctx context.Context, reply host.PermissionReply) error { return nil }

func newRouter(t *testing.T) *Router {
	t.Helper()
	store := dstore.New(persist.NewStore(t.TempDir()), fakeHost{})
	return New(store)
}

func TestDispatch_IgnoresOtherSessions(t *testing.T) {
	r := newRouter(t)
	called := false
	r.OnIdle = func(ctx context.Context, sessionID string) { called = true }

	r.Dispatch(context.Background(), "sess-active", event.Event{
		Type: event.SessionIdle,
		Data: event.SessionIdleData{SessionID: "sess-other"},
	})
	if called {
		t.Fatal("expected idle callback not to fire for a different session")
	}
}

func TestDispatch_SessionIdleFiresOnce(t *testing.T) {
	r := newRouter(t)
	count := 0
	r.OnIdle = func(ctx context.Context, sessionID string) { count++ }

	r.Dispatch(context.Background(), "sess-1", event.Event{
		Type: event.SessionIdle,
		Data: event.SessionIdleData{SessionID: "sess-1"},
	})
	if count != 1 {
		t.Fatalf("expected idle callback to fire once, fired %d times", count)
	}
}

func TestDispatch_SessionStatusIdleTriggersPlanner(t *testing.T) {
	r := newRouter(t)
	count := 0
	r.OnIdle = func(ctx context.Context, sessionID string) { count++ }

	r.Dispatch(context.Background(), "sess-1", event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: "sess-1", Status: "idle"},
	})
	r.Dispatch(context.Background(), "sess-1", event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: "sess-1", Status: "busy"},
	})
	if count != 1 {
		t.Fatalf("expected exactly one idle trigger, got %d", count)
	}
}

func TestDispatch_ToolPartRecordedInStore(t *testing.T) {
	r := newRouter(t)
	r.Dispatch(context.Background(), "sess-1", event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{
			SessionID: "sess-1",
			MessageID: "msg-1",
			Role:      dcptypes.RoleAssistant,
			Part: &dcptypes.ToolPart{
				ID: "p1", CallID: "call-1", Tool: "bash",
				State: dcptypes.ToolState{Status: dcptypes.ToolCompleted},
			},
		},
	})

	var recorded bool
	r.store.WithSession(context.Background(), "sess-1", func(state *dcptypes.SessionState) {
		_, recorded = state.ToolParameters["call-1"]
	})
	if !recorded {
		t.Fatal("expected tool part to be recorded in the session's tool-parameter cache")
	}
}

func TestDispatch_UserRolePartNotRecordedAsTool(t *testing.T) {
	r := newRouter(t)
	r.Dispatch(context.Background(), "sess-1", event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{
			SessionID: "sess-1",
			MessageID: "msg-1",
			Role:      dcptypes.RoleUser,
			Part:      &dcptypes.TextPart{ID: "p1", MessageID: "msg-1", Text: "hello"},
		},
	})

	var count int
	r.store.WithSession(context.Background(), "sess-1", func(state *dcptypes.SessionState) {
		count = len(state.ToolParameters)
	})
	if count != 0 {
		t.Fatalf("expected no tool parameters recorded for a user part, got %d", count)
	}
}

func TestDispatch_PermissionAskedFiresOncePerRequestID(t *testing.T) {
	r := newRouter(t)
	count := 0
	r.OnPermissionAsked = func(data event.PermissionAskedData) { count++ }

	ev := event.Event{
		Type: event.PermissionAsked,
		Data: event.PermissionAskedData{RequestID: "req-1", SessionID: "sess-1", Type: "bash"},
	}
	r.Dispatch(context.Background(), "sess-1", ev)
	r.Dispatch(context.Background(), "sess-1", ev)

	if count != 1 {
		t.Fatalf("expected permission-asked callback to fire once, fired %d times", count)
	}
}

func TestDispatch_QuestionAskedFiresOncePerQuestionID(t *testing.T) {
	r := newRouter(t)
	count := 0
	r.OnQuestionAsked = func(data event.QuestionAskedData) { count++ }

	ev := event.Event{
		Type: event.QuestionAsked,
		Data: event.QuestionAskedData{QuestionID: "q-1", SessionID: "sess-1", Prompt: "pick one"},
	}
	r.Dispatch(context.Background(), "sess-1", ev)
	r.Dispatch(context.Background(), "sess-1", ev)

	if count != 1 {
		t.Fatalf("expected question-asked callback to fire once, fired %d times", count)
	}
}

func TestDispatch_NoopEventIsIgnored(t *testing.T) {
	r := newRouter(t)
	r.Dispatch(context.Background(), "sess-1", event.Event{Type: event.Noop, Data: nil})
}
