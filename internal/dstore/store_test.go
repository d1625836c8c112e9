package dstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sst/opencode-dynamic-context-pruning/internal/host"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

type fakeHost struct {
	info SessionInfoOrErr
}

type SessionInfoOrErr struct {
	info host.SessionInfo
	err  error
}

func (f *fakeHost) SessionGet(ctx context.Context, sessionID string) (host.SessionInfo, error) {
	return f.info.info, f.info.err
}
func (f *fakeHost) SessionMessages(ctx context.Context, sessionID string) ([]*dcptypes.Message, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeHost) SessionAbort(ctx context.Context, sessionID string) error { return nil }
func (f *fakeHost) EventSubscribe(ctx context.Context, directory string) (<-chan host.Event, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeHost) PermissionReply(ctx context.Context, reply host.PermissionReply) error {
	return nil
}

func textMessage(sessionID, id string, role dcptypes.Role, created int64, summary bool) *dcptypes.Message {
	return &dcptypes.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Time:      dcptypes.MessageTime{Created: created},
		Summary:   summary,
		Parts: []dcptypes.Part{
			&dcptypes.TextPart{ID: id + "-p", SessionID: sessionID, MessageID: id, Text: "hello"},
		},
	}
}

func TestCheckSession_NoUserMessage(t *testing.T) {
	store := New(persist.NewStore(t.TempDir()), &fakeHost{})
	state, err := store.CheckSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state with no user message, got %+v", state)
	}
}

func TestCheckSession_InitializesNewSession(t *testing.T) {
	h := &fakeHost{info: SessionInfoOrErr{info: host.SessionInfo{IsSubAgent: true}}}
	store := New(persist.NewStore(t.TempDir()), h)

	messages := []*dcptypes.Message{
		textMessage("sess-1", "raw-1", dcptypes.RoleUser, 100, false),
	}

	state, err := store.CheckSession(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil {
		t.Fatal("expected non-nil state")
	}
	if state.SessionID != "sess-1" {
		t.Errorf("expected sess-1, got %q", state.SessionID)
	}
	if !state.IsSubAgent {
		t.Error("expected IsSubAgent true from host.SessionGet")
	}
}

func TestCheckSession_SessionGetFailureTreatedAsNotSubAgent(t *testing.T) {
	h := &fakeHost{info: SessionInfoOrErr{err: errors.New("rpc timeout")}}
	store := New(persist.NewStore(t.TempDir()), h)

	messages := []*dcptypes.Message{
		textMessage("sess-1", "raw-1", dcptypes.RoleUser, 100, false),
	}

	state, err := store.CheckSession(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.IsSubAgent {
		t.Error("expected IsSubAgent false when session.get fails")
	}
}

func TestCheckSession_CompactionResetClearsState(t *testing.T) {
	h := &fakeHost{}
	store := New(persist.NewStore(t.TempDir()), h)

	messages := []*dcptypes.Message{
		textMessage("sess-1", "raw-1", dcptypes.RoleUser, 100, false),
	}
	state, err := store.CheckSession(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state.Prune.Tools["t1"] = 50
	state.Stats.TotalPruneTokens = 50

	messages = append(messages,
		textMessage("sess-1", "raw-2", dcptypes.RoleAssistant, 200, true),
		textMessage("sess-1", "raw-3", dcptypes.RoleUser, 300, false),
	)
	state2, err := store.CheckSession(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state2.Prune.Tools) != 0 {
		t.Errorf("expected prune state cleared after compaction reset, got %+v", state2.Prune.Tools)
	}
	if state2.Stats.TotalPruneTokens != 50 {
		t.Errorf("expected TotalPruneTokens to survive reset, got %d", state2.Stats.TotalPruneTokens)
	}
}

func TestCheckSession_CountsStepStarts(t *testing.T) {
	store := New(persist.NewStore(t.TempDir()), &fakeHost{})

	msg := textMessage("sess-1", "raw-1", dcptypes.RoleAssistant, 100, false)
	msg.Parts = append(msg.Parts, &dcptypes.StepStartPart{ID: "step-1", SessionID: "sess-1", MessageID: "raw-1"})
	userMsg := textMessage("sess-1", "raw-0", dcptypes.RoleUser, 50, false)

	state, err := store.CheckSession(context.Background(), []*dcptypes.Message{userMsg, msg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CurrentTurn != 1 {
		t.Errorf("expected CurrentTurn 1, got %d", state.CurrentTurn)
	}
}
