package dcp

import (
	"context"
	"testing"

	"github.com/sst/opencode-dynamic-context-pruning/internal/compress"
	"github.com/sst/opencode-dynamic-context-pruning/internal/event"
	"github.com/sst/opencode-dynamic-context-pruning/internal/host"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

type fakeHost struct {
	messages map[string][]*dcptypes.Message
}

func (h *fakeHost) SessionGet(ctx context.Context, sessionID string) (host.SessionInfo, error) {
	return host.SessionInfo{ID: sessionID}, nil
}
func (h *fakeHost) SessionMessages(ctx context.Context, sessionID string) ([]*dcptypes.Message, error) {
	return h.messages[sessionID], nil
}
func (h *fakeHost) SessionAbort(ctx context.Context, sessionID string) error { return nil }
func (h *fakeHost) EventSubscribe(ctx context.Context, directory string) (<-chan host.Event, error) {
	return nil, nil
}
func (h *fakeHost) PermissionReply(ctx context.Context, reply host.PermissionReply) error {
	return nil
}

func textMsg(id, sessionID string, created int64, role dcptypes.Role, text string) *dcptypes.Message {
	return &dcptypes.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Time:      dcptypes.MessageTime{Created: created},
		Parts: []dcptypes.Part{
			&dcptypes.TextPart{ID: id + "-p", SessionID: sessionID, MessageID: id, Text: text},
		},
	}
}

func TestEngine_RewritePrompt_AssignsRefs(t *testing.T) {
	h := &fakeHost{messages: map[string][]*dcptypes.Message{
		"sess-1": {
			textMsg("raw-1", "sess-1", 1, dcptypes.RoleUser, "hello"),
			textMsg("raw-2", "sess-1", 2, dcptypes.RoleAssistant, "hi"),
		},
	}}
	e := New(t.TempDir(), h)

	out, err := e.RewritePrompt(context.Background(), h.messages["sess-1"])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rewritten messages, got %d", len(out))
	}
	if out[0].Tag != "<dcp-message-id>m0000</dcp-message-id>" {
		t.Errorf("expected first message tagged m0000, got %q", out[0].Tag)
	}
}

func TestEngine_RunCompress_ThenRewritePromptShowsBlock(t *testing.T) {
	h := &fakeHost{messages: map[string][]*dcptypes.Message{
		"sess-1": {
			textMsg("raw-1", "sess-1", 1, dcptypes.RoleUser, "hello"),
			textMsg("raw-2", "sess-1", 2, dcptypes.RoleAssistant, "hi there"),
		},
	}}
	e := New(t.TempDir(), h)

	// Prime the ID registry so m0000/m0001 exist before compressing.
	if _, err := e.RewritePrompt(context.Background(), h.messages["sess-1"]); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	result, err := e.RunCompress(context.Background(), "sess-1", compress.Input{
		Topic:   "greeting",
		StartID: "m0000",
		EndID:   "m0001",
		Summary: "the user said hello and the assistant replied",
	})
	if err != nil {
		t.Fatalf("RunCompress failed: %v", err)
	}
	if result.BlockID != 1 {
		t.Fatalf("expected blockId 1, got %d", result.BlockID)
	}

	out, err := e.RewritePrompt(context.Background(), h.messages["sess-1"])
	if err != nil {
		t.Fatalf("rewrite after compress failed: %v", err)
	}
	if out[0].Tag != "<dcp-message-id>b1</dcp-message-id>" {
		t.Errorf("expected anchor rewritten as block tag, got %q", out[0].Tag)
	}
}

func TestEngine_OnEvent_IdleTriggersPrunePersist(t *testing.T) {
	h := &fakeHost{messages: map[string][]*dcptypes.Message{
		"sess-1": {textMsg("raw-1", "sess-1", 1, dcptypes.RoleUser, "hello")},
	}}
	e := New(t.TempDir(), h)

	e.OnEvent(context.Background(), "sess-1", event.Event{
		Type: event.SessionIdle,
		Data: event.SessionIdleData{SessionID: "sess-1"},
	})

	agg, err := e.StatsAllSessions(context.Background())
	if err != nil {
		t.Fatalf("StatsAllSessions failed: %v", err)
	}
	if agg.SessionCount != 1 {
		t.Fatalf("expected idle pass to persist one session, got %d", agg.SessionCount)
	}
}
