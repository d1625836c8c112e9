// Package dstore owns the session state table (C3) and the tool
// parameter cache that rides along inside each entry (C5). Every public
// entry point holds the session's own lock across its own critical
// section, so a checkSession, a rewrite, a plan pass or a snapshot for
// persistence never interleaves with another for the same session, while
// unrelated sessions proceed fully in parallel. Each of these takes the
// lock separately: a sequence such as checkSession then rewrite is not
// one atomic step, and other work on the session may run between them.
package dstore

import (
	"context"
	"errors"
	"sync"

	"github.com/sst/opencode-dynamic-context-pruning/internal/host"
	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// entry pairs one session's state with the lock that serializes every
// operation touching it.
type entry struct {
	mu    sync.Mutex
	state *dcptypes.SessionState
}

// Store is the sessionId -> SessionState table.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	persist *persist.Store
	host    host.Host
}

// New returns an empty Store backed by p for persistence and h for the
// sub-agent-detection outbound call.
func New(p *persist.Store, h host.Host) *Store {
	return &Store{
		entries: make(map[string]*entry),
		persist: p,
		host:    h,
	}
}

func (s *Store) getOrCreate(sessionID string) (e *entry, created bool) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[sessionID]; ok {
		return e, false
	}
	e = &entry{}
	s.entries[sessionID] = e
	return e, true
}

// CheckSession is called before every rewrite (§4.3). It finds the
// conversation's current session from the last user message, loads or
// refreshes that session's in-memory state, detects a compaction reset,
// and recounts the current turn. It returns nil, nil if messages has no
// user message yet.
func (s *Store) CheckSession(ctx context.Context, messages []*dcptypes.Message) (*dcptypes.SessionState, error) {
	lastUser := lastUserMessage(messages)
	if lastUser == nil {
		return nil, nil
	}
	sessionID := lastUser.SessionID

	e, created := s.getOrCreate(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if created {
		e.state = s.loadOrInit(ctx, sessionID)
	}
	state := e.state

	if newest := newestSummaryMessage(messages); newest != nil && newest.Time.Created > state.LastCompaction {
		resetCompactionSensitiveState(state)
		state.LastCompaction = newest.Time.Created
		snapshot := *state
		go func() {
			if err := s.persist.Save(context.Background(), &snapshot); err != nil {
				logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dstore: async persist after compaction reset failed")
			}
		}()
	}

	state.CurrentTurn = countTurns(messages, state.LastCompaction)
	return state, nil
}

// WithSession runs fn holding sessionID's lock, loading or initializing
// state on first use. It gives the event router (C9) a way to mutate a
// session's tool-parameter cache between CheckSession calls, under the
// same per-session lock discipline (§5).
func (s *Store) WithSession(ctx context.Context, sessionID string, fn func(state *dcptypes.SessionState)) {
	e, created := s.getOrCreate(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if created {
		e.state = s.loadOrInit(ctx, sessionID)
	}
	fn(e.state)
}

// loadOrInit fetches sub-agent status and persisted state for a session
// seen for the first time this process. Both outbound failures are
// demoted to warnings (§4.3): sub-agent detection failure means "not a
// sub-agent", persistence failure means "fresh state".
func (s *Store) loadOrInit(ctx context.Context, sessionID string) *dcptypes.SessionState {
	isSubAgent := false
	if info, err := s.host.SessionGet(ctx, sessionID); err != nil {
		logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dstore: session.get failed, assuming not a sub-agent")
	} else {
		isSubAgent = info.IsSubAgent
	}

	state, err := s.persist.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, persist.ErrNoPersistedState) {
			logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dstore: load persisted state failed, starting fresh")
		}
		state = dcptypes.NewSessionState(sessionID)
	}
	state.IsSubAgent = isSubAgent
	return state
}

// resetCompactionSensitiveState clears tool parameters, prune maps,
// summaries, and the ID registry on a compaction reset, retaining
// sessionId (§3 "Lifecycles"). Refs never get reused after reset (§4.2):
// numbering restarts from 0 rather than continuing the old sequence.
// stats is cumulative reporting history and is left untouched.
func resetCompactionSensitiveState(state *dcptypes.SessionState) {
	state.Prune = dcptypes.PruneState{Tools: map[string]int{}, Messages: map[string]int{}}
	state.ToolParameters = map[string]*dcptypes.ToolParameter{}
	state.ToolIDList = nil
	state.MessageIDs = dcptypes.IDRegistry{ByRawID: map[string]string{}, ByRef: map[string]string{}}
	state.CompressSummaries = nil
	state.NudgeCounter = 0
}

func lastUserMessage(messages []*dcptypes.Message) *dcptypes.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == dcptypes.RoleUser {
			return messages[i]
		}
	}
	return nil
}

// newestSummaryMessage finds the newest assistant message with
// Summary = true, by Time.Created.
func newestSummaryMessage(messages []*dcptypes.Message) *dcptypes.Message {
	var newest *dcptypes.Message
	for _, m := range messages {
		if m.Role != dcptypes.RoleAssistant || !m.Summary {
			continue
		}
		if newest == nil || m.Time.Created > newest.Time.Created {
			newest = m
		}
	}
	return newest
}

// countTurns counts step-start parts in messages created at or after
// sinceCompaction (0 meaning "no compaction yet", i.e. count all of
// them), the recipe §4.3 step 4 gives for currentTurn.
func countTurns(messages []*dcptypes.Message, sinceCompaction int64) int {
	turns := 0
	for _, m := range messages {
		if m.Time.Created < sinceCompaction {
			continue
		}
		for _, p := range m.Parts {
			if p.PartType() == "step-start" {
				turns++
			}
		}
	}
	return turns
}
