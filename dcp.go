// Package dcp wires the nine engine components into the five inbound
// operations the host calls (§6): onEvent, rewritePrompt, runCompress,
// runPrune, statsAllSessions.
package dcp

import (
	"context"
	"fmt"

	"github.com/sst/opencode-dynamic-context-pruning/internal/compress"
	"github.com/sst/opencode-dynamic-context-pruning/internal/dstore"
	"github.com/sst/opencode-dynamic-context-pruning/internal/event"
	"github.com/sst/opencode-dynamic-context-pruning/internal/host"
	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/sst/opencode-dynamic-context-pruning/internal/prune"
	"github.com/sst/opencode-dynamic-context-pruning/internal/rewrite"
	"github.com/sst/opencode-dynamic-context-pruning/internal/router"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// Engine is the top-level handle the host holds. One Engine serves every
// session; per-session isolation is entirely the session store's job.
type Engine struct {
	host    host.Host
	store   *dstore.Store
	persist *persist.Store
	router  *router.Router
}

// New builds an Engine persisting session state under storageDir and
// talking to h for outbound calls. It wires the router's idle signal to
// the prune planner pass and its permission/question signals to plain
// log lines (info for a permission, warning for a question), since the
// engine itself cannot act on either.
func New(storageDir string, h host.Host) *Engine {
	p := persist.NewStore(storageDir)
	store := dstore.New(p, h)
	r := router.New(store)

	e := &Engine{host: h, store: store, persist: p, router: r}

	r.OnIdle = e.runPlannerPass
	r.OnPermissionAsked = func(data event.PermissionAskedData) {
		logging.Info().Str("sessionID", data.SessionID).Str("requestID", data.RequestID).Msg("dcp: permission requested, relaying to host")
	}
	r.OnQuestionAsked = func(data event.QuestionAskedData) {
		logging.Warn().Str("sessionID", data.SessionID).Str("questionID", data.QuestionID).Msg("dcp: interactive question asked, engine cannot answer")
	}
	return e
}

// OnEvent is the router's entry point (§6 onEvent).
func (e *Engine) OnEvent(ctx context.Context, activeSessionID string, ev event.Event) {
	e.router.Dispatch(ctx, activeSessionID, ev)
}

// RewritePrompt is the pre-prompt hook (§6 rewritePrompt): it loads or
// refreshes session state from the live message list, then produces the
// outbound sequence the host actually sends to the model.
func (e *Engine) RewritePrompt(ctx context.Context, messages []*dcptypes.Message) ([]rewrite.Message, error) {
	state, err := e.store.CheckSession(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("dcp: check session: %w", err)
	}
	if state == nil {
		return rewrite.Run(dcptypes.NewSessionState(""), messages), nil
	}
	var out []rewrite.Message
	e.store.WithSession(ctx, state.SessionID, func(s *dcptypes.SessionState) {
		out = rewrite.Run(s, messages)
	})
	return out, nil
}

// RunCompress is the handler for the compress meta-tool (§6 runCompress).
func (e *Engine) RunCompress(ctx context.Context, sessionID string, in compress.Input) (compress.Result, error) {
	messages, err := e.host.SessionMessages(ctx, sessionID)
	if err != nil {
		return compress.Result{}, fmt.Errorf("dcp: fetch session messages: %w", err)
	}

	var (
		result compress.Result
		runErr error
	)
	e.store.WithSession(ctx, sessionID, func(state *dcptypes.SessionState) {
		result, runErr = compress.Run(ctx, e.persist, state, messages, in)
	})
	return result, runErr
}

// RunPrune is the handler for the manual prune tool (§6 runPrune).
func (e *Engine) RunPrune(ctx context.Context, sessionID string) (prune.Result, error) {
	messages, err := e.host.SessionMessages(ctx, sessionID)
	if err != nil {
		return prune.Result{}, fmt.Errorf("dcp: fetch session messages: %w", err)
	}

	var result prune.Result
	e.store.WithSession(ctx, sessionID, func(state *dcptypes.SessionState) {
		if state.ManualMode {
			state.PendingManualTrigger = &dcptypes.PendingManualTrigger{SessionID: sessionID}
		}
		result = prune.Plan(state, messages, prune.DefaultAgeThreshold)
		state.PendingManualTrigger = nil
	})

	snapshot := e.snapshot(ctx, sessionID)
	if snapshot != nil {
		if err := e.persist.Save(ctx, snapshot); err != nil {
			logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dcp: persist after manual prune failed")
		}
	}
	return result, nil
}

// StatsAllSessions is the aggregation RPC (§6 statsAllSessions).
func (e *Engine) StatsAllSessions(ctx context.Context) (persist.Aggregate, error) {
	return e.persist.AggregateStats(ctx)
}

// runPlannerPass is the router's OnIdle callback (§4.9 session.idle):
// end of a turn runs the prune planner and persists the result. The
// compression planner is model-invoked only (via RunCompress) and is
// never triggered here.
func (e *Engine) runPlannerPass(ctx context.Context, sessionID string) {
	messages, err := e.host.SessionMessages(ctx, sessionID)
	if err != nil {
		logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dcp: idle planner pass: fetch messages failed")
		return
	}

	e.store.WithSession(ctx, sessionID, func(state *dcptypes.SessionState) {
		prune.Plan(state, messages, prune.DefaultAgeThreshold)
	})

	if snapshot := e.snapshot(ctx, sessionID); snapshot != nil {
		if err := e.persist.Save(ctx, snapshot); err != nil {
			logging.Warn().Err(err).Str("sessionID", sessionID).Msg("dcp: idle planner pass: persist failed")
		}
	}
}

// snapshot takes a structural copy of sessionID's state under its lock,
// for background persistence without holding the lock across file I/O
// (§5). The fields persistence reads (prune maps, summaries) are copied,
// not shared.
func (e *Engine) snapshot(ctx context.Context, sessionID string) *dcptypes.SessionState {
	var snap dcptypes.SessionState
	e.store.WithSession(ctx, sessionID, func(state *dcptypes.SessionState) {
		snap = *state
		snap.Prune = dcptypes.PruneState{
			Tools:    make(map[string]int, len(state.Prune.Tools)),
			Messages: make(map[string]int, len(state.Prune.Messages)),
		}
		for k, v := range state.Prune.Tools {
			snap.Prune.Tools[k] = v
		}
		for k, v := range state.Prune.Messages {
			snap.Prune.Messages[k] = v
		}
		snap.CompressSummaries = append([]dcptypes.CompressSummary(nil), state.CompressSummaries...)
	})
	return &snap
}
