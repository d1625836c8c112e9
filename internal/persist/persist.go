// Package persist is the durable, atomic, single-file-per-session
// storage layer (C4). One JSON document lives at
// $XDG_DATA_HOME/opencode/storage/plugin/dcp/{sessionId}.json, written
// via sessionFiles' temp-file-then-rename protocol and guarded by a
// per-session file lock (docstore.go).
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// ErrNoPersistedState is returned by Load when a session has never been
// written, or its file is unreadable as the persisted schema. Callers
// treat it identically to a brand-new session (§4.4, §7).
var ErrNoPersistedState = errors.New("persist: no persisted state")

// document is the on-disk shape (§6 "Persisted file format").
type document struct {
	SessionName       string                     `json:"sessionName,omitempty"`
	Prune             dcptypes.PruneState        `json:"prune"`
	CompressSummaries []dcptypes.CompressSummary `json:"compressSummaries"`
	Stats             dcptypes.Stats             `json:"stats"`
	LastUpdated       string                     `json:"lastUpdated"`
}

// Store reads and writes one document per session under dir.
type Store struct {
	dir   string
	files *sessionFiles
}

// NewStore returns a Store rooted at dir (typically
// config.Paths.DCPStoragePath()).
func NewStore(dir string) *Store {
	return &Store{dir: dir, files: newSessionFiles(dir)}
}

// Load reads and migrates the persisted document for sessionID, merging
// it onto a fresh dcptypes.SessionState. It returns ErrNoPersistedState
// (never a hard error) when there is nothing usable on disk; the caller
// treats that as a brand-new session and continues with fresh state.
func (s *Store) Load(ctx context.Context, sessionID string) (*dcptypes.SessionState, error) {
	raw, err := s.files.get(sessionID)
	if err != nil {
		return nil, ErrNoPersistedState
	}

	if !gjson.ValidBytes(raw) {
		return nil, ErrNoPersistedState
	}
	if !gjson.GetBytes(raw, "prune").Exists() || !gjson.GetBytes(raw, "stats").Exists() {
		return nil, ErrNoPersistedState
	}

	migrated, err := migratePrune(raw)
	if err != nil {
		logging.Warn().Err(err).Str("sessionID", sessionID).Msg("persist: prune migration failed, treating as fresh state")
		return nil, ErrNoPersistedState
	}
	migrated, err = sanitizeCompressSummaries(migrated)
	if err != nil {
		logging.Warn().Err(err).Str("sessionID", sessionID).Msg("persist: compressSummaries sanitization failed, treating as fresh state")
		return nil, ErrNoPersistedState
	}

	var doc document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		return nil, ErrNoPersistedState
	}

	state := dcptypes.NewSessionState(sessionID)
	state.SessionName = doc.SessionName
	state.Prune = doc.Prune
	if state.Prune.Tools == nil {
		state.Prune.Tools = map[string]int{}
	}
	if state.Prune.Messages == nil {
		state.Prune.Messages = map[string]int{}
	}
	state.CompressSummaries = doc.CompressSummaries
	state.Stats = doc.Stats
	return state, nil
}

// migratePrune rewrites the legacy prune.toolIds[]/prune.messageIds[]
// arrays into the current {id: savedTokens} maps, with value 0 for
// entries that have no existing credit recorded (§4.4 step 2).
func migratePrune(data []byte) ([]byte, error) {
	prune := gjson.GetBytes(data, "prune")
	if !prune.Get("toolIds").Exists() && !prune.Get("messageIds").Exists() {
		return data, nil
	}

	tools := map[string]int{}
	if existing := prune.Get("tools"); existing.IsObject() {
		existing.ForEach(func(k, v gjson.Result) bool {
			tools[k.String()] = int(v.Int())
			return true
		})
	}
	prune.Get("toolIds").ForEach(func(_, v gjson.Result) bool {
		if _, ok := tools[v.String()]; !ok {
			tools[v.String()] = 0
		}
		return true
	})

	messages := map[string]int{}
	if existing := prune.Get("messages"); existing.IsObject() {
		existing.ForEach(func(k, v gjson.Result) bool {
			messages[k.String()] = int(v.Int())
			return true
		})
	}
	prune.Get("messageIds").ForEach(func(_, v gjson.Result) bool {
		if _, ok := messages[v.String()]; !ok {
			messages[v.String()] = 0
		}
		return true
	})

	rawPrune, err := json.Marshal(dcptypes.PruneState{Tools: tools, Messages: messages})
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(data, "prune", rawPrune)
}

// sanitizeCompressSummaries drops malformed entries, assigns a fresh
// blockId to entries missing one, and de-duplicates by blockId with
// first-wins precedence (§4.4 step 3).
func sanitizeCompressSummaries(data []byte) ([]byte, error) {
	arr := gjson.GetBytes(data, "compressSummaries")
	if !arr.Exists() {
		return data, nil
	}

	var cleaned []dcptypes.CompressSummary
	seen := map[int]bool{}
	nextBlockID := 1

	arr.ForEach(func(_, entry gjson.Result) bool {
		anchor := entry.Get("anchorMessageId")
		summary := entry.Get("summary")
		if anchor.Type != gjson.String || summary.Type != gjson.String {
			return true // drop: missing required string fields
		}

		blockID := 0
		if bid := entry.Get("blockId"); bid.Exists() && bid.Type == gjson.Number {
			blockID = int(bid.Int())
		} else {
			blockID = nextBlockID
		}
		if blockID >= nextBlockID {
			nextBlockID = blockID + 1
		}
		if seen[blockID] {
			return true // drop: duplicate, first-wins
		}
		seen[blockID] = true

		cleaned = append(cleaned, dcptypes.CompressSummary{
			BlockID:         blockID,
			AnchorMessageID: anchor.String(),
			Summary:         summary.String(),
		})
		return true
	})

	rawCleaned, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(data, "compressSummaries", rawCleaned)
}

// Save writes state's persisted fields atomically, retrying a failed
// disk write with bounded exponential backoff before the caller demotes
// the failure to a logged warning (§5, §7).
func (s *Store) Save(ctx context.Context, state *dcptypes.SessionState) error {
	doc := document{
		SessionName:       state.SessionName,
		Prune:             state.Prune,
		CompressSummaries: state.CompressSummaries,
		Stats:             state.Stats,
		LastUpdated:       time.Now().UTC().Format(time.RFC3339),
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	return backoff.Retry(func() error {
		return s.files.put(state.SessionID, doc)
	}, backoff.WithContext(policy, ctx))
}

// Aggregate is the summary statsAllSessions() reports (§6).
type Aggregate struct {
	TotalTokens   int
	TotalTools    int
	TotalMessages int
	SessionCount  int
}

// AggregateStats enumerates every persisted session file under the
// store's directory and sums token credit, tool count, message count,
// and session count for reporting. Malformed files are skipped silently
// (§4.4).
func (s *Store) AggregateStats(ctx context.Context) (Aggregate, error) {
	var agg Aggregate
	err := s.files.scan(func(key string, data json.RawMessage) error {
		if !gjson.ValidBytes(data) {
			return nil
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil
		}
		agg.TotalTokens += doc.Stats.TotalPruneTokens
		agg.TotalTools += len(doc.Prune.Tools)
		agg.TotalMessages += len(doc.Prune.Messages)
		agg.SessionCount++
		return nil
	})
	return agg, err
}
