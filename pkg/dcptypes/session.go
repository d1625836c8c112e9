package dcptypes

// SessionState is the engine's entire per-session memory (§3). It is
// owned exclusively by one dstore.Store entry; nothing outside that
// store retains a reference to its child maps (the ownership model the
// design notes call for), so every mutation happens under the store's
// per-session lock.
type SessionState struct {
	SessionID string

	// SessionName is an optional host-supplied label, persisted verbatim.
	SessionName string

	// IsSubAgent sessions never get pruned (§4.6 rule 1).
	IsSubAgent bool

	// ManualMode sessions only prune on an explicit tool call (§4.6 rule 2).
	ManualMode bool

	PendingManualTrigger *PendingManualTrigger

	Prune PruneState

	// CompressSummaries is ordered by BlockID ascending; see CompressSummary.
	CompressSummaries []CompressSummary

	Stats Stats

	// ToolParameters is keyed by toolCallId.
	ToolParameters map[string]*ToolParameter
	// ToolIDList preserves insertion order for deterministic iteration.
	ToolIDList []string

	MessageIDs IDRegistry

	NudgeCounter    int
	LastToolPrune   int64
	LastCompaction  int64
	CurrentTurn     int
	Variant         string
	ModelContextLimit int
}

// NewSessionState returns a freshly initialized state for sessionID, the
// same shape a compaction reset (§3) or a brand-new session produces.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		Prune:          PruneState{Tools: map[string]int{}, Messages: map[string]int{}},
		ToolParameters: map[string]*ToolParameter{},
		MessageIDs: IDRegistry{
			ByRawID: map[string]string{},
			ByRef:   map[string]string{},
		},
	}
}

// PendingManualTrigger is carried across event boundaries between the
// model invoking the compress/prune meta-tool and the router acting on it.
type PendingManualTrigger struct {
	SessionID string
	Prompt    string
}

// PruneState holds the two finite mappings of pruned entries to the
// token credit earned by pruning them.
type PruneState struct {
	Tools    map[string]int `json:"tools"`
	Messages map[string]int `json:"messages"`
}

// Stats tracks cumulative pruning token credit. Invariant:
// PruneTokenCounter <= TotalPruneTokens.
type Stats struct {
	PruneTokenCounter int `json:"pruneTokenCounter"`
	TotalPruneTokens  int `json:"totalPruneTokens"`
}

// ToolStatus mirrors a tool call's lifecycle as recorded by the tool
// parameter cache (C5), independent of the richer ToolState the host's
// part carries.
type ToolStatus string

const (
	ToolParamPending   ToolStatus = "pending"
	ToolParamCompleted ToolStatus = "completed"
	ToolParamError     ToolStatus = "error"
)

// ToolParameter is one recorded tool invocation (§4.5).
type ToolParameter struct {
	Tool       string
	Parameters map[string]any
	Status     ToolStatus
	Error      string
	Turn       int
	TokenCount *int
}

// IDRegistry is the stable message/block ref bookkeeping (§4.2). ByRawID
// and ByRef are mutual inverses; NextRef is the next message ref number
// to allocate.
type IDRegistry struct {
	ByRawID map[string]string `json:"byRawId"`
	ByRef   map[string]string `json:"byRef"`
	NextRef int               `json:"nextRef"`
}
