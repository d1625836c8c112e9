package dstore

import (
	"strings"

	"github.com/sst/opencode-dynamic-context-pruning/internal/tokens"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// RecordToolPart folds one observation of a tool call's evolving state
// into state's tool parameter cache (§4.5), keyed by CallID. Entries are
// never removed here; eviction is a side effect of compaction reset or
// of the prune planner.
func RecordToolPart(state *dcptypes.SessionState, part *dcptypes.ToolPart) {
	entry, ok := state.ToolParameters[part.CallID]
	if !ok {
		entry = &dcptypes.ToolParameter{
			Tool: part.Tool,
			Turn: state.CurrentTurn,
		}
		state.ToolParameters[part.CallID] = entry
		state.ToolIDList = append(state.ToolIDList, part.CallID)
	}

	switch part.State.Status {
	case dcptypes.ToolPending, dcptypes.ToolRunning:
		entry.Status = dcptypes.ToolParamPending
		entry.Parameters = extendParameters(entry.Parameters, part.State.Input)
		count := tokens.CountValueTokens(entry.Parameters)
		entry.TokenCount = &count

	case dcptypes.ToolCompleted:
		entry.Status = dcptypes.ToolParamCompleted
		entry.Parameters = extendParameters(entry.Parameters, part.State.Input)
		count := tokens.CountValueTokens(entry.Parameters)
		if part.State.Output != nil {
			count += tokens.CountString(*part.State.Output)
		}
		entry.TokenCount = &count

	case dcptypes.ToolError:
		entry.Status = dcptypes.ToolParamError
		if part.State.Error != nil {
			entry.Error = *part.State.Error
		}
	}
}

// extendParameters implements the "prefix-extend-only when possible,
// else replace" update rule (§4.5): if every existing string-valued
// field of prev is a prefix of the same field in next (the common shape
// for streamed tool-input deltas), keep next as the extension; otherwise
// next simply replaces prev wholesale.
func extendParameters(prev, next map[string]any) map[string]any {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}

	for key, prevVal := range prev {
		prevStr, ok := prevVal.(string)
		if !ok {
			continue
		}
		nextStr, ok := next[key].(string)
		if !ok || !strings.HasPrefix(nextStr, prevStr) {
			return next // not a clean extension, replace wholesale
		}
	}
	return next
}
