// Package prune is the prune planner (C6): it decides which tool
// outputs and whole messages can be dropped from the outbound context,
// records the token credit earned, and hands the rewriter (C8) the
// formatted placeholder text for each.
package prune

import (
	"fmt"

	"github.com/sst/opencode-dynamic-context-pruning/internal/tokens"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// DefaultAgeThreshold is the K in "turn < currentTurn - K" (§4.6 rule 3):
// an entry must be more than this many turns old before it is eligible.
const DefaultAgeThreshold = 1

// Result is what runPrune reports back across the engine boundary (§6).
type Result struct {
	PrunedToolIDs    []string
	PrunedMessageIDs []string
	TokensSaved      int
}

// Plan applies the five scope rules in precedence order and mutates
// state's prune maps and stats in place. Calling it twice in a row over
// the same state and messages is a no-op the second time: every entry
// it would otherwise add is already present in prune.tools/prune.messages.
func Plan(state *dcptypes.SessionState, messages []*dcptypes.Message, ageThreshold int) Result {
	var result Result

	if state.IsSubAgent { // rule 1
		return result
	}
	if state.ManualMode && state.PendingManualTrigger == nil { // rule 2
		return result
	}

	protectedAnchors := make(map[string]bool, len(state.CompressSummaries))
	for _, s := range state.CompressSummaries {
		protectedAnchors[s.AnchorMessageID] = true
	}

	for _, callID := range state.ToolIDList {
		entry := state.ToolParameters[callID]
		if entry == nil {
			continue
		}
		if _, already := state.Prune.Tools[callID]; already {
			continue
		}
		if entry.Turn >= state.CurrentTurn-ageThreshold { // rule 3
			continue
		}
		if entry.Status == dcptypes.ToolParamError { // rule 5
			continue
		}

		saved := 0
		if entry.TokenCount != nil {
			saved = *entry.TokenCount
		}
		state.Prune.Tools[callID] = saved
		state.Stats.PruneTokenCounter += saved
		state.Stats.TotalPruneTokens += saved
		result.PrunedToolIDs = append(result.PrunedToolIDs, callID)
		result.TokensSaved += saved
	}

	for _, m := range messages {
		if _, already := state.Prune.Messages[m.ID]; already {
			continue
		}
		if protectedAnchors[m.ID] { // rule 4
			continue
		}
		if !messageFullyRedacted(m, state) {
			continue
		}

		saved := tokens.CountMessageTextTokens(m)
		state.Prune.Messages[m.ID] = saved
		state.Stats.PruneTokenCounter += saved
		state.Stats.TotalPruneTokens += saved
		result.PrunedMessageIDs = append(result.PrunedMessageIDs, m.ID)
		result.TokensSaved += saved
	}

	return result
}

// messageFullyRedacted reports whether every part of m is either
// synthetic/ignored or a tool call already recorded in prune.tools, the
// "entirely redacted" condition for whole-message pruning (§4.6).
func messageFullyRedacted(m *dcptypes.Message, state *dcptypes.SessionState) bool {
	if len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if p.Ignored() {
			continue
		}
		if tp, ok := p.(*dcptypes.ToolPart); ok {
			if _, pruned := state.Prune.Tools[tp.CallID]; pruned {
				continue
			}
		}
		return false
	}
	return true
}

// ToolPlaceholder is the compact string that replaces a pruned tool
// part's output in the outbound view (§4.6).
func ToolPlaceholder(tool, ref string, savedTokens int) string {
	return fmt.Sprintf("[pruned: %s call %s, saved ~%d tokens]", tool, ref, savedTokens)
}

// MessagePlaceholder is the one-line placeholder that replaces a fully
// redacted message's body, carrying its message ref (§4.6).
func MessagePlaceholder(ref string, savedTokens int) string {
	return fmt.Sprintf("[pruned message %s, saved ~%d tokens]", ref, savedTokens)
}
