// Package compress implements the compression planner (C7): the
// `compress` meta-tool the model itself may call to roll up a range of
// the conversation into a single summary block.
package compress

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sst/opencode-dynamic-context-pruning/internal/ids"
	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/sst/opencode-dynamic-context-pruning/internal/tokens"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// blockHeader and the footer pattern delimit a compressed block's body
// so a later compress call can strip them back out when splicing one
// summary inside another (§4.7 step 7).
const blockHeader = "[Compressed conversation section]"

var (
	parenPlaceholder = regexp.MustCompile(`\(b(\d+)\)`)
	bracePlaceholder = regexp.MustCompile(`\{block_(\d+)\}`)
	footerPattern     = regexp.MustCompile(`<dcp-message-id>b\d+</dcp-message-id>\s*$`)
)

// Input is the validated argument shape for the compress meta-tool
// (§4.7).
type Input struct {
	Topic         string
	StartID       string
	EndID         string
	Summary       string
}

// Result is returned across the engine boundary (§6 runCompress).
type Result struct {
	BlockID          int
	ConsumedBlockIDs []int
	PrunedCount      int
}

// boundary is a resolved reference into the raw message timeline.
type boundary struct {
	kind            ids.Kind
	rawIndex        int
	messageID       string // set when kind == KindMessage
	blockID         int    // set when kind == KindBlock
	anchorMessageID string // set when kind == KindBlock
}

// Run validates in against state and messages, then applies the
// compression: it mutates state's compressSummaries and prune maps and
// persists the result via store. messages must be in chronological
// order, oldest first, exactly as the host reports them.
func Run(ctx context.Context, store *persist.Store, state *dcptypes.SessionState, messages []*dcptypes.Message, in Input) (Result, error) {
	var issues []error
	if strings.TrimSpace(in.Topic) == "" {
		issues = append(issues, errors.New("topic must not be empty"))
	}
	if strings.TrimSpace(in.Summary) == "" {
		issues = append(issues, errors.New("content.summary must not be empty"))
	}

	lookup := buildLookup(messages, state)
	knownRefs := make([]string, 0, len(lookup))
	for ref := range lookup {
		knownRefs = append(knownRefs, ref)
	}

	start, startOK := resolveBoundary(lookup, knownRefs, "startId", in.StartID, &issues)
	end, endOK := resolveBoundary(lookup, knownRefs, "endId", in.EndID, &issues)
	if len(issues) > 0 {
		return Result{}, errors.Join(issues...)
	}
	if !startOK || !endOK {
		return Result{}, errors.Join(issues...)
	}
	if start.rawIndex > end.rawIndex {
		return Result{}, fmt.Errorf("content.startId must not come after content.endId")
	}
	if start.kind == ids.KindBlock && end.kind == ids.KindBlock && start.rawIndex == end.rawIndex {
		return Result{}, errors.New("range contains only compressed blocks, no raw content to compress")
	}

	walk := walkRange(messages, state, start.rawIndex, end.rawIndex)

	boundaryBlocks := map[int]bool{}
	if start.kind == ids.KindBlock {
		boundaryBlocks[start.blockID] = true
	}
	if end.kind == ids.KindBlock {
		boundaryBlocks[end.blockID] = true
	}

	placeholders, dupes := parsePlaceholders(in.Summary)
	if len(dupes) > 0 {
		issues = append(issues, fmt.Errorf("duplicate block placeholders: %s", joinInts(dupes)))
	}

	requiredSet := map[int]bool{}
	for _, id := range walk.requiredBlockIDs {
		requiredSet[id] = true
	}
	placeholderSet := map[int]bool{}
	for _, id := range placeholders {
		placeholderSet[id] = true
	}

	var missing []int
	for id := range requiredSet {
		if boundaryBlocks[id] {
			continue // auto-injected
		}
		if !placeholderSet[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		issues = append(issues, fmt.Errorf("missing placeholders for required block(s): %s", joinInts(missing)))
	}

	var outOfRange []int
	for id := range placeholderSet {
		if !requiredSet[id] {
			outOfRange = append(outOfRange, id)
		}
	}
	if len(outOfRange) > 0 {
		sort.Ints(outOfRange)
		issues = append(issues, fmt.Errorf("invalid block placeholders for selected range: %s", joinInts(outOfRange)))
	}

	if len(issues) > 0 {
		return Result{}, errors.Join(issues...)
	}

	consumed := make(map[int]dcptypes.CompressSummary, len(requiredSet))
	for _, s := range state.CompressSummaries {
		if requiredSet[s.BlockID] {
			consumed[s.BlockID] = s
		}
	}

	body := spliceSummary(in.Summary, consumed)
	newBlockID := ids.AllocateBlockID(state.CompressSummaries)
	finalText := fmt.Sprintf("%s\n%s\n<dcp-message-id>b%d</dcp-message-id>", blockHeader, body, newBlockID)

	var anchorMessageID string
	if start.kind == ids.KindBlock {
		anchorMessageID = start.anchorMessageID
	} else {
		anchorMessageID = start.messageID
	}

	var remaining []dcptypes.CompressSummary
	for _, s := range state.CompressSummaries {
		if requiredSet[s.BlockID] {
			continue
		}
		remaining = append(remaining, s)
	}
	remaining = append(remaining, dcptypes.CompressSummary{
		BlockID:         newBlockID,
		AnchorMessageID: anchorMessageID,
		Summary:         finalText,
	})
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].BlockID < remaining[j].BlockID })
	state.CompressSummaries = remaining

	for _, msgID := range walk.messageIDs {
		if _, already := state.Prune.Messages[msgID]; !already {
			state.Prune.Messages[msgID] = walk.messageTokens[msgID]
			state.Stats.PruneTokenCounter += walk.messageTokens[msgID]
			state.Stats.TotalPruneTokens += walk.messageTokens[msgID]
		}
	}
	for _, toolID := range walk.toolIDs {
		if _, already := state.Prune.Tools[toolID]; !already {
			state.Prune.Tools[toolID] = walk.toolTokens[toolID]
			state.Stats.PruneTokenCounter += walk.toolTokens[toolID]
			state.Stats.TotalPruneTokens += walk.toolTokens[toolID]
		}
	}

	consumedIDs := make([]int, 0, len(requiredSet))
	for id := range requiredSet {
		consumedIDs = append(consumedIDs, id)
	}
	sort.Ints(consumedIDs)

	result := Result{
		BlockID:          newBlockID,
		ConsumedBlockIDs: consumedIDs,
		PrunedCount:      len(walk.messageIDs) + len(walk.toolIDs),
	}

	if store != nil {
		if err := store.Save(ctx, state); err != nil {
			// persistence failure is a logged warning, not a tool error (§7)
			logging.Warn().Err(err).Str("sessionID", state.SessionID).Msg("compress: persist failed")
		}
	}
	return result, nil
}

// buildLookup maps every currently visible ref to its boundary. An
// anchor message is only reachable by its block ref (bN): the rewriter
// replaces its body with the compressed summary, so its own mNNNN ref is
// no longer what the model sees at that position.
func buildLookup(messages []*dcptypes.Message, state *dcptypes.SessionState) map[string]boundary {
	anchorToSummary := make(map[string]dcptypes.CompressSummary, len(state.CompressSummaries))
	for _, s := range state.CompressSummaries {
		anchorToSummary[s.AnchorMessageID] = s
	}

	lookup := make(map[string]boundary)
	for idx, m := range messages {
		if m.IsIgnored() {
			continue
		}
		if summary, isAnchor := anchorToSummary[m.ID]; isAnchor {
			ref := fmt.Sprintf("b%d", summary.BlockID)
			lookup[ref] = boundary{kind: ids.KindBlock, rawIndex: idx, blockID: summary.BlockID, anchorMessageID: m.ID}
			continue
		}
		ref, ok := state.MessageIDs.ByRawID[m.ID]
		if !ok {
			continue
		}
		lookup[ref] = boundary{kind: ids.KindMessage, rawIndex: idx, messageID: m.ID}
	}
	return lookup
}

func resolveBoundary(lookup map[string]boundary, knownRefs []string, field, raw string, issues *[]error) (boundary, bool) {
	parsed, ok := ids.ParseBoundaryID(raw)
	if !ok {
		*issues = append(*issues, fmt.Errorf("%q is not a valid message or block reference", raw))
		return boundary{}, false
	}
	b, ok := lookup[parsed.Ref]
	if !ok {
		suggestion := ids.SuggestNearestRef(parsed.Ref, knownRefs)
		if suggestion != "" {
			*issues = append(*issues, fmt.Errorf("%s %s is not available in the current conversation context (did you mean %s?)", field, parsed.Ref, suggestion))
		} else {
			*issues = append(*issues, fmt.Errorf("%s %s is not available in the current conversation context", field, parsed.Ref))
		}
		return boundary{}, false
	}
	return b, true
}

// walkOutcome is what walking [start, end] over the raw message
// timeline collects (§4.7 step 4).
type walkOutcome struct {
	messageIDs       []string
	messageTokens    map[string]int
	toolIDs          []string
	toolTokens       map[string]int
	requiredBlockIDs []int
}

func walkRange(messages []*dcptypes.Message, state *dcptypes.SessionState, start, end int) walkOutcome {
	anchorToSummary := make(map[string]dcptypes.CompressSummary, len(state.CompressSummaries))
	for _, s := range state.CompressSummaries {
		anchorToSummary[s.AnchorMessageID] = s
	}

	out := walkOutcome{
		messageTokens: map[string]int{},
		toolTokens:    map[string]int{},
	}
	seenBlocks := map[int]bool{}

	for idx := start; idx <= end; idx++ {
		m := messages[idx]
		out.messageIDs = append(out.messageIDs, m.ID)
		out.messageTokens[m.ID] = tokens.CountMessageTextTokens(m)

		for _, p := range m.Parts {
			if tp, ok := p.(*dcptypes.ToolPart); ok {
				out.toolIDs = append(out.toolIDs, tp.CallID)
				out.toolTokens[tp.CallID] = tokens.CountPartTokens(tp)
			}
		}

		if summary, ok := anchorToSummary[m.ID]; ok && !seenBlocks[summary.BlockID] {
			seenBlocks[summary.BlockID] = true
			out.requiredBlockIDs = append(out.requiredBlockIDs, summary.BlockID)
		}
	}
	return out
}

// parsePlaceholders extracts every (bN) / {block_N} placeholder from
// summary, in order of appearance, and separately reports which IDs
// occurred more than once.
func parsePlaceholders(summary string) (ordered []int, duplicates []int) {
	seen := map[int]int{}
	record := func(n int) {
		ordered = append(ordered, n)
		seen[n]++
	}
	for _, m := range parenPlaceholder.FindAllStringSubmatch(summary, -1) {
		n, _ := strconv.Atoi(m[1])
		record(n)
	}
	for _, m := range bracePlaceholder.FindAllStringSubmatch(summary, -1) {
		n, _ := strconv.Atoi(m[1])
		record(n)
	}
	for n, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, n)
		}
	}
	sort.Ints(duplicates)
	return ordered, duplicates
}

// spliceSummary replaces every placeholder in template with the
// referenced block's stripped body (§4.7 step 7). Placeholders whose
// block isn't in consumed are left untouched (already reported as an
// issue upstream).
func spliceSummary(template string, consumed map[int]dcptypes.CompressSummary) string {
	replace := func(id int) (string, bool) {
		cs, ok := consumed[id]
		if !ok {
			return "", false
		}
		return StripHeaderFooter(cs.Summary), true
	}

	result := parenPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		sub := parenPlaceholder.FindStringSubmatch(match)
		n, _ := strconv.Atoi(sub[1])
		if body, ok := replace(n); ok {
			return body
		}
		return match
	})
	result = bracePlaceholder.ReplaceAllStringFunc(result, func(match string) string {
		sub := bracePlaceholder.FindStringSubmatch(match)
		n, _ := strconv.Atoi(sub[1])
		if body, ok := replace(n); ok {
			return body
		}
		return match
	})
	return result
}

func StripHeaderFooter(s string) string {
	s = strings.TrimPrefix(s, blockHeader)
	s = strings.TrimSpace(s)
	s = footerPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
