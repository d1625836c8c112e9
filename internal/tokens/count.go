// Package tokens approximates the token cost of conversation content. It
// is pure and deterministic (§4.1): the same input always yields the same
// count, and nothing here touches ambient state.
package tokens

import (
	"encoding/json"

	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// BytesPerToken is the fixed heuristic the engine uses everywhere it
// needs to turn a byte count into a token estimate. The teacher's own
// estimateTokens (internal/session/compact.go) used the same ~4
// bytes-per-token ratio; this package just gives it one authoritative
// home instead of redefining it next to every caller. No attempt is made
// to match a specific vendor tokenizer (§9 open question) — the spec's
// accuracy bar is ±15% of the host's own counter, which a flat ratio
// clears for ordinary English and code text.
const BytesPerToken = 4

// CountString estimates the token cost of a raw string.
func CountString(s string) int {
	return (len(s) + BytesPerToken - 1) / BytesPerToken
}

// CountValueTokens serializes v to canonical JSON and estimates its
// token cost from the resulting byte length.
func CountValueTokens(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return CountString(string(data))
}

// CountMessageTextTokens sums the token estimate of every part of a
// message: text and reasoning bodies, tool input and output, and file
// metadata. Parts the engine doesn't specifically account for (step
// markers, compaction requests, and other opaque variants) contribute
// nothing, matching the contract in §4.1.
func CountMessageTextTokens(msg *dcptypes.Message) int {
	total := 0
	for _, part := range msg.Parts {
		total += CountPartTokens(part)
	}
	return total
}

// CountPartTokens estimates the token cost of a single part.
func CountPartTokens(part dcptypes.Part) int {
	switch p := part.(type) {
	case *dcptypes.TextPart:
		return CountString(p.Text)
	case *dcptypes.ReasoningPart:
		return CountString(p.Text)
	case *dcptypes.ToolPart:
		total := CountValueTokens(p.State.Input)
		if p.State.Output != nil {
			total += CountString(*p.State.Output)
		}
		if p.State.Error != nil {
			total += CountString(*p.State.Error)
		}
		return total
	case *dcptypes.FilePart:
		return CountString(p.Filename) + CountString(p.MediaType) + CountString(p.URL)
	default:
		return 0
	}
}
