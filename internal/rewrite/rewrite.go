// Package rewrite is the message rewriter (C8): it produces the final
// outbound message list the host sends to the model from the raw
// message list it received, without ever mutating the raw objects.
package rewrite

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sst/opencode-dynamic-context-pruning/internal/compress"
	"github.com/sst/opencode-dynamic-context-pruning/internal/ids"
	"github.com/sst/opencode-dynamic-context-pruning/internal/prune"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// Message is one entry of the rewritten outbound sequence: the
// injected reference tag plus the (possibly synthesized, possibly
// redacted) message content.
type Message struct {
	Tag     string
	Content *dcptypes.Message
}

// Run walks raw, oldest to newest, and produces the outbound sequence
// (§4.8). raw is never modified; every returned Message.Content is a
// fresh value.
func Run(state *dcptypes.SessionState, raw []*dcptypes.Message) []Message {
	anchorToSummary := make(map[string]dcptypes.CompressSummary, len(state.CompressSummaries))
	for _, s := range state.CompressSummaries {
		anchorToSummary[s.AnchorMessageID] = s
	}

	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		if m.IsIgnored() { // step 1
			continue
		}

		if summary, isAnchor := anchorToSummary[m.ID]; isAnchor { // step 3
			out = append(out, Message{
				Tag:     fmt.Sprintf("<dcp-message-id>b%d</dcp-message-id>", summary.BlockID),
				Content: synthesizeBlockMessage(m, summary),
			})
			continue
		}

		ref := ids.AssignMessageRef(&state.MessageIDs, m.ID) // step 2
		out = append(out, Message{
			Tag:     fmt.Sprintf("<dcp-message-id>%s</dcp-message-id>", ref),
			Content: rewriteBody(m, state, ref),
		})
	}
	return out
}

// synthesizeBlockMessage replaces a compressed-anchor message with a
// single text part carrying the summary's stripped body.
func synthesizeBlockMessage(anchor *dcptypes.Message, summary dcptypes.CompressSummary) *dcptypes.Message {
	return &dcptypes.Message{
		ID:        anchor.ID,
		SessionID: anchor.SessionID,
		Role:      dcptypes.RoleAssistant,
		Time:      anchor.Time,
		Summary:   true,
		Parts: []dcptypes.Part{
			&dcptypes.TextPart{
				ID:        uuid.NewString(),
				SessionID: anchor.SessionID,
				MessageID: anchor.ID,
				Text:      compress.StripHeaderFooter(summary.Summary),
			},
		},
	}
}

// rewriteBody applies steps 4-6: a wholesale message replacement if the
// whole message was pruned, otherwise a part-by-part copy with pruned
// tool outputs swapped for their placeholder and synthetic/ignored parts
// passed through untouched.
func rewriteBody(m *dcptypes.Message, state *dcptypes.SessionState, ref string) *dcptypes.Message {
	if saved, ok := state.Prune.Messages[m.ID]; ok { // step 5
		return &dcptypes.Message{
			ID:        m.ID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Time:      m.Time,
			Parts: []dcptypes.Part{
				&dcptypes.TextPart{
					ID:        uuid.NewString(),
					SessionID: m.SessionID,
					MessageID: m.ID,
					Text:      prune.MessagePlaceholder(ref, saved),
				},
			},
		}
	}

	newParts := make([]dcptypes.Part, len(m.Parts))
	for i, p := range m.Parts {
		if p.Ignored() { // step 6
			newParts[i] = p
			continue
		}
		if tp, ok := p.(*dcptypes.ToolPart); ok {
			if saved, pruned := state.Prune.Tools[tp.CallID]; pruned { // step 4
				newParts[i] = redactToolOutput(tp, ref, saved)
				continue
			}
		}
		newParts[i] = p
	}

	clone := *m
	clone.Parts = newParts
	return &clone
}

// redactToolOutput returns a copy of tp with its input cleared and its
// output replaced by the compact placeholder text computed from the
// prune planner's credit (§4.6), tagged with the containing message's ref.
func redactToolOutput(tp *dcptypes.ToolPart, messageRef string, savedTokens int) dcptypes.Part {
	placeholder := prune.ToolPlaceholder(tp.Tool, messageRef, savedTokens)
	clone := *tp
	clone.State.Input = nil
	clone.State.Output = &placeholder
	return &clone
}
