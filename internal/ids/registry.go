// Package ids allocates and resolves the injected reference IDs (C2) that
// stay stable across rewrites: message refs like m0001 and block refs
// like b1. The engine injects these into the prompt the host sees so the
// model can cite prior turns and compressed ranges without ever learning
// the host's own raw IDs.
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

// messageRefPattern matches a zero-padded message ref, e.g. m0001.
var messageRefPattern = regexp.MustCompile(`^m(\d{4,})$`)

// blockRefPattern matches a block ref, e.g. b1, b12.
var blockRefPattern = regexp.MustCompile(`^b(\d+)$`)

// boundaryTagPattern strips a surrounding <dcp-message-id>...</dcp-message-id>
// wrapper, which the model sometimes echoes back verbatim around a ref.
var boundaryTagPattern = regexp.MustCompile(`^<dcp-message-id>(.*)</dcp-message-id>$`)

// Kind distinguishes the two ref shapes a boundary ID can take.
type Kind int

const (
	KindMessage Kind = iota
	KindBlock
)

// Boundary is a parsed reference, either to a message or to a compressed
// block.
type Boundary struct {
	Kind Kind
	Ref  string
}

// AssignMessageRef returns the ref for rawMessageID, allocating a new one
// (mNNNN, zero-padded to 4 digits) if this is the first time the raw ID
// has been seen. Idempotent: calling it twice with the same raw ID
// returns the same ref.
func AssignMessageRef(reg *dcptypes.IDRegistry, rawMessageID string) string {
	if ref, ok := reg.ByRawID[rawMessageID]; ok {
		return ref
	}

	ref := fmt.Sprintf("m%04d", reg.NextRef)
	reg.NextRef++
	reg.ByRawID[rawMessageID] = ref
	reg.ByRef[ref] = rawMessageID
	return ref
}

// LookupRawID resolves a message ref back to the host's raw message ID.
func LookupRawID(reg *dcptypes.IDRegistry, ref string) (string, bool) {
	rawID, ok := reg.ByRef[ref]
	return rawID, ok
}

// ParseBoundaryID accepts either shape a compress call's startId/endId
// may take — mNNNN or bN — trimming a surrounding dcp-message-id tag
// first. It returns false if s matches neither shape.
func ParseBoundaryID(s string) (Boundary, bool) {
	s = strings.TrimSpace(s)
	if m := boundaryTagPattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	if messageRefPattern.MatchString(s) {
		return Boundary{Kind: KindMessage, Ref: s}, true
	}
	if blockRefPattern.MatchString(s) {
		return Boundary{Kind: KindBlock, Ref: s}, true
	}
	return Boundary{}, false
}

// AllocateBlockID returns one greater than the current maximum block ID
// among existingSummaries, or 1 if there are none.
func AllocateBlockID(existingSummaries []dcptypes.CompressSummary) int {
	max := 0
	for _, s := range existingSummaries {
		if s.BlockID > max {
			max = s.BlockID
		}
	}
	return max + 1
}

// SuggestNearestRef finds the known ref closest to want by Levenshtein
// edit distance, for use in error messages when a compress call cites a
// boundary ID that doesn't resolve (S3). Returns "" if known is empty.
func SuggestNearestRef(want string, known []string) string {
	best := ""
	bestDist := -1
	for _, candidate := range known {
		dist := levenshtein.ComputeDistance(want, candidate)
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			best = candidate
		}
	}
	return best
}

// knownRefs is a small helper exposed for callers that only have a
// registry and need the full set of refs for SuggestNearestRef.
func knownRefs(reg *dcptypes.IDRegistry) []string {
	refs := make([]string, 0, len(reg.ByRef))
	for ref := range reg.ByRef {
		refs = append(refs, ref)
	}
	return refs
}

// KnownRefs returns every message ref currently assigned in reg, in no
// particular order.
func KnownRefs(reg *dcptypes.IDRegistry) []string {
	return knownRefs(reg)
}

// ParseInt is a small helper used by callers that need the numeric ref
// value (e.g. to compare ordering) rather than the formatted string.
func ParseInt(ref string) (int, error) {
	if m := messageRefPattern.FindStringSubmatch(ref); m != nil {
		return strconv.Atoi(m[1])
	}
	if m := blockRefPattern.FindStringSubmatch(ref); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, fmt.Errorf("ids: not a valid ref: %q", ref)
}
