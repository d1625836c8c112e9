package dcptypes

import "encoding/json"

// Part is a component of a message. Besides the variants the engine acts
// on directly (text, reasoning, tool, file), the host may attach several
// opaque variants (step-start, step-finish, patch, snapshot, agent, retry,
// compaction) the engine passes through untouched (§4.8 step 6).
type Part interface {
	PartType() string
	PartID() string
	// Ignored reports whether the host marked this part synthetic/ignored
	// (reminders, internal nudges). The rewriter and compression planner
	// both consult this; the engine never sets it itself.
	Ignored() bool
}

// PartTime holds optional start/end timestamps for a part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// meta is embedded in every part variant so the host can mark a part
// synthetic (machine-generated, e.g. a reminder) without the engine
// needing a type switch to find out.
type meta struct {
	Synthetic bool `json:"synthetic,omitempty"`
}

func (m meta) Ignored() bool { return m.Synthetic }

// TextPart is free-form text content.
type TextPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Text      string `json:"text"`
	Time      PartTime `json:"time,omitempty"`
	meta
}

func (p *TextPart) PartType() string { return "text" }
func (p *TextPart) PartID() string   { return p.ID }

// ReasoningPart is extended-thinking content the model produced.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
	meta
}

func (p *ReasoningPart) PartType() string { return "reasoning" }
func (p *ReasoningPart) PartID() string   { return p.ID }

// ToolCallStatus is the tagged-union discriminant for ToolState; the
// router and the tool parameter cache switch on it.
type ToolCallStatus string

const (
	ToolPending   ToolCallStatus = "pending"
	ToolRunning   ToolCallStatus = "running"
	ToolCompleted ToolCallStatus = "completed"
	ToolError     ToolCallStatus = "error"
)

// Attachment is a file produced by a completed tool call.
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// ToolState is the variant payload for a ToolPart. Which fields are
// meaningful depends on Status:
//
//	pending:   Input, Raw
//	running:   Input, Title, Time.Start
//	completed: Input, Output, Title, Time, Attachments
//	error:     Input, Error, Time
type ToolState struct {
	Status      ToolCallStatus `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Raw         string         `json:"raw,omitempty"`
	Title       *string        `json:"title,omitempty"`
	Output      *string        `json:"output,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Time        PartTime       `json:"time,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// ToolPart is a tool call and its evolving state.
type ToolPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
	Tool      string `json:"tool"`
	State     ToolState `json:"state"`
	meta
}

func (p *ToolPart) PartType() string { return "tool" }
func (p *ToolPart) PartID() string   { return p.ID }

// FilePart is a file attachment surfaced directly in the conversation
// (as opposed to one produced by a tool call, see Attachment).
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	meta
}

func (p *FilePart) PartType() string { return "file" }
func (p *FilePart) PartID() string   { return p.ID }

// StepStartPart marks the beginning of a model turn; the engine counts
// these (outside compacted messages) to derive SessionState.CurrentTurn.
type StepStartPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	meta
}

func (p *StepStartPart) PartType() string { return "step-start" }
func (p *StepStartPart) PartID() string   { return p.ID }

// StepFinishPart marks the end of a model turn.
type StepFinishPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	meta
}

func (p *StepFinishPart) PartType() string { return "step-finish" }
func (p *StepFinishPart) PartID() string   { return p.ID }

// CompactionPart is the model-invoked or automatic request to summarize
// and roll up prior history.
type CompactionPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Auto      bool   `json:"auto,omitempty"`
	meta
}

func (p *CompactionPart) PartType() string { return "compaction" }
func (p *CompactionPart) PartID() string   { return p.ID }

// OtherPart is a passthrough for part variants the engine never inspects
// (patch, snapshot, agent, retry, and anything not yet defined). Its raw
// JSON is preserved verbatim so the rewriter can emit it unchanged.
type OtherPart struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID"`
	MessageID string          `json:"messageID"`
	Type      string          `json:"type"`
	Raw       json.RawMessage `json:"-"`
	meta
}

func (p *OtherPart) PartType() string { return p.Type }
func (p *OtherPart) PartID() string   { return p.ID }

// rawPart is the minimal shape probed to discover the discriminant before
// unmarshaling into a concrete variant.
type rawPart struct {
	Type string `json:"type"`
}

// UnmarshalPart decodes a single JSON part into its concrete Part variant.
func UnmarshalPart(data []byte) (Part, error) {
	var raw rawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-start":
		var p StepStartPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-finish":
		var p StepFinishPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "compaction":
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p OtherPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.Type = raw.Type
		p.Raw = json.RawMessage(data)
		return &p, nil
	}
}
