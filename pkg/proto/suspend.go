package proto

// MutationAction identifies the kind of ticket mutation a proposal describes.
type MutationAction string

const (
	// ActionCreate proposes creating a new ticket.
	ActionCreate MutationAction = "create"
	// ActionEdit proposes changing fields on an existing ticket.
	ActionEdit MutationAction = "edit"
	// ActionDelete proposes deleting an existing ticket.
	ActionDelete MutationAction = "delete"
)

// Proposal is the human-reviewable description of a pending ticket mutation.
type Proposal struct {
	Action   MutationAction    `json:"action"`
	TicketID string            `json:"ticket_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Summary  string            `json:"summary"`
}

// DecisionAction is the caller's answer to a suspended workflow.
type DecisionAction string

const (
	// DecisionContinue applies the mutation against the original target.
	DecisionContinue DecisionAction = "continue"
	// DecisionUpdate applies the mutation against a corrected target id.
	DecisionUpdate DecisionAction = "update"
	// DecisionFeedback cancels the mutation and records the caller's feedback.
	DecisionFeedback DecisionAction = "feedback"
)

// ResumeDecision is the input that resumes a suspended workflow.
type ResumeDecision struct {
	Action   DecisionAction `json:"action"`
	TicketID string         `json:"ticket_id,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
}

// SuspensionToken is handed to the caller when the mutation workflow pauses
// for review. It is created at suspend time, consumed exactly once at resume
// time, and never outlives one checkpoint cycle.
type SuspensionToken struct {
	InvocationID string           `json:"invocation_id"`
	Proposal     Proposal         `json:"proposal"`
	Decisions    []DecisionAction `json:"decisions"`
}

// NewSuspensionToken builds a token for the given invocation and proposal with
// the three permitted decision shapes.
func NewSuspensionToken(invocationID string, proposal Proposal) SuspensionToken {
	return SuspensionToken{
		InvocationID: invocationID,
		Proposal:     proposal,
		Decisions:    []DecisionAction{DecisionContinue, DecisionUpdate, DecisionFeedback},
	}
}

// Clone returns a deep copy of the token.
func (s SuspensionToken) Clone() SuspensionToken {
	cp := s
	cp.Decisions = append([]DecisionAction(nil), s.Decisions...)
	if s.Proposal.Fields != nil {
		cp.Proposal.Fields = make(map[string]string, len(s.Proposal.Fields))
		for k, v := range s.Proposal.Fields {
			cp.Proposal.Fields[k] = v
		}
	}
	return cp
}
