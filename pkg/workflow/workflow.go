// Package workflow implements the human-in-the-loop ticket mutation flow:
// collect the fields needed to render a proposal, suspend for the caller's
// decision, then apply or cancel the mutation.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"ticketpilot/pkg/graph"
	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
	"ticketpilot/pkg/ticket"
)

// Step names within the flow.
const (
	StepCollect = "collect_details"
	StepReview  = "suspend_for_review"
	StepApply   = "apply"
	StepCancel  = "cancel"
)

// Tool names the model uses to request mutations.
const (
	ToolCreateTicket = "create_ticket"
	ToolUpdateTicket = "update_ticket"
	ToolDeleteTicket = "delete_ticket"
)

// Routing verdicts parked on Thread.Status between review and the guarded
// edges out of it.
const (
	StatusApply  = "mutation_apply"
	StatusCancel = "mutation_cancel"
)

// ClientProvider resolves a tracker client for a thread's owner.
type ClientProvider interface {
	ClientFor(ctx context.Context, userID, projectID string) (ticket.Client, error)
}

// Workflow wires the mutation steps and their edges into a graph.
type Workflow struct {
	clients ClientProvider
	logger  *logx.Logger
}

// New creates a mutation workflow backed by the given client provider.
func New(clients ClientProvider) *Workflow {
	return &Workflow{
		clients: clients,
		logger:  logx.NewLogger("workflow"),
	}
}

// Register adds the flow's steps and edges to a graph. apply and cancel are
// terminal.
func (w *Workflow) Register(g *graph.Graph) {
	g.AddStep(graph.StepFunc{StepName: StepCollect, Fn: w.collect})
	g.AddStep(graph.StepFunc{StepName: StepReview, Fn: w.review})
	g.AddStep(graph.StepFunc{StepName: StepApply, Fn: w.apply})
	g.AddStep(graph.StepFunc{StepName: StepCancel, Fn: w.cancel})
	g.MarkTerminal(StepApply)
	g.MarkTerminal(StepCancel)

	g.AddEdge(StepCollect, StepReview)
	g.AddConditionalEdge(StepReview, StepApply, func(th *proto.Thread) bool {
		return th.Status == StatusApply
	})
	g.AddConditionalEdge(StepReview, StepCancel, func(th *proto.Thread) bool {
		return th.Status == StatusCancel
	})
}

// IsMutationTool reports whether a tool name belongs to this flow.
func IsMutationTool(name string) bool {
	switch name {
	case ToolCreateTicket, ToolUpdateTicket, ToolDeleteTicket:
		return true
	}
	return false
}

// pendingInvocation finds the mutation tool call awaiting a result.
func pendingInvocation(th *proto.Thread) *proto.Message {
	for i := len(th.Messages) - 1; i >= 0; i-- {
		msg := &th.Messages[i]
		if msg.ResultFor != "" {
			return nil
		}
		if msg.HasInvocation() && IsMutationTool(msg.Invocation.Name) {
			return msg
		}
	}
	return nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argFields(args map[string]any) map[string]string {
	fields := make(map[string]string)
	if raw, ok := args["fields"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
	}
	// Create calls may carry top-level field arguments.
	for _, k := range []string{"summary", "description", "type", "assignee"} {
		if v := argString(args, k); v != "" && fields[k] == "" {
			fields[k] = v
		}
	}
	return fields
}

// collect fetches the minimal fields needed to render a human-readable
// proposal and parks it on the thread for the review step.
func (w *Workflow) collect(ctx context.Context, th *proto.Thread, _ graph.EmitFunc) graph.StepResult {
	inv := pendingInvocation(th)
	if inv == nil {
		return graph.Failf("collect_details: thread %s has no pending mutation tool call", th.ID)
	}

	proposal, err := w.buildProposal(ctx, th, inv.Invocation)
	if err != nil {
		return graph.Fail(fmt.Errorf("collect_details: %w", err))
	}

	token := proto.NewSuspensionToken(inv.Invocation.ID, *proposal)
	th.Pending = &token
	w.logger.WithThread(th.ID).Info("proposal ready: %s", proposal.Summary)
	return graph.Continue()
}

func (w *Workflow) buildProposal(ctx context.Context, th *proto.Thread, inv *proto.ToolInvocation) (*proto.Proposal, error) {
	ticketID := argString(inv.Args, "ticket_id")
	fields := argFields(inv.Args)

	switch inv.Name {
	case ToolCreateTicket:
		summary := fields["summary"]
		if summary == "" {
			return nil, fmt.Errorf("create proposal requires a summary")
		}
		return &proto.Proposal{
			Action:  proto.ActionCreate,
			Fields:  fields,
			Summary: fmt.Sprintf("Create new ticket: %s", summary),
		}, nil

	case ToolUpdateTicket, ToolDeleteTicket:
		if ticketID == "" {
			return nil, fmt.Errorf("%s proposal requires a ticket_id", inv.Name)
		}
		client, err := w.clients.ClientFor(ctx, th.UserID, th.ProjectID)
		if err != nil {
			return nil, err
		}
		current, err := client.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, fmt.Errorf("fetch ticket %s: %w", ticketID, err)
		}

		if inv.Name == ToolDeleteTicket {
			return &proto.Proposal{
				Action:   proto.ActionDelete,
				TicketID: ticketID,
				Fields:   map[string]string{"summary": current.Summary},
				Summary:  fmt.Sprintf("Delete ticket %s (%s)", ticketID, current.Summary),
			}, nil
		}

		var changes []string
		for k, v := range fields {
			changes = append(changes, fmt.Sprintf("%s=%q", k, v))
		}
		return &proto.Proposal{
			Action:   proto.ActionEdit,
			TicketID: ticketID,
			Fields:   fields,
			Summary:  fmt.Sprintf("Update ticket %s (%s): %s", ticketID, current.Summary, strings.Join(changes, ", ")),
		}, nil

	default:
		return nil, fmt.Errorf("unknown mutation tool %q", inv.Name)
	}
}

// review suspends until the caller answers, then routes the decision. An
// invalid update target is reported as an error event and the workflow
// re-suspends with the original proposal, staying resumable.
func (w *Workflow) review(ctx context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	if th.Pending == nil {
		return graph.Failf("suspend_for_review: thread %s has no pending proposal", th.ID)
	}

	if th.Decision == nil {
		return graph.Suspend(*th.Pending)
	}

	decision := *th.Decision
	switch decision.Action {
	case proto.DecisionContinue:
		th.Decision = nil
		th.Status = StatusApply

	case proto.DecisionUpdate:
		th.Decision = nil
		if err := w.validateTarget(ctx, th, decision.TicketID); err != nil {
			emit(graph.Event{
				Kind:  graph.EventError,
				Step:  StepReview,
				Error: fmt.Sprintf("cannot apply to ticket %s: %v", decision.TicketID, err),
			})
			return graph.Suspend(*th.Pending)
		}
		th.Pending.Proposal.TicketID = decision.TicketID
		th.Status = StatusApply

	case proto.DecisionFeedback:
		// cancel reads the feedback text; the decision is cleared there.
		th.Status = StatusCancel

	default:
		th.Decision = nil
		emit(graph.Event{
			Kind:  graph.EventError,
			Step:  StepReview,
			Error: fmt.Sprintf("unknown decision action %q", decision.Action),
		})
		return graph.Suspend(*th.Pending)
	}
	return graph.Continue()
}

func (w *Workflow) validateTarget(ctx context.Context, th *proto.Thread, ticketID string) error {
	if ticketID == "" {
		return fmt.Errorf("no ticket id supplied")
	}
	client, err := w.clients.ClientFor(ctx, th.UserID, th.ProjectID)
	if err != nil {
		return err
	}
	if _, err := client.GetTicket(ctx, ticketID); err != nil {
		return err
	}
	return nil
}

// apply executes the approved mutation and appends the correlated result
// message. Failures are recorded on the thread as last_error by the runner.
func (w *Workflow) apply(ctx context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	if th.Pending == nil {
		return graph.Failf("apply: thread %s has no pending proposal", th.ID)
	}
	token := *th.Pending
	proposal := token.Proposal

	client, err := w.clients.ClientFor(ctx, th.UserID, th.ProjectID)
	if err != nil {
		return graph.Fail(err)
	}

	var outcome string
	switch proposal.Action {
	case proto.ActionCreate:
		created, err := client.CreateTicket(ctx, proposal.Fields)
		if err != nil {
			return graph.Fail(fmt.Errorf("create ticket: %w", err))
		}
		outcome = fmt.Sprintf("Successfully created ticket %s", created.ID)

	case proto.ActionEdit:
		updated, err := client.UpdateTicket(ctx, proposal.TicketID, proposal.Fields)
		if err != nil {
			return graph.Fail(fmt.Errorf("update ticket %s: %w", proposal.TicketID, err))
		}
		outcome = fmt.Sprintf("Successfully updated ticket %s", updated.ID)

	case proto.ActionDelete:
		if err := client.DeleteTicket(ctx, proposal.TicketID); err != nil {
			return graph.Fail(fmt.Errorf("delete ticket %s: %w", proposal.TicketID, err))
		}
		outcome = fmt.Sprintf("Successfully deleted ticket %s", proposal.TicketID)

	default:
		return graph.Failf("apply: unknown mutation action %q", proposal.Action)
	}

	th.Append(proto.NewToolResultMessage(token.InvocationID, outcome))
	th.Pending = nil
	th.Decision = nil
	th.Status = ""
	th.LastError = ""
	w.logger.WithThread(th.ID).Info("%s", outcome)
	emit(graph.Event{Kind: graph.EventToken, Step: StepApply, Content: outcome})
	return graph.Continue()
}

// cancel ends the flow without mutating anything, echoing the caller's
// feedback in the result message.
func (w *Workflow) cancel(_ context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	if th.Pending == nil {
		return graph.Failf("cancel: thread %s has no pending proposal", th.ID)
	}
	token := *th.Pending

	feedback := ""
	if th.Decision != nil {
		feedback = th.Decision.Feedback
	}
	outcome := "No changes made."
	if feedback != "" {
		outcome = fmt.Sprintf("No changes made. Feedback noted: %s", feedback)
	}

	th.Append(proto.NewToolResultMessage(token.InvocationID, outcome))
	th.Pending = nil
	th.Decision = nil
	th.Status = ""
	emit(graph.Event{Kind: graph.EventToken, Step: StepCancel, Content: outcome})
	return graph.Continue()
}
