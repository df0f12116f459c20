// Package agent assembles the orchestration engine: a graph of reasoning,
// retrieval, tool-use, and mutation steps executed against durable,
// per-user conversation threads.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/contextmgr"
	"ticketpilot/pkg/graph"
	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
	"ticketpilot/pkg/rag"
	"ticketpilot/pkg/repair"
	"ticketpilot/pkg/ticket"
	"ticketpilot/pkg/workflow"
)

// Engine-owned step names. Retrieval and mutation step names live in their
// packages.
const (
	StepReason   = "reason"
	StepRespond  = "respond"
	StepExecTool = "exec_tool"
)

// Routing verdicts the reason step parks on Thread.Status for its guarded
// edges.
const (
	routeAnswer   = "answer_ready"
	routeRetrieve = "route_retrieve"
	routeMutate   = "route_mutate"
	routeTool     = "route_tool"
)

// ErrNotSuspended is returned when resuming a thread that is not awaiting a
// decision.
var ErrNotSuspended = errors.New("thread is not awaiting a decision")

const systemPrompt = `You are a ticketing assistant for software teams. You
answer questions about projects and tickets and perform ticket changes on the
user's behalf. Use search_knowledge for questions answerable from project
documentation. Use the ticket tools to inspect the tracker. Ticket mutations
(create, update, delete) are proposals: the user reviews them before anything
happens, so never claim a change is done until you see its result. Answer
plainly and do not invent ticket data.`

// CheckpointStore is the durable thread seam. Implementations report
// missing or not-owned threads with an error satisfying
// errors.Is(err, store.ErrNotFound).
type CheckpointStore interface {
	Save(ctx context.Context, cp *proto.Checkpoint) error
	LoadOwned(ctx context.Context, threadID, userID string) (*proto.Checkpoint, error)
	List(ctx context.Context, userID string) ([]proto.ThreadSummary, error)
	Delete(ctx context.Context, threadID, userID string) error
}

// ExecMetrics tracks in-flight executions. Optional.
type ExecMetrics interface {
	ThreadStarted()
	ThreadFinished()
}

// Config tunes the engine.
type Config struct {
	// MaxRetries is the retrieval loop ceiling; <= 0 selects the default.
	MaxRetries int
	// HistoryBudget is the history token budget; <= 0 selects the default.
	HistoryBudget int
}

// Engine runs the orchestration graph over durable threads. Submissions and
// resumptions for the same thread are serialized; independent threads run in
// parallel.
type Engine struct {
	graph       *graph.Graph
	runner      *graph.Runner
	checkpoints CheckpointStore
	locks       *graph.ThreadLocks
	client      llm.Client
	clients     workflow.ClientProvider
	ctxmgr      *contextmgr.Manager
	logger      *logx.Logger
	execMetrics ExecMetrics
}

// New assembles and validates the engine graph. stepMetrics may be nil; if
// it also implements ExecMetrics, in-flight executions are tracked.
func New(
	client llm.Client,
	retriever rag.Retriever,
	clients workflow.ClientProvider,
	checkpoints CheckpointStore,
	stepMetrics graph.Metrics,
	cfg Config,
) (*Engine, error) {
	e := &Engine{
		checkpoints: checkpoints,
		locks:       graph.NewThreadLocks(),
		client:      client,
		clients:     clients,
		ctxmgr:      contextmgr.NewManager(cfg.HistoryBudget),
		logger:      logx.NewLogger("agent"),
	}
	if em, ok := stepMetrics.(ExecMetrics); ok {
		e.execMetrics = em
	}

	g := graph.New()
	g.AddStep(graph.StepFunc{StepName: StepReason, Fn: e.reason})
	g.AddStep(graph.StepFunc{StepName: StepRespond, Fn: e.respond})
	g.AddStep(graph.StepFunc{StepName: StepExecTool, Fn: e.execTool})
	rag.NewLoop(retriever, client, cfg.MaxRetries).Register(g)
	workflow.New(clients).Register(g)

	g.SetEntry(StepReason)
	g.MarkTerminal(StepRespond)

	g.AddConditionalEdge(StepReason, StepRespond, func(th *proto.Thread) bool {
		return th.Status == routeAnswer
	})
	g.AddConditionalEdge(StepReason, rag.StepRetrieve, func(th *proto.Thread) bool {
		return th.Status == routeRetrieve
	})
	g.AddConditionalEdge(StepReason, workflow.StepCollect, func(th *proto.Thread) bool {
		return th.Status == routeMutate
	})
	g.AddConditionalEdge(StepReason, StepExecTool, func(th *proto.Thread) bool {
		return th.Status == routeTool
	})
	g.AddEdge(StepExecTool, StepReason)

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("assemble engine graph: %w", err)
	}

	e.graph = g
	e.runner = graph.NewRunner(g, checkpoints, stepMetrics)
	return e, nil
}

// SubmitRequest is one user turn. An empty ThreadID starts a new thread.
type SubmitRequest struct {
	UserID    string
	ProjectID string
	ThreadID  string
	Input     string
}

// Submit appends a user message to a thread (creating it if needed), repairs
// any interrupted tool call, and runs the graph. Events stream on the
// returned channel until a terminal step, a suspension, or a failure; a
// caller that stops reading misses events but never blocks the engine.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (string, <-chan graph.Event, error) {
	if req.UserID == "" || req.Input == "" {
		return "", nil, fmt.Errorf("submit requires a user id and input")
	}

	var th *proto.Thread
	var unlock func()
	if req.ThreadID == "" {
		th = proto.NewThread(req.UserID, req.ProjectID)
		unlock = e.locks.Lock(th.ID)
	} else {
		unlock = e.locks.Lock(req.ThreadID)
		cp, err := e.checkpoints.LoadOwned(ctx, req.ThreadID, req.UserID)
		if err != nil {
			unlock()
			return "", nil, err
		}
		th = cp.Thread
	}

	// A new message while a proposal awaits review abandons the proposal;
	// the interrupted tool call gets a synthesized result below.
	if th.Pending != nil {
		e.logger.WithThread(th.ID).Info("new input abandons pending proposal")
		th.Pending = nil
		th.Decision = nil
	}
	th.Status = ""

	th.Append(proto.NewHumanMessage(req.Input))
	if _, ops := repair.FixToolCallSequence(th.Messages); len(ops) > 0 {
		e.logger.WithThread(th.ID).Info("repaired interrupted tool call")
		repair.Apply(th, ops)
	}

	return th.ID, e.run(ctx, th, "", unlock), nil
}

// Resume answers a suspended thread with the caller's decision and
// continues execution from the review step.
func (e *Engine) Resume(ctx context.Context, userID, threadID string, decision proto.ResumeDecision) (<-chan graph.Event, error) {
	unlock := e.locks.Lock(threadID)

	cp, err := e.checkpoints.LoadOwned(ctx, threadID, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	th := cp.Thread
	if th.Pending == nil {
		unlock()
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotSuspended)
	}

	d := decision
	th.Decision = &d
	// Every decision re-enters the review step, never the checkpointed one:
	// after a failed apply the checkpoint sits at apply with the proposal
	// still pending, and running it directly would skip the decision.
	return e.run(ctx, th, workflow.StepReview, unlock), nil
}

// DeleteThread removes a thread and its history. Ownership-checked.
func (e *Engine) DeleteThread(ctx context.Context, userID, threadID string) error {
	unlock := e.locks.Lock(threadID)
	defer unlock()
	return e.checkpoints.Delete(ctx, threadID, userID)
}

// ListThreads returns the user's threads.
func (e *Engine) ListThreads(ctx context.Context, userID string) ([]proto.ThreadSummary, error) {
	return e.checkpoints.List(ctx, userID)
}

// run executes the graph on its own goroutine, holding the thread lock for
// the duration. Events that the caller is too slow to read are dropped.
func (e *Engine) run(ctx context.Context, th *proto.Thread, startStep string, unlock func()) <-chan graph.Event {
	ch := make(chan graph.Event, 64)
	emit := func(ev graph.Event) {
		select {
		case ch <- ev:
		default:
		}
	}

	go func() {
		defer close(ch)
		defer unlock()
		if e.execMetrics != nil {
			e.execMetrics.ThreadStarted()
			defer e.execMetrics.ThreadFinished()
		}

		halted, err := e.runner.Run(ctx, th, startStep, emit)
		if err != nil {
			e.logger.WithThread(th.ID).Error("execution halted at %s: %v", halted, err)
		}
	}()
	return ch
}

// reason asks the model for the next move: a direct answer, a knowledge
// search, a read-only tracker lookup, or a mutation proposal.
func (e *Engine) reason(ctx context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	history := e.ctxmgr.Trim(th.Messages)
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.NewSystemMessage(systemPrompt))
	messages = append(messages, toLLMMessages(history)...)

	req := llm.NewRequest(messages)
	req.Tools = toolDefinitions()

	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return graph.Fail(fmt.Errorf("reasoning completion: %w", err))
	}

	if len(resp.ToolCalls) == 0 {
		th.Append(proto.NewAssistantMessage(resp.Content))
		th.Status = routeAnswer
		emit(graph.Event{Kind: graph.EventToken, Step: StepReason, Content: resp.Content})
		return graph.Continue()
	}

	call := resp.ToolCalls[0]
	switch {
	case call.Name == ToolSearchKnowledge:
		// Routing only: the retrieval loop produces the answer itself, so
		// no invocation message is appended that would need a result.
		th.Status = routeRetrieve

	case workflow.IsMutationTool(call.Name):
		th.Append(proto.NewToolCallMessage(resp.Content, call.Name, call.Parameters))
		th.Status = routeMutate

	case isReadOnlyTool(call.Name):
		th.Append(proto.NewToolCallMessage(resp.Content, call.Name, call.Parameters))
		th.Status = routeTool

	default:
		return graph.Failf("model requested unknown tool %q", call.Name)
	}

	emit(graph.Event{Kind: graph.EventToolCall, Step: StepReason, Content: call.Name})
	return graph.Continue()
}

// respond is the terminal step after a direct answer; the reason step has
// already emitted the content.
func (e *Engine) respond(_ context.Context, th *proto.Thread, _ graph.EmitFunc) graph.StepResult {
	th.Status = ""
	return graph.Continue()
}

// execTool runs a read-only tracker lookup, appends its result, and cycles
// back to reasoning. Per-tracker capability gaps and missing tickets become
// result text the model can explain; anything else is a step failure.
func (e *Engine) execTool(ctx context.Context, th *proto.Thread, _ graph.EmitFunc) graph.StepResult {
	inv := pendingReadOnlyInvocation(th)
	if inv == nil {
		return graph.Failf("exec_tool: thread %s has no pending lookup", th.ID)
	}

	client, err := e.clients.ClientFor(ctx, th.UserID, th.ProjectID)
	if err != nil {
		return graph.Fail(err)
	}

	out, err := executeReadOnlyTool(ctx, client, inv)
	if err != nil {
		if errors.Is(err, ticket.ErrNotImplemented) || errors.Is(err, ticket.ErrTicketNotFound) {
			out = err.Error()
		} else {
			return graph.Fail(fmt.Errorf("tool %s: %w", inv.Name, err))
		}
	}

	th.Append(proto.NewToolResultMessage(inv.ID, out))
	th.Status = ""
	return graph.Continue()
}

func pendingReadOnlyInvocation(th *proto.Thread) *proto.ToolInvocation {
	for i := len(th.Messages) - 1; i >= 0; i-- {
		msg := &th.Messages[i]
		if msg.ResultFor != "" {
			return nil
		}
		if msg.HasInvocation() && isReadOnlyTool(msg.Invocation.Name) {
			return msg.Invocation
		}
	}
	return nil
}

func executeReadOnlyTool(ctx context.Context, client ticket.Client, inv *proto.ToolInvocation) (string, error) {
	str := func(key string) string {
		v, _ := inv.Args[key].(string)
		return v
	}
	num := func(key string) int {
		if v, ok := inv.Args[key].(float64); ok {
			return int(v)
		}
		return 0
	}

	var result any
	var err error
	switch inv.Name {
	case ToolListProjects:
		result, err = client.ListProjects(ctx)
	case ToolListTickets:
		result, err = client.ListTickets(ctx, ticket.ListOptions{
			Limit:  num("limit"),
			Offset: num("offset"),
		})
	case ToolGetTicket:
		result, err = client.GetTicket(ctx, str("ticket_id"))
	case ToolSearchUsers:
		result, err = client.SearchUsers(ctx, str("query"))
	case ToolResolveSprint:
		result, err = client.ResolveSprint(ctx, str("name"))
	default:
		return "", fmt.Errorf("unknown read-only tool %q", inv.Name)
	}
	if err != nil {
		return "", err
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", inv.Name, err)
	}
	return string(blob), nil
}

// toLLMMessages converts thread history to the provider message model,
// preserving tool call and result correlation.
func toLLMMessages(msgs []proto.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case proto.RoleHuman:
			out = append(out, llm.NewUserMessage(msg.Content))

		case proto.RoleAssistant:
			lm := llm.Message{Role: llm.RoleAssistant, Content: msg.Content}
			if msg.HasInvocation() {
				lm.ToolCalls = []llm.ToolCall{{
					ID:         msg.Invocation.ID,
					Name:       msg.Invocation.Name,
					Parameters: msg.Invocation.Args,
				}}
			}
			out = append(out, lm)

		case proto.RoleToolResult:
			out = append(out, llm.NewToolResultMessage(msg.ResultFor, msg.Content))
		}
	}
	return out
}
