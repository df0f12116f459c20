// Package rag implements the bounded retrieval loop: retrieve candidate
// documents, grade their sufficiency, and either retry, generate a grounded
// answer, or give up explicitly.
//
// Retry convention: the thread's "retrieve" counter counts completed
// retrievals. Grading loops back while counter <= MaxRetries, so a ceiling
// of 2 yields exactly 3 retrieval attempts before give_up.
package rag

import (
	"context"
	"fmt"
	"strings"

	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/graph"
	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
)

// Step names within the loop.
const (
	StepRetrieve = "retrieve"
	StepGrade    = "grade"
	StepGenerate = "generate"
	StepGiveUp   = "give_up"
)

// RetryLoop is the thread retry-counter key for this loop.
const RetryLoop = "retrieve"

// DefaultMaxRetries is the retry ceiling when config is silent: the initial
// retrieval plus two retries.
const DefaultMaxRetries = 2

// GiveUpAnswer is the designed terminal answer when the ceiling is
// exhausted. Never fabricated content.
const GiveUpAnswer = "I could not find relevant information to answer that. " +
	"Try rephrasing the question or adding documentation to the knowledge base."

// Grading verdicts parked on Thread.Status between grade and the guarded
// edges out of it.
const (
	StatusSufficient   = "docs_sufficient"
	StatusInsufficient = "docs_insufficient"
	StatusExhausted    = "docs_exhausted"
)

const gradePrompt = `You judge whether retrieved documents contain enough
information to answer a question. Reply with exactly one word: "yes" if the
documents are sufficient, "no" otherwise.`

const generatePrompt = `You answer questions about projects and tickets using
ONLY the documents provided. If the documents do not cover something, say so
rather than guessing. Be concise.`

// Retriever is the knowledge-store seam used by the retrieve step.
type Retriever interface {
	Retrieve(ctx context.Context, projectID, query string, limit int) ([]proto.Document, error)
}

// Loop wires the four steps and their edges into a graph.
type Loop struct {
	retriever  Retriever
	client     llm.Client
	logger     *logx.Logger
	maxRetries int
	limit      int
}

// NewLoop creates a retrieval loop. maxRetries <= 0 selects the default
// ceiling.
func NewLoop(retriever Retriever, client llm.Client, maxRetries int) *Loop {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Loop{
		retriever:  retriever,
		client:     client,
		logger:     logx.NewLogger("rag"),
		maxRetries: maxRetries,
		limit:      5,
	}
}

// Register adds the loop's steps and edges to a graph. generate and give_up
// are terminal.
func (l *Loop) Register(g *graph.Graph) {
	g.AddStep(graph.StepFunc{StepName: StepRetrieve, Fn: l.retrieve})
	g.AddStep(graph.StepFunc{StepName: StepGrade, Fn: l.grade})
	g.AddStep(graph.StepFunc{StepName: StepGenerate, Fn: l.generate})
	g.AddStep(graph.StepFunc{StepName: StepGiveUp, Fn: l.giveUp})
	g.MarkTerminal(StepGenerate)
	g.MarkTerminal(StepGiveUp)

	g.AddEdge(StepRetrieve, StepGrade)
	g.AddConditionalEdge(StepGrade, StepRetrieve, func(th *proto.Thread) bool {
		return th.Status == StatusInsufficient
	})
	g.AddConditionalEdge(StepGrade, StepGenerate, func(th *proto.Thread) bool {
		return th.Status == StatusSufficient
	})
	g.AddConditionalEdge(StepGrade, StepGiveUp, func(th *proto.Thread) bool {
		return th.Status == StatusExhausted
	})
}

func question(th *proto.Thread) string {
	if msg := th.LastHuman(); msg != nil {
		return msg.Content
	}
	return ""
}

func (l *Loop) retrieve(ctx context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	q := question(th)
	if q == "" {
		return graph.Failf("retrieve: thread %s has no question to answer", th.ID)
	}

	attempt := th.BumpRetry(RetryLoop)
	docs, err := l.retriever.Retrieve(ctx, th.ProjectID, q, l.limit)
	if err != nil {
		return graph.Fail(fmt.Errorf("retrieve documents: %w", err))
	}

	th.MergeDocuments(docs)
	l.logger.WithThread(th.ID).Debug("retrieval attempt %d returned %d documents", attempt, len(docs))
	emit(graph.Event{
		Kind:    graph.EventToolCall,
		Step:    StepRetrieve,
		Content: fmt.Sprintf("retrieved %d documents (attempt %d)", len(docs), attempt),
	})
	return graph.Continue()
}

func (l *Loop) grade(ctx context.Context, th *proto.Thread, _ graph.EmitFunc) graph.StepResult {
	sufficient, err := l.gradeDocuments(ctx, question(th), th.Documents)
	if err != nil {
		return graph.Fail(fmt.Errorf("grade documents: %w", err))
	}

	switch {
	case sufficient:
		th.Status = StatusSufficient
	case th.Retry(RetryLoop) <= l.maxRetries:
		th.Status = StatusInsufficient
	default:
		th.Status = StatusExhausted
	}
	l.logger.WithThread(th.ID).Debug("grading verdict after %d retrievals: %s", th.Retry(RetryLoop), th.Status)
	return graph.Continue()
}

// gradeDocuments asks the model for a yes/no grounding judgment. An empty
// candidate set is insufficient without spending a model call.
func (l *Loop) gradeDocuments(ctx context.Context, q string, docs []proto.Document) (bool, error) {
	if len(docs) == 0 {
		return false, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nDocuments:\n", q)
	for i := range docs {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, docs[i].Content)
	}

	req := llm.NewRequest([]llm.Message{
		llm.NewSystemMessage(gradePrompt),
		llm.NewUserMessage(sb.String()),
	})
	req.MaxTokens = 8

	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return false, err
	}
	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "yes"), nil
}

func (l *Loop) generate(ctx context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	var sb strings.Builder
	sb.WriteString("Documents:\n")
	for i := range th.Documents {
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, th.Documents[i].Source, th.Documents[i].Content)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", question(th))

	req := llm.NewRequest([]llm.Message{
		llm.NewSystemMessage(generatePrompt),
		llm.NewUserMessage(sb.String()),
	})

	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return graph.Fail(fmt.Errorf("generate answer: %w", err))
	}

	th.Append(proto.NewAssistantMessage(resp.Content))
	th.Status = ""
	th.ResetRetry(RetryLoop)
	emit(graph.Event{Kind: graph.EventToken, Step: StepGenerate, Content: resp.Content})
	return graph.Continue()
}

func (l *Loop) giveUp(_ context.Context, th *proto.Thread, emit graph.EmitFunc) graph.StepResult {
	th.Append(proto.NewAssistantMessage(GiveUpAnswer))
	th.Status = ""
	th.ResetRetry(RetryLoop)
	emit(graph.Event{Kind: graph.EventToken, Step: StepGiveUp, Content: GiveUpAnswer})
	return graph.Continue()
}
