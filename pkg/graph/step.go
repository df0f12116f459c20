// Package graph implements the orchestrator runtime: a directed graph of
// named steps with guarded edges, executed one step at a time against a
// thread, checkpointed after every step. Suspension is an explicit result
// variant rather than an error so generic error handling can never swallow it.
package graph

import (
	"context"
	"fmt"

	"ticketpilot/pkg/proto"
)

// ResultKind discriminates the StepResult sum type.
type ResultKind int

const (
	// KindContinue means the step finished and the runner should follow the
	// graph's edges to the next step.
	KindContinue ResultKind = iota
	// KindSuspend means the step paused for external input; the runner
	// checkpoints at this step and halts.
	KindSuspend
	// KindFail means the step failed; the error is recorded on the thread and
	// surfaced as a failed step.
	KindFail
)

// StepResult is the outcome of one step execution:
// Continue | Suspend(token) | Fail(error).
type StepResult struct {
	Kind  ResultKind
	Token *proto.SuspensionToken
	Err   error
}

// Continue reports successful completion.
func Continue() StepResult {
	return StepResult{Kind: KindContinue}
}

// Suspend pauses execution with the given token.
func Suspend(token proto.SuspensionToken) StepResult {
	return StepResult{Kind: KindSuspend, Token: &token}
}

// Fail reports a step failure.
func Fail(err error) StepResult {
	return StepResult{Kind: KindFail, Err: err}
}

// Failf reports a step failure with a formatted error.
func Failf(format string, args ...any) StepResult {
	return StepResult{Kind: KindFail, Err: fmt.Errorf(format, args...)}
}

// EmitFunc delivers a step-level event to the caller. Implementations must be
// safe to call after the caller has disconnected (events are then dropped).
type EmitFunc func(Event)

// Step is one named node in the graph.
type Step interface {
	Name() string
	Run(ctx context.Context, th *proto.Thread, emit EmitFunc) StepResult
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, th *proto.Thread, emit EmitFunc) StepResult
}

// Name returns the step's name.
func (s StepFunc) Name() string { return s.StepName }

// Run executes the wrapped function.
func (s StepFunc) Run(ctx context.Context, th *proto.Thread, emit EmitFunc) StepResult {
	return s.Fn(ctx, th, emit)
}

// EventKind tags a step-level event on the caller's stream.
type EventKind string

const (
	// EventToken carries generated answer content.
	EventToken EventKind = "token"
	// EventToolCall announces a tool invocation chosen by the model.
	EventToolCall EventKind = "tool_call"
	// EventSuspend carries a suspension token awaiting a decision.
	EventSuspend EventKind = "suspend"
	// EventError reports a failed step.
	EventError EventKind = "error"
	// EventDone closes the stream after a terminal step.
	EventDone EventKind = "done"
)

// Event is one step-level notification streamed to the caller.
type Event struct {
	Kind    EventKind              `json:"kind"`
	Step    string                 `json:"step,omitempty"`
	Content string                 `json:"content,omitempty"`
	Token   *proto.SuspensionToken `json:"token,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
