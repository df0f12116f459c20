package graph

import (
	"context"
	"fmt"
	"time"

	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
)

// CheckpointStore persists thread snapshots. The runner only needs the write
// side; loading the latest checkpoint is the caller's concern.
type CheckpointStore interface {
	Save(ctx context.Context, cp *proto.Checkpoint) error
}

// Metrics receives step execution observations. A nil Metrics is allowed.
type Metrics interface {
	StepExecuted(step, outcome string, seconds float64)
	Suspended(step string)
}

// Runner executes a validated graph against one thread at a time.
type Runner struct {
	graph   *Graph
	store   CheckpointStore
	metrics Metrics
	logger  *logx.Logger
}

// NewRunner creates a runner for the given graph. The graph must have been
// validated; a nil store disables checkpointing (tests only).
func NewRunner(g *Graph, store CheckpointStore, metrics Metrics) *Runner {
	return &Runner{
		graph:   g,
		store:   store,
		metrics: metrics,
		logger:  logx.NewLogger("graph"),
	}
}

// Run executes the graph starting at startStep (or the entry step when empty)
// until a terminal step completes or a step suspends. The thread is mutated in
// place and checkpointed after every step; the returned step name is where
// execution halted. Callers must hold the thread's lock.
func (r *Runner) Run(ctx context.Context, th *proto.Thread, startStep string, emit EmitFunc) (string, error) {
	log := r.logger.WithThread(th.ID)

	current := startStep
	if current == "" {
		current = r.graph.Entry()
	}

	for {
		step, ok := r.graph.Step(current)
		if !ok {
			return current, fmt.Errorf("graph: unknown step %q", current)
		}

		log.Debug("executing step %s", current)
		started := time.Now()
		res := step.Run(ctx, th, emit)
		elapsed := time.Since(started).Seconds()

		switch res.Kind {
		case KindFail:
			r.observe(current, "fail", elapsed)
			th.LastError = res.Err.Error()
			if err := r.checkpoint(ctx, th, current); err != nil {
				log.Error("checkpoint after failed step %s: %v", current, err)
			}
			emit(Event{Kind: EventError, Step: current, Error: res.Err.Error()})
			return current, fmt.Errorf("step %s: %w", current, res.Err)

		case KindSuspend:
			r.observe(current, "suspend", elapsed)
			if r.metrics != nil {
				r.metrics.Suspended(current)
			}
			tok := res.Token.Clone()
			th.Pending = &tok
			// Checkpoint at the suspending step itself: resumption re-enters
			// it with the caller's decision attached to the thread.
			if err := r.checkpoint(ctx, th, current); err != nil {
				return current, fmt.Errorf("checkpoint suspension at %s: %w", current, err)
			}
			emit(Event{Kind: EventSuspend, Step: current, Token: res.Token})
			return current, nil

		case KindContinue:
			r.observe(current, "ok", elapsed)
			if r.graph.IsTerminal(current) {
				if err := r.checkpoint(ctx, th, current); err != nil {
					return current, fmt.Errorf("checkpoint terminal %s: %w", current, err)
				}
				emit(Event{Kind: EventDone, Step: current})
				return current, nil
			}
			next, err := r.graph.next(current, th)
			if err != nil {
				// Configuration error: surfaced immediately, never retried.
				return current, err
			}
			if err := r.checkpoint(ctx, th, next); err != nil {
				return current, fmt.Errorf("checkpoint before %s: %w", next, err)
			}
			current = next

		default:
			return current, fmt.Errorf("graph: step %s returned unknown result kind %d", current, res.Kind)
		}
	}
}

// checkpoint snapshots the thread with the given step pointer. The write is
// shielded from caller cancellation: a disconnecting caller must not leave a
// thread in a state the checkpoint cannot reconstruct.
func (r *Runner) checkpoint(ctx context.Context, th *proto.Thread, step string) error {
	if r.store == nil {
		return nil
	}
	cp := &proto.Checkpoint{
		ThreadID:  th.ID,
		UserID:    th.UserID,
		Step:      step,
		Thread:    th.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	return r.store.Save(context.WithoutCancel(ctx), cp)
}

func (r *Runner) observe(step, outcome string, seconds float64) {
	if r.metrics != nil {
		r.metrics.StepExecuted(step, outcome, seconds)
	}
}
