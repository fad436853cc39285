package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/tools"
)

var tracer = otel.Tracer("taskpilot/engine")

// Options configure a Scheduler.
type Options struct {
	Retry      RetryPolicy
	Classifier Classifier
	// MaxConcurrency bounds the steps running at once within a wave.
	// Zero means unbounded.
	MaxConcurrency int
	// Timeout is the deadline for a whole run.
	Timeout time.Duration
}

// DefaultOptions: three attempts, unbounded concurrency, 60s per run.
func DefaultOptions() Options {
	return Options{
		Retry:   DefaultRetryPolicy(),
		Timeout: 60 * time.Second,
	}
}

// Preprocessor may rewrite resolved params just before a step is invoked,
// for example to correct a misspelled city. Notes describe the changes.
// On error the original params are used.
type Preprocessor interface {
	Preprocess(ctx context.Context, step plan.Step, params map[string]any) (map[string]any, []string, error)
}

// Observer receives lifecycle notifications. Calls for steps of the same
// wave may arrive concurrently.
type Observer interface {
	WaveStarted(ctx context.Context, wave int, steps []plan.StepID)
	StepRetrying(ctx context.Context, step plan.Step, attempt int, delay time.Duration, err error)
	StepFinished(ctx context.Context, res ExecutionResult)
	RunFinished(ctx context.Context, results []ExecutionResult, elapsed time.Duration)
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithPreprocessor(p Preprocessor) Option {
	return func(s *Scheduler) { s.preprocessor = p }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(f SleepFunc) Option {
	return func(s *Scheduler) { s.exec.sleep = f }
}

type runIDKey struct{}

// WithRunID tags ctx with the id used for a run; Run generates one otherwise.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id carried by ctx.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Scheduler executes an analyzed plan wave by wave. Steps of a wave run
// concurrently; a wave starts only once every step of the previous wave is
// terminal.
type Scheduler struct {
	exec           *RetryExecutor
	maxConcurrency int
	timeout        time.Duration
	preprocessor   Preprocessor
	observers      []Observer
	logger         *slog.Logger
}

func NewScheduler(invoker tools.Invoker, opts Options, extra ...Option) *Scheduler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	s := &Scheduler{
		exec:           NewRetryExecutor(invoker, opts.Retry, opts.Classifier),
		maxConcurrency: opts.MaxConcurrency,
		timeout:        opts.Timeout,
		logger:         slog.Default(),
	}
	for _, o := range extra {
		o(s)
	}
	s.exec.logger = s.logger
	s.exec.onRetry = s.notifyRetry
	return s
}

// Timeout returns the default run deadline.
func (s *Scheduler) Timeout() time.Duration { return s.timeout }

// Execute analyzes, runs and aggregates a plan. Only plan validation errors
// are returned; step failures are part of the result.
func (s *Scheduler) Execute(ctx context.Context, p *plan.Plan) (*AggregateResult, error) {
	d, err := plan.Analyze(p)
	if err != nil {
		return nil, err
	}
	return Aggregate(p, s.Run(ctx, d, 0)), nil
}

// Run executes every step of d and returns one result per step in plan
// order. timeout <= 0 uses the scheduler default. When the deadline passes,
// in-flight steps are cancelled and every unfinished step is recorded as a
// timeout.
func (s *Scheduler) Run(ctx context.Context, d *plan.DAG, timeout time.Duration) []ExecutionResult {
	if timeout <= 0 {
		timeout = s.timeout
	}
	if RunID(ctx) == "" {
		ctx = WithRunID(ctx, uuid.NewString())
	}
	runID := RunID(ctx)
	logger := s.logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("plan.steps", d.Len()),
		attribute.Int("plan.waves", len(d.Waves())),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	results := make([]ExecutionResult, d.Len())
	// outputs and done are only touched between waves.
	outputs := make(map[plan.StepID]any, d.Len())
	done := make(map[plan.StepID]*ExecutionResult, d.Len())

	logger.Info("run started", "steps", d.Len(), "waves", len(d.Waves()), "timeout", timeout)

	for wave, ids := range d.Waves() {
		for _, o := range s.observers {
			o.WaveStarted(ctx, wave, ids)
		}

		g := new(errgroup.Group)
		if s.maxConcurrency > 0 {
			g.SetLimit(s.maxConcurrency)
		}
		for _, id := range ids {
			node, _ := d.Node(id)
			slot := &results[node.Index]

			if blocker, ok := blockingDependency(node, done); ok {
				*slot = s.unstarted(runCtx, node, blocker)
				s.finish(ctx, *slot)
				continue
			}
			if runCtx.Err() != nil {
				*slot = timedOut(node, 0)
				s.finish(ctx, *slot)
				continue
			}

			g.Go(func() error {
				*slot = s.runStep(runCtx, node, outputs)
				s.finish(ctx, *slot)
				return nil
			})
		}
		_ = g.Wait()

		for _, id := range ids {
			node, _ := d.Node(id)
			res := &results[node.Index]
			done[id] = res
			if res.Succeeded() {
				outputs[id] = res.Output
			}
		}
	}

	elapsed := time.Since(start)
	succeeded, failed, skipped := countStatuses(results)
	logger.Info("run finished",
		"elapsed", elapsed, "succeeded", succeeded, "failed", failed, "skipped", skipped)
	span.SetAttributes(
		attribute.Int("run.succeeded", succeeded),
		attribute.Int("run.failed", failed),
		attribute.Int("run.skipped", skipped),
	)
	if succeeded == 0 {
		span.SetStatus(codes.Error, "no step succeeded")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	for _, o := range s.observers {
		o.RunFinished(ctx, results, elapsed)
	}
	return results
}

// blockingDependency returns the first dependency, in dependency order,
// that did not succeed.
func blockingDependency(node *plan.Node, done map[plan.StepID]*ExecutionResult) (*ExecutionResult, bool) {
	for _, dep := range node.Deps {
		if r, ok := done[dep]; ok && !r.Succeeded() {
			return r, true
		}
	}
	return nil, false
}

// unstarted records a step that will never be invoked because a dependency
// did not succeed. Once the deadline has passed, a step blocked by a
// timed-out dependency is itself a timeout.
func (s *Scheduler) unstarted(runCtx context.Context, node *plan.Node, blocker *ExecutionResult) ExecutionResult {
	if runCtx.Err() != nil && isTimeout(blocker) {
		res := timedOut(node, 0)
		res.BlockedBy = blocker.StepID
		return res
	}
	return ExecutionResult{
		StepID:    node.Step.ID,
		Tool:      node.Step.Tool,
		Action:    node.Step.Action,
		Wave:      node.Wave,
		Status:    StatusSkipped,
		BlockedBy: blocker.StepID,
	}
}

func isTimeout(r *ExecutionResult) bool {
	return r.Status == StatusFailed && r.Error != nil && r.Error.Kind == KindTimeout
}

func timedOut(node *plan.Node, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		StepID:  node.Step.ID,
		Tool:    node.Step.Tool,
		Action:  node.Step.Action,
		Wave:    node.Wave,
		Status:  StatusFailed,
		Elapsed: elapsed,
		Error: &ToolInvocationError{
			Kind:   KindTimeout,
			Tool:   node.Step.Tool,
			Action: node.Step.Action,
			Err:    fmt.Errorf("%w before the step started", ErrRunTimeout),
		},
	}
}

func (s *Scheduler) runStep(ctx context.Context, node *plan.Node, outputs map[plan.StepID]any) ExecutionResult {
	step := node.Step
	ctx, span := tracer.Start(ctx, "engine.Step", trace.WithAttributes(
		attribute.String("step.id", string(step.ID)),
		attribute.String("step.tool", step.Tool),
		attribute.String("step.action", step.Action),
		attribute.Int("step.wave", node.Wave),
	))
	defer span.End()

	start := time.Now()
	res := ExecutionResult{
		StepID: step.ID,
		Tool:   step.Tool,
		Action: step.Action,
		Wave:   node.Wave,
	}

	params, err := step.ResolveParams(outputs)
	if err != nil {
		res.Status = StatusFailed
		res.Error = &ToolInvocationError{
			Kind:   KindPermanent,
			Tool:   step.Tool,
			Action: step.Action,
			Err:    fmt.Errorf("%w: %w", ErrUnresolvable, err),
		}
		res.Elapsed = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unresolvable params")
		return res
	}

	if s.preprocessor != nil {
		pre, err := await(ctx, func() preprocessed {
			fixed, notes, err := s.preprocessor.Preprocess(ctx, step, params)
			return preprocessed{params: fixed, notes: notes, err: err}
		})
		if err == nil {
			err = pre.err
		}
		fixed, notes := pre.params, pre.notes
		switch {
		case err != nil:
			s.logger.Warn("param preprocessing failed, using original params",
				"run_id", RunID(ctx), "step", step.ID, "error", err)
		case fixed != nil:
			params = fixed
			res.Corrections = notes
		}
	}

	out, attempts, err := s.exec.Invoke(ctx, step, params)
	res.Attempts = attempts
	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("step.attempts", attempts))

	if err != nil {
		res.Status = StatusFailed
		var tie *ToolInvocationError
		if !errors.As(err, &tie) {
			tie = &ToolInvocationError{Kind: KindPermanent, Tool: step.Tool, Action: step.Action, Attempts: attempts, Err: err}
		}
		res.Error = tie
		span.RecordError(err)
		span.SetStatus(codes.Error, string(tie.Kind))
		return res
	}

	res.Status = StatusSucceeded
	res.Output = out
	span.SetStatus(codes.Ok, "")
	return res
}

type preprocessed struct {
	params map[string]any
	notes  []string
	err    error
}

func (s *Scheduler) finish(ctx context.Context, res ExecutionResult) {
	level := slog.LevelInfo
	attrs := []any{
		"run_id", RunID(ctx), "step", res.StepID, "tool", res.Tool, "action", res.Action,
		"status", res.Status, "attempts", res.Attempts, "elapsed", res.Elapsed,
	}
	if res.Error != nil {
		level = slog.LevelWarn
		attrs = append(attrs, "kind", res.Error.Kind, "error", res.Error.Err)
	}
	if res.BlockedBy != "" {
		attrs = append(attrs, "blocked_by", res.BlockedBy)
	}
	s.logger.Log(ctx, level, "step finished", attrs...)

	for _, o := range s.observers {
		o.StepFinished(ctx, res)
	}
}

func (s *Scheduler) notifyRetry(ctx context.Context, step plan.Step, attempt int, delay time.Duration, err error) {
	for _, o := range s.observers {
		o.StepRetrying(ctx, step, attempt, delay, err)
	}
}

func countStatuses(results []ExecutionResult) (succeeded, failed, skipped int) {
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}
