// Package orchestrator drives the dependency scheduler, hook pipeline, and
// tool invoker for a single batch of tool calls: wave by wave, concurrent
// within a wave, sequential across waves.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/carbon-run/agentcore/pkg/ai"
	"github.com/carbon-run/agentcore/pkg/cancel"
	"github.com/carbon-run/agentcore/pkg/hooks"
	"github.com/carbon-run/agentcore/pkg/scheduler"
	"github.com/carbon-run/agentcore/pkg/tools"
)

// CallResult pairs a scheduler.Call with its settled tools.Result.
type CallResult struct {
	CallID string
	Result tools.Result
	Err    error
}

// BatchResult is the orchestrator's output: {perCallResults, wavesExecuted,
// totalDurationMs, failures}.
type BatchResult struct {
	PerCallResults []CallResult
	WavesExecuted  int
	TotalDuration  time.Duration
	Failures       int
}

// Orchestrator wires C1 (tools.Invoke), C2 (hooks.Pipeline), and C3
// (scheduler.Plan) together.
type Orchestrator struct {
	registry *tools.Registry
	schedReg scheduler.Registry
	pipeline *hooks.Pipeline
	confirm  tools.ConfirmFunc

	log                *slog.Logger
	maxToolConcurrency int
	toolTimeout        time.Duration
	extractor          scheduler.ResourceExtractor
	onUpdate           func(callID string, partial tools.Result)
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option           { return func(o *Orchestrator) { o.log = l } }
func WithMaxConcurrency(n int) Option            { return func(o *Orchestrator) { o.maxToolConcurrency = n } }
func WithToolTimeout(d time.Duration) Option     { return func(o *Orchestrator) { o.toolTimeout = d } }
func WithConfirm(fn tools.ConfirmFunc) Option    { return func(o *Orchestrator) { o.confirm = fn } }
func WithExtractor(e scheduler.ResourceExtractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithOnUpdate registers a callback for a tool's streamed partial results,
// e.g. to forward them to a UI while the call is still in flight.
func WithOnUpdate(fn func(callID string, partial tools.Result)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

// New builds an Orchestrator. schedReg resolves scheduler.ToolMetadata by
// tool name (see scheduler.MapRegistry).
func New(registry *tools.Registry, schedReg scheduler.Registry, pipeline *hooks.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:           registry,
		schedReg:           schedReg,
		pipeline:           pipeline,
		log:                slog.Default(),
		maxToolConcurrency: 4,
		toolTimeout:        2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run plans the batch via C3 and executes each wave sequentially,
// launching every call within a wave concurrently bounded by
// MaxToolConcurrency. If ctx is cancelled between waves, remaining waves
// are skipped and the partial result set is returned; the last completed
// wave is always fully observed.
func (o *Orchestrator) Run(ctx context.Context, calls []scheduler.Call, sessionID, agentID string) BatchResult {
	start := time.Now()
	plan := scheduler.Plan(calls, o.schedReg, o.extractor)

	sem := semaphore.NewWeighted(int64(maxInt(o.maxToolConcurrency, 1)))

	var out BatchResult
	for _, wave := range plan.Waves {
		if ctx.Err() != nil {
			o.log.Warn("orchestrator: outer context cancelled, skipping remaining waves",
				"waves_executed", out.WavesExecuted, "waves_total", len(plan.Waves))
			break
		}

		results := o.runWave(ctx, wave, sem, sessionID, agentID)
		out.PerCallResults = append(out.PerCallResults, results...)
		out.WavesExecuted++
		for _, r := range results {
			if !r.Result.Success {
				out.Failures++
			}
		}
	}

	out.TotalDuration = time.Since(start)
	return out
}

func (o *Orchestrator) runWave(ctx context.Context, wave []scheduler.Call, sem *semaphore.Weighted, sessionID, agentID string) []CallResult {
	results := make([]CallResult, len(wave))

	g, gctx := errgroup.WithContext(context.Background()) // independent of ctx: a wave, once started, is fully observed
	for i, call := range wave {
		i, call := i, call
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = CallResult{CallID: call.ID, Result: tools.Result{Success: false, Error: "cancelled"}, Err: err}
				return nil
			}
			defer sem.Release(1)
			results[i] = o.runCall(ctx, call, sessionID, agentID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runCall(ctx context.Context, call scheduler.Call, sessionID, agentID string) CallResult {
	tool, ok := o.registry.Get(call.ToolName)
	if !ok {
		return CallResult{CallID: call.ID, Result: tools.Result{Success: false, Error: "unknown tool: " + call.ToolName}}
	}

	hctx := hooks.Context{
		ToolName:     call.ToolName,
		OriginalArgs: call.Args,
		CurrentArgs:  call.Args,
		ToolCallID:   call.ID,
		SessionID:    sessionID,
		AgentID:      agentID,
		Timestamp:    time.Now(),
	}

	hctx, err := o.pipeline.RunBefore(hctx)
	if err != nil {
		o.pipeline.NotifyError(hctx, err.Error())
		return CallResult{CallID: call.ID, Result: tools.Result{Success: false, Error: err.Error()}, Err: err}
	}

	callCtx, stop := cancel.WithTimeout(ctx, o.toolTimeout)
	defer stop()

	var onUpdate tools.UpdateFn
	if o.onUpdate != nil {
		onUpdate = func(partial tools.Result) { o.onUpdate(call.ID, partial) }
	}

	res, invokeErr := tools.Invoke(callCtx.Context(), tool, call.ID, hctx.CurrentArgs, o.confirm, onUpdate)

	if callCtx.Reason() == "timeout" {
		o.pipeline.NotifyTimeout(hctx, "tool execution exceeded timeout")
		res = tools.Result{Success: false, Error: "timeout", DurationMs: o.toolTimeout.Milliseconds()}
	} else if invokeErr == tools.ErrDenied {
		o.pipeline.NotifyDenied(hctx, "denied by user")
	} else if invokeErr != nil {
		o.pipeline.NotifyError(hctx, invokeErr.Error())
	}

	originalOutput := res.Output()
	hres := hooks.Result{Success: res.Success, Output: originalOutput, Error: res.Error, DurationMs: res.DurationMs, Modified: res.Modified}
	hres, err = o.pipeline.RunAfter(hctx, hres)
	if err != nil {
		o.pipeline.NotifyError(hctx, err.Error())
	} else {
		res.Success, res.Error, res.Modified = hres.Success, hres.Error, hres.Modified
		if hres.Output != originalOutput {
			res.Content = []ai.ContentBlock{ai.TextContent{Type: "text", Text: hres.Output}}
		}
	}

	if _, err := o.pipeline.RunPersist(hctx, hres); err != nil {
		o.pipeline.NotifyError(hctx, err.Error())
	}

	return CallResult{CallID: call.ID, Result: res, Err: invokeErr}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
