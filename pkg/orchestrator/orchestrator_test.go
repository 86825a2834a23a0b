package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
	"github.com/carbon-run/agentcore/pkg/hooks"
	"github.com/carbon-run/agentcore/pkg/orchestrator"
	"github.com/carbon-run/agentcore/pkg/scheduler"
	"github.com/carbon-run/agentcore/pkg/tools"
)

type echoTool struct {
	meta  tools.Metadata
	delay time.Duration
}

func (e *echoTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{Name: "echo", Description: "echoes args"}
}

func (e *echoTool) Execute(ctx context.Context, callID string, params map[string]any, onUpdate tools.UpdateFn) (tools.Result, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return tools.Result{}, ctx.Err()
		}
	}
	v, _ := params["msg"].(string)
	return tools.TextResult(v), nil
}

func (e *echoTool) Metadata() tools.Metadata { return e.meta }
func (e *echoTool) IsAvailable() bool        { return true }

func newRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&echoTool{meta: tools.Metadata{Category: "test"}})
	return reg
}

func schedRegistry() scheduler.MapRegistry {
	return scheduler.MapRegistry{
		"echo": {Name: "echo", ParallelSafe: true, Priority: 1},
	}
}

func TestOrchestrator_RunsIndependentCallsInOneWave(t *testing.T) {
	o := orchestrator.New(newRegistry(), schedRegistry(), hooks.New())

	calls := []scheduler.Call{
		{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "a"}},
		{ID: "2", ToolName: "echo", Args: map[string]any{"msg": "b"}},
	}
	result := o.Run(context.Background(), calls, "sess", "agent")

	if result.WavesExecuted != 1 {
		t.Errorf("WavesExecuted = %d, want 1", result.WavesExecuted)
	}
	if len(result.PerCallResults) != 2 {
		t.Fatalf("PerCallResults = %d, want 2", len(result.PerCallResults))
	}
	if result.Failures != 0 {
		t.Errorf("Failures = %d, want 0", result.Failures)
	}
}

func TestOrchestrator_UnknownToolFails(t *testing.T) {
	o := orchestrator.New(newRegistry(), schedRegistry(), hooks.New())
	calls := []scheduler.Call{{ID: "1", ToolName: "does-not-exist"}}
	result := o.Run(context.Background(), calls, "", "")

	if result.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", result.Failures)
	}
	if result.PerCallResults[0].Result.Error == "" {
		t.Error("expected an error message for an unknown tool")
	}
}

func TestOrchestrator_BeforeHookCanRedactArgs(t *testing.T) {
	pipeline := hooks.New()
	var seenArg string
	pipeline.RegisterBefore("capture", 0, 0, func(ctx hooks.Context) (hooks.Context, bool, error) {
		seenArg, _ = ctx.CurrentArgs["msg"].(string)
		ctx.CurrentArgs["msg"] = "redacted"
		return ctx, true, nil
	})

	o := orchestrator.New(newRegistry(), schedRegistry(), pipeline)
	calls := []scheduler.Call{{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "secret"}}}
	result := o.Run(context.Background(), calls, "", "")

	if seenArg != "secret" {
		t.Errorf("before hook saw %q, want secret", seenArg)
	}
	if result.PerCallResults[0].Result.Output() != "redacted" {
		t.Errorf("output = %q, want redacted (echo should reflect the rewritten arg)", result.PerCallResults[0].Result.Output())
	}
}

func TestOrchestrator_AfterHookMutatesOutput(t *testing.T) {
	pipeline := hooks.New()
	pipeline.RegisterAfter("upper", 0, 0, func(ctx hooks.Context, result hooks.Result) (hooks.Result, bool, error) {
		result.Output = "MUTATED"
		return result, true, nil
	})

	o := orchestrator.New(newRegistry(), schedRegistry(), pipeline)
	calls := []scheduler.Call{{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "hi"}}}
	result := o.Run(context.Background(), calls, "", "")

	got := result.PerCallResults[0].Result
	if got.Output() != "MUTATED" {
		t.Errorf("output = %q, want MUTATED", got.Output())
	}
	if !got.Modified {
		t.Error("Modified should be true")
	}
}

func TestOrchestrator_WaveOrderingForConflictingWrites(t *testing.T) {
	reg := newRegistry()
	schedReg := scheduler.MapRegistry{
		"echo": {
			Name:                "echo",
			WritesResourceTypes: []scheduler.ResourceKind{scheduler.ResourceFile},
			HasSideEffects:      true,
			Priority:            1,
		},
	}
	o := orchestrator.New(reg, schedReg, hooks.New(), orchestrator.WithExtractor(
		func(call scheduler.Call, meta scheduler.ToolMetadata) []scheduler.ResourceAccess {
			path, _ := call.Args["path"].(string)
			return []scheduler.ResourceAccess{{Kind: scheduler.ResourceFile, Identifier: path, Mode: scheduler.ModeWrite}}
		},
	))

	calls := []scheduler.Call{
		{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "a", "path": "/x"}},
		{ID: "2", ToolName: "echo", Args: map[string]any{"msg": "b", "path": "/x"}},
	}
	result := o.Run(context.Background(), calls, "", "")

	if result.WavesExecuted != 2 {
		t.Fatalf("WavesExecuted = %d, want 2 for conflicting writes", result.WavesExecuted)
	}
}

func TestOrchestrator_PerCallTimeoutProducesFailure(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&echoTool{meta: tools.Metadata{}, delay: 50 * time.Millisecond})

	o := orchestrator.New(reg, schedRegistry(), hooks.New(), orchestrator.WithToolTimeout(5*time.Millisecond))
	calls := []scheduler.Call{{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "slow"}}}
	result := o.Run(context.Background(), calls, "", "")

	if result.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", result.Failures)
	}
	if result.PerCallResults[0].Result.Error != "timeout" {
		t.Errorf("error = %q, want timeout", result.PerCallResults[0].Result.Error)
	}
}

func TestOrchestrator_OuterCancellationSkipsRemainingWaves(t *testing.T) {
	reg := newRegistry()
	schedReg := scheduler.MapRegistry{
		"echo": {
			Name:                "echo",
			WritesResourceTypes: []scheduler.ResourceKind{scheduler.ResourceFile},
			HasSideEffects:      true,
			Priority:            1,
		},
	}
	extractor := func(call scheduler.Call, meta scheduler.ToolMetadata) []scheduler.ResourceAccess {
		return []scheduler.ResourceAccess{{Kind: scheduler.ResourceFile, Identifier: "*", Mode: scheduler.ModeWrite}}
	}
	o := orchestrator.New(reg, schedReg, hooks.New(), orchestrator.WithExtractor(extractor))

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn() // already cancelled before Run starts

	calls := []scheduler.Call{
		{ID: "1", ToolName: "echo", Args: map[string]any{"msg": "a"}},
		{ID: "2", ToolName: "echo", Args: map[string]any{"msg": "b"}},
	}
	result := o.Run(ctx, calls, "", "")

	if result.WavesExecuted != 0 {
		t.Errorf("WavesExecuted = %d, want 0 when outer ctx is pre-cancelled", result.WavesExecuted)
	}
}
