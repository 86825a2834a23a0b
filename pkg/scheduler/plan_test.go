package scheduler_test

import (
	"testing"

	"github.com/carbon-run/agentcore/pkg/scheduler"
)

func testRegistry() scheduler.MapRegistry {
	return scheduler.MapRegistry{
		"view_file": {Name: "view_file", ParallelSafe: true, Priority: 1},
		"str_replace_editor": {
			Name:                "str_replace_editor",
			WritesResourceTypes: []scheduler.ResourceKind{scheduler.ResourceFile},
			HasSideEffects:      true,
			Priority:            5,
		},
		"bash": {Name: "bash", HasSideEffects: true, Priority: 1},
		"web_search": {
			Name:         "web_search",
			ParallelSafe: true,
			Priority:     3,
		},
	}
}

func TestPlan_IndependentReadsRunInOneWave(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "view_file", Args: map[string]any{"path": "/a.go"}},
		{ID: "2", ToolName: "view_file", Args: map[string]any{"path": "/b.go"}},
		{ID: "3", ToolName: "web_search", Args: map[string]any{"query": "golang"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 1 {
		t.Fatalf("waves = %d, want 1", len(plan.Waves))
	}
	if !plan.Parallelised {
		t.Error("expected parallelised=true for 3 independent reads")
	}
	if len(plan.Waves[0]) != 3 {
		t.Errorf("wave 0 has %d calls, want 3", len(plan.Waves[0]))
	}
}

func TestPlan_WriteThenReadSameFileSerializes(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
		{ID: "2", ToolName: "view_file", Args: map[string]any{"path": "/a.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 2 {
		t.Fatalf("waves = %d, want 2", len(plan.Waves))
	}
	if plan.Waves[0][0].ID != "1" || plan.Waves[1][0].ID != "2" {
		t.Errorf("expected write before read, got %v then %v", plan.Waves[0], plan.Waves[1])
	}
}

func TestPlan_DifferentFilesDoNotConflict(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
		{ID: "2", ToolName: "str_replace_editor", Args: map[string]any{"path": "/b.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 1 {
		t.Fatalf("waves = %d, want 1 (writes to distinct files should parallelise)", len(plan.Waves))
	}
}

func TestPlan_BashMutatingCommandConflictsWithFileWrite(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "bash", Args: map[string]any{"command": "rm -rf build"}},
		{ID: "2", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 2 {
		t.Fatalf("waves = %d, want 2 (bash rm should conflict with a wildcard file write)", len(plan.Waves))
	}
}

func TestPlan_BashReadOnlyCommandParallelisesWithReads(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "bash", Args: map[string]any{"command": "cat README.md"}},
		{ID: "2", ToolName: "view_file", Args: map[string]any{"path": "/a.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 1 {
		t.Errorf("waves = %d, want 1 (read-only bash should not conflict with a file read)", len(plan.Waves))
	}
}

func TestPlan_UnparseableBashAssumesWorstCase(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "bash", Args: map[string]any{"command": "some-custom-binary --flag"}},
		{ID: "2", ToolName: "bash", Args: map[string]any{"command": "cat foo.txt"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 2 {
		t.Errorf("waves = %d, want 2 (unrecognized command should be treated as a write)", len(plan.Waves))
	}
}

func TestPlan_SingleCallBatchIsNotParallelised(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "view_file", Args: map[string]any{"path": "/a.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if plan.Parallelised {
		t.Error("single-call batch must have parallelised=false")
	}
	if len(plan.Waves) != 1 || len(plan.Waves[0]) != 1 {
		t.Errorf("expected exactly one wave of one call, got %v", plan.Waves)
	}
}

func TestPlan_ExplicitDependsOnForcesOrder(t *testing.T) {
	reg := testRegistry()
	meta := reg["view_file"]
	meta.ExplicitDependsOn = []string{"str_replace_editor"}
	reg["view_file"] = meta

	// Note: edges only go i->j for i<j in batch order, so to exercise the
	// explicit dependency the dependency-of must come first in the batch.
	calls := []scheduler.Call{
		{ID: "1", ToolName: "str_replace_editor", Args: map[string]any{"path": "/other.go"}},
		{ID: "2", ToolName: "view_file", Args: map[string]any{"path": "/unrelated.go"}},
	}
	plan := scheduler.Plan(calls, reg, nil)
	if len(plan.Waves) != 2 {
		t.Fatalf("waves = %d, want 2 (view_file explicitly depends on str_replace_editor)", len(plan.Waves))
	}
	if plan.Waves[0][0].ID != "1" || plan.Waves[1][0].ID != "2" {
		t.Errorf("expected str_replace_editor before view_file, got %v then %v", plan.Waves[0], plan.Waves[1])
	}
}

func TestPlan_LevelsAreStrictlyIncreasingAcrossConflictEdges(t *testing.T) {
	calls := []scheduler.Call{
		{ID: "1", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
		{ID: "2", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
		{ID: "3", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}},
	}
	plan := scheduler.Plan(calls, testRegistry(), nil)

	if len(plan.Waves) != 3 {
		t.Fatalf("waves = %d, want 3 (three conflicting writes to the same file must fully serialize)", len(plan.Waves))
	}
	for i, w := range plan.Waves {
		if len(w) != 1 {
			t.Errorf("wave %d has %d calls, want 1", i, len(w))
		}
	}
}

func TestCanRunInParallel_AgreesWithPlan(t *testing.T) {
	reg := testRegistry()
	a := scheduler.Call{ID: "1", ToolName: "view_file", Args: map[string]any{"path": "/a.go"}}
	b := scheduler.Call{ID: "2", ToolName: "view_file", Args: map[string]any{"path": "/b.go"}}
	if !scheduler.CanRunInParallel(a, b, reg, nil) {
		t.Error("two independent reads should be parallel-safe")
	}

	c := scheduler.Call{ID: "3", ToolName: "str_replace_editor", Args: map[string]any{"path": "/a.go"}}
	if scheduler.CanRunInParallel(a, c, reg, nil) {
		t.Error("a read and a write to the same file should not be parallel-safe")
	}
}
