// Package scheduler builds a dependency graph over a batch of tool calls
// and slices it into waves of calls safe to run concurrently, the way a
// build system orders conflicting file writes without serializing
// everything.
package scheduler

// ResourceKind is the type of resource a tool call touches.
type ResourceKind string

const (
	ResourceFile      ResourceKind = "file"
	ResourceDirectory ResourceKind = "directory"
	ResourceNetwork   ResourceKind = "network"
	ResourceProcess   ResourceKind = "process"
	ResourceState     ResourceKind = "state"
)

// Mode is how a resource is accessed.
type Mode string

const (
	ModeRead    Mode = "read"
	ModeWrite   Mode = "write"
	ModeExecute Mode = "execute"
)

// ResourceAccess is one identifier touched by a tool call, at a given mode.
// Identifier "*" means "any resource of this kind" — the conservative
// worst-case used when argument parsing fails.
type ResourceAccess struct {
	Kind       ResourceKind
	Identifier string
	Mode       Mode
}

// ToolMetadata is the static, per-tool-name scheduling descriptor. It is
// distinct from tools.Metadata (which covers confirmation/UI concerns);
// this one is scoped to what the scheduler needs to build conflict edges.
type ToolMetadata struct {
	Name               string
	ReadsResourceTypes []ResourceKind
	WritesResourceTypes []ResourceKind
	HasSideEffects     bool
	ParallelSafe       bool
	Priority           int
	ExplicitDependsOn  []string
}

// Call is the scheduler's view of a pending tool invocation: just enough to
// build the graph, independent of the agent-loop's richer ToolCall type.
type Call struct {
	ID       string
	ToolName string
	Args     map[string]any
}

// ExecutionPlan is the scheduler's output: waves run sequentially, calls
// within a wave run concurrently.
type ExecutionPlan struct {
	Waves        [][]Call
	Parallelised bool
	Explanation  string
}

// ResourceExtractor produces the ResourceAccess list for one call. The
// default extractor handles structured path/url arguments and the bash
// regex heuristics from BashResourceAccesses; callers may override it to
// add tool-specific argument shapes.
type ResourceExtractor func(call Call, meta ToolMetadata) []ResourceAccess
