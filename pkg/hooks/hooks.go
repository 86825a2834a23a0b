// Package hooks implements the priority-ordered tool-hook pipeline that
// intercepts every tool call: before, after, persist, onError, onTimeout,
// and onDenied stages.
package hooks

import (
	"time"
)

// Context is threaded through every stage of a single tool call.
type Context struct {
	ToolName     string
	OriginalArgs map[string]any
	CurrentArgs  map[string]any
	ToolCallID   string
	SessionID    string
	AgentID      string
	Timestamp    time.Time
	Metadata     map[string]any
}

// clone returns a shallow copy of ctx suitable for threading through hooks
// without hooks racing on the shared struct.
func (c Context) clone() Context {
	out := c
	if c.CurrentArgs != nil {
		out.CurrentArgs = make(map[string]any, len(c.CurrentArgs))
		for k, v := range c.CurrentArgs {
			out.CurrentArgs[k] = v
		}
	}
	return out
}

// Result mirrors tools.Result's shape closely enough for hooks to inspect
// and mutate without importing the tools package (keeps hooks free of a
// dependency cycle: tools -> invoker -> orchestrator -> hooks).
type Result struct {
	Success    bool
	Output     string
	Error      string
	DurationMs int64
	Modified   bool
}

// Stage identifies one of the six lifecycle interception points.
type Stage string

const (
	StageBefore    Stage = "before"
	StageAfter     Stage = "after"
	StagePersist   Stage = "persist"
	StageOnError   Stage = "on_error"
	StageOnTimeout Stage = "on_timeout"
	StageOnDenied  Stage = "on_denied"
)

// BeforeFunc may mutate ctx.CurrentArgs. Returning a zero Context (ok=false)
// preserves the incoming ctx unchanged.
type BeforeFunc func(ctx Context) (out Context, ok bool, err error)

// AfterFunc may mutate result. Returning ok=false preserves result.
type AfterFunc func(ctx Context, result Result) (out Result, ok bool, err error)

// PersistFunc runs synchronously immediately before a result is written to
// any transcript. It must never block.
type PersistFunc func(ctx Context, result Result) (Result, error)

// NotifyFunc backs onError/onTimeout/onDenied; its return value is
// discarded by the pipeline.
type NotifyFunc func(ctx Context, detail string)

// FailureMode controls what happens when a hook errors or times out.
type FailureMode int

const (
	// FailureModeContinue logs the error and continues the chain with the
	// unmodified ctx/result. This is the default.
	FailureModeContinue FailureMode = iota
	// FailureModeAbort stops the chain immediately, returning the error.
	FailureModeAbort
)
