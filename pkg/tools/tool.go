// Package tools defines the Tool interface, registry, and the external
// subprocess plugin protocol.
package tools

import (
	"context"
	"encoding/json"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// ---------------------------------------------------------------------------
// Tool interface
// ---------------------------------------------------------------------------

// Result is the output of a tool execution: {success, output?, error?,
// durationMs, modified}, decorated with the richer Content/Details the
// LLM and UI actually consume.
type Result struct {
	// Content is sent back to the LLM (text or images).
	Content []ai.ContentBlock
	// Details is arbitrary structured data for UIs/logging (not sent to LLM).
	Details any

	// Success mirrors the invoker contract's {success: bool}.
	Success bool
	// Error is the stable error string when Success is false.
	Error string
	// DurationMs is always set by the invoker.
	DurationMs int64
	// Modified is set true by the hook pipeline's after-stage when a hook
	// mutates the result.
	Modified bool
}

// Output concatenates the text content blocks, mirroring the invoker
// contract's {output?: string}.
func (r Result) Output() string {
	var out string
	for _, c := range r.Content {
		if tc, ok := c.(ai.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

// UpdateFn is an optional callback for streaming partial results to a UI.
type UpdateFn func(partial Result)

// Tool is the interface every tool must implement.
// Register it with the Registry; the agent loop calls Execute automatically.
type Tool interface {
	// Definition returns the schema handed to the LLM.
	Definition() ai.ToolDefinition
	// Execute runs the tool. ctx carries the agent's cancel signal.
	// onUpdate may be nil; implementations must guard before calling it.
	Execute(ctx context.Context, callID string, params map[string]any, onUpdate UpdateFn) (Result, error)
	// Metadata describes confirmation/side-effect characteristics used by
	// the invoker and the dependency scheduler.
	Metadata() Metadata
	// IsAvailable reports whether the tool can run in the current
	// environment (missing binary, disabled feature, etc).
	IsAvailable() bool
}

// Metadata is the static, per-tool descriptor named in the invoker contract:
// category, priority, requiresConfirmation, modifiesFiles, makesNetworkRequests.
type Metadata struct {
	Category             string
	Priority             int
	RequiresConfirmation bool
	ModifiesFiles        bool
	MakesNetworkRequests bool
}

// ---------------------------------------------------------------------------
// Convenience constructors for Result content
// ---------------------------------------------------------------------------

func TextResult(text string) Result {
	return Result{Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}}, Success: true}
}

func ErrorResult(err error) Result {
	r := TextResult("error: " + err.Error())
	r.Success = false
	r.Error = err.Error()
	return r
}

// ---------------------------------------------------------------------------
// SimpleSchema is a helper for building JSON Schema objects inline.
// ---------------------------------------------------------------------------

type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns a JSON Schema for the given SimpleSchema.
func MustSchema(s SimpleSchema) json.RawMessage {
	s2 := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		s2["required"] = s.Required
	}
	b, err := json.Marshal(s2)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
