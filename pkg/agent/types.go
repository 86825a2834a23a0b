// Package agent provides the high-level Agent type and event system.
package agent

import (
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
	pkgcontext "github.com/carbon-run/agentcore/pkg/context"
	"github.com/carbon-run/agentcore/pkg/tools"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType identifies an agent lifecycle event.
type EventType string

const (
	// Lifecycle
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"

	// Turn = one assistant response + any resulting tool calls/results
	EventTurnStart EventType = "turn_start"
	EventTurnEnd   EventType = "turn_end"

	// Message lifecycle
	EventMessageStart  EventType = "message_start"
	EventMessageUpdate EventType = "message_update"
	EventMessageEnd    EventType = "message_end"

	// Tool execution
	EventToolStart  EventType = "tool_start"
	EventToolUpdate EventType = "tool_update"
	EventToolEnd    EventType = "tool_end"

	// EventToolDenied fires when a tool call is blocked by ConfirmToolCall
	// (either an explicit deny or an abort of the whole turn).
	EventToolDenied EventType = "tool_denied"

	// Compaction
	EventCompaction EventType = "compaction"

	// Turn limit reached — loop stopped before the LLM finished naturally,
	// either because MaxTurns or MaxCostUSD was hit.
	EventTurnLimitReached EventType = "turn_limit_reached"

	// EventRetry fires before each backoff sleep when a transient provider
	// error is retried.
	EventRetry EventType = "retry"
)

// ContextUsage carries a snapshot of estimated context token usage after a turn.
type ContextUsage = pkgcontext.Usage

// CompactionEvent describes a completed context compaction.
type CompactionEvent struct {
	Summary         string
	MessagesRemoved int
	MessagesKept    int
	TokensBefore    int
	TokensAfter     int
}

// CostUsage is the cost/token accounting attached to a turn or accumulated
// across a session. Same shape whether it describes one turn's delta or the
// session-wide running total.
type CostUsage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	InputCost    float64
	OutputCost   float64
	CachedCost   float64
	TotalCost    float64
}

// TurnMetrics summarises one turn's timing and token usage, delivered via
// Config.OnMetrics for callers that want a callback instead of subscribing
// to events.
type TurnMetrics struct {
	TurnNumber       int
	ProviderLatency  time.Duration
	ToolDurations    map[string]time.Duration
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	TotalCost        float64
}

// Event carries a lifecycle notification from the agent loop.
type Event struct {
	Type EventType

	// Set for message_* events
	Message ai.Message

	// Set for message_update
	StreamEvent *ai.StreamEvent

	// Set for turn_end
	ToolResults  []ai.ToolResultMessage
	ContextUsage ContextUsage // estimated context token usage after this turn
	CostUsage    CostUsage    // cumulative session cost after this turn
	TurnDuration time.Duration

	// Set for compaction events
	Compaction *CompactionEvent

	// Set for tool_* events
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult *tools.Result
	IsError    bool

	// Set for retry events
	RetryAttempt int
	RetryError   error
	RetryDelay   time.Duration

	// Set for agent_end
	NewMessages []ai.Message
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the observable state of the agent (read-only snapshot).
type State struct {
	SystemPrompt     string
	Model            string
	Provider         string
	Messages         []ai.Message
	IsStreaming      bool
	PendingToolCalls map[string]bool // callID → in-flight
	Error            string
	ContextTokens    int       // estimated context size after the last turn
	CumulativeCost   CostUsage // running cost total across every Prompt call on this agent
}

// ---------------------------------------------------------------------------
// Confirmation
// ---------------------------------------------------------------------------

// ConfirmResult is the tri-state decision returned by Config.ConfirmToolCall.
type ConfirmResult int

const (
	// ConfirmAllow runs the tool call as requested.
	ConfirmAllow ConfirmResult = iota
	// ConfirmDeny skips this one call; the loop continues with an
	// error tool result standing in for it.
	ConfirmDeny
	// ConfirmAbort stops the whole Prompt call with an error.
	ConfirmAbort
)

// AutoApproveAll is a ConfirmToolCall implementation that allows every call
// unattended. Equivalent to leaving ConfirmToolCall nil, but useful as an
// explicit, named value in config wiring.
func AutoApproveAll(string, map[string]any) (ConfirmResult, error) {
	return ConfirmAllow, nil
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds everything needed to run the agent loop for one call.
type Config struct {
	// ConvertToLLM transforms the agent message history to the slice that gets
	// sent to the LLM. Default: keep only user/assistant/toolResult messages.
	ConvertToLLM func([]ai.Message) ([]ai.Message, error)

	// TransformContext optionally prunes / enriches messages before ConvertToLLM.
	TransformContext func([]ai.Message) ([]ai.Message, error)

	// GetAPIKey returns the API key for the named provider (for dynamic/expiring keys).
	GetAPIKey func(provider string) (string, error)

	// GetSteeringMessages returns interruption messages to inject after each batch of tool calls.
	// Return nil/empty to continue normally.
	GetSteeringMessages func() ([]ai.Message, error)

	// GetFollowUpMessages returns follow-up messages after the agent would otherwise stop.
	GetFollowUpMessages func() ([]ai.Message, error)

	// StreamOptions passed to the provider.
	StreamOptions ai.StreamOptions

	// MaxTurns is the maximum number of LLM calls (turns) per Run.
	// Each turn = one assistant response + its tool calls.
	// 0 means unlimited (default). When the limit is hit the loop stops
	// and an EventTurnLimitReached event is broadcast.
	MaxTurns int

	// MaxCostUSD stops the loop once cumulative session cost reaches this
	// amount. 0 disables the guard. Checked at the top of every turn, so
	// the turn that crosses the limit still completes.
	MaxCostUSD float64

	// ConfirmToolCall gates every tool call before it runs. nil auto-approves
	// (equivalent to AutoApproveAll).
	ConfirmToolCall func(name string, args map[string]any) (ConfirmResult, error)

	// MaxToolConcurrency bounds how many tool calls within one wave run at
	// once. <= 1 means sequential.
	MaxToolConcurrency int

	// ToolTimeout bounds a single tool call's execution. 0 means no timeout.
	ToolTimeout time.Duration

	// MaxRetries is how many times a transient provider error is retried
	// before the turn is recorded as an error turn.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay; doubles each attempt up
	// to a 60s ceiling. 0 uses defaultRetryBaseDelay.
	RetryBaseDelay time.Duration

	// OnMetrics, if set, receives a summary of each completed turn.
	OnMetrics func(TurnMetrics)
}

// defaultRetryBaseDelay is used when Config.RetryBaseDelay is zero.
const defaultRetryBaseDelay = 500 * time.Millisecond

// DefaultMaxTurns is used by the CLI when no explicit limit is set.
// 0 = unlimited; change to a non-zero value to cap all runs.
const DefaultMaxTurns = 0
