package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
	"github.com/carbon-run/agentcore/pkg/budget"
	pkgcontext "github.com/carbon-run/agentcore/pkg/context"
	"github.com/carbon-run/agentcore/pkg/orchestrator"
	"github.com/carbon-run/agentcore/pkg/scheduler"
	"github.com/carbon-run/agentcore/pkg/tools"
)

// unboundedToolTimeout is used when Config.ToolTimeout is unset (<=0): the
// orchestrator always applies a per-call timeout internally, so "no limit"
// is approximated with a ceiling well beyond any real tool call.
const unboundedToolTimeout = 24 * time.Hour

// runLoop is the core agentic loop. It:
//  1. Sends the current conversation to the LLM (streaming) with retry on transient errors.
//  2. Executes any tool calls (with confirmation, timeout, and parallel support).
//  3. Checks for steering messages (user interruption) after each batch of tool calls.
//  4. Tracks cost per turn and cumulatively.
//  5. Repeats until no tool calls and no follow-up messages.
func (a *Agent) runLoop(
	ctx context.Context,
	newMsgs []ai.Message, // nil = continue from existing context
	cfg Config,
) error {
	emit := func(e Event) {
		a.broadcast(e)
	}

	emit(Event{Type: EventAgentStart})
	defer func() {
		emit(Event{Type: EventAgentEnd, NewMessages: a.collectNew()})
	}()

	if cfg.MaxCostUSD > 0 {
		a.budgetTracker.SetLimit(cfg.MaxCostUSD)
	}

	// Add new messages to conversation history
	if len(newMsgs) > 0 {
		for _, m := range newMsgs {
			a.appendMsg(m)
			emit(Event{Type: EventMessageStart, Message: m})
			emit(Event{Type: EventMessageEnd, Message: m})
		}
	}

	var pendingMessages []ai.Message

	turnCount := 0
	for {
		hasToolCalls := true
		var steeringAfterTools []ai.Message

		for hasToolCalls || len(pendingMessages) > 0 {
			// ── Max-turn guard ──────────────────────────────────────────
			if cfg.MaxTurns > 0 && turnCount >= cfg.MaxTurns {
				emit(Event{Type: EventTurnLimitReached})
				return nil
			}

			// ── Budget guard ────────────────────────────────────────────
			if cfg.MaxCostUSD > 0 {
				status := a.budgetTracker.BudgetStatus()
				if status.Blocked {
					a.logger.Warn("budget limit reached", "cost", status.Used, "limit", status.Limit)
					emit(Event{Type: EventTurnLimitReached})
					return nil
				}
			}

			turnCount++
			turnStart := time.Now()

			// Inject steering / follow-up messages
			for _, m := range pendingMessages {
				a.appendMsg(m)
				emit(Event{Type: EventMessageStart, Message: m})
				emit(Event{Type: EventMessageEnd, Message: m})
			}
			pendingMessages = nil

			// Compact context if needed (before next LLM call).
			if err := a.maybeCompact(ctx); err != nil {
				a.logger.Warn("compaction failed", "error", err)
			}

			// Stream assistant response (with retry)
			providerStart := time.Now()
			assistantMsg, err := a.streamResponseWithRetry(ctx, cfg, emit)
			providerLatency := time.Since(providerStart)
			if err != nil {
				return err
			}
			a.appendMsg(assistantMsg)

			if assistantMsg.StopReason == ai.StopReasonError ||
				assistantMsg.StopReason == ai.StopReasonAborted {
				emit(Event{Type: EventTurnEnd, Message: assistantMsg})
				return nil
			}

			// Collect tool calls
			var toolCalls []ai.ToolCall
			for _, c := range assistantMsg.Content {
				if tc, ok := c.(ai.ToolCall); ok {
					toolCalls = append(toolCalls, tc)
				}
			}
			hasToolCalls = len(toolCalls) > 0

			var toolResults []ai.ToolResultMessage
			var toolDurations map[string]time.Duration
			if hasToolCalls {
				var results []ai.ToolResultMessage
				var steering []ai.Message
				var durations map[string]time.Duration
				var execErr error

				results, steering, durations, execErr = a.executeToolCalls(ctx, toolCalls, cfg, emit)
				if execErr != nil {
					return execErr
				}
				toolResults = results
				toolDurations = durations
				steeringAfterTools = steering
				for _, r := range toolResults {
					a.appendMsg(r)
				}
			}

			// ── Cost tracking ───────────────────────────────────────────
			turnDelta := a.budgetTracker.RecordRequest(
				a.model,
				assistantMsg.Usage.Input,
				assistantMsg.Usage.Output,
				assistantMsg.Usage.CacheRead,
			)
			turnCost := toCostUsage(budget.Totals(turnDelta))
			cumCost := toCostUsage(a.budgetTracker.Totals())

			usage := pkgcontext.EstimateContextTokens(a.snapshotMessages())
			turnDur := time.Since(turnStart)

			emit(Event{
				Type:         EventTurnEnd,
				Message:      assistantMsg,
				ToolResults:  toolResults,
				ContextUsage: usage,
				CostUsage:    cumCost,
				TurnDuration: turnDur,
			})

			// ── Observability ───────────────────────────────────────────
			if a.metricsClient != nil {
				a.metricsClient.RecordLLMCall(
					a.provider.Name(), a.model,
					assistantMsg.Usage.Input, assistantMsg.Usage.Output,
					assistantMsg.Usage.CacheRead, assistantMsg.Usage.CacheWrite,
					turnCost.TotalCost, float64(providerLatency.Milliseconds()),
				)
				for name, d := range toolDurations {
					a.metricsClient.RecordToolExecution(a.provider.Name(), a.model, name, float64(d.Milliseconds()))
				}
			}

			if cfg.OnMetrics != nil {
				cfg.OnMetrics(TurnMetrics{
					TurnNumber:       turnCount,
					ProviderLatency:  providerLatency,
					ToolDurations:    toolDurations,
					InputTokens:      assistantMsg.Usage.Input,
					OutputTokens:     assistantMsg.Usage.Output,
					CacheReadTokens:  assistantMsg.Usage.CacheRead,
					CacheWriteTokens: assistantMsg.Usage.CacheWrite,
					TotalCost:        turnCost.TotalCost,
				})
			}

			if len(steeringAfterTools) > 0 {
				pendingMessages = steeringAfterTools
				steeringAfterTools = nil
			} else if cfg.GetSteeringMessages != nil {
				msgs, _ := cfg.GetSteeringMessages()
				pendingMessages = msgs
			}
		}

		// Would stop here — check for follow-up messages
		if cfg.GetFollowUpMessages != nil {
			followUp, _ := cfg.GetFollowUpMessages()
			if len(followUp) > 0 {
				pendingMessages = followUp
				continue
			}
		}
		break
	}

	return nil
}

// ---------------------------------------------------------------------------
// Retry logic
// ---------------------------------------------------------------------------

// isTransientError returns true if the error is likely transient and retryable.
func isTransientError(msg *ai.AssistantMessage, err error) bool {
	if err != nil {
		s := err.Error()
		for _, pattern := range []string{
			"429", "rate limit", "too many requests",
			"500", "502", "503", "504",
			"internal server error", "bad gateway", "service unavailable",
			"connection reset", "connection refused", "EOF",
			"timeout", "timed out",
		} {
			if strings.Contains(strings.ToLower(s), pattern) {
				return true
			}
		}
	}
	if msg != nil && msg.StopReason == ai.StopReasonError {
		s := msg.ErrorMessage
		for _, pattern := range []string{
			"429", "rate limit", "too many requests",
			"500", "502", "503", "504",
			"overloaded", "capacity",
		} {
			if strings.Contains(strings.ToLower(s), pattern) {
				return true
			}
		}
	}
	return false
}

// streamResponseWithRetry calls streamResponse with exponential backoff retry.
func (a *Agent) streamResponseWithRetry(
	ctx context.Context,
	cfg Config,
	emit func(Event),
) (*ai.AssistantMessage, error) {
	maxRetries := cfg.MaxRetries
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultRetryBaseDelay
	}

	for attempt := 0; ; attempt++ {
		msg, err := a.streamResponse(ctx, cfg, emit)

		// Success or non-retryable
		if err == nil && (msg.StopReason != ai.StopReasonError || !isTransientError(msg, nil)) {
			return msg, nil
		}
		if err != nil && !isTransientError(nil, err) {
			return msg, err
		}

		// Check if we've exhausted retries
		if attempt >= maxRetries {
			return msg, err
		}

		// Backoff
		delay := baseDelay * (1 << attempt)
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}

		a.logger.Warn("retrying LLM call",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", fmt.Sprintf("%v", err),
		)
		if a.metricsClient != nil {
			a.metricsClient.RecordError(a.provider.Name(), a.model, "", "transient")
		}

		emit(Event{
			Type:         EventRetry,
			RetryAttempt: attempt + 1,
			RetryError:   err,
			RetryDelay:   delay,
		})

		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// streamResponse calls the provider and fans stream events to listeners.
func (a *Agent) streamResponse(
	ctx context.Context,
	cfg Config,
	emit func(Event),
) (*ai.AssistantMessage, error) {
	// Snapshot history
	history := a.snapshotMessages()

	// Apply transform
	if cfg.TransformContext != nil {
		var err error
		history, err = cfg.TransformContext(history)
		if err != nil {
			return nil, fmt.Errorf("transform context: %w", err)
		}
	}

	// Convert to LLM messages
	llmMsgs := history
	if cfg.ConvertToLLM != nil {
		var err error
		llmMsgs, err = cfg.ConvertToLLM(history)
		if err != nil {
			return nil, fmt.Errorf("convert to llm: %w", err)
		}
	} else {
		llmMsgs = defaultConvertToLLM(history)
	}

	// Build tool definitions from registry
	var toolDefs []ai.ToolDefinition
	for _, t := range a.tools.All() {
		toolDefs = append(toolDefs, t.Definition())
	}

	llmCtx := ai.Context{
		SystemPrompt: a.systemPrompt,
		Messages:     llmMsgs,
		Tools:        toolDefs,
	}

	// Resolve API key
	opts := cfg.StreamOptions
	if cfg.GetAPIKey != nil {
		key, err := cfg.GetAPIKey(a.provider.Name())
		if err == nil && key != "" {
			opts.APIKey = key
		}
	}

	events, wait := a.provider.Stream(ctx, a.model, llmCtx, opts)

	// Build partial message
	partial := &ai.AssistantMessage{
		Role:      ai.RoleAssistant,
		Model:     a.model,
		Provider:  a.provider.Name(),
		Timestamp: time.Now().UnixMilli(),
	}

	emit(Event{Type: EventMessageStart, Message: partial})

	for ev := range events {
		switch ev.Type {
		case ai.StreamEventStart:
			partial = ev.Partial
		case ai.StreamEventTextDelta,
			ai.StreamEventThinkingDelta,
			ai.StreamEventToolCallStart,
			ai.StreamEventToolCallDelta,
			ai.StreamEventToolCallEnd:
			partial = ev.Partial
			emit(Event{Type: EventMessageUpdate, Message: partial, StreamEvent: &ev})
		case ai.StreamEventDone:
			partial = ev.Partial
		case ai.StreamEventError:
			// surface error as error message
			partial.StopReason = ai.StopReasonError
			if ev.Error != nil {
				partial.ErrorMessage = ev.Error.Error()
			}
		}
	}

	finalMsg, err := wait()
	if err != nil {
		partial.StopReason = ai.StopReasonError
		partial.ErrorMessage = err.Error()
		emit(Event{Type: EventMessageEnd, Message: partial})
		return partial, nil // non-fatal: agent records error turn
	}

	emit(Event{Type: EventMessageEnd, Message: finalMsg})
	return finalMsg, nil
}

// ---------------------------------------------------------------------------
// Tool execution
// ---------------------------------------------------------------------------

// toSchedulerMetadata adapts a tool's invoker-facing Metadata to the
// dependency scheduler's resource-conflict descriptor.
func toSchedulerMetadata(name string, m tools.Metadata) scheduler.ToolMetadata {
	var writes []scheduler.ResourceKind
	if m.ModifiesFiles {
		writes = append(writes, scheduler.ResourceFile)
	}
	if m.MakesNetworkRequests {
		writes = append(writes, scheduler.ResourceNetwork)
	}
	return scheduler.ToolMetadata{
		Name:                name,
		WritesResourceTypes: writes,
		HasSideEffects:      m.ModifiesFiles || m.MakesNetworkRequests,
		ParallelSafe:        !m.ModifiesFiles,
		Priority:            m.Priority,
	}
}

// executeToolCalls gates one turn's tool calls through cfg.ConfirmToolCall
// (tri-state allow/deny/abort, checked serially before any dispatch), then
// hands the surviving batch to the tool orchestrator (C5), which plans
// dependency-safe waves (C3), and for every call runs the hook pipeline's
// before/after/persist stages (C2) around the validating, duration-stamping
// invoker (C1). Steering is checked once after the whole batch settles.
func (a *Agent) executeToolCalls(
	ctx context.Context,
	toolCalls []ai.ToolCall,
	cfg Config,
	emit func(Event),
) ([]ai.ToolResultMessage, []ai.Message, map[string]time.Duration, error) {
	results := make([]ai.ToolResultMessage, len(toolCalls))
	byID := make(map[string]ai.ToolCall, len(toolCalls))
	pending := make([]scheduler.Call, 0, len(toolCalls))
	pendingIdx := make(map[string]int, len(toolCalls))

	for i, tc := range toolCalls {
		byID[tc.ID] = tc

		if cfg.ConfirmToolCall != nil {
			decision, err := cfg.ConfirmToolCall(tc.Name, tc.Arguments)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("confirm tool call: %w", err)
			}
			if decision == ConfirmAbort {
				emit(Event{Type: EventToolDenied, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments})
				return nil, nil, nil, fmt.Errorf("tool call aborted by user")
			}
			if decision == ConfirmDeny {
				emit(Event{Type: EventToolDenied, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments})
				results[i] = ai.ToolResultMessage{
					Role:       ai.RoleToolResult,
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: "Tool call denied by user."}},
					IsError:    true,
					Timestamp:  time.Now().UnixMilli(),
				}
				continue
			}
		}

		pendingIdx[tc.ID] = i
		pending = append(pending, scheduler.Call{ID: tc.ID, ToolName: tc.Name, Args: tc.Arguments})
	}

	durations := make(map[string]time.Duration, len(toolCalls))
	if len(pending) == 0 {
		return results, nil, durations, nil
	}

	schedReg := make(scheduler.MapRegistry, len(pending))
	for _, c := range pending {
		if tool := a.tools.Get(c.ToolName); tool != nil {
			schedReg[c.ToolName] = toSchedulerMetadata(c.ToolName, tool.Metadata())
		}
	}

	for _, c := range pending {
		tc := byID[c.ID]
		emit(Event{Type: EventToolStart, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments})
	}

	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = unboundedToolTimeout
	}

	orch := orchestrator.New(a.tools, schedReg, a.hooksPipeline,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMaxConcurrency(maxInt(cfg.MaxToolConcurrency, 1)),
		orchestrator.WithToolTimeout(toolTimeout),
		orchestrator.WithOnUpdate(func(callID string, partial tools.Result) {
			tc := byID[callID]
			emit(Event{Type: EventToolUpdate, ToolCallID: callID, ToolName: tc.Name, ToolArgs: tc.Arguments, ToolResult: &partial})
		}),
	)

	sessionID := ""
	if a.sess != nil {
		sessionID = a.sess.ID()
	}
	batch := orch.Run(ctx, pending, sessionID, a.agentID)

	for _, cr := range batch.PerCallResults {
		idx, ok := pendingIdx[cr.CallID]
		if !ok {
			continue
		}
		tc := byID[cr.CallID]
		durations[tc.Name] = time.Duration(cr.Result.DurationMs) * time.Millisecond

		res := cr.Result
		emit(Event{
			Type:       EventToolEnd,
			ToolCallID: cr.CallID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Arguments,
			ToolResult: &res,
			IsError:    !res.Success,
		})

		contentBlocks := append([]ai.ContentBlock(nil), res.Content...)
		results[idx] = ai.ToolResultMessage{
			Role:       ai.RoleToolResult,
			ToolCallID: cr.CallID,
			ToolName:   tc.Name,
			Content:    contentBlocks,
			Details:    res.Details,
			IsError:    !res.Success,
			Timestamp:  time.Now().UnixMilli(),
		}
	}

	for _, r := range results {
		emit(Event{Type: EventMessageStart, Message: r})
		emit(Event{Type: EventMessageEnd, Message: r})
	}

	var steeringMessages []ai.Message
	if cfg.GetSteeringMessages != nil {
		steering, _ := cfg.GetSteeringMessages()
		if len(steering) > 0 {
			steeringMessages = steering
		}
	}

	return results, steeringMessages, durations, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// defaultConvertToLLM filters to the three message types LLMs understand.
func defaultConvertToLLM(msgs []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.GetRole() {
		case ai.RoleUser, ai.RoleAssistant, ai.RoleToolResult:
			out = append(out, m)
		}
	}
	return out
}
