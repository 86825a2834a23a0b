// Package context prepares the message window handed to the LM client each
// round: token estimation, advisory near-limit warnings, and — when the
// window would overflow — summarising the older portion of the conversation
// and replacing it with a compact checkpoint.
package context

import (
	"encoding/json"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// Usage is the result of estimating a message list's token footprint.
type Usage struct {
	// Tokens is the best estimate of the total context size.
	Tokens int
	// UsageTokens is the exact count reported by the last assistant message
	// that carried real provider usage data (0 if none yet).
	UsageTokens int
	// TrailingTokens is the estimated size of everything appended since
	// UsageTokens was last known.
	TrailingTokens int
}

// EstimateContextTokens estimates the total token count of a message
// history. It anchors on the last AssistantMessage with non-zero usage (an
// exact count from the provider) and estimates chars/4 for anything
// appended since.
func EstimateContextTokens(msgs []ai.Message) Usage {
	lastUsageIdx := -1
	var lastUsage ai.Usage
	for i := len(msgs) - 1; i >= 0; i-- {
		if am, ok := msgs[i].(ai.AssistantMessage); ok {
			if am.StopReason != ai.StopReasonError && am.StopReason != ai.StopReasonAborted &&
				(am.Usage.TotalTokens > 0 || am.Usage.Input > 0) {
				lastUsageIdx = i
				lastUsage = am.Usage
				break
			}
		}
	}

	if lastUsageIdx == -1 {
		total := 0
		for _, m := range msgs {
			total += estimateTokens(m)
		}
		return Usage{Tokens: total, TrailingTokens: total}
	}

	usageTokens := lastUsage.TotalTokens
	if usageTokens == 0 {
		usageTokens = lastUsage.Input + lastUsage.Output + lastUsage.CacheRead + lastUsage.CacheWrite
	}

	trailing := 0
	for _, m := range msgs[lastUsageIdx+1:] {
		trailing += estimateTokens(m)
	}

	return Usage{Tokens: usageTokens + trailing, UsageTokens: usageTokens, TrailingTokens: trailing}
}

// estimateTokens estimates a single message's token count using chars/4,
// intentionally conservative (overestimates).
func estimateTokens(m ai.Message) int {
	chars := 0
	switch msg := m.(type) {
	case ai.UserMessage:
		for _, b := range msg.Content {
			switch blk := b.(type) {
			case ai.TextContent:
				chars += len(blk.Text)
			case ai.ImageContent:
				chars += 4 * 1200
			}
		}
	case ai.AssistantMessage:
		for _, b := range msg.Content {
			switch blk := b.(type) {
			case ai.TextContent:
				chars += len(blk.Text)
			case ai.ThinkingContent:
				chars += len(blk.Thinking)
			case ai.ToolCall:
				chars += len(blk.Name)
				if j, err := json.Marshal(blk.Arguments); err == nil {
					chars += len(j)
				}
			}
		}
	case ai.ToolResultMessage:
		for _, b := range msg.Content {
			switch blk := b.(type) {
			case ai.TextContent:
				chars += len(blk.Text)
			case ai.ImageContent:
				chars += 4 * 1200
			}
		}
	}
	if chars == 0 {
		return 0
	}
	t := chars / 4
	if t == 0 {
		t = 1
	}
	return t
}
