package context

import (
	"context"
	"fmt"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// Config controls when and how the window is trimmed.
type Config struct {
	// ContextWindow is the model's maximum context size in tokens. 0 disables
	// auto-compaction entirely.
	ContextWindow int

	// ReserveTokens is the free-token buffer to maintain; compaction triggers
	// once usage exceeds ContextWindow-ReserveTokens. Default 16384.
	ReserveTokens int

	// KeepRecentTokens is how much recent conversation survives a
	// compaction. Default 20000.
	KeepRecentTokens int

	// WarnThreshold is the fraction of ContextWindow at which ShouldWarn
	// starts reporting true. Default 0.85.
	WarnThreshold float64
}

func (c Config) reserveTokens() int {
	if c.ReserveTokens > 0 {
		return c.ReserveTokens
	}
	return 16384
}

func (c Config) keepRecentTokens() int {
	if c.KeepRecentTokens > 0 {
		return c.KeepRecentTokens
	}
	return 20000
}

func (c Config) warnThreshold() float64 {
	if c.WarnThreshold > 0 {
		return c.WarnThreshold
	}
	return 0.85
}

func (c Config) shouldCompact(tokens int) bool {
	if c.ContextWindow <= 0 {
		return false
	}
	return tokens > c.ContextWindow-c.reserveTokens()
}

// Manager prepares the LM-facing message window for each agent round. The
// leading system message, when present, is always preserved — the core
// keeps the system prompt out of the message list entirely (ai.Context.
// SystemPrompt) so Manager never needs to special-case it directly; it
// operates only on the user/assistant/tool_result window.
type Manager struct {
	cfg        Config
	summarizer Summarizer

	// prevSummary is the most recent summary text, carried forward so the
	// next compaction can extend it incrementally rather than starting over.
	prevSummary string
}

// New builds a Manager. summarizer may be nil, in which case PrepareMessages
// never compacts (ShouldWarn still works — it's purely a token estimate).
func New(cfg Config, summarizer Summarizer) *Manager {
	return &Manager{cfg: cfg, summarizer: summarizer}
}

// PrepareMessages returns the message window to hand to the LM this round.
// If the estimated size exceeds the configured budget and a Summarizer is
// configured, the older portion is replaced by a generated checkpoint
// message; otherwise messages is returned unchanged. Always
// len(result) <= len(messages), and relative role ordering is preserved.
func (m *Manager) PrepareMessages(ctx context.Context, messages []ai.Message) ([]ai.Message, bool, error) {
	if m.summarizer == nil {
		return messages, false, nil
	}

	usage := EstimateContextTokens(messages)
	if !m.cfg.shouldCompact(usage.Tokens) {
		return messages, false, nil
	}

	cutIdx := findCutPoint(messages, m.cfg.keepRecentTokens())
	if cutIdx <= 0 {
		return messages, false, nil // conversation too short to usefully compact
	}

	toSummarise, toKeep := messages[:cutIdx], messages[cutIdx:]

	summary, err := m.summarizer.Summarize(ctx, toSummarise, m.prevSummary)
	if err != nil {
		return nil, false, fmt.Errorf("context: summarise: %w", err)
	}
	m.prevSummary = summary

	checkpoint := ai.UserMessage{
		Role: ai.RoleUser,
		Content: []ai.ContentBlock{ai.TextContent{
			Type: "text",
			Text: fmt.Sprintf("The conversation history before this point was compacted into the following summary:\n\n<summary>\n%s\n</summary>", summary),
		}},
	}

	out := make([]ai.Message, 0, 1+len(toKeep))
	out = append(out, checkpoint)
	out = append(out, toKeep...)
	return out, true, nil
}

// WarnResult is the advisory signal shouldWarn surfaces to the core; the
// core may display it but never blocks on it.
type WarnResult struct {
	Warn    bool
	Message string
}

// ShouldWarn reports whether the conversation is approaching the context
// window without yet requiring compaction (or when no compaction is
// configured at all).
func (m *Manager) ShouldWarn(messages []ai.Message) WarnResult {
	if m.cfg.ContextWindow <= 0 {
		return WarnResult{}
	}
	usage := EstimateContextTokens(messages)
	threshold := int(float64(m.cfg.ContextWindow) * m.cfg.warnThreshold())
	if usage.Tokens < threshold {
		return WarnResult{}
	}
	return WarnResult{
		Warn:    true,
		Message: fmt.Sprintf("context usage at %d/%d tokens (%.0f%%), approaching the limit", usage.Tokens, m.cfg.ContextWindow, 100*float64(usage.Tokens)/float64(m.cfg.ContextWindow)),
	}
}

// findCutPoint returns the index of the first message to keep, targeting
// roughly keepRecentTokens of trailing conversation. It never cuts between
// an assistant message carrying tool calls and its tool results, and the
// kept portion always starts at a user message. Returns -1 when the
// conversation is too short to compact.
func findCutPoint(msgs []ai.Message, keepRecentTokens int) int {
	if len(msgs) < 4 {
		return -1
	}

	accumulated := 0
	cutIdx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		accumulated += estimateTokens(msgs[i])
		if accumulated >= keepRecentTokens {
			for j := i; j < len(msgs); j++ {
				if _, ok := msgs[j].(ai.UserMessage); ok {
					if j > 0 {
						cutIdx = j
					}
					break
				}
			}
			if cutIdx == -1 {
				// No user message at or after i: step back to the nearest
				// earlier one so the kept portion still starts at a user turn.
				for j := i - 1; j > 0; j-- {
					if _, ok := msgs[j].(ai.UserMessage); ok {
						cutIdx = j
						break
					}
				}
			}
			break
		}
	}
	return cutIdx
}
