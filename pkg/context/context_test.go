package context_test

import (
	stdctx "context"
	"strings"
	"testing"

	"github.com/carbon-run/agentcore/pkg/ai"
	ctxmgr "github.com/carbon-run/agentcore/pkg/context"
)

func userText(s string) ai.Message {
	return ai.UserMessage{Role: ai.RoleUser, Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: s}}}
}

func assistantWithUsage(total int) ai.Message {
	return ai.AssistantMessage{Role: ai.RoleAssistant, StopReason: ai.StopReasonStop, Usage: ai.Usage{TotalTokens: total}}
}

func TestEstimateContextTokens_NoUsageYetEstimatesEverything(t *testing.T) {
	msgs := []ai.Message{userText(strings.Repeat("a", 400))}
	u := ctxmgr.EstimateContextTokens(msgs)
	if u.Tokens != 100 {
		t.Errorf("Tokens = %d, want 100", u.Tokens)
	}
	if u.UsageTokens != 0 {
		t.Errorf("UsageTokens = %d, want 0", u.UsageTokens)
	}
}

func TestEstimateContextTokens_AnchorsOnLastKnownUsage(t *testing.T) {
	msgs := []ai.Message{
		userText("first"),
		assistantWithUsage(1000),
		userText(strings.Repeat("b", 40)), // 10 estimated tokens
	}
	u := ctxmgr.EstimateContextTokens(msgs)
	if u.UsageTokens != 1000 {
		t.Errorf("UsageTokens = %d, want 1000", u.UsageTokens)
	}
	if u.TrailingTokens != 10 {
		t.Errorf("TrailingTokens = %d, want 10", u.TrailingTokens)
	}
	if u.Tokens != 1010 {
		t.Errorf("Tokens = %d, want 1010", u.Tokens)
	}
}

// stubSummarizer returns a fixed summary and records what it was asked to
// summarise, so tests can assert on the cut point without a live provider.
type stubSummarizer struct {
	calls        int
	lastMsgs     []ai.Message
	lastPrevious string
	out          string
}

func (s *stubSummarizer) Summarize(_ stdctx.Context, msgs []ai.Message, prevSummary string) (string, error) {
	s.calls++
	s.lastMsgs = msgs
	s.lastPrevious = prevSummary
	if s.out != "" {
		return s.out, nil
	}
	return "summary", nil
}

func manyExchanges(n int) []ai.Message {
	msgs := make([]ai.Message, 0, n*2)
	for i := 0; i < n; i++ {
		msgs = append(msgs, userText(strings.Repeat("q", 400)))
		msgs = append(msgs, ai.AssistantMessage{
			Role:    ai.RoleAssistant,
			Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: strings.Repeat("a", 400)}},
		})
	}
	return msgs
}

func TestManager_PrepareMessages_NoCompactionWhenUnderBudget(t *testing.T) {
	m := ctxmgr.New(ctxmgr.Config{ContextWindow: 1_000_000}, &stubSummarizer{})
	msgs := manyExchanges(3)
	out, triggered, err := m.PrepareMessages(stdctx.Background(), msgs)
	if err != nil {
		t.Fatalf("PrepareMessages: %v", err)
	}
	if triggered {
		t.Error("should not have triggered compaction under budget")
	}
	if len(out) != len(msgs) {
		t.Errorf("len(out) = %d, want %d (unchanged)", len(out), len(msgs))
	}
}

func TestManager_PrepareMessages_CompactsWhenOverBudget(t *testing.T) {
	sum := &stubSummarizer{}
	m := ctxmgr.New(ctxmgr.Config{ContextWindow: 200, ReserveTokens: 50, KeepRecentTokens: 50}, sum)
	msgs := manyExchanges(20)

	out, triggered, err := m.PrepareMessages(stdctx.Background(), msgs)
	if err != nil {
		t.Fatalf("PrepareMessages: %v", err)
	}
	if !triggered {
		t.Fatal("expected compaction to trigger")
	}
	if len(out) > len(msgs) {
		t.Errorf("len(out) = %d, must be <= len(msgs) = %d", len(out), len(msgs))
	}
	if sum.calls != 1 {
		t.Fatalf("Summarize called %d times, want 1", sum.calls)
	}
	if _, ok := out[0].(ai.UserMessage); !ok {
		t.Errorf("out[0] = %T, want a UserMessage checkpoint", out[0])
	}
}

func TestManager_PrepareMessages_NoSummarizerNeverCompacts(t *testing.T) {
	m := ctxmgr.New(ctxmgr.Config{ContextWindow: 10}, nil)
	msgs := manyExchanges(20)
	out, triggered, err := m.PrepareMessages(stdctx.Background(), msgs)
	if err != nil {
		t.Fatalf("PrepareMessages: %v", err)
	}
	if triggered {
		t.Error("should never trigger without a configured Summarizer")
	}
	if len(out) != len(msgs) {
		t.Error("messages should pass through unchanged")
	}
}

func TestManager_ShouldWarn_AdvisoryNearLimit(t *testing.T) {
	m := ctxmgr.New(ctxmgr.Config{ContextWindow: 100, WarnThreshold: 0.5}, nil)

	low := []ai.Message{userText("hi")}
	if w := m.ShouldWarn(low); w.Warn {
		t.Error("should not warn for a tiny conversation")
	}

	high := []ai.Message{userText(strings.Repeat("x", 400))} // ~100 tokens, over the 50-token threshold
	w := m.ShouldWarn(high)
	if !w.Warn {
		t.Fatal("expected a warning near the configured threshold")
	}
	if w.Message == "" {
		t.Error("warning message should be non-empty")
	}
}

func TestManager_ShouldWarn_DisabledWhenNoContextWindow(t *testing.T) {
	m := ctxmgr.New(ctxmgr.Config{}, nil)
	w := m.ShouldWarn(manyExchanges(50))
	if w.Warn {
		t.Error("should never warn with no configured context window")
	}
}
