package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// Summarizer turns the older portion of a conversation into a structured
// checkpoint. prevSummary, when non-empty, is the previous checkpoint to
// extend incrementally rather than re-derive from scratch.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []ai.Message, prevSummary string) (string, error)
}

const summarisationSystemPrompt = `You are an expert at summarising technical conversations.
Create concise, structured summaries that allow another AI to continue the work seamlessly.
Focus on facts, decisions, and current state — not the conversational flow.`

const summarisationPrompt = `The messages above are a conversation to summarise. Create a structured context checkpoint that another LLM will use to continue the work.

Use this EXACT format:

## Goal
[What is the user trying to accomplish? Can be multiple items.]

## Constraints & Preferences
- [Any constraints, preferences, or requirements mentioned by the user]
- [Or "(none)" if none were mentioned]

## Progress
### Done
- [x] [Completed tasks/changes]

### In Progress
- [ ] [Current work]

### Blocked
- [Issues preventing progress, or "(none)"]

## Key Decisions
- **[Decision]**: [Brief rationale]

## Next Steps
1. [Ordered list of what should happen next]

## Critical Context
- [Exact file paths, function names, error messages, data needed to continue]
- [Or "(none)" if not applicable]

Keep each section concise. Preserve exact identifiers, file paths, and error messages.`

const updateSummarisationPrompt = `The messages above are NEW conversation messages to incorporate into the existing summary provided in <previous-summary> tags.

Update the existing structured summary with new information:
- PRESERVE all existing information unless it is now incorrect
- ADD new progress, decisions, and context from the new messages
- UPDATE Progress: move In Progress items to Done when completed
- UPDATE Next Steps based on what was accomplished

<previous-summary>
%s
</previous-summary>

Use the same EXACT format as the previous summary (Goal / Constraints / Progress / Key Decisions / Next Steps / Critical Context).
Keep each section concise. Preserve exact identifiers, file paths, and error messages.`

// LLMSummarizer implements Summarizer against a live ai.Provider.
type LLMSummarizer struct {
	Provider ai.Provider
	Model    string
	Options  ai.StreamOptions
}

func (s LLMSummarizer) Summarize(ctx context.Context, msgs []ai.Message, prevSummary string) (string, error) {
	conversationText := serializeConversation(msgs)

	var promptText string
	if prevSummary != "" {
		promptText = fmt.Sprintf("<conversation>\n%s\n</conversation>\n\n%s", conversationText, fmt.Sprintf(updateSummarisationPrompt, prevSummary))
	} else {
		promptText = fmt.Sprintf("<conversation>\n%s\n</conversation>\n\n%s", conversationText, summarisationPrompt)
	}

	llmCtx := ai.Context{
		SystemPrompt: summarisationSystemPrompt,
		Messages: []ai.Message{
			ai.UserMessage{Role: ai.RoleUser, Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: promptText}}},
		},
	}

	opts := s.Options
	opts.MaxTokens = 4096
	opts.ThinkingLevel = ""

	_, wait := s.Provider.Stream(ctx, s.Model, llmCtx, opts)
	result, err := wait()
	if err != nil {
		return "", fmt.Errorf("context: summarisation request: %w", err)
	}
	if result.StopReason == ai.StopReasonError {
		return "", fmt.Errorf("context: summarisation error: %s", result.ErrorMessage)
	}

	var sb strings.Builder
	for _, b := range result.Content {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), nil
}

// SummarizeBranch describes what was explored in a branch that was forked
// away from, for display as context in the new branch. It is a standalone
// helper (not part of the Summarizer interface) since it runs once at fork
// time rather than on every compaction.
func SummarizeBranch(ctx context.Context, provider ai.Provider, model string, opts ai.StreamOptions, discarded []ai.Message) (string, error) {
	if len(discarded) == 0 {
		return "", nil
	}

	text := serializeConversation(discarded)
	prompt := fmt.Sprintf(
		"<discarded-branch>\n%s\n</discarded-branch>\n\n"+
			"The conversation above is a branch that was forked away from. "+
			"Write a one-paragraph summary (max 200 words) of what was tried in that branch, "+
			"what worked, what didn't, and why the branch was abandoned. "+
			"This will be shown as context in the new branch.",
		text,
	)

	llmCtx := ai.Context{
		SystemPrompt: "You summarise discarded conversation branches concisely.",
		Messages: []ai.Message{
			ai.UserMessage{Role: ai.RoleUser, Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: prompt}}},
		},
	}

	opts.MaxTokens = 512
	opts.ThinkingLevel = ""

	_, wait := provider.Stream(ctx, model, llmCtx, opts)
	result, err := wait()
	if err != nil {
		return "", fmt.Errorf("context: branch summary: %w", err)
	}

	var sb strings.Builder
	for _, b := range result.Content {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), nil
}

func serializeConversation(msgs []ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch msg := m.(type) {
		case ai.UserMessage:
			sb.WriteString("[USER]\n")
			for _, b := range msg.Content {
				if tc, ok := b.(ai.TextContent); ok {
					sb.WriteString(tc.Text)
					sb.WriteByte('\n')
				}
			}
			sb.WriteByte('\n')
		case ai.AssistantMessage:
			sb.WriteString("[ASSISTANT]\n")
			for _, b := range msg.Content {
				switch bc := b.(type) {
				case ai.TextContent:
					sb.WriteString(bc.Text)
					sb.WriteByte('\n')
				case ai.ThinkingContent:
					sb.WriteString("<thinking>\n")
					sb.WriteString(bc.Thinking)
					sb.WriteString("\n</thinking>\n")
				case ai.ToolCall:
					fmt.Fprintf(&sb, "[TOOL CALL: %s]\n", bc.Name)
				}
			}
			sb.WriteByte('\n')
		case ai.ToolResultMessage:
			fmt.Fprintf(&sb, "[TOOL RESULT: %s]\n", msg.ToolName)
			for _, b := range msg.Content {
				if tc, ok := b.(ai.TextContent); ok {
					text := tc.Text
					if len(text) > 2000 {
						text = text[:1997] + "..."
					}
					sb.WriteString(text)
					sb.WriteByte('\n')
				}
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
