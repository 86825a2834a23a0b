package branch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// rawBlock is a flat, fully-serialisable representation of any
// ai.ContentBlock — the same peek-at-"type" shape the session package uses
// for its JSONL message entries, adapted here for one-file-per-branch JSON.
type rawBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Data      string         `json:"data,omitempty"`
	MIMEType  string         `json:"mime_type,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func marshalBlocks(blocks []ai.ContentBlock) []rawBlock {
	raws := make([]rawBlock, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case ai.TextContent:
			raws = append(raws, rawBlock{Type: "text", Text: c.Text})
		case ai.ThinkingContent:
			raws = append(raws, rawBlock{Type: "thinking", Thinking: c.Thinking})
		case ai.ImageContent:
			raws = append(raws, rawBlock{Type: "image", Data: c.Data, MIMEType: c.MIMEType})
		case ai.ToolCall:
			raws = append(raws, rawBlock{Type: "tool_call", ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
	}
	return raws
}

func unmarshalBlocks(raws []rawBlock) []ai.ContentBlock {
	blocks := make([]ai.ContentBlock, 0, len(raws))
	for _, r := range raws {
		switch r.Type {
		case "text":
			blocks = append(blocks, ai.TextContent{Type: "text", Text: r.Text})
		case "thinking":
			blocks = append(blocks, ai.ThinkingContent{Type: "thinking", Thinking: r.Thinking})
		case "image":
			blocks = append(blocks, ai.ImageContent{Type: "image", Data: r.Data, MIMEType: r.MIMEType})
		case "tool_call":
			blocks = append(blocks, ai.ToolCall{Type: "tool_call", ID: r.ID, Name: r.Name, Arguments: r.Arguments})
		}
	}
	return blocks
}

type wireMessage struct {
	Role         string        `json:"role"`
	Content      []rawBlock    `json:"content"`
	Model        string        `json:"model,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Usage        ai.Usage      `json:"usage,omitempty"`
	StopReason   ai.StopReason `json:"stop_reason,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	ToolName     string        `json:"tool_name,omitempty"`
	IsError      bool          `json:"is_error,omitempty"`
	Timestamp    int64         `json:"timestamp"`
}

func marshalMessage(m ai.Message) (wireMessage, error) {
	switch p := m.(type) {
	case *ai.UserMessage:
		return marshalMessage(*p)
	case *ai.AssistantMessage:
		return marshalMessage(*p)
	case *ai.ToolResultMessage:
		return marshalMessage(*p)
	}

	switch msg := m.(type) {
	case ai.UserMessage:
		return wireMessage{Role: "user", Content: marshalBlocks(msg.Content), Timestamp: msg.Timestamp}, nil
	case ai.AssistantMessage:
		return wireMessage{
			Role: "assistant", Content: marshalBlocks(msg.Content), Model: msg.Model,
			Provider: string(msg.Provider), Usage: msg.Usage, StopReason: msg.StopReason,
			ErrorMessage: msg.ErrorMessage, Timestamp: msg.Timestamp,
		}, nil
	case ai.ToolResultMessage:
		return wireMessage{
			Role: "tool_result", Content: marshalBlocks(msg.Content), ToolCallID: msg.ToolCallID,
			ToolName: msg.ToolName, IsError: msg.IsError, Timestamp: msg.Timestamp,
		}, nil
	default:
		return wireMessage{}, fmt.Errorf("branch: unknown message type %T", m)
	}
}

func unmarshalMessage(w wireMessage) (ai.Message, error) {
	blocks := unmarshalBlocks(w.Content)
	switch w.Role {
	case "user":
		return ai.UserMessage{Role: ai.RoleUser, Content: blocks, Timestamp: w.Timestamp}, nil
	case "assistant":
		return ai.AssistantMessage{
			Role: ai.RoleAssistant, Content: blocks, Model: w.Model, Provider: w.Provider,
			Usage: w.Usage, StopReason: w.StopReason, ErrorMessage: w.ErrorMessage, Timestamp: w.Timestamp,
		}, nil
	case "tool_result":
		return ai.ToolResultMessage{
			Role: ai.RoleToolResult, ToolCallID: w.ToolCallID, ToolName: w.ToolName,
			Content: blocks, IsError: w.IsError, Timestamp: w.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("branch: unknown role %q", w.Role)
	}
}

// fileBranch is the on-disk JSON shape for a single branch file.
type fileBranch struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	ParentID  string        `json:"parentId,omitempty"`
	Messages  []wireMessage `json:"messages"`
	CreatedAt string        `json:"createdAt"`
	UpdatedAt string        `json:"updatedAt"`
}

func encodeBranch(b *Branch) ([]byte, error) {
	fb := fileBranch{
		ID: b.ID, Name: b.Name, ParentID: b.ParentID,
		CreatedAt: b.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: b.UpdatedAt.UTC().Format(timeLayout),
	}
	for _, m := range b.Messages {
		wm, err := marshalMessage(m)
		if err != nil {
			return nil, err
		}
		fb.Messages = append(fb.Messages, wm)
	}
	return json.MarshalIndent(fb, "", "  ")
}

func decodeBranch(data []byte) (*Branch, error) {
	var fb fileBranch
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, err
	}
	b := &Branch{ID: fb.ID, Name: fb.Name, ParentID: fb.ParentID}
	b.CreatedAt, _ = time.Parse(timeLayout, fb.CreatedAt)
	b.UpdatedAt, _ = time.Parse(timeLayout, fb.UpdatedAt)
	for _, wm := range fb.Messages {
		msg, err := unmarshalMessage(wm)
		if err != nil {
			continue
		}
		b.Messages = append(b.Messages, msg)
	}
	return b, nil
}

const timeLayout = time.RFC3339Nano
