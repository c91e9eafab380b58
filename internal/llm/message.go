// Package llm defines fae's canonical conversation schema and the provider
// adapter that turns it into a wire request and the response bytes back into
// a canonical event stream.
package llm

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an assistant-requested tool invocation. Arguments is a complete
// JSON document by the time the call is executed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultContent is the tool-role payload answering one ToolCall.
type ToolResultContent struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one entry in a conversation. A tool message's CallID must match
// exactly one prior assistant tool call in the same conversation prefix.
type Message struct {
	Role       Role               `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []ToolCall         `json:"tool_calls,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage builds a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant message with optional tool calls.
func AssistantMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage builds a tool-result message answering callID.
func ToolMessage(callID, content string, isError bool) Message {
	return Message{Role: RoleTool, ToolResult: &ToolResultContent{
		CallID:  callID,
		Content: content,
		IsError: isError,
	}}
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest is a provider-independent request.
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	System      string           `json:"system,omitempty"`
	Model       string           `json:"model,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// FinishReason is the provider-reported termination cause of a stream.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishCancelled     FinishReason = "cancelled"
	FinishOther         FinishReason = "other"

	// FinishToolCallsFailed is not provider-reported: the accumulator sets it
	// when a call's arguments fail to parse as a JSON object by ToolCallEnd.
	FinishToolCallsFailed FinishReason = "tool_calls_failed"
)

// ExecutedToolCall is a tool call plus its outcome.
type ExecutedToolCall struct {
	Call     ToolCall        `json:"call"`
	Args     json.RawMessage `json:"args,omitempty"` // parsed arguments, nil when invalid
	Content  string          `json:"content"`
	IsError  bool            `json:"is_error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// TurnResult is one provider round-trip folded into a record.
type TurnResult struct {
	Text         string             `json:"text"`
	Thinking     string             `json:"thinking,omitempty"`
	ToolCalls    []ToolCall         `json:"tool_calls,omitempty"`
	Executed     []ExecutedToolCall `json:"executed,omitempty"`
	FinishReason FinishReason       `json:"finish_reason"`
	Err          error              `json:"-"`

	// InvalidCallIDs lists calls whose accumulated arguments failed to parse
	// as a JSON object. They still execute downstream and come back as error
	// tool results.
	InvalidCallIDs []string `json:"invalid_call_ids,omitempty"`
}
