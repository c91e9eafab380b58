package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/wire"
)

// WireMode selects the provider wire format.
type WireMode string

const (
	// ModeChatCompletions speaks the chat-completions streaming format.
	ModeChatCompletions WireMode = "chat"
	// ModeResponses speaks the responses streaming format.
	ModeResponses WireMode = "responses"
)

// Client adapts the canonical schema to a provider HTTP+SSE endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	Mode       WireMode
	HTTPClient *http.Client
}

// NewClient creates an adapter for the given endpoint and wire mode.
func NewClient(baseURL, apiKey string, mode WireMode) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Mode:       mode,
		HTTPClient: &http.Client{Timeout: 0}, // per-request deadlines come from ctx
	}
}

// Stream sends a request and returns a channel of canonical events. The
// request itself fails synchronously; everything after the response headers
// arrives on the channel, which closes after StreamEnd or StreamError.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	body, path, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError(resp.StatusCode, errBody)
	}

	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	events := make(chan Event, 64)
	go c.readStream(ctx, resp.Body, requestID, req.Model, events)
	return events, nil
}

func (c *Client) encodeRequest(req *ChatRequest) (body []byte, path string, err error) {
	switch c.Mode {
	case ModeResponses:
		body, err = encodeResponsesBody(req)
		path = "/responses"
	default:
		body, err = encodeChatBody(req)
		path = "/chat/completions"
	}
	return body, path, err
}

// readStream pumps SSE bytes through the parser and the per-mode decoder.
func (c *Client) readStream(ctx context.Context, rc io.ReadCloser, requestID, model string, events chan<- Event) {
	defer close(events)
	defer rc.Close()

	events <- Event{Type: EventStreamStart, RequestID: requestID, Model: model}

	dec := newStreamDecoder(c.Mode)
	var parser wire.SSEParser
	buf := make([]byte, 16*1024)
	terminated := false

	emit := func(evts []Event) bool {
		for _, e := range evts {
			events <- e
			if e.Type == EventStreamEnd || e.Type == EventStreamError {
				terminated = true
				return false
			}
		}
		return true
	}

	for {
		n, err := rc.Read(buf)
		if n > 0 {
			for _, sse := range parser.Feed(buf[:n]) {
				if sse.Done() {
					if !terminated {
						emit(dec.finish())
					}
					return
				}
				if !emit(dec.decode(sse)) {
					return
				}
			}
		}
		if err != nil {
			if sse := parser.Flush(); sse != nil && !sse.Done() {
				if !emit(dec.decode(*sse)) {
					return
				}
			}
			if terminated {
				return
			}
			if err == io.EOF {
				emit(dec.finish())
				return
			}
			if ctx.Err() != nil {
				events <- Event{Type: EventStreamEnd, FinishReason: FinishCancelled}
				return
			}
			logging.Debugf("[llm] stream read error: %v", err)
			events <- Event{Type: EventStreamError, Err: err}
			return
		}
	}
}

// streamDecoder turns one SSE event into zero or more canonical events.
type streamDecoder interface {
	decode(sse wire.SSEEvent) []Event
	// finish closes out the stream when the transport ends without an
	// explicit terminal event.
	finish() []Event
}

func newStreamDecoder(mode WireMode) streamDecoder {
	if mode == ModeResponses {
		return &responsesDecoder{calls: newToolCallAccumulator()}
	}
	return &chatDecoder{calls: newToolCallAccumulator()}
}

// --- chat-completions wire ---

func encodeChatBody(req *ChatRequest) ([]byte, error) {
	type wireToolCall struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	type wireMessage struct {
		Role       string         `json:"role"`
		Content    string         `json:"content,omitempty"`
		ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
		ToolCallID string         `json:"tool_call_id,omitempty"`
	}

	var msgs []wireMessage
	if req.System != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		if m.Role == RoleTool && m.ToolResult != nil {
			wm.Content = m.ToolResult.Content
			wm.ToolCallID = m.ToolResult.CallID
		}
		msgs = append(msgs, wm)
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": msgs,
		"stream":   true,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			})
		}
		payload["tools"] = tools
	}
	return json.Marshal(payload)
}

type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatDecoder struct {
	calls  *toolCallAccumulator
	reason FinishReason
}

func (d *chatDecoder) decode(sse wire.SSEEvent) []Event {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(sse.Data), &chunk); err != nil {
		return []Event{{Type: EventStreamError, Err: fmt.Errorf("bad chunk: %w", err)}}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []Event
	if choice.Delta.Reasoning != "" {
		events = append(events, Event{Type: EventThinkingDelta, Text: choice.Delta.Reasoning})
	}
	if choice.Delta.Content != "" {
		events = append(events, Event{Type: EventTextDelta, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		events = append(events, d.calls.fragment(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)...)
	}
	if choice.FinishReason != "" {
		d.reason = mapFinishReason(choice.FinishReason)
	}
	return events
}

func (d *chatDecoder) finish() []Event {
	reason := d.reason
	if reason == "" {
		reason = FinishOther
	}
	// Parallel calls terminate deterministically in ascending index order
	// before the stream end.
	events := d.calls.finish()
	return append(events, Event{Type: EventStreamEnd, FinishReason: reason})
}

func mapFinishReason(s string) FinishReason {
	switch s {
	case "stop":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls":
		return FinishToolCalls
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishOther
	}
}

// --- responses wire ---

func encodeResponsesBody(req *ChatRequest) ([]byte, error) {
	type wireItem struct {
		Type      string `json:"type,omitempty"`
		Role      string `json:"role,omitempty"`
		Content   string `json:"content,omitempty"`
		CallID    string `json:"call_id,omitempty"`
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
		Output    string `json:"output,omitempty"`
	}

	var input []wireItem
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			if m.Content != "" {
				input = append(input, wireItem{Role: "assistant", Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input = append(input, wireItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
				})
			}
		case m.Role == RoleTool && m.ToolResult != nil:
			input = append(input, wireItem{
				Type:   "function_call_output",
				CallID: m.ToolResult.CallID,
				Output: m.ToolResult.Content,
			})
		default:
			input = append(input, wireItem{Role: string(m.Role), Content: m.Content})
		}
	}

	payload := map[string]any{
		"model":  req.Model,
		"input":  input,
		"stream": true,
	}
	if req.System != "" {
		payload["instructions"] = req.System
	}
	if req.MaxTokens > 0 {
		payload["max_output_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			})
		}
		payload["tools"] = tools
	}
	return json.Marshal(payload)
}

type responsesDecoder struct {
	calls     *toolCallAccumulator
	sawTool   bool
	completed bool
	reason    FinishReason
}

type responsesEvent struct {
	Type        string `json:"type"`
	Delta       string `json:"delta"`
	OutputIndex int    `json:"output_index"`
	Item        struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
	Response struct {
		Status            string `json:"status"`
		IncompleteDetails struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *responsesDecoder) decode(sse wire.SSEEvent) []Event {
	var evt responsesEvent
	if err := json.Unmarshal([]byte(sse.Data), &evt); err != nil {
		return []Event{{Type: EventStreamError, Err: fmt.Errorf("bad event: %w", err)}}
	}
	typ := evt.Type
	if typ == "" {
		typ = sse.Type
	}

	switch typ {
	case "response.output_text.delta":
		return []Event{{Type: EventTextDelta, Text: evt.Delta}}
	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		return []Event{{Type: EventThinkingDelta, Text: evt.Delta}}
	case "response.output_item.added":
		if evt.Item.Type == "function_call" {
			d.sawTool = true
			return d.calls.fragment(evt.OutputIndex, evt.Item.CallID, evt.Item.Name, "")
		}
	case "response.function_call_arguments.delta":
		return d.calls.fragment(evt.OutputIndex, "", "", evt.Delta)
	case "response.output_item.done":
		if evt.Item.Type == "function_call" {
			return d.calls.end(evt.OutputIndex)
		}
	case "response.completed", "response.incomplete":
		d.completed = true
		d.reason = d.completionReason(evt)
		events := d.calls.finish()
		return append(events, Event{Type: EventStreamEnd, FinishReason: d.reason})
	case "response.failed", "error":
		d.completed = true
		return []Event{{Type: EventStreamError, Err: &ProviderError{Message: evt.Error.Message}}}
	}
	return nil
}

func (d *responsesDecoder) completionReason(evt responsesEvent) FinishReason {
	if evt.Response.IncompleteDetails.Reason == "max_output_tokens" {
		return FinishLength
	}
	if evt.Response.Status == "incomplete" {
		return FinishOther
	}
	if d.sawTool {
		return FinishToolCalls
	}
	return FinishStop
}

func (d *responsesDecoder) finish() []Event {
	if d.completed {
		return nil
	}
	events := d.calls.finish()
	reason := FinishOther
	if d.sawTool {
		reason = FinishToolCalls
	}
	return append(events, Event{Type: EventStreamEnd, FinishReason: reason})
}

// RequestTimeout wraps ctx with the configured per-request deadline.
func RequestTimeout(ctx context.Context, secs int) (context.Context, context.CancelFunc) {
	if secs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
}
