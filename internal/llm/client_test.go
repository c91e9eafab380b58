package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Request-Id", "req-test")
		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestChatStreamTextOnly(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello, "}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"world."},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", ModeChatCompletions)
	events, err := c.Stream(context.Background(), &ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	if got[0].Type != EventStreamStart {
		t.Fatalf("first event = %v", got[0].Type)
	}
	if got[0].RequestID != "req-test" {
		t.Errorf("request id = %q", got[0].RequestID)
	}
	last := got[len(got)-1]
	if last.Type != EventStreamEnd || last.FinishReason != FinishStop {
		t.Errorf("last event = %+v", last)
	}

	turn := Accumulate(stream(got...))
	if turn.Text != "Hello, world." {
		t.Errorf("text = %q", turn.Text)
	}
}

func TestChatStreamParallelToolCallsEndInIndexOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"c_b","function":{"name":"write","arguments":"{\"v\":"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c_a","function":{"name":"read","arguments":"{}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"2}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", ModeChatCompletions)
	events, err := c.Stream(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	var ends []string
	for _, e := range got {
		if e.Type == EventToolCallEnd {
			ends = append(ends, e.CallID)
		}
	}
	if len(ends) != 2 || ends[0] != "c_a" || ends[1] != "c_b" {
		t.Fatalf("end order = %v, want [c_a c_b]", ends)
	}
	if got[len(got)-1].Type != EventStreamEnd || got[len(got)-1].FinishReason != FinishToolCalls {
		t.Errorf("last = %+v", got[len(got)-1])
	}

	// Per-call ordering: Start precedes all ArgsDelta which precede End.
	pos := map[string][3]int{}
	for i, e := range got {
		p := pos[e.CallID]
		switch e.Type {
		case EventToolCallStart:
			p[0] = i
		case EventToolCallArgsDelta:
			p[1] = i
		case EventToolCallEnd:
			p[2] = i
		}
		pos[e.CallID] = p
	}
	for id, p := range pos {
		if id == "" {
			continue
		}
		if p[1] != 0 && (p[0] > p[1] || p[1] > p[2]) {
			t.Errorf("ordering violated for %s: %v", id, p)
		}
	}
}

func TestResponsesStreamToolCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`event: response.output_item.added`,
		`data: {"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"c1","name":"read"}}`,
		``,
		`event: response.function_call_arguments.delta`,
		`data: {"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"path\":\"a.txt\"}"}`,
		``,
		`event: response.output_item.done`,
		`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"c1"}}`,
		``,
		`event: response.completed`,
		`data: {"type":"response.completed","response":{"status":"completed"}}`,
		``,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", ModeResponses)
	events, err := c.Stream(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	turn := Accumulate(events)
	if turn.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q", turn.FinishReason)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "read" {
		t.Fatalf("tool calls = %+v", turn.ToolCalls)
	}
}

func TestStreamAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", ModeChatCompletions)
	_, err := c.Stream(context.Background(), &ChatRequest{Model: "m"})
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestStreamRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", ModeChatCompletions)
	_, err := c.Stream(context.Background(), &ChatRequest{Model: "m"})
	re, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("expected *RequestError, got %T: %v", err, err)
	}
	if re.Message != "slow down" {
		t.Errorf("message = %q", re.Message)
	}
}

func TestStreamProviderErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"overloaded","message":"try later"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", ModeChatCompletions)
	_, err := c.Stream(context.Background(), &ChatRequest{Model: "m"})
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if pe.Message != "try later" || pe.Code != "overloaded" {
		t.Errorf("provider error = %+v", pe)
	}
}
