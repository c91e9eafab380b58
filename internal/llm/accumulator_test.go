package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func stream(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestAccumulateTextOnly(t *testing.T) {
	turn := Accumulate(stream(
		Event{Type: EventStreamStart, RequestID: "r1", Model: "m"},
		Event{Type: EventTextDelta, Text: "Hello, "},
		Event{Type: EventTextDelta, Text: "world."},
		Event{Type: EventStreamEnd, FinishReason: FinishStop},
	))
	if turn.Text != "Hello, world." {
		t.Errorf("text = %q", turn.Text)
	}
	if turn.FinishReason != FinishStop {
		t.Errorf("finish = %q", turn.FinishReason)
	}
	if len(turn.ToolCalls) != 0 {
		t.Errorf("tool calls = %d", len(turn.ToolCalls))
	}
}

func TestAccumulateThinkingSeparate(t *testing.T) {
	turn := Accumulate(stream(
		Event{Type: EventStreamStart},
		Event{Type: EventThinkingDelta, Text: "hmm "},
		Event{Type: EventTextDelta, Text: "answer"},
		Event{Type: EventThinkingDelta, Text: "done"},
		Event{Type: EventStreamEnd, FinishReason: FinishStop},
	))
	if turn.Thinking != "hmm done" {
		t.Errorf("thinking = %q", turn.Thinking)
	}
	if turn.Text != "answer" {
		t.Errorf("text = %q", turn.Text)
	}
}

func TestAccumulateToolCallFragments(t *testing.T) {
	turn := Accumulate(stream(
		Event{Type: EventStreamStart},
		Event{Type: EventToolCallStart, CallID: "c1", Name: "read"},
		Event{Type: EventToolCallArgsDelta, CallID: "c1", ArgsFragment: `{"path":`},
		Event{Type: EventToolCallArgsDelta, CallID: "c1", ArgsFragment: `"a.txt"}`},
		Event{Type: EventToolCallEnd, CallID: "c1"},
		Event{Type: EventStreamEnd, FinishReason: FinishToolCalls},
	))
	if len(turn.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(turn.ToolCalls))
	}
	tc := turn.ToolCalls[0]
	if tc.ID != "c1" || tc.Name != "read" {
		t.Errorf("call = %+v", tc)
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(tc.Arguments), &parsed); err != nil {
		t.Fatalf("arguments do not parse: %v", err)
	}
	if parsed["path"] != "a.txt" {
		t.Errorf("args = %+v", parsed)
	}
	if len(turn.InvalidCallIDs) != 0 {
		t.Errorf("invalid = %v", turn.InvalidCallIDs)
	}
}

// Fragmenting the same document at every split point must accumulate to a
// parseable object regardless of where the cuts land.
func TestAccumulateFragmentationProperty(t *testing.T) {
	doc := `{"query":"weather in Oban","units":"metric","days":3}`
	for cut := 1; cut < len(doc); cut++ {
		events := []Event{
			{Type: EventStreamStart},
			{Type: EventToolCallStart, CallID: "c1", Name: "forecast"},
			{Type: EventToolCallArgsDelta, CallID: "c1", ArgsFragment: doc[:cut]},
			{Type: EventToolCallArgsDelta, CallID: "c1", ArgsFragment: doc[cut:]},
			{Type: EventToolCallEnd, CallID: "c1"},
			{Type: EventStreamEnd, FinishReason: FinishToolCalls},
		}
		turn := Accumulate(stream(events...))
		if turn.ToolCalls[0].Arguments != doc {
			t.Fatalf("cut %d: arguments = %q", cut, turn.ToolCalls[0].Arguments)
		}
		if len(turn.InvalidCallIDs) != 0 {
			t.Fatalf("cut %d: invalid = %v", cut, turn.InvalidCallIDs)
		}
	}
}

func TestAccumulateInvalidArgsRecorded(t *testing.T) {
	turn := Accumulate(stream(
		Event{Type: EventStreamStart},
		Event{Type: EventToolCallStart, CallID: "c1", Name: "read"},
		Event{Type: EventToolCallArgsDelta, CallID: "c1", ArgsFragment: `{"path": truncated`},
		Event{Type: EventToolCallEnd, CallID: "c1"},
		Event{Type: EventStreamEnd, FinishReason: FinishToolCalls},
	))
	if len(turn.InvalidCallIDs) != 1 || turn.InvalidCallIDs[0] != "c1" {
		t.Errorf("invalid = %v", turn.InvalidCallIDs)
	}
	if turn.FinishReason != FinishToolCallsFailed {
		t.Errorf("finish = %q", turn.FinishReason)
	}
	// The call still surfaces so the executor can answer it with an error.
	if len(turn.ToolCalls) != 1 {
		t.Errorf("tool calls = %d", len(turn.ToolCalls))
	}
}

func TestAccumulateStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	turn := Accumulate(stream(
		Event{Type: EventStreamStart},
		Event{Type: EventTextDelta, Text: "partial"},
		Event{Type: EventStreamError, Err: boom},
	))
	if turn.Text != "partial" {
		t.Errorf("text = %q", turn.Text)
	}
	if !errors.Is(turn.Err, boom) {
		t.Errorf("err = %v", turn.Err)
	}
	if turn.FinishReason != FinishOther {
		t.Errorf("finish = %q", turn.FinishReason)
	}
}

func TestAccumulateCancelledMidStream(t *testing.T) {
	turn := Accumulate(stream(
		Event{Type: EventStreamStart},
		Event{Type: EventTextDelta, Text: "Hello"},
		Event{Type: EventStreamEnd, FinishReason: FinishCancelled},
	))
	if turn.Text != "Hello" {
		t.Errorf("text = %q", turn.Text)
	}
	if turn.FinishReason != FinishCancelled {
		t.Errorf("finish = %q", turn.FinishReason)
	}
}
