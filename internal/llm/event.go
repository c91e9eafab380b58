package llm

// EventType discriminates canonical stream events.
type EventType string

const (
	EventStreamStart       EventType = "stream_start"
	EventTextDelta         EventType = "text_delta"
	EventThinkingDelta     EventType = "thinking_delta"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallArgsDelta EventType = "tool_call_args_delta"
	EventToolCallEnd       EventType = "tool_call_end"
	EventStreamEnd         EventType = "stream_end"
	EventStreamError       EventType = "stream_error"
)

// Event is one canonical stream event. Ordering contract: exactly one
// StreamStart per stream; per call id exactly one Start, zero or more
// ArgsDelta, exactly one End; the stream terminates with exactly one of
// StreamEnd or StreamError.
type Event struct {
	Type         EventType    `json:"type"`
	RequestID    string       `json:"request_id,omitempty"` // StreamStart
	Model        string       `json:"model,omitempty"`      // StreamStart
	Text         string       `json:"text,omitempty"`       // TextDelta, ThinkingDelta
	CallID       string       `json:"call_id,omitempty"`    // ToolCall*
	Name         string       `json:"name,omitempty"`       // ToolCallStart
	ArgsFragment string       `json:"args_fragment,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"` // StreamEnd
	Err          error        `json:"-"`                       // StreamError
}

// toolCallAccumulator tracks in-flight tool calls by the provider's per-call
// index and emits canonical Start/ArgsDelta/End events. Calls left open when
// the stream finishes are terminated in ascending index order.
type toolCallAccumulator struct {
	byIndex map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	callID string
	name   string
	ended  bool
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*pendingCall)}
}

// fragment processes one provider delta for the call at index. The returned
// events preserve the Start-before-ArgsDelta ordering.
func (a *toolCallAccumulator) fragment(index int, callID, name, args string) []Event {
	var events []Event
	pc, ok := a.byIndex[index]
	if !ok {
		pc = &pendingCall{callID: callID, name: name}
		a.byIndex[index] = pc
		a.order = append(a.order, index)
		events = append(events, Event{Type: EventToolCallStart, CallID: callID, Name: name})
	} else {
		// Some providers only send the id on the first fragment.
		if pc.callID == "" && callID != "" {
			pc.callID = callID
		}
	}
	if args != "" {
		events = append(events, Event{Type: EventToolCallArgsDelta, CallID: pc.callID, ArgsFragment: args})
	}
	return events
}

// end terminates the call at index explicitly.
func (a *toolCallAccumulator) end(index int) []Event {
	pc, ok := a.byIndex[index]
	if !ok || pc.ended {
		return nil
	}
	pc.ended = true
	return []Event{{Type: EventToolCallEnd, CallID: pc.callID}}
}

// finish terminates every open call in ascending index order. Called when a
// tool_calls finish reason arrives without per-call terminators.
func (a *toolCallAccumulator) finish() []Event {
	var events []Event
	for _, idx := range sortedInts(a.order) {
		pc := a.byIndex[idx]
		if !pc.ended {
			pc.ended = true
			events = append(events, Event{Type: EventToolCallEnd, CallID: pc.callID})
		}
	}
	return events
}

func sortedInts(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
