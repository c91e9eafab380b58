package llm

import (
	"encoding/json"
	"strings"
)

// Accumulate folds a canonical event stream into a TurnResult. Text and
// thinking deltas concatenate in order; tool-call argument fragments
// concatenate per call id and must form a JSON object by ToolCallEnd. A call
// whose arguments fail to parse is recorded in InvalidCallIDs and flips the
// finish reason to FinishToolCallsFailed; the call still reaches the
// executor, which answers it with an error tool result.
func Accumulate(events <-chan Event) *TurnResult {
	var (
		text     strings.Builder
		thinking strings.Builder
		args     = make(map[string]*strings.Builder)
		names    = make(map[string]string)
		order    []string
		invalid  []string
	)
	turn := &TurnResult{FinishReason: FinishOther}

	for evt := range events {
		switch evt.Type {
		case EventTextDelta:
			text.WriteString(evt.Text)
		case EventThinkingDelta:
			thinking.WriteString(evt.Text)
		case EventToolCallStart:
			if _, ok := args[evt.CallID]; !ok {
				args[evt.CallID] = &strings.Builder{}
				order = append(order, evt.CallID)
			}
			names[evt.CallID] = evt.Name
		case EventToolCallArgsDelta:
			if b, ok := args[evt.CallID]; ok {
				b.WriteString(evt.ArgsFragment)
			}
		case EventToolCallEnd:
			if b, ok := args[evt.CallID]; ok {
				if !validJSONObject(b.String()) {
					invalid = append(invalid, evt.CallID)
				}
			}
		case EventStreamEnd:
			turn.FinishReason = evt.FinishReason
		case EventStreamError:
			turn.Err = evt.Err
			// Finish reason stays whatever had been seen; default Other.
		}
		if evt.Type == EventStreamEnd || evt.Type == EventStreamError {
			break
		}
	}

	turn.Text = text.String()
	turn.Thinking = thinking.String()
	for _, id := range order {
		argStr := args[id].String()
		if argStr == "" {
			argStr = "{}"
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        id,
			Name:      names[id],
			Arguments: argStr,
		})
	}
	turn.InvalidCallIDs = invalid
	if len(invalid) > 0 {
		turn.FinishReason = FinishToolCallsFailed
	}
	return turn
}

// validJSONObject reports whether s parses as a JSON object. Empty
// accumulations count as valid; they normalize to "{}".
func validJSONObject(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil
}
