package canvas

import (
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/runtime"
)

// Bridge folds runtime events into canvas messages: final user transcripts,
// assistant text collected per generating cycle, tool call/result summaries,
// and the synthetic [interrupted] marker on barge-in.
type Bridge struct {
	backend Backend

	assistant  strings.Builder
	generating bool
	lastRole   string
	groupRuns  int // consecutive same-role pushes, informational
}

func NewBridge(backend Backend) *Bridge {
	return &Bridge{backend: backend}
}

// Run consumes events until the channel closes.
func (b *Bridge) Run(events <-chan runtime.Event) {
	for evt := range events {
		b.Handle(evt)
	}
}

// Handle applies a single runtime event.
func (b *Bridge) Handle(evt runtime.Event) {
	switch evt.Type {
	case runtime.EventTranscript:
		if evt.IsFinal && strings.TrimSpace(evt.Text) != "" {
			b.push(Message{Role: "user", Text: evt.Text, Timestamp: time.Now()})
		}

	case runtime.EventGenerating:
		if evt.Active {
			b.generating = true
			b.assistant.Reset()
			return
		}
		b.flushAssistant("")

	case runtime.EventAssistantSentence:
		if b.generating {
			b.assistant.WriteString(evt.Text)
		}

	case runtime.EventToolCall:
		b.push(Message{
			Role:      "assistant",
			Text:      "→ " + evt.ToolName,
			Timestamp: time.Now(),
			ToolName:  evt.ToolName,
			ToolInput: string(evt.ToolInput),
		})

	case runtime.EventToolResult:
		b.push(Message{
			Role:           "tool",
			Text:           summarize(evt.ToolOutput),
			Timestamp:      time.Now(),
			ToolName:       evt.ToolName,
			ToolResultText: evt.ToolOutput,
		})

	case runtime.EventInterrupted:
		b.flushAssistant(" [interrupted]")

	case runtime.EventMemoryTelemetry:
		// Telemetry is canvas-only; it never reaches the main screen.
		b.push(Message{Role: "system", Text: evt.Detail, Timestamp: time.Now()})
	}
}

// flushAssistant pushes the accumulated assistant text, with an optional
// suffix, and ends the generating cycle.
func (b *Bridge) flushAssistant(suffix string) {
	text := b.assistant.String()
	b.assistant.Reset()
	b.generating = false
	if strings.TrimSpace(text) == "" && suffix == "" {
		return
	}
	b.push(Message{Role: "assistant", Text: strings.TrimSpace(text) + suffix, Timestamp: time.Now()})
}

func (b *Bridge) push(msg Message) {
	if msg.Role == b.lastRole {
		b.groupRuns++
	} else {
		b.groupRuns = 0
		b.lastRole = msg.Role
	}
	b.backend.PushMessage(msg)
}

const summaryLimit = 160

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > summaryLimit {
		s = s[:summaryLimit] + "…"
	}
	return s
}
