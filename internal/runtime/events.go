// Package runtime carries the typed event surface between the pipeline
// coordinator and the host shell: a broadcast bus of runtime events plus the
// approval, text-injection, and wake/sleep gate channels.
package runtime

import (
	"encoding/json"
	"time"
)

// EventType discriminates runtime events.
type EventType string

const (
	EventTranscript        EventType = "transcript"
	EventAssistantSentence EventType = "assistant_sentence"
	EventAssistantSpeech   EventType = "assistant_speech" // start/end via Active
	EventAssistantLevel    EventType = "assistant_audio_level"
	EventGenerating        EventType = "assistant_generating"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventMicStatus         EventType = "mic_status"
	EventAudioLevel        EventType = "audio_level"
	EventMemoryTelemetry   EventType = "memory_telemetry"
	EventModelSelected     EventType = "model_selected"
	EventPermissionState   EventType = "permission_state"
	EventCanvasVisibility  EventType = "canvas_visibility"
	EventCanvasSnapshot    EventType = "canvas_snapshot"
	EventInterrupted       EventType = "interrupted"
	EventUserPrompt        EventType = "user_prompt"
	EventError             EventType = "error"
)

// Event is the union surfaced to the host. Only the fields relevant to the
// Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// Transcript / sentences
	Text          string    `json:"text,omitempty"`
	IsFinal       bool      `json:"is_final,omitempty"`
	CapturedAt    time.Time `json:"captured_at,omitzero"`
	TranscribedAt time.Time `json:"transcribed_at,omitzero"`

	// Tool calls and results
	CallID     string          `json:"call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// Audio
	RMS       float64 `json:"rms,omitempty"`
	MicActive *bool   `json:"mic_active,omitempty"`

	// Speech / generating state
	Active bool `json:"active,omitempty"`

	// Model and permissions
	Model string `json:"model,omitempty"`
	Mode  string `json:"mode,omitempty"`

	// Canvas
	Visible bool   `json:"visible,omitempty"`
	HTML    string `json:"html,omitempty"`

	// Telemetry / prompts / errors
	Detail string `json:"detail,omitempty"`
}

// GateCommand toggles the wake/sleep gate.
type GateCommand int

const (
	GateWake GateCommand = iota
	GateSleep
)

// TextInjection feeds text into the agent driver as if it had been spoken.
// ForkAtKeepCount, when set, truncates the conversation to its first k
// messages before appending (edit-and-retry).
type TextInjection struct {
	Text            string
	ForkAtKeepCount *int
}
