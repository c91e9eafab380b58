// Package canvas implements the shared scene the assistant draws into: a
// local backend with auto-layout and HTML rendering, a remote backend that
// mirrors mutations over WebSocket, and the bridge feeding it from runtime
// events.
package canvas

import (
	"time"
)

// ElementKind discriminates scene elements.
type ElementKind string

const (
	KindText  ElementKind = "text"
	KindChart ElementKind = "chart"
	KindImage ElementKind = "image"
	Kind3D    ElementKind = "3d"
	KindVideo ElementKind = "video"
	KindGroup ElementKind = "group"
)

// Transform positions an element in the scene.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Rotation float64 `json:"rotation"`
	Z        int     `json:"z"`
}

// ChartData is the payload of a chart element.
type ChartData struct {
	Title  string    `json:"title,omitempty"`
	Labels []string  `json:"labels,omitempty"`
	Values []float64 `json:"values"`
}

// Element is one item in the scene. Ids are unique within a scene.
type Element struct {
	ID        string      `json:"id"`
	Kind      ElementKind `json:"kind"`
	Transform Transform   `json:"transform"`

	Text   string     `json:"text,omitempty"`
	Chart  *ChartData `json:"chart,omitempty"`
	Source string     `json:"source,omitempty"` // image/video path or URL
}

// Scene is a viewport plus an ordered element list.
type Scene struct {
	ViewportW float64   `json:"viewport_w"`
	ViewportH float64   `json:"viewport_h"`
	Elements  []Element `json:"elements"`
}

// Message is one conversational entry rendered onto the canvas.
type Message struct {
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	ToolName       string    `json:"tool_name,omitempty"`
	ToolInput      string    `json:"tool_input,omitempty"`
	ToolResultText string    `json:"tool_result_text,omitempty"`
}

// ConnectionState enumerates remote connection phases.
type ConnectionState string

const (
	StateLocal        ConnectionState = "local"
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// ConnectionStatus is the remote link status; Attempt and Detail qualify the
// reconnecting and failed states.
type ConnectionStatus struct {
	State   ConnectionState `json:"state"`
	Attempt int             `json:"attempt,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// Backend is the canvas surface shared between the pipeline bridge, the tool
// layer, and the host shell.
type Backend interface {
	PushMessage(msg Message)
	AddElement(el Element)
	UpdateElement(el Element)
	RemoveElement(id string)
	Clear()
	MessageCount() int
	ElementCount() int
	MessageViews() []Message
	ToolElementsHTML() string
	ToHTML() string
	ToHTMLCached() string
	ResizeViewport(w, h float64)
	ConnectionStatus() ConnectionStatus
}
