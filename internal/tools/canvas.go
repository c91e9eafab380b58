package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/saorsa-labs/fae/internal/canvas"
)

// Canvas tools let the model place content on the shared scene graph. They
// mutate local state only, so they sit at ReadWrite without approval.

type CanvasTextTool struct {
	backend canvas.Backend
}

func NewCanvasTextTool(b canvas.Backend) *CanvasTextTool { return &CanvasTextTool{backend: b} }

func (t *CanvasTextTool) Name() string { return "canvas_show_text" }
func (t *CanvasTextTool) Description() string {
	return "Display text (plain or Markdown) on the user's canvas."
}
func (t *CanvasTextTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "description": "Text or Markdown to display"},
		},
		"required": []string{"text"},
	}
}
func (t *CanvasTextTool) Mode() Mode             { return ModeReadWrite }
func (t *CanvasTextTool) RequiresApproval() bool { return false }

func (t *CanvasTextTool) Execute(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	id := uuid.NewString()
	t.backend.AddElement(canvas.Element{
		ID:        id,
		Kind:      canvas.KindText,
		Transform: canvas.Transform{W: 480, H: 320},
		Text:      text,
	})
	return fmt.Sprintf("displayed text element %s", id), nil
}

type CanvasChartTool struct {
	backend canvas.Backend
}

func NewCanvasChartTool(b canvas.Backend) *CanvasChartTool { return &CanvasChartTool{backend: b} }

func (t *CanvasChartTool) Name() string { return "canvas_show_chart" }
func (t *CanvasChartTool) Description() string {
	return "Display a labelled bar chart on the user's canvas."
}
func (t *CanvasChartTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":  map[string]any{"type": "string"},
			"labels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"values": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
		},
		"required": []string{"labels", "values"},
	}
}
func (t *CanvasChartTool) Mode() Mode             { return ModeReadWrite }
func (t *CanvasChartTool) RequiresApproval() bool { return false }

func (t *CanvasChartTool) Execute(_ context.Context, args map[string]any) (string, error) {
	labels := stringSlice(args["labels"])
	values := floatSlice(args["values"])
	if len(labels) == 0 || len(labels) != len(values) {
		return "", fmt.Errorf("labels and values must be non-empty and the same length")
	}
	title, _ := args["title"].(string)
	id := uuid.NewString()
	t.backend.AddElement(canvas.Element{
		ID:        id,
		Kind:      canvas.KindChart,
		Transform: canvas.Transform{W: 480, H: 320},
		Chart:     &canvas.ChartData{Title: title, Labels: labels, Values: values},
	})
	return fmt.Sprintf("displayed chart element %s", id), nil
}

type CanvasClearTool struct {
	backend canvas.Backend
}

func NewCanvasClearTool(b canvas.Backend) *CanvasClearTool { return &CanvasClearTool{backend: b} }

func (t *CanvasClearTool) Name() string { return "canvas_clear" }
func (t *CanvasClearTool) Description() string {
	return "Remove all messages and elements from the user's canvas."
}
func (t *CanvasClearTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *CanvasClearTool) Mode() Mode             { return ModeReadWrite }
func (t *CanvasClearTool) RequiresApproval() bool { return false }

func (t *CanvasClearTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	t.backend.Clear()
	return "canvas cleared", nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func floatSlice(v any) []float64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}
