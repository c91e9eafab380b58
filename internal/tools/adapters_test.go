package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/saorsa-labs/fae/internal/canvas"
	"github.com/saorsa-labs/fae/internal/wire"
)

type fakeInvoker struct {
	lastID     string
	lastMethod string
	lastParams any
	result     json.RawMessage
	err        error
}

func (f *fakeInvoker) Invoke(_ context.Context, id, method string, params any, _ time.Duration) (json.RawMessage, []wire.Notification, error) {
	f.lastID, f.lastMethod, f.lastParams = id, method, params
	return f.result, nil, f.err
}

func TestSkillToolExecute(t *testing.T) {
	inv := &fakeInvoker{result: json.RawMessage(`{"temp": 18}`)}
	tool := NewSkillTool(inv, "weather", "get_weather", "Current weather", nil, ModeReadOnly, false)

	out, err := tool.Execute(context.Background(), map[string]any{"city": "Dublin"})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"temp": 18}` {
		t.Errorf("out = %q", out)
	}
	if inv.lastID != "weather" || inv.lastMethod != "skill.invoke" {
		t.Errorf("invoked %s/%s", inv.lastID, inv.lastMethod)
	}
}

func TestSkillToolError(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("process exited")}
	tool := NewSkillTool(inv, "weather", "get_weather", "", nil, ModeReadOnly, false)
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Error("invoker error swallowed")
	}
}

func TestSkillToolDefaultSchema(t *testing.T) {
	tool := NewSkillTool(&fakeInvoker{}, "x", "x", "", nil, ModeReadOnly, false)
	if tool.Schema()["type"] != "object" {
		t.Errorf("schema = %v", tool.Schema())
	}
}

func TestCanvasTextTool(t *testing.T) {
	backend := canvas.NewLocalBackend()
	tool := NewCanvasTextTool(backend)

	out, err := tool.Execute(context.Background(), map[string]any{"text": "# Hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "element") {
		t.Errorf("out = %q", out)
	}
	if backend.ElementCount() != 1 {
		t.Errorf("elements = %d", backend.ElementCount())
	}

	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("missing text accepted")
	}
}

func TestCanvasChartTool(t *testing.T) {
	backend := canvas.NewLocalBackend()
	tool := NewCanvasChartTool(backend)

	// Arguments arrive as decoded JSON, so slices are []any.
	args := map[string]any{
		"title":  "sales",
		"labels": []any{"a", "b"},
		"values": []any{1.0, 2.0},
	}
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	if backend.ElementCount() != 1 {
		t.Errorf("elements = %d", backend.ElementCount())
	}

	bad := map[string]any{"labels": []any{"a"}, "values": []any{1.0, 2.0}}
	if _, err := tool.Execute(context.Background(), bad); err == nil {
		t.Error("mismatched labels/values accepted")
	}
}

func TestCanvasClearTool(t *testing.T) {
	backend := canvas.NewLocalBackend()
	backend.PushMessage(canvas.Message{Role: "user", Text: "hi"})
	tool := NewCanvasClearTool(backend)

	if _, err := tool.Execute(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if backend.MessageCount() != 0 || backend.ElementCount() != 0 {
		t.Error("canvas not cleared")
	}
}
