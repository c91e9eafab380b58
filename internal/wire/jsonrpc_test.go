package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var out bytes.Buffer
	c := NewCodec(strings.NewReader(""), &out)

	id := c.NextID()
	if err := c.WriteRequest("skill.invoke", map[string]string{"tool": "weather"}, id); err != nil {
		t.Fatal(err)
	}

	line := out.String()
	if !strings.HasSuffix(line, "\n") {
		t.Error("request not newline-terminated")
	}
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		t.Fatal(err)
	}
	if req.JSONRPC != "2.0" || req.Method != "skill.invoke" || req.ID != id {
		t.Errorf("req = %+v", req)
	}
}

func TestAwaitResultBuffersNotifications(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"skill.progress","params":{"pct":50}}` + "\n" +
		`{"jsonrpc":"2.0","method":"skill.progress","params":{"pct":90}}` + "\n" +
		`{"jsonrpc":"2.0","result":{"ok":true},"id":7}` + "\n"

	c := NewCodec(strings.NewReader(input), &bytes.Buffer{})
	result, notes, err := c.AwaitResult(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 buffered notifications, got %d", len(notes))
	}
	if notes[0].Method != "skill.progress" {
		t.Errorf("notification method = %q", notes[0].Method)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("result = %s", result)
	}
}

func TestAwaitResultIDMismatch(t *testing.T) {
	input := `{"jsonrpc":"2.0","result":{},"id":99}` + "\n"
	c := NewCodec(strings.NewReader(input), &bytes.Buffer{})
	_, _, err := c.AwaitResult(7)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestAwaitResultRPCError(t *testing.T) {
	input := `{"jsonrpc":"2.0","error":{"code":-32601,"message":"no such method"},"id":3}` + "\n"
	c := NewCodec(strings.NewReader(input), &bytes.Buffer{})
	_, _, err := c.AwaitResult(3)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("expected RPCError, got %v", err)
	}
}

func TestReadMessageOversizedLine(t *testing.T) {
	big := strings.Repeat("x", MaxLineBytes+10)
	input := `{"jsonrpc":"2.0","method":"spam","params":"` + big + `"}` + "\n" +
		`{"jsonrpc":"2.0","result":{},"id":1}` + "\n"

	c := NewCodec(strings.NewReader(input), &bytes.Buffer{})
	_, err := c.ReadMessage()
	if !errors.Is(err, ErrOutputTruncated) {
		t.Fatalf("expected ErrOutputTruncated, got %v", err)
	}

	// The oversized line must be discarded so the stream stays usable.
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == nil || *msg.ID != 1 {
		t.Errorf("expected to resync on next message, got %+v", msg)
	}
}

func TestReadMessageEOFMeansProcessExited(t *testing.T) {
	c := NewCodec(strings.NewReader(""), &bytes.Buffer{})
	_, err := c.ReadMessage()
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}

// Reading a pipe whose file was closed locally must classify the same way
// EOF does, without matching on error strings.
func TestReadMessageClosedPipeMeansProcessExited(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	r.Close()

	c := NewCodec(r, w)
	if _, err := c.ReadMessage(); !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}
