package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// MaxLineBytes is the hard cap on a single JSON-RPC line. A peer that
// exceeds it is misbehaving; the read fails with ErrOutputTruncated.
const MaxLineBytes = 100 * 1024

var (
	// ErrOutputTruncated indicates the peer exceeded MaxLineBytes.
	ErrOutputTruncated = errors.New("wire: peer output exceeded line size limit")

	// ErrProcessExited indicates the peer closed its end of the pipe.
	ErrProcessExited = errors.New("wire: peer process exited")

	// ErrProtocol indicates a framing or correlation violation.
	ErrProtocol = errors.New("wire: protocol error")
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

// Notification is a JSON-RPC 2.0 notification (no id, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message is the decoded shape of any inbound line; the id/method
// combination determines what it is.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

// Codec frames JSON-RPC messages over a line-oriented transport, one
// message per newline-terminated line. It is safe for one reader and one
// writer goroutine concurrently.
type Codec struct {
	writeMu sync.Mutex
	w       io.Writer
	r       *bufio.Reader
	nextID  int64
}

// NewCodec wraps a reader/writer pair (typically a child's stdout/stdin).
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		w: w,
		r: bufio.NewReaderSize(r, 64*1024),
	}
}

// NextID returns a fresh request id. Not safe for concurrent use with
// itself; callers serialize request issuance.
func (c *Codec) NextID() int64 {
	c.nextID++
	return c.nextID
}

// WriteRequest sends a request. A broken pipe means the peer exited.
func (c *Codec) WriteRequest(method string, params any, id int64) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.writeLine(Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id})
}

// WriteNotification sends a notification.
func (c *Codec) WriteNotification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.writeLine(Notification{JSONRPC: "2.0", Method: method, Params: raw})
}

// WriteResponse sends a response to a peer request.
func (c *Codec) WriteResponse(id int64, result any, rpcErr *RPCError) error {
	raw, err := marshalParams(result)
	if err != nil {
		return err
	}
	return c.writeLine(Response{JSONRPC: "2.0", Result: raw, Error: rpcErr, ID: id})
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal params: %w", err)
	}
	return raw, nil
}

func (c *Codec) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return errors.Join(ErrProcessExited, err)
	}
	return nil
}

// ReadMessage reads the next line and classifies it. Oversized lines are
// discarded to the next newline and reported as ErrOutputTruncated.
func (c *Codec) ReadMessage() (*Message, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: bad json: %v", ErrProtocol, err)
	}
	return &msg, nil
}

func (c *Codec) readLine() ([]byte, error) {
	var buf []byte
	for {
		frag, err := c.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if len(buf) > MaxLineBytes {
				c.discardLine()
				return nil, ErrOutputTruncated
			}
			continue
		}
		if err == io.EOF || errors.Is(err, os.ErrClosed) {
			return nil, ErrProcessExited
		}
		return nil, err
	}
	if len(buf) > MaxLineBytes {
		return nil, ErrOutputTruncated
	}
	return buf[:len(buf)-1], nil
}

// discardLine skips input to the next newline after an oversized read.
func (c *Codec) discardLine() {
	for {
		_, err := c.r.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// AwaitResult reads messages until the response correlated with id arrives.
// Notifications received in the meantime are buffered and returned alongside
// the response. A response with any other id is a protocol error.
func (c *Codec) AwaitResult(id int64) (json.RawMessage, []Notification, error) {
	var notes []Notification
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return nil, notes, err
		}
		switch {
		case msg.ID == nil && msg.Method != "":
			notes = append(notes, Notification{
				JSONRPC: msg.JSONRPC,
				Method:  msg.Method,
				Params:  msg.Params,
			})
		case msg.ID != nil && msg.Method == "":
			if *msg.ID != id {
				return nil, notes, fmt.Errorf("%w: response id %d, awaiting %d", ErrProtocol, *msg.ID, id)
			}
			if msg.Error != nil {
				return nil, notes, msg.Error
			}
			return msg.Result, notes, nil
		default:
			// Peer-initiated request; skills have no business calling us
			// mid-await, so treat it as a framing violation.
			return nil, notes, fmt.Errorf("%w: unexpected request %q while awaiting %d", ErrProtocol, msg.Method, id)
		}
	}
}
