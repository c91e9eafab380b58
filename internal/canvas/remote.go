package canvas

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saorsa-labs/fae/internal/logging"
)

// WireMessage is the remote canvas wire format, both directions.
type WireMessage struct {
	Type    string          `json:"type"`
	Element *Element        `json:"element,omitempty"`
	ID      string          `json:"id,omitempty"`
	Scene   *Scene          `json:"scene,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Raw     json.RawMessage `json:"payload,omitempty"`
}

const (
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second
	pingInterval   = 20 * time.Second
)

// RemoteBackend applies every mutation to a local shadow and mirrors it to a
// canvas server over WebSocket. Sends while disconnected succeed locally and
// are not replayed; the server reconciles with its next scene_update.
type RemoteBackend struct {
	*LocalBackend

	url  string
	dial func(ctx context.Context, url string) (*websocket.Conn, error)

	mu     sync.Mutex
	status ConnectionStatus
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	// writeMu serializes frame writes: gorilla allows one concurrent
	// writer, and mutators plus the ping loop all send.
	writeMu sync.Mutex
}

func NewRemoteBackend(url string) *RemoteBackend {
	return &RemoteBackend{
		LocalBackend: NewLocalBackend(),
		url:          url,
		status:       ConnectionStatus{State: StateDisconnected},
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Start launches the connection loop. Stop with Close.
func (b *RemoteBackend) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
}

// Close tears the connection down and stops reconnecting.
func (b *RemoteBackend) Close() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

func (b *RemoteBackend) run(ctx context.Context) {
	defer close(b.done)
	backoff := backoffInitial
	attempt := 0

	for {
		if ctx.Err() != nil {
			b.setStatus(ConnectionStatus{State: StateDisconnected})
			return
		}
		if attempt == 0 {
			b.setStatus(ConnectionStatus{State: StateConnecting})
		} else {
			b.setStatus(ConnectionStatus{State: StateReconnecting, Attempt: attempt})
		}

		conn, err := b.dial(ctx, b.url)
		if err != nil {
			logging.Warnf("[canvas] connect %s failed: %v", b.url, err)
			b.setStatus(ConnectionStatus{State: StateFailed, Detail: err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			attempt++
			continue
		}
		backoff = backoffInitial
		attempt++

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.setStatus(ConnectionStatus{State: StateConnected})
		b.send(&WireMessage{Type: "subscribe"})

		b.readLoop(ctx, conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		conn.Close()
		if ctx.Err() != nil {
			b.setStatus(ConnectionStatus{State: StateDisconnected})
			return
		}
		b.setStatus(ConnectionStatus{State: StateReconnecting, Attempt: attempt})
	}
}

func (b *RemoteBackend) readLoop(ctx context.Context, conn *websocket.Conn) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ping.C:
				b.send(&WireMessage{Type: "ping"})
			}
		}
	}()

	for {
		var msg WireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				logging.Warnf("[canvas] remote read: %v", err)
			}
			return
		}
		b.handleInbound(&msg)
	}
}

// handleInbound applies a server message authoritatively to the shadow.
func (b *RemoteBackend) handleInbound(msg *WireMessage) {
	switch msg.Type {
	case "welcome", "ack", "pong", "sync_result":
		// Informational.
	case "scene_update":
		if msg.Scene != nil {
			b.LocalBackend.ReplaceScene(*msg.Scene)
		}
	case "element_added", "element_updated":
		if msg.Element != nil {
			b.LocalBackend.UpdateElement(*msg.Element)
		}
	case "element_removed":
		if msg.ID != "" {
			b.LocalBackend.RemoveElement(msg.ID)
		}
	case "error":
		logging.Warnf("[canvas] remote error: %s", msg.Detail)
	default:
		logging.Debugf("[canvas] ignoring remote message %q", msg.Type)
	}
}

// send is best-effort: without a connection the message is dropped.
func (b *RemoteBackend) send(msg *WireMessage) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	err := conn.WriteJSON(msg)
	b.writeMu.Unlock()
	if err != nil {
		logging.Debugf("[canvas] remote send failed: %v", err)
	}
}

func (b *RemoteBackend) setStatus(s ConnectionStatus) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
	logging.Debugf("[canvas] connection %s", s.State)
}

// ConnectionStatus reports the remote link state.
func (b *RemoteBackend) ConnectionStatus() ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// PushMessage applies locally and mirrors the created element remotely.
func (b *RemoteBackend) PushMessage(msg Message) {
	b.LocalBackend.PushMessage(msg)
	scene := b.SceneSnapshot()
	if n := len(scene.Elements); n > 0 {
		el := scene.Elements[n-1]
		b.send(&WireMessage{Type: "add_element", Element: &el})
	}
}

// AddElement applies locally, then mirrors.
func (b *RemoteBackend) AddElement(el Element) {
	b.LocalBackend.AddElement(el)
	b.send(&WireMessage{Type: "add_element", Element: &el})
}

// UpdateElement applies locally, then mirrors.
func (b *RemoteBackend) UpdateElement(el Element) {
	b.LocalBackend.UpdateElement(el)
	b.send(&WireMessage{Type: "update_element", Element: &el})
}

// RemoveElement applies locally, then mirrors.
func (b *RemoteBackend) RemoveElement(id string) {
	b.LocalBackend.RemoveElement(id)
	b.send(&WireMessage{Type: "remove_element", ID: id})
}

// RequestScene asks the server for its authoritative scene.
func (b *RemoteBackend) RequestScene() {
	b.send(&WireMessage{Type: "get_scene"})
}
