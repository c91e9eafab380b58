// Package server is the local debug surface the GUI shell talks to: the
// rendered canvas HTML and a WebSocket stream of runtime events.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/runtime"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local loopback server only; the host shell is the single client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CanvasRenderer is the slice of the canvas backend the server needs.
type CanvasRenderer interface {
	ToHTMLCached() string
}

// Server serves the debug endpoints on a loopback address.
type Server struct {
	addr   string
	bus    *runtime.Bus
	canvas CanvasRenderer
	http   *http.Server
}

func New(addr string, bus *runtime.Bus, canvas CanvasRenderer) *Server {
	s := &Server{addr: addr, bus: bus, canvas: canvas}
	s.http = &http.Server{Handler: s.Router()}
	return s
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/canvas", s.handleCanvas)
	r.Get("/ws/events", s.handleEvents)
	return r
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	logging.Infof("[server] listening on %s", ln.Addr())
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Errorf("[server] serve: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleCanvas(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(s.canvas.ToHTMLCached()))
}

// handleEvents upgrades to WebSocket and relays the runtime event bus as
// JSON, one event per message. A slow client lags the same way any bus
// subscriber does; the server never blocks the pipeline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("[server] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsub := s.bus.Subscribe()
	defer unsub()

	// Reader goroutine: we send only, but control frames still need a
	// reader. Its exit signals a gone client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
