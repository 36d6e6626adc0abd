package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsReadDeadline  = 30 * time.Second
	wsPingInterval  = 20 * time.Second
	wsWriteDeadline = 10 * time.Second
	defaultMaxConns = 100
)

// LogHub fans process log lines out to websocket subscribers. The
// connection set is bounded; extra connections are rejected at upgrade.
type LogHub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	maxConns int
	logger   *log.Logger
}

// NewLogHub builds a hub with the given connection cap.
func NewLogHub(maxConns int, logger *log.Logger) *LogHub {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WS] ", log.LstdFlags)
	}
	return &LogHub{conns: make(map[*websocket.Conn]struct{}), maxConns: maxConns, logger: logger}
}

// Write implements io.Writer so the hub can sit in a log.MultiWriter tee.
func (h *LogHub) Write(p []byte) (int, error) {
	h.Broadcast(map[string]any{"type": "log", "line": string(p), "time": time.Now().UTC()})
	return len(p), nil
}

// Broadcast sends one JSON event to every live connection. Dead
// connections are pruned.
func (h *LogHub) Broadcast(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *LogHub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) >= h.maxConns {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *LogHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

var upgrader = websocket.Upgrader{
	// Every origin is accepted at upgrade; the CORS allowlist configured on
	// the HTTP layer is not consulted here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogsWS streams log events until the client goes quiet past the
// read deadline or disconnects.
func (s *Server) handleLogsWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	if !s.logs.add(conn) {
		conn.WriteJSON(map[string]string{"error": "connection limit reached"})
		conn.Close()
		return nil
	}
	defer func() {
		s.logs.remove(conn)
		conn.Close()
	}()

	s.pumpConnection(conn)
	return nil
}

// handleProgressWS streams progress snapshots.
func (s *Server) handleProgressWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	if !s.logs.add(conn) {
		conn.WriteJSON(map[string]string{"error": "connection limit reached"})
		conn.Close()
		return nil
	}
	defer func() {
		s.logs.remove(conn)
		conn.Close()
	}()

	updates, cancel := s.engine.Progress().Subscribe()
	defer cancel()

	// Send the current state immediately so refreshes recover.
	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := conn.WriteJSON(s.engine.Progress().State()); err != nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn)
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case state := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(state); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// pumpConnection keeps a write-mostly connection alive: periodic pings,
// read deadline refreshed by pongs.
func (s *Server) pumpConnection(conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn)
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	}
}
