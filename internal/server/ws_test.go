package server

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestLogHubConnectionLimit(t *testing.T) {
	hub := NewLogHub(2, nil)

	a, b, c := &websocket.Conn{}, &websocket.Conn{}, &websocket.Conn{}
	if !hub.add(a) || !hub.add(b) {
		t.Fatalf("connections under the cap must be accepted")
	}
	if hub.add(c) {
		t.Fatalf("connection beyond the cap must be rejected")
	}

	hub.remove(a)
	if !hub.add(c) {
		t.Fatalf("a freed slot must be reusable")
	}
}

func TestLogHubDefaults(t *testing.T) {
	hub := NewLogHub(0, nil)
	if hub.maxConns != defaultMaxConns {
		t.Fatalf("zero cap must fall back to the default, got %d", hub.maxConns)
	}
}
