package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// statusServer is a read-only HTTP+WebSocket endpoint broadcasting live
// stats snapshots, modeled on the teacher's websocket.go upgrade +
// broadcast-loop pattern. Never a control surface: the UDP control
// protocol remains the only way to start/stop a stream (SPEC_FULL.md
// §4.12).
type statusServer struct {
	log      *componentLogger
	upgrader websocket.Upgrader
	srv      *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newStatusServer(log *componentLogger, listenAddr string) *statusServer {
	s := &statusServer{
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Status feed is read-only and carries no credentials.
				return true
			},
		},
		clients:  make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Addr: listenAddr, Handler: mux}
	return s
}

func (s *statusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("websocket upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain and discard any client->server frames (ping/close handling);
	// this endpoint never reads application data from clients.
	go func() {
		defer s.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *statusServer) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// broadcast fans one stats snapshot out to every connected client,
// dropping any that error (they'll reconnect).
func (s *statusServer) broadcast(rep streamReport) {
	body, err := json.Marshal(rep)
	if err != nil {
		s.log.Printf("status broadcast marshal failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

func (s *statusServer) listenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status websocket listener: %w", err)
	}
	return nil
}

func (s *statusServer) shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
