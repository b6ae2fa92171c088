package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusServer_BroadcastReachesConnectedClient(t *testing.T) {
	s := newStatusServer(newComponentLogger("status-test"), ":0")
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give handleWS a moment to register the client before broadcasting.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.broadcast(streamReport{Worker: "rx", Active: true, PeriodAvg: 42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(body), `"period_avg_us":42`) {
		t.Errorf("broadcast body = %s, want it to contain the period average", body)
	}
}

func TestStatusServer_RemoveClientOnDisconnect(t *testing.T) {
	s := newStatusServer(newComponentLogger("status-test"), ":0")
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
