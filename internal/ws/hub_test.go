package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestSubscriberGetsInitialPayload(t *testing.T) {
	source := func() (any, error) {
		return map[string]string{"node_name": "box-1"}, nil
	}
	hub := New(context.Background(), source, time.Hour, nil)

	conn := dialHub(t, hub)

	msg := readEnvelope(t, conn)
	if msg.Event != EventTelemetry {
		t.Errorf("event = %q, want %q", msg.Event, EventTelemetry)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload["node_name"] != "box-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestBroadcastTicks(t *testing.T) {
	source := func() (any, error) {
		return map[string]int{"n": 1}, nil
	}
	hub := New(context.Background(), source, 20*time.Millisecond, nil)

	conn := dialHub(t, hub)

	// Initial frame plus at least two ticked broadcasts.
	for i := 0; i < 3; i++ {
		if msg := readEnvelope(t, conn); msg.Event != EventTelemetry {
			t.Fatalf("frame %d: event = %q", i, msg.Event)
		}
	}
}

func TestSubscriberCount(t *testing.T) {
	source := func() (any, error) { return struct{}{}, nil }
	hub := New(context.Background(), source, time.Hour, nil)

	conn := dialHub(t, hub)

	waitForCount(t, hub, 1)
	conn.Close()
	waitForCount(t, hub, 0)
}

func TestShutdownClosesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := func() (any, error) { return struct{}{}, nil }
	hub := New(ctx, source, 20*time.Millisecond, nil)

	conn := dialHub(t, hub)
	readEnvelope(t, conn) // initial frame proves the loop is up

	cancel()
	waitForCount(t, hub, 0)
}

// Subscribers disconnecting while a broadcast is in flight must never let a
// send hit a just-closed channel: that panic would escape the broadcast loop
// and take the process down.
func TestBroadcastSurvivesConcurrentUnregister(t *testing.T) {
	source := func() (any, error) { return struct{}{}, nil }
	hub := New(context.Background(), source, time.Hour, nil)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				hub.broadcast()
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 5000; i++ {
			c := &client{send: make(chan []byte, 1)}
			hub.mu.Lock()
			hub.clients[c] = struct{}{}
			hub.running = true
			hub.mu.Unlock()
			hub.unregister(c)
		}
	}()

	wg.Wait()
	if got := hub.Count(); got != 0 {
		t.Errorf("subscriber count = %d after churn, want 0", got)
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d (now %d)", want, hub.Count())
}
