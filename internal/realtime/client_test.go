package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/stream"

	"github.com/gorilla/websocket"
)

type tokens map[string]int64

func (t tokens) ValidateAccessToken(token string) (int64, error) {
	id, ok := t[token]
	if !ok {
		return 0, errors.New("bad token")
	}
	return id, nil
}

type access struct{}

func (access) CanWatch(_ context.Context, userID, sessionID int64) (bool, error) {
	return sessionID == 5 && userID <= 2, nil
}

func (access) CanPublish(_ context.Context, userID, sessionID int64) (bool, error) {
	return sessionID == 5 && userID == 1, nil
}

func newBroker(t *testing.T) (string, *stream.Hub) {
	t.Helper()
	hub := stream.NewHub(nil)
	broker := stream.NewBroker(hub, tokens{"ward": 1, "guardian": 2}, access{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		broker.Serve(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub
}

func waitSubscribers(t *testing.T, hub *stream.Hub, sessionID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers(sessionID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, hub.Subscribers(sessionID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesGuardian(t *testing.T) {
	endpoint, hub := newBroker(t)
	ctx := context.Background()

	guardian := New(endpoint)
	if err := guardian.Connect(ctx, "guardian", 5); err != nil {
		t.Fatalf("guardian connect: %v", err)
	}
	defer guardian.Disconnect()

	ward := New(endpoint)
	if err := ward.Connect(ctx, "ward", 5); err != nil {
		t.Fatalf("ward connect: %v", err)
	}
	defer ward.Disconnect()
	waitSubscribers(t, hub, 5, 2)

	at := time.Date(2026, 10, 14, 21, 5, 0, 0, time.UTC)
	if err := ward.Publish(ctx, 5, 37.5663, 126.9779, at); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-guardian.Events():
		if event.Type != api.EventTrack || event.Lat != 37.5663 || event.Lon != 126.9779 {
			t.Fatalf("unexpected event %+v", event)
		}
		if event.CapturedAt == nil || !event.CapturedAt.Equal(at) {
			t.Fatalf("unexpected capturedAt %v", event.CapturedAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for live event")
	}
}

func TestConnectRejectedToken(t *testing.T) {
	endpoint, _ := newBroker(t)
	c := New(endpoint)
	err := c.Connect(context.Background(), "nobody", 5)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("client must not be connected")
	}
}

func TestConnectDialFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws")
	err := c.Connect(context.Background(), "ward", 5)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Op != "dial" {
		t.Fatalf("expected dial connection error, got %v", err)
	}
}

func TestConnectTwice(t *testing.T) {
	endpoint, _ := newBroker(t)
	c := New(endpoint)
	if err := c.Connect(context.Background(), "ward", 5); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	if err := c.Connect(context.Background(), "ward", 5); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected already connected, got %v", err)
	}
}

func TestPublishNotConnected(t *testing.T) {
	c := New("ws://unused")
	err := c.Publish(context.Background(), 5, 1, 2, time.Now())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestPublishWrongSession(t *testing.T) {
	endpoint, _ := newBroker(t)
	c := New(endpoint)
	if err := c.Connect(context.Background(), "ward", 5); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	if err := c.Publish(context.Background(), 6, 1, 2, time.Now()); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	endpoint, hub := newBroker(t)
	c := New(endpoint)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect before connect: %v", err)
	}
	if err := c.Connect(context.Background(), "ward", 5); err != nil {
		t.Fatalf("connect: %v", err)
	}
	events := c.Events()
	waitSubscribers(t, hub, 5, 1)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if c.Connected() {
		t.Fatalf("expected disconnected")
	}
	waitSubscribers(t, hub, 5, 0)

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed events channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("events channel not closed")
	}
}

func TestHostOf(t *testing.T) {
	if hostOf("wss://api.selfbell.example:8443/ws") != "api.selfbell.example" {
		t.Fatalf("unexpected host")
	}
	if hostOf("::bad") != "localhost" {
		t.Fatalf("expected fallback host")
	}
}
