package stream

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register(1)
	defer hub.Unregister(client)

	hub.Broadcast(1, []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubBroadcastOtherSession(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register(1)
	defer hub.Unregister(client)

	hub.Broadcast(2, []byte("hello"))

	select {
	case <-client.Send:
		t.Fatalf("message leaked across sessions")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel(42)
	if ch != "safewalk:42:broadcast" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if id, ok := sessionIDFromChannel(ch); !ok || id != 42 {
		t.Fatalf("unexpected session id")
	}
	if _, ok := sessionIDFromChannel("bad"); ok {
		t.Fatalf("expected no session id")
	}
	if _, ok := sessionIDFromChannel("safewalk:x:broadcast"); ok {
		t.Fatalf("expected no session id for non-numeric")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register(2)
	hub.Unregister(client)
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Subscribers(2) != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubRedisBroadcast(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	ws := hub.Register(7)
	defer hub.Unregister(ws)

	hub.Broadcast(7, []byte("ping"))

	select {
	case msg := <-ws.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for broadcast")
	}

	// exactly once: redis delivery replaces the local path
	select {
	case <-ws.Send:
		t.Fatalf("duplicate delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRedisFromOtherInstance(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	ws := hub.Register(8)
	defer hub.Unregister(ws)

	other := NewHub(client)
	defer other.Close()
	other.Broadcast(8, []byte("pong"))

	select {
	case msg := <-ws.Send:
		if string(msg) != "pong" {
			t.Fatalf("unexpected message from redis")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for redis message")
	}
}

func TestHubRedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	node := hub.Register(9)
	defer hub.Unregister(node)

	hub.Broadcast(9, []byte("ping"))
	select {
	case msg := <-node.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("expected local fallback delivery")
	}
}
