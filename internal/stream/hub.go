package stream

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "safewalk:"
	channelSuffix  = ":broadcast"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans topic payloads out to local subscribers. With redis configured,
// every payload goes through a redis channel so that all API instances
// deliver it.
type Hub struct {
	redis    *redis.Client
	pubsub   *redis.PubSub
	clients  map[int64]map[*Client]struct{}
	mu       sync.RWMutex
	viaRedis bool
}

type Client struct {
	SessionID int64
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[int64]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx := context.Background()
		pubsub := redisClient.PSubscribe(ctx, channelPattern)
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Printf("redis subscribe error, delivering locally: %v", err)
			_ = pubsub.Close()
		} else {
			h.pubsub = pubsub
			h.viaRedis = true
			go h.subscribeRedis(pubsub)
		}
	}
	return h
}

func (h *Hub) Register(sessionID int64) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

// Unregister removes client and closes its Send channel. Calling it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Subscribers returns the number of local clients on a session topic.
func (h *Hub) Subscribers(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) Broadcast(sessionID int64, payload []byte) {
	if h.viaRedis {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(sessionID, payload)
}

func (h *Hub) deliver(sessionID int64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	if h.pubsub != nil {
		_ = h.pubsub.Close()
	}
}

func (h *Hub) subscribeRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		sessionID, ok := sessionIDFromChannel(msg.Channel)
		if !ok {
			continue
		}
		h.deliver(sessionID, []byte(msg.Payload))
	}
}

func redisChannel(sessionID int64) string {
	return channelPrefix + strconv.FormatInt(sessionID, 10) + channelSuffix
}

func sessionIDFromChannel(ch string) (int64, bool) {
	// safewalk:{session}:broadcast
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(ch[len(channelPrefix):len(ch)-len(channelSuffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
