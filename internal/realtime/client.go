// Package realtime pushes live safe-walk locations over STOMP-over-WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/stompws"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

const (
	defaultDisconnectTimeout = 3 * time.Second
	eventBuffer              = 32
)

// Client owns at most one broker connection, bound to one session topic.
type Client struct {
	url               string
	dialer            *websocket.Dialer
	log               *slog.Logger
	disconnectTimeout time.Duration

	mu        sync.Mutex
	ws        *stompws.Conn
	conn      *stomp.Conn
	sub       *stomp.Subscription
	sessionID int64
	events    chan api.RealtimeEvent
	pumpDone  chan struct{}
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.disconnectTimeout = d }
}

// New returns a client for the broker websocket endpoint, e.g. wss://host/ws.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		url:               endpoint,
		dialer:            websocket.DefaultDialer,
		log:               slog.Default(),
		disconnectTimeout: defaultDisconnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the broker connection and subscribes to the session topic.
func (c *Client) Connect(ctx context.Context, token string, sessionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	rwc := stompws.New(ws)

	// stomp.Connect has no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	conn, err := stomp.Connect(rwc,
		stomp.ConnOpt.Host(hostOf(c.url)),
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.HeartBeat(0, 0),
	)
	if !stop() {
		_ = rwc.Close()
		return &ConnectionError{Op: "connect", Err: ctx.Err()}
	}
	if err != nil {
		_ = rwc.Close()
		return &ConnectionError{Op: "connect", Err: err}
	}

	sub, err := conn.Subscribe(api.TopicFor(sessionID), stomp.AckAuto)
	if err != nil {
		_ = rwc.Close()
		return &ConnectionError{Op: "subscribe", Err: err}
	}

	c.ws, c.conn, c.sub, c.sessionID = rwc, conn, sub, sessionID
	c.events = make(chan api.RealtimeEvent, eventBuffer)
	c.pumpDone = make(chan struct{})
	go c.pump(sub, c.events, c.pumpDone)

	c.log.Info("realtime connected", "session_id", sessionID)
	return nil
}

// Connected reports whether a broker connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Events delivers topic messages for the current connection. The channel is
// closed when the subscription ends.
func (c *Client) Events() <-chan api.RealtimeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Publish sends one live location to the session topic.
func (c *Client) Publish(ctx context.Context, sessionID int64, lat, lon float64, capturedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "publish", Err: err}
	}
	c.mu.Lock()
	conn, bound := c.conn, c.sessionID
	c.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "publish", Err: ErrNotConnected}
	}
	if sessionID != bound {
		return ErrSessionMismatch
	}

	body, err := json.Marshal(api.NewTrackEvent(lat, lon, capturedAt))
	if err != nil {
		return err
	}
	if err := conn.Send(api.PublishDestination(sessionID), "application/json", body); err != nil {
		return &ConnectionError{Op: "publish", Err: err}
	}
	return nil
}

// Disconnect unsubscribes and closes the connection. It is safe to call on a
// closed or never-opened client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	ws, conn, sub, pumpDone := c.ws, c.conn, c.sub, c.pumpDone
	sessionID := c.sessionID
	c.ws, c.conn, c.sub, c.sessionID = nil, nil, nil, 0
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Debug("realtime unsubscribe", "err", err)
		}
		done <- conn.Disconnect()
	}()

	var result error
	select {
	case err := <-done:
		if err != nil {
			result = &ConnectionError{Op: "disconnect", Err: err}
		}
	case <-time.After(c.disconnectTimeout):
		result = &ConnectionError{Op: "disconnect", Err: ErrDisconnectTimedOut}
	}
	_ = ws.Close()

	select {
	case <-pumpDone:
	case <-time.After(c.disconnectTimeout):
	}
	c.log.Info("realtime disconnected", "session_id", sessionID)
	return result
}

func (c *Client) pump(sub *stomp.Subscription, events chan<- api.RealtimeEvent, done chan<- struct{}) {
	defer close(done)
	defer close(events)
	for msg := range sub.C {
		if msg.Err != nil {
			c.log.Warn("realtime subscription ended", "err", msg.Err)
			return
		}
		var event api.RealtimeEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			c.log.Debug("realtime payload skipped", "err", err)
			continue
		}
		select {
		case events <- event:
		default:
			c.log.Debug("realtime event dropped", "type", event.Type)
		}
	}
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "localhost"
	}
	return u.Hostname()
}
