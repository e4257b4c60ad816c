package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/stompws"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
)

const (
	topicPrefix   = "/topic/safe-walk/"
	publishPrefix = "/app/safe-walks/"
	publishSuffix = "/track"
)

var (
	errNotConnected = errors.New("CONNECT required")
	errUnauthorized = errors.New("invalid or missing bearer token")
	errForbidden    = errors.New("not allowed on this session")
	errDestination  = errors.New("unknown destination")
	errBadPayload   = errors.New("payload must be a TRACK event")
	errDuplicateSub = errors.New("subscription id already in use")
	errUnknownSub   = errors.New("unknown subscription id")
	errUnknownFrame = errors.New("unsupported frame")
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	ValidateAccessToken(token string) (int64, error)
}

// Access decides who may watch and who may publish on a session topic.
type Access interface {
	CanWatch(ctx context.Context, userID, sessionID int64) (bool, error)
	CanPublish(ctx context.Context, userID, sessionID int64) (bool, error)
}

// Broker is a minimal STOMP 1.2 endpoint for safe-walk topics.
type Broker struct {
	hub    *Hub
	auth   Authenticator
	access Access
}

func NewBroker(hub *Hub, auth Authenticator, access Access) *Broker {
	return &Broker{hub: hub, auth: auth, access: access}
}

// Serve runs one STOMP session until the peer disconnects.
func (b *Broker) Serve(ws stompws.MessageConn) {
	conn := stompws.New(ws)
	defer conn.Close()

	s := &brokerSession{
		broker: b,
		writer: frame.NewWriter(conn),
		subs:   map[string]*Client{},
	}
	defer s.cleanup()

	reader := frame.NewReader(conn)
	for {
		f, err := reader.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue
		}
		done, err := s.handle(f)
		if err != nil {
			s.sendError(f, err)
			return
		}
		if done {
			return
		}
	}
}

type brokerSession struct {
	broker *Broker
	wmu    sync.Mutex
	writer *frame.Writer
	userID int64
	authed bool
	mu     sync.Mutex
	subs   map[string]*Client
	wg     sync.WaitGroup
}

func (s *brokerSession) handle(f *frame.Frame) (bool, error) {
	ctx := context.Background()
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		return false, s.connect(f)
	}
	if !s.authed {
		return false, errNotConnected
	}

	switch f.Command {
	case frame.SUBSCRIBE:
		if err := s.subscribe(ctx, f); err != nil {
			return false, err
		}
	case frame.UNSUBSCRIBE:
		if err := s.unsubscribe(f.Header.Get(frame.Id)); err != nil {
			return false, err
		}
	case frame.SEND:
		if err := s.publish(ctx, f); err != nil {
			return false, err
		}
	case frame.DISCONNECT:
		s.receipt(f)
		return true, nil
	case frame.ACK, frame.NACK:
	default:
		return false, errUnknownFrame
	}
	s.receipt(f)
	return false, nil
}

func (s *brokerSession) connect(f *frame.Frame) error {
	token := bearer(f.Header.Get("Authorization"))
	if token == "" {
		token = f.Header.Get(frame.Passcode)
	}
	userID, err := s.broker.auth.ValidateAccessToken(token)
	if err != nil || token == "" {
		return errUnauthorized
	}
	s.userID = userID
	s.authed = true
	return s.write(frame.New(frame.CONNECTED,
		frame.Version, "1.2",
		frame.HeartBeat, "0,0",
		frame.Server, "selfbell/1.0",
	))
}

func (s *brokerSession) subscribe(ctx context.Context, f *frame.Frame) error {
	id := f.Header.Get(frame.Id)
	dest := f.Header.Get(frame.Destination)
	sessionID, ok := parseSessionDestination(dest, topicPrefix, "")
	if !ok {
		return errDestination
	}
	allowed, err := s.broker.access.CanWatch(ctx, s.userID, sessionID)
	if err != nil {
		return err
	}
	if !allowed {
		return errForbidden
	}

	s.mu.Lock()
	if _, exists := s.subs[id]; exists {
		s.mu.Unlock()
		return errDuplicateSub
	}
	client := s.broker.hub.Register(sessionID)
	s.subs[id] = client
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for payload := range client.Send {
			msg := frame.New(frame.MESSAGE,
				frame.Destination, dest,
				frame.Subscription, id,
				frame.MessageId, uuid.NewString(),
				frame.ContentType, "application/json",
				frame.ContentLength, strconv.Itoa(len(payload)),
			)
			msg.Body = payload
			if err := s.write(msg); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *brokerSession) unsubscribe(id string) error {
	s.mu.Lock()
	client, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if !ok {
		return errUnknownSub
	}
	s.broker.hub.Unregister(client)
	return nil
}

func (s *brokerSession) publish(ctx context.Context, f *frame.Frame) error {
	sessionID, ok := parseSessionDestination(f.Header.Get(frame.Destination), publishPrefix, publishSuffix)
	if !ok {
		return errDestination
	}
	allowed, err := s.broker.access.CanPublish(ctx, s.userID, sessionID)
	if err != nil {
		return err
	}
	if !allowed {
		return errForbidden
	}

	var in struct {
		Type       string     `json:"type"`
		Lat        *float64   `json:"lat"`
		Lon        *float64   `json:"lon"`
		CapturedAt *time.Time `json:"capturedAt"`
	}
	if err := json.Unmarshal(f.Body, &in); err != nil || in.Type != api.EventTrack ||
		in.Lat == nil || in.Lon == nil || in.CapturedAt == nil {
		return errBadPayload
	}
	payload, err := json.Marshal(api.NewTrackEvent(*in.Lat, *in.Lon, *in.CapturedAt))
	if err != nil {
		return err
	}
	s.broker.hub.Broadcast(sessionID, payload)
	return nil
}

func (s *brokerSession) receipt(f *frame.Frame) {
	if id, ok := f.Header.Contains(frame.Receipt); ok {
		_ = s.write(frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

func (s *brokerSession) sendError(cause *frame.Frame, err error) {
	log.Printf("stomp %s rejected: %v", cause.Command, err)
	ef := frame.New(frame.ERROR, frame.Message, err.Error())
	if id, ok := cause.Header.Contains(frame.Receipt); ok {
		ef.Header.Add(frame.ReceiptId, id)
	}
	_ = s.write(ef)
}

func (s *brokerSession) write(f *frame.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writer.Write(f)
}

func (s *brokerSession) cleanup() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]*Client{}
	s.mu.Unlock()
	for _, client := range subs {
		s.broker.hub.Unregister(client)
	}
	s.wg.Wait()
}

// parseSessionDestination extracts the numeric session id from
// prefix + id + suffix.
func parseSessionDestination(dest, prefix, suffix string) (int64, bool) {
	if !strings.HasPrefix(dest, prefix) || !strings.HasSuffix(dest, suffix) {
		return 0, false
	}
	raw := dest[len(prefix) : len(dest)-len(suffix)]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func bearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// EndEvent builds the topic payload sent when a session closes.
func EndEvent(reason api.EndReason) []byte {
	payload, _ := json.Marshal(api.RealtimeEvent{Type: api.EventEnd, Reason: reason})
	return payload
}
