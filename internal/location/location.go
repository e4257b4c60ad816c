// Package location turns callback-based position providers into restartable
// sample streams.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sample is one position fix.
type Sample struct {
	Lat        float64
	Lon        float64
	AccuracyM  float64
	CapturedAt time.Time
}

// Request configures how often a provider should deliver fixes.
type Request struct {
	Interval         time.Duration
	MinDisplacementM float64
}

func DefaultRequest() Request {
	return Request{Interval: 10 * time.Second, MinDisplacementM: 10}
}

// Listener receives provider callbacks. Both funcs may be called from any goroutine.
type Listener struct {
	OnLocation func(Sample)
	OnError    func(error)
}

// Registration is a live provider listener.
type Registration interface {
	Remove()
}

// RemoveFunc adapts a plain func to Registration.
type RemoveFunc func()

func (f RemoveFunc) Remove() { f() }

// Provider is the platform position API: it pushes fixes to a listener until
// the registration is removed.
type Provider interface {
	RequestUpdates(req Request, l Listener) (Registration, error)
}

type Permissions interface {
	FineGranted() bool
	CoarseGranted() bool
}

// Grant is a static Permissions value.
type Grant struct {
	Fine   bool
	Coarse bool
}

func (g Grant) FineGranted() bool   { return g.Fine }
func (g Grant) CoarseGranted() bool { return g.Coarse }

// ParseGrant reads "fine", "coarse" or "none".
func ParseGrant(s string) (Grant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fine":
		return Grant{Fine: true, Coarse: true}, nil
	case "coarse":
		return Grant{Coarse: true}, nil
	case "none", "":
		return Grant{}, nil
	}
	return Grant{}, fmt.Errorf("%w: %q", ErrUnknownGrant, s)
}

// Granted reports whether either location permission is present.
func Granted(p Permissions) bool {
	return p != nil && (p.FineGranted() || p.CoarseGranted())
}

const defaultBuffer = 16

type Source struct {
	provider Provider
	perms    Permissions
	req      Request
	buffer   int
	log      *slog.Logger
}

type Option func(*Source)

func WithRequest(req Request) Option {
	return func(s *Source) { s.req = req }
}

// WithBuffer sets how many undelivered samples a stream holds before the
// oldest is dropped.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

func NewSource(provider Provider, perms Permissions, opts ...Option) *Source {
	s := &Source{
		provider: provider,
		perms:    perms,
		req:      DefaultRequest(),
		buffer:   defaultBuffer,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Permitted reports whether Subscribe would pass the permission check.
func (s *Source) Permitted() bool {
	return Granted(s.perms)
}

// Subscribe registers a fresh provider listener and returns its stream. The
// listener is removed when the stream is stopped, the provider fails, or ctx
// ends.
func (s *Source) Subscribe(ctx context.Context) (*Stream, error) {
	if !s.Permitted() {
		return nil, PermissionError{}
	}
	st := &Stream{
		ch:       make(chan Sample, s.buffer),
		done:     make(chan struct{}),
		released: make(chan struct{}),
		log:      s.log,
	}
	reg, err := s.provider.RequestUpdates(s.req, Listener{
		OnLocation: st.push,
		OnError: func(err error) {
			st.finish(&ProviderError{Err: err})
		},
	})
	if err != nil {
		st.finish(err)
		return nil, fmt.Errorf("location: request updates: %w", err)
	}
	st.attach(reg)

	go func() {
		select {
		case <-ctx.Done():
			st.finish(nil)
		case <-st.done:
		}
	}()
	return st, nil
}

// Stream is one provider registration. Samples arrive on C in provider order.
type Stream struct {
	mu       sync.Mutex
	ch       chan Sample
	done     chan struct{}
	released chan struct{}
	closed   bool
	err      error
	reg      Registration
	dropped  int
	log      *slog.Logger
}

func (st *Stream) C() <-chan Sample { return st.ch }

// Done is closed once the stream has stopped.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Err returns the provider failure that closed the stream, if any.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Dropped returns how many samples were discarded because the consumer fell behind.
func (st *Stream) Dropped() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dropped
}

// Stop removes the provider listener and closes C. It returns only once
// the listener is gone, whichever path started the removal. Safe to call
// repeatedly.
func (st *Stream) Stop() {
	st.finish(nil)
	<-st.released
}

func (st *Stream) attach(reg Registration) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		reg.Remove()
		return
	}
	st.reg = reg
	st.mu.Unlock()
}

// push never blocks the provider: when the buffer is full the oldest
// undelivered sample is dropped.
func (st *Stream) push(s Sample) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	for {
		select {
		case st.ch <- s:
			return
		default:
		}
		select {
		case <-st.ch:
			st.dropped++
			st.log.Debug("location sample dropped", "dropped", st.dropped)
		default:
		}
	}
}

func (st *Stream) finish(err error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.err = err
	reg := st.reg
	st.reg = nil
	close(st.ch)
	close(st.done)
	st.mu.Unlock()

	if reg != nil {
		reg.Remove()
	}
	close(st.released)
}
