// Package walk runs the client side of a safe walk: it creates the session,
// samples the device location, reports every Nth sample over HTTP and the
// realtime channel, and closes the session exactly once.
package walk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/location"
	"backend-selfbell/internal/shared/geo"

	"golang.org/x/sync/errgroup"
)

// DefaultReportInterval reports one sample in six, about once a minute at
// the default 10s sampling cadence.
const DefaultReportInterval = 6

const defaultDispatchTimeout = 10 * time.Second

type SessionTransport interface {
	Create(ctx context.Context, req api.CreateRequest) (api.Session, error)
	Track(ctx context.Context, sessionID int64, req api.TrackRequest) (bool, error)
	End(ctx context.Context, sessionID int64, reason api.EndReason) (bool, error)
}

type RealtimeChannel interface {
	Connect(ctx context.Context, token string, sessionID int64) error
	Publish(ctx context.Context, sessionID int64, lat, lon float64, capturedAt time.Time) error
	Disconnect() error
}

type LocationSource interface {
	Permitted() bool
	Subscribe(ctx context.Context) (*location.Stream, error)
}

type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Config struct {
	ReportInterval  int
	DispatchTimeout time.Duration
	// ArrivalRadiusM > 0 ends the walk with ARRIVED once a sample falls
	// within that distance of the destination.
	ArrivalRadiusM float64
	// EnforceDeadline ends the walk with TIMEOUT at the session deadline.
	EnforceDeadline bool
}

func (c Config) withDefaults() Config {
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	return c
}

// ArrivalMode is how the walk is bounded: an expected arrival time, a timer,
// or neither.
type ArrivalMode struct {
	ExpectedArrival time.Time
	TimerMinutes    int
}

type StartRequest struct {
	Origin             api.Coordinate
	OriginAddress      string
	Destination        api.Coordinate
	DestinationAddress string
	GuardianIDs        []int64
	Arrival            ArrivalMode
}

func (r StartRequest) validate() error {
	switch {
	case r.Arrival.TimerMinutes < 0:
		return fmt.Errorf("%w: negative timer", ErrInvalidStart)
	case r.Arrival.TimerMinutes > 0 && !r.Arrival.ExpectedArrival.IsZero():
		return fmt.Errorf("%w: choose an expected arrival or a timer, not both", ErrInvalidStart)
	case !validCoordinate(r.Destination):
		return fmt.Errorf("%w: destination out of range", ErrInvalidStart)
	}
	return nil
}

func (r StartRequest) createRequest() api.CreateRequest {
	req := api.CreateRequest{
		Origin:             r.Origin,
		OriginAddress:      r.OriginAddress,
		Destination:        r.Destination,
		DestinationAddress: r.DestinationAddress,
		GuardianIDs:        r.GuardianIDs,
	}
	if req.GuardianIDs == nil {
		req.GuardianIDs = []int64{}
	}
	if !r.Arrival.ExpectedArrival.IsZero() {
		at := r.Arrival.ExpectedArrival.UTC()
		req.ExpectedArrival = &at
	}
	if r.Arrival.TimerMinutes > 0 {
		minutes := r.Arrival.TimerMinutes
		req.TimerMinutes = &minutes
	}
	return req
}

func validCoordinate(c api.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Stats counts what the controller did for the current session.
type Stats struct {
	Samples         int
	Reports         int
	Uploaded        int
	TrackFailures   int
	Published       int
	PublishFailures int
	Dropped         int
}

type Controller struct {
	transport SessionTransport
	realtime  RealtimeChannel
	source    LocationSource
	tokens    TokenSource
	cfg       Config
	log       *slog.Logger

	mu        sync.Mutex
	state     State
	session   api.Session
	stream    *location.Stream
	cancel    context.CancelFunc
	loopDone  chan struct{}
	ended     chan struct{}
	deadline  *time.Timer
	reason    api.EndReason
	stats     Stats
	arrivedAt bool
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func NewController(transport SessionTransport, realtime RealtimeChannel, source LocationSource, tokens TokenSource, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		realtime:  realtime,
		source:    source,
		tokens:    tokens,
		log:       slog.Default(),
		ended:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the session held by the controller, if any.
func (c *Controller) Session() (api.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session.ID != 0
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	if c.stream != nil {
		stats.Dropped = c.stream.Dropped()
	}
	return stats
}

// Done is closed when the current session reaches ENDED.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// EndReason is the reason the last session ended with.
func (c *Controller) EndReason() api.EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Start creates a session and begins sampling. It is rejected without side
// effects unless the controller is IDLE.
func (c *Controller) Start(ctx context.Context, req StartRequest) (api.Session, error) {
	if err := req.validate(); err != nil {
		return api.Session{}, err
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return api.Session{}, ErrNotIdle
	}
	if !c.source.Permitted() {
		c.mu.Unlock()
		return api.Session{}, location.PermissionError{}
	}
	c.state = Starting
	c.mu.Unlock()

	session, err := c.transport.Create(ctx, req.createRequest())
	if err != nil {
		c.setState(Idle)
		return api.Session{}, fmt.Errorf("walk: create session: %w", err)
	}
	log := c.log.With("session_id", session.ID)

	loopCtx, cancel := context.WithCancel(context.Background())
	stream, err := c.source.Subscribe(loopCtx)
	if err != nil {
		cancel()
		// the server already holds the session; close it so it does not linger
		if _, endErr := c.transport.End(ctx, session.ID, api.EndManual); endErr != nil {
			log.Warn("closing unusable session", "err", endErr)
		}
		c.setState(Idle)
		return api.Session{}, fmt.Errorf("walk: subscribe location: %w", err)
	}

	if token, err := c.tokens.AccessToken(ctx); err != nil {
		log.Warn("realtime skipped, no token", "err", err)
	} else if err := c.realtime.Connect(ctx, token, session.ID); err != nil {
		log.Warn("realtime connect failed, continuing with http tracking", "err", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.session = session
	c.stream = stream
	c.cancel = cancel
	c.loopDone = done
	c.stats = Stats{}
	c.arrivedAt = false
	c.state = Active
	if deadline, ok := session.Deadline(); ok && c.cfg.EnforceDeadline {
		c.deadline = time.AfterFunc(time.Until(deadline), func() {
			c.endAsync(api.EndTimeout)
		})
	}
	dest := req.Destination
	c.mu.Unlock()

	go c.run(loopCtx, stream, session.ID, dest, done)
	log.Info("safe walk started", "topic", session.Topic)
	return session, nil
}

// End stops sampling and the realtime channel, then closes the session on
// the server. The controller reaches ENDED even when the server call fails;
// that failure is returned wrapped in ErrEndNotAcknowledged.
func (c *Controller) End(ctx context.Context, reason api.EndReason) error {
	if !reason.Valid() {
		return ErrInvalidReason
	}

	c.mu.Lock()
	switch c.state {
	case Active:
	case Ending, Ended:
		c.mu.Unlock()
		return ErrAlreadyEnded
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = Ending
	cancel, done, stream, timer := c.cancel, c.loopDone, c.stream, c.deadline
	sessionID := c.session.ID
	c.deadline = nil
	c.mu.Unlock()

	log := c.log.With("session_id", sessionID, "reason", reason)
	if timer != nil {
		timer.Stop()
	}
	cancel()
	<-done
	stream.Stop()
	if err := c.realtime.Disconnect(); err != nil {
		log.Warn("realtime disconnect", "err", err)
	}

	acked, err := c.transport.End(ctx, sessionID, reason)

	c.mu.Lock()
	c.state = Ended
	c.session.Status = api.StatusEnded
	c.reason = reason
	c.stats.Dropped = stream.Dropped()
	close(c.ended)
	c.mu.Unlock()

	if err != nil {
		log.Warn("end not acknowledged", "err", err)
		return fmt.Errorf("%w: %w", ErrEndNotAcknowledged, err)
	}
	if !acked {
		log.Warn("end not acknowledged")
		return ErrEndNotAcknowledged
	}
	log.Info("safe walk ended")
	return nil
}

// Reset returns an ENDED controller to IDLE so it can start a new session.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Ended {
		return ErrNotEnded
	}
	c.state = Idle
	c.session = api.Session{}
	c.stream = nil
	c.cancel = nil
	c.loopDone = nil
	c.reason = ""
	c.ended = make(chan struct{})
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// endAsync ends the session from inside the controller (arrival, deadline).
// It must not run on the sample loop, which End waits for.
func (c *Controller) endAsync(reason api.EndReason) {
	err := c.End(context.Background(), reason)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyEnded), errors.Is(err, ErrNotActive):
	default:
		c.log.Warn("automatic end", "reason", reason, "err", err)
	}
}

// run consumes samples in arrival order until ctx is cancelled or the stream
// closes.
func (c *Controller) run(ctx context.Context, stream *location.Stream, sessionID int64, dest api.Coordinate, done chan<- struct{}) {
	defer close(done)
	counter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-stream.C():
			if !ok {
				if err := stream.Err(); err != nil {
					c.log.Error("location stream failed", "session_id", sessionID, "err", err)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			counter++
			c.mu.Lock()
			c.stats.Samples = counter
			c.mu.Unlock()

			if counter%c.cfg.ReportInterval == 0 {
				c.report(ctx, sessionID, s)
			}
			if c.arrived(s, dest) {
				go c.endAsync(api.EndArrived)
			}
		}
	}
}

func (c *Controller) arrived(s location.Sample, dest api.Coordinate) bool {
	if c.cfg.ArrivalRadiusM <= 0 {
		return false
	}
	if geo.HaversineM(s.Lat, s.Lon, dest.Lat, dest.Lon) > c.cfg.ArrivalRadiusM {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arrivedAt {
		return false
	}
	c.arrivedAt = true
	return true
}

// report uploads and publishes one sample concurrently. Neither path cancels
// the other and failures only count against the stats.
func (c *Controller) report(ctx context.Context, sessionID int64, s location.Sample) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()
	log := c.log.With("session_id", sessionID)

	var uploaded, published bool
	var g errgroup.Group
	g.Go(func() error {
		ok, err := c.transport.Track(ctx, sessionID, api.TrackRequest{
			Lat:        s.Lat,
			Lon:        s.Lon,
			AccuracyM:  s.AccuracyM,
			CapturedAt: s.CapturedAt,
		})
		if err != nil {
			log.Warn("track upload failed", "err", err)
			return nil
		}
		if !ok {
			log.Warn("track upload rejected")
		}
		uploaded = ok
		return nil
	})
	g.Go(func() error {
		if err := c.realtime.Publish(ctx, sessionID, s.Lat, s.Lon, s.CapturedAt); err != nil {
			log.Debug("realtime publish failed", "err", err)
			return nil
		}
		published = true
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reports++
	if uploaded {
		c.stats.Uploaded++
		if c.session.Status == api.StatusCreated || c.session.Status == "" {
			c.session.Status = api.StatusInProgress
		}
	} else {
		c.stats.TrackFailures++
	}
	if published {
		c.stats.Published++
	} else {
		c.stats.PublishFailures++
	}
}
