package location

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
)

// hdopToMeters approximates horizontal accuracy from HDOP using a typical
// user-equivalent range error.
const hdopToMeters = 5.0

// Replay feeds fixes from an NMEA 0183 log, paced by the fix timestamps.
type Replay struct {
	open  func() (io.ReadCloser, error)
	speed float64
	log   *slog.Logger
}

// NewReplay replays the NMEA log at path. speed scales playback (2 plays
// twice as fast); zero disables pacing.
func NewReplay(path string, speed float64) *Replay {
	return &Replay{
		open:  func() (io.ReadCloser, error) { return os.Open(path) },
		speed: speed,
		log:   slog.Default(),
	}
}

// NewReplayReader replays from a reader factory; each subscription calls open again.
func NewReplayReader(open func() (io.ReadCloser, error), speed float64) *Replay {
	return &Replay{open: open, speed: speed, log: slog.Default()}
}

func (r *Replay) RequestUpdates(req Request, l Listener) (Registration, error) {
	rc, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("nmea open: %w", err)
	}
	stop := make(chan struct{})
	var once sync.Once
	reg := RemoveFunc(func() {
		once.Do(func() { close(stop) })
	})

	go func() {
		defer rc.Close()
		err := r.play(rc, newThrottle(req), l, stop)
		select {
		case <-stop:
			return
		default:
		}
		if err == nil {
			err = ErrProviderClosed
		}
		l.OnError(err)
	}()
	return reg, nil
}

func (r *Replay) play(rd io.Reader, th *throttle, l Listener, stop <-chan struct{}) error {
	scanner := bufio.NewScanner(rd)
	var (
		accuracy float64
		prev     time.Time
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			r.log.Debug("nmea sentence skipped", "err", err)
			continue
		}
		var s Sample
		switch m := sentence.(type) {
		case nmea.GGA:
			if m.FixQuality != nmea.Invalid {
				accuracy = m.HDOP * hdopToMeters
			}
			continue
		case nmea.RMC:
			if m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
				continue
			}
			s = Sample{
				Lat:        m.Latitude,
				Lon:        m.Longitude,
				AccuracyM:  accuracy,
				CapturedAt: fixTime(m.Date, m.Time),
			}
		default:
			continue
		}
		if !th.accept(s) {
			continue
		}
		if r.speed > 0 && !prev.IsZero() {
			wait := time.Duration(float64(s.CapturedAt.Sub(prev)) / r.speed)
			select {
			case <-time.After(wait):
			case <-stop:
				return nil
			}
		}
		prev = s.CapturedAt
		select {
		case <-stop:
			return nil
		default:
		}
		l.OnLocation(s)
	}
	return scanner.Err()
}

func fixTime(d nmea.Date, t nmea.Time) time.Time {
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
