package location

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"
)

type gpsdSession interface {
	AddFilter(class string, f gpsd.Filter)
	Watch() chan bool
	Close() error
}

var dialGPSD = func(addr string) (gpsdSession, error) {
	return gpsd.Dial(addr)
}

// GPSD reads TPV reports from a gpsd daemon.
type GPSD struct {
	Addr string
}

func NewGPSD(addr string) *GPSD {
	if addr == "" {
		addr = gpsd.DefaultAddress
	}
	return &GPSD{Addr: addr}
}

func (g *GPSD) RequestUpdates(req Request, l Listener) (Registration, error) {
	sess, err := dialGPSD(g.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpsd dial %s: %w", g.Addr, err)
	}

	reg := &gpsdRegistration{sess: sess, removed: make(chan struct{})}
	th := newThrottle(req)
	var mu sync.Mutex

	sess.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode2D {
			return
		}
		s := Sample{
			Lat:        tpv.Lat,
			Lon:        tpv.Lon,
			AccuracyM:  math.Max(tpv.Epx, tpv.Epy),
			CapturedAt: tpv.Time,
		}
		if s.CapturedAt.IsZero() {
			s.CapturedAt = time.Now().UTC()
		}
		mu.Lock()
		accepted := th.accept(s)
		mu.Unlock()
		if accepted && !reg.isRemoved() {
			l.OnLocation(s)
		}
	})

	done := sess.Watch()
	go func() {
		select {
		case <-done:
			if !reg.isRemoved() {
				l.OnError(ErrProviderClosed)
			}
		case <-reg.removed:
			// the watch goroutine reports on done once the socket closes
			<-done
		}
	}()
	return reg, nil
}

type gpsdRegistration struct {
	sess    gpsdSession
	once    sync.Once
	removed chan struct{}
}

func (r *gpsdRegistration) Remove() {
	r.once.Do(func() {
		close(r.removed)
		_ = r.sess.Close()
	})
}

func (r *gpsdRegistration) isRemoved() bool {
	select {
	case <-r.removed:
		return true
	default:
		return false
	}
}
