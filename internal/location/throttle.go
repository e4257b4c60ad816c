package location

import "backend-selfbell/internal/shared/geo"

// throttle applies a Request to raw fixes for providers that report as fast
// as the receiver produces them.
type throttle struct {
	req  Request
	last Sample
	seen bool
}

func newThrottle(req Request) *throttle {
	return &throttle{req: req}
}

func (t *throttle) accept(s Sample) bool {
	if t.seen {
		if s.CapturedAt.Sub(t.last.CapturedAt) < t.req.Interval {
			return false
		}
		if t.req.MinDisplacementM > 0 &&
			geo.HaversineM(t.last.Lat, t.last.Lon, s.Lat, s.Lon) < t.req.MinDisplacementM {
			return false
		}
	}
	t.last = s
	t.seen = true
	return true
}
