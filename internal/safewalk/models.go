package safewalk

import (
	"time"

	"backend-selfbell/internal/api"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type TrackQuery struct {
	Cursor string
	Size   int
	Order  api.SortOrder
}

type HistoryFilter struct {
	Target api.HistoryTarget
	From   *time.Time
	To     *time.Time
	Order  api.SortOrder
}

// Expired is a walk ended by the deadline sweep.
type Expired struct {
	SessionID int64
	WardID    int64
	EndedAt   time.Time
}
