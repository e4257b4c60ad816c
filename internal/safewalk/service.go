package safewalk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/db"
	"backend-selfbell/internal/shared/geo"
	"backend-selfbell/internal/stream"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Guardians checks that the requested watchers are linked to the ward.
type Guardians interface {
	VerifyAll(ctx context.Context, wardID int64, guardianIDs []int64) error
}

// Notifier is told when a walk ends because its deadline passed.
type Notifier interface {
	WalkTimedOut(ctx context.Context, wardID, sessionID int64) error
}

type Service struct {
	db        db.Querier
	hub       *stream.Hub
	guardians Guardians
	notifier  Notifier
	now       func() time.Time
}

func NewService(db db.Querier, hub *stream.Hub, guardians Guardians) *Service {
	return &Service{db: db, hub: hub, guardians: guardians, now: time.Now}
}

// WithNotifier sets the receiver of TIMEOUT endings.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) Create(ctx context.Context, wardID int64, req api.CreateRequest) (api.Session, error) {
	if err := validateCreate(req, s.now()); err != nil {
		return api.Session{}, err
	}
	if s.guardians != nil {
		if err := s.guardians.VerifyAll(ctx, wardID, req.GuardianIDs); err != nil {
			return api.Session{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	session := api.Session{ExpectedArrival: req.ExpectedArrival}
	if req.TimerMinutes != nil {
		end := s.now().Add(time.Duration(*req.TimerMinutes) * time.Minute).UTC()
		session.TimerEnd = &end
	}

	// The walk and its guardian rows are written in one statement so a
	// failure never leaves a live walk behind.
	var status string
	row := s.db.QueryRow(ctx, `
		WITH w AS (
			INSERT INTO safe_walks (ward_id, origin, origin_address, destination, destination_address, expected_arrival, timer_end)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4,
			        ST_SetSRID(ST_MakePoint($5,$6), 4326)::geography, $7, $8, $9)
			RETURNING id, status, started_at
		), g AS (
			INSERT INTO safe_walk_guardians (session_id, guardian_id)
			SELECT w.id, unnest($10::bigint[]) FROM w
			ON CONFLICT DO NOTHING
		)
		SELECT id, status, started_at FROM w
	`, wardID, req.Origin.Lon, req.Origin.Lat, req.OriginAddress,
		req.Destination.Lon, req.Destination.Lat, req.DestinationAddress,
		session.ExpectedArrival, session.TimerEnd, guardianIDs(req.GuardianIDs))
	if err := row.Scan(&session.ID, &status, &session.StartedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return api.Session{}, fmt.Errorf("%w: ward already has an active safe walk", ErrConflict)
		}
		return api.Session{}, err
	}
	session.Status = api.SessionStatus(status)
	session.Topic = api.TopicFor(session.ID)
	return session, nil
}

func guardianIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func validateCreate(req api.CreateRequest, now time.Time) error {
	if !validCoordinate(req.Origin) || !validCoordinate(req.Destination) {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	if req.TimerMinutes != nil && *req.TimerMinutes <= 0 {
		return fmt.Errorf("%w: timerMinutes must be positive", ErrInvalid)
	}
	if req.ExpectedArrival != nil && !req.ExpectedArrival.After(now) {
		return fmt.Errorf("%w: expectedArrival must be in the future", ErrInvalid)
	}
	return nil
}

func validCoordinate(c api.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Track stores one location report and grows the walk's distance.
func (s *Service) Track(ctx context.Context, wardID, sessionID int64, req api.TrackRequest) (api.TrackResponse, error) {
	if !validCoordinate(api.Coordinate{Lat: req.Lat, Lon: req.Lon}) || req.AccuracyM < 0 {
		return api.TrackResponse{}, fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	owner, status, err := s.owner(ctx, sessionID)
	if err != nil {
		return api.TrackResponse{}, err
	}
	if owner != wardID {
		return api.TrackResponse{}, ErrForbidden
	}
	if status == api.StatusEnded {
		return api.TrackResponse{}, fmt.Errorf("%w: safe walk already ended", ErrConflict)
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = s.now()
	}

	last, err := s.lastTrack(ctx, sessionID)
	if err != nil {
		return api.TrackResponse{}, err
	}

	var resp api.TrackResponse
	row := s.db.QueryRow(ctx, `
		INSERT INTO safe_walk_tracks (session_id, location, accuracy_m, captured_at)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5)
		RETURNING id
	`, sessionID, req.Lon, req.Lat, req.AccuracyM, req.CapturedAt)
	if err := row.Scan(&resp.TrackID); err != nil {
		return api.TrackResponse{}, err
	}

	deltaM := 0.0
	if last != nil {
		deltaM = geo.HaversineM(last.Lat, last.Lon, req.Lat, req.Lon)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE safe_walks
		SET status = 'IN_PROGRESS', distance_m = distance_m + $2
		WHERE id = $1 AND status <> 'ENDED'
	`, sessionID, deltaM); err != nil {
		return api.TrackResponse{}, err
	}

	resp.Status = api.TrackUploaded
	return resp, nil
}

// End closes the walk. Ending an already ended walk reports the original
// ending with status ALREADY_ENDED so that client retries stay harmless.
func (s *Service) End(ctx context.Context, wardID, sessionID int64, reason api.EndReason) (api.EndResponse, error) {
	if !reason.Valid() {
		return api.EndResponse{}, fmt.Errorf("%w: unknown reason %q", ErrInvalid, reason)
	}

	resp := api.EndResponse{SessionID: sessionID, Reason: reason, Status: string(api.StatusEnded)}
	row := s.db.QueryRow(ctx, `
		UPDATE safe_walks
		SET status = 'ENDED', ended_at = now(), end_reason = $3
		WHERE id = $1 AND ward_id = $2 AND status <> 'ENDED'
		RETURNING ended_at
	`, sessionID, wardID, string(reason))
	err := row.Scan(&resp.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.alreadyEnded(ctx, wardID, sessionID)
	}
	if err != nil {
		return api.EndResponse{}, err
	}

	s.afterEnd(ctx, wardID, sessionID, reason)
	return resp, nil
}

func (s *Service) alreadyEnded(ctx context.Context, wardID, sessionID int64) (api.EndResponse, error) {
	var (
		owner   int64
		reason  *string
		endedAt *time.Time
	)
	row := s.db.QueryRow(ctx, `
		SELECT ward_id, end_reason, ended_at FROM safe_walks WHERE id = $1
	`, sessionID)
	if err := row.Scan(&owner, &reason, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return api.EndResponse{}, ErrNotFound
		}
		return api.EndResponse{}, err
	}
	if owner != wardID {
		return api.EndResponse{}, ErrForbidden
	}
	resp := api.EndResponse{SessionID: sessionID, Status: "ALREADY_ENDED"}
	if reason != nil {
		resp.Reason = api.EndReason(*reason)
	}
	if endedAt != nil {
		resp.EndedAt = *endedAt
	}
	return resp, nil
}

func (s *Service) afterEnd(ctx context.Context, wardID, sessionID int64, reason api.EndReason) {
	if s.hub != nil {
		s.hub.Broadcast(sessionID, stream.EndEvent(reason))
	}
	if reason == api.EndTimeout && s.notifier != nil {
		if err := s.notifier.WalkTimedOut(ctx, wardID, sessionID); err != nil {
			log.Printf("safe walk %d: timeout notification failed: %v", sessionID, err)
		}
	}
}

// ExpireOverdue ends every open walk whose timer passed before cutoff.
func (s *Service) ExpireOverdue(ctx context.Context, cutoff time.Time) ([]Expired, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE safe_walks
		SET status = 'ENDED', ended_at = now(), end_reason = 'TIMEOUT'
		WHERE status <> 'ENDED' AND timer_end IS NOT NULL AND timer_end < $1
		RETURNING id, ward_id, ended_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	var expired []Expired
	for rows.Next() {
		var e Expired
		if err := rows.Scan(&e.SessionID, &e.WardID, &e.EndedAt); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		s.afterEnd(ctx, e.WardID, e.SessionID, api.EndTimeout)
	}
	return expired, nil
}

func (s *Service) Detail(ctx context.Context, viewerID, sessionID int64) (api.SessionDetail, error) {
	if err := s.canView(ctx, viewerID, sessionID); err != nil {
		return api.SessionDetail{}, err
	}

	var (
		d      api.SessionDetail
		status string
		reason *string
	)
	row := s.db.QueryRow(ctx, `
		SELECT s.id, s.ward_id, u.display_name, s.status,
		       ST_Y(s.origin::geometry), ST_X(s.origin::geometry), s.origin_address,
		       ST_Y(s.destination::geometry), ST_X(s.destination::geometry), s.destination_address,
		       s.started_at, s.expected_arrival, s.timer_end, s.ended_at, s.end_reason, s.distance_m
		FROM safe_walks s
		JOIN users u ON u.id = s.ward_id
		WHERE s.id = $1
	`, sessionID)
	if err := row.Scan(&d.ID, &d.WardID, &d.WardName, &status,
		&d.Origin.Lat, &d.Origin.Lon, &d.OriginAddress,
		&d.Destination.Lat, &d.Destination.Lon, &d.DestinationAddress,
		&d.StartedAt, &d.ExpectedArrival, &d.TimerEnd, &d.EndedAt, &reason, &d.DistanceM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return api.SessionDetail{}, ErrNotFound
		}
		return api.SessionDetail{}, err
	}
	d.Status = api.SessionStatus(status)
	d.EndReason = endReasonPtr(reason)
	d.Topic = api.TopicFor(d.ID)

	guardians, err := s.sessionGuardians(ctx, sessionID)
	if err != nil {
		return api.SessionDetail{}, err
	}
	d.Guardians = guardians

	last, err := s.lastTrack(ctx, sessionID)
	if err != nil {
		return api.SessionDetail{}, err
	}
	d.LastLocation = last
	return d, nil
}

// Current returns the caller's open walk, or nil when there is none.
func (s *Service) Current(ctx context.Context, wardID int64) (*api.SessionState, error) {
	var (
		st     api.SessionState
		status string
	)
	row := s.db.QueryRow(ctx, `
		SELECT s.id, s.ward_id, u.display_name, s.status, s.started_at, s.timer_end
		FROM safe_walks s
		JOIN users u ON u.id = s.ward_id
		WHERE s.ward_id = $1 AND s.status <> 'ENDED'
		ORDER BY s.started_at DESC
		LIMIT 1
	`, wardID)
	if err := row.Scan(&st.ID, &st.WardID, &st.WardName, &status, &st.StartedAt, &st.TimerEnd); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.Status = api.SessionStatus(status)
	st.Topic = api.TopicFor(st.ID)

	last, err := s.lastTrack(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	st.LastUpdate = last
	return &st, nil
}

func (s *Service) Tracks(ctx context.Context, viewerID, sessionID int64, q TrackQuery) (api.TrackPage, error) {
	if err := s.canView(ctx, viewerID, sessionID); err != nil {
		return api.TrackPage{}, err
	}

	size := q.Size
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	var after int64
	if q.Cursor != "" {
		id, err := decodeCursor(q.Cursor)
		if err != nil {
			return api.TrackPage{}, fmt.Errorf("%w: bad cursor", ErrInvalid)
		}
		after = id
	}

	var sql string
	switch q.Order {
	case "", api.OrderAsc:
		sql = `
		SELECT id, ST_Y(location::geometry), ST_X(location::geometry), accuracy_m, captured_at
		FROM safe_walk_tracks
		WHERE session_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`
	case api.OrderDesc:
		if after == 0 {
			after = math.MaxInt64
		}
		sql = `
		SELECT id, ST_Y(location::geometry), ST_X(location::geometry), accuracy_m, captured_at
		FROM safe_walk_tracks
		WHERE session_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT $3`
	default:
		return api.TrackPage{}, fmt.Errorf("%w: order must be asc or desc", ErrInvalid)
	}

	rows, err := s.db.Query(ctx, sql, sessionID, after, size+1)
	if err != nil {
		return api.TrackPage{}, err
	}
	defer rows.Close()

	page := api.TrackPage{Items: []api.TrackItem{}}
	for rows.Next() {
		var item api.TrackItem
		if err := rows.Scan(&item.TrackID, &item.Lat, &item.Lon, &item.AccuracyM, &item.CapturedAt); err != nil {
			return api.TrackPage{}, err
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return api.TrackPage{}, err
	}

	if len(page.Items) > size {
		page.Items = page.Items[:size]
		next := encodeCursor(page.Items[size-1].TrackID)
		page.NextCursor = &next
	}
	return page, nil
}

func (s *Service) History(ctx context.Context, viewerID int64, f HistoryFilter) ([]api.HistoryItem, error) {
	var scope string
	switch f.Target {
	case "", api.TargetMe:
		scope = `s.ward_id = $1`
	case api.TargetWard:
		scope = `s.id IN (SELECT session_id FROM safe_walk_guardians WHERE guardian_id = $1)`
	default:
		return nil, fmt.Errorf("%w: target must be me or ward", ErrInvalid)
	}
	var direction string
	switch f.Order {
	case "", api.OrderDesc:
		direction = "DESC"
	case api.OrderAsc:
		direction = "ASC"
	default:
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrInvalid)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalid)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT s.id, s.ward_id, u.display_name, s.status, s.origin_address, s.destination_address,
		       s.started_at, s.ended_at, s.end_reason, s.distance_m
		FROM safe_walks s
		JOIN users u ON u.id = s.ward_id
		WHERE %s
		  AND ($2::timestamptz IS NULL OR s.started_at >= $2)
		  AND ($3::timestamptz IS NULL OR s.started_at < $3)
		ORDER BY s.started_at %s, s.id %s
	`, scope, direction, direction), viewerID, f.From, f.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []api.HistoryItem{}
	for rows.Next() {
		var (
			item   api.HistoryItem
			status string
			reason *string
		)
		if err := rows.Scan(&item.ID, &item.WardID, &item.WardName, &status, &item.OriginAddress, &item.DestinationAddress,
			&item.StartedAt, &item.EndedAt, &reason, &item.DistanceM); err != nil {
			return nil, err
		}
		item.Status = api.SessionStatus(status)
		item.EndReason = endReasonPtr(reason)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Service) owner(ctx context.Context, sessionID int64) (int64, api.SessionStatus, error) {
	var (
		wardID int64
		status string
	)
	row := s.db.QueryRow(ctx, `SELECT ward_id, status FROM safe_walks WHERE id = $1`, sessionID)
	if err := row.Scan(&wardID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrNotFound
		}
		return 0, "", err
	}
	return wardID, api.SessionStatus(status), nil
}

// canView allows the ward and the guardians attached to the walk.
func (s *Service) canView(ctx context.Context, userID, sessionID int64) error {
	var (
		wardID   int64
		guardian bool
	)
	row := s.db.QueryRow(ctx, `
		SELECT s.ward_id,
		       EXISTS (SELECT 1 FROM safe_walk_guardians g WHERE g.session_id = s.id AND g.guardian_id = $2)
		FROM safe_walks s
		WHERE s.id = $1
	`, sessionID, userID)
	if err := row.Scan(&wardID, &guardian); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if wardID != userID && !guardian {
		return ErrForbidden
	}
	return nil
}

func (s *Service) sessionGuardians(ctx context.Context, sessionID int64) ([]api.Guardian, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.id, u.display_name
		FROM safe_walk_guardians g
		JOIN users u ON u.id = g.guardian_id
		WHERE g.session_id = $1
		ORDER BY u.id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guardians := []api.Guardian{}
	for rows.Next() {
		var g api.Guardian
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

func (s *Service) lastTrack(ctx context.Context, sessionID int64) (*api.TrackItem, error) {
	var item api.TrackItem
	row := s.db.QueryRow(ctx, `
		SELECT id, ST_Y(location::geometry), ST_X(location::geometry), accuracy_m, captured_at
		FROM safe_walk_tracks
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, sessionID)
	if err := row.Scan(&item.TrackID, &item.Lat, &item.Lon, &item.AccuracyM, &item.CapturedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func endReasonPtr(s *string) *api.EndReason {
	if s == nil {
		return nil
	}
	r := api.EndReason(*s)
	return &r
}
