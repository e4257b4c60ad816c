package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-selfbell/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound    = errors.New("alert not found")
	ErrForbidden   = errors.New("not allowed for this safe walk")
	ErrInvalid     = errors.New("invalid alert")
	ErrNoGuardians = errors.New("no guardians to notify")
)

var newID = uuid.NewString

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Raise fans an SOS out to every guardian linked to the ward.
func (s *Service) Raise(ctx context.Context, wardID int64, req RaiseRequest) (RaiseResponse, error) {
	if (req.Lat == nil) != (req.Lon == nil) {
		return RaiseResponse{}, fmt.Errorf("%w: lat and lon go together", ErrInvalid)
	}
	if req.Lat != nil && (*req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180) {
		return RaiseResponse{}, fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	if req.SessionID != nil {
		var owner int64
		err := s.db.QueryRow(ctx, `SELECT ward_id FROM safe_walks WHERE id = $1`, *req.SessionID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != wardID) {
			return RaiseResponse{}, ErrForbidden
		}
		if err != nil {
			return RaiseResponse{}, err
		}
	}

	guardians, err := s.guardianIDs(ctx, `SELECT guardian_id FROM guardian_links WHERE ward_id = $1`, wardID)
	if err != nil {
		return RaiseResponse{}, err
	}
	if len(guardians) == 0 {
		return RaiseResponse{}, ErrNoGuardians
	}
	ids, err := s.insert(ctx, wardID, guardians, req.SessionID, KindSOS, strings.TrimSpace(req.Message), req.Lat, req.Lon)
	if err != nil {
		return RaiseResponse{}, err
	}
	return RaiseResponse{IDs: ids, Notified: len(ids)}, nil
}

// WalkTimedOut records a timeout alert for each guardian watching the session.
func (s *Service) WalkTimedOut(ctx context.Context, wardID, sessionID int64) error {
	guardians, err := s.guardianIDs(ctx, `SELECT guardian_id FROM safe_walk_guardians WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	_, err = s.insert(ctx, wardID, guardians, &sessionID, KindWalkTimeout, "safe walk deadline passed", nil, nil)
	return err
}

func (s *Service) guardianIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) insert(ctx context.Context, wardID int64, guardians []int64, sessionID *int64, kind Kind, message string, lat, lon *float64) ([]string, error) {
	ids := make([]string, 0, len(guardians))
	for _, g := range guardians {
		id := newID()
		_, err := s.db.Exec(ctx, `
			INSERT INTO emergency_alerts (id, ward_id, guardian_id, session_id, kind, message, location)
			VALUES ($1,$2,$3,$4,$5,$6,
			        CASE WHEN $7::float8 IS NULL THEN NULL
			             ELSE ST_SetSRID(ST_MakePoint($7::float8, $8::float8), 4326)::geography END)
		`, id, wardID, g, sessionID, string(kind), message, lon, lat)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Inbox lists the guardian's most recent alerts, newest first.
func (s *Service) Inbox(ctx context.Context, guardianID int64, pendingOnly bool) ([]Alert, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id::text, a.ward_id, u.display_name, a.session_id, a.kind, a.message,
		       ST_Y(a.location::geometry), ST_X(a.location::geometry), a.created_at, a.delivered_at
		FROM emergency_alerts a
		JOIN users u ON u.id = a.ward_id
		WHERE a.guardian_id = $1 AND (NOT $2 OR a.delivered_at IS NULL)
		ORDER BY a.created_at DESC
		LIMIT $3
	`, guardianID, pendingOnly, inboxLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var (
			a    Alert
			kind string
		)
		if err := rows.Scan(&a.ID, &a.WardID, &a.WardName, &a.SessionID, &kind, &a.Message,
			&a.Lat, &a.Lon, &a.CreatedAt, &a.DeliveredAt); err != nil {
			return nil, err
		}
		a.Kind = Kind(kind)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Ack marks an alert delivered. Acking twice returns the first timestamp.
func (s *Service) Ack(ctx context.Context, guardianID int64, id string) (time.Time, error) {
	if _, err := uuid.Parse(id); err != nil {
		return time.Time{}, fmt.Errorf("%w: bad id", ErrInvalid)
	}
	var at time.Time
	err := s.db.QueryRow(ctx, `
		UPDATE emergency_alerts SET delivered_at = now()
		WHERE id = $1 AND guardian_id = $2 AND delivered_at IS NULL
		RETURNING delivered_at
	`, id, guardianID).Scan(&at)
	if err == nil {
		return at, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, err
	}

	var prev *time.Time
	err = s.db.QueryRow(ctx, `SELECT delivered_at FROM emergency_alerts WHERE id = $1 AND guardian_id = $2`, id, guardianID).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && prev == nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return *prev, nil
}
