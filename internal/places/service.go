package places

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/db"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound  = errors.New("place not found")
	ErrInvalid   = errors.New("invalid place")
	ErrForbidden = errors.New("only the creator can remove a place")
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func validKind(k api.PlaceKind) bool {
	return k == api.PlaceCallBox || k == api.PlaceOffender
}

func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (Place, error) {
	req.Name = strings.TrimSpace(req.Name)
	if !validKind(req.Kind) || req.Name == "" {
		return Place{}, fmt.Errorf("%w: kind and name required", ErrInvalid)
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
		return Place{}, fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}

	p := Place{Kind: req.Kind, Name: req.Name, Address: req.Address, Lat: req.Lat, Lon: req.Lon}
	row := s.db.QueryRow(ctx, `
		INSERT INTO places (kind, name, address, location, created_by)
		VALUES ($1,$2,$3, ST_SetSRID(ST_MakePoint($4,$5), 4326)::geography, $6)
		RETURNING id
	`, string(p.Kind), p.Name, p.Address, p.Lon, p.Lat, userID)
	if err := row.Scan(&p.ID); err != nil {
		return Place{}, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Place, error) {
	var (
		p    Place
		kind string
	)
	row := s.db.QueryRow(ctx, `
		SELECT id, kind, name, address, ST_Y(location::geometry), ST_X(location::geometry)
		FROM places WHERE id = $1
	`, id)
	if err := row.Scan(&p.ID, &kind, &p.Name, &p.Address, &p.Lat, &p.Lon); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Place{}, ErrNotFound
		}
		return Place{}, err
	}
	p.Kind = api.PlaceKind(kind)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM places WHERE id = $1 AND created_by = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrForbidden
	}
	return nil
}

// Nearby lists places within the radius, closest first.
func (s *Service) Nearby(ctx context.Context, q NearbyQuery) ([]Place, error) {
	if q.Lat < -90 || q.Lat > 90 || q.Lon < -180 || q.Lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	if q.Kind != "" && !validKind(q.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, q.Kind)
	}
	switch {
	case q.RadiusM <= 0:
		q.RadiusM = defaultRadiusM
	case q.RadiusM > maxRadiusM:
		q.RadiusM = maxRadiusM
	}
	if q.Limit <= 0 || q.Limit > defaultLimit {
		q.Limit = defaultLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, kind, name, address, ST_Y(location::geometry), ST_X(location::geometry),
		       ST_Distance(location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography) AS distance_m
		FROM places
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
		  AND ($4 = '' OR kind = $4)
		ORDER BY distance_m
		LIMIT $5
	`, q.Lon, q.Lat, q.RadiusM, string(q.Kind), q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Place{}
	for rows.Next() {
		var (
			p    Place
			kind string
		)
		if err := rows.Scan(&p.ID, &kind, &p.Name, &p.Address, &p.Lat, &p.Lon, &p.DistanceM); err != nil {
			return nil, err
		}
		p.Kind = api.PlaceKind(kind)
		results = append(results, p)
	}
	return results, rows.Err()
}
