package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backend-selfbell/internal/db"

	"github.com/jackc/pgx/v5"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Add links guardianID as a guardian of wardID. Adding an existing link is a
// no-op that still returns the guardian.
func (s *Service) Add(ctx context.Context, wardID, guardianID int64) (Guardian, error) {
	if wardID == guardianID {
		return Guardian{}, ErrSelf
	}
	g := Guardian{ID: guardianID}
	row := s.db.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, guardianID)
	if err := row.Scan(&g.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Guardian{}, ErrNotFound
		}
		return Guardian{}, err
	}
	if err := s.link(ctx, wardID, guardianID); err != nil {
		return Guardian{}, err
	}
	return g, nil
}

// AddByEmail is Add for callers that only know the guardian's email.
func (s *Service) AddByEmail(ctx context.Context, wardID int64, email string) (Guardian, error) {
	var g Guardian
	row := s.db.QueryRow(ctx, `SELECT id, display_name FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
	if err := row.Scan(&g.ID, &g.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Guardian{}, ErrNotFound
		}
		return Guardian{}, err
	}
	if g.ID == wardID {
		return Guardian{}, ErrSelf
	}
	if err := s.link(ctx, wardID, g.ID); err != nil {
		return Guardian{}, err
	}
	return g, nil
}

func (s *Service) link(ctx context.Context, wardID, guardianID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guardian_links (ward_id, guardian_id)
		VALUES ($1,$2)
		ON CONFLICT DO NOTHING
	`, wardID, guardianID)
	return err
}

func (s *Service) List(ctx context.Context, wardID int64) ([]Guardian, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.id, u.display_name
		FROM guardian_links g
		JOIN users u ON u.id = g.guardian_id
		WHERE g.ward_id = $1
		ORDER BY u.display_name, u.id
	`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guardians := []Guardian{}
	for rows.Next() {
		var g Guardian
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

// Wards lists the users guarded by guardianID.
func (s *Service) Wards(ctx context.Context, guardianID int64) ([]Ward, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.id, u.display_name, u.phone, g.created_at
		FROM guardian_links g
		JOIN users u ON u.id = g.ward_id
		WHERE g.guardian_id = $1
		ORDER BY u.display_name, u.id
	`, guardianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wards := []Ward{}
	for rows.Next() {
		var w Ward
		if err := rows.Scan(&w.ID, &w.Name, &w.Phone, &w.AddedAt); err != nil {
			return nil, err
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}

func (s *Service) Remove(ctx context.Context, wardID, guardianID int64) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM guardian_links WHERE ward_id = $1 AND guardian_id = $2
	`, wardID, guardianID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotGuardian
	}
	return nil
}

func (s *Service) IsGuardian(ctx context.Context, wardID, guardianID int64) (bool, error) {
	var ok bool
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM guardian_links WHERE ward_id = $1 AND guardian_id = $2)
	`, wardID, guardianID)
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// VerifyAll returns ErrNotGuardian unless every id in guardianIDs guards
// wardID. Duplicates are ignored.
func (s *Service) VerifyAll(ctx context.Context, wardID int64, guardianIDs []int64) error {
	unique := dedupe(guardianIDs)
	if len(unique) == 0 {
		return nil
	}
	var n int
	row := s.db.QueryRow(ctx, `
		SELECT count(*) FROM guardian_links WHERE ward_id = $1 AND guardian_id = ANY($2)
	`, wardID, unique)
	if err := row.Scan(&n); err != nil {
		return fmt.Errorf("verify guardians: %w", err)
	}
	if n != len(unique) {
		return ErrNotGuardian
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
