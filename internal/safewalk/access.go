package safewalk

import (
	"context"
	"errors"

	"backend-selfbell/internal/api"
)

// CanWatch lets the ward and the walk's guardians subscribe to its topic.
func (s *Service) CanWatch(ctx context.Context, userID, sessionID int64) (bool, error) {
	err := s.canView(ctx, userID, sessionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// CanPublish lets only the ward send live points, and only while the walk is open.
func (s *Service) CanPublish(ctx context.Context, userID, sessionID int64) (bool, error) {
	owner, status, err := s.owner(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == userID && status != api.StatusEnded, nil
}
