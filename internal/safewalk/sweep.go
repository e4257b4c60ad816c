package safewalk

import (
	"context"
	"log"
	"time"
)

// RunSweeper ends overdue walks every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ExpireOverdue(ctx, s.now())
			if err != nil {
				log.Printf("safe walk sweep failed: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Printf("safe walk sweep ended %d overdue walks", len(expired))
			}
		}
	}
}
