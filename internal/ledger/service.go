// Package ledger owns the authoritative per-team score. There is no
// apply-delta path: every score change is a full recomputation from the
// credited solves and first-blood records, so a missed event or partial
// update can never make the total drift.
package ledger

import (
	"context"
	"fmt"
	"time"

	"ctfscore/internal/domain"
	"ctfscore/internal/event"
)

type Store interface {
	TeamScoreParts(ctx context.Context, teamID string) (solvePoints, bonusPoints int, err error)
	SetTeamScore(ctx context.Context, teamID string, total int) error
	TeamIDs(ctx context.Context) ([]string, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
}

type Service struct {
	eb    *event.Bus
	store Store
}

func NewService(c Config) *Service {
	return &Service{
		eb:    c.EventBus,
		store: c.Store,
	}
}

// Recompute re-derives the team's total from source-of-truth records,
// persists it, and publishes score.updated. Safe to call concurrently:
// the read is one consistent snapshot, and a recomputation based on a
// slightly older snapshot is corrected by the next call.
func (s *Service) Recompute(ctx context.Context, teamID string) (int, error) {
	solvePoints, bonusPoints, err := s.store.TeamScoreParts(ctx, teamID)
	if err != nil {
		return 0, fmt.Errorf("ledger: recompute %s: %w", teamID, err)
	}

	total := solvePoints + bonusPoints
	if err := s.store.SetTeamScore(ctx, teamID, total); err != nil {
		return 0, fmt.Errorf("ledger: persist score %s: %w", teamID, err)
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		Score: domain.Score{
			TeamID:     teamID,
			TotalScore: total,
			UpdateTime: time.Now(),
		},
	})

	return total, nil
}

// RecomputeAll re-derives every team's score, for operational repair
// after manual record edits or a crash mid-pipeline.
func (s *Service) RecomputeAll(ctx context.Context) error {
	ids, err := s.store.TeamIDs(ctx)
	if err != nil {
		return fmt.Errorf("ledger: list teams: %w", err)
	}

	for _, id := range ids {
		if _, err := s.Recompute(ctx, id); err != nil {
			return err
		}
	}

	return nil
}
