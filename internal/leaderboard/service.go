// Package leaderboard keeps the live ranking in a redis sorted set,
// updated from score.updated events and republished at a bounded rate.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
	"ctfscore/internal/event"
)

const publishInterval = 200 * time.Millisecond

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

// GetLeaderboard returns all teams ranked by score descending.
func (s *Service) GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard is empty")
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:   i + 1,
			TeamID: z.Member.(string),
			Score:  int(z.Score),
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

// UpdateLeaderboard overwrites the team's score in the ranking.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(), redis.Z{
		Score:  float64(sc.TotalScore),
		Member: sc.TeamID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublish(ctx, sc)
}

// schedulePublish rate-limits leaderboard.updated: bursts of score changes
// within the interval collapse into one published snapshot. SetNX doubles
// as the cross-instance election of who publishes.
func (s *Service) schedulePublish(ctx context.Context, sc domain.Score) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(), sc.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) throttleKey() string {
	return fmt.Sprintf("%s:leaderboard:published", s.prefix)
}
