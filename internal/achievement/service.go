// Package achievement evaluates the unlockable-achievement rule set.
// Evaluation is stateless and idempotent: every call re-runs each rule
// from scratch against the owner's history, filters out codes already
// credited, and credits the remainder through a compare-and-set insert so
// concurrent evaluations of the same owner never double-credit.
package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ctfscore/internal/domain"
)

type Store interface {
	SubmissionsByTeam(ctx context.Context, teamID string) ([]domain.Submission, error)
	SubmissionsByMember(ctx context.Context, teamID, memberID string) ([]domain.Submission, error)
	SolvesByTeam(ctx context.Context, teamID string) ([]domain.Solve, error)
	SolvesByMember(ctx context.Context, teamID, memberID string) ([]domain.Solve, error)
	FirstBloodsByTeam(ctx context.Context, teamID string) ([]domain.FirstBlood, error)
	FirstBloodsByMember(ctx context.Context, teamID, memberID string) ([]domain.FirstBlood, error)
	ChallengeStats(ctx context.Context) (challenges, categories int, err error)
	AchievementCodes(ctx context.Context, kind domain.AchievementKind, teamID, memberID string) ([]string, error)
	InsertAchievement(ctx context.Context, a domain.Achievement) (bool, error)
	EventConfig(ctx context.Context) (domain.EventConfig, error)
}

type Config struct {
	Store Store
}

type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

// EvaluateTeam runs all team-scoped rules for the team and returns the
// codes credited by this call.
func (s *Service) EvaluateTeam(ctx context.Context, teamID string) ([]string, error) {
	h, err := s.teamHistory(ctx, teamID)
	if err != nil {
		return nil, err
	}

	return s.credit(ctx, domain.KindTeam, teamID, "", h)
}

// EvaluateMember runs all individual-scoped rules against the member's own
// history and returns the codes credited by this call.
func (s *Service) EvaluateMember(ctx context.Context, teamID, memberID string) ([]string, error) {
	h, err := s.memberHistory(ctx, teamID, memberID)
	if err != nil {
		return nil, err
	}

	return s.credit(ctx, domain.KindIndividual, teamID, memberID, h)
}

func (s *Service) credit(ctx context.Context, kind domain.AchievementKind, teamID, memberID string, h History) ([]string, error) {
	already, err := s.store.AchievementCodes(ctx, kind, teamID, memberID)
	if err != nil {
		return nil, fmt.Errorf("achievement: list credited: %w", err)
	}

	credited := make(map[string]bool, len(already))
	for _, code := range already {
		credited[code] = true
	}

	var earned []string
	for _, def := range registry {
		if def.Kind != kind || credited[def.Code] {
			continue
		}
		if !s.check(ctx, def, h) {
			continue
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("achievement: generate ID: %w", err)
		}

		inserted, err := s.store.InsertAchievement(ctx, domain.Achievement{
			AchievementID: id.String(),
			Code:          def.Code,
			Kind:          kind,
			TeamID:        teamID,
			MemberID:      memberID,
			EarnedAt:      h.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("achievement: credit %s: %w", def.Code, err)
		}
		if !inserted {
			// A concurrent evaluation won the insert; not newly earned here.
			continue
		}

		earned = append(earned, def.Code)
	}

	return earned, nil
}

// check evaluates one rule in isolation. A panicking or failing rule is
// treated as not earned and must not abort the other rules.
func (s *Service) check(ctx context.Context, def Definition, h History) (earned bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "achievement: rule evaluation failed",
				"code", def.Code,
				"error", fmt.Errorf("%v", r),
			)
			earned = false
		}
	}()

	return def.Check(h)
}

func (s *Service) teamHistory(ctx context.Context, teamID string) (History, error) {
	var (
		h   History
		err error
	)

	if h.Submissions, err = s.store.SubmissionsByTeam(ctx, teamID); err != nil {
		return History{}, fmt.Errorf("achievement: team history: %w", err)
	}
	if h.Solves, err = s.store.SolvesByTeam(ctx, teamID); err != nil {
		return History{}, fmt.Errorf("achievement: team history: %w", err)
	}
	if h.FirstBloods, err = s.store.FirstBloodsByTeam(ctx, teamID); err != nil {
		return History{}, fmt.Errorf("achievement: team history: %w", err)
	}

	return s.fillGlobals(ctx, h)
}

func (s *Service) memberHistory(ctx context.Context, teamID, memberID string) (History, error) {
	var (
		h   History
		err error
	)

	if h.Submissions, err = s.store.SubmissionsByMember(ctx, teamID, memberID); err != nil {
		return History{}, fmt.Errorf("achievement: member history: %w", err)
	}
	if h.Solves, err = s.store.SolvesByMember(ctx, teamID, memberID); err != nil {
		return History{}, fmt.Errorf("achievement: member history: %w", err)
	}
	if h.FirstBloods, err = s.store.FirstBloodsByMember(ctx, teamID, memberID); err != nil {
		return History{}, fmt.Errorf("achievement: member history: %w", err)
	}

	return s.fillGlobals(ctx, h)
}

func (s *Service) fillGlobals(ctx context.Context, h History) (History, error) {
	var err error
	if h.TotalChallenges, h.TotalCategories, err = s.store.ChallengeStats(ctx); err != nil {
		return History{}, fmt.Errorf("achievement: challenge stats: %w", err)
	}

	if cfg, err := s.store.EventConfig(ctx); err == nil {
		h.Start = cfg.StartTime
	}

	h.Now = time.Now()
	return h, nil
}
