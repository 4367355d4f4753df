// Package firstblood arbitrates first-blood ownership. The claim is a
// single atomic insert keyed by challenge: exactly one of any number of
// concurrent claimants for the same challenge wins, the rest observe an
// existing record and walk away without a bonus. There are no retries.
package firstblood

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ctfscore/internal/domain"
)

type Store interface {
	InsertFirstBlood(ctx context.Context, fb domain.FirstBlood) (bool, error)
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

type ClaimRequest struct {
	ChallengeID string
	TeamID      string
	MemberID    string
	// BonusPoints is the configured bonus at claim time; it is frozen
	// into the record and never re-read from config afterwards.
	BonusPoints int
	ClaimTime   time.Time
}

// Claim attempts to register the caller as the challenge's first blood.
// awarded is false when another team already holds it; that is a normal
// outcome, not an error.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (fb domain.FirstBlood, awarded bool, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.FirstBlood{}, false, fmt.Errorf("generate first blood ID: %w", err)
	}

	fb = domain.FirstBlood{
		FirstBloodID: id.String(),
		ChallengeID:  req.ChallengeID,
		TeamID:       req.TeamID,
		MemberID:     req.MemberID,
		BonusPoints:  req.BonusPoints,
		AchievedAt:   req.ClaimTime,
	}

	awarded, err = s.store.InsertFirstBlood(ctx, fb)
	if err != nil {
		return domain.FirstBlood{}, false, fmt.Errorf("claim first blood: %w", err)
	}
	if !awarded {
		return domain.FirstBlood{}, false, nil
	}

	return fb, true, nil
}
