// Package submission is the arbiter: it takes one flag attempt end-to-end
// through correctness, first-blood arbitration, score recomputation,
// achievement evaluation and event emission.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ctfscore/internal/broadcast"
	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
	"ctfscore/internal/event"
	"ctfscore/internal/firstblood"
	"ctfscore/internal/ledger"
	"ctfscore/internal/telemetry"
)

type Store interface {
	EventConfig(ctx context.Context) (domain.EventConfig, error)
	Challenge(ctx context.Context, challengeID string) (domain.Challenge, error)
	Team(ctx context.Context, teamID string) (domain.Team, error)
	SolveFor(ctx context.Context, teamID, challengeID string) (domain.Solve, error)
	InsertSubmission(ctx context.Context, sub domain.Submission) error
	CreditSolve(ctx context.Context, solve domain.Solve) (bool, error)
}

// Achievements is the slice of the evaluator the arbiter needs.
type Achievements interface {
	EvaluateTeam(ctx context.Context, teamID string) ([]string, error)
	EvaluateMember(ctx context.Context, teamID, memberID string) ([]string, error)
}

type Config struct {
	Store        Store
	FirstBlood   *firstblood.Service
	Ledger       *ledger.Service
	Achievements Achievements
	EventBus     *event.Bus
	Hub          *broadcast.Hub
}

type Service struct {
	store Store
	fb    *firstblood.Service
	ldg   *ledger.Service
	ach   Achievements
	eb    *event.Bus
	hub   *broadcast.Hub
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		fb:    c.FirstBlood,
		ldg:   c.Ledger,
		ach:   c.Achievements,
		eb:    c.EventBus,
		hub:   c.Hub,
	}
}

// Outcome is the caller-visible result of one arbitration.
type Outcome string

const (
	OutcomeIncorrect         Outcome = "incorrect"
	OutcomeFirstCorrect      Outcome = "first_correct"
	OutcomeCorrectNotFirst   Outcome = "correct"
	OutcomeAlreadySolved     Outcome = "already_solved"
	OutcomeCompetitionClosed Outcome = "competition_closed"
)

type SubmitRequest struct {
	TeamID      string
	MemberID    string
	ChallengeID string
	Answer      string
	// SubmitTime is the arbitration instant, supplied by the caller so
	// the window check and all recorded timestamps agree.
	SubmitTime time.Time
}

type SubmitResponse struct {
	Outcome     Outcome
	Points      int
	BonusPoints int // first-blood bonus; only set for OutcomeFirstCorrect
	SolvedBy    string // crediting member; only set for OutcomeAlreadySolved
	TotalScore  int
	// NewAchievements carries individual codes the submitting member
	// earned through this solve. Team-level credits are persisted but
	// not returned.
	NewAchievements []string
}

// Submit arbitrates one flag attempt. Validation failures (unknown team,
// member or challenge) return coded errors before anything is written;
// everything past that point is expressed as an Outcome.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	team, challenge, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	cfg, err := s.store.EventConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Open(req.SubmitTime) {
		telemetry.ObserveSubmission(string(OutcomeCompetitionClosed))
		return &SubmitResponse{Outcome: OutcomeCompetitionClosed}, nil
	}

	// A team resubmitting a known-correct answer gets short-circuited
	// before any record is written, so it cannot double-score or
	// double-publish.
	if solve, err := s.store.SolveFor(ctx, req.TeamID, req.ChallengeID); err == nil {
		telemetry.ObserveSubmission(string(OutcomeAlreadySolved))
		return &SubmitResponse{Outcome: OutcomeAlreadySolved, SolvedBy: solve.MemberID}, nil
	} else if !errors.IsCode(err, errors.CodeNotFound) {
		return nil, err
	}

	sub, err := s.record(ctx, req, challenge)
	if err != nil {
		return nil, err
	}

	if !sub.Correct {
		telemetry.ObserveSubmission(string(OutcomeIncorrect))
		return &SubmitResponse{Outcome: OutcomeIncorrect}, nil
	}

	return s.credit(ctx, req, team, challenge, cfg, sub)
}

func (s *Service) validate(ctx context.Context, req SubmitRequest) (domain.Team, domain.Challenge, error) {
	team, err := s.store.Team(ctx, req.TeamID)
	if err != nil {
		return domain.Team{}, domain.Challenge{}, err
	}
	if !team.HasMember(req.MemberID) {
		return domain.Team{}, domain.Challenge{},
			errors.InvalidArgument("member %s does not belong to team %s", req.MemberID, req.TeamID)
	}

	challenge, err := s.store.Challenge(ctx, req.ChallengeID)
	if err != nil {
		return domain.Team{}, domain.Challenge{}, err
	}
	if !challenge.Active {
		return domain.Team{}, domain.Challenge{},
			errors.NotFound("challenge not found: %s", req.ChallengeID)
	}

	return team, challenge, nil
}

// record writes the submission unconditionally for audit; correctness is
// an exact string match against the flag.
func (s *Service) record(ctx context.Context, req SubmitRequest, challenge domain.Challenge) (domain.Submission, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Submission{}, fmt.Errorf("generate submission ID: %w", err)
	}

	sub := domain.Submission{
		SubmissionID: id.String(),
		TeamID:       req.TeamID,
		ChallengeID:  req.ChallengeID,
		MemberID:     req.MemberID,
		Answer:       req.Answer,
		Correct:      req.Answer == challenge.Flag,
		SubmittedAt:  req.SubmitTime,
	}

	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return domain.Submission{}, err
	}

	return sub, nil
}

func (s *Service) credit(ctx context.Context, req SubmitRequest, team domain.Team, challenge domain.Challenge, cfg domain.EventConfig, sub domain.Submission) (*SubmitResponse, error) {
	solveID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate solve ID: %w", err)
	}

	credited, err := s.store.CreditSolve(ctx, domain.Solve{
		SolveID:      solveID.String(),
		TeamID:       req.TeamID,
		ChallengeID:  req.ChallengeID,
		CategoryID:   challenge.CategoryID,
		MemberID:     req.MemberID,
		SubmissionID: sub.SubmissionID,
		Points:       challenge.Points,
		SolvedAt:     req.SubmitTime,
	})
	if err != nil {
		return nil, err
	}
	if !credited {
		// A concurrent teammate won the credit between our pre-check and
		// the insert.
		resp := &SubmitResponse{Outcome: OutcomeAlreadySolved}
		if solve, err := s.store.SolveFor(ctx, req.TeamID, req.ChallengeID); err == nil {
			resp.SolvedBy = solve.MemberID
		}
		telemetry.ObserveSubmission(string(OutcomeAlreadySolved))
		return resp, nil
	}

	// First blood is decided before score recomputation so the solve
	// event's flag can never trail the score it explains.
	fb, awarded, err := s.fb.Claim(ctx, firstblood.ClaimRequest{
		ChallengeID: req.ChallengeID,
		TeamID:      req.TeamID,
		MemberID:    req.MemberID,
		BonusPoints: cfg.FirstBloodBonus,
		ClaimTime:   req.SubmitTime,
	})
	if err != nil {
		return nil, err
	}
	if awarded {
		telemetry.ObserveFirstBlood()
	}

	total, err := s.ldg.Recompute(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}

	memberCodes := s.evaluateAchievements(ctx, req)

	e := domain.EventChallengeSolved{
		TeamID:         team.TeamID,
		TeamName:       team.Name,
		TeamColor:      team.Color,
		ChallengeID:    challenge.ChallengeID,
		ChallengeTitle: challenge.Title,
		MemberID:       req.MemberID,
		Points:         challenge.Points,
		FirstBlood:     awarded,
		Achievements:   memberCodes,
		SolvedAt:       req.SubmitTime,
	}
	if awarded {
		e.BonusPoints = fb.BonusPoints
	}

	// Publish to the hub synchronously so live observers see solves in
	// arbitration order; the bus fans out to internal handlers.
	s.hub.Publish(e)
	s.eb.Publish(ctx, e)

	resp := &SubmitResponse{
		Points:          challenge.Points,
		TotalScore:      total,
		NewAchievements: memberCodes,
	}
	if awarded {
		resp.Outcome = OutcomeFirstCorrect
		resp.BonusPoints = fb.BonusPoints
	} else {
		resp.Outcome = OutcomeCorrectNotFirst
	}
	telemetry.ObserveSubmission(string(resp.Outcome))

	return resp, nil
}

// evaluateAchievements never fails the submission: a credited solve with
// a broken rule evaluation is still a credited solve.
func (s *Service) evaluateAchievements(ctx context.Context, req SubmitRequest) []string {
	teamCodes, err := s.ach.EvaluateTeam(ctx, req.TeamID)
	if err != nil {
		slog.ErrorContext(ctx, "submission: team achievement evaluation failed",
			"team", req.TeamID,
			"error", err,
		)
	}
	for _, code := range teamCodes {
		telemetry.ObserveAchievement(code)
	}

	memberCodes, err := s.ach.EvaluateMember(ctx, req.TeamID, req.MemberID)
	if err != nil {
		slog.ErrorContext(ctx, "submission: member achievement evaluation failed",
			"team", req.TeamID,
			"member", req.MemberID,
			"error", err,
		)
		return nil
	}

	for _, code := range memberCodes {
		telemetry.ObserveAchievement(code)
	}

	return memberCodes
}
