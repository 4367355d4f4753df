// Package memstore is an in-memory implementation of the record store,
// used by the memory storage driver and by service tests. It provides the
// same compare-and-set guarantees as the postgres store, with a single
// mutex standing in for the unique constraints.
package memstore

import (
	"context"
	"sort"
	"sync"

	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
)

type Store struct {
	mu sync.RWMutex

	config      domain.EventConfig
	configSet   bool
	categories  map[string]domain.Category
	challenges  map[string]domain.Challenge
	teams       map[string]domain.Team
	submissions []domain.Submission
	solves      map[string]domain.Solve      // key: teamID + "/" + challengeID
	firstBloods map[string]domain.FirstBlood // key: challengeID
	achieved    map[string]domain.Achievement
}

func NewStore() *Store {
	return &Store{
		categories:  make(map[string]domain.Category),
		challenges:  make(map[string]domain.Challenge),
		teams:       make(map[string]domain.Team),
		solves:      make(map[string]domain.Solve),
		firstBloods: make(map[string]domain.FirstBlood),
		achieved:    make(map[string]domain.Achievement),
	}
}

// Seeding helpers, used at wiring time and by tests.

func (s *Store) SetEventConfig(c domain.EventConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config, s.configSet = c, true
}

func (s *Store) AddCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.CategoryID] = c
}

func (s *Store) AddChallenge(c domain.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ChallengeID] = c
}

func (s *Store) AddTeam(t domain.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.TeamID] = t
}

func solveKey(teamID, challengeID string) string { return teamID + "/" + challengeID }

func achievementKey(a domain.Achievement) string {
	if a.Kind == domain.KindIndividual {
		return string(a.Kind) + "/" + a.Code + "/" + a.MemberID
	}
	return string(a.Kind) + "/" + a.Code + "/" + a.TeamID
}

func (s *Store) EventConfig(context.Context) (domain.EventConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.configSet {
		return domain.EventConfig{}, errors.NotFound("event config not set")
	}
	return s.config, nil
}

func (s *Store) Challenge(_ context.Context, challengeID string) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return domain.Challenge{}, errors.NotFound("challenge not found: %s", challengeID)
	}
	return c, nil
}

func (s *Store) Team(_ context.Context, teamID string) (domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[teamID]
	if !ok {
		return domain.Team{}, errors.NotFound("team not found: %s", teamID)
	}
	return t, nil
}

func (s *Store) TeamIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.teams))
	for id := range s.teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) InsertSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *Store) CreditSolve(_ context.Context, solve domain.Solve) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := solveKey(solve.TeamID, solve.ChallengeID)
	if _, exists := s.solves[k]; exists {
		return false, nil
	}
	s.solves[k] = solve
	return true, nil
}

func (s *Store) SolveFor(_ context.Context, teamID, challengeID string) (domain.Solve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, ok := s.solves[solveKey(teamID, challengeID)]
	if !ok {
		return domain.Solve{}, errors.NotFound("no solve for team=%s challenge=%s", teamID, challengeID)
	}
	return sv, nil
}

func (s *Store) InsertFirstBlood(_ context.Context, fb domain.FirstBlood) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.firstBloods[fb.ChallengeID]; exists {
		return false, nil
	}
	s.firstBloods[fb.ChallengeID] = fb
	return true, nil
}

func (s *Store) InsertAchievement(_ context.Context, a domain.Achievement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := achievementKey(a)
	if _, exists := s.achieved[k]; exists {
		return false, nil
	}
	s.achieved[k] = a
	return true, nil
}

func (s *Store) AchievementCodes(_ context.Context, kind domain.AchievementKind, teamID, memberID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var codes []string
	for _, a := range s.achieved {
		if a.Kind == kind && a.TeamID == teamID && (memberID == "" || a.MemberID == memberID) {
			codes = append(codes, a.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *Store) AchievementsByOwner(_ context.Context, kind domain.AchievementKind, teamID, memberID string) ([]domain.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []domain.Achievement
	for _, a := range s.achieved {
		if a.Kind == kind && a.TeamID == teamID && (memberID == "" || a.MemberID == memberID) {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EarnedAt.Before(list[j].EarnedAt) })
	return list, nil
}

func (s *Store) TeamScoreParts(_ context.Context, teamID string) (solvePoints, bonusPoints int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sv := range s.solves {
		if sv.TeamID == teamID {
			solvePoints += sv.Points
		}
	}
	for _, fb := range s.firstBloods {
		if fb.TeamID == teamID {
			bonusPoints += fb.BonusPoints
		}
	}
	return solvePoints, bonusPoints, nil
}

func (s *Store) SetTeamScore(_ context.Context, teamID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return errors.NotFound("team not found: %s", teamID)
	}
	t.TotalScore = total
	s.teams[teamID] = t
	return nil
}

func (s *Store) SubmissionsByTeam(_ context.Context, teamID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSubmissions(func(sub domain.Submission) bool {
		return sub.TeamID == teamID
	}), nil
}

func (s *Store) SubmissionsByMember(_ context.Context, teamID, memberID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSubmissions(func(sub domain.Submission) bool {
		return sub.TeamID == teamID && sub.MemberID == memberID
	}), nil
}

func (s *Store) filterSubmissions(keep func(domain.Submission) bool) []domain.Submission {
	var out []domain.Submission
	for _, sub := range s.submissions {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func (s *Store) SolvesByTeam(_ context.Context, teamID string) ([]domain.Solve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSolves(func(sv domain.Solve) bool { return sv.TeamID == teamID }), nil
}

func (s *Store) SolvesByMember(_ context.Context, teamID, memberID string) ([]domain.Solve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSolves(func(sv domain.Solve) bool {
		return sv.TeamID == teamID && sv.MemberID == memberID
	}), nil
}

func (s *Store) filterSolves(keep func(domain.Solve) bool) []domain.Solve {
	var out []domain.Solve
	for _, sv := range s.solves {
		if keep(sv) {
			out = append(out, sv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SolvedAt.Before(out[j].SolvedAt) })
	return out
}

func (s *Store) FirstBloodsByTeam(_ context.Context, teamID string) ([]domain.FirstBlood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterFirstBloods(func(fb domain.FirstBlood) bool { return fb.TeamID == teamID }), nil
}

func (s *Store) FirstBloodsByMember(_ context.Context, teamID, memberID string) ([]domain.FirstBlood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterFirstBloods(func(fb domain.FirstBlood) bool {
		return fb.TeamID == teamID && fb.MemberID == memberID
	}), nil
}

func (s *Store) filterFirstBloods(keep func(domain.FirstBlood) bool) []domain.FirstBlood {
	var out []domain.FirstBlood
	for _, fb := range s.firstBloods {
		if keep(fb) {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievedAt.Before(out[j].AchievedAt) })
	return out
}

func (s *Store) ChallengeStats(context.Context) (challenges, categories int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cats := make(map[string]struct{})
	for _, c := range s.challenges {
		if c.Active {
			challenges++
			cats[c.CategoryID] = struct{}{}
		}
	}
	return challenges, len(cats), nil
}

func (s *Store) ScoreboardRows(context.Context) ([]domain.ScoreboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.ScoreboardRow, 0, len(s.teams))
	for _, t := range s.teams {
		row := domain.ScoreboardRow{
			TeamID: t.TeamID,
			Name:   t.Name,
			Color:  t.Color,
			Score:  t.TotalScore,
		}
		for _, sv := range s.solves {
			if sv.TeamID == t.TeamID {
				row.Solved++
			}
		}
		for _, fb := range s.firstBloods {
			if fb.TeamID == t.TeamID {
				row.FirstBloods++
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Name < rows[j].Name
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	return rows, nil
}

func (s *Store) ListSubmissions(_ context.Context, f domain.SubmissionFilter) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.filterSubmissions(func(sub domain.Submission) bool {
		if f.TeamID != "" && sub.TeamID != f.TeamID {
			return false
		}
		if f.ChallengeID != "" && sub.ChallengeID != f.ChallengeID {
			return false
		}
		if f.Correct != nil && sub.Correct != *f.Correct {
			return false
		}
		return true
	})

	// Audit listing is newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}
