package submission_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfscore/internal/achievement"
	"ctfscore/internal/broadcast"
	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
	"ctfscore/internal/event"
	"ctfscore/internal/firstblood"
	"ctfscore/internal/ledger"
	"ctfscore/internal/memstore"
	"ctfscore/internal/submission"
)

var compStart = time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *submission.Service
	store *memstore.Store
	eb    *event.Bus
	hub   *broadcast.Hub
}

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.NewStore()
	store.SetEventConfig(domain.EventConfig{
		Name:            "test-ctf",
		StartTime:       compStart,
		EndTime:         compStart.Add(48 * time.Hour),
		Active:          true,
		FirstBloodBonus: 50,
	})
	store.AddCategory(domain.Category{CategoryID: "web", Name: "Web"})
	store.AddChallenge(domain.Challenge{
		ChallengeID: "c1",
		Title:       "SQL of Duty",
		CategoryID:  "web",
		Points:      100,
		Flag:        "flag{union_select}",
		Active:      true,
	})
	store.AddChallenge(domain.Challenge{
		ChallengeID: "c-retired",
		Title:       "Retired",
		CategoryID:  "web",
		Points:      100,
		Flag:        "flag{old}",
		Active:      false,
	})
	store.AddTeam(domain.Team{
		TeamID:  "t1",
		Name:    "Red",
		Color:   "#ff0000",
		Members: []string{"alice", "bob"},
	})
	store.AddTeam(domain.Team{
		TeamID:  "t2",
		Name:    "Blue",
		Color:   "#0000ff",
		Members: []string{"carol"},
	})

	eb := event.NewBus()
	hub := broadcast.NewHub(256)
	t.Cleanup(func() {
		hub.Close()
		eb.Stop()
	})

	svc := submission.NewService(submission.Config{
		Store:        store,
		FirstBlood:   firstblood.NewService(firstblood.Config{Store: store}),
		Ledger:       ledger.NewService(ledger.Config{EventBus: eb, Store: store}),
		Achievements: achievement.NewService(achievement.Config{Store: store}),
		EventBus:     eb,
		Hub:          hub,
	})

	return &fixture{svc: svc, store: store, eb: eb, hub: hub}
}

func (f *fixture) submit(t *testing.T, teamID, memberID, answer string, at time.Time) *submission.SubmitResponse {
	t.Helper()

	resp, err := f.svc.Submit(context.Background(), submission.SubmitRequest{
		TeamID:      teamID,
		MemberID:    memberID,
		ChallengeID: "c1",
		Answer:      answer,
		SubmitTime:  at,
	})
	require.NoError(t, err)
	return resp
}

func TestSubmit_FirstBloodBonusGoesToFirstTeamOnly(t *testing.T) {
	f := makeFixture(t)
	at := compStart.Add(time.Hour)

	first := f.submit(t, "t1", "alice", "flag{union_select}", at)
	assert.Equal(t, submission.OutcomeFirstCorrect, first.Outcome)
	assert.Equal(t, 100, first.Points)
	assert.Equal(t, 50, first.BonusPoints)
	assert.Equal(t, 150, first.TotalScore)

	second := f.submit(t, "t2", "carol", "flag{union_select}", at.Add(time.Minute))
	assert.Equal(t, submission.OutcomeCorrectNotFirst, second.Outcome)
	assert.Equal(t, 100, second.Points)
	assert.Zero(t, second.BonusPoints)
	assert.Equal(t, 100, second.TotalScore)
}

func TestSubmit_IncorrectAnswerIsRecordedButNotCredited(t *testing.T) {
	f := makeFixture(t)

	resp := f.submit(t, "t1", "alice", "flag{wrong}", compStart.Add(time.Hour))
	assert.Equal(t, submission.OutcomeIncorrect, resp.Outcome)
	assert.Zero(t, resp.Points)

	subs, err := f.store.SubmissionsByTeam(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Correct)

	_, err = f.store.SolveFor(context.Background(), "t1", "c1")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestSubmit_ResubmitAfterSolveRecordsNothing(t *testing.T) {
	f := makeFixture(t)
	at := compStart.Add(time.Hour)

	f.submit(t, "t1", "alice", "flag{union_select}", at)

	resp := f.submit(t, "t1", "bob", "flag{union_select}", at.Add(time.Minute))
	assert.Equal(t, submission.OutcomeAlreadySolved, resp.Outcome)
	assert.Equal(t, "alice", resp.SolvedBy)

	// The short-circuit happens before the audit write.
	subs, err := f.store.SubmissionsByTeam(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubmit_OutsideWindowRecordsNothing(t *testing.T) {
	f := makeFixture(t)

	tests := map[string]time.Time{
		"before start": compStart.Add(-time.Minute),
		"after end":    compStart.Add(49 * time.Hour),
	}

	for name, at := range tests {
		t.Run(name, func(t *testing.T) {
			resp := f.submit(t, "t1", "alice", "flag{union_select}", at)
			assert.Equal(t, submission.OutcomeCompetitionClosed, resp.Outcome)

			subs, err := f.store.SubmissionsByTeam(context.Background(), "t1")
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := makeFixture(t)
	at := compStart.Add(time.Hour)

	tests := map[string]struct {
		req      submission.SubmitRequest
		wantCode errors.Code
	}{
		"unknown team": {
			req:      submission.SubmitRequest{TeamID: "ghost", MemberID: "alice", ChallengeID: "c1", Answer: "x", SubmitTime: at},
			wantCode: errors.CodeNotFound,
		},
		"member of another team": {
			req:      submission.SubmitRequest{TeamID: "t1", MemberID: "carol", ChallengeID: "c1", Answer: "x", SubmitTime: at},
			wantCode: errors.CodeInvalidArgument,
		},
		"unknown challenge": {
			req:      submission.SubmitRequest{TeamID: "t1", MemberID: "alice", ChallengeID: "nope", Answer: "x", SubmitTime: at},
			wantCode: errors.CodeNotFound,
		},
		"inactive challenge": {
			req:      submission.SubmitRequest{TeamID: "t1", MemberID: "alice", ChallengeID: "c-retired", Answer: "x", SubmitTime: at},
			wantCode: errors.CodeNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
		})
	}

	// None of the rejected attempts left an audit record.
	subs, err := f.store.SubmissionsByTeam(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubmit_ConcurrentTeamsOneFirstBlood(t *testing.T) {
	f := makeFixture(t)
	at := compStart.Add(time.Hour)

	const n = 20
	for i := 0; i < n; i++ {
		f.store.AddTeam(domain.Team{
			TeamID:  fmt.Sprintf("team-%d", i),
			Name:    fmt.Sprintf("Team %d", i),
			Members: []string{fmt.Sprintf("m%d", i)},
		})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errs      []error
		outcomes  = make(map[submission.Outcome]int)
		bonusSeen int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			resp, err := f.svc.Submit(context.Background(), submission.SubmitRequest{
				TeamID:      fmt.Sprintf("team-%d", i),
				MemberID:    fmt.Sprintf("m%d", i),
				ChallengeID: "c1",
				Answer:      "flag{union_select}",
				SubmitTime:  at,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[resp.Outcome]++
			bonusSeen += resp.BonusPoints
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)

	assert.Equal(t, 1, outcomes[submission.OutcomeFirstCorrect], "exactly one winner")
	assert.Equal(t, n-1, outcomes[submission.OutcomeCorrectNotFirst])
	assert.Equal(t, 50, bonusSeen, "the bonus is paid once")
}

func TestSubmit_ConcurrentTeammatesOneCredit(t *testing.T) {
	f := makeFixture(t)
	at := compStart.Add(time.Hour)

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		outcomes = make(map[submission.Outcome]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			member := "alice"
			if i%2 == 0 {
				member = "bob"
			}
			resp, err := f.svc.Submit(context.Background(), submission.SubmitRequest{
				TeamID:      "t1",
				MemberID:    member,
				ChallengeID: "c1",
				Answer:      "flag{union_select}",
				SubmitTime:  at,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[resp.Outcome]++
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)

	credited := outcomes[submission.OutcomeFirstCorrect] + outcomes[submission.OutcomeCorrectNotFirst]
	assert.Equal(t, 1, credited, "one teammate gets the credit")
	assert.Equal(t, n-1, outcomes[submission.OutcomeAlreadySolved])

	total, _, err := f.store.TeamScoreParts(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 100, total, "the challenge scores once")
}

func TestSubmit_PublishesSolveEventToHub(t *testing.T) {
	f := makeFixture(t)
	sub := f.hub.Subscribe()
	require.NotNil(t, sub)

	at := compStart.Add(time.Hour)
	f.submit(t, "t1", "alice", "flag{union_select}", at)
	f.submit(t, "t2", "carol", "flag{union_select}", at.Add(time.Minute))

	first := (<-sub.C()).(domain.EventChallengeSolved)
	assert.Equal(t, "Red", first.TeamName)
	assert.Equal(t, "SQL of Duty", first.ChallengeTitle)
	assert.True(t, first.FirstBlood)
	assert.Equal(t, 50, first.BonusPoints)

	second := (<-sub.C()).(domain.EventChallengeSolved)
	assert.Equal(t, "Blue", second.TeamName)
	assert.False(t, second.FirstBlood)
	assert.Zero(t, second.BonusPoints)
}

func TestSubmit_ReturnsNewIndividualAchievements(t *testing.T) {
	f := makeFixture(t)

	resp := f.submit(t, "t1", "alice", "flag{union_select}", compStart.Add(time.Hour))
	assert.Contains(t, resp.NewAchievements, "early_bird", "claiming the first blood earns the individual badge")

	// Team-level credits are persisted but not carried on the response.
	teamCredits, err := f.store.AchievementsByOwner(context.Background(), domain.KindTeam, "t1", "")
	require.NoError(t, err)
	codes := make([]string, 0, len(teamCredits))
	for _, a := range teamCredits {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, "first_blood")
	assert.NotContains(t, resp.NewAchievements, "first_blood")
}
