package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfscore/internal/domain"
	"ctfscore/internal/event"
	"ctfscore/internal/ledger"
	"ctfscore/internal/memstore"
)

func seedStore(t *testing.T) *memstore.Store {
	t.Helper()

	store := memstore.NewStore()
	store.AddTeam(domain.Team{TeamID: "t1", Name: "Red", Members: []string{"alice"}})
	store.AddTeam(domain.Team{TeamID: "t2", Name: "Blue", Members: []string{"bob"}})

	ctx := context.Background()
	for i, solve := range []domain.Solve{
		{SolveID: "sv1", TeamID: "t1", ChallengeID: "c1", Points: 100},
		{SolveID: "sv2", TeamID: "t1", ChallengeID: "c2", Points: 250},
		{SolveID: "sv3", TeamID: "t2", ChallengeID: "c1", Points: 100},
	} {
		credited, err := store.CreditSolve(ctx, solve)
		require.NoError(t, err)
		require.True(t, credited, "solve %d", i)
	}

	inserted, err := store.InsertFirstBlood(ctx, domain.FirstBlood{
		FirstBloodID: "fb1",
		ChallengeID:  "c1",
		TeamID:       "t1",
		MemberID:     "alice",
		BonusPoints:  50,
		AchievedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	return store
}

func TestRecompute(t *testing.T) {
	store := seedStore(t)
	eb := event.NewBus()
	svc := ledger.NewService(ledger.Config{EventBus: eb, Store: store})

	total, err := svc.Recompute(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 400, total, "solve points plus frozen bonus")

	team, err := store.Team(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 400, team.TotalScore)

	// Recomputing again from the same records lands on the same total.
	total, err = svc.Recompute(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 400, total)

	eb.Stop()
}

func TestRecompute_BonusStaysFrozen(t *testing.T) {
	store := seedStore(t)
	eb := event.NewBus()
	svc := ledger.NewService(ledger.Config{EventBus: eb, Store: store})

	// Raising the configured bonus after the award must not change the
	// recomputed total: the record carries its own frozen value.
	store.SetEventConfig(domain.EventConfig{
		Name:            "test",
		Active:          true,
		FirstBloodBonus: 500,
	})

	total, err := svc.Recompute(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 400, total)

	eb.Stop()
}

func TestRecompute_PublishesScoreUpdated(t *testing.T) {
	store := seedStore(t)
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventScoreUpdated
	)
	eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventScoreUpdated))
		mu.Unlock()
		return nil
	})

	svc := ledger.NewService(ledger.Config{EventBus: eb, Store: store})
	_, err := svc.Recompute(context.Background(), "t2")
	require.NoError(t, err)
	eb.Stop()

	require.Len(t, events, 1)
	assert.Equal(t, "t2", events[0].Score.TeamID)
	assert.Equal(t, 100, events[0].Score.TotalScore)
}

func TestRecomputeAll(t *testing.T) {
	store := seedStore(t)
	eb := event.NewBus()
	svc := ledger.NewService(ledger.Config{EventBus: eb, Store: store})

	require.NoError(t, svc.RecomputeAll(context.Background()))
	eb.Stop()

	t1, err := store.Team(context.Background(), "t1")
	require.NoError(t, err)
	t2, err := store.Team(context.Background(), "t2")
	require.NoError(t, err)

	assert.Equal(t, 400, t1.TotalScore)
	assert.Equal(t, 100, t2.TotalScore)
}
