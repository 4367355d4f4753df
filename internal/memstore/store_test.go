package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfscore/internal/domain"
	"ctfscore/internal/memstore"
)

func TestCreditSolve_ConcurrentSingleWinner(t *testing.T) {
	store := memstore.NewStore()

	const n = 50
	var (
		wg       sync.WaitGroup
		credited atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ok, err := store.CreditSolve(context.Background(), domain.Solve{
				SolveID:     fmt.Sprintf("sv%d", i),
				TeamID:      "t1",
				ChallengeID: "c1",
				MemberID:    fmt.Sprintf("m%d", i),
				Points:      100,
			})
			if err == nil && ok {
				credited.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, credited.Load())

	solvePoints, _, err := store.TeamScoreParts(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 100, solvePoints, "the challenge scores once")
}

func TestInsertAchievement_KeyedPerOwner(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()

	// Same code for two different teams: independent credits.
	for i, teamID := range []string{"t1", "t2"} {
		ok, err := store.InsertAchievement(ctx, domain.Achievement{
			AchievementID: fmt.Sprintf("a%d", i),
			Code:          "first_blood",
			Kind:          domain.KindTeam,
			TeamID:        teamID,
		})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Re-crediting the same (code, team) loses the CAS.
	ok, err := store.InsertAchievement(ctx, domain.Achievement{
		AchievementID: "dup",
		Code:          "first_blood",
		Kind:          domain.KindTeam,
		TeamID:        "t1",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// The same code as an individual credit is a separate key space.
	ok, err = store.InsertAchievement(ctx, domain.Achievement{
		AchievementID: "ind",
		Code:          "early_bird",
		Kind:          domain.KindIndividual,
		TeamID:        "t1",
		MemberID:      "alice",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	codes, err := store.AchievementCodes(ctx, domain.KindTeam, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first_blood"}, codes)
}
