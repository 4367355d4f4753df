package firstblood_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctfscore/internal/firstblood"
	"ctfscore/internal/memstore"
)

func TestClaim(t *testing.T) {
	svc := firstblood.NewService(firstblood.Config{Store: memstore.NewStore()})
	now := time.Now()

	fb, awarded, err := svc.Claim(context.Background(), firstblood.ClaimRequest{
		ChallengeID: "c1",
		TeamID:      "t1",
		MemberID:    "alice",
		BonusPoints: 50,
		ClaimTime:   now,
	})
	require.NoError(t, err)
	require.True(t, awarded)
	assert.Equal(t, "t1", fb.TeamID)
	assert.Equal(t, 50, fb.BonusPoints)
	assert.NotEmpty(t, fb.FirstBloodID)

	// The challenge is taken; a later claimant walks away empty-handed.
	_, awarded, err = svc.Claim(context.Background(), firstblood.ClaimRequest{
		ChallengeID: "c1",
		TeamID:      "t2",
		MemberID:    "bob",
		BonusPoints: 50,
		ClaimTime:   now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.False(t, awarded)

	// A different challenge is an independent race.
	_, awarded, err = svc.Claim(context.Background(), firstblood.ClaimRequest{
		ChallengeID: "c2",
		TeamID:      "t2",
		MemberID:    "bob",
		BonusPoints: 50,
		ClaimTime:   now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.True(t, awarded)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	svc := firstblood.NewService(firstblood.Config{Store: memstore.NewStore()})

	const n = 50
	var (
		wg      sync.WaitGroup
		winners sync.Map
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, awarded, err := svc.Claim(context.Background(), firstblood.ClaimRequest{
				ChallengeID: "c1",
				TeamID:      "t1",
				MemberID:    "alice",
				BonusPoints: 50,
				ClaimTime:   time.Now(),
			})
			if err == nil && awarded {
				winners.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	winners.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count, "exactly one claim wins")
}
