package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ctfscore/internal/domain"
	"ctfscore/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	SolveData struct {
		Team         string    `json:"team"`
		TeamColor    string    `json:"team_color"`
		Challenge    string    `json:"challenge"`
		Member       string    `json:"member"`
		Points       int       `json:"points"`
		IsFirstBlood bool      `json:"is_first_blood"`
		BonusPoints  int       `json:"bonus_points,omitempty"`
		Achievements []string  `json:"achievements,omitempty"`
		SolvedAt     time.Time `json:"solved_at"`
	}

	LeaderboardData struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank   int    `json:"rank"`
		TeamID string `json:"team_id"`
		Score  int    `json:"score"`
	}
)

// PublishChallengeSolved pushes a solve notification to the shared
// scoreboard channel and to the solving team's own channel.
func (a *API) PublishChallengeSolved(ctx context.Context, e domain.EventChallengeSolved) error {
	data := SolveData{
		Team:         e.TeamName,
		TeamColor:    e.TeamColor,
		Challenge:    e.ChallengeTitle,
		Member:       e.MemberID,
		Points:       e.Points,
		IsFirstBlood: e.FirstBlood,
		BonusPoints:  e.BonusPoints,
		Achievements: e.Achievements,
		SolvedAt:     e.SolvedAt,
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return a.publishNotification(ctx, a.scoreboardChannel(), e.Name(), data)
	})
	eg.Go(func() error {
		return a.publishNotification(ctx, a.teamChannel(e.TeamID), e.Name(), data)
	})

	return eg.Wait()
}

// PublishLeaderboardUpdated pushes the fresh ranking to the scoreboard
// channel and to every ranked team's channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := LeaderboardData{
		Entries: make([]LeaderboardEntry, 0, len(e.Leaderboard.Entries)),
	}
	for _, entry := range e.Leaderboard.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Rank:   entry.Rank,
			TeamID: entry.TeamID,
			Score:  entry.Score,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.scoreboardChannel(), e.Name(), data)
	})
	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, a.teamChannel(entry.TeamID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

// notificationData converts a hub event into its SSE payload.
func (a *API) notificationData(e event.Event) any {
	switch ev := e.(type) {
	case domain.EventChallengeSolved:
		return SolveData{
			Team:         ev.TeamName,
			TeamColor:    ev.TeamColor,
			Challenge:    ev.ChallengeTitle,
			Member:       ev.MemberID,
			Points:       ev.Points,
			IsFirstBlood: ev.FirstBlood,
			BonusPoints:  ev.BonusPoints,
			Achievements: ev.Achievements,
			SolvedAt:     ev.SolvedAt,
		}
	case domain.EventLeaderboardUpdated:
		data := LeaderboardData{
			Entries: make([]LeaderboardEntry, 0, len(ev.Leaderboard.Entries)),
		}
		for _, entry := range ev.Leaderboard.Entries {
			data.Entries = append(data.Entries, LeaderboardEntry{
				Rank:   entry.Rank,
				TeamID: entry.TeamID,
				Score:  entry.Score,
			})
		}
		return data
	default:
		return e
	}
}

func (a *API) scoreboardChannel() string {
	return fmt.Sprintf("%s:scoreboard", a.prefix)
}

func (a *API) teamChannel(teamID string) string {
	return fmt.Sprintf("%s:team:%s", a.prefix, teamID)
}
