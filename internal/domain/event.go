package domain

import "time"

const (
	EventNameChallengeSolved    = "challenge.solved"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventChallengeSolved is emitted once per credited solve. The first-blood
// flag is decided before the team's score is recomputed, so observers never
// see a score change for a first blood without the accompanying flag.
// Achievements carries newly earned individual codes only; team-level
// credits are persisted but not broadcast.
type EventChallengeSolved struct {
	TeamID         string
	TeamName       string
	TeamColor      string
	ChallengeID    string
	ChallengeTitle string
	MemberID       string
	Points         int
	FirstBlood     bool
	BonusPoints    int
	Achievements   []string
	SolvedAt       time.Time
}

func (EventChallengeSolved) Name() string { return EventNameChallengeSolved }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
