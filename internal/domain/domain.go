package domain

import "time"

// Category groups challenges (web, crypto, forensics, ...).
type Category struct {
	CategoryID string
	Name       string
}

// Challenge is a single task teams compete to solve. Read-only from the
// scoring core's perspective; editing belongs to the admin surface.
type Challenge struct {
	ChallengeID string
	Title       string
	CategoryID  string
	Points      int
	Flag        string
	Active      bool
}

// Team is a participating team. TotalScore is derived state: it is only
// ever written by a full ledger recomputation, never patched by hand.
type Team struct {
	TeamID     string
	Name       string
	Color      string
	Members    []string
	TotalScore int
}

func (t Team) HasMember(memberID string) bool {
	for _, m := range t.Members {
		if m == memberID {
			return true
		}
	}
	return false
}

// Submission is one flag attempt. Append-only: once recorded it is never
// mutated or deleted, and the submission history is the source of truth
// that scores are re-derived from.
type Submission struct {
	SubmissionID string
	TeamID       string
	ChallengeID  string
	MemberID     string
	Answer       string
	Correct      bool
	SubmittedAt  time.Time
}

// Solve is a credited correct submission. There is at most one per
// (team, challenge); Points is frozen at credit time so later challenge
// edits do not rewrite history. CategoryID is denormalized for the
// category-coverage achievement rules.
type Solve struct {
	SolveID      string
	TeamID       string
	ChallengeID  string
	CategoryID   string
	MemberID     string
	SubmissionID string
	Points       int
	SolvedAt     time.Time
}

// FirstBlood records the first team to solve a challenge. At most one per
// challenge. BonusPoints is frozen at award time; later config changes
// must not retroactively alter it.
type FirstBlood struct {
	FirstBloodID string
	ChallengeID  string
	TeamID       string
	MemberID     string
	BonusPoints  int
	AchievedAt   time.Time
}

// AchievementKind partitions achievement rules by owner.
type AchievementKind string

const (
	KindTeam       AchievementKind = "team"
	KindIndividual AchievementKind = "individual"
)

// Achievement is a credited (code, owner) pair. For team achievements
// MemberID is empty; for individual ones it identifies the member. A given
// owner earns a code at most once.
type Achievement struct {
	AchievementID string
	Code          string
	Kind          AchievementKind
	TeamID        string
	MemberID      string
	EarnedAt      time.Time
}

// EventConfig is the competition-wide configuration snapshot: the
// submission window and the first-blood bonus. It is read from storage at
// arbitration time, not held as ambient state, so the bonus frozen into a
// FirstBlood record is whatever was configured at the moment of the claim.
type EventConfig struct {
	Name            string
	StartTime       time.Time
	EndTime         time.Time
	Active          bool
	FirstBloodBonus int
}

// Open reports whether submissions are accepted at the given instant.
func (c EventConfig) Open(now time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.StartTime.IsZero() && now.Before(c.StartTime) {
		return false
	}
	if !c.EndTime.IsZero() && now.After(c.EndTime) {
		return false
	}
	return true
}

// ScoreboardRow is one line of the point-in-time scoreboard snapshot.
type ScoreboardRow struct {
	Rank        int
	TeamID      string
	Name        string
	Color       string
	Score       int
	Solved      int
	FirstBloods int
}

// Score is a team's recomputed total at a point in time.
type Score struct {
	TeamID     string
	TotalScore int
	UpdateTime time.Time
}

// Leaderboard is the live ranking, sorted by score descending.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank   int
	TeamID string
	Score  int
}
