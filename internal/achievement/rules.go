package achievement

import (
	"time"

	"ctfscore/internal/domain"
)

// History is the read-only snapshot a rule is evaluated against. For team
// rules it holds the whole team's records; for individual rules only the
// member's own. Rules never mutate it and never see storage.
type History struct {
	Submissions []domain.Submission // ascending by submission time
	Solves      []domain.Solve      // credited solves, ascending
	FirstBloods []domain.FirstBlood

	TotalChallenges int
	TotalCategories int

	Start time.Time
	Now   time.Time
}

func (h History) failedAttempts() int {
	n := 0
	for _, sub := range h.Submissions {
		if !sub.Correct {
			n++
		}
	}
	return n
}

// Definition binds an achievement code to its display metadata and its
// predicate. Check must be a pure function of the history snapshot.
type Definition struct {
	Code        string
	Name        string
	Description string
	Icon        string
	Kind        domain.AchievementKind
	Check       func(h History) bool
}

var registry = []Definition{
	{
		Code:        "first_blood",
		Name:        "First Blood",
		Description: "Be the first team to solve any challenge.",
		Icon:        "🩸",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			return len(h.FirstBloods) > 0
		},
	},
	{
		Code:        "speed_demon",
		Name:        "Speed Demon",
		Description: "Solve a challenge within 5 minutes of the competition start.",
		Icon:        "⚡",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			if h.Start.IsZero() {
				return false
			}
			deadline := h.Start.Add(5 * time.Minute)
			for _, sv := range h.Solves {
				if !sv.SolvedAt.After(deadline) {
					return true
				}
			}
			return false
		},
	},
	{
		Code:        "night_owl",
		Name:        "Night Owl",
		Description: "Solve a challenge between 2:00 AM and 6:00 AM.",
		Icon:        "🦉",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			for _, sv := range h.Solves {
				hour := sv.SolvedAt.Hour()
				if hour >= 2 && hour < 6 {
					return true
				}
			}
			return false
		},
	},
	{
		Code:        "perfectionist",
		Name:        "Perfectionist",
		Description: "Solve 5 challenges without a single failed attempt.",
		Icon:        "💯",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			return len(h.Solves) >= 5 && h.failedAttempts() == 0
		},
	},
	{
		Code:        "jack_of_all_trades",
		Name:        "Jack of All Trades",
		Description: "Solve at least one challenge in every category.",
		Icon:        "🎭",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			if h.TotalCategories == 0 {
				return false
			}
			cats := make(map[string]struct{})
			for _, sv := range h.Solves {
				cats[sv.CategoryID] = struct{}{}
			}
			return len(cats) >= h.TotalCategories
		},
	},
	{
		Code:        "blood_thirsty",
		Name:        "Blood Thirsty",
		Description: "Claim 3 or more first bloods.",
		Icon:        "🔴",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			return len(h.FirstBloods) >= 3
		},
	},
	{
		Code:        "unstoppable",
		Name:        "Unstoppable",
		Description: "Solve 3 challenges within a 30-minute window.",
		Icon:        "🚀",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			for i := 0; i+2 < len(h.Solves); i++ {
				window := h.Solves[i+2].SolvedAt.Sub(h.Solves[i].SolvedAt)
				if window <= 30*time.Minute {
					return true
				}
			}
			return false
		},
	},
	{
		Code:        "half_way",
		Name:        "Half Way There",
		Description: "Solve 50% of all challenges.",
		Icon:        "📊",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			return h.TotalChallenges > 0 && len(h.Solves)*2 >= h.TotalChallenges
		},
	},
	{
		Code:        "completionist",
		Name:        "Completionist",
		Description: "Solve every challenge in the competition.",
		Icon:        "👑",
		Kind:        domain.KindTeam,
		Check: func(h History) bool {
			return h.TotalChallenges > 0 && len(h.Solves) >= h.TotalChallenges
		},
	},

	{
		Code:        "solo_warrior",
		Name:        "Solo Warrior",
		Description: "Personally solve 10 challenges.",
		Icon:        "⚔️",
		Kind:        domain.KindIndividual,
		Check: func(h History) bool {
			return len(h.Solves) >= 10
		},
	},
	{
		Code:        "early_bird",
		Name:        "Early Bird",
		Description: "Personally claim a first blood.",
		Icon:        "🐦",
		Kind:        domain.KindIndividual,
		Check: func(h History) bool {
			return len(h.FirstBloods) > 0
		},
	},
	{
		Code:        "persistent",
		Name:        "Persistent",
		Description: "Solve a challenge after 10 or more failed attempts.",
		Icon:        "💪",
		Kind:        domain.KindIndividual,
		Check:       checkPersistence,
	},
	{
		Code:        "sharpshooter",
		Name:        "Sharpshooter",
		Description: "Solve 3 challenges on the very first attempt.",
		Icon:        "🎯",
		Kind:        domain.KindIndividual,
		Check:       checkAccuracy,
	},
}

// checkPersistence looks for a challenge where 10+ failures preceded the
// first success.
func checkPersistence(h History) bool {
	failed := make(map[string]int)
	solved := make(map[string]bool)

	for _, sub := range h.Submissions {
		if solved[sub.ChallengeID] {
			continue
		}
		if sub.Correct {
			if failed[sub.ChallengeID] >= 10 {
				return true
			}
			solved[sub.ChallengeID] = true
			continue
		}
		failed[sub.ChallengeID]++
	}

	return false
}

// checkAccuracy counts challenges whose only attempt was the correct one.
func checkAccuracy(h History) bool {
	attempts := make(map[string]int)
	correct := make(map[string]bool)

	for _, sub := range h.Submissions {
		attempts[sub.ChallengeID]++
		if sub.Correct {
			correct[sub.ChallengeID] = true
		}
	}

	perfect := 0
	for id, ok := range correct {
		if ok && attempts[id] == 1 {
			perfect++
			if perfect >= 3 {
				return true
			}
		}
	}

	return false
}

// Definitions returns the full rule registry in evaluation order.
func Definitions() []Definition {
	return registry
}

// Lookup returns the definition for a code.
func Lookup(code string) (Definition, bool) {
	for _, d := range registry {
		if d.Code == code {
			return d, true
		}
	}
	return Definition{}, false
}
