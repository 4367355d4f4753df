package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ctfscore/internal/achievement"
	"ctfscore/internal/broadcast"
	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
	"ctfscore/internal/event"
	"ctfscore/internal/ledger"
	"ctfscore/internal/submission"
	"ctfscore/internal/telemetry"
)

type Store interface {
	ScoreboardRows(ctx context.Context) ([]domain.ScoreboardRow, error)
	ListSubmissions(ctx context.Context, f domain.SubmissionFilter) ([]domain.Submission, error)
	AchievementsByOwner(ctx context.Context, kind domain.AchievementKind, teamID, memberID string) ([]domain.Achievement, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Hub          *broadcast.Hub
	Submission   *submission.Service
	Ledger       *ledger.Service
	Store        Store
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	sub   *submission.Service
	ldg   *ledger.Service
	store Store
	hub   *broadcast.Hub

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		sub:    c.Submission,
		ldg:    c.Ledger,
		store:  c.Store,
		hub:    c.Hub,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	g := c.Engine.Group("/api")
	g.POST("/submissions", a.submitFlag)
	g.GET("/submissions", a.listSubmissions)
	g.GET("/scoreboard", a.getScoreboard)
	g.GET("/achievements", a.listAchievements)
	g.GET("/live", a.streamLive)
	g.POST("/scores/recompute", a.recomputeScores)

	// Internal events fan out to cross-process observers via redis
	// pubsub; leaderboard updates additionally reach local SSE clients.
	c.EventBus.Subscribe(domain.EventNameChallengeSolved, func(ctx context.Context, e event.Event) error {
		return a.PublishChallengeSolved(ctx, e.(domain.EventChallengeSolved))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		a.hub.Publish(e)
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

type submitRequest struct {
	TeamID      string `json:"team_id" binding:"required"`
	MemberID    string `json:"member_id" binding:"required"`
	ChallengeID string `json:"challenge_id" binding:"required"`
	Answer      string `json:"answer" binding:"required"`
}

type submitResponse struct {
	Outcome         string   `json:"outcome"`
	Points          int      `json:"points,omitempty"`
	BonusPoints     int      `json:"bonus_points,omitempty"`
	SolvedBy        string   `json:"solved_by,omitempty"`
	TotalScore      int      `json:"total_score,omitempty"`
	NewAchievements []string `json:"new_achievements,omitempty"`
}

func (a *API) submitFlag(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.InvalidArgument("invalid request: %v", err))
		return
	}

	resp, err := a.sub.Submit(c.Request.Context(), submission.SubmitRequest{
		TeamID:      req.TeamID,
		MemberID:    req.MemberID,
		ChallengeID: req.ChallengeID,
		Answer:      req.Answer,
		SubmitTime:  time.Now(),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitResponse{
		Outcome:         string(resp.Outcome),
		Points:          resp.Points,
		BonusPoints:     resp.BonusPoints,
		SolvedBy:        resp.SolvedBy,
		TotalScore:      resp.TotalScore,
		NewAchievements: resp.NewAchievements,
	})
}

type scoreboardRow struct {
	Rank        int    `json:"rank"`
	TeamID      string `json:"team_id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Score       int    `json:"score"`
	Solved      int    `json:"solved"`
	FirstBloods int    `json:"first_bloods"`
}

func (a *API) getScoreboard(c *gin.Context) {
	rows, err := a.store.ScoreboardRows(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	board := make([]scoreboardRow, 0, len(rows))
	for _, r := range rows {
		board = append(board, scoreboardRow{
			Rank:        r.Rank,
			TeamID:      r.TeamID,
			Name:        r.Name,
			Color:       r.Color,
			Score:       r.Score,
			Solved:      r.Solved,
			FirstBloods: r.FirstBloods,
		})
	}

	c.JSON(http.StatusOK, gin.H{"scoreboard": board})
}

type submissionRow struct {
	SubmissionID string    `json:"submission_id"`
	TeamID       string    `json:"team_id"`
	ChallengeID  string    `json:"challenge_id"`
	MemberID     string    `json:"member_id"`
	Correct      bool      `json:"correct"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func (a *API) listSubmissions(c *gin.Context) {
	f := domain.SubmissionFilter{
		TeamID:      c.Query("team"),
		ChallengeID: c.Query("challenge"),
	}
	if v := c.Query("correct"); v != "" {
		correct, err := strconv.ParseBool(v)
		if err != nil {
			abortWithError(c, errors.InvalidArgument("invalid correct filter: %q", v))
			return
		}
		f.Correct = &correct
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			abortWithError(c, errors.InvalidArgument("invalid limit: %q", v))
			return
		}
		f.Limit = limit
	}

	subs, err := a.store.ListSubmissions(c.Request.Context(), f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// The submitted answer stays out of the listing: flags for still-open
	// challenges must not leak through the audit surface.
	rows := make([]submissionRow, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, submissionRow{
			SubmissionID: s.SubmissionID,
			TeamID:       s.TeamID,
			ChallengeID:  s.ChallengeID,
			MemberID:     s.MemberID,
			Correct:      s.Correct,
			SubmittedAt:  s.SubmittedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"submissions": rows})
}

type achievementRow struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	EarnedAt    time.Time `json:"earned_at"`
}

func (a *API) listAchievements(c *gin.Context) {
	teamID := c.Query("team")
	memberID := c.Query("member")
	if teamID == "" {
		abortWithError(c, errors.InvalidArgument("team query parameter is required"))
		return
	}

	kind := domain.KindTeam
	if memberID != "" {
		kind = domain.KindIndividual
	}

	earned, err := a.store.AchievementsByOwner(c.Request.Context(), kind, teamID, memberID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	rows := make([]achievementRow, 0, len(earned))
	for _, e := range earned {
		def, ok := achievement.Lookup(e.Code)
		if !ok {
			// Credited under a rule that no longer exists; skip rather
			// than render an empty card.
			continue
		}
		rows = append(rows, achievementRow{
			Code:        e.Code,
			Name:        def.Name,
			Description: def.Description,
			Icon:        def.Icon,
			EarnedAt:    e.EarnedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"achievements": rows})
}

// recomputeScores re-derives every team's total from the stored records.
// Operational repair hatch: safe to call at any time, since scores are never
// patched incrementally anyway.
func (a *API) recomputeScores(c *gin.Context) {
	if err := a.ldg.RecomputeAll(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// streamLive serves the live event feed over SSE, backed by a hub
// subscription. A client that cannot keep up loses its oldest events, not
// the publisher's time.
func (a *API) streamLive(c *gin.Context) {
	sub := a.hub.Subscribe()
	if sub == nil {
		abortWithError(c, errors.New(errors.CodeInternal, errors.WithMessagef("broadcast hub is shut down")))
		return
	}
	defer func() {
		a.hub.Unsubscribe(sub)
		for i := uint64(0); i < sub.Dropped(); i++ {
			telemetry.ObserveBroadcastDrop()
		}
	}()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(e.Name(), a.notificationData(e))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
