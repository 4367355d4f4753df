// Package postgres implements the authoritative record store on pgx.
// Every idempotency guarantee of the core (one solve credit per team and
// challenge, one first blood per challenge, one achievement per owner and
// code) is a unique constraint here; the insert helpers translate
// unique-violation into a lost compare-and-set instead of an error.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ctfscore/internal/domain"
	"ctfscore/internal/errors"
)

const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// EventConfig reads the single competition configuration row.
func (s *Store) EventConfig(ctx context.Context) (domain.EventConfig, error) {
	const stmt = `
SELECT name, start_time, end_time, active, first_blood_bonus
FROM event_config WHERE id = 1;`

	var (
		c          domain.EventConfig
		start, end *time.Time
	)
	err := s.db.QueryRow(ctx, stmt).Scan(&c.Name, &start, &end, &c.Active, &c.FirstBloodBonus)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.EventConfig{}, errors.NotFound("event config not set")
	}
	if err != nil {
		return domain.EventConfig{}, fmt.Errorf("event config: %w", err)
	}

	if start != nil {
		c.StartTime = *start
	}
	if end != nil {
		c.EndTime = *end
	}

	return c, nil
}

func (s *Store) Challenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	const stmt = `
SELECT challenge_id, title, category_id, points, flag, active
FROM challenges WHERE challenge_id = $1;`

	var c domain.Challenge
	err := s.db.QueryRow(ctx, stmt, challengeID).
		Scan(&c.ChallengeID, &c.Title, &c.CategoryID, &c.Points, &c.Flag, &c.Active)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, errors.NotFound("challenge not found: %s", challengeID)
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}

	return c, nil
}

func (s *Store) Team(ctx context.Context, teamID string) (domain.Team, error) {
	const stmt = `
SELECT t.team_id, t.name, t.color, t.total_score,
       COALESCE(array_agg(m.member_id) FILTER (WHERE m.member_id IS NOT NULL), '{}')
FROM teams t
LEFT JOIN team_members m ON m.team_id = t.team_id
WHERE t.team_id = $1
GROUP BY t.team_id;`

	var t domain.Team
	err := s.db.QueryRow(ctx, stmt, teamID).
		Scan(&t.TeamID, &t.Name, &t.Color, &t.TotalScore, &t.Members)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Team{}, errors.NotFound("team not found: %s", teamID)
	}
	if err != nil {
		return domain.Team{}, fmt.Errorf("get team: %w", err)
	}

	return t, nil
}

func (s *Store) TeamIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT team_id FROM teams ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list team ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list team ids: %w", err)
	}

	return ids, nil
}

func (s *Store) InsertSubmission(ctx context.Context, sub domain.Submission) error {
	const stmt = `
INSERT INTO submissions (submission_id, team_id, challenge_id, member_id, answer, correct, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := s.db.Exec(ctx, stmt,
		sub.SubmissionID, sub.TeamID, sub.ChallengeID, sub.MemberID, sub.Answer, sub.Correct, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	return nil
}

// CreditSolve atomically credits a correct submission to the team. Exactly
// one concurrent caller per (team, challenge) gets credited=true; the rest
// lose the unique-constraint race and get false without an error.
func (s *Store) CreditSolve(ctx context.Context, solve domain.Solve) (bool, error) {
	const stmt = `
INSERT INTO solves (solve_id, team_id, challenge_id, category_id, member_id, submission_id, points, solved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := s.db.Exec(ctx, stmt,
		solve.SolveID, solve.TeamID, solve.ChallengeID, solve.CategoryID,
		solve.MemberID, solve.SubmissionID, solve.Points, solve.SolvedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credit solve: %w", err)
	}

	return true, nil
}

func (s *Store) SolveFor(ctx context.Context, teamID, challengeID string) (domain.Solve, error) {
	const stmt = `
SELECT solve_id, team_id, challenge_id, category_id, member_id, submission_id, points, solved_at
FROM solves WHERE team_id = $1 AND challenge_id = $2;`

	var sv domain.Solve
	err := s.db.QueryRow(ctx, stmt, teamID, challengeID).
		Scan(&sv.SolveID, &sv.TeamID, &sv.ChallengeID, &sv.CategoryID,
			&sv.MemberID, &sv.SubmissionID, &sv.Points, &sv.SolvedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Solve{}, errors.NotFound("no solve for team=%s challenge=%s", teamID, challengeID)
	}
	if err != nil {
		return domain.Solve{}, fmt.Errorf("get solve: %w", err)
	}

	return sv, nil
}

// InsertFirstBlood is the first-blood claim: a single atomic insert keyed
// by the challenge's unique constraint. Losing claimants get (false, nil).
func (s *Store) InsertFirstBlood(ctx context.Context, fb domain.FirstBlood) (bool, error) {
	const stmt = `
INSERT INTO first_bloods (first_blood_id, challenge_id, team_id, member_id, bonus_points, achieved_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt,
		fb.FirstBloodID, fb.ChallengeID, fb.TeamID, fb.MemberID, fb.BonusPoints, fb.AchievedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert first blood: %w", err)
	}

	return true, nil
}

// InsertAchievement credits a (code, owner) pair at most once; concurrent
// evaluations of the same owner race on the partial unique indexes.
func (s *Store) InsertAchievement(ctx context.Context, a domain.Achievement) (bool, error) {
	const stmt = `
INSERT INTO achievements (achievement_id, code, kind, team_id, member_id, earned_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6);`

	_, err := s.db.Exec(ctx, stmt,
		a.AchievementID, a.Code, string(a.Kind), a.TeamID, a.MemberID, a.EarnedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}

	return true, nil
}

func (s *Store) AchievementCodes(ctx context.Context, kind domain.AchievementKind, teamID, memberID string) ([]string, error) {
	const stmt = `
SELECT code FROM achievements
WHERE kind = $1 AND team_id = $2 AND ($3 = '' OR member_id = $3);`

	rows, err := s.db.Query(ctx, stmt, string(kind), teamID, memberID)
	if err != nil {
		return nil, fmt.Errorf("achievement codes: %w", err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("achievement codes: %w", err)
	}

	return codes, nil
}

func (s *Store) AchievementsByOwner(ctx context.Context, kind domain.AchievementKind, teamID, memberID string) ([]domain.Achievement, error) {
	const stmt = `
SELECT achievement_id, code, kind, team_id, COALESCE(member_id, ''), earned_at
FROM achievements
WHERE kind = $1 AND team_id = $2 AND ($3 = '' OR member_id = $3)
ORDER BY earned_at;`

	rows, err := s.db.Query(ctx, stmt, string(kind), teamID, memberID)
	if err != nil {
		return nil, fmt.Errorf("achievements by owner: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Achievement, error) {
		var a domain.Achievement
		err := r.Scan(&a.AchievementID, &a.Code, &a.Kind, &a.TeamID, &a.MemberID, &a.EarnedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("achievements by owner: %w", err)
	}

	return list, nil
}

// TeamScoreParts reads the two sums a team's score derives from in one
// consistent snapshot.
func (s *Store) TeamScoreParts(ctx context.Context, teamID string) (solvePoints, bonusPoints int, err error) {
	const stmt = `
SELECT
    COALESCE((SELECT SUM(points) FROM solves WHERE team_id = $1), 0),
    COALESCE((SELECT SUM(bonus_points) FROM first_bloods WHERE team_id = $1), 0);`

	if err := s.db.QueryRow(ctx, stmt, teamID).Scan(&solvePoints, &bonusPoints); err != nil {
		return 0, 0, fmt.Errorf("team score parts: %w", err)
	}

	return solvePoints, bonusPoints, nil
}

func (s *Store) SetTeamScore(ctx context.Context, teamID string, total int) error {
	tag, err := s.db.Exec(ctx, `UPDATE teams SET total_score = $2 WHERE team_id = $1;`, teamID, total)
	if err != nil {
		return fmt.Errorf("set team score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("team not found: %s", teamID)
	}

	return nil
}

func (s *Store) SubmissionsByTeam(ctx context.Context, teamID string) ([]domain.Submission, error) {
	const stmt = `
SELECT submission_id, team_id, challenge_id, member_id, answer, correct, submitted_at
FROM submissions WHERE team_id = $1 ORDER BY submitted_at;`

	return s.collectSubmissions(ctx, stmt, teamID)
}

func (s *Store) SubmissionsByMember(ctx context.Context, teamID, memberID string) ([]domain.Submission, error) {
	const stmt = `
SELECT submission_id, team_id, challenge_id, member_id, answer, correct, submitted_at
FROM submissions WHERE team_id = $1 AND member_id = $2 ORDER BY submitted_at;`

	return s.collectSubmissions(ctx, stmt, teamID, memberID)
}

func (s *Store) collectSubmissions(ctx context.Context, stmt string, args ...any) ([]domain.Submission, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	return subs, nil
}

func scanSubmission(r pgx.CollectableRow) (domain.Submission, error) {
	var sub domain.Submission
	err := r.Scan(&sub.SubmissionID, &sub.TeamID, &sub.ChallengeID, &sub.MemberID,
		&sub.Answer, &sub.Correct, &sub.SubmittedAt)
	return sub, err
}

func (s *Store) SolvesByTeam(ctx context.Context, teamID string) ([]domain.Solve, error) {
	const stmt = `
SELECT solve_id, team_id, challenge_id, category_id, member_id, submission_id, points, solved_at
FROM solves WHERE team_id = $1 ORDER BY solved_at;`

	return s.collectSolves(ctx, stmt, teamID)
}

func (s *Store) SolvesByMember(ctx context.Context, teamID, memberID string) ([]domain.Solve, error) {
	const stmt = `
SELECT solve_id, team_id, challenge_id, category_id, member_id, submission_id, points, solved_at
FROM solves WHERE team_id = $1 AND member_id = $2 ORDER BY solved_at;`

	return s.collectSolves(ctx, stmt, teamID, memberID)
}

func (s *Store) collectSolves(ctx context.Context, stmt string, args ...any) ([]domain.Solve, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list solves: %w", err)
	}

	solves, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Solve, error) {
		var sv domain.Solve
		err := r.Scan(&sv.SolveID, &sv.TeamID, &sv.ChallengeID, &sv.CategoryID,
			&sv.MemberID, &sv.SubmissionID, &sv.Points, &sv.SolvedAt)
		return sv, err
	})
	if err != nil {
		return nil, fmt.Errorf("list solves: %w", err)
	}

	return solves, nil
}

func (s *Store) FirstBloodsByTeam(ctx context.Context, teamID string) ([]domain.FirstBlood, error) {
	const stmt = `
SELECT first_blood_id, challenge_id, team_id, member_id, bonus_points, achieved_at
FROM first_bloods WHERE team_id = $1 ORDER BY achieved_at;`

	return s.collectFirstBloods(ctx, stmt, teamID)
}

func (s *Store) FirstBloodsByMember(ctx context.Context, teamID, memberID string) ([]domain.FirstBlood, error) {
	const stmt = `
SELECT first_blood_id, challenge_id, team_id, member_id, bonus_points, achieved_at
FROM first_bloods WHERE team_id = $1 AND member_id = $2 ORDER BY achieved_at;`

	return s.collectFirstBloods(ctx, stmt, teamID, memberID)
}

func (s *Store) collectFirstBloods(ctx context.Context, stmt string, args ...any) ([]domain.FirstBlood, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list first bloods: %w", err)
	}

	fbs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.FirstBlood, error) {
		var fb domain.FirstBlood
		err := r.Scan(&fb.FirstBloodID, &fb.ChallengeID, &fb.TeamID, &fb.MemberID,
			&fb.BonusPoints, &fb.AchievedAt)
		return fb, err
	})
	if err != nil {
		return nil, fmt.Errorf("list first bloods: %w", err)
	}

	return fbs, nil
}

// ChallengeStats counts active challenges and the categories they span,
// the denominators for the coverage achievement rules.
func (s *Store) ChallengeStats(ctx context.Context) (challenges, categories int, err error) {
	const stmt = `
SELECT COUNT(*), COUNT(DISTINCT category_id) FROM challenges WHERE active;`

	if err := s.db.QueryRow(ctx, stmt).Scan(&challenges, &categories); err != nil {
		return 0, 0, fmt.Errorf("challenge stats: %w", err)
	}

	return challenges, categories, nil
}

// ScoreboardRows builds the full point-in-time scoreboard snapshot, ranked
// by score descending then name.
func (s *Store) ScoreboardRows(ctx context.Context) ([]domain.ScoreboardRow, error) {
	const stmt = `
SELECT t.team_id, t.name, t.color, t.total_score,
       (SELECT COUNT(*) FROM solves sv WHERE sv.team_id = t.team_id),
       (SELECT COUNT(*) FROM first_bloods fb WHERE fb.team_id = t.team_id)
FROM teams t
ORDER BY t.total_score DESC, t.name;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("scoreboard: %w", err)
	}

	board, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoreboardRow, error) {
		var row domain.ScoreboardRow
		err := r.Scan(&row.TeamID, &row.Name, &row.Color, &row.Score, &row.Solved, &row.FirstBloods)
		return row, err
	})
	if err != nil {
		return nil, fmt.Errorf("scoreboard: %w", err)
	}

	for i := range board {
		board[i].Rank = i + 1
	}

	return board, nil
}

// ListSubmissions serves the audit listing with optional filters.
func (s *Store) ListSubmissions(ctx context.Context, f domain.SubmissionFilter) ([]domain.Submission, error) {
	q := sq.Select("submission_id", "team_id", "challenge_id", "member_id", "answer", "correct", "submitted_at").
		From("submissions").
		OrderBy("submitted_at DESC").
		PlaceholderFormat(sq.Dollar)

	if f.TeamID != "" {
		q = q.Where(sq.Eq{"team_id": f.TeamID})
	}
	if f.ChallengeID != "" {
		q = q.Where(sq.Eq{"challenge_id": f.ChallengeID})
	}
	if f.Correct != nil {
		q = q.Where(sq.Eq{"correct": *f.Correct})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build submissions query: %w", err)
	}

	return s.collectSubmissions(ctx, stmt, args...)
}
