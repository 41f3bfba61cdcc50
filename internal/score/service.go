package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/event"
)

const codeUniqueViolation = "23505"

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

// Service persists answer records and the cumulative scoreboard, and grades
// closed sessions against the authoritative correct-answer set.
type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		eb: c.EventBus,
		db: c.DB,
	}
}

// Grade splits a closed session's responses into exact-set matches and
// everything else, preserving arrival order. It is a pure function; the
// scoreboard side effect lives in Award.
func Grade(cs domain.ClosedSession) domain.Summary {
	summary := domain.Summary{
		SessionID:      cs.SessionID,
		ChannelID:      cs.ChannelID,
		QuestionID:     cs.Question.ID,
		QuestionNumber: cs.Number,
		CorrectAnswers: cs.Question.CorrectAnswers,
	}

	for _, r := range cs.Responses {
		p := domain.Participant{UserID: r.UserID, Username: r.Username}
		if EqualSets(r.Selected, cs.Question.CorrectAnswers) {
			summary.Correct = append(summary.Correct, p)
		} else {
			summary.Incorrect = append(summary.Incorrect, p)
		}
	}

	summary.CorrectCount = len(summary.Correct)
	summary.IncorrectCount = len(summary.Incorrect)
	return summary
}

// EqualSets compares two answer selections as sets: order is irrelevant,
// extra or missing elements both disqualify.
func EqualSets(got, want []string) bool {
	if len(got) == 0 {
		return false
	}

	seen := make(map[string]struct{}, len(got))
	for _, g := range got {
		seen[g] = struct{}{}
	}
	if len(seen) != len(want) {
		return false
	}
	for _, w := range want {
		if _, ok := seen[w]; !ok {
			return false
		}
	}
	return true
}

type SaveAnswerRequest struct {
	UserID     string
	Username   string
	QuestionID int64
	Selected   []string
	SubmitTime time.Time
}

// SaveAnswer records a user's submission for a question. The store's
// UNIQUE (user_id, question_id) constraint is the backstop for the
// one-answer-per-day rule; a violation surfaces as CodeAlreadyExists.
func (s *Service) SaveAnswer(ctx context.Context, req SaveAnswerRequest) error {
	const stmt = `
INSERT INTO user_answers (user_id, username, question_id, selected, submitted_at)
VALUES ($1, $2, $3, $4, $5);`

	_, err := s.db.Exec(ctx, stmt, req.UserID, req.Username, req.QuestionID, req.Selected, req.SubmitTime)
	return convertAnswerConflict(err, req.UserID, req.QuestionID)
}

func convertAnswerConflict(err error, userID string, questionID int64) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already recorded: user=%s question=%d", userID, questionID),
			errors.WithCause(err))
	}
	return err
}

// HasAnswered reports whether the user already has a persisted answer for the
// question active on the given day. Used as the pre-check before a question
// prompt is even shown (the save-time constraint stays as the backstop).
func (s *Service) HasAnswered(ctx context.Context, userID, day string) (bool, error) {
	const stmt = `
SELECT EXISTS (
	SELECT 1
	FROM user_answers ua
	JOIN questions q ON q.id = ua.question_id
	WHERE ua.user_id = $1 AND q.day = $2
);`

	var answered bool
	if err := s.db.QueryRow(ctx, stmt, userID, day).Scan(&answered); err != nil {
		return false, err
	}

	return answered, nil
}

// Award applies the per-correct-user score delta for a graded session and
// publishes a score.updated event per touched user. The caller guarantees
// at-most-once invocation per session (idempotent close); each increment is a
// single atomic upsert, and a failing user never blocks the users after them.
func (s *Service) Award(ctx context.Context, summary domain.Summary, delta decimal.Decimal) error {
	now := time.Now()

	var errs []error
	for _, p := range summary.Correct {
		total, err := s.incrementScore(ctx, p.UserID, p.Username, delta, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("award user %s: %w", p.UserID, err))
			continue
		}

		s.eb.Publish(ctx, domain.EventScoreUpdated{
			Entry: domain.ScoreboardEntry{
				UserID:     p.UserID,
				Username:   p.Username,
				Score:      total,
				UpdateTime: now,
			},
		})
	}

	if len(errs) > 0 {
		return errors.Internal(stderrors.Join(errs...))
	}
	return nil
}

func (s *Service) incrementScore(ctx context.Context, userID, username string, delta decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	const stmt = `
INSERT INTO scoreboard (user_id, username, score, update_time)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET score = scoreboard.score + EXCLUDED.score,
    username = EXCLUDED.username,
    update_time = EXCLUDED.update_time
RETURNING score;`

	var total decimal.Decimal
	if err := s.db.QueryRow(ctx, stmt, userID, username, delta, now).Scan(&total); err != nil {
		return decimal.Zero, err
	}

	return total, nil
}

type ListTopScoresRequest struct {
	Limit int
}

// ListTopScores returns up to Limit scoreboard entries, descending by score.
// This is the authoritative store-backed view; the leaderboard service keeps
// a Redis projection of the same data for cheap reads and push updates.
func (s *Service) ListTopScores(ctx context.Context, req ListTopScoresRequest) ([]domain.ScoreboardEntry, error) {
	const stmt = `
SELECT user_id, username, score, update_time
FROM scoreboard
ORDER BY score DESC
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, req.Limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoreboardEntry, error) {
		var e domain.ScoreboardEntry
		if err := r.Scan(&e.UserID, &e.Username, &e.Score, &e.UpdateTime); err != nil {
			return domain.ScoreboardEntry{}, err
		}
		return e, nil
	})
}
