package question

import (
	"context"
	stderrors "errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
)

const codeUniqueViolation = "23505"

type Config struct {
	DB *pgxpool.Pool
}

// Service owns the question bank: admin CRUD plus the daily lookup the
// collector uses. The `questions.day` column carries a UNIQUE constraint, so
// one question per calendar day is enforced by the store, not by string
// matching errors.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// Validate rejects malformed questions before any store mutation.
func Validate(q domain.Question) error {
	if q.Text == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question text must not be empty"))
	}
	if len(q.Answers) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("answers must not be empty"))
	}
	if len(q.CorrectAnswers) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("correct_answers must not be empty"))
	}
	for _, c := range q.CorrectAnswers {
		if !slices.Contains(q.Answers, c) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("correct answer %q is not one of the answers", c))
		}
	}
	if _, err := time.Parse(domain.DayFormat, q.Day); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("day must be formatted as %s", domain.DayFormat),
			errors.WithCause(err))
	}
	return nil
}

// Create inserts a question and returns it with the store-assigned ID.
func (s *Service) Create(ctx context.Context, q domain.Question) (*domain.Question, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}

	const stmt = `
INSERT INTO questions (question_text, answers, correct_answers, day)
VALUES ($1, $2, $3, $4)
RETURNING id;`

	err := s.db.QueryRow(ctx, stmt, q.Text, q.Answers, q.CorrectAnswers, q.Day).Scan(&q.ID)
	if err != nil {
		return nil, convertDayConflict(err, q.Day)
	}

	return &q, nil
}

// Get returns the question with the given ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Question, error) {
	const stmt = `
SELECT id, question_text, answers, correct_answers, to_char(day, 'YYYY-MM-DD')
FROM questions
WHERE id = $1;`

	q, err := scanQuestion(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return q, nil
}

// List returns all questions, most recent day first.
func (s *Service) List(ctx context.Context) ([]domain.Question, error) {
	const stmt = `
SELECT id, question_text, answers, correct_answers, to_char(day, 'YYYY-MM-DD')
FROM questions
ORDER BY day DESC;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		q, err := scanQuestion(r)
		if err != nil {
			return domain.Question{}, err
		}
		return *q, nil
	})
}

// Update replaces every mutable field of the question.
func (s *Service) Update(ctx context.Context, q domain.Question) (*domain.Question, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}

	const stmt = `
UPDATE questions
SET question_text = $2, answers = $3, correct_answers = $4, day = $5
WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, q.ID, q.Text, q.Answers, q.CorrectAnswers, q.Day)
	if err != nil {
		return nil, convertDayConflict(err, q.Day)
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: id=%d", q.ID))
	}

	return &q, nil
}

// Delete removes the question with the given ID.
func (s *Service) Delete(ctx context.Context, id int64) error {
	const stmt = `DELETE FROM questions WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: id=%d", id))
	}

	return nil
}

// FindForDay returns the question active on the given day, or CodeNotFound
// when no question is scheduled.
func (s *Service) FindForDay(ctx context.Context, day string) (*domain.Question, error) {
	const stmt = `
SELECT id, question_text, answers, correct_answers, to_char(day, 'YYYY-MM-DD')
FROM questions
WHERE day = $1;`

	q, err := scanQuestion(s.db.QueryRow(ctx, stmt, day))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no question scheduled for %s", day))
	}
	if err != nil {
		return nil, err
	}

	return q, nil
}

func scanQuestion(r pgx.Row) (*domain.Question, error) {
	var q domain.Question
	if err := r.Scan(&q.ID, &q.Text, &q.Answers, &q.CorrectAnswers, &q.Day); err != nil {
		return nil, err
	}
	return &q, nil
}

func convertDayConflict(err error, day string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("a question already exists for day %s", day),
			errors.WithCause(err))
	}
	return err
}
