package question_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/question"
)

func TestValidate(t *testing.T) {
	valid := domain.Question{
		Text:           "What is the capital of France?",
		Answers:        []string{"Paris", "London", "Berlin"},
		CorrectAnswers: []string{"Paris"},
		Day:            "2026-08-28",
	}

	tests := map[string]struct {
		mutate  func(q *domain.Question)
		wantErr bool
	}{
		"valid single choice": {
			mutate: func(q *domain.Question) {},
		},
		"valid multi choice": {
			mutate: func(q *domain.Question) {
				q.CorrectAnswers = []string{"Paris", "London"}
			},
		},
		"empty text": {
			mutate:  func(q *domain.Question) { q.Text = "" },
			wantErr: true,
		},
		"empty answers": {
			mutate:  func(q *domain.Question) { q.Answers = nil },
			wantErr: true,
		},
		"empty correct answers": {
			mutate:  func(q *domain.Question) { q.CorrectAnswers = nil },
			wantErr: true,
		},
		"correct answer not among answers": {
			mutate:  func(q *domain.Question) { q.CorrectAnswers = []string{"Madrid"} },
			wantErr: true,
		},
		"malformed day": {
			mutate:  func(q *domain.Question) { q.Day = "28/08/2026" },
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)

			err := question.Validate(q)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
