package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnm/dailyquiz/internal/domain"
	"github.com/hoangnm/dailyquiz/internal/errors"
	"github.com/hoangnm/dailyquiz/internal/session"
)

func capitalQuestion() domain.Question {
	return domain.Question{
		ID:             1,
		Text:           "What is the capital of France?",
		Answers:        []string{"Paris", "London", "Berlin"},
		CorrectAnswers: []string{"Paris"},
		Day:            "2026-08-28",
	}
}

func TestRegistry_OpenConflict(t *testing.T) {
	r := session.NewRegistry()
	now := time.Now()

	first, err := r.Open("general", capitalQuestion(), now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Number())

	_, err = r.Open("general", capitalQuestion(), now, time.Minute)
	require.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "second open must conflict, got %v", err)

	// A different channel is independent.
	other, err := r.Open("random", capitalQuestion(), now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), other.Number(), "question numbers are a process-wide sequence")

	// Once closed, the channel is free again.
	first.Close(now)
	reopened, err := r.Open("general", capitalQuestion(), now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(3), reopened.Number())
}

func TestSession_CheckAndRecord(t *testing.T) {
	r := session.NewRegistry()
	now := time.Now()
	s, err := r.Open("general", capitalQuestion(), now, time.Minute)
	require.NoError(t, err)

	tests := map[string]struct {
		userID   string
		selected []string
		wantCode errors.Code
	}{
		"empty selection is invalid": {
			userID:   "u1",
			selected: nil,
			wantCode: errors.CodeInvalidArgument,
		},
		"unknown option is invalid": {
			userID:   "u1",
			selected: []string{"Madrid"},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := s.Check(tt.userID, tt.selected)
			assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
		})
	}

	// Valid answer records and reports exact-set correctness.
	require.NoError(t, s.Check("u1", []string{"Paris"}))
	correct, err := s.Record("u1", "Alice", []string{"Paris"}, now)
	require.NoError(t, err)
	assert.True(t, correct)

	// Repeat answer from the same user is rejected before mutation.
	err = s.Check("u1", []string{"Paris"})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)
	_, err = s.Record("u1", "Alice", []string{"Paris"}, now)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)

	// Extra selection disqualifies but still records.
	correct, err = s.Record("u2", "Bob", []string{"Paris", "London"}, now)
	require.NoError(t, err)
	assert.False(t, correct)
}

func TestSession_ClosedRejectsAnswers(t *testing.T) {
	r := session.NewRegistry()
	now := time.Now()
	s, err := r.Open("general", capitalQuestion(), now, time.Minute)
	require.NoError(t, err)

	s.Close(now)

	err = s.Check("u1", []string{"Paris"})
	assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition), "got %v", err)
	_, err = s.Record("u1", "Alice", []string{"Paris"}, now)
	assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition), "got %v", err)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	r := session.NewRegistry()
	opened := time.Now()
	s, err := r.Open("general", capitalQuestion(), opened, time.Minute)
	require.NoError(t, err)

	_, err = s.Record("u1", "Alice", []string{"Paris"}, opened)
	require.NoError(t, err)
	_, err = s.Record("u2", "Bob", []string{"London"}, opened.Add(time.Second))
	require.NoError(t, err)

	first, wasFirst := s.Close(opened.Add(time.Minute))
	require.True(t, wasFirst)

	// Responses keep arrival order.
	require.Len(t, first.Responses, 2)
	assert.Equal(t, "u1", first.Responses[0].UserID)
	assert.Equal(t, "u2", first.Responses[1].UserID)

	second, wasFirst := s.Close(opened.Add(2 * time.Minute))
	assert.False(t, wasFirst, "only the first closer runs side effects")
	assert.Equal(t, first, second, "every close observes the identical result")
}
