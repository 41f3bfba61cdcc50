package question

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/hoangnm/dailyquiz/internal/errors"
)

func TestConvertDayConflict(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "questions_day_key"}

	err := convertDayConflict(unique, "2026-08-28")
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists),
		"a second question on the same day must surface as a conflict, got %v", err)

	// Driver errors often arrive wrapped.
	err = convertDayConflict(fmt.Errorf("exec insert: %w", unique), "2026-08-28")
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)

	// Any other store failure passes through unchanged.
	fk := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, error(fk), convertDayConflict(fk, "2026-08-28"))
	assert.NoError(t, convertDayConflict(nil, "2026-08-28"))
}
