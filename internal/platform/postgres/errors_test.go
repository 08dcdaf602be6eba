package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code, constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "entries",
		ColumnName:     "test_column",
		ConstraintName: constraint,
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"entry number taken", newPgError(uniqueViolationCode, entryNumberConstraint), domain.ErrDuplicateEntryNumber},
		{"medication exists", newPgError(uniqueViolationCode, medicationSourceConstraint), store.ErrMedicationExists},
		{"other unique", newPgError(uniqueViolationCode, uploadOrderConstraint), store.ErrDuplicate},
		{"foreign key", newPgError(foreignKeyViolationCode, "fk"), store.ErrInvalidEntity},
		{"check", newPgError(checkViolationCode, "entries_approved_requires_complete"), store.ErrInvalidEntity},
		{"not null", newPgError(notNullViolationCode, ""), store.ErrInvalidEntity},
		{"wrapped unique", fmt.Errorf("insert: %w", newPgError(uniqueViolationCode, entryNumberConstraint)), store.ErrEntryNumberExists},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, MapError(tc.err), tc.target)
		})
	}

	assert.NoError(t, MapError(nil))
	plain := errors.New("boom")
	assert.Equal(t, plain, MapError(plain))
}

func TestViolationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(newPgError(uniqueViolationCode, "")))
	assert.False(t, IsUniqueViolation(errors.New("x")))
	assert.True(t, IsForeignKeyViolation(fmt.Errorf("w: %w", newPgError(foreignKeyViolationCode, ""))))
}

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckRowsAffected(fakeResult{rows: 1}, store.ErrEntryNotFound))
	assert.ErrorIs(t, CheckRowsAffected(fakeResult{}, store.ErrEntryNotFound), store.ErrEntryNotFound)
	assert.Error(t, CheckRowsAffected(fakeResult{err: errors.New("driver")}, store.ErrEntryNotFound))
	assert.Error(t, CheckRowsAffected(nil, store.ErrEntryNotFound))
}
