package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markerError struct{}

func (markerError) Error() string { return "marker" }

func TestWithinTx(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE users SET options`).
			WithArgs(int64(4), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = WithinTx(context.Background(), db, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(context.Background(), `UPDATE users SET options = options | $1 WHERE id = $2`, int64(4), int64(1))
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns fn error unchanged", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithinTx(context.Background(), db, func(tx *sql.Tx) error {
			return markerError{}
		})
		// Typed errors must survive the transaction boundary untouched.
		var marker markerError
		require.True(t, errors.As(err, &marker))
		assert.False(t, errors.Is(err, ErrTxFailure))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin error wraps ErrTxFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin().WillReturnError(fmt.Errorf("connection lost"))

		err = WithinTx(context.Background(), db, func(tx *sql.Tx) error { return nil })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTxFailure))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit error wraps ErrTxFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(fmt.Errorf("deadlock detected"))

		err = WithinTx(context.Background(), db, func(tx *sql.Tx) error { return nil })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTxFailure))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert failed: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain error")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	seen := make(map[int]bool)
	last := 0
	for _, m := range migrations {
		assert.Greater(t, m.Version, last, "versions must be strictly ascending")
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
		seen[m.Version] = true
		last = m.Version
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS authgraph_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"version"})
	for _, m := range GetMigrations() {
		rows.AddRow(m.Version)
	}
	mock.ExpectQuery(`SELECT version FROM authgraph_migrations`).WillReturnRows(rows)

	// Everything is applied already; no further statements expected.
	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateLiveDatabase(t *testing.T) {
	db := RequireDatabase(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))

	// Running again must be a no-op.
	require.NoError(t, Migrate(ctx, db))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM authgraph_migrations`).Scan(&applied))
	assert.Equal(t, len(GetMigrations()), applied)
}
