package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewService(db, bcrypt.MinCost), mock, db
}

func TestNewServiceCostFallback(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DefaultCost, NewService(db, 0).cost)
	assert.Equal(t, DefaultCost, NewService(db, 99).cost)
	assert.Equal(t, bcrypt.MinCost, NewService(db, bcrypt.MinCost).cost)
}

func TestInstallPassword(t *testing.T) {
	svc, mock, db := newMockService(t)
	defer db.Close()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET credential = \$1 WHERE username = \$2`).
			WithArgs(sqlmock.AnyArg(), "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.InstallPassword(context.Background(), "alice", "s3cret"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty credential is rejected", func(t *testing.T) {
		err := svc.InstallPassword(context.Background(), "alice", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty credential")
	})

	t.Run("unknown username is an error", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET credential`).
			WithArgs(sqlmock.AnyArg(), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := svc.InstallPassword(context.Background(), "ghost", "pw")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such user")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update failure", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET credential`).
			WithArgs(sqlmock.AnyArg(), "alice").
			WillReturnError(fmt.Errorf("database connection error"))

		err := svc.InstallPassword(context.Background(), "alice", "pw")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to store credential")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVerify(t *testing.T) {
	svc, mock, db := newMockService(t)
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("matching credential", func(t *testing.T) {
		mock.ExpectQuery(`SELECT credential FROM users WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"credential"}).AddRow(string(hash)))

		ok, err := svc.Verify(context.Background(), "alice", "s3cret")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong credential", func(t *testing.T) {
		mock.ExpectQuery(`SELECT credential FROM users WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"credential"}).AddRow(string(hash)))

		ok, err := svc.Verify(context.Background(), "alice", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sentinel credential never verifies", func(t *testing.T) {
		mock.ExpectQuery(`SELECT credential FROM users WHERE username = \$1`).
			WithArgs("fresh").
			WillReturnRows(sqlmock.NewRows([]string{"credential"}).AddRow("#"))

		ok, err := svc.Verify(context.Background(), "fresh", "#")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery(`SELECT credential FROM users WHERE username = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		ok, err := svc.Verify(context.Background(), "ghost", "pw")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
