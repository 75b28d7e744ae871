package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockGuard(t *testing.T) (*Guard, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return New(db), mock, db
}

func TestAssertMutableRole(t *testing.T) {
	g, mock, db := newMockGuard(t)
	defer db.Close()

	t.Run("mutable", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM roles WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(int64(0)))

		err := g.AssertMutableRole(context.Background(), 1, "ADMIN")
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("internal role is protected", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM roles WHERE id = \$1`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(OptionInternal))

		err := g.AssertMutableRole(context.Background(), 2, "SKYLINE.ADMIN")
		require.Error(t, err)

		var protected *ProtectedEntityError
		require.True(t, errors.As(err, &protected))
		assert.Equal(t, KindRole, protected.Kind)
		assert.Equal(t, "role SKYLINE.ADMIN is internal and can not be changed", err.Error())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("final but not internal is mutable", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM roles WHERE id = \$1`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(OptionFinal))

		err := g.AssertMutableRole(context.Background(), 3, "LEAF")
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing role", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM roles WHERE id = \$1`).
			WithArgs(int64(4)).
			WillReturnError(sql.ErrNoRows)

		err := g.AssertMutableRole(context.Background(), 4, "GHOST")
		var notFound *NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "GHOST", notFound.Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM roles WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnError(fmt.Errorf("database connection error"))

		err := g.AssertMutableRole(context.Background(), 5, "ADMIN")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read role options")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAssertMutableGroupAndUser(t *testing.T) {
	g, mock, db := newMockGuard(t)
	defer db.Close()

	t.Run("internal group", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM groups WHERE id = \$1`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(OptionInternal))

		err := g.AssertMutableGroup(context.Background(), 7, "Editors")
		var protected *ProtectedEntityError
		require.True(t, errors.As(err, &protected))
		assert.Equal(t, KindGroup, protected.Kind)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mutable user", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM users WHERE id = \$1`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(int64(4)))

		require.NoError(t, g.AssertMutableUser(context.Background(), 9, "alice"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("internal user by username", func(t *testing.T) {
		mock.ExpectQuery(`SELECT options FROM users WHERE username = \$1`).
			WithArgs("root").
			WillReturnRows(sqlmock.NewRows([]string{"options"}).AddRow(OptionInternal))

		err := g.AssertMutableUsername(context.Background(), "root")
		var protected *ProtectedEntityError
		require.True(t, errors.As(err, &protected))
		assert.Equal(t, KindUser, protected.Kind)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAssertCanAcceptChild(t *testing.T) {
	t.Run("plain parent accepts children", func(t *testing.T) {
		require.NoError(t, AssertCanAcceptChild(0, "SKYLINE"))
	})

	t.Run("internal parent accepts children", func(t *testing.T) {
		require.NoError(t, AssertCanAcceptChild(OptionInternal, "SKYLINE"))
	})

	t.Run("final parent refuses children", func(t *testing.T) {
		err := AssertCanAcceptChild(OptionFinal, "SKYLINE.LEAF")
		var final *FinalRoleError
		require.True(t, errors.As(err, &final))
		assert.Equal(t, "SKYLINE.LEAF", final.Path)
		assert.Equal(t, "role SKYLINE.LEAF is final", err.Error())
	})
}
