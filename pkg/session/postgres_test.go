package session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/messaged/pkg/clients/postgres"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

func newPostgresRegistry(t *testing.T) (*PostgresRegistry, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresRegistry(postgres.NewFromPool(mock, &postgres.Config{Database: "messaged"})), mock
}

func sessionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"session_id", "auth_time"})
}

func TestPostgresRegistry_EnsureSchema(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	mock.ExpectExec(regexp.QuoteMeta(createTableSQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, reg.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_Register_Stored(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta(registerSQL)).
		WithArgs("u", "s-1", t0).
		WillReturnRows(sessionRows().AddRow("s-1", t0))

	got, err := reg.Register(context.Background(), Record{Subject: "u", SessionID: "s-1", AuthTime: t0})
	require.NoError(t, err)
	assert.Equal(t, Record{Subject: "u", SessionID: "s-1", AuthTime: t0}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_Register_NewerExists(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	newer := t0.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(registerSQL)).
		WithArgs("u", "s-1", t0).
		WillReturnRows(sessionRows())
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).
		WithArgs("u").
		WillReturnRows(sessionRows().AddRow("s-2", newer))

	got, err := reg.Register(context.Background(), Record{Subject: "u", SessionID: "s-1", AuthTime: t0})
	require.NoError(t, err)
	assert.Equal(t, "s-2", got.SessionID)
	assert.Equal(t, newer, got.AuthTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_Register_RowVanished(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)

	mock.ExpectQuery(regexp.QuoteMeta(registerSQL)).WillReturnRows(sessionRows())
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WillReturnRows(sessionRows())
	mock.ExpectQuery(regexp.QuoteMeta(registerSQL)).WillReturnRows(sessionRows().AddRow("s-1", t0))

	got, err := reg.Register(context.Background(), Record{Subject: "u", SessionID: "s-1", AuthTime: t0})
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_Register_Error(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta(registerSQL)).WillReturnError(errors.New("relation does not exist"))

	_, err := reg.Register(context.Background(), Record{Subject: "u", SessionID: "s-1", AuthTime: t0})
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
}

func TestPostgresRegistry_Current(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("missing").WillReturnRows(sessionRows())

	_, ok, err := reg.Current(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresRegistry_RemoveAndHealth(t *testing.T) {
	t.Parallel()
	reg, mock := newPostgresRegistry(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteSQL)).WithArgs("u").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectPing()

	require.NoError(t, reg.Remove(context.Background(), "u"))
	require.NoError(t, reg.Health(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
