package state

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS state")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewPostgresStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresGet(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"score":0.5}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM state WHERE key = $1")).
		WithArgs("scores/ops").
		WillReturnRows(rows)

	var got map[string]float64
	assert.True(t, s.Get(context.Background(), "scores/ops", &got))
	assert.Equal(t, 0.5, got["score"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM state WHERE key = $1")).
		WithArgs("scores/none").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	var got map[string]float64
	assert.False(t, s.Get(context.Background(), "scores/none", &got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.Set(context.Background(), "scores/ops", map[string]float64{"score": 0.6}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeletePrefix(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM state WHERE key LIKE $1")).
		WithArgs(`rewards/%`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeletePrefix(context.Background(), "rewards/")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
