package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, attributes, signals, preferences, version, created_at, updated_at FROM profiles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, attributes, signals, preferences, version, created_at, updated_at FROM profiles`).
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "attributes", "signals", "preferences", "version", "created_at", "updated_at"},
		).AddRow("p-1", `{"religion":"Hindu"}`, `{}`, `{}`, int64(3), now, now))

	p, err := s.GetProfile(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Hindu", p.Attributes["religion"])
	assert.EqualValues(t, 3, p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveProfile_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE profiles SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "p-1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM profiles WHERE id = \$1`).
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"1"}).AddRow(1))

	p := model.NewProfile("p-1", time.Now().UTC())
	p.Version = 2
	err := s.SaveProfile(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE profiles SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost", int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM profiles WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := s.SaveProfile(context.Background(), model.NewProfile("ghost", time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveProfile_BumpsVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE profiles SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "p-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := model.NewProfile("p-1", time.Now().UTC())
	p.Version = 1
	require.NoError(t, s.SaveProfile(context.Background(), p))
	assert.EqualValues(t, 2, p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveTierProgress_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tier_progress .+ ON CONFLICT`).
		WithArgs("p-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tp := model.NewTierProgress("p-1")
	tp.TotalPct = 45
	require.NoError(t, s.SaveTierProgress(context.Background(), tp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TouchSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO sessions .+ ON CONFLICT .+ DO NOTHING`).
		WithArgs("p-1", "sess-a", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions WHERE profile_id = \$1`).
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.TouchSession(context.Background(), "p-1", "sess-a", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIntakeState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state FROM intake_states WHERE profile_id = \$1`).
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).
			AddRow([]byte(`{"profile_id":"p-1","phase":"identity","screen_index":2}`)))

	st, err := s.GetIntakeState(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdentity, st.Phase)
	assert.Equal(t, 2, st.ScreenIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}
