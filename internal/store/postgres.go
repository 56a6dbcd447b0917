package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-engine/internal/model"
)

// Pool abstracts the pgx pool surface the store needs, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; tests use this with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	id          TEXT PRIMARY KEY,
	attributes  JSONB NOT NULL DEFAULT '{}',
	signals     JSONB NOT NULL DEFAULT '{}',
	preferences JSONB NOT NULL DEFAULT '{}',
	version     BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tier_progress (
	profile_id TEXT PRIMARY KEY REFERENCES profiles(id),
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS intake_states (
	profile_id TEXT PRIMARY KEY REFERENCES profiles(id),
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	profile_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (profile_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_profile ON sessions(profile_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, attributes, signals, preferences, version, created_at, updated_at FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %s", id)
	}
	return p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	attrs, sigs, prefs, err := marshalProfile(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (id, attributes, signals, preferences, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, attrs, sigs, prefs, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert profile %s", p.ID)
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	attrs, sigs, prefs, err := marshalProfile(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET attributes = $1, signals = $2, preferences = $3, version = version + 1, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		attrs, sigs, prefs, now, p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save profile %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM profiles WHERE id = $1`, p.ID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(model.ErrNotFound, "postgres: profile %s", p.ID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: save profile %s", p.ID)
		}
		return eris.Wrapf(model.ErrConflict, "postgres: profile %s at version %d", p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetTierProgress(ctx context.Context, profileID string) (*model.TierProgress, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM tier_progress WHERE profile_id = $1`, profileID).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: tier progress %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tier progress %s", profileID)
	}
	var tp model.TierProgress
	if err := json.Unmarshal(snapshot, &tp); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal tier progress")
	}
	return &tp, nil
}

func (s *PostgresStore) SaveTierProgress(ctx context.Context, tp *model.TierProgress) error {
	snapshot, err := json.Marshal(tp)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tier progress")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tier_progress (profile_id, snapshot, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (profile_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		tp.ProfileID, snapshot, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save tier progress %s", tp.ProfileID)
}

func (s *PostgresStore) GetIntakeState(ctx context.Context, profileID string) (*model.IntakeState, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM intake_states WHERE profile_id = $1`, profileID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: intake state %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get intake state %s", profileID)
	}
	var st model.IntakeState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal intake state")
	}
	return &st, nil
}

func (s *PostgresStore) SaveIntakeState(ctx context.Context, st *model.IntakeState) error {
	state, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal intake state")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO intake_states (profile_id, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (profile_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.ProfileID, state, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save intake state %s", st.ProfileID)
}

func (s *PostgresStore) TouchSession(ctx context.Context, profileID, sessionID string, now time.Time) (int, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (profile_id, session_id, started_at) VALUES ($1, $2, $3)
		 ON CONFLICT (profile_id, session_id) DO NOTHING`,
		profileID, sessionID, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: touch session %s", profileID)
	}
	var count int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE profile_id = $1`, profileID).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count sessions %s", profileID)
	}
	return count, nil
}
