package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/profile-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	id          TEXT PRIMARY KEY,
	attributes  TEXT NOT NULL DEFAULT '{}',
	signals     TEXT NOT NULL DEFAULT '{}',
	preferences TEXT NOT NULL DEFAULT '{}',
	version     INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tier_progress (
	profile_id TEXT PRIMARY KEY REFERENCES profiles(id),
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS intake_states (
	profile_id TEXT PRIMARY KEY REFERENCES profiles(id),
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	profile_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	PRIMARY KEY (profile_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_profile ON sessions(profile_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, attributes, signals, preferences, version, created_at, updated_at FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	attrs, sigs, prefs, err := marshalProfile(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, attributes, signals, preferences, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, attrs, sigs, prefs, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert profile %s", p.ID)
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	attrs, sigs, prefs, err := marshalProfile(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET attributes = ?, signals = ?, preferences = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		attrs, sigs, prefs, now, p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save profile %s", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, p.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return eris.Wrapf(model.ErrNotFound, "sqlite: profile %s", p.ID)
			}
			return eris.Wrapf(err, "sqlite: save profile %s", p.ID)
		}
		return eris.Wrapf(model.ErrConflict, "sqlite: profile %s at version %d", p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetTierProgress(ctx context.Context, profileID string) (*model.TierProgress, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM tier_progress WHERE profile_id = ?`, profileID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: tier progress %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tier progress %s", profileID)
	}
	var tp model.TierProgress
	if err := json.Unmarshal([]byte(snapshot), &tp); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tier progress")
	}
	return &tp, nil
}

func (s *SQLiteStore) SaveTierProgress(ctx context.Context, tp *model.TierProgress) error {
	snapshot, err := json.Marshal(tp)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tier progress")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tier_progress (profile_id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		tp.ProfileID, string(snapshot), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save tier progress %s", tp.ProfileID)
}

func (s *SQLiteStore) GetIntakeState(ctx context.Context, profileID string) (*model.IntakeState, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM intake_states WHERE profile_id = ?`, profileID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: intake state %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get intake state %s", profileID)
	}
	var st model.IntakeState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal intake state")
	}
	return &st, nil
}

func (s *SQLiteStore) SaveIntakeState(ctx context.Context, st *model.IntakeState) error {
	state, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal intake state")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intake_states (profile_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.ProfileID, string(state), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save intake state %s", st.ProfileID)
}

func (s *SQLiteStore) TouchSession(ctx context.Context, profileID, sessionID string, now time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (profile_id, session_id, started_at) VALUES (?, ?, ?)`,
		profileID, sessionID, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: touch session %s", profileID)
	}
	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE profile_id = ?`, profileID).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count sessions %s", profileID)
	}
	return count, nil
}

func marshalProfile(p *model.Profile) (attrs, sigs, prefs string, err error) {
	a, err := json.Marshal(p.Attributes)
	if err != nil {
		return "", "", "", err
	}
	s, err := json.Marshal(p.Signals)
	if err != nil {
		return "", "", "", err
	}
	pr, err := json.Marshal(p.Preferences)
	if err != nil {
		return "", "", "", err
	}
	return string(a), string(s), string(pr), nil
}

func scanProfile(row scannable) (*model.Profile, error) {
	var p model.Profile
	var attrs, sigs, prefs string
	if err := row.Scan(&p.ID, &attrs, &sigs, &prefs, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
		return nil, eris.Wrap(err, "unmarshal attributes")
	}
	if err := json.Unmarshal([]byte(sigs), &p.Signals); err != nil {
		return nil, eris.Wrap(err, "unmarshal signals")
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, eris.Wrap(err, "unmarshal preferences")
	}
	return &p, nil
}
