// Package store persists profiles, progress snapshots, intake cursors,
// and session events across SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/sells-group/profile-engine/internal/model"
)

// Store defines the persistence interface for the profile engine.
//
// SaveProfile uses optimistic concurrency: the write succeeds only if
// the stored version still matches the version the caller read, and
// returns model.ErrConflict otherwise. On success the profile's
// Version field is bumped in place.
type Store interface {
	// Profiles
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	CreateProfile(ctx context.Context, p *model.Profile) error
	SaveProfile(ctx context.Context, p *model.Profile) error

	// Progress snapshots
	GetTierProgress(ctx context.Context, profileID string) (*model.TierProgress, error)
	SaveTierProgress(ctx context.Context, tp *model.TierProgress) error

	// Intake cursors
	GetIntakeState(ctx context.Context, profileID string) (*model.IntakeState, error)
	SaveIntakeState(ctx context.Context, st *model.IntakeState) error

	// TouchSession records a session identifier for a profile and
	// returns the distinct session count after the touch. Repeats of
	// the same session identifier do not inflate the count.
	TouchSession(ctx context.Context, profileID, sessionID string, now time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// GetOrCreateProfile fetches the profile, creating an empty one when
// it does not exist yet.
func GetOrCreateProfile(ctx context.Context, s Store, id string, now time.Time) (*model.Profile, error) {
	p, err := s.GetProfile(ctx, id)
	if err == nil {
		return p, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	p = model.NewProfile(id, now)
	if err := s.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
