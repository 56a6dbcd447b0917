package model

import "time"

// TierProgress is the cached completeness snapshot for a profile,
// recomputed after every successful apply.
type TierProgress struct {
	ProfileID       string           `json:"profile_id"`
	TierPct         map[int]float64  `json:"tier_pct"`
	TotalPct        float64          `json:"total_pct"`
	CompletedFields map[int][]string `json:"completed_fields"`

	// Engagement counters are event-sourced, never derived from
	// field state, so a recompute must carry them forward.
	OpenEndedCount int        `json:"open_ended_count"`
	SessionCount   int        `json:"session_count"`
	FirstSessionAt *time.Time `json:"first_session_at,omitempty"`
	LastSessionAt  *time.Time `json:"last_session_at,omitempty"`

	Activated bool      `json:"activated"`
	Blockers  []string  `json:"blockers,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTierProgress returns a zeroed snapshot for a profile.
func NewTierProgress(profileID string) *TierProgress {
	return &TierProgress{
		ProfileID:       profileID,
		TierPct:         make(map[int]float64),
		CompletedFields: make(map[int][]string),
	}
}
