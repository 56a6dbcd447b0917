package model

import "time"

// IntakePhase names one stage of the guided intake flow.
type IntakePhase string

const (
	PhaseIntro     IntakePhase = "intro"
	PhaseFilters   IntakePhase = "filters"
	PhaseIdentity  IntakePhase = "identity"
	PhaseLifestyle IntakePhase = "lifestyle"
	PhaseMedia     IntakePhase = "media"
	PhaseOpenEnded IntakePhase = "open_ended"
)

// IntakeState is the persisted cursor through the guided flow for one
// profile.
type IntakeState struct {
	ProfileID   string      `json:"profile_id"`
	Phase       IntakePhase `json:"phase"`
	ScreenIndex int         `json:"screen_index"`
	Completed   bool        `json:"completed"`

	// Resolved marks screens whose field was answered out of band, so
	// the controller can skip them instead of asking twice.
	Resolved map[string]bool `json:"resolved,omitempty"`

	// Retired marks a flow explicitly shelved by an operator; idleness
	// from elapsed time is computed off LastActivityAt instead. Either
	// way the flow resumes from its last screen on the next touch.
	Retired        bool      `json:"retired"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewIntakeState returns a fresh cursor positioned at the intro phase.
func NewIntakeState(profileID string, now time.Time) *IntakeState {
	return &IntakeState{
		ProfileID:      profileID,
		Phase:          PhaseIntro,
		Resolved:       make(map[string]bool),
		LastActivityAt: now,
	}
}
