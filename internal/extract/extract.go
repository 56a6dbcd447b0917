// Package extract turns free-form conversation into candidate
// observations. The model's output is treated as untrusted: everything
// it proposes still passes through the resolver's floors and domain
// checks before touching a profile.
package extract

import (
	"context"

	"github.com/sells-group/profile-engine/internal/model"
)

// Result is one extraction pass over a message.
type Result struct {
	Observations []model.Observation `json:"observations"`

	// OpenEnded marks messages that carried substantive free-form
	// disclosure, which the activation gate counts separately from
	// structured answers.
	OpenEnded bool `json:"open_ended"`
}

// Extractor produces candidate observations from one message in the
// context of the profile's current state.
type Extractor interface {
	Extract(ctx context.Context, p *model.Profile, message string) (*Result, error)
}

// Noop is an Extractor that never produces observations. It serves
// deployments without an API key and keeps message handling alive when
// extraction is switched off.
type Noop struct{}

func (Noop) Extract(ctx context.Context, p *model.Profile, message string) (*Result, error) {
	return &Result{}, nil
}
