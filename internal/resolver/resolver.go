// Package resolver decides whether a candidate observation replaces
// the value a profile already holds.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/profile-engine/internal/model"
)

// Floors are the per-class confidence minimums.
type Floors struct {
	Tier1  float64
	Signal float64
}

// DefaultFloors mirror the operating defaults: hard filters demand
// near-certainty, signals tolerate moderate inference.
var DefaultFloors = Floors{Tier1: 0.90, Signal: 0.70}

// Resolver applies observations to profiles under the registry's
// domain rules and the confidence floors.
type Resolver struct {
	reg    *model.FieldRegistry
	floors Floors
}

func New(reg *model.FieldRegistry, floors Floors) *Resolver {
	return &Resolver{reg: reg, floors: floors}
}

// Apply resolves a single observation against the profile, mutating it
// on acceptance. A nil return means the value was written; otherwise
// the rejection explains why the profile is unchanged.
func (r *Resolver) Apply(p *model.Profile, obs model.Observation, now time.Time) *model.Rejection {
	spec := r.reg.ByKey(obs.Field)
	if spec == nil {
		return &model.Rejection{
			Field:   obs.Field,
			Reason:  model.RejectUnknownField,
			Message: fmt.Sprintf("%q is not a recognized field", obs.Field),
		}
	}

	switch spec.Class {
	case model.ClassPrimary:
		return r.applyPrimary(p, spec, obs, now)
	case model.ClassPreference:
		return r.applyPreference(p, spec, obs)
	default:
		return r.applySignal(p, spec, obs, now)
	}
}

// applyPrimary enforces the strictest path: authoritative provenance,
// the tier-1 floor, and domain validation. A valid explicit value
// always overwrites what is stored, so people can correct mistakes.
func (r *Resolver) applyPrimary(p *model.Profile, spec *model.FieldSpec, obs model.Observation, now time.Time) *model.Rejection {
	if !obs.Provenance.Authoritative() || obs.Confidence < r.floors.Tier1 {
		return &model.Rejection{
			Field:   spec.Key,
			Reason:  model.RejectBelowConfidenceFloor,
			Message: fmt.Sprintf("%s requires an explicit answer", spec.Key),
		}
	}

	val := stringify(obs.Value)
	if spec.Key == "date_of_birth" {
		birth, msg := ValidateBirthDate(val, now)
		if msg != "" {
			return &model.Rejection{Field: spec.Key, Reason: model.RejectDomainViolation, Message: msg}
		}
		val = birth.Format("2006-01-02")
	} else if !spec.AllowsValue(val) {
		return r.domainViolation(spec, val)
	}

	p.Attributes[spec.Key] = val
	return nil
}

func (r *Resolver) applyPreference(p *model.Profile, spec *model.FieldSpec, obs model.Observation) *model.Rejection {
	if !obs.Provenance.Authoritative() || obs.Confidence < r.floors.Signal {
		return &model.Rejection{
			Field:   spec.Key,
			Reason:  model.RejectBelowConfidenceFloor,
			Message: fmt.Sprintf("%s requires an explicit answer", spec.Key),
		}
	}
	val := stringify(obs.Value)
	if !spec.AllowsValue(val) {
		return r.domainViolation(spec, val)
	}
	p.Preferences[spec.Key] = val
	return nil
}

// applySignal lets any provenance through at the signal floor, but an
// accepted tuple is only replaced by one at least as confident.
func (r *Resolver) applySignal(p *model.Profile, spec *model.FieldSpec, obs model.Observation, now time.Time) *model.Rejection {
	if obs.Confidence < r.floors.Signal {
		return &model.Rejection{
			Field:   spec.Key,
			Reason:  model.RejectBelowConfidenceFloor,
			Message: fmt.Sprintf("%s observed below the signal floor", spec.Key),
		}
	}
	if s, ok := p.Signal(spec.Category, spec.Key); ok && obs.Confidence < s.Confidence {
		return &model.Rejection{
			Field:   spec.Key,
			Reason:  model.RejectSuperseded,
			Message: fmt.Sprintf("%s already held at higher confidence", spec.Key),
		}
	}
	if sv, ok := obs.Value.(string); ok && !spec.AllowsValue(sv) {
		return r.domainViolation(spec, sv)
	}
	p.SetSignal(spec.Category, spec.Key, model.Signal{
		Value:      obs.Value,
		Confidence: obs.Confidence,
		Provenance: obs.Provenance,
		CapturedAt: now,
	})
	return nil
}

func (r *Resolver) domainViolation(spec *model.FieldSpec, val string) *model.Rejection {
	return &model.Rejection{
		Field:   spec.Key,
		Reason:  model.RejectDomainViolation,
		Message: fmt.Sprintf("%q is not a valid value for %s", val, spec.Key),
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
