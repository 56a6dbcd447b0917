package model

import "time"

// Signal is the current accepted tuple for a flexible signal slot.
type Signal struct {
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Profile is the structured state accumulated for one person.
// A primary attribute has exactly one current value or is unset; a
// signal slot holds exactly one current tuple or is unset.
type Profile struct {
	ID          string                       `json:"id"`
	Attributes  map[string]string            `json:"attributes"`
	Signals     map[string]map[string]Signal `json:"signals"`
	Preferences map[string]string            `json:"preferences"`

	// Version supports optimistic concurrency in the store; it is
	// bumped on every successful save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile returns an empty profile for the given id.
func NewProfile(id string, now time.Time) *Profile {
	return &Profile{
		ID:          id,
		Attributes:  make(map[string]string),
		Signals:     make(map[string]map[string]Signal),
		Preferences: make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Signal returns the current tuple for a category/field slot.
func (p *Profile) Signal(category, field string) (Signal, bool) {
	cat, ok := p.Signals[category]
	if !ok {
		return Signal{}, false
	}
	s, ok := cat[field]
	return s, ok
}

// SetSignal replaces the current tuple for a category/field slot.
func (p *Profile) SetSignal(category, field string, s Signal) {
	if p.Signals == nil {
		p.Signals = make(map[string]map[string]Signal)
	}
	if p.Signals[category] == nil {
		p.Signals[category] = make(map[string]Signal)
	}
	p.Signals[category][field] = s
}

// Satisfies reports whether the profile currently holds a value for the
// field that meets the given confidence floor. Primary attributes and
// preferences are only ever stored after passing resolution, so
// presence alone satisfies them.
func (p *Profile) Satisfies(spec *FieldSpec, floor float64) bool {
	switch spec.Class {
	case ClassPrimary:
		return p.Attributes[spec.Key] != ""
	case ClassPreference:
		return p.Preferences[spec.Key] != ""
	case ClassSignal:
		s, ok := p.Signal(spec.Category, spec.Key)
		return ok && s.Confidence >= floor
	}
	return false
}

// Clone returns a deep copy of the profile. The engine mutates a clone
// during resolution so a failed save never leaves partial state behind.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Attributes = make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		cp.Attributes[k] = v
	}
	cp.Preferences = make(map[string]string, len(p.Preferences))
	for k, v := range p.Preferences {
		cp.Preferences[k] = v
	}
	cp.Signals = make(map[string]map[string]Signal, len(p.Signals))
	for cat, fields := range p.Signals {
		m := make(map[string]Signal, len(fields))
		for k, v := range fields {
			m[k] = v
		}
		cp.Signals[cat] = m
	}
	return &cp
}
