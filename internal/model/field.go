package model

import "sort"

// StorageClass determines where a field's value lives on the profile.
type StorageClass string

const (
	// ClassPrimary is a scalar attribute used for hard elimination filtering.
	ClassPrimary StorageClass = "primary"
	// ClassSignal is a flexible compatibility signal stored with confidence metadata.
	ClassSignal StorageClass = "signal"
	// ClassPreference describes what the person is looking for in a match.
	ClassPreference StorageClass = "preference"
)

// Valid reports whether c is a recognized storage class.
func (c StorageClass) Valid() bool {
	switch c {
	case ClassPrimary, ClassSignal, ClassPreference:
		return true
	}
	return false
}

// FieldSpec declares a recognized profile field: where it belongs and
// what it takes for an observation of it to count.
type FieldSpec struct {
	Key      string       `json:"key" yaml:"key"`
	Tier     int          `json:"tier" yaml:"tier"`
	Class    StorageClass `json:"class" yaml:"class"`
	Category string       `json:"category,omitempty" yaml:"category,omitempty"`
	Required bool         `json:"required" yaml:"required"`
	Options  []string     `json:"options,omitempty" yaml:"options,omitempty"`
}

// AllowsValue reports whether v is permitted for this field. Fields
// without a declared option list accept any value.
func (f *FieldSpec) AllowsValue(v string) bool {
	if len(f.Options) == 0 {
		return true
	}
	for _, o := range f.Options {
		if o == v {
			return true
		}
	}
	return false
}

// FieldRegistry is an indexed, immutable collection of field specs.
// Safe for unsynchronized concurrent reads.
type FieldRegistry struct {
	Fields []FieldSpec

	byKey          map[string]*FieldSpec
	byTier         map[int][]*FieldSpec
	requiredByTier map[int][]*FieldSpec
	tiers          []int
}

// NewFieldRegistry builds a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields:         fields,
		byKey:          make(map[string]*FieldSpec, len(fields)),
		byTier:         make(map[int][]*FieldSpec),
		requiredByTier: make(map[int][]*FieldSpec),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byKey[f.Key] = f
		r.byTier[f.Tier] = append(r.byTier[f.Tier], f)
		if f.Required {
			r.requiredByTier[f.Tier] = append(r.requiredByTier[f.Tier], f)
		}
	}
	for t := range r.byTier {
		r.tiers = append(r.tiers, t)
	}
	sort.Ints(r.tiers)
	return r
}

// ByKey returns the spec for the given field key, or nil if unregistered.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Tier returns every field registered for the given tier.
func (r *FieldRegistry) Tier(tier int) []*FieldSpec {
	return r.byTier[tier]
}

// RequiredForTier returns the fields that count toward the tier's
// completion percentage.
func (r *FieldRegistry) RequiredForTier(tier int) []*FieldSpec {
	return r.requiredByTier[tier]
}

// Tiers returns the sorted set of tiers with at least one registered field.
func (r *FieldRegistry) Tiers() []int {
	return r.tiers
}
