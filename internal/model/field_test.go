package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() []FieldSpec {
	return []FieldSpec{
		{Key: "full_name", Tier: 1, Class: ClassPrimary, Required: true},
		{Key: "religion", Tier: 1, Class: ClassPrimary, Required: true,
			Options: []string{"Hindu", "Muslim", "Sikh", "Christian", "Spiritual", "Atheist"}},
		{Key: "height_cm", Tier: 1, Class: ClassPrimary},
		{Key: "social_energy", Tier: 2, Class: ClassSignal, Category: "lifestyle", Required: true},
		{Key: "partner_age_min", Tier: 2, Class: ClassPreference, Required: true},
		{Key: "humor_style", Tier: 3, Class: ClassSignal, Category: "personality"},
	}
}

func TestNewFieldRegistry(t *testing.T) {
	t.Parallel()

	reg := NewFieldRegistry(testFields())

	t.Run("by key", func(t *testing.T) {
		t.Parallel()
		spec := reg.ByKey("religion")
		require.NotNil(t, spec)
		assert.Equal(t, 1, spec.Tier)
		assert.Equal(t, ClassPrimary, spec.Class)
		assert.Nil(t, reg.ByKey("no_such_field"))
	})

	t.Run("by tier", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, reg.Tier(1), 3)
		assert.Len(t, reg.Tier(2), 2)
		assert.Len(t, reg.Tier(3), 1)
		assert.Empty(t, reg.Tier(4))
	})

	t.Run("required excludes optional", func(t *testing.T) {
		t.Parallel()
		req := reg.RequiredForTier(1)
		assert.Len(t, req, 2)
		for _, f := range req {
			assert.NotEqual(t, "height_cm", f.Key)
		}
	})

	t.Run("tiers sorted", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []int{1, 2, 3}, reg.Tiers())
	})
}

func TestFieldSpecAllowsValue(t *testing.T) {
	t.Parallel()

	closed := FieldSpec{Key: "religion", Options: []string{"Hindu", "Muslim"}}
	assert.True(t, closed.AllowsValue("Hindu"))
	assert.False(t, closed.AllowsValue("Jedi"))

	open := FieldSpec{Key: "full_name"}
	assert.True(t, open.AllowsValue("anything at all"))
}

func TestProvenanceAuthoritative(t *testing.T) {
	t.Parallel()

	assert.True(t, ProvenanceExplicit.Authoritative())
	assert.True(t, ProvenanceStructured.Authoritative())
	assert.False(t, ProvenanceInferred.Authoritative())
	assert.False(t, Provenance("guessed").Valid())
}
