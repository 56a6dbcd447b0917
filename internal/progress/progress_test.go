package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-engine/internal/model"
)

func testRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldSpec{
		{Key: "full_name", Tier: 1, Class: model.ClassPrimary, Required: true},
		{Key: "date_of_birth", Tier: 1, Class: model.ClassPrimary, Required: true},
		{Key: "religion", Tier: 1, Class: model.ClassPrimary, Required: true},
		{Key: "height_cm", Tier: 1, Class: model.ClassPrimary},
		{Key: "social_energy", Tier: 2, Class: model.ClassSignal, Category: "lifestyle", Required: true},
		{Key: "family_values", Tier: 2, Class: model.ClassSignal, Category: "values", Required: true},
		{Key: "partner_age_min", Tier: 2, Class: model.ClassPreference, Required: true},
		{Key: "humor_style", Tier: 3, Class: model.ClassSignal, Category: "personality", Required: true},
	})
}

func TestComputeTier(t *testing.T) {
	t.Parallel()
	reg := testRegistry()

	t.Run("counts only required fields", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		p.Attributes["full_name"] = "Asha Rao"
		p.Attributes["height_cm"] = "165" // optional, must not move the needle

		pct, done := ComputeTier(reg, p, 1, 0.70)
		assert.InDelta(t, 33.33, pct, 0.001)
		assert.Equal(t, []string{"full_name"}, done)
	})

	t.Run("signals below floor do not count", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		p.SetSignal("lifestyle", "social_energy", model.Signal{Value: "introvert", Confidence: 0.65})
		p.SetSignal("values", "family_values", model.Signal{Value: "traditional", Confidence: 0.80})

		pct, done := ComputeTier(reg, p, 2, 0.70)
		assert.InDelta(t, 33.33, pct, 0.001)
		assert.Equal(t, []string{"family_values"}, done)
	})

	t.Run("full tier reaches exactly one hundred", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		p.Attributes["full_name"] = "Asha Rao"
		p.Attributes["date_of_birth"] = "1994-06-15"
		p.Attributes["religion"] = "Hindu"

		pct, _ := ComputeTier(reg, p, 1, 0.70)
		assert.Equal(t, 100.0, pct)
	})

	t.Run("depth signals move tier three", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		p.SetSignal("personality", "humor_style", model.Signal{Value: "dry", Confidence: 0.80})

		pct, done := ComputeTier(reg, p, 3, 0.70)
		assert.Equal(t, 100.0, pct)
		assert.Equal(t, []string{"humor_style"}, done)
	})

	t.Run("empty tier yields zero", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		pct, done := ComputeTier(reg, p, 9, 0.70)
		assert.Zero(t, pct)
		assert.Empty(t, done)
	})
}

func TestComputeTotal(t *testing.T) {
	t.Parallel()

	total := ComputeTotal(map[int]float64{1: 100, 2: 65, 3: 0}, DefaultWeights)
	assert.InDelta(t, 72.75, total, 0.001)

	assert.Zero(t, ComputeTotal(map[int]float64{}, DefaultWeights))
	assert.Equal(t, 100.0, ComputeTotal(map[int]float64{1: 100, 2: 100, 3: 100}, DefaultWeights))
}

func TestEvaluateGate(t *testing.T) {
	t.Parallel()
	reg := testRegistry()

	fullProfile := func() *model.Profile {
		p := model.NewProfile("p", time.Now())
		p.Attributes["full_name"] = "Asha Rao"
		p.Attributes["date_of_birth"] = "1994-06-15"
		p.Attributes["religion"] = "Hindu"
		return p
	}

	t.Run("all conditions met", func(t *testing.T) {
		t.Parallel()
		tp := model.NewTierProgress("p")
		tp.TierPct = map[int]float64{1: 100, 2: 75, 3: 10}
		tp.TotalPct = 77.75
		tp.OpenEndedCount = 3
		tp.SessionCount = 2

		d := EvaluateGate(reg, fullProfile(), tp, DefaultActivationRules, 0.70)
		assert.True(t, d.Activated)
		assert.Empty(t, d.Blockers)
	})

	t.Run("every unmet condition is reported", func(t *testing.T) {
		t.Parallel()
		tp := model.NewTierProgress("p")
		tp.TierPct = map[int]float64{1: 100, 2: 65}
		tp.TotalPct = 50
		tp.OpenEndedCount = 1
		tp.SessionCount = 3

		d := EvaluateGate(reg, fullProfile(), tp, DefaultActivationRules, 0.70)
		assert.False(t, d.Activated)
		require.Len(t, d.Blockers, 2)
		assert.Contains(t, d.Blockers[0], "Compatibility signals")
		assert.Contains(t, d.Blockers[1], "Open-ended")
	})

	t.Run("missing core fields are named", func(t *testing.T) {
		t.Parallel()
		p := model.NewProfile("p", time.Now())
		p.Attributes["full_name"] = "Asha Rao"
		tp := model.NewTierProgress("p")
		tp.TierPct = map[int]float64{1: 33.33, 2: 80}
		tp.TotalPct = 60
		tp.OpenEndedCount = 2
		tp.SessionCount = 2

		d := EvaluateGate(reg, p, tp, DefaultActivationRules, 0.70)
		require.Len(t, d.Blockers, 1)
		assert.Contains(t, d.Blockers[0], "Date Of Birth")
		assert.Contains(t, d.Blockers[0], "Religion")
	})

	t.Run("ninety nine point five does not activate", func(t *testing.T) {
		t.Parallel()
		p := fullProfile()
		delete(p.Attributes, "religion")
		tp := model.NewTierProgress("p")
		tp.TierPct = map[int]float64{1: 99.5, 2: 100}
		tp.TotalPct = 90
		tp.OpenEndedCount = 5
		tp.SessionCount = 5

		d := EvaluateGate(reg, p, tp, DefaultActivationRules, 0.70)
		assert.False(t, d.Activated)
	})
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Date Of Birth", DisplayName("date_of_birth"))
	assert.Equal(t, "Religion", DisplayName("religion"))
}
