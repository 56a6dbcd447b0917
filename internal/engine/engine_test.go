package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-engine/internal/extract"
	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/registry"
	"github.com/sells-group/profile-engine/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedExtractor returns canned results keyed by message text.
type scriptedExtractor struct {
	results map[string]*extract.Result
	err     error
}

func (s *scriptedExtractor) Extract(_ context.Context, _ *model.Profile, message string) (*extract.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.results[message]; ok {
		return r, nil
	}
	return &extract.Result{}, nil
}

func newTestEngine(t *testing.T, ex extract.Extractor) (*Engine, store.Store) {
	t.Helper()
	reg, err := registry.Load("")
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	return New(Options{
		Registry:  reg,
		Store:     st,
		Extractor: ex,
		Now:       func() time.Time { return testNow },
	}), st
}

func explicit(field, value string, conf float64) model.Observation {
	return model.Observation{Field: field, Value: value, Confidence: conf, Provenance: model.ProvenanceExplicit}
}

func TestApplyPartitionsBatch(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.Apply(ctx, "p-1", []model.Observation{
		explicit("religion", "Hindu", 0.95),
		explicit("religion", "Jedi", 0.95),
		explicit("shoe_size", "42", 0.95),
		{Field: "social_energy", Value: "introvert", Confidence: 0.8, Provenance: model.ProvenanceInferred},
		{Field: "humor_style", Value: "dry", Confidence: 0.5, Provenance: model.ProvenanceInferred},
	}, ApplyMeta{})
	require.NoError(t, err)

	assert.Equal(t, []string{"religion", "social_energy"}, res.Accepted)
	require.Len(t, res.Rejected, 3)
	assert.Equal(t, model.RejectDomainViolation, res.Rejected[0].Reason)
	assert.Equal(t, model.RejectUnknownField, res.Rejected[1].Reason)
	assert.Equal(t, model.RejectBelowConfidenceFloor, res.Rejected[2].Reason)
}

func TestApplyWithinBatchOrder(t *testing.T) {
	t.Parallel()
	e, st := newTestEngine(t, nil)
	ctx := context.Background()

	// Second observation sees the first one's effect: the higher
	// confidence lands first, then blocks the lower one.
	res, err := e.Apply(ctx, "p-1", []model.Observation{
		{Field: "social_energy", Value: "extrovert", Confidence: 0.9, Provenance: model.ProvenanceInferred},
		{Field: "social_energy", Value: "introvert", Confidence: 0.75, Provenance: model.ProvenanceInferred},
	}, ApplyMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{"social_energy"}, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, model.RejectSuperseded, res.Rejected[0].Reason)

	p, err := st.GetProfile(ctx, "p-1")
	require.NoError(t, err)
	sig, _ := p.Signal("lifestyle", "social_energy")
	assert.Equal(t, "extrovert", sig.Value)
}

func TestApplyAllRejectedLeavesProfileUntouched(t *testing.T) {
	t.Parallel()
	e, st := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, "p-1", []model.Observation{explicit("religion", "Hindu", 0.95)}, ApplyMeta{})
	require.NoError(t, err)
	p1, err := st.GetProfile(ctx, "p-1")
	require.NoError(t, err)

	res, err := e.Apply(ctx, "p-1", []model.Observation{
		{Field: "religion", Value: "Muslim", Confidence: 0.99, Provenance: model.ProvenanceInferred},
	}, ApplyMeta{})
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)

	p2, err := st.GetProfile(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, p1.Version, p2.Version)
	assert.Equal(t, "Hindu", p2.Attributes["religion"])
}

func TestApplyRefreshesProgressAndSessions(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, "p-1", []model.Observation{explicit("religion", "Hindu", 0.95)},
		ApplyMeta{SessionID: "sess-a", OpenEnded: true})
	require.NoError(t, err)

	tp, err := e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tp.SessionCount)
	assert.Equal(t, 1, tp.OpenEndedCount)
	assert.InDelta(t, 6.67, tp.TierPct[1], 0.001) // 1 of 15 required
	assert.False(t, tp.Activated)
	assert.NotEmpty(t, tp.Blockers)

	// Repeating the same session does not inflate the count.
	_, err = e.Apply(ctx, "p-1", nil, ApplyMeta{SessionID: "sess-a"})
	require.NoError(t, err)
	tp, err = e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tp.SessionCount)
	assert.Equal(t, 1, tp.OpenEndedCount)
}

func TestHandleMessageAppliesExtraction(t *testing.T) {
	t.Parallel()
	ex := &scriptedExtractor{results: map[string]*extract.Result{
		"I stay in most weekends": {
			Observations: []model.Observation{
				{Field: "social_energy", Value: "introvert", Confidence: 0.8, Provenance: model.ProvenanceInferred},
			},
			OpenEnded: true,
		},
	}}
	e, st := newTestEngine(t, ex)
	ctx := context.Background()

	res, err := e.HandleMessage(ctx, "p-1", "sess-a", "I stay in most weekends")
	require.NoError(t, err)
	assert.Equal(t, []string{"social_energy"}, res.Accepted)

	p, err := st.GetProfile(ctx, "p-1")
	require.NoError(t, err)
	sig, ok := p.Signal("lifestyle", "social_energy")
	require.True(t, ok)
	assert.Equal(t, "introvert", sig.Value)

	tp, err := e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tp.OpenEndedCount)
	assert.Equal(t, 1, tp.SessionCount)
}

func TestHandleMessageDegradesWithoutExtraction(t *testing.T) {
	t.Parallel()
	ex := &scriptedExtractor{err: model.ErrExtractionUnavailable}
	e, _ := newTestEngine(t, ex)
	ctx := context.Background()

	res, err := e.HandleMessage(ctx, "p-1", "sess-a", "hello")
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Rejected)

	// Engagement still counts.
	tp, err := e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tp.SessionCount)
	assert.Equal(t, 0, tp.OpenEndedCount)
}

func TestActivationJourney(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	reg, err := registry.Load("")
	require.NoError(t, err)

	// Fill every required tier-1 field.
	var tier1 []model.Observation
	values := map[string]string{
		"full_name": "Asha Rao", "date_of_birth": "1994-06-15", "gender_identity": "Woman",
		"sexual_orientation": "Straight", "city": "Mumbai", "country": "India",
		"religion": "Hindu", "children_intent": "Want children", "marital_history": "Never married",
		"smoking": "Never", "drinking": "Socially", "dietary_restrictions": "Vegetarian",
		"relationship_intent": "Marriage", "relationship_timeline": "1-2 years", "education_level": "Master's",
	}
	for k, v := range values {
		tier1 = append(tier1, explicit(k, v, 0.97))
	}
	_, err = e.Apply(ctx, "p-1", tier1, ApplyMeta{SessionID: "sess-1"})
	require.NoError(t, err)

	tp, err := e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tp.TierPct[1])
	assert.False(t, tp.Activated)

	// Fill every required tier-2 field via structured answers.
	var tier2 []model.Observation
	for _, spec := range reg.RequiredForTier(2) {
		val := "steady"
		if len(spec.Options) > 0 {
			val = spec.Options[0]
		}
		tier2 = append(tier2, model.Observation{
			Field: spec.Key, Value: val, Confidence: 0.95, Provenance: model.ProvenanceStructured,
		})
	}
	_, err = e.Apply(ctx, "p-1", tier2, ApplyMeta{SessionID: "sess-2", OpenEnded: true})
	require.NoError(t, err)

	tp, err = e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tp.TierPct[2])
	assert.False(t, tp.Activated, "one open-ended exchange is not enough")

	// The second substantive exchange clears the last condition.
	_, err = e.Apply(ctx, "p-1", nil, ApplyMeta{SessionID: "sess-2", OpenEnded: true})
	require.NoError(t, err)

	tp, err = e.Progress(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, tp.Activated)
	assert.Empty(t, tp.Blockers)
}

func TestIntakeThroughEngine(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	screen, st, err := e.NextScreen(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, screen)
	assert.Equal(t, "intro_welcome", screen.ID)
	assert.Equal(t, model.PhaseIntro, st.Phase)

	// Walk past the intro.
	for i := 0; i < 3; i++ {
		res, err := e.AnswerScreen(ctx, "p-1", "sess-a", "ok")
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}

	screen, _, err = e.NextScreen(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "filters_dob", screen.ID)

	res, err := e.AnswerScreen(ctx, "p-1", "sess-a", "2015-01-01")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reply, "at least 18")

	res, err = e.AnswerScreen(ctx, "p-1", "sess-a", "1994-06-15")
	require.NoError(t, err)
	require.True(t, res.Accepted)

	// The cursor survives a reload.
	screen, st2, err := e.NextScreen(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "filters_gender", screen.ID)
	assert.Equal(t, model.PhaseFilters, st2.Phase)
}

func TestProgressTakesProfileSlot(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, "p-1", []model.Observation{explicit("religion", "Hindu", 0.95)}, ApplyMeta{SessionID: "sess-1"})
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = e.ser.Do(context.Background(), "p-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	got := make(chan error, 1)
	go func() {
		_, err := e.Progress(ctx, "p-1")
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("Progress ran while another writer held the profile")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Progress did not run after the profile was released")
	}
}
