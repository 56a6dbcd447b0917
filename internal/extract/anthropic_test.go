package extract

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/registry"
	"github.com/sells-group/profile-engine/pkg/anthropic"
)

// fakeClient returns canned responses in order.
type fakeClient struct {
	responses []string
	errs      []error
	calls     int
	lastReq   anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func fastConfig() AnthropicConfig {
	return AnthropicConfig{RatePerSec: 1000, RateBurst: 1000}
}

func testExtractor(t *testing.T, client anthropic.Client) *Anthropic {
	t.Helper()
	reg, err := registry.Load("")
	require.NoError(t, err)
	return NewAnthropic(client, reg, fastConfig())
}

func TestExtractHappyPath(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{responses: []string{
		`{"observations":[
			{"field":"social_energy","value":"introvert","confidence":0.8,"provenance":"inferred"},
			{"field":"religion","value":"Hindu","confidence":0.95,"provenance":"explicit"}
		],"open_ended":true}`,
	}}
	a := testExtractor(t, fc)

	p := model.NewProfile("p", time.Now())
	res, err := a.Extract(context.Background(), p, "I grew up Hindu and honestly I'd rather stay in most weekends")
	require.NoError(t, err)
	assert.True(t, res.OpenEnded)
	require.Len(t, res.Observations, 2)
	assert.Equal(t, "social_energy", res.Observations[0].Field)
	assert.Equal(t, model.ProvenanceExplicit, res.Observations[1].Provenance)
}

func TestExtractSystemPromptCarriesFields(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{responses: []string{`{"observations":[],"open_ended":false}`}}
	a := testExtractor(t, fc)

	p := model.NewProfile("p", time.Now())
	p.Attributes["religion"] = "Hindu"
	_, err := a.Extract(context.Background(), p, "hello")
	require.NoError(t, err)

	assert.Contains(t, fc.lastReq.System, "social_energy")
	assert.Contains(t, fc.lastReq.System, "one of: Hindu, Muslim")
	assert.Contains(t, fc.lastReq.System, "Already known")
}

func TestExtractFiltersCandidates(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{responses: []string{
		"```json\n" + `{"observations":[
			{"field":"","value":"x","confidence":0.9,"provenance":"inferred"},
			{"field":"humor_style","value":"dry","confidence":0.1,"provenance":"inferred"},
			{"field":"full_name","value":"Asha","confidence":0.9,"provenance":"structured-input"},
			{"field":"optimism","value":"high","confidence":1.4,"provenance":"inferred"},
			{"field":"curiosity","value":"high","confidence":0.8,"provenance":"inferred"}
		],"open_ended":false}` + "\n```",
	}}
	a := testExtractor(t, fc)

	res, err := a.Extract(context.Background(), model.NewProfile("p", time.Now()), "whatever")
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)

	// Structured provenance is reserved for the guided flow; the model
	// gets demoted to inferred.
	assert.Equal(t, "full_name", res.Observations[0].Field)
	assert.Equal(t, model.ProvenanceInferred, res.Observations[0].Provenance)
	assert.Equal(t, "curiosity", res.Observations[1].Field)
}

func TestExtractUpstreamFailure(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{errs: []error{
		eris.New("boom"), eris.New("boom"), eris.New("boom"),
	}}
	a := testExtractor(t, fc)

	_, err := a.Extract(context.Background(), model.NewProfile("p", time.Now()), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExtractionUnavailable)
}

func TestExtractMalformedPayload(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{responses: []string{"I refuse to answer in JSON"}}
	a := testExtractor(t, fc)

	_, err := a.Extract(context.Background(), model.NewProfile("p", time.Now()), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExtractionUnavailable)
}

func TestNoopExtractor(t *testing.T) {
	t.Parallel()

	res, err := Noop{}.Extract(context.Background(), model.NewProfile("p", time.Now()), "anything")
	require.NoError(t, err)
	assert.Empty(t, res.Observations)
	assert.False(t, res.OpenEnded)
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	t.Run("plain json", func(t *testing.T) {
		t.Parallel()
		r, err := ParseResult(`{"observations":[],"open_ended":true}`)
		require.NoError(t, err)
		assert.True(t, r.OpenEnded)
	})

	t.Run("fenced json", func(t *testing.T) {
		t.Parallel()
		r, err := ParseResult("```json\n{\"observations\":[],\"open_ended\":false}\n```")
		require.NoError(t, err)
		assert.False(t, r.OpenEnded)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := ParseResult("not json")
		assert.Error(t, err)
	})
}
