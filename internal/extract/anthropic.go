package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/resilience"
	"github.com/sells-group/profile-engine/pkg/anthropic"
)

const systemPromptHeader = `You extract structured matchmaking fields from one chat message.
Return ONLY a JSON object of the form:
{"observations":[{"field":"<key>","value":"<string>","confidence":<0..1>,"provenance":"explicit"|"inferred"}],"open_ended":<bool>}

Rules:
- Use "explicit" only when the person directly states the fact about themselves.
- Use "inferred" for anything read between the lines, with honest confidence.
- Set "open_ended" true when the message is substantive free-form disclosure, not a short factual answer.
- Emit nothing for fields the message does not support.

Known fields:
`

// AnthropicConfig tunes the extraction adapter.
type AnthropicConfig struct {
	Model       string
	MaxTokens   int64
	RatePerSec  float64
	RateBurst   int
	MinEmitConf float64
}

// Anthropic implements Extractor on the votes of a language model,
// rate limited and fused so a failing upstream degrades to "no
// observations" instead of stalling message handling.
type Anthropic struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	system  string
}

// NewAnthropic builds the adapter; the system prompt is derived from
// the registry so the model only ever sees real field keys.
func NewAnthropic(client anthropic.Client, reg *model.FieldRegistry, cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 4
	}
	if cfg.MinEmitConf <= 0 {
		cfg.MinEmitConf = 0.30
	}
	return &Anthropic{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("extraction circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		system: buildSystemPrompt(reg),
	}
}

func buildSystemPrompt(reg *model.FieldRegistry) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	for _, tier := range reg.Tiers() {
		for _, f := range reg.Tier(tier) {
			b.WriteString("- ")
			b.WriteString(f.Key)
			if len(f.Options) > 0 {
				b.WriteString(" (one of: ")
				b.WriteString(strings.Join(f.Options, ", "))
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Extract runs one extraction pass. Upstream failures are reported as
// model.ErrExtractionUnavailable so callers can degrade gracefully.
func (a *Anthropic) Extract(ctx context.Context, p *model.Profile, message string) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	var resp *anthropic.MessageResponse
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     a.cfg.Model,
				MaxTokens: a.cfg.MaxTokens,
				System:    a.system + a.profileContext(p),
				Messages:  []anthropic.Message{{Role: "user", Content: message}},
			})
		})
		return err
	})
	if err != nil {
		zap.L().Warn("extraction unavailable", zap.String("profile_id", p.ID), zap.Error(err))
		return nil, eris.Wrap(model.ErrExtractionUnavailable, err.Error())
	}
	resp.Usage.LogCost(a.cfg.Model, "extract")

	result, err := ParseResult(resp.Text())
	if err != nil {
		// A malformed payload is an upstream quality problem, not a
		// caller error; degrade the same way as an outage.
		zap.L().Warn("extraction payload unparseable", zap.String("profile_id", p.ID), zap.Error(err))
		return nil, eris.Wrap(model.ErrExtractionUnavailable, err.Error())
	}
	return a.filter(result), nil
}

// profileContext tells the model what is already known so it favors
// new or corrected information.
func (a *Anthropic) profileContext(p *model.Profile) string {
	if len(p.Attributes) == 0 {
		return ""
	}
	known, err := json.Marshal(p.Attributes)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("\nAlready known about this person: %s\n", known)
}

// ParseResult decodes the model's JSON payload, tolerating code fences.
func ParseResult(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, eris.Wrap(err, "extract: decode payload")
	}
	return &r, nil
}

// filter drops obviously useless candidates before resolution: empty
// fields, out-of-range confidence, provenance the resolver would never
// trust from a model.
func (a *Anthropic) filter(r *Result) *Result {
	out := &Result{OpenEnded: r.OpenEnded}
	for _, obs := range r.Observations {
		if obs.Field == "" || obs.Value == nil {
			continue
		}
		if obs.Confidence < a.cfg.MinEmitConf || obs.Confidence > 1.0 {
			continue
		}
		if !obs.Provenance.Valid() || obs.Provenance == model.ProvenanceStructured {
			// A model cannot claim structured provenance.
			obs.Provenance = model.ProvenanceInferred
		}
		out.Observations = append(out.Observations, obs)
	}
	return out
}
