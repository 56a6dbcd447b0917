package intake

import (
	"strings"
	"time"

	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/resolver"
)

// structuredConfidence is attached to answers collected through the
// guided flow; the person chose the value themselves, so nothing an
// extraction model infers later can rank above it.
const structuredConfidence = 1.0

// Controller walks a profile through the screen table.
type Controller struct {
	reg        *model.FieldRegistry
	res        *resolver.Resolver
	floors     resolver.Floors
	screens    []Screen
	idleWindow time.Duration
}

// NewController wires the flow. idleWindow controls when an inactive
// flow is retired; zero disables retirement.
func NewController(reg *model.FieldRegistry, res *resolver.Resolver, floors resolver.Floors, screens []Screen, idleWindow time.Duration) *Controller {
	return &Controller{reg: reg, res: res, floors: floors, screens: screens, idleWindow: idleWindow}
}

// AnswerResult reports the outcome of one answer.
type AnswerResult struct {
	// Accepted is true when the input advanced the flow.
	Accepted bool
	// Reply carries a reprompt message when the input was refused.
	Reply string
	// Next is the screen to present now; nil when the flow is done.
	Next *Screen
	// Done is set once every screen is behind the cursor.
	Done bool
}

// Next returns the screen the flow is waiting on, advancing the cursor
// past hidden and already-answered screens. It returns nil once the
// flow is complete.
func (c *Controller) Next(p *model.Profile, st *model.IntakeState) *Screen {
	for i := st.ScreenIndex; i < len(c.screens); i++ {
		s := &c.screens[i]
		if !c.visible(s, p, st) {
			continue
		}
		st.ScreenIndex = i
		st.Phase = s.Phase
		return s
	}
	st.Completed = true
	st.Phase = model.PhaseOpenEnded
	return nil
}

// visible hides screens whose condition fails and screens whose field
// was already answered, here or out of band.
func (c *Controller) visible(s *Screen, p *model.Profile, st *model.IntakeState) bool {
	if s.Condition != nil && !s.Condition(p) {
		return false
	}
	if s.Field == "" {
		return true
	}
	if st.Resolved[s.Field] {
		return false
	}
	if spec := c.reg.ByKey(s.Field); spec != nil && p.Satisfies(spec, c.floors.Signal) {
		return false
	}
	return true
}

// Answer feeds one input to the current screen, mutating the profile
// on acceptance. A refused input re-presents the same screen with an
// explanation; the cursor does not move.
func (c *Controller) Answer(p *model.Profile, st *model.IntakeState, input string, now time.Time) AnswerResult {
	st.Retired = false
	st.LastActivityAt = now

	cur := c.Next(p, st)
	if cur == nil {
		return AnswerResult{Accepted: true, Done: true}
	}

	input = strings.TrimSpace(input)

	switch cur.Kind {
	case KindMessage:
		// Informational; any input moves on.

	case KindChoice:
		opts := cur.EffectiveOptions(p)
		if len(opts) == 0 {
			// Dynamic options unavailable; treat as free text.
			if input == "" {
				return AnswerResult{Reply: repromptFor(cur, p), Next: cur}
			}
		} else {
			canon, ok := canonicalOption(opts, input)
			if !ok {
				return AnswerResult{Reply: repromptFor(cur, p), Next: cur}
			}
			input = canon
		}
		if rej := c.record(p, cur, input, now); rej != nil {
			return AnswerResult{Reply: rej.Message, Next: cur}
		}
		c.markResolved(st, cur.Field)

	case KindText:
		if input == "" {
			return AnswerResult{Reply: repromptFor(cur, p), Next: cur}
		}
		if strings.EqualFold(input, "skip") && c.optional(cur.Field) {
			c.markResolved(st, cur.Field)
			break
		}
		if rej := c.record(p, cur, input, now); rej != nil {
			return AnswerResult{Reply: rej.Message, Next: cur}
		}
		c.markResolved(st, cur.Field)
	}

	st.ScreenIndex++
	next := c.Next(p, st)
	return AnswerResult{Accepted: true, Next: next, Done: next == nil}
}

// Resume reactivates a cursor, reporting whether it had been retired
// by the idle window. A retired flow picks up at its last screen.
func (c *Controller) Resume(st *model.IntakeState, now time.Time) bool {
	wasRetired := st.Retired || c.Idle(st, now)
	st.Retired = false
	st.LastActivityAt = now
	return wasRetired
}

// Idle reports whether the flow has been quiet long enough to warrant
// a re-engagement prompt. Pure query; it does not mutate the cursor,
// and scheduling the prompt belongs to the caller.
func (c *Controller) Idle(st *model.IntakeState, now time.Time) bool {
	if st.Completed || c.idleWindow <= 0 {
		return false
	}
	return st.Retired || now.Sub(st.LastActivityAt) > c.idleWindow
}

func (c *Controller) record(p *model.Profile, s *Screen, input string, now time.Time) *model.Rejection {
	if s.Field == "" {
		return nil
	}
	return c.res.Apply(p, model.Observation{
		Field:      s.Field,
		Value:      input,
		Confidence: structuredConfidence,
		Provenance: model.ProvenanceStructured,
	}, now)
}

func (c *Controller) markResolved(st *model.IntakeState, field string) {
	if field == "" {
		return
	}
	if st.Resolved == nil {
		st.Resolved = make(map[string]bool)
	}
	st.Resolved[field] = true
}

func (c *Controller) optional(field string) bool {
	spec := c.reg.ByKey(field)
	return spec != nil && !spec.Required
}

// canonicalOption matches case-insensitively and returns the option's
// canonical spelling so domain checks downstream see the exact value.
func canonicalOption(opts []string, input string) (string, bool) {
	for _, o := range opts {
		if strings.EqualFold(o, input) {
			return o, true
		}
	}
	return "", false
}
