// Package engine ties registry, resolver, progress, intake, and
// extraction together behind per-profile serialized operations.
package engine

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profile-engine/internal/extract"
	"github.com/sells-group/profile-engine/internal/intake"
	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/progress"
	"github.com/sells-group/profile-engine/internal/resilience"
	"github.com/sells-group/profile-engine/internal/resolver"
	"github.com/sells-group/profile-engine/internal/store"
)

// Options configure an Engine.
type Options struct {
	Registry        *model.FieldRegistry
	Store           store.Store
	Extractor       extract.Extractor
	Floors          resolver.Floors
	Weights         progress.Weights
	Rules           progress.ActivationRules
	IntakeIdle      time.Duration
	ConflictRetries int

	// Now is injectable for tests; defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine is the write path for profiles. All mutations for one profile
// are serialized; distinct profiles proceed in parallel.
type Engine struct {
	reg        *model.FieldRegistry
	store      store.Store
	res        *resolver.Resolver
	extractor  extract.Extractor
	controller *intake.Controller
	floors     resolver.Floors
	weights    progress.Weights
	rules      progress.ActivationRules
	retries    int
	now        func() time.Time

	ser *serializer
	ord *orderer
}

// New wires an Engine from options, applying operating defaults.
func New(opts Options) *Engine {
	if opts.Floors == (resolver.Floors{}) {
		opts.Floors = resolver.DefaultFloors
	}
	if opts.Weights == nil {
		opts.Weights = progress.DefaultWeights
	}
	if opts.Rules == (progress.ActivationRules{}) {
		opts.Rules = progress.DefaultActivationRules
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.Noop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	res := resolver.New(opts.Registry, opts.Floors)
	return &Engine{
		reg:        opts.Registry,
		store:      opts.Store,
		res:        res,
		extractor:  opts.Extractor,
		controller: intake.NewController(opts.Registry, res, opts.Floors, intake.DefaultScreens(opts.Registry), opts.IntakeIdle),
		floors:     opts.Floors,
		weights:    opts.Weights,
		rules:      opts.Rules,
		retries:    opts.ConflictRetries,
		now:        opts.Now,
		ser:        newSerializer(),
		ord:        newOrderer(),
	}
}

// ApplyMeta carries engagement context for an apply.
type ApplyMeta struct {
	// SessionID, when set, is recorded toward the session count.
	SessionID string
	// OpenEnded marks the batch as coming from substantive free-form
	// conversation.
	OpenEnded bool
}

// Apply resolves a batch of observations against a profile in order,
// commits what survives, and refreshes the progress snapshot. The
// batch is atomic: either the accepted subset lands together or, on an
// unresolvable write conflict, nothing does.
func (e *Engine) Apply(ctx context.Context, profileID string, observations []model.Observation, meta ApplyMeta) (*model.ApplyResult, error) {
	var result *model.ApplyResult
	err := e.ser.Do(ctx, profileID, func(ctx context.Context) error {
		var err error
		result, err = resilience.DoVal(ctx, resilience.ConflictRetryConfig(e.retries), func(ctx context.Context) (*model.ApplyResult, error) {
			return e.applyOnce(ctx, profileID, observations, meta)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyOnce is one optimistic attempt: fresh read, resolve, save.
func (e *Engine) applyOnce(ctx context.Context, profileID string, observations []model.Observation, meta ApplyMeta) (*model.ApplyResult, error) {
	now := e.now()
	p, err := store.GetOrCreateProfile(ctx, e.store, profileID, now)
	if err != nil {
		return nil, err
	}

	work := p.Clone()
	result := &model.ApplyResult{ProfileID: profileID}
	for _, obs := range observations {
		if rej := e.res.Apply(work, obs, now); rej != nil {
			result.Rejected = append(result.Rejected, *rej)
			continue
		}
		result.Accepted = append(result.Accepted, obs.Field)
	}

	if len(result.Accepted) > 0 {
		if err := e.store.SaveProfile(ctx, work); err != nil {
			return nil, err
		}
	}

	if _, err := e.refreshProgress(ctx, work, meta, now); err != nil {
		return nil, err
	}
	return result, nil
}

// HandleMessage extracts observations from one free-form message and
// applies them. Extraction for different messages runs concurrently,
// but results apply in the order the messages arrived. When the
// extraction backend is unavailable the message still counts toward
// engagement and the reply carries no observations.
func (e *Engine) HandleMessage(ctx context.Context, profileID, sessionID, message string) (*model.ApplyResult, error) {
	ticket := e.ord.Take(profileID)
	release := func() { e.ord.Done(profileID, ticket) }

	// Best-effort profile context for the extractor; an empty profile
	// is fine here since the authoritative read happens under Apply.
	p, err := e.store.GetProfile(ctx, profileID)
	if err != nil {
		if !store.IsNotFound(err) {
			release()
			return nil, err
		}
		p = model.NewProfile(profileID, e.now())
	}

	extracted, extractErr := e.extractor.Extract(ctx, p, message)
	if extractErr != nil && !errors.Is(extractErr, model.ErrExtractionUnavailable) {
		release()
		return nil, extractErr
	}

	if err := e.ord.Wait(ctx, profileID, ticket); err != nil {
		release()
		return nil, err
	}
	defer release()

	meta := ApplyMeta{SessionID: sessionID}
	var observations []model.Observation
	if extractErr != nil {
		zap.L().Info("message handled without extraction",
			zap.String("profile_id", profileID),
			zap.Error(extractErr),
		)
	} else {
		observations = extracted.Observations
		meta.OpenEnded = extracted.OpenEnded
	}
	return e.Apply(ctx, profileID, observations, meta)
}

// Progress recomputes completeness from current profile state so
// reads never serve a stale snapshot, while preserving the
// event-sourced engagement counters. The refresh writes the snapshot
// back, so it takes the profile's serialization slot like every other
// mutation; otherwise a read could race an Apply and clobber a
// just-incremented counter.
func (e *Engine) Progress(ctx context.Context, profileID string) (*model.TierProgress, error) {
	var tp *model.TierProgress
	err := e.ser.Do(ctx, profileID, func(ctx context.Context) error {
		p, err := e.store.GetProfile(ctx, profileID)
		if err != nil {
			return err
		}
		tp, err = e.refreshProgress(ctx, p, ApplyMeta{}, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return tp, nil
}

// IntakeIdle reports whether the profile's guided flow has been quiet
// long enough to warrant a re-engagement prompt. Pure query; prompt
// scheduling belongs to the caller.
func (e *Engine) IntakeIdle(ctx context.Context, profileID string) (bool, error) {
	st, err := e.store.GetIntakeState(ctx, profileID)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return e.controller.Idle(st, e.now()), nil
}

// NextScreen returns the guided-flow screen the profile is waiting on.
func (e *Engine) NextScreen(ctx context.Context, profileID string) (*intake.Screen, *model.IntakeState, error) {
	var screen *intake.Screen
	var state *model.IntakeState
	err := e.ser.Do(ctx, profileID, func(ctx context.Context) error {
		now := e.now()
		p, err := store.GetOrCreateProfile(ctx, e.store, profileID, now)
		if err != nil {
			return err
		}
		st, err := e.intakeState(ctx, profileID, now)
		if err != nil {
			return err
		}
		e.controller.Resume(st, now)
		screen = e.controller.Next(p, st)
		state = st
		return e.store.SaveIntakeState(ctx, st)
	})
	if err != nil {
		return nil, nil, err
	}
	return screen, state, nil
}

// AnswerScreen feeds one answer to the guided flow, persisting both
// the profile mutation and the advanced cursor.
func (e *Engine) AnswerScreen(ctx context.Context, profileID, sessionID, input string) (intake.AnswerResult, error) {
	var out intake.AnswerResult
	err := e.ser.Do(ctx, profileID, func(ctx context.Context) error {
		_, err := resilience.DoVal(ctx, resilience.ConflictRetryConfig(e.retries), func(ctx context.Context) (struct{}, error) {
			now := e.now()
			p, err := store.GetOrCreateProfile(ctx, e.store, profileID, now)
			if err != nil {
				return struct{}{}, err
			}
			st, err := e.intakeState(ctx, profileID, now)
			if err != nil {
				return struct{}{}, err
			}

			work := p.Clone()
			out = e.controller.Answer(work, st, input, now)

			if out.Accepted && changed(p, work) {
				if err := e.store.SaveProfile(ctx, work); err != nil {
					return struct{}{}, err
				}
			}
			if err := e.store.SaveIntakeState(ctx, st); err != nil {
				return struct{}{}, err
			}
			if out.Accepted {
				if _, err := e.refreshProgress(ctx, work, ApplyMeta{SessionID: sessionID}, now); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
		return err
	})
	return out, err
}

// intakeState loads the cursor, creating a fresh one on first contact.
func (e *Engine) intakeState(ctx context.Context, profileID string, now time.Time) (*model.IntakeState, error) {
	st, err := e.store.GetIntakeState(ctx, profileID)
	if err == nil {
		return st, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	return model.NewIntakeState(profileID, now), nil
}

// refreshProgress recomputes tier percentages and the gate decision
// from profile state, carrying engagement counters forward and folding
// in whatever the meta contributes.
func (e *Engine) refreshProgress(ctx context.Context, p *model.Profile, meta ApplyMeta, now time.Time) (*model.TierProgress, error) {
	tp, err := e.store.GetTierProgress(ctx, p.ID)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		tp = model.NewTierProgress(p.ID)
	}

	if meta.SessionID != "" {
		count, err := e.store.TouchSession(ctx, p.ID, meta.SessionID, now)
		if err != nil {
			return nil, err
		}
		tp.SessionCount = count
		if tp.FirstSessionAt == nil {
			t := now
			tp.FirstSessionAt = &t
		}
		t := now
		tp.LastSessionAt = &t
	}
	if meta.OpenEnded {
		tp.OpenEndedCount++
	}

	tp.TierPct = make(map[int]float64)
	tp.CompletedFields = make(map[int][]string)
	for _, tier := range e.reg.Tiers() {
		pct, done := progress.ComputeTier(e.reg, p, tier, e.floors.Signal)
		tp.TierPct[tier] = pct
		tp.CompletedFields[tier] = done
	}
	tp.TotalPct = progress.ComputeTotal(tp.TierPct, e.weights)

	decision := progress.EvaluateGate(e.reg, p, tp, e.rules, e.floors.Signal)
	// The stored decision mirrors a fresh evaluation: progress rows are
	// a cache, so a registry extension or threshold change shows up on
	// the next recompute instead of being masked by old state.
	if decision.Activated != tp.Activated {
		zap.L().Info("activation changed",
			zap.String("profile_id", p.ID),
			zap.Bool("activated", decision.Activated),
		)
	}
	tp.Activated = decision.Activated
	tp.Blockers = decision.Blockers
	tp.UpdatedAt = now

	if err := e.store.SaveTierProgress(ctx, tp); err != nil {
		return nil, err
	}
	return tp, nil
}

// changed reports whether the working copy differs from the original
// in any persisted dimension. Signal values come from JSON and may not
// be comparable, so this goes through reflect.
func changed(orig, work *model.Profile) bool {
	return !reflect.DeepEqual(orig.Attributes, work.Attributes) ||
		!reflect.DeepEqual(orig.Preferences, work.Preferences) ||
		!reflect.DeepEqual(orig.Signals, work.Signals)
}

// Controller exposes the intake flow for callers that present screens
// directly, e.g. the CLI.
func (e *Engine) Controller() *intake.Controller {
	return e.controller
}

// ProfileForView returns the profile for read-only presentation, or an
// empty one when the profile does not exist yet. Dynamic screen
// options are derived from it.
func (e *Engine) ProfileForView(ctx context.Context, profileID string) (*model.Profile, error) {
	p, err := e.store.GetProfile(ctx, profileID)
	if err != nil {
		if store.IsNotFound(err) {
			return model.NewProfile(profileID, e.now()), nil
		}
		return nil, err
	}
	return p, nil
}
