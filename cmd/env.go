package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-engine/internal/config"
	"github.com/sells-group/profile-engine/internal/engine"
	"github.com/sells-group/profile-engine/internal/extract"
	"github.com/sells-group/profile-engine/internal/progress"
	"github.com/sells-group/profile-engine/internal/registry"
	"github.com/sells-group/profile-engine/internal/resolver"
	"github.com/sells-group/profile-engine/internal/store"
	"github.com/sells-group/profile-engine/pkg/anthropic"
)

// env bundles the wired subsystems a command needs.
type env struct {
	store  store.Store
	engine *engine.Engine
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEngine wires registry, store, extractor, and engine from config.
func initEngine(ctx context.Context, cfg *config.Config) (*env, error) {
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var extractor extract.Extractor = extract.Noop{}
	if cfg.Extractor.Key != "" {
		extractor = extract.NewAnthropic(anthropic.NewClient(cfg.Extractor.Key), reg, extract.AnthropicConfig{
			Model:      cfg.Extractor.Model,
			MaxTokens:  cfg.Extractor.MaxTokens,
			RatePerSec: cfg.Extractor.RatePerSec,
			RateBurst:  cfg.Extractor.RateBurst,
		})
	} else {
		zap.L().Warn("no extractor key configured, free-form extraction disabled")
	}

	eng := engine.New(engine.Options{
		Registry:  reg,
		Store:     st,
		Extractor: extractor,
		Floors: resolver.Floors{
			Tier1:  cfg.Engine.Floors.Tier1,
			Signal: cfg.Engine.Floors.Signal,
		},
		Weights: progress.Weights(cfg.Engine.Weights),
		Rules: progress.ActivationRules{
			Tier2Min:     cfg.Engine.Activation.Tier2Min,
			TotalMin:     cfg.Engine.Activation.TotalMin,
			MinOpenEnded: cfg.Engine.Activation.MinOpenEnded,
			MinSessions:  cfg.Engine.Activation.MinSessions,
		},
		IntakeIdle:      time.Duration(cfg.Intake.IdleMinutes) * time.Minute,
		ConflictRetries: cfg.Engine.ConflictRetries,
	})

	return &env{store: st, engine: eng}, nil
}
