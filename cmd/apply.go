package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-engine/internal/engine"
	"github.com/sells-group/profile-engine/internal/model"
)

var (
	applyFile        string
	applyConcurrency int
)

// applyBatch is one profile's worth of observations in the input file.
type applyBatch struct {
	ProfileID    string              `json:"profile_id"`
	SessionID    string              `json:"session_id,omitempty"`
	OpenEnded    bool                `json:"open_ended,omitempty"`
	Observations []model.Observation `json:"observations"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply observation batches from a JSON file",
	Long:  "Reads a JSON array of per-profile observation batches and applies them. Batches for distinct profiles run in parallel; the engine serializes writes per profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(applyFile)
		if err != nil {
			return eris.Wrap(err, "read input file")
		}
		var batches []applyBatch
		if err := json.Unmarshal(raw, &batches); err != nil {
			return eris.Wrap(err, "parse input file")
		}
		if len(batches) == 0 {
			return eris.New("input file contains no batches")
		}

		env, err := initEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(cmd.Context()); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(applyConcurrency)
		results := make([]*model.ApplyResult, len(batches))
		for i, b := range batches {
			i, b := i, b
			g.Go(func() error {
				res, err := env.engine.Apply(ctx, b.ProfileID, b.Observations,
					engine.ApplyMeta{SessionID: b.SessionID, OpenEnded: b.OpenEnded})
				if err != nil {
					return eris.Wrapf(err, "apply batch for %s", b.ProfileID)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, res := range results {
			zap.L().Info("batch applied",
				zap.String("profile_id", res.ProfileID),
				zap.Int("accepted", len(res.Accepted)),
				zap.Int("rejected", len(res.Rejected)),
			)
		}

		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal results")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "JSON file of observation batches (required)")
	applyCmd.Flags().IntVar(&applyConcurrency, "concurrency", 4, "max profiles applied in parallel")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
