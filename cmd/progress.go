package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <profile-id>",
	Short: "Show a profile's completeness and activation status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		tp, err := env.engine.Progress(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "progress for %s", args[0])
		}

		out, err := json.MarshalIndent(tp, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal progress")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
}
