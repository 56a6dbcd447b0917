package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/profile-engine/internal/intake"
)

var intakeProfileID string

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Walk the guided intake flow from the terminal",
	Long:  "Steps through the guided intake screens interactively, reading answers from stdin. Useful for exercising the flow against a local store without the HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(cmd.Context()); err != nil {
			return err
		}

		profileID := intakeProfileID
		if profileID == "" {
			profileID = uuid.New().String()
			fmt.Fprintf(cmd.OutOrStdout(), "profile: %s\n", profileID)
		}
		sessionID := uuid.New().String()

		out := cmd.OutOrStdout()
		in := bufio.NewScanner(cmd.InOrStdin())
		for {
			screen, _, err := env.engine.NextScreen(cmd.Context(), profileID)
			if err != nil {
				return eris.Wrap(err, "next screen")
			}
			if screen == nil {
				fmt.Fprintln(out, "Intake complete.")
				return nil
			}

			p, err := env.engine.ProfileForView(cmd.Context(), profileID)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, screen.EffectivePrompt(p))
			if screen.Kind == intake.KindMessage {
				res, err := env.engine.AnswerScreen(cmd.Context(), profileID, sessionID, "")
				if err != nil {
					return eris.Wrap(err, "advance screen")
				}
				if res.Done {
					fmt.Fprintln(out, "Intake complete.")
					return nil
				}
				continue
			}

			if opts := screen.EffectiveOptions(p); len(opts) > 0 {
				fmt.Fprintf(out, "  [%s]\n", strings.Join(opts, " | "))
			}

			fmt.Fprint(out, "> ")
			if !in.Scan() {
				return in.Err()
			}

			res, err := env.engine.AnswerScreen(cmd.Context(), profileID, sessionID, strings.TrimSpace(in.Text()))
			if err != nil {
				return eris.Wrap(err, "answer screen")
			}
			if res.Reply != "" {
				fmt.Fprintln(out, res.Reply)
			}
			if res.Done {
				fmt.Fprintln(out, "Intake complete.")
				return nil
			}
		}
	},
}

func init() {
	intakeCmd.Flags().StringVar(&intakeProfileID, "profile", "", "profile ID to resume (a new one is generated when omitted)")
	rootCmd.AddCommand(intakeCmd)
}
