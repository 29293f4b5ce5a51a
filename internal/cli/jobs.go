package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// NewScheduleCmd enqueues the advance and day-of notifications for one
// competition. Safe to re-run.
func NewScheduleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <competitionId>",
		Short: "Schedule notifications and emails for a competition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.services.Scheduler.ScheduleCompetitionNotifications(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

// NewFinalizeCmd completes a competition and dispatches its results.
func NewFinalizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <competitionId>",
		Short: "Finalize a competition: rank attempts, grant rewards, send results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.services.Competitions.Finalize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
