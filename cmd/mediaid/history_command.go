package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/scan"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans recorded in the client database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			database, err := ctx.openClientDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			entries, err := scan.RecentScans(cmd.Context(), database, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of scans to show")
	return cmd
}

func renderHistory(entries []scan.HistoryEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		duration := "-"
		if !e.FinishedAt.IsZero() {
			duration = e.FinishedAt.Sub(e.StartedAt).String()
		}
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Status,
			e.TriggeredBy,
			duration,
			strconv.FormatInt(e.Candidates, 10),
			strconv.FormatInt(e.HashHits, 10),
			strconv.FormatInt(e.Resolved, 10),
			strconv.FormatInt(e.Unresolved, 10),
			strconv.FormatInt(e.Submitted, 10),
			strconv.FormatInt(e.Errors, 10),
		})
	}
	return renderTable(
		[]string{"Started", "Status", "Trigger", "Duration", "Files", "Hits", "Identified", "Unresolved", "Submitted", "Errors"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}
