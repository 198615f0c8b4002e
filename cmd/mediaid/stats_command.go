package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/fingerprint"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fingerprint service totals and top contributors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			hc, err := newHashClient(cfg, "")
			if err != nil {
				return err
			}
			stats, err := hc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
}

func renderStats(s *fingerprint.Stats) string {
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"hashes", strconv.FormatInt(s.TotalHashes, 10)},
			{"submissions", strconv.FormatInt(s.TotalSubmissions, 10)},
			{"queries", strconv.FormatInt(s.TotalQueries, 10)},
			{"average confidence", fmt.Sprintf("%.2f", s.AverageConfidence)},
			{"submissions (24h)", strconv.FormatInt(s.RecentSubmissions, 10)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))
	if len(s.TopContributors) == 0 {
		return b.String()
	}

	rows := make([][]string, 0, len(s.TopContributors))
	for _, c := range s.TopContributors {
		rows = append(rows, []string{c.Bucket, strconv.FormatInt(c.Submissions, 10)})
	}
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Contributor", "Submissions"}, rows, []columnAlignment{alignLeft, alignRight}))
	return b.String()
}
