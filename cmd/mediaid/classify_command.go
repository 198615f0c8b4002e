package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/media"
	"github.com/eargollo/mediaid/internal/resolve"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var doResolve bool

	cmd := &cobra.Command{
		Use:   "classify <path>...",
		Short: "Show how file paths are classified and parsed",
		Long: `Classify each path as movie, tv or unknown and show the title, year and
episode recovered from the file name. With --resolve, also search the
metadata provider the way a scan would.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var resolver *resolve.Resolver
			if doResolve {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return fmt.Errorf("load configuration: %w", err)
				}
				if resolver, err = newResolver(cfg); err != nil {
					return err
				}
			}

			rows := make([][]string, 0, len(args))
			for _, path := range args {
				row := classifyRow(path)
				if resolver != nil {
					row = append(row, resolveColumns(cmd, resolver, path)...)
				}
				rows = append(rows, row)
			}

			headers := []string{"File", "Kind", "Rule", "Title", "Year", "Episode"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}
			if resolver != nil {
				headers = append(headers, "Match", "Method", "Confidence")
				aligns = append(aligns, alignLeft, alignLeft, alignRight)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().BoolVar(&doResolve, "resolve", false, "Also search the metadata provider")
	return cmd
}

func classifyRow(path string) []string {
	name := filepath.Base(path)
	kind, rule := media.ClassifyWithRule(path, name)
	parsed := media.ParseName(name)
	if rule == "" {
		rule = "-"
	}
	return []string{name, kind.String(), rule, parsed.Title, parsed.Year, episodeLabel(parsed)}
}

func episodeLabel(n media.Name) string {
	if n.Season == 0 && n.Episode == 0 {
		return ""
	}
	return fmt.Sprintf("S%02dE%02d", n.Season, n.Episode)
}

func resolveColumns(cmd *cobra.Command, resolver *resolve.Resolver, path string) []string {
	name := filepath.Base(path)
	parsed := media.ParseName(name)
	m, err := resolver.Resolve(cmd.Context(), resolve.Query{
		RawTitle: parsed.Title,
		Year:     parsed.Year,
		Kind:     media.Classify(path, name),
		Path:     path,
	})
	if err != nil {
		return []string{"error: " + err.Error(), "", ""}
	}
	match := m.Result.DisplayTitle()
	if y := m.Result.Year(); y != "" {
		match += " (" + y + ")"
	}
	return []string{match, m.Method(), strconv.FormatFloat(m.Confidence(), 'f', 2, 64)}
}
