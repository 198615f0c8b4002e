package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/config"
	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/media"
	"github.com/eargollo/mediaid/internal/scan"
)

func newLookupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <hash|file>",
		Short: "Query the fingerprint service for a hash or a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			hash, err := hashArgument(cmd, cfg, args[0])
			if err != nil {
				return err
			}

			hc, err := newHashClient(cfg, "")
			if err != nil {
				return err
			}
			rec, err := hc.Lookup(cmd.Context(), hash)
			if errors.Is(err, errs.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not known to the fingerprint service\n", hash)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRecord(rec))
			return nil
		},
	}
}

// hashArgument returns arg unchanged when it names no existing file, and the
// fingerprint of the file otherwise.
func hashArgument(cmd *cobra.Command, cfg *config.Config, arg string) (string, error) {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return fingerprint.NormalizeHash(arg)
	}
	name := filepath.Base(arg)
	c := scan.Candidate{
		Path:    arg,
		Name:    name,
		Kind:    media.Classify(arg, name),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	hash, err := newBaseHasher(cfg).Hash(cmd.Context(), c)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", arg, hash)
	return hash, nil
}

func renderRecord(rec *fingerprint.Record) string {
	rows := [][]string{
		{"hash", rec.Hash},
		{"confidence", fmt.Sprintf("%.2f", rec.Confidence)},
		{"submissions", fmt.Sprintf("%d", rec.SubmissionCount)},
	}
	if !rec.LastUpdated.IsZero() {
		rows = append(rows, []string{"last updated", rec.LastUpdated.Local().Format("2006-01-02 15:04")})
	}

	keys := make([]string, 0, len(rec.MediaData))
	for k := range rec.MediaData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(rec.MediaData[k])})
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}
