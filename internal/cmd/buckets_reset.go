package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vegeta897/slash-create/internal/output"
	"github.com/vegeta897/slash-create/internal/rest/store"
)

var (
	bucketsResetAll    bool
	bucketsResetKey    string
	bucketsResetPrefix string
	bucketsResetYes    bool
	bucketsResetDryRun bool
	bucketsResetOutput string
	bucketsResetOut    string
	bucketsResetOutDir string
)

var bucketsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset persisted bucket state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(bucketsResetOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.BucketQuery{
			All:    bucketsResetAll,
			Key:    strings.TrimSpace(bucketsResetKey),
			Prefix: strings.TrimSpace(bucketsResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !bucketsResetYes && !bucketsResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(bucketsResetOut)
		outDir := strings.TrimSpace(bucketsResetOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}
		ext := outputExtension(format)
		if outDir != "" {
			var err error
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("buckets.reset.%s", ext))
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if bucketsResetDryRun {
			return writeBucketsResetResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := db.ResetBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeBucketsResetResult(format, sink.writer, matched, deleted, false)
	},
}

func writeBucketsResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d bucket entr(ies)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d bucket entr(ies)\n", deleted, matched)
	return err
}

func init() {
	bucketsResetCmd.Flags().BoolVar(&bucketsResetAll, "all", false, "Reset all buckets")
	bucketsResetCmd.Flags().StringVar(&bucketsResetKey, "key", "", "Reset a single bucket key (exact match)")
	bucketsResetCmd.Flags().StringVar(&bucketsResetPrefix, "prefix", "", "Reset buckets with matching key prefix")
	bucketsResetCmd.Flags().BoolVar(&bucketsResetYes, "yes", false, "Confirm destructive reset")
	bucketsResetCmd.Flags().BoolVar(&bucketsResetDryRun, "dry-run", false, "Show what would be deleted")
	bucketsResetCmd.Flags().StringVar(&bucketsResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	bucketsResetCmd.Flags().StringVar(&bucketsResetOut, "out", "", "Write output to a file (default stdout)")
	bucketsResetCmd.Flags().StringVar(&bucketsResetOutDir, "out-dir", "", "Write output to a directory")
}
