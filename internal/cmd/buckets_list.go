package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/vegeta897/slash-create/internal/output"
	"github.com/vegeta897/slash-create/internal/rest"
	"github.com/vegeta897/slash-create/internal/rest/store"
)

var (
	bucketsListOutput string
	bucketsListOut    string
	bucketsListOutDir string
	bucketsListAll    bool
	bucketsListPrefix string
)

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted bucket state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(bucketsListOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.BucketQuery{
			All:    bucketsListAll,
			Prefix: strings.TrimSpace(bucketsListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		records, err := db.ListBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(bucketsListOut)
		outDir := strings.TrimSpace(bucketsListOutDir)
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
			outPath = filepath.Join(outDir, fmt.Sprintf("buckets.list.%s", ext))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(sink.writer, string(payload))
			return err
		}

		lines := []string{"Rate Limit Buckets", ""}
		if len(records) == 0 {
			lines = append(lines, "(no persisted bucket state)")
			_, _ = fmt.Fprint(sink.writer, ascii.DrawBox(strings.Join(lines, "\n"), 0))
			return nil
		}

		for _, record := range records {
			lines = append(lines, formatBucketLine(record))
		}

		_, _ = fmt.Fprint(sink.writer, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return nil
	},
}

func formatBucketLine(record rest.BucketRecord) string {
	bucket := record.BucketID
	if bucket == "" {
		bucket = "-"
	}
	reset := "-"
	if !record.ResetAt.IsZero() {
		reset = record.ResetAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s: bucket=%s remaining=%d/%d reset_at=%s", record.Key, bucket, record.Remaining, record.Limit, reset)
}

func init() {
	bucketsListCmd.Flags().StringVar(&bucketsListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	bucketsListCmd.Flags().StringVar(&bucketsListOut, "out", "", "Write output to a file (default stdout)")
	bucketsListCmd.Flags().StringVar(&bucketsListOutDir, "out-dir", "", "Write output to a directory")
	bucketsListCmd.Flags().BoolVar(&bucketsListAll, "all", false, "List all buckets")
	bucketsListCmd.Flags().StringVar(&bucketsListPrefix, "prefix", "", "List buckets with matching key prefix")
}
