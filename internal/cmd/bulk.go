package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/dispatch"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/output"
	"github.com/vegeta897/slash-create/internal/rest"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk <file>",
	Short: "Dispatch multiple requests from file",
	Long:  "Read request specs from a YAML or JSON file and dispatch them through the rate limit scheduler",
	Args:  cobra.ExactArgs(1),
	RunE:  runBulk,
}

func init() {
	rootCmd.AddCommand(bulkCmd)

	bulkCmd.Flags().Int("concurrency", 0, "Concurrent dispatch workers (0 uses the workers setting)")
	bulkCmd.Flags().Bool("failures-only", false, "Only list requests that did not succeed")
	bulkCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	bulkCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	bulkCmd.Flags().String("out-dir", "", "Write output to a directory")
	bulkCmd.Flags().Bool("no-persist", false, "Skip persisted rate limit state")
}

func runBulk(cmd *cobra.Command, args []string) error {
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency < 0 {
		return errors.New("concurrency must be at least 1")
	}

	failuresOnly, err := cmd.Flags().GetBool("failures-only")
	if err != nil {
		return err
	}
	noPersist, err := cmd.Flags().GetBool("no-persist")
	if err != nil {
		return err
	}

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	specs, err := readBulkSpecs(args[0])
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("no requests found in file")
	}

	ctx := cmd.Context()
	startedAt := time.Now()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var bucketStore rest.BucketStore
	if cfg.Dispatch.Persist && !noPersist {
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup; errors logged internally
		bucketStore = db
	}

	if concurrency == 0 {
		concurrency = cfg.Workers
	}
	if concurrency < 1 {
		concurrency = 1
	}

	dispatcher := dispatch.NewDispatcher(cfg, observability.CLILogger, bucketStore)
	defer closeDispatcher(dispatcher, cfg)

	summary := dispatch.RunBulk(ctx, dispatcher, specs, concurrency)
	if failuresOnly {
		summary.Results = filterFailures(summary.Results)
	}

	if outDir != "" {
		resolved, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		name := sanitizeFilename(strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])))
		outPath = filepath.Join(resolved, fmt.Sprintf("bulk.%s.%s", name, outputExtension(format)))
	}
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	formatter := output.NewFormatter(format)
	rendered, err := formatter.FormatSummary(summary)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rendered) != "" {
		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}
	}

	if format != output.FormatJSON {
		logThroughput(summary.Total, startedAt)
	}
	return nil
}

// bulkSpec is the file-side shape of a request. Body accepts either a
// structured value or a string already holding JSON.
type bulkSpec struct {
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Body    any               `yaml:"body"`
	Reason  string            `yaml:"reason"`
}

// readBulkSpecs parses a YAML or JSON file into request specs. The
// document is either a bare sequence or a mapping with a requests key.
func readBulkSpecs(path string) ([]dispatch.RequestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []bulkSpec
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Requests []bulkSpec `yaml:"requests"`
		}
		if wrapErr := yaml.Unmarshal(data, &wrapped); wrapErr != nil {
			return nil, fmt.Errorf("parse request file: %w", err)
		}
		entries = wrapped.Requests
	}

	specs := make([]dispatch.RequestSpec, 0, len(entries))
	for i, entry := range entries {
		body, err := encodeBulkBody(entry.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid request %d: %w", i+1, err)
		}
		spec := dispatch.RequestSpec{
			Method:  strings.ToUpper(strings.TrimSpace(entry.Method)),
			Path:    strings.TrimSpace(entry.Path),
			Headers: entry.Headers,
			Body:    body,
			Reason:  strings.TrimSpace(entry.Reason),
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid request %d: %w", i+1, err)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// encodeBulkBody turns the YAML body value into the JSON the API sees.
// String bodies are taken as raw JSON; anything else is marshaled.
func encodeBulkBody(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}
		if !json.Valid([]byte(trimmed)) {
			return nil, errors.New("body string must hold valid JSON")
		}
		return json.RawMessage(trimmed), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return payload, nil
	}
}

func filterFailures(results []*dispatch.SendResult) []*dispatch.SendResult {
	filtered := make([]*dispatch.SendResult, 0, len(results))
	for _, result := range results {
		if result == nil || result.Outcome == dispatch.OutcomeSuccess {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
