package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/dispatch"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/output"
	"github.com/vegeta897/slash-create/internal/rest"
)

var sendCmd = &cobra.Command{
	Use:   "send <method> <path>",
	Short: "Dispatch a single API request",
	Long:  "Dispatch one request against the configured API, honoring discovered rate limits",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().String("body", "", "Inline JSON request body")
	sendCmd.Flags().String("body-file", "", "Read JSON request body from file (- for stdin)")
	sendCmd.Flags().String("reason", "", "Audit log reason for mutating calls")
	sendCmd.Flags().StringSlice("header", nil, "Extra request headers (Name: value)")
	sendCmd.Flags().StringSlice("file", nil, "Attach a file (repeatable; path or name=path)")
	sendCmd.Flags().Duration("timeout", 0, "Deadline for the dispatch (0 waits indefinitely)")
	sendCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	sendCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	sendCmd.Flags().String("out-dir", "", "Write output to a directory")
	sendCmd.Flags().Bool("no-persist", false, "Skip persisted rate limit state")
}

func runSend(cmd *cobra.Command, args []string) error {
	method := strings.ToUpper(strings.TrimSpace(args[0]))
	path := strings.TrimSpace(args[1])

	bodyInline, err := cmd.Flags().GetString("body")
	if err != nil {
		return err
	}
	bodyFile, err := cmd.Flags().GetString("body-file")
	if err != nil {
		return err
	}
	reason, err := cmd.Flags().GetString("reason")
	if err != nil {
		return err
	}
	headerValues, err := cmd.Flags().GetStringSlice("header")
	if err != nil {
		return err
	}
	fileValues, err := cmd.Flags().GetStringSlice("file")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
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

	body, err := readSpecBody(bodyInline, bodyFile)
	if err != nil {
		return err
	}

	headers, err := parseHeaderFlags(headerValues)
	if err != nil {
		return err
	}

	files, err := readAttachments(fileValues)
	if err != nil {
		return err
	}

	spec := dispatch.RequestSpec{
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
		Reason:  strings.TrimSpace(reason),
		Files:   files,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
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

	dispatcher := dispatch.NewDispatcher(cfg, observability.CLILogger, bucketStore)
	defer closeDispatcher(dispatcher, cfg)

	result := dispatch.Send(ctx, dispatcher, spec)

	if outDir != "" {
		resolved, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = sendOutputPath(resolved, method, path, format)
	}
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	formatter := output.NewFormatter(format)
	rendered, err := formatter.FormatResult(result)
	if err != nil {
		return err
	}
	if rendered != "" {
		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}
	}

	if format != output.FormatJSON {
		logThroughput(1, startedAt)
	}

	switch result.Outcome {
	case dispatch.OutcomeSuccess, dispatch.OutcomeRejected:
		return nil
	default:
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("dispatch %s: %s", result.Outcome, result.Message)
	}
}

// readSpecBody resolves the request body from the inline flag or a file.
// A file path of "-" reads stdin.
func readSpecBody(inline, file string) (json.RawMessage, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	if inline != "" && file != "" {
		return nil, errors.New("--body and --body-file are mutually exclusive")
	}

	var raw []byte
	switch {
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read body from stdin: %w", err)
		}
		raw = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		raw = data
	case inline != "":
		raw = []byte(inline)
	default:
		return nil, nil
	}

	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("body must be valid JSON")
	}
	return json.RawMessage(raw), nil
}

// readAttachments loads repeated --file values into attachments. Each
// value is a path, optionally prefixed with the attachment name as
// name=path; bare paths use their basename.
func readAttachments(values []string) ([]rest.File, error) {
	if len(values) == 0 {
		return nil, nil
	}

	files := make([]rest.File, 0, len(values))
	for _, value := range values {
		name, path, found := strings.Cut(value, "=")
		if !found {
			name, path = "", value
		}
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if path == "" {
			return nil, fmt.Errorf("invalid attachment %q (empty path)", value)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		if name == "" {
			name = filepath.Base(path)
		}
		files = append(files, rest.File{Name: name, Data: data})
	}
	return files, nil
}

// parseHeaderFlags converts repeated "Name: value" flags into a header
// map. Values keep embedded colons; names must be non-empty.
func parseHeaderFlags(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(values))
	for _, value := range values {
		name, val, found := strings.Cut(value, ":")
		if !found {
			return nil, fmt.Errorf("invalid header %q (expected Name: value)", value)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid header %q (empty name)", value)
		}
		headers[name] = strings.TrimSpace(val)
	}
	return headers, nil
}

// sendOutputPath builds a per-request filename inside the output
// directory, keyed on method and path.
func sendOutputPath(dir, method, path string, format output.Format) string {
	base := sanitizeFilename(fmt.Sprintf("%s.%s", strings.ToLower(method), path))
	return fmt.Sprintf("%s/send.%s.%s", dir, base, outputExtension(format))
}

// closeDispatcher drains the dispatcher within the configured shutdown
// window so persisted bucket state lands before the process exits.
func closeDispatcher(d *rest.Dispatcher, cfg *config.Config) {
	timeout := 10 * time.Second
	if cfg != nil && cfg.Server.ShutdownTimeout > 0 {
		timeout = cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		observability.CLILogger.Warn("Dispatcher close failed", zap.Error(err))
	}
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(count) / elapsed.Seconds()
	observability.CLILogger.Info(
		"Dispatch throughput",
		zap.Int("requests", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", rate),
	)
}
