package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/config"
	errwrap "github.com/vegeta897/slash-create/internal/errors"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/rest/store"
)

// diagnostics numbers the doctor checks and tracks the overall verdict.
type diagnostics struct {
	total int
	step  int
	allOK bool
}

func newDiagnostics(total int) *diagnostics {
	return &diagnostics{total: total, allOK: true}
}

func (d *diagnostics) pass(label, detail string, fields ...zap.Field) {
	d.step++
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", d.step, d.total, label, detail), fields...)
}

// warn reports a non-fatal finding without failing the overall verdict.
func (d *diagnostics) warn(label, detail string, fields ...zap.Field) {
	d.step++
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", d.step, d.total, label, detail), fields...)
}

func (d *diagnostics) fail(label, detail string, fields ...zap.Field) {
	d.step++
	d.allOK = false
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", d.step, d.total, label, detail), fields...)
}

func (d *diagnostics) failHard(label, detail string) {
	d.step++
	d.allOK = false
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", d.step, d.total, label, detail))
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		observability.CLILogger.Info("=== " + bannerName + " ===")
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Running diagnostic checks...")
		observability.CLILogger.Info("")

		d := newDiagnostics(8)

		// Check 1: Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			d.pass("Go version", goVersion, zap.String("go_version", goVersion))
		} else {
			d.fail("Go version", goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
		}

		// Check 2: Crucible access
		version := crucible.GetVersion()
		if version.Crucible != "" {
			d.pass("Crucible access", "v"+version.Crucible, zap.String("crucible_version", version.Crucible))
		} else {
			d.failHard("Crucible access", "Cannot access Crucible")
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewExternalServiceError("Crucible service unavailable"))
		}

		// Check 3: Gofulmen access
		if version.Gofulmen != "" {
			d.pass("Gofulmen access", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		} else {
			d.failHard("Gofulmen access", "Cannot access Gofulmen")
		}

		// Check 4: Config directory
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			d.failHard("config directory", "Cannot resolve config directory")
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
		} else {
			configDir := filepath.Dir(configPath)
			d.pass("config directory", configDir, zap.String("config_dir", configDir))
		}

		// Check 5: Environment
		d.pass("environment", runtime.GOOS+"/"+runtime.GOARCH,
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		// Check 6: Database
		cfg, cfgErr := config.Load(ctx)
		switch {
		case cfgErr != nil:
			d.fail("database", "config not loaded", zap.Error(cfgErr))
		case cfg.Store.Driver == "redis":
			d.pass("database", "redis://"+cfg.Store.Redis.Addr, zap.String("redis_addr", cfg.Store.Redis.Addr))
		case cfg.Store.URL != "":
			d.pass("database", cfg.Store.URL+" (remote)", zap.String("db_url", cfg.Store.URL))
		default:
			d.checkLocalDatabase(cfg)
		}

		// Check 7: Bucket store
		if cfgErr != nil {
			d.warn("bucket store", "skipped (config not loaded)")
		} else {
			d.checkBucketStore(ctx)
		}

		// Check 8: API token
		switch {
		case cfgErr != nil:
			d.warn("API token", "skipped (config not loaded)")
		case strings.TrimSpace(cfg.API.Token) != "":
			d.pass("API token", "configured")
		default:
			d.warn("API token", fmt.Sprintf("not configured (set %s or DISCORD_TOKEN)", tokenEnvName(identity)))
			observability.CLILogger.Info("       Authenticated endpoints reject requests without a token.")
		}

		observability.CLILogger.Info("")
		if d.allOK {
			appName := "slash-create"
			if identity != nil && identity.BinaryName != "" {
				appName = identity.BinaryName
			}
			observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
		} else {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		observability.CLILogger.Info("")
		observability.CLILogger.Info("=== End Diagnostics ===")
	},
}

// checkLocalDatabase reports on the libsql database file backing the store.
func (d *diagnostics) checkLocalDatabase(cfg *config.Config) {
	absPath, _ := filepath.Abs(localStorePath(cfg))
	info, statErr := os.Stat(absPath)
	switch {
	case statErr == nil:
		d.pass("database", fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size())),
			zap.String("db_path", absPath),
			zap.Int64("db_size", info.Size()))
	case os.IsNotExist(statErr):
		d.warn("database", absPath+" (not created yet)", zap.String("db_path", absPath))
	default:
		d.fail("database", fmt.Sprintf("%s (error: %v)", absPath, statErr),
			zap.String("db_path", absPath),
			zap.Error(statErr))
	}
}

// checkBucketStore opens the configured store and counts persisted buckets.
func (d *diagnostics) checkBucketStore(ctx context.Context) {
	db, storeErr := openStore(ctx)
	if storeErr != nil {
		d.fail("bucket store", "cannot open store", zap.Error(storeErr))
		return
	}
	defer db.Close() //nolint:errcheck

	count, countErr := db.CountBuckets(ctx, store.BucketQuery{All: true})
	if countErr != nil {
		d.fail("bucket store", "cannot read bucket state", zap.Error(countErr))
		return
	}
	d.pass("bucket store", fmt.Sprintf("%d bucket(s) persisted", count), zap.Int("bucket_count", count))
}

var (
	doctorInitForce   bool
	doctorInitToken   string
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		token := strings.TrimSpace(doctorInitToken)
		if strings.EqualFold(token, "prompt") {
			value, err := promptForValue("Enter API token (leave blank to skip): ")
			if err != nil {
				return err
			}
			token = value
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		// Config files holding a token are not world-readable.
		mode := os.FileMode(0644)
		if token != "" {
			mode = 0600
		}

		if err := os.WriteFile(configPath, []byte(buildInitConfig(token)), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info(fmt.Sprintf("  Config file:   %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		reportDirectory("Data directory", config.DefaultDataDir())
		reportDirectory("Cache directory", config.DefaultCacheDir())

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		reportDatabaseStatus(cfg)
		reportBucketStoreStatus(cmd.Context())

		envName := tokenEnvName(GetAppIdentity())
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Environment:")
		observability.CLILogger.Info("  " + envName + ": " + envStatus(envName))
		observability.CLILogger.Info("  DISCORD_TOKEN: " + envStatus("DISCORD_TOKEN"))

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Effective Settings:")
		observability.CLILogger.Info("  api.base_url: " + cfg.API.BaseURL)
		observability.CLILogger.Info(fmt.Sprintf("  dispatch.persist: %t", cfg.Dispatch.Persist))

		return nil
	},
}

func reportDirectory(label, dir string) {
	if dir == "" {
		observability.CLILogger.Info(fmt.Sprintf("  %s: (not resolved)", label))
		return
	}
	observability.CLILogger.Info(fmt.Sprintf("  %s: %s (%s)", label, dir, existenceStatus(fileExists(dir))))
}

func reportDatabaseStatus(cfg *config.Config) {
	if cfg.Store.Driver == "redis" {
		observability.CLILogger.Info("  Database:      redis://" + cfg.Store.Redis.Addr)
		return
	}
	if cfg.Store.URL != "" {
		observability.CLILogger.Info(fmt.Sprintf("  Database:      %s (remote)", cfg.Store.URL))
		return
	}

	absPath, _ := filepath.Abs(localStorePath(cfg))
	if info, statErr := os.Stat(absPath); statErr == nil {
		observability.CLILogger.Info(fmt.Sprintf("  Database:      %s (%s)", absPath, formatFileSize(info.Size())))
	} else if os.IsNotExist(statErr) {
		observability.CLILogger.Info(fmt.Sprintf("  Database:      %s (not created yet)", absPath))
	} else {
		observability.CLILogger.Warn("Database status error", zap.String("db_path", absPath), zap.Error(statErr))
	}
}

func reportBucketStoreStatus(ctx context.Context) {
	db, storeErr := openStore(ctx)
	if storeErr != nil {
		observability.CLILogger.Warn("Bucket store: not initialized (cannot open store)", zap.Error(storeErr))
		return
	}
	defer db.Close() //nolint:errcheck

	count, countErr := db.CountBuckets(ctx, store.BucketQuery{All: true})
	if countErr != nil {
		observability.CLILogger.Warn("Bucket store: not initialized (state unavailable)", zap.Error(countErr))
		return
	}
	observability.CLILogger.Info(fmt.Sprintf("  Bucket store:  %d bucket(s) persisted", count))
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := removeReporting(configPath, "Config"); err != nil {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.Driver == "redis" {
				return fmt.Errorf("redis store configured; use 'buckets reset' instead")
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			absPath, _ := filepath.Abs(localStorePath(cfg))
			if err := removeReporting(absPath, "Database"); err != nil {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

// removeReporting deletes path, treating an already-missing file as success.
func removeReporting(path, what string) error {
	err := os.Remove(path)
	switch {
	case err == nil:
		observability.CLILogger.Info(what+" removed", zap.String("path", path))
	case os.IsNotExist(err):
		observability.CLILogger.Info(what+" already removed", zap.String("path", path))
	default:
		return err
	}
	return nil
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitToken, "token", "", "set api token or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// localStorePath returns the configured database path, defaulting to the
// standard data-dir location.
func localStorePath(cfg *config.Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return config.DefaultStorePath()
}

// tokenEnvName returns the identity-prefixed API token env var name.
func tokenEnvName(identity *appidentity.Identity) string {
	if identity != nil && identity.EnvPrefix != "" {
		return identity.EnvPrefix + "API_TOKEN"
	}
	return "API_TOKEN"
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	units := []struct {
		limit int64
		name  string
	}{
		{1 << 30, "GB"},
		{1 << 20, "MB"},
		{1 << 10, "KB"},
	}
	for _, unit := range units {
		if bytes >= unit.limit {
			return fmt.Sprintf("%.1f %s", float64(bytes)/float64(unit.limit), unit.name)
		}
	}
	return fmt.Sprintf("%d bytes", bytes)
}

func buildInitConfig(token string) string {
	lines := []string{
		"# slash-create config - created by 'slash-create doctor init'",
		"api:",
		"  base_url: https://discord.com/api/v10",
	}

	if strings.TrimSpace(token) != "" {
		lines = append(lines, fmt.Sprintf("  token: %q", token))
	} else {
		lines = append(lines, "  # token: \"\"  # Set via SLASH_CREATE_API_TOKEN or DISCORD_TOKEN, or uncomment")
	}

	lines = append(lines,
		"dispatch:",
		"  max_attempts: 3",
		"  global_limit: 50",
		"  global_window: 1s",
		"  persist: true",
		"store:",
		"  driver: libsql",
	)

	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
