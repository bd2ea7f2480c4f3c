package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/observability"
)

// infoLine prints one aligned "  Label:   value" row of envinfo output.
func infoLine(label, value string, fields ...zap.Field) {
	observability.CLILogger.Info(fmt.Sprintf("  %-16s %s", label+":", value), fields...)
}

func infoSection(title string) {
	observability.CLILogger.Info(title + ":")
}

func infoBlank() {
	observability.CLILogger.Info("")
}

func setStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		observability.CLILogger.Info("=== " + identity.BinaryName + " Environment Information ===")
		infoBlank()

		infoSection("Application")
		infoLine("Name", identity.BinaryName)
		infoLine("Version", versionInfo.Version)
		infoLine("Commit", versionInfo.Commit)
		infoLine("Built", versionInfo.BuildDate)
		infoBlank()

		infoSection("SSOT")
		infoLine("Gofulmen", version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		infoLine("Crucible", version.Crucible, zap.String("crucible_version", version.Crucible))
		infoBlank()

		infoSection("Runtime")
		infoLine("Go Version", runtime.Version(), zap.String("go_version", runtime.Version()))
		infoLine("GOOS", runtime.GOOS, zap.String("goos", runtime.GOOS))
		infoLine("GOARCH", runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		infoLine("NumCPU", fmt.Sprintf("%d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		infoBlank()

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		infoSection("Configuration")
		infoLine("Server Host", cfg.Server.Host, zap.String("host", cfg.Server.Host))
		infoLine("Server Port", fmt.Sprintf("%d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		infoLine("Log Level", cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		infoLine("Log Profile", cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		infoLine("DB Driver", cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		switch {
		case cfg.Store.Driver == "redis":
			infoLine("Redis Addr", cfg.Store.Redis.Addr, zap.String("redis_addr", cfg.Store.Redis.Addr))
		case strings.TrimSpace(cfg.Store.URL) != "":
			infoLine("DB URL", cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		default:
			infoLine("DB Path", cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		infoLine("Metrics Port", fmt.Sprintf("%d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		infoLine("Config File", config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		infoBlank()

		infoSection("API")
		infoLine("Base URL", cfg.API.BaseURL, zap.String("api_base_url", cfg.API.BaseURL))
		infoLine("Token", setStatus(cfg.API.Token))
		infoLine("Timeout", cfg.API.Timeout.String())
		if cfg.API.SmoothRate > 0 {
			infoLine("Smooth Rate", fmt.Sprintf("%.1f req/s (burst %d)", cfg.API.SmoothRate, cfg.API.SmoothBurst))
		} else {
			infoLine("Smooth Rate", "disabled")
		}
		infoBlank()

		infoSection("Dispatch")
		infoLine("Max Attempts", fmt.Sprintf("%d", cfg.Dispatch.MaxAttempts), zap.Int("max_attempts", cfg.Dispatch.MaxAttempts))
		infoLine("Base Backoff", cfg.Dispatch.BaseBackoff.String())
		infoLine("Max Backoff", cfg.Dispatch.MaxBackoff.String())
		infoLine("Global Limit", fmt.Sprintf("%d per %s", cfg.Dispatch.GlobalLimit, cfg.Dispatch.GlobalWindow))
		infoLine("Bucket TTL", cfg.Dispatch.BucketTTL.String())
		if len(cfg.Dispatch.MajorResources) > 0 {
			infoLine("Major Resources", fmt.Sprintf("%v", cfg.Dispatch.MajorResources))
		}
		infoLine("Persist", fmt.Sprintf("%t", cfg.Dispatch.Persist), zap.Bool("persist", cfg.Dispatch.Persist))
		infoLine("Workers", fmt.Sprintf("%d", cfg.Workers), zap.Int("workers", cfg.Workers))
		infoBlank()

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
