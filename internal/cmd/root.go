package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/appid"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/rest"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// App identity loaded from .fulmen/app.yaml
	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity (only valid after initConfig)
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	// NOTE: applyIdentity overwrites these from app identity.
	Use:   filepath.Base(os.Args[0]),
	Short: "Rate-limit-aware request dispatcher",
	Long: `A rate-limit-aware request dispatcher for REST APIs with
server-discovered quotas.

Use the subcommands to perform specific operations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	// Load app identity early for help text (before cobra processes --help)
	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "record dispatched exchanges to an NDJSON trace file")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// applyIdentity updates the CLI help surfaces from app identity (CDRL-friendly).
func applyIdentity(identity *appidentity.Identity) {
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Load app identity from .fulmen/app.yaml
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity from .fulmen/app.yaml", err)
	}
	appIdentity = identity
	if identity != nil {
		applyIdentity(identity)
	}

	// Initialize CLI logger early so we can use it in config loading
	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	if traceFile != "" {
		cleanup, err := rest.EnableTracing(traceFile)
		if err != nil {
			observability.CLILogger.Warn("Failed to enable dispatch tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Dispatch tracing enabled", zap.String("path", traceFile))
			_ = cleanup // trace file stays open for the process lifetime
		}
	}

	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		addConfigSearchPaths()
	}

	// Read in environment variables with prefix from app identity
	viper.SetEnvPrefix(appIdentity.EnvPrefix)
	viper.AutomaticEnv()

	// If a config file is found, read it in. Defaults are registered by
	// config.Load, which every command goes through.
	err = viper.ReadInConfig()
	switch {
	case err == nil:
		if verbose {
			observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		}
	case verbose:
		// It's OK if config file doesn't exist, we have defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		} else {
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}
}

// addConfigSearchPaths registers the viper search paths: the XDG config dir
// for the app (plus a legacy dir named after the binary when that differs),
// falling back to a dotfile in the home directory when XDG cannot be resolved.
func addConfigSearchPaths() {
	appConfigDir := gfconfig.GetAppConfigDir(appIdentity.ConfigName)
	if appConfigDir == "" {
		if verbose {
			observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Could not find home directory", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName("." + appIdentity.ConfigName)
	} else {
		viper.AddConfigPath(appConfigDir)
		viper.SetConfigName("config")

		if appIdentity.BinaryName != "" && appIdentity.BinaryName != appIdentity.ConfigName {
			legacyConfigDir := gfconfig.GetAppConfigDir(appIdentity.BinaryName)
			if legacyConfigDir != "" {
				viper.AddConfigPath(legacyConfigDir)
			}
		}
	}

	// Also search in current directory
	viper.AddConfigPath("./config")
	viper.SetConfigType("yaml")
}
