package cli

import (
	"fmt"

	"github.com/smallnest/releasedash/config"
	"github.com/smallnest/releasedash/internal/logger"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "releasedash",
	Short:         "Release dashboard for Azure DevOps release pipelines",
	Long:          `releasedash serves a dashboard API over Azure DevOps release pipelines and applies batched release commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowFormat string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration with secrets masked",
	RunE:  runConfigShow,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "releasedash", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default ~/.releasedash/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	configShowCmd.Flags().StringVar(&configShowFormat, "format", "yaml", "Output format: yaml or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	configCmd.AddCommand(configShowCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration, applies flag overrides, starts the
// logger and validates. strict also requires release service credentials.
func loadConfig(strict bool) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := config.NewValidator(strict).Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	redacted := cfg.Redacted()
	data, err := config.Marshal(&redacted, configShowFormat)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
