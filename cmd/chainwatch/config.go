package main

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"chainwatch/internal/config"
)

var (
	configInitAnchor string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chainwatch configuration",
	Long: `View and manage the chainwatch configuration.

The configuration is read from chainwatch.toml (or .json/.yaml) in the
working directory or the data directory. Every key can be overridden with
an environment variable, e.g. CHAINWATCH_SCAN_CONCURRENCY=8.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file to the data directory, or to the
path given with --config.

Examples:
  chainwatch config init --anchor 51863899
  chainwatch --config ./chainwatch.toml config init --anchor 51863899`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().StringVar(&configInitAnchor, "anchor", "", "Id of the participant every chain ends at")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponse is the response format for config show
type ConfigShowResponse struct {
	ConfigPath   string         `json:"configPath,omitempty" yaml:"configPath,omitempty"`
	UsedDefaults bool           `json:"usedDefaults" yaml:"usedDefaults"`
	DataDir      string         `json:"dataDir" yaml:"dataDir"`
	Config       *config.Config `json:"config" yaml:"config"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	path := configFlag
	if path == "" {
		path = e.layout.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.Anchor = configInitAnchor
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	if cfg.Anchor == "" {
		fmt.Println("Set 'anchor' before running a sweep.")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	resp := &ConfigShowResponse{
		ConfigPath:   e.source.ConfigPath,
		UsedDefaults: e.source.UsedDefaults,
		DataDir:      e.layout.Root,
		Config:       redact(e.cfg),
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}
	if format != FormatHuman {
		return printResponse(resp)
	}

	source := resp.ConfigPath
	if resp.UsedDefaults {
		source = "(defaults)"
	}
	data, err := toml.Marshal(resp.Config)
	if err != nil {
		return err
	}
	fmt.Printf("# Source: %s\n# Data directory: %s\n\n%s", source, resp.DataDir, data)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	source := e.source.ConfigPath
	if e.source.UsedDefaults {
		source = "defaults"
	}
	fmt.Printf("Configuration is valid (%s)\n", source)
	return nil
}

// redact returns a copy of cfg with secrets masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Daemon.Auth.TokenHash != "" {
		out.Daemon.Auth.TokenHash = mask(out.Daemon.Auth.TokenHash)
	}
	out.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
	for i, w := range cfg.Webhooks {
		if w.Secret != "" {
			w.Secret = mask(w.Secret)
		}
		if strings.Contains(w.URL, "/bot") {
			// Telegram tokens are part of the URL.
			w.URL = w.URL[:strings.Index(w.URL, "/bot")+4] + "***"
		}
		out.Webhooks[i] = w
	}
	return &out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
