package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/config"
	"chainwatch/internal/paths"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/version"
)

var (
	dataDirFlag string
	configFlag  string
	formatFlag  string
	verbosity   int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "chainwatch",
	Short: "chainwatch - track a chain of profile links back to an anchor",
	Long: `chainwatch scans participant profiles for mentions of other participants,
keeps a graph of who links to whom, and finds the longest chain of links
ending at a fixed anchor participant. Changes to the chain are published
to webhooks together with advice on how to repair or extend it.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("chainwatch version {{.Version}}\n")
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: $CHAINWATCH_HOME or ~/.chainwatch)")
	flags.StringVar(&configFlag, "config", "", "Configuration file (default: chainwatch.toml in the working or data directory)")
	flags.StringVar(&formatFlag, "format", string(FormatHuman), "Output format (human, json, yaml)")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
}

// env is what every command needs before it can do work.
type env struct {
	cfg    *config.Config
	layout paths.Layout
	source *config.LoadResult
}

// loadEnv resolves the data directory and loads the configuration.
// The --data-dir flag wins over dataDir in the configuration file.
func loadEnv() (*env, error) {
	layout, err := paths.Resolve(dataDirFlag)
	if err != nil {
		return nil, err
	}
	res, err := config.LoadConfigWithDetails(configFlag, layout.Root)
	if err != nil {
		return nil, err
	}
	if dataDirFlag == "" && res.Config.DataDir != "" && res.Config.DataDir != layout.Root {
		layout = paths.Layout{Root: res.Config.DataDir}
	}
	return &env{cfg: res.Config, layout: layout, source: res}, nil
}

// cliLogger logs to stderr at the level chosen by -v and --quiet.
func cliLogger() *slog.Logger {
	return slogutil.NewLogger(os.Stderr, slogutil.LevelFromVerbosity(verbosity, quietFlag))
}

// openApp loads the environment, applies mutate, validates the result and
// wires the services with logs going to stderr.
func openApp(mutate func(*config.Config)) (*app.App, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(e.cfg)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return app.Open(e.cfg, e.layout, app.Options{Logger: cliLogger()})
}

// withApp runs fn against a freshly opened App and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	return withAppConfig(nil, fn)
}

func withAppConfig(mutate func(*config.Config), fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(mutate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

// outputFormat returns the validated --format value.
func outputFormat() (OutputFormat, error) {
	f := OutputFormat(formatFlag)
	switch f {
	case FormatHuman, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", formatFlag)
	}
}
