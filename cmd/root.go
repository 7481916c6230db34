package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/takak2166/confluence2local/internal/config"
	"github.com/takak2166/confluence2local/internal/confluence"
	"github.com/takak2166/confluence2local/internal/exporter"
	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/notion"
	"github.com/takak2166/confluence2local/internal/report"
	"github.com/takak2166/confluence2local/internal/transport"
)

var (
	configFile  string
	envFile     string
	logLevel    string
	outputDir   string
	spaceKeys   []string
	concurrency int
	clean       bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "confluence2local",
	Short: "Export Confluence spaces to an offline HTML mirror",
	Long: `confluence2local crawls the page tree of one or more Confluence spaces
and writes every page and attachment to a local folder. Links between
pages are rewritten so the mirror can be browsed without the server.

Settings come from built-in defaults, an optional TOML file, a .env file,
the environment and finally the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return loadConfig(cmd)
	},
	RunE: runExport,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "path to a TOML configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "path to a .env file")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	f := rootCmd.Flags()
	f.StringVarP(&outputDir, "output", "o", "", "folder to write the mirror to")
	f.StringArrayVarP(&spaceKeys, "space", "s", nil, "space key to export, repeatable (default: all spaces)")
	f.IntVarP(&concurrency, "concurrency", "c", 0, "pages fetched in parallel within a space")
	f.BoolVar(&clean, "clean", false, "empty the output folder before exporting")
}

func loadConfig(cmd *cobra.Command) error {
	c, err := config.Load(config.Sources{
		File:           configFile,
		EnvFile:        envFile,
		RequireEnvFile: cmd.Flags().Changed("env-file"),
	})
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("output") {
		c.Export.Folder = outputDir
	}
	if flags.Changed("space") {
		c.Confluence.Spaces = spaceKeys
	}
	if flags.Changed("concurrency") {
		c.Export.Concurrency = concurrency
	}
	if flags.Changed("clean") {
		c.Export.Clean = clean
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.Init(c.Log.Level, c.Log.Format); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg = c
	return nil
}

func newClient() (*confluence.Client, error) {
	tc, err := transport.New(cfg.Transport())
	if err != nil {
		return nil, err
	}
	return confluence.New(cfg.Confluence.BaseURL, cfg.Confluence.PageSize, tc)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}
	exp := exporter.New(client, cfg.Exporter())

	if cfg.Notion.Enabled() {
		publisher, err := notion.New(cfg.Notion.APIKey, cfg.Notion.ParentPageID)
		if err != nil {
			return err
		}
		exp.SetPublisher(publisher)
	}

	manifest, err := report.OpenManifest(cfg.Export.Manifest)
	if err != nil {
		logger.Error("Run history is disabled", err, map[string]interface{}{
			"manifest": cfg.Export.Manifest,
		})
	} else {
		defer manifest.Close()
		exp.SetRecorder(manifest)
	}

	summary, runErr := exp.Run(ctx, cfg.Confluence.Spaces)
	if summary != nil {
		if err := report.Render(cmd.OutOrStdout(), summary); err != nil {
			logger.Error("Failed to print summary", err)
		}
	}
	return runErr
}
