package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolversions/config"
	"github.com/petal-labs/toolversions/index"
	tvotel "github.com/petal-labs/toolversions/otel"
	"github.com/petal-labs/toolversions/updater"
)

const telemetryShutdownTimeout = 5 * time.Second

// NewUpdateCmd creates the "update" subcommand.
func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh every tool version in the manifest",
		Args:  cobra.NoArgs,
		RunE:  RunUpdate,
	}
	AddUpdateFlags(cmd)
	return cmd
}

// AddUpdateFlags registers the update flags on cmd. The root command uses it
// so that running the binary without a subcommand performs an update.
func AddUpdateFlags(cmd *cobra.Command) {
	addManifestFlags(cmd)
	cmd.Flags().String("mode", "", "Index protocol: json | feed (default json)")
	cmd.Flags().String("index-url", "", "Package index base URL (default "+index.DefaultBaseURL+")")
	cmd.Flags().Duration("timeout", 0, "Per-request timeout (default 30s)")
	cmd.Flags().Bool("dry-run", false, "Query the index and report, do not write the manifest")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
}

func addManifestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("manifest", "m", "", "Path to the tool manifest (default "+config.DefaultManifest+")")
	cmd.Flags().String("config", "", "Path to a toolversions.yaml config file")
}

// RunUpdate loads the manifest, queries the index for every tool and writes
// the manifest back. Lookup failures are reported and never change the exit
// code.
func RunUpdate(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	telemetry, err := tvotel.Setup(ctx, cfg.OTLPEndpoint, cmd.Root().Version)
	if err != nil {
		return exitError(exitRuntime, "telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	client, err := index.NewClient(index.Config{
		BaseURL:   cfg.IndexURL,
		Mode:      cfg.Mode,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	u, err := updater.New(updater.Config{
		Fetcher:  client,
		Observer: updater.Observers(newTextReporter(cmd.OutOrStdout(), isQuiet(cmd)), telemetry.Observer),
		Logger:   logger,
		DryRun:   dryRun,
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	logger.Debug("starting update", "manifest", cfg.Manifest, "mode", cfg.Mode, "index_url", cfg.IndexURL)
	if _, err := u.Run(ctx, cfg.Manifest); err != nil {
		return runExitError(cfg.Manifest, err)
	}
	return nil
}

// resolveConfig layers explicitly set flags over config.Load and validates
// the result.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.Load(config.LoadOptions{
		ConfigPath: configPath,
		Version:    cmd.Root().Version,
	})
	if err != nil {
		return config.Config{}, configExitError(err)
	}

	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.Manifest, _ = flags.GetString("manifest")
	}
	if flags.Changed("mode") {
		raw, _ := flags.GetString("mode")
		mode, err := index.ParseMode(raw)
		if err != nil {
			return config.Config{}, exitError(exitValidation, "invalid --mode: %v", err)
		}
		cfg.Mode = mode
	}
	if flags.Changed("index-url") {
		cfg.IndexURL, _ = flags.GetString("index-url")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("otlp-endpoint") {
		cfg.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}
