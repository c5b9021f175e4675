package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/rewatch/internal/config"
	"github.com/TFMV/rewatch/internal/rebuild"
)

var (
	cfgFile string
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rewatch",
	Short: "Recompile templates and stylesheets when their sources change",
	Long: `rewatch watches source directories and runs an external compiler for every
file that is added or modified, streaming the compiler's output to the console.

Rules are read from .rewatch.yaml (working directory or $HOME). Without a
config file rewatch compiles webdev/templates/*.haml into web/templates with
haml, and webdev/css/less/*.less into web/assets/css with lessc.`,
	Version:      version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		return runWatch(cmd, cfg.WatchRules(), cfg, logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: .rewatch.yaml in the working directory or $HOME)")
	pf.String("log-level", "info", "Log level (debug|info|warn|error)")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.Bool("silent", false, "Log errors only")
	pf.Bool("serialize", false, "Run rebuilds of the same output file one at a time")
	pf.IntP("workers", "w", 4, "Maximum concurrent compilers during a build")

	rootCmd.Flags().Bool("initial-build", false, "Compile every matching file before watching")
}

// setup loads configuration for cmd and builds the logger it asks for.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd, cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := rebuild.NewLogger(cfg.EffectiveLogLevel())
	if cfg.ConfigFile != "" {
		logger.Debug("using config file", zap.String("path", cfg.ConfigFile))
	}
	return cfg, logger, nil
}

// runWatch optionally builds everything once, then watches until interrupted.
func runWatch(cmd *cobra.Command, rules []rebuild.WatchRule, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := rebuild.SyncWriter(cmd.OutOrStdout())

	if cfg.InitialBuild {
		result, err := rebuild.Build(ctx, rules, rebuild.BuildOptions{
			Out:     out,
			Logger:  logger,
			Workers: cfg.Workers,
		})
		var startupErr *rebuild.StartupError
		if errors.As(err, &startupErr) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Info("initial build finished",
			zap.Int64("succeeded", result.Succeeded),
			zap.Int64("failed", result.Failed),
			zap.Duration("elapsed", result.Elapsed))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d rule(s) for changes. Press Ctrl+C to exit.\n", len(rules))

	return rebuild.Run(ctx, rules, rebuild.Options{
		Out:       out,
		Logger:    logger,
		Serialize: cfg.Serialize,
	})
}
