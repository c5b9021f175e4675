package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TFMV/rewatch/internal/rebuild"
)

var buildFormat string

// buildCmd compiles every matching file once and exits
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile every matching file once and exit",
	Long: `Walk every rule's source directory and run the compiler for each matching
file, without watching for changes. Compiler output is streamed to stdout and
a summary is printed to stderr. The command fails if any compiler fails.

Examples:
  rewatch build
  rewatch build --workers=8 --format=json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildFormat != "text" && buildFormat != "json" {
			return fmt.Errorf("invalid format %q: must be text or json", buildFormat)
		}

		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, buildErr := rebuild.Build(ctx, cfg.WatchRules(), rebuild.BuildOptions{
			Out:     cmd.OutOrStdout(),
			Logger:  logger,
			Workers: cfg.Workers,
		})
		if err := printBuildSummary(cmd.ErrOrStderr(), result, buildFormat); err != nil {
			return err
		}
		if buildErr != nil {
			return fmt.Errorf("build failed: %w", buildErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildFormat, "format", "text", "Summary format (text|json)")
}

func printBuildSummary(w io.Writer, result rebuild.BuildResult, format string) error {
	if format == "json" {
		summary, err := json.Marshal(map[string]interface{}{
			"matched":    result.Matched,
			"succeeded":  result.Succeeded,
			"failed":     result.Failed,
			"skipped":    result.Skipped,
			"elapsed_ms": result.Elapsed.Milliseconds(),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(summary))
		return err
	}

	_, err := fmt.Fprintf(w, "Built %d of %d files (%d failed, %d skipped) in %s\n",
		result.Succeeded, result.Matched, result.Failed, result.Skipped, result.Elapsed.Round(time.Millisecond))
	return err
}
