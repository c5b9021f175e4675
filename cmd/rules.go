package cmd

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var rulesCheck bool

// rulesCmd prints the configured rule table
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the configured watch rules",
	Long: `List the watch rules rewatch would use, showing how a source file maps to
its output and which compiler is called.

Examples:
  rewatch rules
  rewatch rules --check
  rewatch rules --config=site.yaml`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSOURCE\tFILTER\tOUTPUT\tCOMMAND")
		for _, r := range cfg.WatchRules() {
			output := filepath.Join(r.OutputDir, "*"+r.OutputExt)
			command := strings.Join(append([]string{r.Command}, r.Args...), " ")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Label(), r.SourceDir, r.Filter(), output, command)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !rulesCheck {
			return nil
		}

		var missing error
		for _, r := range cfg.WatchRules() {
			path, err := exec.LookPath(r.Command)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s not found on PATH\n", r.Label(), r.Command)
				missing = multierr.Append(missing, fmt.Errorf("rule %s: %w", r.Label(), err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Label(), path)
		}
		return missing
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.Flags().BoolVar(&rulesCheck, "check", false, "Verify that every compiler is on PATH")
}
