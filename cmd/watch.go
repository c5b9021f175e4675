package cmd

import (
	"github.com/spf13/cobra"

	"github.com/TFMV/rewatch/internal/rebuild"
)

var (
	// Watch command options
	watchName    string
	watchGlob    string
	watchRegex   string
	watchOutput  string
	watchExt     string
	watchCommand string
	watchArgs    []string
)

// watchCmd runs a single rule given entirely by flags
var watchCmd = &cobra.Command{
	Use:   "watch <source>",
	Short: "Watch one directory with a rule given on the command line",
	Long: `Watch one source directory and run a compiler for every added or modified file
that matches the filter. The compiler is called as
<command> [--arg ...] <source file> <output file>.

Examples:
  rewatch watch templates --glob="*.haml" --output=html --ext=.html --command=haml
  rewatch watch css/less --regex='\.less$' --output=css --ext=.css --command=lessc
  rewatch watch scss --glob="**/*.scss" --output=css --ext=.css --command=sassc --arg=--style --arg=compressed`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		rule := rebuild.WatchRule{
			Name:      watchName,
			SourceDir: args[0],
			Glob:      watchGlob,
			Regex:     watchRegex,
			OutputDir: watchOutput,
			OutputExt: watchExt,
			Command:   watchCommand,
			Args:      watchArgs,
		}
		return runWatch(cmd, []rebuild.WatchRule{rule}, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchName, "name", "", "Rule name used in logs (default: the command)")
	watchCmd.Flags().StringVar(&watchGlob, "glob", "", "Glob filter for source files (e.g. *.haml)")
	watchCmd.Flags().StringVar(&watchRegex, "regex", "", "Regular expression filter for source paths")
	watchCmd.Flags().StringVar(&watchOutput, "output", "", "Directory receiving compiled files")
	watchCmd.Flags().StringVar(&watchExt, "ext", "", "Extension of compiled files (e.g. .html)")
	watchCmd.Flags().StringVar(&watchCommand, "command", "", "Compiler executable, looked up on PATH")
	watchCmd.Flags().StringArrayVar(&watchArgs, "arg", nil, "Extra compiler argument placed before the input and output (repeatable)")
	watchCmd.Flags().Bool("initial-build", false, "Compile every matching file before watching")

	watchCmd.MarkFlagsMutuallyExclusive("glob", "regex")
	watchCmd.MarkFlagsOneRequired("glob", "regex")
	_ = watchCmd.MarkFlagRequired("output")
	_ = watchCmd.MarkFlagRequired("command")
}
