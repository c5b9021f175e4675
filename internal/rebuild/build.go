package rebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BuildOptions configures Build.
type BuildOptions struct {
	// Out receives relayed compiler output. Defaults to stdout.
	Out io.Writer

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Invoker runs compilers. Defaults to a CommandInvoker writing to Out.
	Invoker Invoker

	// Workers caps concurrent compilers. Defaults to runtime.NumCPU().
	Workers int
}

// BuildResult summarizes a Build.
type BuildResult struct {
	Matched   int64         // Files that passed a rule's filter
	Succeeded int64         // Compilers that exited cleanly
	Failed    int64         // Compilers that failed or could not start
	Skipped   int64         // Matches whose output path could not be derived
	Elapsed   time.Duration // Wall time of the whole build
}

// Build compiles every file currently matching a rule, without watching.
// The returned error combines every per-file failure; the counts in
// BuildResult are valid either way.
func Build(ctx context.Context, rules []WatchRule, opts BuildOptions) (BuildResult, error) {
	start := time.Now()
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	out := SyncWriter(opts.Out)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Invoker == nil {
		opts.Invoker = NewCommandInvoker(out, opts.Logger)
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}

	compiled, err := CompileRules(rules)
	if err != nil {
		return BuildResult{}, err
	}
	for _, rule := range compiled {
		if err := checkDir(rule.SourceDir); err != nil {
			return BuildResult{}, &StartupError{Rule: rule.Label(), Dir: rule.SourceDir, Err: err}
		}
	}

	var matched, succeeded, failed, skipped atomic.Int64
	var errs error
	var errLock sync.Mutex
	record := func(err error) {
		errLock.Lock()
		errs = multierr.Append(errs, err)
		errLock.Unlock()
	}

	p := pool.New().WithMaxGoroutines(opts.Workers)
	for _, rule := range compiled {
		opts.Logger.Debug("building", zap.String("rule", rule.Label()), zap.String("source", rule.SourceDir))

		walkErr := walkTree(ctx, rule.SourceDir, opts.Logger, func(path string, isDir bool) error {
			if isDir || !rule.Match(path) {
				return nil
			}
			matched.Add(1)

			output, err := rule.OutputPathFor(path)
			if err != nil {
				skipped.Add(1)
				opts.Logger.Warn("skipping file", zap.String("rule", rule.Label()), zap.String("path", path), zap.Error(err))
				return nil
			}

			inv := rule.Invocation(path, output)
			p.Go(func() {
				if err := execute(ctx, opts.Invoker, inv); err != nil {
					failed.Add(1)
					opts.Logger.Warn("build failed",
						zap.String("rule", inv.Rule),
						zap.String("path", inv.Source),
						zap.Error(err))
					record(fmt.Errorf("%s: %w", inv.Source, err))
					return
				}
				succeeded.Add(1)
			})
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
			record(fmt.Errorf("walking %s: %w", rule.SourceDir, walkErr))
		}
	}
	p.Wait()

	result := BuildResult{
		Matched:   matched.Load(),
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Skipped:   skipped.Load(),
		Elapsed:   time.Since(start),
	}
	if err := ctx.Err(); err != nil {
		record(err)
	}
	return result, errs
}
