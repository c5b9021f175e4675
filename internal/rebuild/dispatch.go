package rebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// DispatchOptions configures a Dispatcher.
type DispatchOptions struct {
	// Out receives the change banner and relayed compiler output.
	Out io.Writer

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Invoker runs compilers. Defaults to a CommandInvoker writing to Out.
	Invoker Invoker

	// Serialize runs rebuilds that target the same output file one at a time.
	// Off by default: overlapping rebuilds of one path may race.
	Serialize bool
}

// Dispatcher turns change events into compiler invocations. Each rebuild runs
// on its own goroutine so event handling never waits for a compiler.
type Dispatcher struct {
	rules     []*CompiledRule
	out       io.Writer
	logger    *zap.Logger
	invoker   Invoker
	serialize bool

	locksMu sync.Mutex
	locks   map[string]*pathLock // held or awaited locks only
	wg      conc.WaitGroup
}

// NewDispatcher creates a dispatcher for the compiled rules.
func NewDispatcher(rules []*CompiledRule, opts DispatchOptions) *Dispatcher {
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
	return &Dispatcher{
		rules:     rules,
		out:       out,
		logger:    opts.Logger,
		invoker:   opts.Invoker,
		serialize: opts.Serialize,
		locks:     make(map[string]*pathLock),
	}
}

// Handle schedules one rebuild per rule matching the event and returns the
// number scheduled. Removals never trigger a rebuild.
func (d *Dispatcher) Handle(ctx context.Context, ev ChangeEvent) int {
	if ev.Kind != EventAdded && ev.Kind != EventModified {
		d.logger.Debug("ignoring event", zap.String("path", ev.Path), zap.String("kind", string(ev.Kind)))
		return 0
	}

	scheduled := 0
	for _, rule := range d.rules {
		if !rule.Match(ev.Path) {
			continue
		}
		output, err := rule.OutputPathFor(ev.Path)
		if err != nil {
			d.logger.Warn("skipping event",
				zap.String("rule", rule.Label()),
				zap.String("path", ev.Path),
				zap.Error(err))
			continue
		}

		inv := rule.Invocation(ev.Path, output)
		scheduled++
		d.wg.Go(func() {
			d.rebuild(ctx, inv)
		})
	}
	return scheduled
}

// Wait blocks until every scheduled rebuild has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) rebuild(ctx context.Context, inv Invocation) {
	fmt.Fprintf(d.out, ">>> Change detected to: %s\n", inv.Source)

	if d.serialize {
		defer d.lock(inv.Output)()
	}

	start := time.Now()
	if err := execute(ctx, d.invoker, inv); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			d.logger.Debug("rebuild canceled", zap.String("rule", inv.Rule), zap.String("path", inv.Source))
			return
		}
		fields := []zap.Field{
			zap.String("rule", inv.Rule),
			zap.String("path", inv.Source),
			zap.String("output", inv.Output),
			zap.String("command", inv.Command),
		}
		var subErr *SubprocessError
		if errors.As(err, &subErr) {
			fields = append(fields, zap.Int("exit_code", subErr.ExitCode))
		}
		d.logger.Warn("rebuild failed", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Debug("rebuilt",
		zap.String("rule", inv.Rule),
		zap.String("path", inv.Source),
		zap.String("output", inv.Output),
		zap.Duration("elapsed", time.Since(start)))
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for output and returns its release func. An entry
// is dropped once no rebuild holds or waits for it.
func (d *Dispatcher) lock(output string) func() {
	d.locksMu.Lock()
	l, ok := d.locks[output]
	if !ok {
		l = &pathLock{}
		d.locks[output] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		d.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, output)
		}
		d.locksMu.Unlock()
	}
}

// execute makes sure the output directory exists and runs the compiler.
func execute(ctx context.Context, invoker Invoker, inv Invocation) error {
	if dir := filepath.Dir(inv.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return invoker.Invoke(ctx, inv)
}
