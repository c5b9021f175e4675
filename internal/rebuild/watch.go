// Package rebuild watches source trees and recompiles changed files by running
// an external compiler per change.
//
// A Watcher turns fsnotify notifications for every rule's source directory into
// ChangeEvents on a single channel. A Dispatcher consumes that channel, matches
// each event against the rules and starts one compiler per match, relaying the
// compiler's output to the console as it arrives.
package rebuild

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// eventBuffer is the capacity of the unified event channel.
const eventBuffer = 64

// Watcher delivers filesystem changes under a set of source trees on one channel.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *zap.Logger
	events chan ChangeEvent

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewWatcher starts watching every directory under each rule's source tree.
// A source directory that is missing, unreadable or not a directory yields
// a *StartupError.
func NewWatcher(rules []*CompiledRule, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &StartupError{Err: err}
	}

	w := &Watcher{
		fsw:    fsw,
		logger: logger,
		events: make(chan ChangeEvent, eventBuffer),
		done:   make(chan struct{}),
	}

	for _, rule := range rules {
		if err := checkDir(rule.SourceDir); err != nil {
			fsw.Close()
			return nil, &StartupError{Rule: rule.Label(), Dir: rule.SourceDir, Err: err}
		}
		if err := fsw.Add(filepath.Clean(rule.SourceDir)); err != nil {
			fsw.Close()
			return nil, &StartupError{Rule: rule.Label(), Dir: rule.SourceDir, Err: err}
		}
		if err := w.addTree(context.Background(), rule.SourceDir, nil); err != nil {
			fsw.Close()
			return nil, &StartupError{Rule: rule.Label(), Dir: rule.SourceDir, Err: err}
		}
		logger.Debug("watching",
			zap.String("rule", rule.Label()),
			zap.String("source", rule.SourceDir),
			zap.String("filter", rule.Filter()))
	}

	w.wg.Add(1)
	go w.pump()
	return w, nil
}

// Events returns the channel of changes. It is closed after Close.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Close stops watching and closes the event channel.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

// addTree registers every directory below root. Files found along the way
// are passed to found when it is non-nil.
func (w *Watcher) addTree(ctx context.Context, root string, found func(path string)) error {
	return walkTree(ctx, root, w.logger, func(path string, isDir bool) error {
		if !isDir {
			if found != nil {
				found(path)
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) pump() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if isTempFile(name) {
		return
	}
	change, ok := translate(event)
	if !ok {
		return
	}

	if change.Kind == EventAdded {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if isIgnoredDir(name) {
				return
			}
			// Files moved in with the directory produce no events of their own.
			_ = w.addTree(context.Background(), event.Name, func(path string) {
				w.emit(ChangeEvent{Path: path, Kind: EventAdded})
			})
			return
		}
	}
	w.emit(change)
}

func (w *Watcher) emit(change ChangeEvent) {
	select {
	case w.events <- change:
	case <-w.done:
	}
}

// Options configures Run.
type Options struct {
	// Out receives the change banner and relayed compiler output. Defaults to stdout.
	Out io.Writer

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Invoker runs compilers. Defaults to a CommandInvoker writing to Out.
	Invoker Invoker

	// Serialize runs rebuilds of the same output file one at a time.
	Serialize bool
}

// Run watches the rules' source trees and rebuilds matching files until ctx is
// canceled. Only startup problems are returned; per-event failures are logged
// and the loop keeps going. On return, in-flight compilers have finished.
func Run(ctx context.Context, rules []WatchRule, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	compiled, err := CompileRules(rules)
	if err != nil {
		return err
	}

	watcher, err := NewWatcher(compiled, opts.Logger)
	if err != nil {
		return err
	}

	dispatcher := NewDispatcher(compiled, DispatchOptions{
		Out:       opts.Out,
		Logger:    opts.Logger,
		Invoker:   opts.Invoker,
		Serialize: opts.Serialize,
	})
	defer func() {
		watcher.Close()
		dispatcher.Wait()
	}()

	for _, rule := range compiled {
		opts.Logger.Info("watching",
			zap.String("rule", rule.Label()),
			zap.String("source", rule.SourceDir),
			zap.String("filter", rule.Filter()),
			zap.String("output", rule.OutputDir))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			opts.Logger.Debug("change", zap.String("path", change.Path), zap.String("kind", string(change.Kind)))
			dispatcher.Handle(ctx, change)
		}
	}
}
