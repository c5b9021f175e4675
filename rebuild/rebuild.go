package rebuild

import (
	"context"
	"io"

	internal "github.com/TFMV/rewatch/internal/rebuild"
	"go.uber.org/zap"
)

// Re-export the types from the internal package
type (
	// WatchRule binds a source directory and filter to an output location and compiler.
	WatchRule = internal.WatchRule

	// CompiledRule is a validated WatchRule ready for matching.
	CompiledRule = internal.CompiledRule

	// ChangeEvent is a single filesystem notification for a path.
	ChangeEvent = internal.ChangeEvent

	// EventKind classifies a ChangeEvent.
	EventKind = internal.EventKind

	// Invocation is one compiler call.
	Invocation = internal.Invocation

	// Invoker runs compiler invocations.
	Invoker = internal.Invoker

	// Options configures Run.
	Options = internal.Options

	// BuildOptions configures Build.
	BuildOptions = internal.BuildOptions

	// BuildResult summarizes a Build.
	BuildResult = internal.BuildResult

	// LogLevel defines the verbosity of logging.
	LogLevel = internal.LogLevel

	// StartupError reports a problem that prevents watching, such as a missing
	// source directory or an invalid rule.
	StartupError = internal.StartupError

	// SubprocessError reports a compiler that could not start or exited non-zero.
	SubprocessError = internal.SubprocessError

	// MalformedPathError reports a path that cannot be mapped to an output file.
	MalformedPathError = internal.MalformedPathError
)

// Re-export the constants
const (
	// Change kinds
	EventAdded    = internal.EventAdded
	EventModified = internal.EventModified
	EventRemoved  = internal.EventRemoved

	// Log levels
	LogLevelError = internal.LogLevelError
	LogLevelWarn  = internal.LogLevelWarn
	LogLevelInfo  = internal.LogLevelInfo
	LogLevelDebug = internal.LogLevelDebug
)

// Run watches every rule's source tree and recompiles matching files until ctx
// is canceled.
func Run(ctx context.Context, rules []WatchRule, opts Options) error {
	return internal.Run(ctx, rules, opts)
}

// Build compiles every file matching rules once.
func Build(ctx context.Context, rules []WatchRule, opts BuildOptions) (BuildResult, error) {
	return internal.Build(ctx, rules, opts)
}

// CompileRules validates rules, reporting every invalid rule together.
func CompileRules(rules []WatchRule) ([]*CompiledRule, error) {
	return internal.CompileRules(rules)
}

// NewCommandInvoker returns the Invoker that spawns compilers and relays
// their output to out.
func NewCommandInvoker(out io.Writer, logger *zap.Logger) Invoker {
	return internal.NewCommandInvoker(out, logger)
}

// SyncWriter serializes writes to w so concurrent compilers do not interleave
// mid-chunk.
func SyncWriter(w io.Writer) io.Writer {
	return internal.SyncWriter(w)
}

// NewLogger creates a zap logger writing to stderr at the given level.
func NewLogger(level LogLevel) *zap.Logger {
	return internal.NewLogger(level)
}

// ParseLogLevel converts a level name to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	return internal.ParseLogLevel(s)
}

// Watcher delivers filesystem changes under a set of source trees on one channel.
type Watcher = internal.Watcher

// NewWatcher starts watching every directory under each compiled rule's
// source tree. Call Close to stop.
func NewWatcher(rules []*CompiledRule, logger *zap.Logger) (*Watcher, error) {
	return internal.NewWatcher(rules, logger)
}
