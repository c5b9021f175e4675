package rebuild

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// relayChunkSize bounds each read from a compiler's output pipe.
const relayChunkSize = 512

// Invocation is one compiler call for one source file.
type Invocation struct {
	Rule    string
	Command string
	Args    []string
	Source  string
	Output  string
}

// Argv returns the full argument vector: command, extra args, input, output.
func (i Invocation) Argv() []string {
	argv := make([]string, 0, len(i.Args)+3)
	argv = append(argv, i.Command)
	argv = append(argv, i.Args...)
	return append(argv, i.Source, i.Output)
}

// Invoker runs a compiler invocation.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// CommandInvoker spawns the compiler as a subprocess and relays its combined
// stdout and stderr to Out as it arrives.
type CommandInvoker struct {
	Out    io.Writer
	Logger *zap.Logger
}

// NewCommandInvoker returns an invoker writing compiler output to out.
func NewCommandInvoker(out io.Writer, logger *zap.Logger) *CommandInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandInvoker{Out: out, Logger: logger}
}

// Invoke starts the compiler and blocks until it has closed its output and
// exited. The context is consulted only before the process starts; a running
// compiler is never killed.
func (c *CommandInvoker) Invoke(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	argv := inv.Argv()
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return &SubprocessError{Command: inv.Command, ExitCode: -1, Err: err}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return &SubprocessError{Command: inv.Command, ExitCode: -1, Err: err}
	}

	cmd := exec.Command(bin, argv[1:]...) //nolint:gosec
	cmd.Stdout = pw
	cmd.Stderr = pw

	c.Logger.Debug("starting compiler",
		zap.String("rule", inv.Rule),
		zap.Strings("argv", argv))

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return &SubprocessError{Command: inv.Command, ExitCode: -1, Err: err}
	}
	// The child holds its own copy; closing ours lets the read see EOF.
	pw.Close()

	if err := relay(c.Out, pr); err != nil {
		c.Logger.Warn("relaying compiler output", zap.String("rule", inv.Rule), zap.Error(err))
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &SubprocessError{Command: inv.Command, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return &SubprocessError{Command: inv.Command, ExitCode: -1, Err: err}
	}
	return nil
}

// relay copies src to dst in bounded chunks, writing each chunk as soon as it
// is read. After a write failure the rest of src is drained so the writer
// side never blocks on a full pipe.
func relay(dst io.Writer, src io.Reader) error {
	buf := make([]byte, relayChunkSize)
	var writeErr error
	for {
		n, err := src.Read(buf)
		if n > 0 && writeErr == nil {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				writeErr = werr
			}
		}
		if errors.Is(err, io.EOF) {
			return writeErr
		}
		if err != nil {
			return multierr.Append(writeErr, err)
		}
	}
}

// syncWriter serializes writes so chunks from concurrent compilers never
// interleave mid-chunk.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// SyncWriter wraps w so it is safe for concurrent use.
func SyncWriter(w io.Writer) io.Writer {
	if sw, ok := w.(*syncWriter); ok {
		return sw
	}
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
