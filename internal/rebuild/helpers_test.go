package rebuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingInvoker captures invocations instead of running compilers.
type recordingInvoker struct {
	mu    sync.Mutex
	calls []Invocation
	fn    func(inv Invocation) error
}

func (r *recordingInvoker) Invoke(_ context.Context, inv Invocation) error {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(inv)
	}
	return nil
}

func (r *recordingInvoker) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.calls...)
}

// lockedBuffer is a bytes.Buffer safe to read while compilers write to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// installCompiler writes a shell script named name into a temp dir and puts
// that dir first on PATH.
func installCompiler(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compilers require a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return script
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mustCompile(t *testing.T, rules ...WatchRule) []*CompiledRule {
	t.Helper()
	compiled, err := CompileRules(rules)
	require.NoError(t, err)
	return compiled
}
