package rebuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcher_TemplateScenario(t *testing.T) {
	chdir(t, t.TempDir())

	rec := &recordingInvoker{}
	var out bytes.Buffer
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &out, Invoker: rec})

	n := d.Handle(context.Background(), ChangeEvent{Path: "templates/index.haml", Kind: EventAdded})
	d.Wait()

	assert.Equal(t, 1, n)
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"haml", "templates/index.haml", filepath.FromSlash("html/index.html")}, calls[0].Argv())
	assert.Equal(t, ">>> Change detected to: templates/index.haml\n", out.String())

	info, err := os.Stat("html")
	require.NoError(t, err, "output directory should be created")
	assert.True(t, info.IsDir())
}

func TestDispatcher_ModifiedTriggersOneInvocation(t *testing.T) {
	chdir(t, t.TempDir())

	rec := &recordingInvoker{}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	assert.Equal(t, 1, d.Handle(context.Background(), ChangeEvent{Path: "templates/a/b.haml", Kind: EventModified}))
	d.Wait()

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "templates/a/b.haml", calls[0].Source)
	assert.Equal(t, filepath.FromSlash("html/a/b.html"), calls[0].Output)
}

func TestDispatcher_RemovedIsIgnored(t *testing.T) {
	rec := &recordingInvoker{}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	assert.Equal(t, 0, d.Handle(context.Background(), ChangeEvent{Path: "templates/index.haml", Kind: EventRemoved}))
	d.Wait()
	assert.Empty(t, rec.Calls())
}

func TestDispatcher_NonMatchingIsIgnored(t *testing.T) {
	rec := &recordingInvoker{}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	ctx := context.Background()
	assert.Equal(t, 0, d.Handle(ctx, ChangeEvent{Path: "templates/index.less", Kind: EventAdded}))
	assert.Equal(t, 0, d.Handle(ctx, ChangeEvent{Path: "elsewhere/index.haml", Kind: EventModified}))
	d.Wait()
	assert.Empty(t, rec.Calls())
}

func TestDispatcher_NoDebounce(t *testing.T) {
	chdir(t, t.TempDir())

	rec := &recordingInvoker{}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	ev := ChangeEvent{Path: "templates/index.haml", Kind: EventModified}
	d.Handle(context.Background(), ev)
	d.Handle(context.Background(), ev)
	d.Wait()

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
}

func TestDispatcher_MultipleRules(t *testing.T) {
	chdir(t, t.TempDir())

	previewRule := WatchRule{SourceDir: "templates", Glob: "*.haml", OutputDir: "preview", OutputExt: ".txt", Command: "haml-preview"}
	rec := &recordingInvoker{}
	d := NewDispatcher(mustCompile(t, hamlRule(), previewRule), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	assert.Equal(t, 2, d.Handle(context.Background(), ChangeEvent{Path: "templates/index.haml", Kind: EventAdded}))
	d.Wait()

	var commands []string
	for _, c := range rec.Calls() {
		commands = append(commands, c.Command)
	}
	assert.ElementsMatch(t, []string{"haml", "haml-preview"}, commands)
}

func TestDispatcher_MalformedPathSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recordingInvoker{}

	r := hamlRule()
	r.Glob = "*"
	d := NewDispatcher(mustCompile(t, r), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec, Logger: zap.New(core)})

	assert.Equal(t, 0, d.Handle(context.Background(), ChangeEvent{Path: "templates/.haml", Kind: EventAdded}))
	d.Wait()

	assert.Empty(t, rec.Calls())
	assert.Equal(t, 1, logs.FilterMessage("skipping event").Len())
}

func TestDispatcher_FailureDoesNotStopLaterEvents(t *testing.T) {
	chdir(t, t.TempDir())
	core, logs := observer.New(zapcore.WarnLevel)

	rec := &recordingInvoker{fn: func(inv Invocation) error {
		if inv.Source == "templates/bad.haml" {
			return &SubprocessError{Command: inv.Command, ExitCode: 1}
		}
		return nil
	}}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec, Logger: zap.New(core)})

	d.Handle(context.Background(), ChangeEvent{Path: "templates/bad.haml", Kind: EventModified})
	d.Wait()
	assert.Equal(t, 1, d.Handle(context.Background(), ChangeEvent{Path: "templates/good.haml", Kind: EventModified}))
	d.Wait()

	assert.Len(t, rec.Calls(), 2)
	failed := logs.FilterMessage("rebuild failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "templates/bad.haml", failed[0].ContextMap()["path"])
	assert.EqualValues(t, 1, failed[0].ContextMap()["exit_code"])
}

func TestDispatcher_RelaysFailingCompilerOutput(t *testing.T) {
	chdir(t, t.TempDir())
	installCompiler(t, "haml", `echo "error: line 4"; exit 1`)

	var out bytes.Buffer
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &out})

	d.Handle(context.Background(), ChangeEvent{Path: "templates/index.haml", Kind: EventModified})
	d.Wait()

	assert.Contains(t, out.String(), "error: line 4")
}

func TestDispatcher_Serialize(t *testing.T) {
	chdir(t, t.TempDir())

	var active, peak atomic.Int32
	rec := &recordingInvoker{fn: func(Invocation) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return nil
	}}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec, Serialize: true})

	ev := ChangeEvent{Path: "templates/index.haml", Kind: EventModified}
	for i := 0; i < 4; i++ {
		d.Handle(context.Background(), ev)
	}
	d.Wait()

	assert.Len(t, rec.Calls(), 4)
	assert.Equal(t, int32(1), peak.Load())
}

func TestDispatcher_OverlappingRebuildsRunConcurrently(t *testing.T) {
	chdir(t, t.TempDir())

	var active, peak atomic.Int32
	rec := &recordingInvoker{fn: func(Invocation) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		deadline := time.Now().Add(2 * time.Second)
		for peak.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		active.Add(-1)
		return nil
	}}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})

	ev := ChangeEvent{Path: "templates/index.haml", Kind: EventModified}
	d.Handle(context.Background(), ev)
	d.Handle(context.Background(), ev)
	d.Wait()

	assert.Len(t, rec.Calls(), 2)
	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_SerializeReleasesLocks(t *testing.T) {
	chdir(t, t.TempDir())

	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: &recordingInvoker{}, Serialize: true})
	for _, name := range []string{"a", "b", "c"} {
		d.Handle(context.Background(), ChangeEvent{Path: "templates/" + name + ".haml", Kind: EventModified})
		d.Handle(context.Background(), ChangeEvent{Path: "templates/" + name + ".haml", Kind: EventAdded})
	}
	d.Wait()

	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	assert.Empty(t, d.locks)
}

func TestDispatcher_CanceledRebuildIsNotAFailure(t *testing.T) {
	chdir(t, t.TempDir())
	core, logs := observer.New(zapcore.DebugLevel)

	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{
		Out:     &bytes.Buffer{},
		Invoker: NewCommandInvoker(&bytes.Buffer{}, nil),
		Logger:  zap.New(core),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Handle(ctx, ChangeEvent{Path: "templates/index.haml", Kind: EventModified})
	d.Wait()

	assert.Zero(t, logs.FilterMessage("rebuild failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("rebuild canceled").Len())
}

func TestDispatcher_HandleDoesNotBlockOnRebuild(t *testing.T) {
	chdir(t, t.TempDir())

	release := make(chan struct{})
	var once sync.Once
	rec := &recordingInvoker{fn: func(Invocation) error {
		<-release
		return nil
	}}
	d := NewDispatcher(mustCompile(t, hamlRule()), DispatchOptions{Out: &bytes.Buffer{}, Invoker: rec})
	defer once.Do(func() { close(release) })

	returned := make(chan struct{})
	go func() {
		d.Handle(context.Background(), ChangeEvent{Path: "templates/index.haml", Kind: EventModified})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a running rebuild")
	}
	once.Do(func() { close(release) })
	d.Wait()
}

func TestExecute_MkdirFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "")

	err := execute(context.Background(), &recordingInvoker{}, Invocation{Output: filepath.Join(blocker, "out.html")})
	require.Error(t, err)
	assert.ErrorContains(t, err, "creating output directory")
}
