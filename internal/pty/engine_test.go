package pty

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 10 * time.Second

// output collects reader callbacks for assertions.
type output struct {
	mu       sync.Mutex
	buf      strings.Builder
	exits    atomic.Int32
	exited   chan struct{}
	afterEnd atomic.Bool
}

func newOutput() *output {
	return &output{exited: make(chan struct{})}
}

func (o *output) onData(s string) {
	if o.exits.Load() > 0 {
		o.afterEnd.Store(true)
	}
	o.mu.Lock()
	o.buf.WriteString(s)
	o.mu.Unlock()
}

func (o *output) onExit() {
	if o.exits.Add(1) == 1 {
		close(o.exited)
	}
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *output) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if strings.Contains(o.String(), substr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; got %q", substr, o.String())
}

func (o *output) waitExit(t *testing.T) {
	t.Helper()
	select {
	case <-o.exited:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for onExit")
	}
}

func startEngine(t *testing.T, opts SpawnOptions) (*Engine, *output) {
	t.Helper()
	requirePTY(t)

	e, err := New(80, 24, WithLabel(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Spawn(opts))
	out := newOutput()
	require.NoError(t, e.StartReader(out.onData, out.onExit))
	return e, out
}

func TestNewRejectsZeroSize(t *testing.T) {
	for _, size := range [][2]uint16{{0, 24}, {80, 0}, {0, 0}} {
		e, err := New(size[0], size[1])
		assert.Nil(t, e)
		assert.ErrorIs(t, err, ErrPtyOpenFailed)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
}

func TestResizeBeforeSpawn(t *testing.T) {
	requirePTY(t)
	e, err := New(80, 24)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Resize(120, 40))
	cols, rows, err := e.Size()
	require.NoError(t, err)
	assert.Equal(t, uint16(120), cols)
	assert.Equal(t, uint16(40), rows)
}

func TestResizeZeroIsRejectedWithoutChange(t *testing.T) {
	requirePTY(t)
	e, err := New(100, 30)
	require.NoError(t, err)
	defer e.Close()

	assert.NotPanics(t, func() {
		err = e.Resize(0, 10)
	})
	assert.ErrorIs(t, err, ErrResizeFailed)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.ErrorIs(t, e.Resize(10, 0), ErrInvalidSize)

	cols, rows, err := e.Size()
	require.NoError(t, err)
	assert.Equal(t, uint16(100), cols)
	assert.Equal(t, uint16(30), rows)
}

func TestClosedEngineOperationsFail(t *testing.T) {
	requirePTY(t)
	e, err := New(80, 24)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "Close is idempotent")

	assert.ErrorIs(t, e.Resize(80, 24), ErrResizeFailed)
	assert.ErrorIs(t, e.Write("x"), ErrWriteFailed)
	assert.ErrorIs(t, e.Spawn(SpawnOptions{}), ErrSpawnFailed)
	assert.ErrorIs(t, e.StartReader(func(string) {}, func() {}), ErrReaderSetupFailed)
	assert.Equal(t, 0, e.Pid())
}

func TestSpawnCommandStreamsOutput(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{Command: "echo clutch-ready"})
	out.waitFor(t, "clutch-ready")
	assert.NotZero(t, e.Pid())
}

func TestSpawnTwiceFails(t *testing.T) {
	e, _ := startEngine(t, SpawnOptions{})
	err := e.Spawn(SpawnOptions{})
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestStartReaderTwiceFails(t *testing.T) {
	e, _ := startEngine(t, SpawnOptions{})
	err := e.StartReader(func(string) {}, func() {})
	assert.ErrorIs(t, err, ErrReaderSetupFailed)
}

func TestWriteReachesShell(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{})
	require.NoError(t, e.Write("echo $((6*7))x\n"))
	out.waitFor(t, "42x")
}

func TestConcurrentWritesDoNotDeadlock(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{Command: "cat"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, e.Write("z"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, e.Write("\n"))
	out.waitFor(t, strings.Repeat("z", 160))
}

func TestCallerEnvOverridesBaseline(t *testing.T) {
	_, out := startEngine(t, SpawnOptions{
		Command: `printf '%s|%s|%s\n' "$TERM" "$COLORTERM" "$CLUTCH_PROBE"`,
		Env: []EnvVar{
			{Key: "TERM", Value: "dumb"},
			{Key: "CLUTCH_PROBE", Value: "probe-ok"},
		},
	})
	out.waitFor(t, "dumb|truecolor|probe-ok")
}

func TestCommandRunsInQuotedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "it's a dir")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, out := startEngine(t, SpawnOptions{Dir: dir, Command: "pwd"})
	out.waitFor(t, "it's a dir")
}

func TestPlainShellStartsInDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plain-shell-dir")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	e, out := startEngine(t, SpawnOptions{Dir: dir})
	require.NoError(t, e.Write("pwd\n"))
	out.waitFor(t, "plain-shell-dir")
}

func TestChildExitCallsOnExitOnce(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{Command: "exit 0"})
	out.waitExit(t)

	select {
	case <-e.Done():
	case <-time.After(waitTimeout):
		t.Fatal("child was not reaped")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), out.exits.Load())
	assert.False(t, out.afterEnd.Load(), "no data after exit")

	// Resize after the child has gone must not crash.
	assert.NotPanics(t, func() { _ = e.Resize(90, 30) })
}

func TestCloseHangsUpChild(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{})
	require.NoError(t, e.Write("echo alive\n"))
	out.waitFor(t, "alive")

	require.NoError(t, e.Close())
	out.waitExit(t)

	select {
	case <-e.Done():
	case <-time.After(waitTimeout):
		t.Fatal("child survived pty close")
	}
	assert.Equal(t, int32(1), out.exits.Load())
}

func TestCloseHangsUpIdleChildAfterResize(t *testing.T) {
	e, out := startEngine(t, SpawnOptions{})
	require.NoError(t, e.Write("echo ready\n"))
	out.waitFor(t, "ready")

	// Size ioctls must not leave the master in blocking mode.
	require.NoError(t, e.Resize(100, 30))
	cols, rows, err := e.Size()
	require.NoError(t, err)
	assert.Equal(t, uint16(100), cols)
	assert.Equal(t, uint16(30), rows)

	// Let the shell go idle so the reader is parked in read.
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, e.Close())
	out.waitExit(t)
	select {
	case <-e.Done():
	case <-time.After(waitTimeout):
		t.Fatal("idle child survived pty close")
	}
}

// chunkReader returns fixed chunks, then a final error.
type chunkReader struct {
	chunks [][]byte
	final  error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.final
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestReadLoopFramesSplitCharacters(t *testing.T) {
	raw := []byte("progress ██████ 100% ✓\n")
	for cut := 1; cut < len(raw); cut++ {
		e := &Engine{label: "loop"}
		out := newOutput()
		e.readLoop(&chunkReader{chunks: [][]byte{raw[:cut], raw[cut:]}, final: io.EOF}, out.onData, out.onExit)
		assert.Equal(t, string(raw), out.String(), "split at %d", cut)
		assert.Equal(t, int32(1), out.exits.Load())
	}
}

func TestReadLoopStopsOnReadError(t *testing.T) {
	e := &Engine{label: "loop"}
	out := newOutput()
	e.readLoop(&chunkReader{chunks: [][]byte{[]byte("partial")}, final: errors.New("boom")}, out.onData, out.onExit)
	assert.Equal(t, "partial", out.String())
	assert.Equal(t, int32(1), out.exits.Load())
}

func TestReadLoopZeroReadIsExit(t *testing.T) {
	e := &Engine{label: "loop"}
	out := newOutput()
	e.readLoop(&chunkReader{chunks: [][]byte{[]byte("x"), {}}, final: nil}, out.onData, out.onExit)
	assert.Equal(t, "x", out.String())
	assert.Equal(t, int32(1), out.exits.Load())
}

func TestIsHangup(t *testing.T) {
	assert.True(t, isHangup(io.EOF))
	assert.True(t, isHangup(&os.PathError{Op: "read", Path: "/dev/ptmx", Err: os.ErrClosed}))
	assert.False(t, isHangup(errors.New("other")))
	assert.False(t, isHangup(bytes.ErrTooLarge))
}
