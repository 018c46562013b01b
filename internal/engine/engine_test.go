package engine

import (
	"context"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/algoprep/internal/sandbox"
	"github.com/michaelbrown/algoprep/internal/value"
)

func testEngine(t *testing.T) *Process {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	p := New(Options{Launcher: sandbox.Local{Python: "python3"}, Logger: zerolog.Nop()})
	t.Cleanup(func() { p.Close() })
	return p
}

const addCode = "def add(a, b):\n\treturn a + b\n"

func addRequest(a, b int64) Request {
	return Request{
		Code:     addCode,
		FuncName: "add",
		Args:     map[string]value.Value{"a": value.IntOf(a), "b": value.IntOf(b)},
		Types:    map[string]value.Type{"a": value.Int, "b": value.Int},
		Timeout:  5 * time.Second,
	}
}

func TestExecuteReturnsValue(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), addRequest(2, 3))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Kind)
	assert.JSONEq(t, "5", string(res.Return))
	assert.Equal(t, "", res.Stdout)
}

func TestExecuteCapturesStdoutOnlyDuringCall(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), Request{
		Code:     "print('module level')\ndef greet(name):\n    print('hi', name)\n",
		FuncName: "greet",
		Args:     map[string]value.Value{"name": value.StrOf("bob")},
	})
	require.NoError(t, err)
	require.Equal(t, OK, res.Kind, res.Error)
	assert.Equal(t, "hi bob\n", res.Stdout)
	assert.JSONEq(t, "null", string(res.Return))
}

func TestExecuteCastsDeclaredTypes(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), Request{
		Code:     "def kind(x):\n    return type(x).__name__\n",
		FuncName: "kind",
		Args:     map[string]value.Value{"x": value.FloatOf(2)},
		Types:    map[string]value.Type{"x": value.Float},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"float"`, string(res.Return))
}

func TestExecuteRuntimeError(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), Request{
		Code:     "def boom():\n    return 1 / 0\n",
		FuncName: "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.Contains(t, res.Error, "ZeroDivisionError")

	res, err = p.Execute(context.Background(), Request{Code: "def broken(:\n", FuncName: "broken"})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.Contains(t, res.Error, "SyntaxError")

	res, err = p.Execute(context.Background(), Request{Code: "x = 1\n", FuncName: "missing"})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.Contains(t, res.Error, "missing")
}

func TestStdinExhaustion(t *testing.T) {
	p := testEngine(t)
	code := "def read3():\n    return [input(), input(), input()]\n"
	res, err := p.Execute(context.Background(), Request{Code: code, FuncName: "read3", Stdin: "1\n2"})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.Contains(t, res.Error, "No more input")

	// A fresh shim per execution.
	res, err = p.Execute(context.Background(), Request{
		Code:     "def read1():\n    return input()\n",
		FuncName: "read1",
		Stdin:    "first\nsecond",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(res.Return))
}

func TestUserOutputCannotCorruptProtocol(t *testing.T) {
	p := testEngine(t)
	code := "import os, sys\ndef noisy():\n    os.write(1, b'{\"id\": \"x\"}\\n')\n    sys.__stdout__.write('junk\\n')\n    return sys.stdin.read()\n"
	res, err := p.Execute(context.Background(), Request{Code: code, FuncName: "noisy", Stdin: "abc"})
	require.NoError(t, err)
	require.Equal(t, OK, res.Kind, res.Error)
	assert.JSONEq(t, `"abc"`, string(res.Return))

	res, err = p.Execute(context.Background(), addRequest(1, 1))
	require.NoError(t, err)
	assert.JSONEq(t, "2", string(res.Return))
}

func TestTimeoutReplacesInterpreter(t *testing.T) {
	p := testEngine(t)
	require.NoError(t, p.Warm(context.Background()))

	start := time.Now()
	res, err := p.Execute(context.Background(), Request{
		Code:     "def spin():\n    while True:\n        pass\n",
		FuncName: "spin",
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Kind)
	assert.Less(t, time.Since(start), 3*time.Second)

	res, err = p.Execute(context.Background(), addRequest(4, 5))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Kind)
	assert.JSONEq(t, "9", string(res.Return))
}

func TestCancelReplacesInterpreter(t *testing.T) {
	p := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()
	res, err := p.Execute(ctx, Request{
		Code:     "import time\ndef wait():\n    time.sleep(60)\n",
		FuncName: "wait",
	})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Kind)

	res, err = p.Execute(context.Background(), addRequest(1, 2))
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(res.Return))
}

var spinRequest = Request{
	Code:     "def spin():\n    while True:\n        pass\n",
	FuncName: "spin",
}

// holdEngine starts a call without a time limit and returns once it owns
// the engine. The call ends when the test does.
func holdEngine(t *testing.T, p *Process) {
	t.Helper()
	require.NoError(t, p.Warm(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Execute(ctx, spinRequest)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(300 * time.Millisecond)
}

func TestCancelWhileAnotherCallHoldsEngine(t *testing.T) {
	p := testEngine(t)
	holdEngine(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := p.Execute(ctx, addRequest(1, 2))
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWarmHonoursContextWhileEngineBusy(t *testing.T) {
	p := testEngine(t)
	holdEngine(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Warm(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueuedCallRunsAfterHolderFinishes(t *testing.T) {
	p := testEngine(t)
	require.NoError(t, p.Warm(context.Background()))

	first := make(chan Result, 1)
	go func() {
		res, _ := p.Execute(context.Background(), Request{
			Code:     "import time\ndef nap():\n    time.sleep(0.3)\n    return 1\n",
			FuncName: "nap",
		})
		first <- res
	}()
	time.Sleep(100 * time.Millisecond)

	res, err := p.Execute(context.Background(), addRequest(2, 2))
	require.NoError(t, err)
	assert.JSONEq(t, "4", string(res.Return))
	assert.JSONEq(t, "1", string((<-first).Return))
}

// slowRelease launches local interpreters whose cleanup takes a while.
type slowRelease struct {
	sandbox.Local
	released atomic.Bool
}

func (l *slowRelease) Launch(script string) (*sandbox.Instance, error) {
	inst, err := l.Local.Launch(script)
	if err != nil {
		return nil, err
	}
	inst.Release = func() {
		time.Sleep(200 * time.Millisecond)
		l.released.Store(true)
	}
	return inst, nil
}

func TestCloseWaitsForSandboxCleanup(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	launcher := &slowRelease{Local: sandbox.Local{Python: "python3"}}
	p := New(Options{Launcher: launcher, Logger: zerolog.Nop()})
	require.NoError(t, p.Warm(context.Background()))

	require.NoError(t, p.Close())
	assert.True(t, launcher.released.Load())
}

func TestCloseInterruptsRunningCall(t *testing.T) {
	p := testEngine(t)
	require.NoError(t, p.Warm(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), spinRequest)
		errCh <- err
	}()
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("running call did not end after Close")
	}
}

func TestInterpreterExitIsRuntimeError(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), Request{
		Code:     "import os\ndef die():\n    os._exit(3)\n",
		FuncName: "die",
	})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.True(t, strings.HasPrefix(res.Error, "interpreter terminated"))

	res, err = p.Execute(context.Background(), addRequest(2, 2))
	require.NoError(t, err)
	assert.JSONEq(t, "4", string(res.Return))
}

func TestUnserializableReturn(t *testing.T) {
	p := testEngine(t)
	res, err := p.Execute(context.Background(), Request{Code: "def s():\n    return {1, 2}\n", FuncName: "s"})
	require.NoError(t, err)
	assert.Equal(t, RuntimeError, res.Kind)
	assert.Contains(t, res.Error, "not JSON serializable")
}

func TestClosedEngine(t *testing.T) {
	p := New(Options{Logger: zerolog.Nop()})
	require.NoError(t, p.Close())
	_, err := p.Execute(context.Background(), addRequest(1, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStartFailure(t *testing.T) {
	p := New(Options{Launcher: sandbox.Local{Python: "no-such-python"}, Logger: zerolog.Nop()})
	defer p.Close()
	_, err := p.Execute(context.Background(), addRequest(1, 1))
	assert.Error(t, err)
}

func TestResponseResult(t *testing.T) {
	res := response{ID: "1", Result: `{"return": [1, {"b": 2}], "stdout": "x"}`}.result()
	assert.Equal(t, OK, res.Kind)
	assert.JSONEq(t, `[1, {"b": 2}]`, string(res.Return))

	assert.Equal(t, TimedOut, response{Timeout: true}.result().Kind)
	assert.Equal(t, Cancelled, response{Interrupted: true}.result().Kind)
	assert.Equal(t, RuntimeError, response{Result: "not json"}.result().Kind)
}
