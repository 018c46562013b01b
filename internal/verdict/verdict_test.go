package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/sandbox"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/value"
)

// scriptedExecutor answers each call with the next scripted function.
type scriptedExecutor struct {
	mu    sync.Mutex
	calls []engine.Request
	steps []func(ctx context.Context, req engine.Request) (engine.Result, error)
}

func (s *scriptedExecutor) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.steps[n](ctx, req)
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func ok(ret string, stdout string) func(context.Context, engine.Request) (engine.Result, error) {
	return func(context.Context, engine.Request) (engine.Result, error) {
		return engine.Result{Kind: engine.OK, Return: json.RawMessage(ret), Stdout: stdout}, nil
	}
}

func blockUntilCancelled(started chan<- struct{}) func(context.Context, engine.Request) (engine.Result, error) {
	return func(ctx context.Context, _ engine.Request) (engine.Result, error) {
		close(started)
		<-ctx.Done()
		return engine.Result{Kind: engine.Cancelled}, nil
	}
}

var addSig = task.Signature{
	Name:       "add",
	Args:       []task.Arg{{Name: "a", Type: value.Int}, {Name: "b", Type: value.Int}},
	ReturnType: value.Int,
}

func addTest(a, b, want int64) task.TestCase {
	ret := value.IntOf(want)
	return task.TestCase{
		Args:   map[string]value.Value{"a": value.IntOf(a), "b": value.IntOf(b)},
		Return: &ret,
	}
}

func strp(s string) *string { return &s }

func TestPassAndFail(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){
		ok("5", ""),
		ok("-1", ""),
	}}
	ev := New(ex, zerolog.Nop())

	report, err := ev.RunAll(context.Background(), Batch{
		Code:      "def add(a, b): ...",
		Signature: addSig,
		Tests:     []task.TestCase{addTest(2, 3, 5), addTest(2, 3, 5)},
	}, Hooks{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, Passed, report.Results[0].Outcome)
	assert.Equal(t, Failed, report.Results[1].Outcome)

	rec := report.Results[1].Record
	assert.Equal(t, "add(a=2, b=3)", rec.Call)
	assert.Equal(t, "-1", string(rec.Return))
	assert.True(t, rec.ExpectedReturn.Equal(value.IntOf(5)))
	assert.Equal(t, "Passed tests: 1/2 (50%)", report.Summary())

	assert.Equal(t, "add", ex.calls[0].FuncName)
	assert.Equal(t, value.Int, ex.calls[0].Types["a"])
}

func TestEqualityIsCanonical(t *testing.T) {
	floatSig := task.Signature{Name: "f", ReturnType: value.Float}
	ret := value.FloatOf(1)
	tc := task.TestCase{Args: map[string]value.Value{}, Return: &ret}

	tests := []struct {
		actual string
		pass   bool
	}{
		{"1.0", true},
		{"1", true},
		{`"1"`, false},
		{"1.0000001", false},
		{"true", false},
		{"null", false},
	}
	for _, tt := range tests {
		ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){ok(tt.actual, "")}}
		report, err := New(ex, zerolog.Nop()).RunAll(context.Background(), Batch{Signature: floatSig, Tests: []task.TestCase{tc}}, Hooks{})
		require.NoError(t, err)
		assert.Equalf(t, tt.pass, report.Results[0].Outcome == Passed, "actual %s", tt.actual)
	}
}

func TestCanonical(t *testing.T) {
	got, err := Canonical([]byte(` {"b": [1.0, 2.50, "x"], "a": {"z": null, "y": true}} `))
	require.NoError(t, err)
	assert.Equal(t, `{"b":[1,2.5,"x"],"a":{"z":null,"y":true}}`, got)

	// Key order is significant.
	assert.False(t, sameJSON([]byte(`{"a":1,"b":2}`), []byte(`{"b":2,"a":1}`)))
	assert.True(t, sameJSON([]byte(`[1e2]`), []byte(`[100]`)))

	_, err = Canonical([]byte(`1 2`))
	assert.Error(t, err)
}

func TestStdoutTrimmed(t *testing.T) {
	sig := task.Signature{Name: "show"}
	tc := task.TestCase{Args: map[string]value.Value{}, Stdout: strp("hello\n")}
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){
		ok("null", "  hello\n\n"),
		ok("null", "hell"),
	}}
	report, err := New(ex, zerolog.Nop()).RunAll(context.Background(), Batch{Signature: sig, Tests: []task.TestCase{tc, tc}}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, Passed, report.Results[0].Outcome)
	assert.Equal(t, Failed, report.Results[1].Outcome)
	assert.Equal(t, "hell", *report.Results[1].Record.Stdout)
	assert.Equal(t, "hello", *report.Results[1].Record.ExpectedStdout)
	assert.Nil(t, report.Results[1].Record.Return)
}

func TestNoExpectationsPass(t *testing.T) {
	sig := task.Signature{Name: "noop"}
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){ok("3", "")}}
	report, err := New(ex, zerolog.Nop()).RunAll(context.Background(), Batch{
		Signature: sig,
		Tests:     []task.TestCase{{Args: map[string]value.Value{}}},
	}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, Passed, report.Results[0].Outcome)
	assert.Equal(t, "3", string(report.Results[0].Record.Return))
}

func TestTimeoutAndErrorsContinue(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){
		func(context.Context, engine.Request) (engine.Result, error) {
			return engine.Result{Kind: engine.TimedOut}, nil
		},
		func(context.Context, engine.Request) (engine.Result, error) {
			return engine.Result{Kind: engine.RuntimeError, Error: "NameError: name 'x' is not defined"}, nil
		},
		ok("5", ""),
	}}
	report, err := New(ex, zerolog.Nop()).RunAll(context.Background(), Batch{
		Signature: addSig,
		Tests:     []task.TestCase{addTest(2, 3, 5), addTest(2, 3, 5), addTest(2, 3, 5)},
		Timeout:   time.Second,
	}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, []Outcome{Failed, Failed, Passed}, outcomes(report))
	assert.Equal(t, "timed out after 1s", report.Results[0].Record.Error)
	assert.Contains(t, report.Results[1].Record.Error, "NameError")
	assert.False(t, report.Interrupted)
}

func TestCancelHaltsBatch(t *testing.T) {
	started := make(chan struct{})
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){
		ok("5", ""),
		blockUntilCancelled(started),
		ok("5", ""), ok("5", ""), ok("5", ""),
	}}
	ev := New(ex, zerolog.Nop())
	tests := []task.TestCase{addTest(2, 3, 5), addTest(2, 3, 5), addTest(2, 3, 5), addTest(2, 3, 5), addTest(2, 3, 5)}

	go func() {
		<-started
		phase, index := ev.State()
		assert.Equal(t, Running, phase)
		assert.Equal(t, 1, index)
		assert.True(t, ev.Cancel())
	}()

	var seen []int
	report, err := ev.RunAll(context.Background(), Batch{Signature: addSig, Tests: tests}, Hooks{
		OnResult: func(i int, _ TestResult) { seen = append(seen, i) },
	})
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, []Outcome{Passed, Failed, NotRun, NotRun, NotRun}, outcomes(report))
	assert.Equal(t, MsgInterrupted, report.Results[1].Record.Error)
	assert.Nil(t, report.Results[2].Record)
	assert.Equal(t, 2, ex.callCount())
	assert.Equal(t, []int{0, 1}, seen)

	phase, _ := ev.State()
	assert.Equal(t, Idle, phase)
	assert.False(t, ev.Cancel())
}

func TestBusy(t *testing.T) {
	started := make(chan struct{})
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){blockUntilCancelled(started)}}
	ev := New(ex, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev.RunAll(context.Background(), Batch{Signature: addSig, Tests: []task.TestCase{addTest(1, 1, 2)}}, Hooks{})
	}()
	<-started
	_, err := ev.RunAll(context.Background(), Batch{Signature: addSig}, Hooks{})
	assert.ErrorIs(t, err, ErrBusy)
	ev.Cancel()
	<-done
}

func TestEngineUnavailable(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context, engine.Request) (engine.Result, error){
		func(context.Context, engine.Request) (engine.Result, error) {
			return engine.Result{}, errors.New("python3 not found")
		},
	}}
	_, err := New(ex, zerolog.Nop()).RunAll(context.Background(), Batch{Signature: addSig, Tests: []task.TestCase{addTest(1, 1, 2)}}, Hooks{})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Passed tests: 0/0", Report{}.Summary())
	assert.Equal(t, "Passed tests: 2/3 (67%)", Report{Passed: 2, Total: 3}.Summary())
}

func outcomes(r Report) []Outcome {
	out := make([]Outcome, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Outcome
	}
	return out
}

// End to end against a real interpreter.
func TestWithInterpreter(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	p := engine.New(engine.Options{Launcher: sandbox.Local{Python: "python3"}, Logger: zerolog.Nop()})
	defer p.Close()
	ev := New(p, zerolog.Nop())

	report, err := ev.RunAll(context.Background(), Batch{
		Code:      "def add(a, b):\n    return a + b\n",
		Signature: addSig,
		Tests:     []task.TestCase{addTest(2, 3, 5)},
		Timeout:   5 * time.Second,
	}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, "5", string(report.Results[0].Record.Return))

	report, err = ev.RunAll(context.Background(), Batch{
		Code:      "def add(a, b):\n    return a - b\n",
		Signature: addSig,
		Tests:     []task.TestCase{addTest(2, 3, 5)},
	}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Passed)
	assert.Equal(t, "-1", string(report.Results[0].Record.Return))

	start := time.Now()
	report, err = ev.RunAll(context.Background(), Batch{
		Code:      "def add(a, b):\n    while a == 0:\n        pass\n    return a + b\n",
		Signature: addSig,
		Tests:     []task.TestCase{addTest(0, 1, 1), addTest(2, 3, 5)},
		Timeout:   time.Second,
	}, Hooks{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, []Outcome{Failed, Passed}, outcomes(report))
}
