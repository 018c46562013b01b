// Package verdict runs a batch of test cases through an execution engine
// and decides which of them pass.
package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/value"
)

var (
	// ErrBusy is returned when RunAll is called while a run is in progress.
	ErrBusy = errors.New("a run is already in progress")
	// ErrEngineUnavailable wraps failures of the interpreter itself.
	ErrEngineUnavailable = errors.New("interpreter unavailable")
)

// Messages recorded for abnormal executions.
const (
	MsgInterrupted = "execution interrupted"
	MsgTimedOut    = "timed out"
)

// callWrap is the width after which call lines are split per argument.
const callWrap = 40

// Outcome is the verdict for one test.
type Outcome string

const (
	Passed Outcome = "pass"
	Failed Outcome = "fail"
	NotRun Outcome = "not_run"
)

// Phase is the evaluator state.
type Phase string

const (
	Idle      Phase = "idle"
	Running   Phase = "running"
	Cancelled Phase = "cancelled"
)

// RunRecord is the diagnostic kept for one executed test.
type RunRecord struct {
	Call           string          `json:"call"`
	Stdin          string          `json:"stdin,omitempty"`
	ExpectedReturn *value.Value    `json:"expectedReturn,omitempty"`
	ExpectedStdout *string         `json:"expectedStdout,omitempty"`
	Return         json.RawMessage `json:"return,omitempty"`
	Stdout         *string         `json:"stdout,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// TestResult pairs an outcome with its record. Record is nil for NotRun.
type TestResult struct {
	Outcome Outcome    `json:"outcome"`
	Record  *RunRecord `json:"record,omitempty"`
}

// Report summarises a batch.
type Report struct {
	Results     []TestResult  `json:"results"`
	Passed      int           `json:"passed"`
	Total       int           `json:"total"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// Summary renders the pass ratio the way the status line shows it.
func (r Report) Summary() string {
	if r.Total == 0 {
		return "Passed tests: 0/0"
	}
	pct := int(math.Round(float64(r.Passed) / float64(r.Total) * 100))
	return fmt.Sprintf("Passed tests: %d/%d (%d%%)", r.Passed, r.Total, pct)
}

// Batch is the input of one run.
type Batch struct {
	Code      string
	Signature task.Signature
	Tests     []task.TestCase
	Timeout   time.Duration
}

// Hooks receive progress while a batch runs. Both are optional.
type Hooks struct {
	OnStart  func(index, total int)
	OnResult func(index int, result TestResult)
}

// Evaluator runs batches sequentially on one executor.
type Evaluator struct {
	exec   engine.Executor
	logger zerolog.Logger

	mu     sync.Mutex
	phase  Phase
	index  int
	cancel context.CancelFunc
}

// New creates an evaluator on exec.
func New(exec engine.Executor, logger zerolog.Logger) *Evaluator {
	return &Evaluator{exec: exec, logger: logger.With().Str("component", "verdict").Logger(), phase: Idle}
}

// State returns the current phase and, while running, the test index.
func (e *Evaluator) State() (Phase, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase, e.index
}

// Cancel interrupts the running batch. It reports whether one was running.
func (e *Evaluator) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != Running || e.cancel == nil {
		return false
	}
	e.phase = Cancelled
	e.cancel()
	return true
}

// RunAll executes every test in order. A cancelled execution stops the
// batch: the interrupted test fails and the remaining tests are NotRun.
func (e *Evaluator) RunAll(ctx context.Context, b Batch, hooks Hooks) (Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.phase != Idle {
		e.mu.Unlock()
		return Report{}, ErrBusy
	}
	e.phase, e.index, e.cancel = Running, 0, cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.phase, e.index, e.cancel = Idle, 0, nil
		e.mu.Unlock()
	}()

	start := time.Now()
	report := Report{Total: len(b.Tests), Results: make([]TestResult, len(b.Tests))}
	for i := range report.Results {
		report.Results[i].Outcome = NotRun
	}
	types := b.Signature.ArgTypes()

	for i, tc := range b.Tests {
		e.mu.Lock()
		e.index = i
		e.mu.Unlock()
		if hooks.OnStart != nil {
			hooks.OnStart(i, len(b.Tests))
		}

		rec := newRecord(b.Signature, tc)
		res, err := e.exec.Execute(ctx, engine.Request{
			Code:     b.Code,
			FuncName: b.Signature.Name,
			Args:     tc.Args,
			Types:    types,
			Stdin:    tc.StdinText(),
			Timeout:  b.Timeout,
		})
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}

		result := TestResult{Outcome: Failed, Record: rec}
		switch res.Kind {
		case engine.Cancelled:
			rec.Error = MsgInterrupted
			report.Results[i] = result
			report.Interrupted = true
			if hooks.OnResult != nil {
				hooks.OnResult(i, result)
			}
			e.logger.Info().Int("test", i).Msg("run interrupted")
			report.Duration = time.Since(start)
			return report, nil
		case engine.TimedOut:
			rec.Error = fmt.Sprintf("%s after %s", MsgTimedOut, b.Timeout)
		case engine.RuntimeError:
			rec.Error = res.Error
		case engine.OK:
			if judge(tc, res, rec) {
				result.Outcome = Passed
				report.Passed++
			}
		}
		report.Results[i] = result
		if hooks.OnResult != nil {
			hooks.OnResult(i, result)
		}
	}

	report.Duration = time.Since(start)
	e.logger.Debug().Int("passed", report.Passed).Int("total", report.Total).Dur("took", report.Duration).Msg("run finished")
	return report, nil
}

func newRecord(sig task.Signature, tc task.TestCase) *RunRecord {
	rec := &RunRecord{Call: sig.Call(tc.Args, callWrap), Stdin: tc.StdinText()}
	if tc.Return != nil {
		ret := *tc.Return
		rec.ExpectedReturn = &ret
	}
	if tc.Stdout != nil {
		want := strings.TrimSpace(*tc.Stdout)
		rec.ExpectedStdout = &want
	}
	return rec
}

// judge fills the actual values into rec and reports whether the test passed.
func judge(tc task.TestCase, res engine.Result, rec *RunRecord) bool {
	ok := true
	if tc.Return != nil {
		want, err := json.Marshal(tc.Return)
		ok = err == nil && sameJSON(res.Return, want)
	}
	got := strings.TrimSpace(res.Stdout)
	if tc.Stdout != nil {
		ok = ok && got == *rec.ExpectedStdout
	}
	if tc.Return != nil || !isNull(res.Return) {
		rec.Return = res.Return
	}
	if tc.Stdout != nil || got != "" {
		rec.Stdout = &got
	}
	return ok
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
