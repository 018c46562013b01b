// Package practice drives one task page: it owns the test list, the code
// under edit and the display settings, applies typed commands from a
// front end and reports progress as events.
package practice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

// ErrUnknownTest is returned for a test id the session does not hold.
var ErrUnknownTest = errors.New("unknown test")

// Status lines shown above the test list.
const (
	StatusLoading     = "Loading interpreter..."
	StatusInterrupted = "Execution interrupted"
)

func statusRunning(i, n int) string {
	return fmt.Sprintf("Running tests %d/%d", i+1, n)
}

func statusLoadFailed(err error) string {
	return "Failed to load interpreter: " + err.Error()
}

// Warmer starts the interpreter ahead of the first run.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Test is one entry of the test list.
type Test struct {
	ID      string             `json:"id"`
	Sample  bool               `json:"sample"`
	Case    task.TestCase      `json:"case"`
	Outcome verdict.Outcome    `json:"outcome,omitempty"` // empty until run
	Record  *verdict.RunRecord `json:"record,omitempty"`
}

func (t Test) clone() Test {
	t.Case = t.Case.Clone()
	if t.Record != nil {
		rec := *t.Record
		t.Record = &rec
	}
	return t
}

// Snapshot is the full page state.
type Snapshot struct {
	Slug       string         `json:"slug"`
	Title      string         `json:"title"`
	Signature  task.Signature `json:"signature"`
	Code       string         `json:"code"`
	Tests      []Test         `json:"tests"`
	HidePassed bool           `json:"hidePassed"`
	HideSample bool           `json:"hideSample"`
	Timeout    int            `json:"timeout"`
	Status     string         `json:"status"`
	Running    bool           `json:"running"`
	Ready      bool           `json:"ready"`
}

// Config wires a session to its collaborators. Store and Warmer are optional.
type Config struct {
	Task      *task.Descriptor
	Store     *storage.Manager
	Evaluator *verdict.Evaluator
	Warmer    Warmer
	Logger    zerolog.Logger
}

// Session is the state of one task page.
type Session struct {
	task   *task.Descriptor
	store  *storage.Manager
	eval   *verdict.Evaluator
	warmer Warmer
	logger zerolog.Logger

	mu      sync.Mutex
	state   *storage.UserState
	tests   []*Test
	status  string
	running bool
	fatal   error

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Open loads the saved state of cfg.Task and builds its test list: the
// shipped samples followed by the user's own tests.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Task == nil || cfg.Evaluator == nil {
		return nil, errors.New("practice: task and evaluator are required")
	}
	st := storage.NewUserState()
	if cfg.Store != nil {
		loaded, err := cfg.Store.Load(ctx, cfg.Task.Slug)
		if err != nil {
			return nil, fmt.Errorf("loading state of %s: %w", cfg.Task.Slug, err)
		}
		st = loaded
	}
	sig := cfg.Task.Signature
	if st.Code == "" {
		st.Code = sig.Def()
	}

	s := &Session{
		task:   cfg.Task,
		store:  cfg.Store,
		eval:   cfg.Evaluator,
		warmer: cfg.Warmer,
		logger: cfg.Logger.With().Str("component", "practice").Str("task", cfg.Task.Slug).Logger(),
		state:  st,
		subs:   make(map[int]func(Event)),
	}
	for _, tc := range cfg.Task.Tests {
		s.tests = append(s.tests, &Test{ID: uuid.NewString(), Sample: true, Case: tc.Normalize(sig)})
	}
	for _, tc := range task.NormalizeAll(st.Tests, sig) {
		s.tests = append(s.tests, &Test{ID: uuid.NewString(), Case: tc})
	}
	return s, nil
}

// Slug returns the task slug.
func (s *Session) Slug() string {
	return s.task.Slug
}

// Task returns the descriptor the session was opened with.
func (s *Session) Task() *task.Descriptor {
	return s.task
}

// Subscribe registers fn for every event. The returned func unregisters it.
// fn runs on the goroutine that caused the event and must not block.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) emit(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Session) setStatus(text string) {
	s.mu.Lock()
	s.status = text
	s.mu.Unlock()
	s.emit(Event{Kind: EventStatus, Status: text})
}

// Prepare loads the interpreter. A failure disables Run for the rest of
// the session; an ended ctx does not.
func (s *Session) Prepare(ctx context.Context) error {
	if s.warmer == nil {
		return nil
	}
	s.setStatus(StatusLoading)
	if err := s.warmer.Warm(ctx); err != nil {
		if ctx.Err() != nil {
			// Abandoned, not failed: a later Prepare or Run may still load it.
			s.setStatus("")
			return ctx.Err()
		}
		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("interpreter failed to load")
		s.setStatus(statusLoadFailed(err))
		return fmt.Errorf("%w: %v", verdict.ErrEngineUnavailable, err)
	}
	s.setStatus("")
	return nil
}

// Snapshot returns a copy of the page state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Slug:       s.task.Slug,
		Title:      s.task.Title,
		Signature:  s.task.Signature,
		Code:       s.state.Code,
		Tests:      make([]Test, len(s.tests)),
		HidePassed: s.state.HidePassed,
		HideSample: s.state.HideSample,
		Timeout:    s.state.Timeout,
		Status:     s.status,
		Running:    s.running,
		Ready:      s.fatal == nil,
	}
	for i, t := range s.tests {
		snap.Tests[i] = t.clone()
	}
	return snap
}

// Visible returns the tests the display filters leave on screen.
func (s *Session) Visible() []Test {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Test
	for _, t := range s.tests {
		if s.state.HidePassed && t.Outcome == verdict.Passed {
			continue
		}
		if s.state.HideSample && t.Sample {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// Status returns the current status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// changedLocked persists the state and returns the snapshot to announce.
func (s *Session) changedLocked() Snapshot {
	s.persistLocked()
	return s.snapshotLocked()
}

func (s *Session) persistLocked() {
	custom := make([]task.TestCase, 0, len(s.tests))
	for _, t := range s.tests {
		if !t.Sample {
			custom = append(custom, t.Case.Clone())
		}
	}
	s.state.Tests = custom
	if s.store != nil {
		s.store.SaveAsync(s.task.Slug, s.state, storage.SaveOptions{})
	}
}

func (s *Session) find(id string) (int, *Test) {
	for i, t := range s.tests {
		if t.ID == id {
			return i, t
		}
	}
	return -1, nil
}

// SetCode replaces the code under edit.
func (s *Session) SetCode(code string) {
	s.mu.Lock()
	s.state.Code = code
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: &snap})
}

// AddTest appends a user test. A nil tc adds one with every field at its
// type default. The new test id is returned.
func (s *Session) AddTest(tc *task.TestCase) string {
	sig := s.task.Signature
	c := sig.NewTestCase()
	if tc != nil {
		c = tc.Normalize(sig)
	}
	t := &Test{ID: uuid.NewString(), Case: c}

	s.mu.Lock()
	s.tests = append(s.tests, t)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: &snap})
	return t.ID
}

// RemoveTest drops a test from the list. Samples come back on the next open.
func (s *Session) RemoveTest(id string) error {
	s.mu.Lock()
	i, _ := s.find(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	s.tests = append(s.tests[:i], s.tests[i+1:]...)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: &snap})
	return nil
}

// UpdateTest replaces the inputs and expectations of a test and clears its
// previous result. Edits to samples last for this session only.
func (s *Session) UpdateTest(id string, tc task.TestCase) error {
	s.mu.Lock()
	_, t := s.find(id)
	if t == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	t.Case = tc.Normalize(s.task.Signature)
	t.Outcome, t.Record = "", nil
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: &snap})
	return nil
}

// Settings holds optional changes to the display settings.
type Settings struct {
	HidePassed *bool `json:"hidePassed,omitempty"`
	HideSample *bool `json:"hideSample,omitempty"`
	Timeout    *int  `json:"timeout,omitempty"` // seconds; 0 disables the limit
}

// ApplySettings updates the settings that are set in c.
func (s *Session) ApplySettings(c Settings) {
	s.mu.Lock()
	if c.HidePassed != nil {
		s.state.HidePassed = *c.HidePassed
	}
	if c.HideSample != nil {
		s.state.HideSample = *c.HideSample
	}
	if c.Timeout != nil {
		s.state.Timeout = max(*c.Timeout, 0)
	}
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: &snap})
}

// Save writes the state and waits for the remote sync decision.
func (s *Session) Save(ctx context.Context, force bool) (storage.SyncResult, error) {
	if s.store == nil {
		return storage.SyncResult{Skipped: true, Reason: storage.ReasonNoRemote}, nil
	}
	s.mu.Lock()
	s.persistLocked()
	st := s.state.Clone()
	s.mu.Unlock()
	// persistLocked already queued an unforced save; this one follows it.
	return s.store.Save(ctx, s.task.Slug, st, storage.SaveOptions{Force: force})
}

// Cancel interrupts the running batch and reports whether one was running.
func (s *Session) Cancel() bool {
	return s.eval.Cancel()
}

// Run saves the state and executes every test in list order. Results
// arrive as events while it runs.
func (s *Session) Run(ctx context.Context) (verdict.Report, error) {
	s.mu.Lock()
	if s.fatal != nil {
		s.mu.Unlock()
		return verdict.Report{}, fmt.Errorf("%w: %v", verdict.ErrEngineUnavailable, s.fatal)
	}
	if s.running {
		s.mu.Unlock()
		return verdict.Report{}, verdict.ErrBusy
	}
	s.running = true
	s.persistLocked()
	batch := verdict.Batch{
		Code:      s.state.Code,
		Signature: s.task.Signature,
		Tests:     make([]task.TestCase, len(s.tests)),
		Timeout:   s.state.TimeoutDuration(),
	}
	// Entries removed mid-run still receive their result.
	run := make([]*Test, len(s.tests))
	copy(run, s.tests)
	for i, t := range run {
		batch.Tests[i] = t.Case.Clone()
		t.Outcome, t.Record = "", nil
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	hooks := verdict.Hooks{
		OnStart: func(i, n int) {
			s.setStatus(statusRunning(i, n))
		},
		OnResult: func(i int, r verdict.TestResult) {
			s.mu.Lock()
			t := run[i]
			t.Outcome, t.Record = r.Outcome, r.Record
			out := t.clone()
			s.mu.Unlock()
			s.emit(Event{Kind: EventTestResult, Index: i, Test: &out})
		},
	}

	report, err := s.eval.RunAll(ctx, batch, hooks)
	if err != nil {
		if !errors.Is(err, verdict.ErrBusy) {
			s.logger.Error().Err(err).Msg("run aborted")
			s.setStatus(statusLoadFailed(err))
		}
		return report, err
	}

	if report.Interrupted {
		s.setStatus(StatusInterrupted)
	} else {
		s.setStatus(report.Summary())
	}
	s.logger.Info().Int("passed", report.Passed).Int("total", report.Total).Bool("interrupted", report.Interrupted).Msg("run finished")
	s.emit(Event{Kind: EventRunFinished, Report: &report})
	return report, nil
}
