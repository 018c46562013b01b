// Package engine runs user code against a single test input inside a
// separate interpreter process that can be torn down at any moment.
package engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/sandbox"
	"github.com/michaelbrown/algoprep/internal/value"
)

//go:embed harness.py
var harness string

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("engine closed")

// Kind classifies an execution outcome.
type Kind string

const (
	OK           Kind = "ok"
	TimedOut     Kind = "timed_out"
	Cancelled    Kind = "cancelled"
	RuntimeError Kind = "runtime_error"
)

// Request is one call of the user's function.
type Request struct {
	Code     string
	FuncName string
	Args     map[string]value.Value
	Types    map[string]value.Type
	Stdin    string
	Timeout  time.Duration // zero disables the limit
}

// Result is the outcome of a Request. Return holds the JSON encoding of
// the returned value and is only set for OK.
type Result struct {
	Kind   Kind
	Return json.RawMessage
	Stdout string
	Error  string
}

// Executor runs requests. Errors are reserved for the interpreter itself
// being unavailable; failures of user code are reported in the Result.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Options configure a Process engine.
type Options struct {
	Launcher       sandbox.Launcher
	StartupTimeout time.Duration
	// Prewarm starts a replacement interpreter right after a teardown
	// instead of waiting for the next call.
	Prewarm bool
	Logger  zerolog.Logger
}

// Process executes requests on a long-lived interpreter process. Only one
// request is outstanding at a time; timeouts and cancellation kill the
// process and the next call starts a fresh one.
type Process struct {
	opts   Options
	logger zerolog.Logger

	// sem admits one caller at a time; waiting for it honours ctx.
	sem chan struct{}

	mu     sync.Mutex // guards w and closed
	w      *worker
	closed bool

	releases pendingReleases
}

// New creates an engine. No process is started until Warm or Execute.
func New(opts Options) *Process {
	if opts.Launcher == nil {
		opts.Launcher = sandbox.Local{}
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	return &Process{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "engine").Logger(),
		sem:    make(chan struct{}, 1),
	}
}

func (p *Process) acquire(ctx context.Context) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Process) release() {
	<-p.sem
}

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Warm starts the interpreter if it is not running. It returns ctx.Err()
// when ctx ends while another call holds the engine.
func (p *Process) Warm(ctx context.Context) error {
	if !p.acquire(ctx) {
		return ctx.Err()
	}
	defer p.release()
	_, err := p.ensure(ctx)
	return err
}

// ensure returns the live worker, starting one if needed. Callers hold sem.
func (p *Process) ensure(ctx context.Context) (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if w := p.w; w != nil {
		select {
		case <-w.exited:
			p.w = nil
		default:
			p.mu.Unlock()
			return w, nil
		}
	}
	p.mu.Unlock()

	start := time.Now()
	w, err := startWorker(ctx, p.opts.Launcher, p.opts.StartupTimeout, &p.releases, p.logger)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.kill()
		return nil, ErrClosed
	}
	p.logger.Info().Dur("took", time.Since(start)).Msg("interpreter started")
	p.w = w
	return w, nil
}

// Execute runs req and waits for its result, the timeout or ctx. A ctx that
// ends while another call holds the engine yields Cancelled.
func (p *Process) Execute(ctx context.Context, req Request) (Result, error) {
	if p.isClosed() {
		return Result{}, ErrClosed
	}
	if ctx.Err() != nil || !p.acquire(ctx) {
		return Result{Kind: Cancelled}, nil
	}
	defer p.release()

	w, err := p.ensure(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrClosed) {
			return Result{Kind: Cancelled}, nil
		}
		return Result{}, err
	}

	id := uuid.NewString()
	msg := request{
		ID:       id,
		Code:     strings.ReplaceAll(req.Code, "\t", "    "),
		FuncName: req.FuncName,
		Args:     req.Args,
		Types:    req.Types,
		Stdin:    req.Stdin,
	}
	if msg.Args == nil {
		msg.Args = map[string]value.Value{}
	}
	if err := w.send(msg); err != nil {
		p.teardown(w, "send failed")
		if p.isClosed() {
			return Result{}, ErrClosed
		}
		return Result{Kind: RuntimeError, Error: fmt.Sprintf("interpreter unavailable: %v", err)}, nil
	}

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case resp, ok := <-w.responses:
			if !ok {
				if p.isClosed() {
					return Result{}, ErrClosed
				}
				reason := w.exitMessage()
				p.teardown(w, "exited")
				return Result{Kind: RuntimeError, Error: "interpreter terminated: " + reason}, nil
			}
			if resp.ID != id {
				continue
			}
			return resp.result(), nil
		case <-deadline:
			p.teardown(w, "timeout")
			return response{ID: id, Timeout: true}.result(), nil
		case <-ctx.Done():
			p.teardown(w, "cancelled")
			return response{ID: id, Interrupted: true}.result(), nil
		}
	}
}

// teardown kills w and forgets it if it is still the current worker.
func (p *Process) teardown(w *worker, reason string) {
	p.mu.Lock()
	if p.w == w {
		p.w = nil
	}
	closed := p.closed
	p.mu.Unlock()

	p.logger.Debug().Str("reason", reason).Msg("tearing down interpreter")
	w.kill()
	if p.opts.Prewarm && !closed {
		go func() {
			if err := p.Warm(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				p.logger.Warn().Err(err).Msg("prewarm failed")
			}
		}()
	}
}

// Reset discards the current interpreter. A running call ends with a
// RuntimeError.
func (p *Process) Reset() {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w != nil {
		p.teardown(w, "reset")
	}
}

// Close stops the interpreter and waits until its sandbox is cleaned up.
// Execute fails with ErrClosed afterwards.
func (p *Process) Close() error {
	p.mu.Lock()
	p.closed = true
	w := p.w
	p.w = nil
	p.mu.Unlock()
	if w != nil {
		p.logger.Debug().Str("reason", "closed").Msg("tearing down interpreter")
		w.kill()
	}
	p.releases.wait()
	return nil
}
