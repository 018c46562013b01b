package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/sandbox"
)

const stderrTail = 4096

// worker is one running interpreter process.
type worker struct {
	inst      *sandbox.Instance
	stdin     io.WriteCloser
	responses chan response
	stop      chan struct{}
	exited    chan struct{}
	stderr    *tailBuffer
	stopOnce  sync.Once
	waitErr   error
	releases  *pendingReleases
}

// startWorker launches an interpreter and waits for its ready line. Sandbox
// cleanup after a kill is tracked on releases.
func startWorker(ctx context.Context, launcher sandbox.Launcher, startup time.Duration, releases *pendingReleases, logger zerolog.Logger) (*worker, error) {
	inst, err := launcher.Launch(harness)
	if err != nil {
		return nil, fmt.Errorf("launching interpreter: %w", err)
	}
	cmd := inst.Cmd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("interpreter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("interpreter stdout: %w", err)
	}
	w := &worker{
		inst:      inst,
		stdin:     stdin,
		responses: make(chan response, 16),
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
		stderr:    &tailBuffer{max: stderrTail},
		releases:  releases,
	}
	cmd.Stderr = w.stderr

	logger.Debug().
		Str("cmd", displayCommand(cmd.Args)).
		Msg("starting interpreter")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting interpreter: %w", err)
	}
	go w.readLoop(stdout, logger)

	timer := time.NewTimer(startup)
	defer timer.Stop()
	for {
		select {
		case resp, ok := <-w.responses:
			if !ok {
				return nil, fmt.Errorf("interpreter exited during startup: %s", w.exitMessage())
			}
			if resp.Type == "ready" {
				logger.Debug().Int("pid", cmd.Process.Pid).Msg("interpreter ready")
				return w, nil
			}
		case <-timer.C:
			w.kill()
			return nil, fmt.Errorf("interpreter not ready after %s", startup)
		case <-ctx.Done():
			w.kill()
			return nil, ctx.Err()
		}
	}
}

// displayCommand abbreviates the inline harness so the launch line stays readable.
func displayCommand(args []string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == harness {
			parts = append(parts, "<harness>")
			continue
		}
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}

func (w *worker) readLoop(stdout io.Reader, logger zerolog.Logger) {
	defer func() {
		w.waitErr = w.inst.Cmd.Wait()
		close(w.exited)
		close(w.responses)
	}()
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var resp response
			if jerr := json.Unmarshal(line, &resp); jerr != nil {
				logger.Warn().Err(jerr).Msg("discarding malformed interpreter line")
			} else {
				if resp.Type == "protocol_error" {
					logger.Warn().Str("error", resp.Error).Msg("interpreter rejected request")
				}
				select {
				case w.responses <- resp:
				case <-w.stop:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (w *worker) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// kill tears the process down. It is safe to call more than once.
func (w *worker) kill() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.stdin.Close()
		if p := w.inst.Cmd.Process; p != nil {
			_ = p.Kill()
		}
		if w.inst.Release != nil {
			w.releases.start(w.inst.Release)
		}
	})
}

// exitMessage describes why the process ended. Only meaningful once the
// responses channel is closed.
func (w *worker) exitMessage() string {
	<-w.exited
	msg := strings.TrimSpace(w.stderr.String())
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	switch {
	case msg != "":
		return msg
	case w.waitErr != nil:
		return w.waitErr.Error()
	default:
		return "exited"
	}
}

// pendingReleases counts sandbox cleanups that are still running.
type pendingReleases struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (r *pendingReleases) start(fn func()) {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	go func() {
		defer r.done()
		fn()
	}()
}

func (r *pendingReleases) done() {
	r.mu.Lock()
	r.n--
	if r.cond != nil {
		r.cond.Broadcast()
	}
	r.mu.Unlock()
}

// wait blocks until no cleanup is running.
func (r *pendingReleases) wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cond == nil {
		r.cond = sync.NewCond(&r.mu)
	}
	for r.n > 0 {
		r.cond.Wait()
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
