package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/task"
)

// Options configure a Manager. Zero fields take the defaults below.
type Options struct {
	Namespace   string        // path segment under user_state/, default "algoprep"
	Interval    time.Duration // minimum time between unforced syncs, default 60s
	CodeExt     string        // extension of the code document, default "py"
	Backoff     time.Duration // wait before the single retry, default 150ms
	SyncTimeout time.Duration // bound on one background sync, default 30s
	Now         func() time.Time
	Logger      zerolog.Logger
}

// SaveOptions modify one save.
type SaveOptions struct {
	// Force bypasses the sync interval and pushes every document when any changed.
	Force bool
}

// SyncResult reports what a save did remotely.
type SyncResult struct {
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
	Pushed  []string `json:"pushed,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// Skip reasons.
const (
	ReasonNoRemote  = "no remote configured"
	ReasonThrottled = "synced recently"
	ReasonUnchanged = "nothing changed"
)

// Manager loads and saves user state across the cache and the remote store.
// Saves for one slug run strictly in call order; slugs are independent.
type Manager struct {
	cache  Cache
	remote Remote
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewManager creates a Manager. remote may be nil for cache-only operation.
func NewManager(cache Cache, remote Remote, opts Options) *Manager {
	if opts.Namespace == "" {
		opts.Namespace = "algoprep"
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.CodeExt == "" {
		opts.CodeExt = "py"
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 150 * time.Millisecond
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		cache:  cache,
		remote: remote,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "storage").Logger(),
		tails:  make(map[string]chan struct{}),
	}
}

// Cache returns the local tier.
func (m *Manager) Cache() Cache {
	return m.cache
}

func (m *Manager) basePath(slug string) string {
	return path.Join("user_state", m.opts.Namespace, slug)
}

func (m *Manager) codeFile(st *UserState) string {
	name := st.Name
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		name = "code"
	}
	return name + "." + m.opts.CodeExt
}

// Load returns the cached state of slug, falling back to the remote store.
// Missing or unreadable documents yield defaults rather than errors.
func (m *Manager) Load(ctx context.Context, slug string) (*UserState, error) {
	st, err := m.cache.LoadState(ctx, slug)
	if err == nil && st != nil {
		return st, nil
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("slug", slug).Msg("cached state unusable")
	}

	if m.remote == nil {
		return NewUserState(), nil
	}
	st, complete := m.fetchRemote(ctx, slug)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !complete {
		// Caching a partial read would shadow the remote copy on later loads.
		return st, nil
	}
	if err := m.cache.SaveState(ctx, slug, st); err != nil {
		m.logger.Warn().Err(err).Str("slug", slug).Msg("caching remote state")
	}
	if st.LastSaved > 0 {
		fp := Fingerprint(slug, st)
		meta := CommitMeta{TS: st.LastSaved, MetaHash: fp.Meta, CodeHash: fp.Code, TestsHash: fp.Tests}
		if err := m.cache.SaveCommitMeta(ctx, slug, meta); err != nil {
			m.logger.Warn().Err(err).Str("slug", slug).Msg("seeding commit meta")
		}
	}
	return st, nil
}

// fetchRemote merges the remote documents of slug. complete is false when
// any read failed, as opposed to the document being absent.
func (m *Manager) fetchRemote(ctx context.Context, slug string) (st *UserState, complete bool) {
	st = NewUserState()
	complete = true
	base := m.basePath(slug)
	fetch := func(p string) (string, bool) {
		content, found, err := m.fetch(ctx, p)
		if err != nil {
			complete = false
		}
		return content, found
	}

	content, found := fetch(base + "/metadata.json")
	if !found {
		return st, complete
	}
	var meta metadata
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		m.logger.Warn().Err(err).Str("slug", slug).Msg("ignoring malformed metadata")
	} else {
		st.LastSaved = meta.LastSaved
		st.Name = meta.Name
		if meta.HidePassed != nil {
			st.HidePassed = *meta.HidePassed
		}
		if meta.HideSample != nil {
			st.HideSample = *meta.HideSample
		}
		if meta.Timeout != nil {
			st.Timeout = *meta.Timeout
		}
	}

	if code, found := fetch(base + "/" + m.codeFile(st)); found {
		st.Code = code
	}

	if content, found := fetch(base + "/custom_tests.json"); found {
		var tests []task.TestCase
		if err := json.Unmarshal([]byte(content), &tests); err != nil {
			m.logger.Warn().Err(err).Str("slug", slug).Msg("ignoring malformed custom tests")
		} else if tests != nil {
			st.Tests = tests
		}
	}
	return st, complete
}

// fetch reads a remote file, retrying once.
func (m *Manager) fetch(ctx context.Context, p string) (string, bool, error) {
	var err error
	for attempt := range 2 {
		var content string
		var found bool
		if content, found, err = m.remote.Get(ctx, p); err == nil {
			return content, found, nil
		}
		if attempt == 0 && !m.sleep(ctx, m.opts.Backoff) {
			break
		}
	}
	m.logger.Warn().Err(err).Str("path", p).Msg("remote read failed")
	return "", false, err
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Save stamps st.LastSaved, writes the cache and then waits for the remote
// sync decision. The sync keeps running if ctx ends first.
func (m *Manager) Save(ctx context.Context, slug string, st *UserState, opts SaveOptions) (SyncResult, error) {
	done := m.schedule(slug, m.stamp(ctx, slug, st), opts.Force)
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

// SaveAsync is Save without waiting for the remote sync.
func (m *Manager) SaveAsync(slug string, st *UserState, opts SaveOptions) {
	m.schedule(slug, m.stamp(context.Background(), slug, st), opts.Force)
}

// Wait blocks until every scheduled sync has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) stamp(ctx context.Context, slug string, st *UserState) *UserState {
	st.LastSaved = m.opts.Now().UnixMilli()
	snap := st.Clone()
	if err := m.cache.SaveState(ctx, slug, snap); err != nil {
		m.logger.Error().Err(err).Str("slug", slug).Msg("writing cached state")
	}
	return snap
}

func (m *Manager) schedule(slug string, snap *UserState, force bool) <-chan SyncResult {
	m.mu.Lock()
	prev := m.tails[slug]
	done := make(chan struct{})
	m.tails[slug] = done
	m.mu.Unlock()

	out := make(chan SyncResult, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			if m.tails[slug] == done {
				delete(m.tails, slug)
			}
			m.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.SyncTimeout)
		defer cancel()
		out <- m.sync(ctx, slug, snap, force)
	}()
	return out
}

func (m *Manager) sync(ctx context.Context, slug string, st *UserState, force bool) SyncResult {
	if m.remote == nil {
		return SyncResult{Skipped: true, Reason: ReasonNoRemote}
	}

	var last CommitMeta
	if meta, err := m.cache.LoadCommitMeta(ctx, slug); err != nil {
		m.logger.Warn().Err(err).Str("slug", slug).Msg("reading commit meta")
	} else if meta != nil {
		last = *meta
	}

	now := m.opts.Now().UnixMilli()
	fp := Fingerprint(slug, st)
	tooSoon := !force && now-last.TS < m.opts.Interval.Milliseconds()
	changedMeta := fp.Meta != last.MetaHash
	changedCode := fp.Code != last.CodeHash
	changedTests := fp.Tests != last.TestsHash
	anyChanged := changedMeta || changedCode || changedTests

	if tooSoon {
		return SyncResult{Skipped: true, Reason: ReasonThrottled}
	}
	if !anyChanged {
		if force {
			m.storeMeta(ctx, slug, CommitMeta{TS: now, MetaHash: fp.Meta, CodeHash: fp.Code, TestsHash: fp.Tests})
		}
		return SyncResult{Skipped: true, Reason: ReasonUnchanged}
	}

	base := m.basePath(slug)
	next := last
	var res SyncResult
	push := func(changed bool, p, content, message string, record func()) {
		if !changed && !force {
			return
		}
		if err := m.commit(ctx, p, content, message); err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("remote write abandoned")
			res.Failed = append(res.Failed, p)
			return
		}
		res.Pushed = append(res.Pushed, p)
		record()
	}

	push(changedMeta, base+"/metadata.json", encodeMetadata(st),
		fmt.Sprintf("Update state meta for %s", slug), func() { next.MetaHash = fp.Meta })
	push(changedCode, base+"/"+m.codeFile(st), st.Code,
		fmt.Sprintf("Update code for %s", slug), func() { next.CodeHash = fp.Code })
	push(changedTests, base+"/custom_tests.json", encodeTests(st),
		fmt.Sprintf("Update tests for %s", slug), func() { next.TestsHash = fp.Tests })

	// A failed document stays dirty and the next save retries it at once.
	if len(res.Failed) == 0 {
		next.TS = now
	}
	m.storeMeta(ctx, slug, next)

	m.logger.Debug().Str("slug", slug).Strs("pushed", res.Pushed).Strs("failed", res.Failed).Msg("state synced")
	return res
}

func (m *Manager) storeMeta(ctx context.Context, slug string, meta CommitMeta) {
	if err := m.cache.SaveCommitMeta(ctx, slug, meta); err != nil {
		m.logger.Warn().Err(err).Str("slug", slug).Msg("writing commit meta")
	}
}

// commit writes one remote file, retrying once after the backoff.
func (m *Manager) commit(ctx context.Context, p, content, message string) error {
	var err error
	for attempt := range 2 {
		if err = m.remote.Put(ctx, p, content, message); err == nil {
			return nil
		}
		if attempt == 0 && !m.sleep(ctx, m.opts.Backoff) {
			break
		}
	}
	return fmt.Errorf("writing %s: %w", p, err)
}
