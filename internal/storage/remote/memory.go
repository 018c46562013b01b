package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/michaelbrown/algoprep/internal/storage"
)

// ErrInjected is returned by a Memory store told to fail.
var ErrInjected = errors.New("injected remote failure")

// Commit is one recorded write.
type Commit struct {
	Path    string
	Content string
	Message string
}

// Memory is a store held in process. It records every write attempt and
// can be told to fail, which makes it the remote of choice in tests.
type Memory struct {
	mu       sync.Mutex
	files    map[string]string
	attempts []Commit
	failPut  map[string]int
	failGet  map[string]int
}

var _ storage.Remote = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		files:   make(map[string]string),
		failPut: make(map[string]int),
		failGet: make(map[string]int),
	}
}

// Get implements storage.Remote.
func (m *Memory) Get(ctx context.Context, path string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failGet[path]; n > 0 {
		m.failGet[path] = n - 1
		return "", false, ErrInjected
	}
	content, ok := m.files[path]
	return content, ok, nil
}

// Put implements storage.Remote.
func (m *Memory) Put(ctx context.Context, path, content, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, Commit{Path: path, Content: content, Message: message})
	if n := m.failPut[path]; n > 0 {
		m.failPut[path] = n - 1
		return ErrInjected
	}
	m.files[path] = content
	return nil
}

// Read implements FileStore.
func (m *Memory) Read(ctx context.Context, path string) (string, bool, error) {
	return m.Get(ctx, path)
}

// Write implements FileStore.
func (m *Memory) Write(ctx context.Context, path, content, message string) error {
	return m.Put(ctx, path, content, message)
}

// Set stores a file without recording an attempt.
func (m *Memory) Set(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

// File returns the current content of path.
func (m *Memory) File(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	return content, ok
}

// Attempts returns every write attempt in order, failed ones included.
func (m *Memory) Attempts() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.attempts...)
}

// Reset forgets recorded attempts.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = nil
}

// FailPuts makes the next n writes to path fail.
func (m *Memory) FailPuts(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut[path] = n
}

// FailGets makes the next n reads of path fail.
func (m *Memory) FailGets(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet[path] = n
}
