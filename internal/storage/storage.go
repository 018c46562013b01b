// Package storage keeps per-task user state in a local cache and mirrors it
// to a remote file store with throttled, change-only writes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/michaelbrown/algoprep/internal/task"
)

// ErrMalformed marks stored data that could not be decoded. Callers treat
// it as absence of the affected document.
var ErrMalformed = errors.New("malformed stored state")

// Defaults applied to fields missing from stored state.
const (
	DefaultHidePassed = true
	DefaultHideSample = true
	DefaultTimeout    = 5
)

// UserState is everything the practice page remembers for one task.
type UserState struct {
	Code       string          `json:"code" yaml:"code"`
	Tests      []task.TestCase `json:"tests" yaml:"tests"`
	HidePassed bool            `json:"hidePassed" yaml:"hide_passed"`
	HideSample bool            `json:"hideSample" yaml:"hide_sample"`
	Timeout    int             `json:"timeout" yaml:"timeout"` // seconds; 0 disables the limit
	Name       string          `json:"name,omitempty" yaml:"name,omitempty"`
	LastSaved  int64           `json:"lastSaved,omitempty" yaml:"last_saved,omitempty"` // unix milliseconds
}

// NewUserState returns the state of a task never visited before.
func NewUserState() *UserState {
	return &UserState{
		Tests:      []task.TestCase{},
		HidePassed: DefaultHidePassed,
		HideSample: DefaultHideSample,
		Timeout:    DefaultTimeout,
	}
}

// DecodeUserState parses stored state; fields absent from data keep their defaults.
func DecodeUserState(data []byte) (*UserState, error) {
	st := NewUserState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if st.Tests == nil {
		st.Tests = []task.TestCase{}
	}
	return st, nil
}

// Clone returns a deep copy.
func (s *UserState) Clone() *UserState {
	out := *s
	out.Tests = make([]task.TestCase, len(s.Tests))
	for i, tc := range s.Tests {
		out.Tests[i] = tc.Clone()
	}
	return &out
}

// TimeoutDuration converts Timeout to a duration.
func (s *UserState) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return 0
	}
	return time.Duration(s.Timeout) * time.Second
}

// CommitMeta records the last successful remote sync of a task.
type CommitMeta struct {
	TS        int64  `json:"ts"` // unix milliseconds
	MetaHash  string `json:"metaHash"`
	CodeHash  string `json:"codeHash"`
	TestsHash string `json:"testsHash"`
}

// CachedState is a listing entry of the local cache.
type CachedState struct {
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updated_at"`
	LastSync  time.Time `json:"last_sync,omitempty"`
}

// Cache is the local, always-available tier.
type Cache interface {
	// LoadState returns nil when the slug has no cached state.
	LoadState(ctx context.Context, slug string) (*UserState, error)

	// SaveState overwrites the cached state of a slug.
	SaveState(ctx context.Context, slug string, st *UserState) error

	// LoadCommitMeta returns nil when the slug was never synced.
	LoadCommitMeta(ctx context.Context, slug string) (*CommitMeta, error)

	// SaveCommitMeta overwrites the sync bookkeeping of a slug.
	SaveCommitMeta(ctx context.Context, slug string, m CommitMeta) error

	// ListStates returns cached slugs, most recently updated first.
	ListStates(ctx context.Context) ([]CachedState, error)

	// Close releases resources.
	Close() error
}

// Remote is the durable file store reached over the network.
type Remote interface {
	// Get returns found=false when the file does not exist.
	Get(ctx context.Context, path string) (content string, found bool, err error)
	Put(ctx context.Context, path, content, message string) error
}
