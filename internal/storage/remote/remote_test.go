package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, store FileStore, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(store, token, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	store := DirStore{Root: t.TempDir()}
	srv := newServer(t, store, "")
	c := NewClient(srv.URL, "", time.Second)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "user_state/algoprep/add/metadata.json")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Put(ctx, "user_state/algoprep/add/metadata.json", `{"name":"add"}`, "Update state meta for add"))

	content, found, err := c.Get(ctx, "user_state/algoprep/add/metadata.json")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"name":"add"}`, content)

	onDisk, err := os.ReadFile(filepath.Join(store.Root, "user_state", "algoprep", "add", "metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"add"}`, string(onDisk))
}

func TestClientToken(t *testing.T) {
	srv := newServer(t, NewMemory(), "s3cret")
	ctx := context.Background()

	_, _, err := NewClient(srv.URL, "wrong", time.Second).Get(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = NewClient(srv.URL, "", time.Second).Put(ctx, "a.txt", "x", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	good := NewClient(srv.URL, "s3cret", time.Second)
	require.NoError(t, good.Put(ctx, "a.txt", "x", ""))
	content, found, err := good.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", content)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "", time.Second)

	_, _, err := c.Get(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	err = c.Put(context.Background(), "a", "b", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHandlerRejectsEscapingPaths(t *testing.T) {
	srv := newServer(t, DirStore{Root: t.TempDir()}, "")
	c := NewClient(srv.URL, "", time.Second)

	for _, p := range []string{"../x", "a/../../x", "", `a\b`} {
		err := c.Put(context.Background(), p, "x", "")
		assert.Error(t, err, "path %q", p)
	}
}

func TestDirStoreOverwrite(t *testing.T) {
	d := DirStore{Root: t.TempDir()}
	ctx := context.Background()

	require.NoError(t, d.Write(ctx, "a/b.py", "one", ""))
	require.NoError(t, d.Write(ctx, "a/b.py", "two", ""))

	content, found, err := d.Read(ctx, "a/b.py")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "two", content)

	_, err = os.Stat(filepath.Join(d.Root, "a", "b.py.tmp"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMemoryFailures(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.FailPuts("p", 1)
	assert.ErrorIs(t, m.Put(ctx, "p", "v1", "first"), ErrInjected)
	require.NoError(t, m.Put(ctx, "p", "v2", "second"))

	got, ok := m.File("p")
	assert.True(t, ok)
	assert.Equal(t, "v2", got)
	assert.Len(t, m.Attempts(), 2)

	m.FailGets("p", 1)
	_, _, err := m.Get(ctx, "p")
	assert.ErrorIs(t, err, ErrInjected)
	content, found, err := m.Get(ctx, "p")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", content)
}
