package drivers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/images/1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg bytes"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary downloads should be removed")
}

func TestURLStorage_Load(t *testing.T) {
	srv := newImageServer(t)
	tmp := t.TempDir()
	u := NewURLStorage(srv.Client(), tmp)
	ctx := context.Background()

	data, err := u.Load(ctx, srv.URL+"/images/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
	assert.True(t, u.Exists(ctx, srv.URL+"/images/1.jpg"))
	assertDirEmpty(t, tmp)
}

func TestURLStorage_Failures(t *testing.T) {
	srv := newImageServer(t)
	tmp := t.TempDir()
	u := NewURLStorage(srv.Client(), tmp)
	ctx := context.Background()

	for _, rawURL := range []string{
		srv.URL + "/missing.jpg",
		srv.URL + "/broken",
		"ftp://example.com/a.jpg",
		"http://",
		"::not a url",
	} {
		_, err := u.Load(ctx, rawURL)
		assert.ErrorIs(t, err, ErrInput, rawURL)
		assert.False(t, u.Exists(ctx, rawURL), rawURL)
	}
	assertDirEmpty(t, tmp)
}

func TestURLStorage_UnreachableExists(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tmp := t.TempDir()
	u := NewURLStorage(nil, tmp)

	assert.False(t, u.Exists(context.Background(), addr+"/gone.jpg"))
	assertDirEmpty(t, tmp)
}

func TestURLStorage_ReadOnly(t *testing.T) {
	u := NewURLStorage(nil, t.TempDir())
	ctx := context.Background()

	assert.ErrorIs(t, u.Store(ctx, "http://example.com/a", []byte("x")), ErrUnsupported)
	assert.ErrorIs(t, u.Delete(ctx, "http://example.com/a"), ErrUnsupported)
}
