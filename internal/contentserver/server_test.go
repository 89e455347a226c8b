package contentserver

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivefs/internal/contents"
	"drivefs/internal/storage"
)

func newTestService(t *testing.T, cfg Config) (*httptest.Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "contents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg.Store = store
	ts := httptest.NewServer(New(cfg))
	t.Cleanup(ts.Close)
	return ts, store
}

func newTestClient(t *testing.T, cfg Config) (*contents.Client, *storage.Store) {
	t.Helper()
	ts, store := newTestService(t, cfg)
	c, err := contents.New(contents.Config{BaseURL: ts.URL, Token: cfg.Token})
	require.NoError(t, err)
	return c, store
}

func TestLookupAndMknod(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	res, err := c.Lookup("/drive")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint32(storage.DefaultDirMode), res.Mode)

	res, err = c.Lookup("/drive/a.txt")
	require.NoError(t, err)
	assert.False(t, res.OK)

	require.NoError(t, c.Mknod("/drive/a.txt", storage.DefaultFileMode))
	res, err = c.Lookup("/drive/a.txt")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint32(storage.DefaultFileMode), res.Mode)

	mode, err := c.GetMode("/drive/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(storage.DefaultFileMode), mode)

	// Already exists, missing parent.
	assert.True(t, errors.Is(c.Mknod("/drive/a.txt", storage.DefaultFileMode), syscall.EINVAL))
	assert.True(t, errors.Is(c.Mknod("/drive/no/b.txt", storage.DefaultFileMode), syscall.EINVAL))
}

func TestReaddir(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	require.NoError(t, c.Mknod("/drive/sub", storage.DefaultDirMode))
	require.NoError(t, c.Mknod("/drive/b.txt", storage.DefaultFileMode))
	require.NoError(t, c.Mknod("/drive/sub/c.py", storage.DefaultFileMode))

	names, err := c.Readdir("/drive")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "sub", ".", ".."}, names)

	names, err = c.Readdir("/drive/sub")
	require.NoError(t, err)
	assert.Equal(t, []string{"c.py", ".", ".."}, names)

	_, err = c.Readdir("/drive/b.txt")
	assert.True(t, errors.Is(err, syscall.EINVAL))
}

// Content written through the client comes back byte-identical for every format.
func TestGetPutFormats(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	files := map[string]*contents.File{
		"/drive/nb.ipynb": {Data: []byte(`{"cells":[],"nbformat":4}`), Format: contents.FormatJSON},
		"/drive/a.txt":    {Data: []byte("héllo\n"), Format: contents.FormatText},
		"/drive/b.bin":    {Data: []byte{0, 0xff, 0x10, 0x80}, Format: contents.FormatBase64},
	}
	for p, f := range files {
		require.NoError(t, c.Put(p, f), p)
		got, err := c.Get(p)
		require.NoError(t, err, p)
		assert.Equal(t, f.Data, got.Data, p)
		assert.Equal(t, f.Format, got.Format, p)
	}

	attrs, err := c.Getattr("/drive/b.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4), attrs.Size)
}

func TestMknodFileFormatByExtension(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	require.NoError(t, c.Mknod("/drive/x.json", storage.DefaultFileMode))
	require.NoError(t, c.Mknod("/drive/y.png", storage.DefaultFileMode))

	f, err := c.Get("/drive/x.json")
	require.NoError(t, err)
	assert.Equal(t, contents.FormatJSON, f.Format)
	assert.Empty(t, f.Data)

	f, err = c.Get("/drive/y.png")
	require.NoError(t, err)
	assert.Equal(t, contents.FormatBase64, f.Format)
}

func TestRenameAndRmdir(t *testing.T) {
	c, store := newTestClient(t, Config{})
	require.NoError(t, c.Mknod("/drive/d", storage.DefaultDirMode))
	require.NoError(t, c.Put("/drive/d/f.txt", &contents.File{Data: []byte("F"), Format: contents.FormatText}))

	require.NoError(t, c.Rename("/drive/d", "/drive/e"))
	f, err := c.Get("/drive/e/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "F", string(f.Data))

	// Non-empty directory is refused; the same call removes files.
	assert.True(t, errors.Is(c.Rmdir("/drive/e"), syscall.EINVAL))
	require.NoError(t, c.Rmdir("/drive/e/f.txt"))
	require.NoError(t, c.Rmdir("/drive/e"))

	names, err := store.ReadDir(t.Context(), "/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGetattr(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	before := time.Now().Add(-time.Second)
	require.NoError(t, c.Put("/drive/a.txt", &contents.File{Data: []byte("12345"), Format: contents.FormatText}))

	a, err := c.Getattr("/drive/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(storage.DefaultFileMode), a.Mode)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, int64(1), a.Blocks)
	assert.Equal(t, uint32(1), a.Nlink)
	assert.NotZero(t, a.Ino)
	assert.True(t, a.Mtime.After(before))

	d, err := c.Getattr("/drive")
	require.NoError(t, err)
	assert.Equal(t, uint32(storage.DefaultDirMode), d.Mode)
	assert.NotEqual(t, a.Ino, d.Ino)
}

func TestOutsideRootIsRejected(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	_, err := c.Lookup("/other/a.txt")
	assert.True(t, errors.Is(err, syscall.EINVAL))
	_, err = c.Lookup("/driveX")
	assert.True(t, errors.Is(err, syscall.EINVAL))
}

func TestCustomRoot(t *testing.T) {
	c, store := newTestClient(t, Config{Root: "/"})
	require.NoError(t, c.Mknod("/top.txt", storage.DefaultFileMode))

	_, err := store.Lookup(t.Context(), "/top.txt")
	assert.NoError(t, err)
}

func TestTokenRequired(t *testing.T) {
	ts, _ := newTestService(t, Config{Token: "secret"})

	bad, err := contents.New(contents.Config{BaseURL: ts.URL, Token: "wrong"})
	require.NoError(t, err)
	_, err = bad.Lookup("/drive")
	assert.True(t, errors.Is(err, syscall.EINVAL))

	good, err := contents.New(contents.Config{BaseURL: ts.URL, Token: "secret"})
	require.NoError(t, err)
	_, err = good.Lookup("/drive")
	assert.NoError(t, err)
}

func TestRawProtocol(t *testing.T) {
	ts, _ := newTestService(t, Config{})

	tests := []struct {
		name   string
		method string
		target string
		status int
		body   string
	}{
		{"unknown op", http.MethodGet, "/api/drive?m=explode", http.StatusBadRequest, `"error"`},
		{"missing op", http.MethodGet, "/api/drive", http.StatusBadRequest, `"error"`},
		{"put via get", http.MethodGet, "/api/drive/a.txt?m=put&args=text", http.StatusMethodNotAllowed, `"error"`},
		{"get via put", http.MethodPut, "/api/drive?m=readdir", http.StatusMethodNotAllowed, `"error"`},
		{"bad mode", http.MethodGet, "/api/drive/x?m=mknod&args=abc", http.StatusBadRequest, `bad mode`},
		{"not api", http.MethodGet, "/files/drive?m=lookup", http.StatusNotFound, ``},
		{"lookup", http.MethodGet, "/api/drive?m=lookup", http.StatusOK, `"ok":true`},
		{"getmode", http.MethodGet, "/api/drive?m=getmode", http.StatusOK, `16895`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.target, strings.NewReader(""))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var sb strings.Builder
			_, _ = io.Copy(&sb, resp.Body)
			assert.Contains(t, sb.String(), tt.body)
		})
	}
}
