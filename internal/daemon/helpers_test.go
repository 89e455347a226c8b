package daemon

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"drivefs/internal/contents"
	"drivefs/internal/contentserver"
	"drivefs/internal/host"
	"drivefs/internal/storage"
)

// testService runs the reference contents service over a temporary store.
type testService struct {
	URL   string
	Store *storage.Store
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "contents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(contentserver.New(contentserver.Config{Store: store}))
	t.Cleanup(ts.Close)
	return &testService{URL: ts.URL + "/", Store: store}
}

func (s *testService) content(t *testing.T, p string) string {
	t.Helper()
	c, _, err := s.Store.Get(context.Background(), p)
	require.NoError(t, err)
	return c
}

func newTestDispatcher(t *testing.T) (*host.Dispatcher, *testService) {
	t.Helper()
	svc := newTestService(t)
	client, err := contents.New(contents.Config{BaseURL: svc.URL})
	require.NoError(t, err)
	d, err := host.New(host.Config{Remote: client})
	require.NoError(t, err)
	return d, svc
}
