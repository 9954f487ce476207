// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-booklist/internal/app"
	"github.com/JakeFAU/realtime-booklist/internal/config"
	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/pipeline"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
	"github.com/JakeFAU/realtime-booklist/internal/trends"
)

type stubModel struct{}

func (stubModel) Generate(_ context.Context, req genai.Request) (string, error) {
	if req.User == trends.TrendPrompt {
		return `[{"title":"Deep Work"}]`, nil
	}
	subject := strings.TrimPrefix(req.User, "书名：")
	return fmt.Sprintf(`{"title":"读%s","fullContent":"正文","quotes":["一","二","三"],"tags":["书单"]}`, subject), nil
}

type stubSurface struct{}

func (stubSurface) Capture(context.Context, string) ([]byte, error) {
	return []byte("png"), nil
}

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// testConfig returns defaults pointed at memory backends and a private keystore.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Keystore.Path = filepath.Join(t.TempDir(), "credentials.toml")
	cfg.Archive.Driver = "memory"
	cfg.Export.Driver = "memory"
	cfg.GenAI.APIKey = ""
	cfg.PubSub = config.PubSubConfig{}
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.NewApp(context.Background(), cfg, nil,
		app.WithModel(stubModel{}),
		app.WithSurface(stubSurface{}),
		app.WithClock(&stubClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}),
		app.WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp_Success(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	assert.NotNil(t, a.GetLogger())
	assert.NotNil(t, a.GetController())
	assert.NotNil(t, a.GetArchive())
	assert.NotNil(t, a.GetKeys())
	assert.NotNil(t, a.GetBlobs())
	assert.Equal(t, pipeline.StageIdle, a.GetController().State().Stage)

	srv := httptest.NewServer(a.NewServer().Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewApp_RunDeliversArchive(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.NoError(t, a.GetKeys().SetAPIKey("k-123"))

	art, err := a.GetController().Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	assert.NotEmpty(t, art.SHA256)

	rc, err := a.GetBlobs().GetObject(context.Background(), art.Path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, data, art.Size)

	projects, err := a.GetArchive().List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Atomic Habits", "Deep Work"}, studio.BookNames(projects))
}

func TestNewApp_ConfiguredKeyIsFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.GenAI.APIKey = "from-config"
	a := newTestApp(t, cfg)

	_, err := a.GetController().Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
}

func TestNewApp_WithoutKeyFails(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	_, err := a.GetController().Run(context.Background(), "Atomic Habits")
	require.ErrorIs(t, err, studio.ErrNoAPIKey)
}

func TestNewApp_SQLiteArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Driver = "sqlite"
	cfg.Archive.DSN = filepath.Join(t.TempDir(), "archive.db")
	a := newTestApp(t, cfg)

	_, err := a.GetArchive().Append(context.Background(), "Deep Work")
	require.NoError(t, err)
	projects, err := a.GetArchive().List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Deep Work"}, studio.BookNames(projects))
}

func TestNewApp_LocalExport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Driver = "local"
	cfg.Export.Dir = t.TempDir()
	a := newTestApp(t, cfg)
	assert.NotNil(t, a.GetBlobs())
}

func TestNewApp_UnknownArchiveDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Driver = "etcd"

	_, err := app.NewApp(context.Background(), cfg, nil,
		app.WithModel(stubModel{}),
		app.WithSurface(stubSurface{}),
		app.WithRegistry(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "unknown archive driver")
}

func TestNewApp_RegistryConflict(t *testing.T) {
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	opts := []app.Option{app.WithModel(stubModel{}), app.WithSurface(stubSurface{}), app.WithRegistry(reg)}

	first, err := app.NewApp(context.Background(), cfg, nil, opts...)
	require.NoError(t, err)
	defer first.Close()

	_, err = app.NewApp(context.Background(), cfg, nil, opts...)
	require.ErrorContains(t, err, "progress metrics")
}

func TestNewScheduler(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	s, err := a.NewScheduler()
	require.NoError(t, err)
	require.NotNil(t, s)
}
