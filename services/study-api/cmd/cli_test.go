package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/krishng03/yt-sum/internal/models"
	studyapi "github.com/krishng03/yt-sum/services/study-api"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/session"
	"github.com/krishng03/yt-sum/shared/storage"
)

// isolate runs the command from an empty directory with no provider keys.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"CONFIG_FILE", "YOUTUBE_API_KEY", "GEMINI_API_KEY", "MONGODB_URI", "REDIS_URL", "SESSION_SECRET"} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", filepath.Join(dir, "cli.db"))
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLIApp(strings.NewReader(stdin), &out)
	err := app.Run(append([]string{"yt-sum", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestAnalyzeRequiresURL(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video URL is required")
}

func TestAnalyzeRequiresKeys(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "analyze", "https://www.youtube.com/watch?v=abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YouTube API key is required")
}

func TestAnalyzeRejectsInvalidURL(t *testing.T) {
	isolate(t)
	t.Setenv("YOUTUBE_API_KEY", "yt-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	out, err := runCLI(t, "", "analyze", "https://vimeo.com/42")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
	assert.Empty(t, out)
}

func TestPurgeSessions(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "", "purge-sessions")
	require.NoError(t, err)
	assert.Equal(t, "purged 0 expired session revocations\n", out)
}

func TestNotesCommand(t *testing.T) {
	isolate(t)
	ctx := context.Background()
	const video = "https://www.youtube.com/watch?v=abc123"

	backend, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	store := storage.NewService(backend, storage.WithBcryptCost(bcrypt.MinCost))
	t.Cleanup(func() { _ = store.Close(ctx) })

	user, err := store.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = store.CreateAnalysisRecord(ctx, user.ID, video,
		&models.VideoMetadata{ID: "abc123"},
		&models.GeneratedContent{Summary: []string{}, Flashcards: []models.Flashcard{}, TLDR: []string{}},
		"en")
	require.NoError(t, err)
	require.NoError(t, store.SetNotes(ctx, user.ID, video, "existing"))

	sessions, err := session.NewManager(&config.SessionConfig{Secret: "cli-test-secret"}, store)
	require.NoError(t, err)
	srv := httptest.NewServer(studyapi.NewServer(studyapi.ServerDeps{
		Pipeline: studyapi.NewPipeline(nil, sessions, store, nil),
		Store:    store,
		Sessions: sessions,
	}).Routes())
	t.Cleanup(srv.Close)

	out, err := runCLI(t, "first\nsecond\n",
		"notes", "--server", srv.URL, "--video", video, "-u", "alice", "-p", "pw")
	require.NoError(t, err)
	assert.Equal(t, "existing\nfirst\nsecond\n", out)

	notes, err := store.GetNotes(ctx, user.ID, video)
	require.NoError(t, err)
	assert.Equal(t, "existing\nfirst\nsecond", notes)
}

func TestNotesCommandBadLogin(t *testing.T) {
	isolate(t)

	backend, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	store := storage.NewService(backend, storage.WithBcryptCost(bcrypt.MinCost))
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	sessions, err := session.NewManager(&config.SessionConfig{Secret: "cli-test-secret"}, store)
	require.NoError(t, err)
	srv := httptest.NewServer(studyapi.NewServer(studyapi.ServerDeps{
		Pipeline: studyapi.NewPipeline(nil, sessions, store, nil),
		Store:    store,
		Sessions: sessions,
	}).Routes())
	t.Cleanup(srv.Close)

	_, err = runCLI(t, "", "notes", "--server", srv.URL, "--video", "x", "-u", "nobody", "-p", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestNewProvidersReleasesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{Cache: config.CacheConfig{RedisURL: "redis://" + mr.Addr(), TTL: time.Minute}}

	providers, release := newProviders(context.Background(), cfg)
	require.NotNil(t, providers)
	require.Eventually(t, func() bool { return mr.CurrentConnectionCount() > 0 }, time.Second, 10*time.Millisecond)

	release()
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewProvidersWithoutCache(t *testing.T) {
	for _, url := range []string{"", "redis://127.0.0.1:1"} {
		cfg := &config.Config{Cache: config.CacheConfig{RedisURL: url, TTL: time.Minute}}
		providers, release := newProviders(context.Background(), cfg)
		require.NotNil(t, providers)
		release()
	}
}
