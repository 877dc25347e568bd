package studyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/ai"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/monitoring"
	"github.com/krishng03/yt-sum/shared/session"
	"github.com/krishng03/yt-sum/shared/storage"
)

// flakyStore fails record creation on demand.
type flakyStore struct {
	*storage.Service
	failInsert bool
	failList   bool
}

func (f *flakyStore) ListRecordsByOwner(ctx context.Context, owner int64) ([]models.AnalysisRecord, error) {
	if f.failList {
		return nil, errors.New("database disk image is malformed")
	}
	return f.Service.ListRecordsByOwner(ctx, owner)
}

func (f *flakyStore) CreateAnalysisRecord(ctx context.Context, owner int64, reference string, video *models.VideoMetadata, content *models.GeneratedContent, language string) (*models.AnalysisRecord, error) {
	if f.failInsert {
		return nil, errors.New("write failed")
	}
	return f.Service.CreateAnalysisRecord(ctx, owner, reference, video, content, language)
}

type testEnv struct {
	srv       *httptest.Server
	providers *fakeProviders
	store     *flakyStore
	sessions  *session.Manager
}

func newTestEnv(t *testing.T, authRateLimit int) *testEnv {
	t.Helper()

	backend, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	svc := storage.NewService(backend, storage.WithBcryptCost(bcrypt.MinCost))
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	store := &flakyStore{Service: svc}

	sessions, err := session.NewManager(&config.SessionConfig{Secret: "test-secret", TTL: time.Hour}, svc)
	require.NoError(t, err)

	providers := newFakeProviders()
	monitor := monitoring.NewMonitor()
	server := NewServer(ServerDeps{
		Pipeline:      NewPipeline(providers, sessions, store, monitor),
		Store:         store,
		Sessions:      sessions,
		Monitor:       monitor,
		AuthRateLimit: authRateLimit,
	})

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, providers: providers, store: store, sessions: sessions}
}

func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func doJSON(t *testing.T, c *http.Client, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, target, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) signIn(t *testing.T, c *http.Client, username, password string) {
	t.Helper()
	status, _ := doJSON(t, c, http.MethodPost, e.srv.URL+"/auth/register", credentials{Username: username, Password: password})
	require.Equal(t, http.StatusOK, status)
	status, body := doJSON(t, c, http.MethodPost, e.srv.URL+"/auth/login", credentials{Username: username, Password: password})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Login successful", body["message"])
}

func TestVideoRejectsInvalidURL(t *testing.T) {
	env := newTestEnv(t, 0)

	status, body := doJSON(t, env.client(t), http.MethodPost, env.srv.URL+"/video", videoRequest{URL: "https://vimeo.com/123"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid YouTube URL", body["error"])
	assert.Equal(t, 0, env.providers.metadataRequests())
}

func TestVideoRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := http.Post(env.srv.URL+"/video", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVideoUnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t, 0)

	status, body := doJSON(t, env.client(t), http.MethodPost, env.srv.URL+"/video", videoRequest{URL: "https://www.youtube.com/watch?v=gone"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Video not found", body["error"])
}

func TestVideoGuest(t *testing.T) {
	env := newTestEnv(t, 0)

	status, body := doJSON(t, env.client(t), http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, validRef, body["url"])
	assert.Equal(t, "Intro to Go", body["title"])
	assert.Equal(t, "1:02:03", body["duration"])
	assert.Equal(t, "Gophers", body["channelName"])
	assert.Equal(t, []any{"Go is fun"}, body["summary"])
	assert.Equal(t, false, body["savedToDB"])
	assert.Equal(t, false, body["isUserLoggedIn"])
	assert.Equal(t, "not_applicable", body["persistence"])
}

func TestVideoFallbackContentIsStillOK(t *testing.T) {
	env := newTestEnv(t, 0)
	env.providers.gen.content = ai.FallbackContent()

	status, body := doJSON(t, env.client(t), http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{ai.FailureSummary}, body["summary"])
	assert.Equal(t, []any{}, body["flashcards"])
	assert.Equal(t, []any{}, body["tldr"])
}

func TestVideoPersistenceFailureIsReported(t *testing.T) {
	env := newTestEnv(t, 0)
	c := env.client(t)
	env.signIn(t, c, "alice", "pw")
	env.store.failInsert = true

	status, body := doJSON(t, c, http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["savedToDB"])
	assert.Equal(t, true, body["isUserLoggedIn"])
	assert.Equal(t, "failed", body["persistence"])
}

func TestAccountFlow(t *testing.T) {
	env := newTestEnv(t, 0)
	c := env.client(t)

	status, body := doJSON(t, c, http.MethodGet, env.srv.URL+"/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Not logged in", body["error"])

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/register", credentials{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "User created successfully", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.EqualValues(t, 1, user["userid"])

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/register", credentials{Username: "alice", Password: "other"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Username already exists", body["error"])

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/login", credentials{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", body["error"])

	status, _ = doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/login", credentials{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, c, http.MethodGet, env.srv.URL+"/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["user"].(map[string]any)["username"])

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef, Language: "fr"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["savedToDB"])
	assert.Equal(t, "persisted", body["persistence"])

	status, body = doJSON(t, c, http.MethodGet, env.srv.URL+"/history", nil)
	require.Equal(t, http.StatusOK, status)
	summaries := body["summaries"].([]any)
	require.Len(t, summaries, 1)
	rec := summaries[0].(map[string]any)
	assert.Equal(t, validRef, rec["videoUrl"])
	assert.Equal(t, "fr", rec["lang"])
	assert.Equal(t, "Intro to Go", rec["videoData"].(map[string]any)["title"])

	// keep the token to check it is dead after logout
	u, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	cookies := c.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	token := cookies[0].Value

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Logout successful", body["message"])
	assert.Empty(t, c.Jar.Cookies(u))

	assert.Nil(t, env.sessions.Resolve(context.Background(), token))

	status, body = doJSON(t, c, http.MethodGet, env.srv.URL+"/history", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "User not logged in", body["error"])
}

func TestRegisterRequiresFields(t *testing.T) {
	env := newTestEnv(t, 0)
	c := env.client(t)

	for _, creds := range []credentials{{Username: "bob"}, {Password: "pw"}, {}} {
		status, body := doJSON(t, c, http.MethodPost, env.srv.URL+"/auth/register", creds)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Username and password are required", body["error"])
	}
}

func TestNotesEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	c := env.client(t)

	status, body := doJSON(t, c, http.MethodGet, env.srv.URL+"/video/notes", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Video URL is required", body["error"])

	notesURL := env.srv.URL + "/video/notes?videoUrl=" + url.QueryEscape(validRef)
	status, body = doJSON(t, c, http.MethodGet, notesURL, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", body["notes"])

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/video/notes", notesRequest{VideoURL: validRef, Notes: "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Video not found", body["error"])

	status, _ = doJSON(t, c, http.MethodPost, env.srv.URL+"/video/notes", notesRequest{Notes: "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	env.signIn(t, c, "alice", "pw")
	status, _ = doJSON(t, c, http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, c, http.MethodPost, env.srv.URL+"/video/notes", notesRequest{VideoURL: validRef, Notes: "remember channels"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = doJSON(t, c, http.MethodGet, notesURL, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "remember channels", body["notes"])

	// another account does not see alice's notes
	other := env.client(t)
	env.signIn(t, other, "bob", "pw")
	status, body = doJSON(t, other, http.MethodGet, notesURL, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", body["notes"])
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	c := env.client(t)

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, c, http.MethodGet, env.srv.URL+"/auth/me", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := doJSON(t, c, http.MethodGet, env.srv.URL+"/auth/me", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, body["error"])

	// other routes are not limited
	status, _ = doJSON(t, c, http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(text), "OK"), string(text))

	status, body := doJSON(t, env.client(t), http.MethodGet, env.srv.URL+"/status", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body)

	resp, err = http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func healthStatus(t *testing.T, env *testEnv) int {
	t.Helper()
	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestFailedRequestKeepsServiceHealthy(t *testing.T) {
	env := newTestEnv(t, 0)
	env.providers.meta.err = apperr.Unavailable("YouTube API request failed", errors.New("quotaExceeded"))

	require.Equal(t, http.StatusOK, healthStatus(t, env))

	status, body := doJSON(t, env.client(t), http.MethodPost, env.srv.URL+"/video", videoRequest{URL: validRef})
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "YouTube API request failed", body["error"])

	assert.Equal(t, http.StatusOK, healthStatus(t, env))

	status, body = doJSON(t, env.client(t), http.MethodGet, env.srv.URL+"/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["healthy"])
	assert.EqualValues(t, 1, body["partialFailures"])
	assert.EqualValues(t, 0, body["criticalFailures"])
}

func TestUnclassifiedStoreErrorIsHidden(t *testing.T) {
	env := newTestEnv(t, 0)
	c := env.client(t)
	env.signIn(t, c, "alice", "pw")
	env.store.failList = true

	status, body := doJSON(t, c, http.MethodGet, env.srv.URL+"/history", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to fetch history", body["error"])
}
