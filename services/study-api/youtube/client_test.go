package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
)

const videoListBody = `{
  "items": [{
    "id": "abc123",
    "snippet": {
      "title": "Go Concurrency Patterns",
      "description": "A talk about channels.",
      "channelTitle": "GopherCon",
      "publishedAt": "2026-10-07T12:00:00Z",
      "thumbnails": {
        "high": {"url": "https://i.ytimg.com/vi/abc123/hqdefault.jpg"},
        "standard": {"url": "https://i.ytimg.com/vi/abc123/sddefault.jpg"}
      }
    },
    "contentDetails": {"duration": "PT1H2M3S"},
    "statistics": {"viewCount": "2500000"}
  }]
}`

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (m *memoryCache) SetJSON(_ context.Context, key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := json.Marshal(v)
	m.items[key] = data
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)

	c, err := NewClient(context.Background(), &config.YouTubeConfig{
		APIKey:   "test-key",
		Endpoint: srv.URL + "/",
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestClientFetch(t *testing.T) {
	var gotPath, gotID, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotID = r.URL.Query().Get("id")
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(videoListBody))
	})

	meta, err := c.Fetch(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, "/youtube/v3/videos", gotPath)
	assert.Equal(t, "abc123", gotID)
	assert.Equal(t, "test-key", gotKey)

	assert.Equal(t, "Go Concurrency Patterns", meta.Title)
	assert.Equal(t, "A talk about channels.", meta.Description)
	assert.Equal(t, "https://i.ytimg.com/vi/abc123/sddefault.jpg", meta.Thumbnail)
	assert.Equal(t, "1:02:03", meta.Duration)
	assert.Equal(t, "2.5M", meta.Views)
	assert.Equal(t, "1 weeks ago", meta.PublishedAt)
	assert.Equal(t, "GopherCon", meta.ChannelName)
}

func TestClientFetchNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
	})

	_, err := c.Fetch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestClientFetchProviderFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "API key not valid"}}`))
	})

	_, err := c.Fetch(context.Background(), "abc123")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeUnavailable))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))
}

func TestClientFetchUsesCache(t *testing.T) {
	var calls atomic.Int32
	cache := &memoryCache{items: map[string][]byte{}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(videoListBody))
	}, WithCache(cache))

	for i := 0; i < 3; i++ {
		meta, err := c.Fetch(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "1:02:03", meta.Duration)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, cache.items, "youtube:video:abc123")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), &config.YouTubeConfig{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeUnavailable))
}
