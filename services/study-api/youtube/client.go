package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
)

// RawVideo is the subset of a videos.list item the service needs, before
// normalization. It is what the cache stores.
type RawVideo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Thumbnail    string `json:"thumbnail"`
	ISODuration  string `json:"duration"`
	ViewCount    string `json:"view_count"`
	PublishedAt  string `json:"published_at"`
	ChannelTitle string `json:"channel_title"`
}

// Cache stores JSON-encodable values by key. shared/cache.RedisCache
// satisfies it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any)
}

func cacheKey(videoID string) string {
	return "youtube:video:" + videoID
}

type Client struct {
	service *youtube.Service
	cache   Cache
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Client)

// WithCache enables the raw-item cache.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithClock overrides the clock used for recency.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(ctx context.Context, cfg *config.YouTubeConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Unavailable("YouTube API key is not configured", nil)
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	c := &Client{
		service: service,
		now:     time.Now,
		logger:  logging.WithComponent("youtube"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch returns normalized metadata for a video id. An unknown id is a
// not-found error; any provider failure is an availability error.
func (c *Client) Fetch(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	raw, err := c.fetchRaw(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, c.now()), nil
}

func (c *Client) fetchRaw(ctx context.Context, videoID string) (*RawVideo, error) {
	if c.cache != nil {
		var raw RawVideo
		if c.cache.GetJSON(ctx, cacheKey(videoID), &raw) {
			c.logger.Debug().Str("video_id", videoID).Msg("metadata cache hit")
			return &raw, nil
		}
	}

	resp, err := c.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, apperr.NotFound("Video not found")
		}
		return nil, apperr.Unavailable("YouTube API request failed", err)
	}

	if len(resp.Items) == 0 {
		return nil, apperr.NotFound("Video not found")
	}

	raw := rawFromItem(resp.Items[0])
	if c.cache != nil {
		c.cache.SetJSON(ctx, cacheKey(videoID), raw)
	}
	return raw, nil
}

func rawFromItem(item *youtube.Video) *RawVideo {
	raw := &RawVideo{ID: item.Id, ViewCount: "0"}
	if item.Snippet != nil {
		raw.Title = item.Snippet.Title
		raw.Description = item.Snippet.Description
		raw.PublishedAt = item.Snippet.PublishedAt
		raw.ChannelTitle = item.Snippet.ChannelTitle
		raw.Thumbnail = pickThumbnail(item.Snippet.Thumbnails)
	}
	if item.ContentDetails != nil {
		raw.ISODuration = item.ContentDetails.Duration
	}
	if item.Statistics != nil {
		raw.ViewCount = fmt.Sprintf("%d", item.Statistics.ViewCount)
	}
	return raw
}

func pickThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, thumb := range []*youtube.Thumbnail{t.Standard, t.High, t.Medium, t.Default} {
		if thumb != nil && thumb.Url != "" {
			return thumb.Url
		}
	}
	return ""
}

// Normalize converts a raw item into display metadata relative to now.
func Normalize(raw *RawVideo, now time.Time) *models.VideoMetadata {
	return &models.VideoMetadata{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Thumbnail:   raw.Thumbnail,
		Duration:    FormatDuration(raw.ISODuration),
		Views:       FormatViews(raw.ViewCount),
		PublishedAt: FormatPublishedAt(raw.PublishedAt, now),
		ChannelName: raw.ChannelTitle,
	}
}
