package studyapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/services/study-api/youtube"
	"github.com/krishng03/yt-sum/shared/ai"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
	"github.com/krishng03/yt-sum/shared/monitoring"
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = "en"

type MetadataFetcher interface {
	Fetch(ctx context.Context, videoID string) (*models.VideoMetadata, error)
}

type ContentGenerator interface {
	Generate(ctx context.Context, video *models.VideoMetadata, language string) (*models.GeneratedContent, error)
}

type RecordStore interface {
	CreateAnalysisRecord(ctx context.Context, owner int64, reference string, video *models.VideoMetadata, content *models.GeneratedContent, language string) (*models.AnalysisRecord, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, token string) *models.Session
}

// ProviderSource hands out the provider clients.
type ProviderSource interface {
	Metadata(ctx context.Context) (MetadataFetcher, error)
	Generator(ctx context.Context) (ContentGenerator, error)
}

// Providers builds each provider client once, on first use, and shares it for
// the life of the process. A construction failure (missing key) is sticky.
type Providers struct {
	youtubeCfg config.YouTubeConfig
	aiCfg      config.AIConfig
	cache      youtube.Cache

	metaOnce sync.Once
	meta     MetadataFetcher
	metaErr  error

	genOnce sync.Once
	gen     ContentGenerator
	genErr  error
}

// NewProviders copies the provider configuration; cache may be nil.
func NewProviders(cfg *config.Config, cache youtube.Cache) *Providers {
	return &Providers{
		youtubeCfg: cfg.YouTube,
		aiCfg:      cfg.AI,
		cache:      cache,
	}
}

func (p *Providers) Metadata(ctx context.Context) (MetadataFetcher, error) {
	p.metaOnce.Do(func() {
		var opts []youtube.Option
		if p.cache != nil {
			opts = append(opts, youtube.WithCache(p.cache))
		}
		client, err := youtube.NewClient(context.WithoutCancel(ctx), &p.youtubeCfg, opts...)
		if err != nil {
			p.metaErr = err
			return
		}
		p.meta = client
	})
	return p.meta, p.metaErr
}

func (p *Providers) Generator(ctx context.Context) (ContentGenerator, error) {
	p.genOnce.Do(func() {
		gen, err := ai.NewGenerator(context.WithoutCancel(ctx), &p.aiCfg)
		if err != nil {
			p.genErr = err
			return
		}
		p.gen = gen
	})
	return p.gen, p.genErr
}

// Request is one generation request.
type Request struct {
	Reference    string
	Language     string
	SessionToken string
}

// Result is what a generation request produced. Persistence never fails the
// request; its outcome is reported in Persistence.
type Result struct {
	Reference   string
	Video       *models.VideoMetadata
	Content     *models.GeneratedContent
	Session     *models.Session
	Persistence models.PersistenceStatus
	RecordID    string
}

func (r *Result) SavedToDB() bool {
	return r.Persistence == models.PersistencePersisted
}

func (r *Result) IsUserLoggedIn() bool {
	return r.Session != nil && r.Session.UserID != 0
}

// Pipeline runs metadata lookup, generation, identity resolution and
// persistence, strictly in that order.
type Pipeline struct {
	providers ProviderSource
	sessions  SessionResolver
	store     RecordStore
	monitor   *monitoring.Monitor
	logger    zerolog.Logger
}

func NewPipeline(providers ProviderSource, sessions SessionResolver, store RecordStore, monitor *monitoring.Monitor) *Pipeline {
	if monitor == nil {
		monitor = monitoring.NewMonitor()
	}
	return &Pipeline{
		providers: providers,
		sessions:  sessions,
		store:     store,
		monitor:   monitor,
		logger:    logging.WithComponent("pipeline"),
	}
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	logger := logging.FromContext(ctx, p.logger)

	result, err := p.run(ctx, req, logger)
	if err != nil {
		monitoring.RecordGeneration("failed")
		// upstream or config failures are counted; health follows maintenance runs
		if apperr.StatusOf(err) >= 500 && ctx.Err() == nil {
			p.monitor.RecordPartialFailure(err, time.Since(start))
		}
		return nil, err
	}

	monitoring.RecordPersistence(string(result.Persistence))
	switch {
	case result.Content.Degraded:
		monitoring.RecordGeneration("degraded")
		p.monitor.RecordPartialFailure(fmt.Errorf("generation degraded for video %s", result.Video.ID), time.Since(start))
	case result.Persistence == models.PersistenceFailed:
		monitoring.RecordGeneration("success")
		p.monitor.RecordPartialFailure(fmt.Errorf("record not persisted for video %s", result.Video.ID), time.Since(start))
	default:
		monitoring.RecordGeneration("success")
		p.monitor.RecordServed(fmt.Sprintf("generated study material for %s (%s)", result.Video.ID, result.Persistence), time.Since(start))
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, logger zerolog.Logger) (*Result, error) {
	videoID := youtube.ExtractVideoID(req.Reference)
	if videoID == "" {
		return nil, apperr.InvalidInput("Invalid YouTube URL")
	}
	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}

	meta, err := p.providers.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	gen, err := p.providers.Generator(ctx)
	if err != nil {
		return nil, err
	}

	stageStart := time.Now()
	video, err := meta.Fetch(ctx, videoID)
	monitoring.ObserveStage("metadata", time.Since(stageStart).Seconds())
	if err != nil {
		return nil, err
	}

	stageStart = time.Now()
	content, err := gen.Generate(ctx, video, language)
	monitoring.ObserveStage("generation", time.Since(stageStart).Seconds())
	if err != nil {
		return nil, err
	}

	result := &Result{
		Reference:   req.Reference,
		Video:       video,
		Content:     content,
		Persistence: models.PersistencePending,
	}

	if p.sessions != nil {
		result.Session = p.sessions.Resolve(ctx, req.SessionToken)
	}
	if !result.IsUserLoggedIn() || p.store == nil {
		result.Persistence = models.PersistenceNotApplicable
		logger.Debug().Str("video_id", videoID).Msg("not persisted, no session")
		return result, nil
	}

	stageStart = time.Now()
	rec, err := p.store.CreateAnalysisRecord(ctx, result.Session.UserID, req.Reference, video, content, language)
	monitoring.ObserveStage("persistence", time.Since(stageStart).Seconds())
	if err != nil {
		result.Persistence = models.PersistenceFailed
		logger.Error().Err(err).Int64("userid", result.Session.UserID).Str("video_id", videoID).Msg("failed to persist analysis record")
		return result, nil
	}

	result.Persistence = models.PersistencePersisted
	result.RecordID = rec.ID
	logger.Info().Int64("userid", result.Session.UserID).Str("record_id", rec.ID).Msg("analysis record saved")
	return result, nil
}
