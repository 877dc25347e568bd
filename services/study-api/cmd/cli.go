package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	studyapi "github.com/krishng03/yt-sum/services/study-api"
	"github.com/krishng03/yt-sum/services/study-api/client"
	"github.com/krishng03/yt-sum/services/study-api/youtube"
	"github.com/krishng03/yt-sum/shared/autosave"
	"github.com/krishng03/yt-sum/shared/cache"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
	"github.com/krishng03/yt-sum/shared/monitoring"
	"github.com/krishng03/yt-sum/shared/scheduler"
	"github.com/krishng03/yt-sum/shared/session"
	"github.com/krishng03/yt-sum/shared/storage"
)

func newCLIApp(stdin io.Reader, stdout io.Writer) *cli.App {
	app := &cli.App{
		Name:      "yt-sum",
		Usage:     "Study material from YouTube videos",
		Version:   Version,
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "log-format", Usage: "json|console (defaults to the config file value)"},
		},
		Commands: []*cli.Command{
			serveCmd(),
			analyzeCmd(),
			notesCmd(),
			purgeSessionsCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func configureLogging(c *cli.Context, cfg *config.Config) {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if v := c.String("log-level"); v != "" {
		level = v
	}
	if v := c.String("log-format"); v != "" {
		format = v
	}
	logging.Configure(logging.Config{Level: level, Format: format, Output: c.App.ErrWriter})
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the maintenance scheduler",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			configureLogging(c, cfg)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.WithComponent("serve")

	store, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close(context.Background())

	sessions, err := session.NewManager(&cfg.Session, store)
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor()
	providers, releaseCache := newProviders(ctx, cfg)
	defer releaseCache()
	pipeline := studyapi.NewPipeline(providers, sessions, store, monitor)
	server := studyapi.NewServer(studyapi.ServerDeps{
		Pipeline:      pipeline,
		Store:         store,
		Sessions:      sessions,
		Monitor:       monitor,
		AuthRateLimit: cfg.Server.AuthRateLimit,
	})
	sched := scheduler.New(cfg.Maintenance.Schedule, monitor, studyapi.NewSessionPurgeJob(store))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Str("storage", cfg.Storage.Driver).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newProviders wires the metadata cache in when Redis is configured and
// reachable. The returned release func closes the cache.
func newProviders(ctx context.Context, cfg *config.Config) (*studyapi.Providers, func()) {
	if cfg.Cache.RedisURL == "" {
		return studyapi.NewProviders(cfg, nil), func() {}
	}

	rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		logger := logging.WithComponent("cache")
		logger.Warn().Err(err).Msg("metadata cache disabled")
		return studyapi.NewProviders(cfg, nil), func() {}
	}

	release := func() {
		if err := rc.Close(); err != nil {
			logger := logging.WithComponent("cache")
			logger.Warn().Err(err).Msg("failed to close metadata cache")
		}
	}
	var metaCache youtube.Cache = rc
	return studyapi.NewProviders(cfg, metaCache), release
}

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Generate study material for one video and print it as JSON (nothing is stored)",
		ArgsUsage: "<video-url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Value: studyapi.DefaultLanguage, Usage: "Output language"},
		},
		Action: func(c *cli.Context) error {
			reference := c.Args().First()
			if reference == "" {
				return errors.New("a video URL is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			configureLogging(c, cfg)

			providers, releaseCache := newProviders(c.Context, cfg)
			defer releaseCache()

			pipeline := studyapi.NewPipeline(providers, nil, nil, nil)
			result, err := pipeline.Run(c.Context, studyapi.Request{
				Reference: reference,
				Language:  c.String("language"),
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"url":         result.Reference,
				"video":       result.Video,
				"summary":     result.Content.Summary,
				"flashcards":  result.Content.Flashcards,
				"tldr":        result.Content.TLDR,
				"degraded":    result.Content.Degraded,
				"persistence": result.Persistence,
			})
		},
	}
}

func notesCmd() *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "Edit the notes of a video from stdin; every line is an edit, saved with autosave",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", Usage: "Base URL of a running server"},
			&cli.StringFlag{Name: "video", Required: true, Usage: "Video URL the notes belong to"},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Sign in before editing"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"YTSUM_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadUnchecked()
			if err != nil {
				return err
			}
			configureLogging(c, cfg)
			return editNotes(c.Context, c, cfg.Autosave.Unit)
		},
	}
}

func editNotes(ctx context.Context, c *cli.Context, unit time.Duration) error {
	nc, err := client.NewNotesClient(c.String("server"), 0)
	if err != nil {
		return err
	}
	if user := c.String("username"); user != "" {
		if err := nc.Login(ctx, user, c.String("password")); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	videoURL := c.String("video")
	initial, err := nc.GetNotes(ctx, videoURL)
	if err != nil {
		return fmt.Errorf("failed to load notes: %w", err)
	}

	opts := autosave.DefaultOptions(unit)
	opts.OnStateChange = func(s autosave.State) {
		fmt.Fprintf(c.App.ErrWriter, "[%s]\n", s)
	}
	controller := autosave.New(nc.Saver(videoURL), initial, opts)
	defer controller.Close()

	var lines []string
	if initial != "" {
		lines = strings.Split(initial, "\n")
	}
	scanner := bufio.NewScanner(c.App.Reader)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		controller.Edit(strings.Join(lines, "\n"))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := controller.Flush(ctx); err != nil {
		return fmt.Errorf("final save failed: %w", err)
	}
	fmt.Fprintln(c.App.Writer, controller.Content())
	return nil
}

func purgeSessionsCmd() *cli.Command {
	return &cli.Command{
		Name:  "purge-sessions",
		Usage: "Drop expired session revocations once and exit",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadUnchecked()
			if err != nil {
				return err
			}
			configureLogging(c, cfg)

			store, err := storage.Open(c.Context, &cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			job := studyapi.NewSessionPurgeJob(store)
			summary, err := job.Run(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, summary)
			return nil
		},
	}
}
