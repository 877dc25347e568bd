package logging

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config captures options for configuring the process logger.
type Config struct {
	Level   string    // "debug", "info", ...; falls back to LOG_LEVEL
	Format  string    // "json" (default) or "console"
	Output  io.Writer // defaults to os.Stdout
	Service string
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Configure replaces the process logger. Safe to call more than once; the last
// call wins.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	raw := cfg.Level
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	service := cfg.Service
	if service == "" {
		service = "yt-sum"
	}

	l := zerolog.New(writer).With().Timestamp().Str("service", service).Logger()

	mu.Lock()
	base = l
	mu.Unlock()
}

// Base returns the configured process logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// FromContext returns l annotated with the request id carried by ctx, if any.
func FromContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return l.With().Str("request_id", id).Logger()
	}
	return l
}

// Middleware logs one line per HTTP request after the handler returns.
func Middleware(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := l.Info()
			if status >= http.StatusInternalServerError {
				event = l.Error()
			} else if status >= http.StatusBadRequest {
				event = l.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
