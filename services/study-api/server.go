package studyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/logging"
	"github.com/krishng03/yt-sum/shared/monitoring"
	"github.com/krishng03/yt-sum/shared/session"
)

const maxBodyBytes = 1 << 20

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	RecordStore
	ListRecordsByOwner(ctx context.Context, owner int64) ([]models.AnalysisRecord, error)
	GetNotes(ctx context.Context, owner int64, reference string) (string, error)
	SetNotes(ctx context.Context, owner int64, reference, notes string) error
	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	Ping(ctx context.Context) error
}

type ServerDeps struct {
	Pipeline *Pipeline
	Store    Store
	Sessions *session.Manager
	Monitor  *monitoring.Monitor
	// AuthRateLimit is requests per minute per IP on /auth; zero disables it.
	AuthRateLimit int
}

type Server struct {
	pipeline      *Pipeline
	store         Store
	sessions      *session.Manager
	health        *monitoring.Health
	authRateLimit int
	logger        zerolog.Logger
}

func NewServer(deps ServerDeps) *Server {
	monitor := deps.Monitor
	if monitor == nil {
		monitor = monitoring.NewMonitor()
	}
	return &Server{
		pipeline:      deps.Pipeline,
		store:         deps.Store,
		sessions:      deps.Sessions,
		health:        monitoring.NewHealth(monitor, deps.Store),
		authRateLimit: deps.AuthRateLimit,
		logger:        logging.WithComponent("http"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))

	r.Get("/health", s.health.HealthHandler)
	r.Get("/status", s.health.StatusHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/video", s.handleVideo)
	r.Get("/video/notes", s.handleGetNotes)
	r.Post("/video/notes", s.handleSaveNotes)
	r.Get("/history", s.handleHistory)

	r.Route("/auth", func(r chi.Router) {
		if s.authRateLimit > 0 {
			r.Use(rateLimit(s.authRateLimit, time.Minute))
		}
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)
	})

	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many requests. Please try again later."})
		}),
	)
}

type errorBody struct {
	Error string `json:"error"`
}

type userPayload struct {
	UserID   int64  `json:"userid"`
	Username string `json:"username"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Unclassified errors are logged and
// reported with the fallback message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(fallback, err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context(), s.logger)
		logger.Error().Err(err).Str("code", string(appErr.Code)).Str("path", r.URL.Path).Msg(fallback)
	}
	writeJSON(w, appErr.Status, errorBody{Error: appErr.Message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidInput("Invalid request body")
	}
	return nil
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(session.CookieName); err == nil {
		return c.Value
	}
	return ""
}

type videoRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

type videoResponse struct {
	URL            string             `json:"url"`
	Title          string             `json:"title"`
	Thumbnail      string             `json:"thumbnail"`
	Duration       string             `json:"duration"`
	Views          string             `json:"views"`
	PublishedAt    string             `json:"publishedAt"`
	ChannelName    string             `json:"channelName"`
	Summary        []string           `json:"summary"`
	Flashcards     []models.Flashcard `json:"flashcards"`
	TLDR           []string           `json:"tldr"`
	SavedToDB      bool               `json:"savedToDB"`
	IsUserLoggedIn bool               `json:"isUserLoggedIn"`
	Persistence    string             `json:"persistence"`
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err, "Failed to process video")
		return
	}

	result, err := s.pipeline.Run(r.Context(), Request{
		Reference:    req.URL,
		Language:     req.Language,
		SessionToken: sessionToken(r),
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to process video")
		return
	}

	writeJSON(w, http.StatusOK, videoResponse{
		URL:            result.Reference,
		Title:          result.Video.Title,
		Thumbnail:      result.Video.Thumbnail,
		Duration:       result.Video.Duration,
		Views:          result.Video.Views,
		PublishedAt:    result.Video.PublishedAt,
		ChannelName:    result.Video.ChannelName,
		Summary:        result.Content.Summary,
		Flashcards:     result.Content.Flashcards,
		TLDR:           result.Content.TLDR,
		SavedToDB:      result.SavedToDB(),
		IsUserLoggedIn: result.IsUserLoggedIn(),
		Persistence:    string(result.Persistence),
	})
}

// notesOwner scopes notes to the caller when signed in; anonymous callers
// address the most recent record for the reference.
func (s *Server) notesOwner(r *http.Request) int64 {
	if sess := s.sessions.FromRequest(r); sess != nil {
		return sess.UserID
	}
	return 0
}

func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	videoURL := r.URL.Query().Get("videoUrl")
	if videoURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Video URL is required"})
		return
	}

	notes, err := s.store.GetNotes(r.Context(), s.notesOwner(r), videoURL)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch notes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"notes": notes})
}

type notesRequest struct {
	VideoURL string `json:"videoUrl"`
	Notes    string `json:"notes"`
}

func (s *Server) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err, "Failed to save notes")
		return
	}
	if req.VideoURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Video URL is required"})
		return
	}

	if err := s.store.SetNotes(r.Context(), s.notesOwner(r), req.VideoURL, req.Notes); err != nil {
		s.writeError(w, r, err, "Failed to save notes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) readCredentials(w http.ResponseWriter, r *http.Request) (*credentials, bool) {
	var creds credentials
	if err := decodeBody(w, r, &creds); err != nil {
		s.writeError(w, r, err, "Invalid request body")
		return nil, false
	}
	if creds.Username == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Username and password are required"})
		return nil, false
	}
	return &creds, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}

	user, err := s.store.CreateUser(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.writeError(w, r, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User created successfully",
		"user":    userPayload{UserID: user.ID, Username: user.Username},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}

	user, err := s.store.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.writeError(w, r, err, "Failed to log in")
		return
	}
	token, _, err := s.sessions.Issue(user)
	if err != nil {
		s.writeError(w, r, err, "Failed to log in")
		return
	}

	s.sessions.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    userPayload{UserID: user.ID, Username: user.Username},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := s.sessions.FromRequest(r); sess != nil {
		if err := s.sessions.Revoke(r.Context(), sess); err != nil {
			logger := logging.FromContext(r.Context(), s.logger)
			logger.Warn().Err(err).Msg("failed to revoke session")
		}
	}
	s.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.FromRequest(r)
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Not logged in"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": sess})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.FromRequest(r)
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "User not logged in"})
		return
	}

	records, err := s.store.ListRecordsByOwner(r.Context(), sess.UserID)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      sess,
		"summaries": records,
	})
}
