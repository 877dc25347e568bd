package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
)

var (
	// ErrNotFound is returned by a Backend when no row or document matches.
	ErrNotFound = errors.New("storage: not found")
	// ErrUsernameTaken is returned by a Backend when the username is in use.
	ErrUsernameTaken = errors.New("storage: username already taken")
)

// Backend is a document store for analysis records, users and revoked
// sessions. Owner 0 in a record lookup matches any owner.
type Backend interface {
	InsertRecord(ctx context.Context, rec *models.AnalysisRecord) error
	ListRecords(ctx context.Context, owner int64) ([]models.AnalysisRecord, error)
	LatestNotes(ctx context.Context, owner int64, videoURL string) (string, error)
	UpdateLatestNotes(ctx context.Context, owner int64, videoURL, notes string) error

	InsertUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)

	InsertRevocation(ctx context.Context, tokenID string, expiresAt time.Time) error
	RevocationExists(ctx context.Context, tokenID string) (bool, error)
	DeleteRevocationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Service is the persistence layer used by the pipeline and the HTTP
// handlers. It owns id generation, timestamps and password hashing.
type Service struct {
	backend    Backend
	now        func() time.Time
	bcryptCost int
	logger     zerolog.Logger

	entropyMu sync.Mutex
	entropy   io.Reader
}

type Option func(*Service)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:    backend,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logging.WithComponent("storage"),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.StorageConfig, opts ...Option) (*Service, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case config.DriverMongo:
		backend, err = OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverSQLite, "":
		backend, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewService(backend, opts...), nil
}

func (s *Service) newID(t time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// CreateAnalysisRecord stores the result of one generation request for owner.
func (s *Service) CreateAnalysisRecord(ctx context.Context, owner int64, reference string, video *models.VideoMetadata, content *models.GeneratedContent, language string) (*models.AnalysisRecord, error) {
	if owner == 0 {
		return nil, fmt.Errorf("analysis record requires an owner")
	}
	if video == nil || content == nil {
		return nil, fmt.Errorf("analysis record requires metadata and content")
	}

	now := s.now().UTC()
	rec := &models.AnalysisRecord{
		ID:         s.newID(now),
		OwnerID:    owner,
		VideoURL:   reference,
		Video:      *video,
		Summary:    content.Summary,
		Flashcards: content.Flashcards,
		TLDR:       content.TLDR,
		Language:   language,
		CreatedAt:  now,
	}
	if err := s.backend.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert analysis record: %w", err)
	}

	s.logger.Debug().Str("record_id", rec.ID).Int64("owner", owner).Msg("analysis record created")
	return rec, nil
}

// ListRecordsByOwner returns every record of owner, most recent first.
func (s *Service) ListRecordsByOwner(ctx context.Context, owner int64) ([]models.AnalysisRecord, error) {
	records, err := s.backend.ListRecords(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if records == nil {
		records = []models.AnalysisRecord{}
	}
	return records, nil
}

// GetNotes returns the notes of the most recent matching record, or "" when
// there is none.
func (s *Service) GetNotes(ctx context.Context, owner int64, reference string) (string, error) {
	notes, err := s.backend.LatestNotes(ctx, owner, reference)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch notes: %w", err)
	}
	return notes, nil
}

// SetNotes overwrites the notes of the most recent matching record.
func (s *Service) SetNotes(ctx context.Context, owner int64, reference, notes string) error {
	err := s.backend.UpdateLatestNotes(ctx, owner, reference, notes)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("Video not found")
	}
	if err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}

// CreateUser registers a new account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.InvalidInput("Username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.backend.InsertUser(ctx, username, string(hash), s.now().UTC())
	if errors.Is(err, ErrUsernameTaken) {
		return nil, apperr.Conflict("Username already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Int64("userid", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Authenticate checks a username and password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.backend.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("Invalid credentials")
	}
	return user, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.backend.UserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	return user, err
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.backend.UserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	return user, err
}

// RevokeSession records a token id as logged out until it would have expired.
func (s *Service) RevokeSession(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}
	if err := s.backend.InsertRevocation(ctx, tokenID, expiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (s *Service) IsSessionRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.backend.RevocationExists(ctx, tokenID)
}

// PurgeExpiredRevocations drops revocations whose tokens have expired anyway.
func (s *Service) PurgeExpiredRevocations(ctx context.Context) (int64, error) {
	n, err := s.backend.DeleteRevocationsBefore(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge revocations: %w", err)
	}
	return n, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Service) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}
