package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
)

// CookieName is the HTTP-only cookie that carries the session token.
const CookieName = "session"

// RevocationStore records logged-out token ids. storage.Service satisfies it.
type RevocationStore interface {
	RevokeSession(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Manager issues and resolves signed session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	store  RevocationStore
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg *config.SessionConfig, store RevocationStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		secure: cfg.SecureCookie,
		store:  store,
		now:    time.Now,
		logger: logging.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}
	if len(m.secret) == 0 {
		m.secret = make([]byte, 32)
		if _, err := rand.Read(m.secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		m.logger.Warn().Msg("no session secret configured, using a random one; sessions will not survive a restart")
	}
	return m, nil
}

// TTL is the fixed lifetime of an issued session.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new session token for user.
func (m *Manager) Issue(user *models.User) (string, *models.Session, error) {
	now := m.now()
	sess := &models.Session{
		UserID:    user.ID,
		Username:  user.Username,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(m.ttl),
	}
	claims := Claims{
		Name: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        sess.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, sess, nil
}

// Resolve returns the session a token stands for, or nil when the token is
// absent, malformed, expired, wrongly signed or revoked.
func (m *Manager) Resolve(ctx context.Context, token string) *models.Session {
	if token == "" {
		return nil
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		m.logger.Debug().Err(err).Msg("rejected session token")
		return nil
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil
	}

	if m.store != nil {
		revoked, err := m.store.IsSessionRevoked(ctx, claims.ID)
		if err != nil {
			// fail closed
			m.logger.Warn().Err(err).Msg("revocation lookup failed")
			return nil
		}
		if revoked {
			return nil
		}
	}

	return &models.Session{
		UserID:    userID,
		Username:  claims.Name,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

// FromRequest resolves the session cookie of r.
func (m *Manager) FromRequest(r *http.Request) *models.Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	return m.Resolve(r.Context(), cookie.Value)
}

// Revoke invalidates sess until it would have expired.
func (m *Manager) Revoke(ctx context.Context, sess *models.Session) error {
	if sess == nil || m.store == nil {
		return nil
	}
	return m.store.RevokeSession(ctx, sess.TokenID, sess.ExpiresAt)
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the session cookie immediately.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
