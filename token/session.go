// Package token issues and verifies the two token kinds used by the
// authentication flows: stateless signed session tokens and persisted
// one-time confirmation/reset tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/patrickcsouzadev/todo-app/internal/util"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/storage"
)

const (
	// Issuer and Audience bind session tokens to this service so a token
	// minted elsewhere with a leaked key cannot be replayed here.
	Issuer   = "todo-app"
	Audience = "todo-app-users"

	// SessionTTL bounds the exposure window of a stolen cookie.
	SessionTTL = 30 * time.Minute
)

// ErrInvalidSession covers every session verification failure: bad
// signature, unknown or retired key, expired or malformed claims. Callers
// treat it as an authentication failure, never as a system fault.
var ErrInvalidSession = errors.New("token: invalid session")

// Session is the verified content of a session token.
type Session struct {
	UserID    string
	Email     string
	KeyID     string
	ExpiresAt time.Time
}

// SessionClaims is the JWT claim set for session tokens. The user ID rides
// in the registered subject claim.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Service implements the token operations over the key store and the
// one-time token repository.
type Service struct {
	keys *keystore.Service
	repo storage.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewService returns a token service. A nil logger falls back to
// slog.Default().
func NewService(keys *keystore.Service, repo storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{keys: keys, repo: repo, log: logger, now: time.Now}
}

// signingKeyBytes decodes a key's hex-encoded secret into the raw HMAC
// key. A malformed secret fails closed.
func signingKeyBytes(key *storage.SigningKey) ([]byte, error) {
	b, err := util.HexDecode(key.Secret)
	if err != nil {
		return nil, fmt.Errorf("decoding secret of key %q: %w", key.KeyID, err)
	}
	return b, nil
}

// IssueSession signs a session token for the user with the current active
// key. It fails closed when no active key exists.
func (s *Service) IssueSession(ctx context.Context, userID, email string) (string, error) {
	key, err := s.keys.CurrentActive(ctx)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
		Email: email,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = key.KeyID

	secret, err := signingKeyBytes(key)
	if err != nil {
		return "", err
	}
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// VerifySession checks a session token and returns its content.
//
// The key id is read from the unverified header and resolved against the
// key store before any claim is trusted. A missing kid, an unknown key, a
// retired or expired key, or an unexpected algorithm all fail verification
// before signature checking runs. This ordering blocks algorithm and key
// confusion attacks.
func (s *Service) VerifySession(ctx context.Context, raw string) (*Session, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)

	claims := &SessionClaims{}
	var keyID string
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid header")
		}
		key, err := s.keys.ByID(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("resolving key %q: %w", kid, err)
		}
		if !key.Usable(s.now().UTC()) {
			return nil, fmt.Errorf("key %q is retired", kid)
		}
		if key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("key %q does not sign %s", kid, t.Method.Alg())
		}
		keyID = key.KeyID
		return signingKeyBytes(key)
	})
	if err != nil || !tok.Valid {
		s.log.Debug("session verification failed", "error", err)
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" {
		return nil, ErrInvalidSession
	}

	return &Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		KeyID:     keyID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
