package token

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/internal/util"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *keystore.Service, storage.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepository()
	keys := keystore.NewService(repo, logger)
	return NewService(keys, repo, logger), keys, repo
}

// secretOf decodes a key's hex secret into the raw HMAC key.
func secretOf(t *testing.T, key *storage.SigningKey) []byte {
	t.Helper()
	b, err := util.HexDecode(key.Secret)
	require.NoError(t, err)
	return b
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)

	key, err := keys.Rotate(ctx)
	require.NoError(t, err)

	raw, err := svc.IssueSession(ctx, "user-1", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	session, err := svc.VerifySession(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", session.UserID)
	require.Equal(t, "alice@example.com", session.Email)
	require.Equal(t, key.KeyID, session.KeyID)
	require.WithinDuration(t, time.Now().Add(SessionTTL), session.ExpiresAt, 5*time.Second)
}

func TestIssueSessionFailsClosedWithoutKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.IssueSession(context.Background(), "user-1", "alice@example.com")
	require.ErrorIs(t, err, keystore.ErrNoActiveKey)
}

func TestVerifySessionRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)
	_, err := keys.Rotate(ctx)
	require.NoError(t, err)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.VerifySession(ctx, raw)
		require.ErrorIs(t, err, ErrInvalidSession, "input %q", raw)
	}
}

func TestVerifySessionRejectsRetiredKey(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)

	_, err := keys.Rotate(ctx)
	require.NoError(t, err)
	raw, err := svc.IssueSession(ctx, "user-1", "alice@example.com")
	require.NoError(t, err)

	// Rotation retires the signing key; the old token must stop verifying.
	_, err = keys.Rotate(ctx)
	require.NoError(t, err)

	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifySessionRejectsExpired(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)
	_, err := keys.Rotate(ctx)
	require.NoError(t, err)

	start := time.Now().UTC()
	svc.now = func() time.Time { return start }
	raw, err := svc.IssueSession(ctx, "user-1", "alice@example.com")
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(SessionTTL + time.Minute) }
	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionFailsClosedOnMalformedKeySecret(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)

	now := time.Now().UTC()
	bad := &storage.SigningKey{
		KeyID:     "corrupt-key",
		Secret:    "not hex at all",
		Algorithm: keystore.Algorithm,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateSigningKey(ctx, bad))

	_, err := svc.IssueSession(ctx, "user-1", "alice@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, keystore.ErrNoActiveKey)

	// A token claiming the corrupt key must fail verification, not crash.
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	})
	tok.Header["kid"] = bad.KeyID
	raw, err := tok.SignedString([]byte(bad.Secret))
	require.NoError(t, err)

	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifySessionRejectsMissingKid(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)
	key, err := keys.Rotate(ctx)
	require.NoError(t, err)

	// Sign a valid claim set with the real secret but omit the kid header.
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionTTL)),
		},
		Email: "alice@example.com",
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secretOf(t, key))
	require.NoError(t, err)

	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifySessionRejectsForeignIssuer(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)
	key, err := keys.Rotate(ctx)
	require.NoError(t, err)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "other-service",
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = key.KeyID
	raw, err := tok.SignedString(secretOf(t, key))
	require.NoError(t, err)

	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifySessionRejectsAlgorithmSwap(t *testing.T) {
	ctx := context.Background()
	svc, keys, _ := newTestService(t)
	key, err := keys.Rotate(ctx)
	require.NoError(t, err)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	tok.Header["kid"] = key.KeyID
	raw, err := tok.SignedString(secretOf(t, key))
	require.NoError(t, err)

	_, err = svc.VerifySession(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}
