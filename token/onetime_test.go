package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
)

func createTestUser(t *testing.T, repo storage.Repository, email string) *storage.User {
	t.Helper()
	user := &storage.User{Email: email, PasswordHash: "x"}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func TestOneTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)
	user := createTestUser(t, repo, "alice@example.com")

	raw, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeConfirm)
	require.NoError(t, err)
	require.Len(t, raw, oneTimeTokenBytes*2)

	got, err := svc.ConsumeOneTime(ctx, raw, storage.TokenTypeConfirm)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	// Consumed tokens are gone.
	_, err = svc.ConsumeOneTime(ctx, raw, storage.TokenTypeConfirm)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestOneTimeTypeMismatch(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)
	user := createTestUser(t, repo, "alice@example.com")

	raw, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeConfirm)
	require.NoError(t, err)

	_, err = svc.ConsumeOneTime(ctx, raw, storage.TokenTypeReset)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestOneTimeNewestWins(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)
	user := createTestUser(t, repo, "alice@example.com")

	first, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeReset)
	require.NoError(t, err)
	second, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeReset)
	require.NoError(t, err)

	_, err = svc.ConsumeOneTime(ctx, first, storage.TokenTypeReset)
	require.ErrorIs(t, err, ErrTokenInvalid, "older reset link must be dead")

	got, err := svc.ConsumeOneTime(ctx, second, storage.TokenTypeReset)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestOneTimeExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)
	user := createTestUser(t, repo, "alice@example.com")

	start := time.Now().UTC()
	svc.now = func() time.Time { return start }
	raw, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeReset)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(resetTTL + time.Minute) }
	_, err = svc.ConsumeOneTime(ctx, raw, storage.TokenTypeReset)
	require.ErrorIs(t, err, ErrTokenInvalid)

	// A confirm token lasts a day, not an hour.
	svc.now = func() time.Time { return start }
	confirm, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeConfirm)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	got, err := svc.ConsumeOneTime(ctx, confirm, storage.TokenTypeConfirm)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestOneTimeCleanup(t *testing.T) {
	ctx := context.Background()
	svc, _, repo := newTestService(t)
	user := createTestUser(t, repo, "alice@example.com")

	start := time.Now().UTC()
	svc.now = func() time.Time { return start }
	_, err := svc.IssueOneTime(ctx, user.ID, storage.TokenTypeReset)
	require.NoError(t, err)
	_, err = svc.IssueOneTime(ctx, user.ID, storage.TokenTypeConfirm)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the reset token is past its TTL")
}
