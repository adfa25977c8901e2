package keystore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/internal/util"
	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(memory.NewRepository(), logger)
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.Rotate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first.KeyID)
	require.Len(t, first.Secret, secretBytes*2, "secret should be hex of 64 random bytes")
	raw, err := util.HexDecode(first.Secret)
	require.NoError(t, err)
	require.Len(t, raw, secretBytes)
	require.Equal(t, Algorithm, first.Algorithm)
	require.True(t, first.IsActive)
	require.WithinDuration(t, first.CreatedAt.Add(keyLifetime), first.ExpiresAt, time.Second)

	second, err := svc.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID, second.KeyID)

	// The first key stays stored but is no longer active.
	stored, err := svc.ByID(ctx, first.KeyID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	current, err := svc.CurrentActive(ctx)
	require.NoError(t, err)
	require.Equal(t, second.KeyID, current.KeyID)
}

func TestCurrentActiveEmpty(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CurrentActive(context.Background())
	require.ErrorIs(t, err, ErrNoActiveKey)
}

func TestInitializeIfEmpty(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	key, created, err := svc.InitializeIfEmpty(ctx)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, key.KeyID)

	again, created, err := svc.InitializeIfEmpty(ctx)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, key.KeyID, again.KeyID)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	start := time.Now().UTC()
	svc.now = func() time.Time { return start }

	old, err := svc.Rotate(ctx)
	require.NoError(t, err)

	// Jump past the old key's expiry, rotate, then clean up.
	svc.now = func() time.Time { return start.Add(keyLifetime + time.Hour) }
	fresh, err := svc.Rotate(ctx)
	require.NoError(t, err)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = svc.ByID(ctx, old.KeyID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	current, err := svc.CurrentActive(ctx)
	require.NoError(t, err)
	require.Equal(t, fresh.KeyID, current.KeyID)
}

func TestListKeysOmitsSecrets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Rotate(ctx)
	require.NoError(t, err)
	_, err = svc.Rotate(ctx)
	require.NoError(t, err)

	infos, err := svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.True(t, infos[0].CreatedAt.After(infos[1].CreatedAt) ||
		infos[0].CreatedAt.Equal(infos[1].CreatedAt))
	require.True(t, infos[0].IsActive)
	require.False(t, infos[1].IsActive)
}

func TestScheduledRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("creates key when none exists", func(t *testing.T) {
		svc := newTestService(t)
		report, err := svc.ScheduledRotation(ctx)
		require.NoError(t, err)
		require.True(t, report.Rotated)
		require.NotEmpty(t, report.CurrentKeyID)
	})

	t.Run("keeps a fresh key", func(t *testing.T) {
		svc := newTestService(t)
		key, err := svc.Rotate(ctx)
		require.NoError(t, err)

		report, err := svc.ScheduledRotation(ctx)
		require.NoError(t, err)
		require.False(t, report.Rotated)
		require.Equal(t, key.KeyID, report.CurrentKeyID)
	})

	t.Run("rotates a key close to expiry", func(t *testing.T) {
		svc := newTestService(t)
		start := time.Now().UTC()
		svc.now = func() time.Time { return start }

		key, err := svc.Rotate(ctx)
		require.NoError(t, err)

		// Six days before expiry: inside the rotation threshold.
		svc.now = func() time.Time { return start.Add(keyLifetime - 6*24*time.Hour) }
		report, err := svc.ScheduledRotation(ctx)
		require.NoError(t, err)
		require.True(t, report.Rotated)
		require.NotEqual(t, key.KeyID, report.CurrentKeyID)
		require.Equal(t, 0, report.Deleted, "near-expiry key is deactivated, not deleted")
	})
}
