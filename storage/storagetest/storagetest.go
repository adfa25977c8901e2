// Package storagetest provides a conformance suite run against every
// storage.Repository implementation.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
)

func boolPtr(b bool) *bool { return &b }

// Run exercises the Repository contract. newRepo must return a fresh, empty
// repository for each subtest.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("SigningKeys", func(t *testing.T) {
		repo := newRepo(t)

		old := &storage.SigningKey{
			KeyID:     "key-old",
			Secret:    "aa",
			Algorithm: "HS256",
			IsActive:  true,
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(24 * time.Hour),
		}
		require.NoError(t, repo.CreateSigningKey(ctx, old))
		require.ErrorIs(t, repo.CreateSigningKey(ctx, &storage.SigningKey{KeyID: "key-old", ExpiresAt: now.Add(time.Hour)}), storage.ErrDuplicate)

		got, err := repo.SigningKeyByID(ctx, "key-old")
		require.NoError(t, err)
		require.Equal(t, "HS256", got.Algorithm)
		_, err = repo.SigningKeyByID(ctx, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)

		// Current picks the newest usable key.
		fresh := &storage.SigningKey{
			KeyID:     "key-new",
			Secret:    "bb",
			Algorithm: "HS256",
			IsActive:  true,
			CreatedAt: now,
			ExpiresAt: now.Add(24 * time.Hour),
		}
		require.NoError(t, repo.CreateSigningKey(ctx, fresh))
		cur, err := repo.CurrentSigningKey(ctx, now)
		require.NoError(t, err)
		require.Equal(t, "key-new", cur.KeyID)

		n, err := repo.DeactivateSigningKeys(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		_, err = repo.CurrentSigningKey(ctx, now)
		require.ErrorIs(t, err, storage.ErrNotFound)

		// Deactivated keys remain fetchable by ID until expiry cleanup.
		got, err = repo.SigningKeyByID(ctx, "key-old")
		require.NoError(t, err)
		require.False(t, got.IsActive)

		expired := &storage.SigningKey{
			KeyID:     "key-expired",
			Secret:    "cc",
			Algorithm: "HS256",
			IsActive:  false,
			CreatedAt: now.Add(-100 * 24 * time.Hour),
			ExpiresAt: now.Add(-time.Hour),
		}
		require.NoError(t, repo.CreateSigningKey(ctx, expired))
		deleted, err := repo.DeleteExpiredSigningKeys(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, deleted)
		_, err = repo.SigningKeyByID(ctx, "key-expired")
		require.ErrorIs(t, err, storage.ErrNotFound)

		keys, err := repo.ListSigningKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		require.Equal(t, "key-new", keys[0].KeyID)
	})

	t.Run("OneTimeTokens", func(t *testing.T) {
		repo := newRepo(t)

		tok := &storage.OneTimeToken{
			Token:     "deadbeef",
			Type:      storage.TokenTypeConfirm,
			UserID:    "user-1",
			ExpiresAt: now.Add(24 * time.Hour),
		}
		require.NoError(t, repo.CreateOneTimeToken(ctx, tok))
		require.NotEmpty(t, tok.ID)

		// Lookup honors type and expiry.
		got, err := repo.OneTimeTokenByValue(ctx, "deadbeef", storage.TokenTypeConfirm, now)
		require.NoError(t, err)
		require.Equal(t, "user-1", got.UserID)
		_, err = repo.OneTimeTokenByValue(ctx, "deadbeef", storage.TokenTypeReset, now)
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.OneTimeTokenByValue(ctx, "deadbeef", storage.TokenTypeConfirm, now.Add(25*time.Hour))
		require.ErrorIs(t, err, storage.ErrNotFound)

		// First delete wins, second observes already-gone.
		deleted, err := repo.DeleteOneTimeToken(ctx, tok.ID)
		require.NoError(t, err)
		require.True(t, deleted)
		deleted, err = repo.DeleteOneTimeToken(ctx, tok.ID)
		require.NoError(t, err)
		require.False(t, deleted)

		// Newest-wins per (user, type).
		require.NoError(t, repo.CreateOneTimeToken(ctx, &storage.OneTimeToken{
			Token: "t1", Type: storage.TokenTypeReset, UserID: "user-2", ExpiresAt: now.Add(time.Hour),
		}))
		n, err := repo.DeleteOneTimeTokensForUser(ctx, "user-2", storage.TokenTypeReset)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.NoError(t, repo.CreateOneTimeToken(ctx, &storage.OneTimeToken{
			Token: "t2", Type: storage.TokenTypeReset, UserID: "user-2", ExpiresAt: now.Add(-time.Minute),
		}))
		n, err = repo.DeleteExpiredOneTimeTokens(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("Users", func(t *testing.T) {
		repo := newRepo(t)

		u := &storage.User{Email: "a@b.com", PasswordHash: "hash"}
		require.NoError(t, repo.CreateUser(ctx, u))
		require.NotEmpty(t, u.ID)
		require.ErrorIs(t, repo.CreateUser(ctx, &storage.User{Email: "A@B.com"}), storage.ErrDuplicate)

		got, err := repo.UserByEmail(ctx, "A@B.COM")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)

		got.IsConfirmed = true
		got.BackupCodes = []string{"AAAA1111", "BBBB2222"}
		require.NoError(t, repo.UpdateUser(ctx, got))
		got2, err := repo.UserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got2.IsConfirmed)
		require.Len(t, got2.BackupCodes, 2)

		require.ErrorIs(t, repo.UpdateUser(ctx, &storage.User{ID: "nope"}), storage.ErrNotFound)
		_, err = repo.UserByEmail(ctx, "missing@x.com")
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.DeleteUser(ctx, u.ID))
		_, err = repo.UserByID(ctx, u.ID)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.ErrorIs(t, repo.DeleteUser(ctx, u.ID), storage.ErrNotFound)
	})

	t.Run("LoginAttempts", func(t *testing.T) {
		repo := newRepo(t)

		for i := 0; i < 5; i++ {
			require.NoError(t, repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
				Email:     "user@x.com",
				IP:        "1.2.3.4",
				Success:   false,
				CreatedAt: now.Add(-time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
			Email: "user@x.com", IP: "5.6.7.8", Success: true, CreatedAt: now,
		}))
		require.NoError(t, repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
			Email: "other@x.com", IP: "1.2.3.4", Success: false, CreatedAt: now.Add(-2 * time.Hour),
		}))

		n, err := repo.CountLoginAttempts(ctx, storage.LoginAttemptFilter{
			Email: "user@x.com", Success: boolPtr(false), Since: now.Add(-15 * time.Minute),
		})
		require.NoError(t, err)
		require.Equal(t, 5, n)

		n, err = repo.CountLoginAttempts(ctx, storage.LoginAttemptFilter{IP: "1.2.3.4", Since: now.Add(-15 * time.Minute)})
		require.NoError(t, err)
		require.Equal(t, 5, n)

		n, err = repo.DeleteLoginAttemptsBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("AuditLogs", func(t *testing.T) {
		repo := newRepo(t)

		for i := 0; i < 3; i++ {
			require.NoError(t, repo.CreateAuditLog(ctx, &storage.AuditLogEntry{
				UserID:    "user-1",
				Action:    storage.ActionUserLogin,
				IP:        fmt.Sprintf("10.0.0.%d", i),
				UserAgent: "agent-a",
				CreatedAt: now.Add(-time.Duration(i) * time.Hour),
			}))
		}
		require.NoError(t, repo.CreateAuditLog(ctx, &storage.AuditLogEntry{
			UserID:   "user-1",
			Action:   storage.ActionUserRequestReset,
			IP:       "10.0.0.9",
			Metadata: storage.Metadata{"email": "user@x.com"},
		}))

		n, err := repo.CountAuditLogs(ctx, storage.AuditLogFilter{UserID: "user-1", Action: storage.ActionUserLogin})
		require.NoError(t, err)
		require.Equal(t, 3, n)

		n, err = repo.CountAuditLogs(ctx, storage.AuditLogFilter{
			Action: storage.ActionUserRequestReset, MetadataEmail: "USER@X.COM",
		})
		require.NoError(t, err)
		require.Equal(t, 1, n)

		entries, err := repo.ListAuditLogs(ctx, storage.AuditLogFilter{UserID: "user-1", Action: storage.ActionUserLogin}, 2, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt) || entries[0].CreatedAt.Equal(entries[1].CreatedAt))

		n, err = repo.DeleteAuditLogsBefore(ctx, now.Add(-90*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("SecurityEvents", func(t *testing.T) {
		repo := newRepo(t)

		mk := func(typ string, sev storage.Severity, ip string, age time.Duration, resolved bool) *storage.SecurityEvent {
			e := &storage.SecurityEvent{
				EventType:   typ,
				Severity:    sev,
				Description: typ,
				SourceIP:    ip,
				Resolved:    resolved,
				CreatedAt:   now.Add(-age),
			}
			require.NoError(t, repo.CreateSecurityEvent(ctx, e))
			return e
		}

		e1 := mk("FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "1.2.3.4", time.Minute, false)
		mk("FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "1.2.3.4", 2*time.Minute, false)
		mk("UNAUTHORIZED_ACCESS", storage.SeverityHigh, "5.6.7.8", 3*time.Minute, false)
		old := mk("FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "9.9.9.9", 200*24*time.Hour, true)

		n, err := repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{Since: now.Add(-time.Hour)})
		require.NoError(t, err)
		require.Equal(t, 3, n)
		n, err = repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{Severity: storage.SeverityHigh, Since: now.Add(-time.Hour)})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		n, err = repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{Resolved: boolPtr(false)})
		require.NoError(t, err)
		require.Equal(t, 3, n)

		tops, err := repo.TopSourceIPs(ctx, now.Add(-time.Hour), 10)
		require.NoError(t, err)
		require.Equal(t, "1.2.3.4", tops[0].IP)
		require.Equal(t, 2, tops[0].Count)

		types, err := repo.TopEventTypes(ctx, now.Add(-time.Hour), 10)
		require.NoError(t, err)
		require.Equal(t, "FAILED_LOGIN_ATTEMPT", types[0].EventType)

		n, err = repo.ResolveSecurityEvents(ctx, []string{e1.ID, "missing"})
		require.NoError(t, err)
		require.Equal(t, 1, n)

		events, err := repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{Resolved: boolPtr(true)}, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)

		// Retention: resolved old events go, unresolved old events stay.
		unresolvedOld := mk("UNAUTHORIZED_ACCESS", storage.SeverityHigh, "9.9.9.9", 200*24*time.Hour, false)
		n, err = repo.DeleteResolvedSecurityEventsBefore(ctx, now.Add(-90*24*time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)
		remaining, err := repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{SourceIP: "9.9.9.9"}, 0, 0)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		require.Equal(t, unresolvedOld.ID, remaining[0].ID)
		_ = old
	})

	t.Run("RateLimitEntries", func(t *testing.T) {
		repo := newRepo(t)

		for i := 0; i < 4; i++ {
			require.NoError(t, repo.CreateRateLimitEntry(ctx, &storage.RateLimitEntry{
				Key: "1.2.3.4", Endpoint: "/api/auth/login", CreatedAt: now.Add(-time.Duration(i*10) * time.Second),
			}))
		}
		require.NoError(t, repo.CreateRateLimitEntry(ctx, &storage.RateLimitEntry{
			Key: "1.2.3.4", Endpoint: "/api/todos", CreatedAt: now,
		}))

		n, err := repo.CountRateLimitEntries(ctx, "1.2.3.4", "/api/auth/login", now.Add(-time.Minute))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		n, err = repo.DeleteRateLimitEntriesBefore(ctx, now.Add(-25*time.Second))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}
