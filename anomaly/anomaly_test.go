package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/memory"
)

func newTestDetector(t *testing.T) (*Detector, storage.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	return NewDetector(repo, DefaultConfig()), repo
}

func seedFailedLogins(t *testing.T, repo storage.Repository, email, ip string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.CreateLoginAttempt(context.Background(), &storage.LoginAttempt{
			Email: email, IP: ip, Success: false, CreatedAt: at,
		}))
	}
}

func TestBruteForceLogin(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	seedFailedLogins(t, repo, "alice@example.com", "203.0.113.7", 4, now.Add(-time.Minute))

	result, err := det.BruteForceLogin(ctx, "alice@example.com", "203.0.113.7")
	require.NoError(t, err)
	require.False(t, result.IsAnomaly, "four failures stay below threshold")

	seedFailedLogins(t, repo, "alice@example.com", "203.0.113.7", 1, now.Add(-time.Minute))

	result, err = det.BruteForceLogin(ctx, "alice@example.com", "203.0.113.7")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly, "fifth failure crosses the threshold")
	require.Equal(t, storage.SeverityHigh, result.Severity)
	require.Equal(t, 5, result.Metadata["failedAttempts"])
}

func TestBruteForceLoginWindow(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)

	// Old failures fall outside the 15-minute window.
	seedFailedLogins(t, repo, "alice@example.com", "203.0.113.7", 10,
		time.Now().UTC().Add(-20*time.Minute))

	result, err := det.BruteForceLogin(ctx, "alice@example.com", "203.0.113.7")
	require.NoError(t, err)
	require.False(t, result.IsAnomaly)
}

func TestIPBruteForce(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	// Mixed outcomes all count toward the per-IP ceiling.
	for i := 0; i < 11; i++ {
		require.NoError(t, repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
			Email:     fmt.Sprintf("user%d@example.com", i),
			IP:        "203.0.113.7",
			Success:   i%2 == 0,
			CreatedAt: now.Add(-time.Minute),
		}))
	}

	result, err := det.IPBruteForce(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly)
	require.Equal(t, storage.SeverityHigh, result.Severity)
	require.Equal(t, 11, result.Metadata["loginAttempts"])

	other, err := det.IPBruteForce(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.False(t, other.IsAnomaly)
}

func seedLogin(t *testing.T, repo storage.Repository, userID, ip, agent string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.CreateAuditLog(context.Background(), &storage.AuditLogEntry{
		UserID: userID, Action: storage.ActionUserLogin,
		IP: ip, UserAgent: agent, CreatedAt: at,
	}))
}

func TestAccessPattern(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	recent := time.Now().UTC().Add(-time.Hour)

	seedLogin(t, repo, "user-1", "203.0.113.7", "firefox", recent)

	t.Run("known IP and agent", func(t *testing.T) {
		result, err := det.AccessPattern(ctx, "user-1", "203.0.113.7", "firefox")
		require.NoError(t, err)
		require.False(t, result.IsAnomaly)
	})

	t.Run("new IP with known agent", func(t *testing.T) {
		result, err := det.AccessPattern(ctx, "user-1", "198.51.100.1", "firefox")
		require.NoError(t, err)
		require.True(t, result.IsAnomaly)
		require.Equal(t, storage.SeverityLow, result.Severity)
	})

	t.Run("new IP and new agent", func(t *testing.T) {
		result, err := det.AccessPattern(ctx, "user-1", "198.51.100.1", "curl")
		require.NoError(t, err)
		require.True(t, result.IsAnomaly)
		require.Equal(t, storage.SeverityMedium, result.Severity)
	})

	t.Run("known IP with new agent is not flagged", func(t *testing.T) {
		result, err := det.AccessPattern(ctx, "user-1", "203.0.113.7", "curl")
		require.NoError(t, err)
		require.False(t, result.IsAnomaly)
	})
}

func TestPasswordResetAbuse(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateAuditLog(ctx, &storage.AuditLogEntry{
			Action:    storage.ActionUserRequestReset,
			Metadata:  storage.Metadata{"email": "alice@example.com"},
			CreatedAt: now.Add(-30 * time.Minute),
		}))
	}

	result, err := det.PasswordResetAbuse(ctx, "alice@example.com", "203.0.113.7")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly)
	require.Equal(t, storage.SeverityMedium, result.Severity)

	other, err := det.PasswordResetAbuse(ctx, "bob@example.com", "203.0.113.7")
	require.NoError(t, err)
	require.False(t, other.IsAnomaly)
}

func TestMFAFailure(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateAuditLog(ctx, &storage.AuditLogEntry{
			UserID: "user-1", Action: storage.ActionUserVerifyMFA,
			CreatedAt: now.Add(-10 * time.Minute),
		}))
	}

	failed, err := det.MFAFailure(ctx, "user-1", "203.0.113.7", false)
	require.NoError(t, err)
	require.True(t, failed.IsAnomaly)
	require.Equal(t, storage.SeverityHigh, failed.Severity)

	// The same history with a successful current attempt is not anomalous.
	succeeded, err := det.MFAFailure(ctx, "user-1", "203.0.113.7", true)
	require.NoError(t, err)
	require.False(t, succeeded.IsAnomaly)
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 60; i++ {
		require.NoError(t, repo.CreateRateLimitEntry(ctx, &storage.RateLimitEntry{
			Key: "203.0.113.7", Endpoint: "/api/auth/login",
			CreatedAt: now.Add(-30 * time.Second),
		}))
	}

	result, err := det.RateLimit(ctx, "203.0.113.7", "/api/auth/login")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly)
	require.Equal(t, storage.SeverityMedium, result.Severity)
	require.Equal(t, 60, result.Metadata["requests"])

	other, err := det.RateLimit(ctx, "203.0.113.7", "/api/todos")
	require.NoError(t, err)
	require.False(t, other.IsAnomaly, "counts are scoped per endpoint")
}

func TestPrivilegeEscalation(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateAuditLog(ctx, &storage.AuditLogEntry{
			UserID: "user-1", Action: storage.ActionUnauthorized,
			ResourceType: storage.ResourceTodo, CreatedAt: now.Add(-10 * time.Minute),
		}))
	}

	result, err := det.PrivilegeEscalation(ctx, "user-1", storage.ResourceTodo, "todo-9", "TODO_UPDATE")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly)
	require.Equal(t, storage.SeverityCritical, result.Severity)

	other, err := det.PrivilegeEscalation(ctx, "user-1", storage.ResourceUser, "user-2", "USER_LOGIN")
	require.NoError(t, err)
	require.False(t, other.IsAnomaly, "counts are scoped per resource type")
}

func TestRunLogin(t *testing.T) {
	ctx := context.Background()
	det, repo := newTestDetector(t)
	now := time.Now().UTC()

	seedFailedLogins(t, repo, "alice@example.com", "203.0.113.7", 5, now.Add(-time.Minute))
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
			Email: "bob@example.com", IP: "203.0.113.7", Success: true,
			CreatedAt: now.Add(-time.Minute),
		}))
	}

	// Ten attempts from the IP plus five failures for the email: both
	// brute-force detectors fire, and the unseen IP adds an access-pattern
	// hit for the successful login.
	results, err := det.RunLogin(ctx, "alice@example.com", "203.0.113.7", "firefox", "user-1", true)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Without success no access-pattern check runs.
	results, err = det.RunLogin(ctx, "alice@example.com", "203.0.113.7", "firefox", "", false)
	require.NoError(t, err)
	require.Len(t, results, 2)
}
