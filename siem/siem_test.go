package siem

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/memory"
)

type captureNotifier struct {
	alerts  []string
	blocked []string
}

func (c *captureNotifier) SendSecurityAlert(_ context.Context, ruleName string, _ storage.Severity, _ []string, _ int) error {
	c.alerts = append(c.alerts, ruleName)
	return nil
}

func (c *captureNotifier) BlockIPs(_ context.Context, ips []string) error {
	c.blocked = append(c.blocked, ips...)
	return nil
}

func newTestService(t *testing.T) (*Service, storage.Repository, *captureNotifier) {
	t.Helper()
	repo := memory.NewRepository()
	notifier := &captureNotifier{}
	svc := NewService(repo, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, notifier
}

func seedEvent(t *testing.T, repo storage.Repository, eventType string, severity storage.Severity, ip string, resolved bool, at time.Time) {
	t.Helper()
	require.NoError(t, repo.CreateSecurityEvent(context.Background(), &storage.SecurityEvent{
		EventType: eventType, Severity: severity, SourceIP: ip,
		Resolved: resolved, CreatedAt: at,
	}))
}

func TestGetDashboard(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "UNAUTHORIZED_ACCESS", storage.SeverityHigh, "198.51.100.1", true, now.Add(-2*time.Hour))
	seedEvent(t, repo, "CORRELATION_ALERT", storage.SeverityCritical, "203.0.113.7", false, now.Add(-time.Minute))
	// Outside the 24h window.
	seedEvent(t, repo, "OLD_EVENT", storage.SeverityLow, "192.0.2.1", false, now.Add(-48*time.Hour))

	d, err := svc.GetDashboard(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, 4, d.TotalEvents)
	require.Equal(t, 1, d.CriticalEvents)
	require.Equal(t, 1, d.HighEvents)
	require.Equal(t, 2, d.MediumEvents)
	require.Equal(t, 0, d.LowEvents)
	require.Equal(t, 3, d.OpenAlerts)
	require.Equal(t, 1, d.ResolvedAlerts)

	require.NotEmpty(t, d.TopSourceIPs)
	require.Equal(t, "203.0.113.7", d.TopSourceIPs[0].IP)
	require.Equal(t, 3, d.TopSourceIPs[0].Count)
	require.NotEmpty(t, d.TopEventTypes)
	require.Equal(t, "FAILED_LOGIN_ATTEMPT", d.TopEventTypes[0].EventType)
	require.NotEmpty(t, d.RecentAlerts)
}

func TestRecentAlertsGrouping(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	// Three events from the same IP inside thirty minutes collapse into one
	// alert; the far-away event from another IP gets its own.
	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-5*time.Minute))
	seedEvent(t, repo, "RATE_LIMIT_EXCEEDED", storage.SeverityMedium, "203.0.113.7", false, now.Add(-10*time.Minute))
	seedEvent(t, repo, "UNAUTHORIZED_ACCESS", storage.SeverityHigh, "203.0.113.7", false, now.Add(-20*time.Minute))
	seedEvent(t, repo, "SUSPICIOUS_ACTIVITY", storage.SeverityLow, "198.51.100.1", false, now.Add(-5*time.Minute))

	alerts, err := svc.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	var grouped *Alert
	for _, a := range alerts {
		if len(a.Events) == 3 {
			grouped = a
		}
	}
	require.NotNil(t, grouped)
	require.Equal(t, storage.SeverityHigh, grouped.Severity, "alert takes highest member severity")
	require.Equal(t, StatusOpen, grouped.Status)
	require.Equal(t, "Multiple security events: FAILED_LOGIN_ATTEMPT, RATE_LIMIT_EXCEEDED, UNAUTHORIZED_ACCESS", grouped.Title)
	require.Contains(t, grouped.Description, "3 security events detected from IP 203.0.113.7")
}

func TestRecentAlertsTitleRules(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	t.Run("single type", func(t *testing.T) {
		seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "192.0.2.10", false, now)
		alerts, err := svc.RecentAlerts(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, "FAILED_LOGIN_ATTEMPT detected", alerts[len(alerts)-1].Title)
	})

	t.Run("more than three types", func(t *testing.T) {
		for _, typ := range []string{"A", "B", "C", "D"} {
			seedEvent(t, repo, typ, storage.SeverityLow, "192.0.2.20", false, now)
		}
		alerts, err := svc.RecentAlerts(ctx, 10)
		require.NoError(t, err)
		var found bool
		for _, a := range alerts {
			if a.Title == "Multiple security events (4 types)" {
				found = true
			}
		}
		require.True(t, found)
	})
}

func TestRecentAlertsSkipsResolved(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", true, now)

	alerts, err := svc.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestGetSecurityStats(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", true, now.Add(-time.Hour))
	seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "CORRELATION_ALERT", storage.SeverityHigh, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "UNAUTHORIZED_ACCESS", storage.SeverityCritical, "198.51.100.1", true, now.Add(-time.Hour))

	stats, err := svc.GetSecurityStats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalEvents)
	require.Equal(t, 2, stats.EventsBySeverity["MEDIUM"])
	require.Equal(t, 1, stats.EventsBySeverity["HIGH"])
	require.Equal(t, 1, stats.EventsBySeverity["CRITICAL"])
	require.Equal(t, 2, stats.ResolvedEvents)
	require.Equal(t, 1, stats.CorrelationAlerts)
	require.InDelta(t, 50.0, stats.ResolutionRate, 0.01)
}

func TestCorrelate(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newTestService(t)
	now := time.Now().UTC()

	// Three unresolved failed logins from one IP inside fifteen minutes
	// trip the brute-force rule.
	for i := 0; i < 3; i++ {
		seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-5*time.Minute))
	}
	// Two are not enough for the rate-limit rule.
	seedEvent(t, repo, "RATE_LIMIT_EXCEEDED", storage.SeverityMedium, "198.51.100.1", false, now.Add(-5*time.Minute))
	seedEvent(t, repo, "RATE_LIMIT_EXCEEDED", storage.SeverityMedium, "198.51.100.1", false, now.Add(-5*time.Minute))

	require.NoError(t, svc.Correlate(ctx))

	alerts, err := repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{EventType: "CORRELATION_ALERT"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, storage.SeverityHigh, alerts[0].Severity)
	require.Equal(t, "203.0.113.7", alerts[0].SourceIP)
	require.Equal(t, "brute_force_attack", alerts[0].Metadata["ruleId"])
	require.Contains(t, alerts[0].Description, "Brute Force Attack Detection")

	// The brute-force rule mails but does not block.
	require.Equal(t, []string{"Brute Force Attack Detection"}, notifier.alerts)
	require.Empty(t, notifier.blocked)
}

func TestCorrelateBlockIP(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newTestService(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedEvent(t, repo, "RATE_LIMIT_EXCEEDED", storage.SeverityMedium, "198.51.100.1", false, now.Add(-5*time.Minute))
	}

	require.NoError(t, svc.Correlate(ctx))
	require.Equal(t, []string{"198.51.100.1"}, notifier.blocked)
	require.Empty(t, notifier.alerts, "rate limit rule does not mail")
}

func TestCorrelateIgnoresOldAndResolved(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "203.0.113.7", false, now.Add(-20*time.Minute))
	}
	for i := 0; i < 3; i++ {
		seedEvent(t, repo, "FAILED_LOGIN_ATTEMPT", storage.SeverityMedium, "198.51.100.1", true, now.Add(-5*time.Minute))
	}

	require.NoError(t, svc.Correlate(ctx))

	alerts, err := repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{EventType: "CORRELATION_ALERT"}, 10, 0)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestResolveEvents(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	seedEvent(t, repo, "A", storage.SeverityLow, "203.0.113.7", false, now)
	events, err := repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{}, 10, 0)
	require.NoError(t, err)

	n, err := svc.ResolveEvents(ctx, []string{events[0].ID, "missing-id"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGetSecurityEventsPaging(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		seedEvent(t, repo, "A", storage.SeverityLow, "203.0.113.7", false, now.Add(-time.Duration(i)*time.Minute))
	}

	page, err := svc.GetSecurityEvents(ctx, storage.SecurityEventFilter{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, 5, page.Total)
	require.True(t, page.HasMore)

	last, err := svc.GetSecurityEvents(ctx, storage.SecurityEventFilter{}, 2, 4)
	require.NoError(t, err)
	require.Len(t, last.Events, 1)
	require.False(t, last.HasMore)
}

func TestAnalyzeTrends(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)
	now := time.Now().UTC()

	seedEvent(t, repo, "A", storage.SeverityLow, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "B", storage.SeverityLow, "203.0.113.7", false, now.Add(-time.Hour))
	seedEvent(t, repo, "C", storage.SeverityLow, "203.0.113.7", false, now.Add(-26*time.Hour))

	trends, err := svc.AnalyzeTrends(ctx, 7)
	require.NoError(t, err)
	require.Len(t, trends.DailyEventCounts, 2)
	require.InDelta(t, 1.5, trends.AverageEventsPerDay, 0.01)
	require.Equal(t, 2, trends.PeakDay.Count)
}
