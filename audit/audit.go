// Package audit records user-attributable actions and security-relevant
// signals.
//
// Write paths never return errors to the caller: a broken log pipe must not
// block authentication, so persistence failures are reported on the slog
// fallback channel and otherwise swallowed.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickcsouzadev/todo-app/storage"
)

const (
	defaultLogLimit   = 50
	defaultEventLimit = 100
	defaultStatsHours = 24
	defaultKeepDays   = 90
)

// RequestInfo carries the client attribution attached to every record.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// Logger writes the audit and security-event streams.
type Logger struct {
	repo storage.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewLogger returns an audit logger over repo. A nil logger falls back to
// slog.Default().
func NewLogger(repo storage.Repository, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, log: logger, now: time.Now}
}

// Action appends a user-attributable audit record. Persistence failures are
// swallowed.
func (l *Logger) Action(ctx context.Context, entry *storage.AuditLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if err := l.repo.CreateAuditLog(ctx, entry); err != nil {
		l.log.Error("failed to write audit log",
			"action", entry.Action, "user_id", entry.UserID, "error", err)
	}
}

// Event appends a security event. Persistence failures are swallowed.
func (l *Logger) Event(ctx context.Context, event *storage.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if err := l.repo.CreateSecurityEvent(ctx, event); err != nil {
		l.log.Error("failed to write security event",
			"event_type", event.EventType, "severity", event.Severity, "error", err)
	}
}

// UserAction records an action a user performed on a resource.
func (l *Logger) UserAction(ctx context.Context, userID string, action storage.AuditAction, resourceType storage.ResourceType, resourceID string, info RequestInfo, meta storage.Metadata) {
	l.Action(ctx, &storage.AuditLogEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Metadata:     meta,
	})
}

// LoginAttempt records a login attempt. A success with a known user also
// produces a USER_LOGIN audit record; a failure produces a MEDIUM
// FAILED_LOGIN_ATTEMPT security event.
func (l *Logger) LoginAttempt(ctx context.Context, email string, success bool, info RequestInfo, userID, failureReason string) {
	err := l.repo.CreateLoginAttempt(ctx, &storage.LoginAttempt{
		Email:         email,
		IP:            info.IP,
		UserAgent:     info.UserAgent,
		UserID:        userID,
		Success:       success,
		FailureReason: failureReason,
	})
	if err != nil {
		l.log.Error("failed to write login attempt", "email", email, "error", err)
	}

	if success && userID != "" {
		l.UserAction(ctx, userID, storage.ActionUserLogin, "", "", info,
			storage.Metadata{"email": email})
	}
	if !success {
		l.Event(ctx, &storage.SecurityEvent{
			EventType:   "FAILED_LOGIN_ATTEMPT",
			Severity:    storage.SeverityMedium,
			Description: fmt.Sprintf("Failed login attempt for email: %s", email),
			SourceIP:    info.IP,
			UserAgent:   info.UserAgent,
			UserID:      userID,
			Metadata:    storage.Metadata{"email": email, "failureReason": failureReason},
		})
	}
}

// SuspiciousActivity records a SUSPICIOUS_ACTIVITY event at the given
// severity.
func (l *Logger) SuspiciousActivity(ctx context.Context, description string, severity storage.Severity, info RequestInfo, userID string, meta storage.Metadata) {
	l.Event(ctx, &storage.SecurityEvent{
		EventType:   "SUSPICIOUS_ACTIVITY",
		Severity:    severity,
		Description: description,
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		UserID:      userID,
		Metadata:    meta,
	})
}

// RateLimitViolation records a MEDIUM RATE_LIMIT_EXCEEDED event.
func (l *Logger) RateLimitViolation(ctx context.Context, endpoint string, info RequestInfo, userID string, meta storage.Metadata) {
	merged := storage.Metadata{"endpoint": endpoint}
	for k, v := range meta {
		merged[k] = v
	}
	l.Event(ctx, &storage.SecurityEvent{
		EventType:   "RATE_LIMIT_EXCEEDED",
		Severity:    storage.SeverityMedium,
		Description: fmt.Sprintf("Rate limit exceeded for endpoint: %s", endpoint),
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		UserID:      userID,
		Metadata:    merged,
	})
}

// UnauthorizedAccess records a HIGH UNAUTHORIZED_ACCESS event.
func (l *Logger) UnauthorizedAccess(ctx context.Context, resourceType, resourceID string, info RequestInfo, userID string, meta storage.Metadata) {
	merged := storage.Metadata{"resourceType": resourceType, "resourceId": resourceID}
	for k, v := range meta {
		merged[k] = v
	}
	l.Event(ctx, &storage.SecurityEvent{
		EventType:   "UNAUTHORIZED_ACCESS",
		Severity:    storage.SeverityHigh,
		Description: fmt.Sprintf("Unauthorized access attempt to %s: %s", resourceType, resourceID),
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		UserID:      userID,
		Metadata:    merged,
	})
}

// InvalidToken records a MEDIUM INVALID_TOKEN event.
func (l *Logger) InvalidToken(ctx context.Context, tokenType string, info RequestInfo, userID string, meta storage.Metadata) {
	merged := storage.Metadata{"tokenType": tokenType}
	for k, v := range meta {
		merged[k] = v
	}
	l.Event(ctx, &storage.SecurityEvent{
		EventType:   "INVALID_TOKEN",
		Severity:    storage.SeverityMedium,
		Description: fmt.Sprintf("Invalid %s token used", tokenType),
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		UserID:      userID,
		Metadata:    merged,
	})
}

// UserAuditLogs returns a user's audit records, newest first.
func (l *Logger) UserAuditLogs(ctx context.Context, userID string, limit, offset int) ([]*storage.AuditLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return l.repo.ListAuditLogs(ctx, storage.AuditLogFilter{UserID: userID}, limit, offset)
}

// RecentSecurityEvents returns recent events, optionally filtered by
// severity.
func (l *Logger) RecentSecurityEvents(ctx context.Context, severity storage.Severity, limit int) ([]*storage.SecurityEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	return l.repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{Severity: severity}, limit, 0)
}

// LoginAttemptStats summarizes login attempts over the window.
type LoginAttemptStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// LoginAttempts counts attempts for an optional email and IP over the past
// hours (default 24).
func (l *Logger) LoginAttempts(ctx context.Context, email, ip string, hours int) (*LoginAttemptStats, error) {
	if hours <= 0 {
		hours = defaultStatsHours
	}
	since := l.now().UTC().Add(-time.Duration(hours) * time.Hour)
	base := storage.LoginAttemptFilter{Email: email, IP: ip, Since: since}

	total, err := l.repo.CountLoginAttempts(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("counting login attempts: %w", err)
	}
	success := true
	base.Success = &success
	successful, err := l.repo.CountLoginAttempts(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("counting successful login attempts: %w", err)
	}
	return &LoginAttemptStats{
		Total:      total,
		Successful: successful,
		Failed:     total - successful,
	}, nil
}

// CleanupReport summarizes a retention run.
type CleanupReport struct {
	AuditLogsDeleted      int `json:"auditLogsDeleted"`
	SecurityEventsDeleted int `json:"securityEventsDeleted"`
	LoginAttemptsDeleted  int `json:"loginAttemptsDeleted"`
}

// CleanupOldLogs deletes audit records and login attempts older than
// daysToKeep (default 90). Security events past the cutoff are removed only
// when already resolved; an open security issue is never lost to retention.
func (l *Logger) CleanupOldLogs(ctx context.Context, daysToKeep int) (*CleanupReport, error) {
	if daysToKeep <= 0 {
		daysToKeep = defaultKeepDays
	}
	cutoff := l.now().UTC().Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	auditDeleted, err := l.repo.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting old audit logs: %w", err)
	}
	eventsDeleted, err := l.repo.DeleteResolvedSecurityEventsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting old security events: %w", err)
	}
	attemptsDeleted, err := l.repo.DeleteLoginAttemptsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting old login attempts: %w", err)
	}
	return &CleanupReport{
		AuditLogsDeleted:      auditDeleted,
		SecurityEventsDeleted: eventsDeleted,
		LoginAttemptsDeleted:  attemptsDeleted,
	}, nil
}
