package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist. Callers on
// security-sensitive paths fold it into an authentication failure rather
// than exposing which lookup missed.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a uniqueness constraint (user email,
// signing-key ID, token value) is violated.
var ErrDuplicate = errors.New("record already exists")

// LoginAttemptFilter narrows login-attempt counts. Zero values mean
// "don't filter on this field".
type LoginAttemptFilter struct {
	Email   string
	IP      string
	Success *bool
	Since   time.Time
}

// AuditLogFilter narrows audit-log queries. MetadataEmail matches entries
// whose metadata carries the given email (used by the reset-abuse detector,
// which counts reset requests that may predate any user record).
type AuditLogFilter struct {
	UserID        string
	Action        AuditAction
	ResourceType  ResourceType
	MetadataEmail string
	Since         time.Time
}

// SecurityEventFilter narrows security-event queries.
type SecurityEventFilter struct {
	EventType string
	Severity  Severity
	SourceIP  string
	Resolved  *bool
	Since     time.Time
}

// IPCount is a per-source-IP event tally.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// EventTypeCount is a per-event-type tally.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// Repository is the persistence surface of the security core. All methods
// are safe for concurrent use. DeleteOneTimeToken is the serialization point
// for one-time token consumption: it reports whether this caller deleted the
// row, so exactly one of two racing consumers observes true.
type Repository interface {
	// Signing keys.
	CreateSigningKey(ctx context.Context, key *SigningKey) error
	SigningKeyByID(ctx context.Context, keyID string) (*SigningKey, error)
	CurrentSigningKey(ctx context.Context, now time.Time) (*SigningKey, error)
	ListSigningKeys(ctx context.Context) ([]*SigningKey, error)
	DeactivateSigningKeys(ctx context.Context) (int, error)
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int, error)

	// One-time tokens.
	CreateOneTimeToken(ctx context.Context, token *OneTimeToken) error
	DeleteOneTimeTokensForUser(ctx context.Context, userID string, typ TokenType) (int, error)
	OneTimeTokenByValue(ctx context.Context, token string, typ TokenType, now time.Time) (*OneTimeToken, error)
	DeleteOneTimeToken(ctx context.Context, id string) (bool, error)
	DeleteExpiredOneTimeTokens(ctx context.Context, now time.Time) (int, error)

	// Users.
	CreateUser(ctx context.Context, user *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error

	// Login attempts (append-only).
	CreateLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
	CountLoginAttempts(ctx context.Context, filter LoginAttemptFilter) (int, error)
	DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Audit log (append-only).
	CreateAuditLog(ctx context.Context, entry *AuditLogEntry) error
	CountAuditLogs(ctx context.Context, filter AuditLogFilter) (int, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter, limit, offset int) ([]*AuditLogEntry, error)
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Security events.
	CreateSecurityEvent(ctx context.Context, event *SecurityEvent) error
	CountSecurityEvents(ctx context.Context, filter SecurityEventFilter) (int, error)
	ListSecurityEvents(ctx context.Context, filter SecurityEventFilter, limit, offset int) ([]*SecurityEvent, error)
	TopSourceIPs(ctx context.Context, since time.Time, limit int) ([]IPCount, error)
	TopEventTypes(ctx context.Context, since time.Time, limit int) ([]EventTypeCount, error)
	ResolveSecurityEvents(ctx context.Context, ids []string) (int, error)
	DeleteResolvedSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Rate data.
	CreateRateLimitEntry(ctx context.Context, entry *RateLimitEntry) error
	CountRateLimitEntries(ctx context.Context, key, endpoint string, since time.Time) (int, error)
	DeleteRateLimitEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)
}
