// Package storage defines the record types and the repository interface the
// security core persists through. Implementations live in the memory, bbolt
// and postgres subpackages.
package storage

import "time"

// Severity ranks security events.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns an ordering value for severity comparison (CRITICAL highest).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// TokenType distinguishes the two one-time token flows.
type TokenType string

const (
	TokenTypeConfirm TokenType = "confirm"
	TokenTypeReset   TokenType = "reset"
)

// AuditAction is the closed taxonomy of user-attributable actions.
type AuditAction string

const (
	ActionUserLogin         AuditAction = "USER_LOGIN"
	ActionUserLogout        AuditAction = "USER_LOGOUT"
	ActionUserRegister      AuditAction = "USER_REGISTER"
	ActionUserConfirmEmail  AuditAction = "USER_CONFIRM_EMAIL"
	ActionUserRequestReset  AuditAction = "USER_REQUEST_RESET"
	ActionUserResetPassword AuditAction = "USER_RESET_PASSWORD"
	ActionUserEnableMFA     AuditAction = "USER_ENABLE_MFA"
	ActionUserDisableMFA    AuditAction = "USER_DISABLE_MFA"
	ActionUserVerifyMFA     AuditAction = "USER_VERIFY_MFA"
	ActionUserSetupMFA      AuditAction = "USER_SETUP_MFA"
	ActionTodoCreate        AuditAction = "TODO_CREATE"
	ActionTodoUpdate        AuditAction = "TODO_UPDATE"
	ActionTodoDelete        AuditAction = "TODO_DELETE"
	ActionTodoComplete      AuditAction = "TODO_COMPLETE"
	ActionNameCreate        AuditAction = "NAME_CREATE"
	ActionNameUpdate        AuditAction = "NAME_UPDATE"
	ActionNameDelete        AuditAction = "NAME_DELETE"
	ActionPasswordChange    AuditAction = "PASSWORD_CHANGE"
	ActionSuspicious        AuditAction = "SUSPICIOUS_ACTIVITY"
	ActionRateLimited       AuditAction = "RATE_LIMIT_EXCEEDED"
	ActionInvalidToken      AuditAction = "INVALID_TOKEN"
	ActionUnauthorized      AuditAction = "UNAUTHORIZED_ACCESS"
)

// ResourceType classifies the resource an audit entry refers to.
type ResourceType string

const (
	ResourceUser    ResourceType = "USER"
	ResourceTodo    ResourceType = "TODO"
	ResourceName    ResourceType = "NAME"
	ResourceToken   ResourceType = "TOKEN"
	ResourceSession ResourceType = "SESSION"
)

// Metadata carries free-form structured context on log records.
type Metadata map[string]any

// SigningKey is a session-token signing key with rotation metadata. The
// secret is the hex encoding of at least 64 random bytes. Exactly one key
// should be active for issuance at a time; retired keys stay valid for
// verification until they expire.
type SigningKey struct {
	KeyID     string    `json:"key_id"`
	Secret    string    `json:"secret"`
	Algorithm string    `json:"algorithm"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether the key may sign new tokens at the given instant.
func (k *SigningKey) Usable(now time.Time) bool {
	return k.IsActive && now.Before(k.ExpiresAt)
}

// Expired reports whether the key has passed its hard expiry.
func (k *SigningKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// OneTimeToken is a single-use confirmation or reset token. At most one
// token per (user, type) is live: creating a new one removes the previous.
type OneTimeToken struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// User carries the security-relevant account fields. Backup codes are stored
// as plaintext strings, matching the system this core replaces; each code is
// removed from the set when used.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	IsConfirmed  bool      `json:"is_confirmed"`
	MFAEnabled   bool      `json:"mfa_enabled"`
	TOTPSecret   string    `json:"totp_secret,omitempty"`
	BackupCodes  []string  `json:"backup_codes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginAttempt is an append-only record of one login attempt.
type LoginAttempt struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	IP            string    `json:"ip"`
	UserAgent     string    `json:"user_agent,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditLogEntry is an append-only record of a user-attributable action.
type AuditLogEntry struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Action       AuditAction  `json:"action"`
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	IP           string       `json:"ip"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Metadata     Metadata     `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SecurityEvent is a security-relevant signal. Only the Resolved flag is
// ever mutated after creation.
type SecurityEvent struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	SourceIP    string    `json:"source_ip"`
	UserAgent   string    `json:"user_agent,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// RateLimitEntry records one request against an (ip, endpoint) pair. The
// anomaly detector counts these over a one-minute window; an upstream
// gate does the actual limiting.
type RateLimitEntry struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}
