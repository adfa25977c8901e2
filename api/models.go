package api

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned from POST /auth/register.
type RegisterResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login. When MFARequired is
// true the session cookie was still set; the client must complete the
// second factor at /auth/mfa/verify before the login counts.
type LoginResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	MFARequired bool   `json:"mfa_required"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Confirmed  bool   `json:"confirmed"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

// RequestResetRequest is the JSON body for POST /auth/request-reset.
type RequestResetRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the JSON body for POST /auth/reset.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SetupMFAResponse is returned from POST /auth/mfa/setup.
type SetupMFAResponse struct {
	Secret      string   `json:"secret"`
	QRCodeURL   string   `json:"qrCodeUrl"`
	BackupCodes []string `json:"backupCodes"`
}

// VerifyMFARequest is the JSON body for POST /auth/mfa/verify.
type VerifyMFARequest struct {
	Code string `json:"code"`
}

// VerifyMFAResponse is returned from POST /auth/mfa/verify.
type VerifyMFAResponse struct {
	MFAEnabled     bool `json:"mfa_enabled"`
	UsedBackupCode bool `json:"used_backup_code"`
}

// DisableMFARequest is the JSON body for POST /auth/mfa/disable.
type DisableMFARequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

// MessageResponse is a generic confirmation body.
type MessageResponse struct {
	Message string `json:"message"`
}

// InitResponse is returned from POST /security/init.
type InitResponse struct {
	Created bool   `json:"created"`
	KeyID   string `json:"key_id"`
}

// SigningKeyInfo mirrors keystore.KeyInfo for the keys listing. Secrets
// never appear here.
type SigningKeyInfo struct {
	KeyID     string    `json:"keyId"`
	Algorithm string    `json:"algorithm"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListKeysResponse is returned from GET /security/keys.
type ListKeysResponse struct {
	Keys []SigningKeyInfo `json:"keys"`
}

// ResolveEventsRequest is the JSON body for POST /security/events/resolve.
type ResolveEventsRequest struct {
	EventIDs []string `json:"event_ids"`
}

// ResolveEventsResponse is returned from POST /security/events/resolve.
type ResolveEventsResponse struct {
	Resolved int `json:"resolved"`
}

// MonitorResponse is returned from POST /security/monitor.
type MonitorResponse struct {
	TotalEvents    int  `json:"totalEvents"`
	CriticalEvents int  `json:"criticalEvents"`
	HighEvents     int  `json:"highEvents"`
	CriticalAlert  bool `json:"criticalAlert"`
	HighAlert      bool `json:"highAlert"`
}

// DeployCompleteResponse is returned from POST /security/deploy.
type DeployCompleteResponse struct {
	Init    InitResponse    `json:"init"`
	Monitor MonitorResponse `json:"monitor"`
}
