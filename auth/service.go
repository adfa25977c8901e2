package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickcsouzadev/todo-app/anomaly"
	"github.com/patrickcsouzadev/todo-app/audit"
	"github.com/patrickcsouzadev/todo-app/email"
	"github.com/patrickcsouzadev/todo-app/mfa"
	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/token"
)

var (
	// ErrEmailTaken rejects registration with an address that already has
	// an account.
	ErrEmailTaken = errors.New("auth: email already registered")

	// ErrInvalidCredentials covers unknown email and wrong password
	// uniformly; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrEmailNotConfirmed blocks login until the confirmation link was
	// used.
	ErrEmailNotConfirmed = errors.New("auth: email not confirmed")

	ErrMFAAlreadyEnabled = errors.New("auth: MFA already enabled")
	ErrMFANotConfigured  = errors.New("auth: MFA not configured")
	ErrMFANotEnabled     = errors.New("auth: MFA not enabled")
	ErrInvalidMFACode    = errors.New("auth: invalid MFA code")
)

// Service composes the credential, token, MFA, audit, and anomaly layers
// into the account flows.
type Service struct {
	repo     storage.Repository
	tokens   *token.Service
	audit    *audit.Logger
	detector *anomaly.Detector
	mail     email.Sender
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the authentication flows. A nil logger falls back to
// slog.Default().
func NewService(repo storage.Repository, tokens *token.Service, auditLog *audit.Logger, detector *anomaly.Detector, mail email.Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		audit:    auditLog,
		detector: detector,
		mail:     mail,
		log:      logger,
		now:      time.Now,
	}
}

// Register creates an unconfirmed account and mails a confirmation link.
// If the mail cannot be sent the account is rolled back so the address can
// retry cleanly.
func (s *Service) Register(ctx context.Context, emailAddr, password string, info audit.RequestInfo) (*storage.User, error) {
	if _, err := s.repo.UserByEmail(ctx, emailAddr); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("looking up email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &storage.User{Email: emailAddr, PasswordHash: hash}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	confirm, err := s.tokens.IssueOneTime(ctx, user.ID, storage.TokenTypeConfirm)
	if err != nil {
		return nil, err
	}
	if err := s.mail.SendConfirmation(ctx, user.Email, confirm); err != nil {
		if delErr := s.repo.DeleteUser(ctx, user.ID); delErr != nil {
			s.log.Error("failed to roll back user after mail failure",
				"user_id", user.ID, "error", delErr)
		}
		return nil, fmt.Errorf("sending confirmation email: %w", err)
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserRegister, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email})
	return user, nil
}

// ConfirmEmail consumes a confirmation token and marks the account
// confirmed. Confirming an already confirmed account is a no-op, which
// keeps the consumption race between two concurrent requests benign.
func (s *Service) ConfirmEmail(ctx context.Context, rawToken string, info audit.RequestInfo) (*storage.User, error) {
	user, err := s.tokens.ConsumeOneTime(ctx, rawToken, storage.TokenTypeConfirm)
	if err != nil {
		return nil, err
	}

	if !user.IsConfirmed {
		user.IsConfirmed = true
		if err := s.repo.UpdateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("confirming user: %w", err)
		}
		s.audit.UserAction(ctx, user.ID, storage.ActionUserConfirmEmail, storage.ResourceUser, user.ID,
			info, storage.Metadata{"email": user.Email})
	}
	return user, nil
}

// LoginResult is the outcome of a successful password check. A session
// token is always issued; MFARequired tells the caller a second factor is
// still outstanding and VerifyMFA must complete before the login counts.
type LoginResult struct {
	User        *storage.User
	Token       string
	MFARequired bool
}

// Login verifies credentials and issues a session. The password is always
// compared against some hash, a precomputed dummy when the account does
// not exist, so unknown email and wrong password are indistinguishable in
// both response and timing. The confirmation check runs only after the
// password check.
func (s *Service) Login(ctx context.Context, emailAddr, password string, info audit.RequestInfo) (*LoginResult, error) {
	user, err := s.repo.UserByEmail(ctx, emailAddr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash := dummyHash()
	if user != nil {
		hash = user.PasswordHash
	}
	valid := ComparePassword(password, hash)

	if user == nil || !valid {
		s.audit.LoginAttempt(ctx, emailAddr, false, info, "", "invalid credentials")
		s.runLoginAnomalies(ctx, emailAddr, info, "", false)
		return nil, ErrInvalidCredentials
	}

	if !user.IsConfirmed {
		s.audit.LoginAttempt(ctx, emailAddr, false, info, user.ID, "email not confirmed")
		s.runLoginAnomalies(ctx, emailAddr, info, "", false)
		return nil, ErrEmailNotConfirmed
	}

	s.audit.LoginAttempt(ctx, emailAddr, true, info, user.ID, "")
	s.runLoginAnomalies(ctx, emailAddr, info, user.ID, true)

	// The session is issued even when a second factor is outstanding;
	// VerifyMFA authenticates with it and rotates it on success.
	session, err := s.tokens.IssueSession(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: session, MFARequired: user.MFAEnabled}, nil
}

// runLoginAnomalies feeds the login into the detector and records every
// positive result as a security event. Detector failures are logged, not
// surfaced; a broken detector must not block login.
func (s *Service) runLoginAnomalies(ctx context.Context, emailAddr string, info audit.RequestInfo, userID string, success bool) {
	results, err := s.detector.RunLogin(ctx, emailAddr, info.IP, info.UserAgent, userID, success)
	if err != nil {
		s.log.Error("login anomaly detection failed", "email", emailAddr, "error", err)
		return
	}
	for _, r := range results {
		s.audit.Event(ctx, &storage.SecurityEvent{
			EventType:   "LOGIN_ANOMALY_DETECTED",
			Severity:    r.Severity,
			Description: r.Description,
			SourceIP:    info.IP,
			UserAgent:   info.UserAgent,
			UserID:      userID,
			Metadata:    r.Metadata,
		})
	}
}

// RequestPasswordReset issues a reset token and mails the link. An unknown
// address returns success without sending anything, so the endpoint cannot
// be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string, info audit.RequestInfo) error {
	user, err := s.repo.UserByEmail(ctx, emailAddr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	reset, err := s.tokens.IssueOneTime(ctx, user.ID, storage.TokenTypeReset)
	if err != nil {
		return err
	}
	if err := s.mail.SendPasswordReset(ctx, user.Email, reset); err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserRequestReset, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email})

	if result, err := s.detector.PasswordResetAbuse(ctx, user.Email, info.IP); err != nil {
		s.log.Error("reset abuse detection failed", "email", user.Email, "error", err)
	} else if result.IsAnomaly {
		s.audit.Event(ctx, &storage.SecurityEvent{
			EventType:   "PASSWORD_RESET_ABUSE",
			Severity:    result.Severity,
			Description: result.Description,
			SourceIP:    info.IP,
			UserAgent:   info.UserAgent,
			UserID:      user.ID,
			Metadata:    result.Metadata,
		})
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the password. Any
// remaining reset tokens for the user are invalidated.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string, info audit.RequestInfo) error {
	user, err := s.tokens.ConsumeOneTime(ctx, rawToken, storage.TokenTypeReset)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user.PasswordHash = hash
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if _, err := s.repo.DeleteOneTimeTokensForUser(ctx, user.ID, storage.TokenTypeReset); err != nil {
		s.log.Error("failed to invalidate remaining reset tokens", "user_id", user.ID, "error", err)
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserResetPassword, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email})
	return nil
}

// SetupMFA generates and stores a TOTP secret and backup codes. MFA is not
// enabled until the first successful VerifyMFA.
func (s *Service) SetupMFA(ctx context.Context, userID string, info audit.RequestInfo) (*mfa.Setup, error) {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	setup, err := mfa.NewSetup(user.Email)
	if err != nil {
		return nil, fmt.Errorf("generating MFA setup: %w", err)
	}
	user.TOTPSecret = setup.Secret
	user.BackupCodes = setup.BackupCodes
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("storing MFA setup: %w", err)
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserSetupMFA, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email})
	return setup, nil
}

// MFAVerifyResult carries the fresh session token issued after a
// successful MFA check.
type MFAVerifyResult struct {
	Token          string
	UsedBackupCode bool
}

// VerifyMFA checks a TOTP or backup code. The first success flips
// MFAEnabled; a consumed backup code is removed from the stored set; and a
// new session token is issued so the cookie reflects the privilege change.
func (s *Service) VerifyMFA(ctx context.Context, userID, code string, info audit.RequestInfo) (*MFAVerifyResult, error) {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPSecret == "" {
		return nil, ErrMFANotConfigured
	}

	result := mfa.Verify(user.TOTPSecret, code, user.BackupCodes, s.now())
	s.recordMFAAnomaly(ctx, user.ID, info, result.Valid)

	codeType := "totp"
	if result.UsedBackupCode {
		codeType = "backup"
	}
	if !result.Valid {
		s.audit.UserAction(ctx, user.ID, storage.ActionUserVerifyMFA, storage.ResourceUser, user.ID,
			info, storage.Metadata{"email": user.Email, "success": false, "codeType": codeType})
		return nil, ErrInvalidMFACode
	}

	if result.UsedBackupCode {
		user.BackupCodes = result.UpdatedBackupCodes
	}
	user.MFAEnabled = true
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("updating user after MFA verification: %w", err)
	}

	session, err := s.tokens.IssueSession(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserVerifyMFA, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email, "success": true, "codeType": codeType, "mfaEnabled": true})
	return &MFAVerifyResult{Token: session, UsedBackupCode: result.UsedBackupCode}, nil
}

func (s *Service) recordMFAAnomaly(ctx context.Context, userID string, info audit.RequestInfo, success bool) {
	result, err := s.detector.MFAFailure(ctx, userID, info.IP, success)
	if err != nil {
		s.log.Error("MFA anomaly detection failed", "user_id", userID, "error", err)
		return
	}
	if !result.IsAnomaly {
		return
	}
	s.audit.Event(ctx, &storage.SecurityEvent{
		EventType:   "MFA_ANOMALY_DETECTED",
		Severity:    result.Severity,
		Description: result.Description,
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		UserID:      userID,
		Metadata:    result.Metadata,
	})
}

// DisableMFA clears the MFA state. It demands re-proof of both the
// password and a valid code, so a stolen session alone cannot strip the
// second factor.
func (s *Service) DisableMFA(ctx context.Context, userID, code, password string, info audit.RequestInfo) error {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	if !ComparePassword(password, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	result := mfa.Verify(user.TOTPSecret, code, user.BackupCodes, s.now())
	if !result.Valid {
		s.audit.UserAction(ctx, user.ID, storage.ActionUserDisableMFA, storage.ResourceUser, user.ID,
			info, storage.Metadata{"email": user.Email, "success": false, "reason": "Invalid MFA code"})
		return ErrInvalidMFACode
	}

	user.MFAEnabled = false
	user.TOTPSecret = ""
	user.BackupCodes = nil
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("disabling MFA: %w", err)
	}

	s.audit.UserAction(ctx, user.ID, storage.ActionUserDisableMFA, storage.ResourceUser, user.ID,
		info, storage.Metadata{"email": user.Email, "success": true})
	return nil
}

// CurrentUser resolves a raw session token to its user.
func (s *Service) CurrentUser(ctx context.Context, rawToken string) (*storage.User, error) {
	session, err := s.tokens.VerifySession(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.UserByID(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, token.ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session user: %w", err)
	}
	return user, nil
}

// Logout records the logout action. Cookie removal is the transport
// layer's job.
func (s *Service) Logout(ctx context.Context, userID string, info audit.RequestInfo) {
	s.audit.UserAction(ctx, userID, storage.ActionUserLogout, storage.ResourceSession, "", info, nil)
}
