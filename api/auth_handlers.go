package api

import (
	"net/http"
	"strings"

	"github.com/patrickcsouzadev/todo-app/auth"
)

// minPasswordLen is the registration floor. bcrypt truncates at 72 bytes,
// so there is an upper bound too.
const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

func validPassword(password string) (string, bool) {
	if len(password) < minPasswordLen {
		return "password must be at least 8 characters", false
	}
	if len(password) > maxPasswordLen {
		return "password must be at most 72 characters", false
	}
	return "", true
}

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if msg, ok := validPassword(req.Password); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := a.auth.Register(r.Context(), email, req.Password, a.requestInfo(r))
	if err != nil {
		a.mapError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		UserID:  user.ID,
		Email:   user.Email,
		Message: "confirmation email sent",
	})
}

// Login handles POST /auth/login. The session cookie is set whenever the
// password check passes; MFARequired in the response tells the client to
// prompt for a second factor, which the verify endpoint authenticates
// with that same cookie.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := a.auth.Login(r.Context(), req.Email, req.Password, a.requestInfo(r))
	if err != nil {
		a.mapError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, LoginResponse{
		UserID:      result.User.ID,
		Email:       result.User.Email,
		MFARequired: result.MFARequired,
	})
}

// Logout handles POST /auth/logout. It always clears the cookie; the
// audit entry is written only when the session still resolves to a user.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := auth.SessionFromRequest(r); ok {
		if user, err := a.auth.CurrentUser(r.Context(), raw); err == nil {
			a.auth.Logout(r.Context(), user.ID, a.requestInfo(r))
		}
	}
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// ConfirmEmail handles GET /auth/confirm?token=...
func (a *API) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("token")
	if rawToken == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if _, err := a.auth.ConfirmEmail(r.Context(), rawToken, a.requestInfo(r)); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "email confirmed"})
}

// RequestPasswordReset handles POST /auth/request-reset. The response is
// identical whether or not the address has an account.
func (a *API) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RequestResetRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := a.auth.RequestPasswordReset(r.Context(), req.Email, a.requestInfo(r)); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "if the address has an account, a reset email was sent",
	})
}

// ResetPassword handles POST /auth/reset.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ResetPasswordRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if msg, ok := validPassword(req.Password); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := a.auth.ResetPassword(r.Context(), req.Token, req.Password, a.requestInfo(r)); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// Me handles GET /auth/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{
		UserID:     user.ID,
		Email:      user.Email,
		Confirmed:  user.IsConfirmed,
		MFAEnabled: user.MFAEnabled,
	})
}

// SetupMFA handles POST /auth/mfa/setup. The secret and backup codes are
// shown exactly once, in this response.
func (a *API) SetupMFA(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	setup, err := a.auth.SetupMFA(r.Context(), user.ID, a.requestInfo(r))
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetupMFAResponse{
		Secret:      setup.Secret,
		QRCodeURL:   setup.ProvisioningURI,
		BackupCodes: setup.BackupCodes,
	})
}

// VerifyMFA handles POST /auth/mfa/verify. Success rotates the session
// cookie so it reflects the MFA-verified login.
func (a *API) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	req, ok := decodeJSON[VerifyMFARequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := a.auth.VerifyMFA(r.Context(), user.ID, req.Code, a.requestInfo(r))
	if err != nil {
		a.mapError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, VerifyMFAResponse{
		MFAEnabled:     true,
		UsedBackupCode: result.UsedBackupCode,
	})
}

// DisableMFA handles POST /auth/mfa/disable.
func (a *API) DisableMFA(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	req, ok := decodeJSON[DisableMFARequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Code == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "code and password are required")
		return
	}

	if err := a.auth.DisableMFA(r.Context(), user.ID, req.Code, req.Password, a.requestInfo(r)); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "MFA disabled"})
}
