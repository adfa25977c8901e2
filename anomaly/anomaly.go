// Package anomaly runs windowed pattern checks over login attempts, audit
// history, and rate data. Each detector is a pure function of recent
// history plus a threshold; emitting security events from positive results
// is the caller's job.
package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickcsouzadev/todo-app/storage"
)

// Config holds the detection thresholds.
type Config struct {
	MaxFailedLogins          int
	TimeWindowMinutes        int
	MaxRequestsPerMinute     int
	MaxLoginAttemptsPerIP    int
	MaxPasswordResetAttempts int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailedLogins:          5,
		TimeWindowMinutes:        15,
		MaxRequestsPerMinute:     60,
		MaxLoginAttemptsPerIP:    10,
		MaxPasswordResetAttempts: 3,
	}
}

// Result is a single detector verdict.
type Result struct {
	IsAnomaly   bool             `json:"isAnomaly"`
	Severity    storage.Severity `json:"severity"`
	Description string           `json:"description"`
	Metadata    storage.Metadata `json:"metadata"`
}

// Detector evaluates anomaly checks against stored history.
type Detector struct {
	repo storage.Repository
	cfg  Config
	now  func() time.Time
}

// NewDetector returns a detector with the given thresholds. A zero Config
// is replaced by DefaultConfig.
func NewDetector(repo storage.Repository, cfg Config) *Detector {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Detector{repo: repo, cfg: cfg, now: time.Now}
}

func normal(description string, meta storage.Metadata) Result {
	return Result{Severity: storage.SeverityLow, Description: description, Metadata: meta}
}

// BruteForceLogin flags an email with too many failed logins inside the
// window.
func (d *Detector) BruteForceLogin(ctx context.Context, email, ip string) (Result, error) {
	since := d.now().UTC().Add(-time.Duration(d.cfg.TimeWindowMinutes) * time.Minute)
	failed := false
	n, err := d.repo.CountLoginAttempts(ctx, storage.LoginAttemptFilter{
		Email: email, Success: &failed, Since: since,
	})
	if err != nil {
		return Result{}, fmt.Errorf("counting failed logins: %w", err)
	}

	if n >= d.cfg.MaxFailedLogins {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityHigh,
			Description: fmt.Sprintf("Multiple failed login attempts detected for email: %s", email),
			Metadata: storage.Metadata{
				"email": email, "ip": ip, "failedAttempts": n,
				"timeWindowMinutes": d.cfg.TimeWindowMinutes,
			},
		}, nil
	}
	return normal("No brute force detected",
		storage.Metadata{"email": email, "ip": ip, "failedAttempts": n}), nil
}

// IPBruteForce flags an IP with too many login attempts, successful or not,
// inside the window.
func (d *Detector) IPBruteForce(ctx context.Context, ip string) (Result, error) {
	since := d.now().UTC().Add(-time.Duration(d.cfg.TimeWindowMinutes) * time.Minute)
	n, err := d.repo.CountLoginAttempts(ctx, storage.LoginAttemptFilter{IP: ip, Since: since})
	if err != nil {
		return Result{}, fmt.Errorf("counting login attempts by IP: %w", err)
	}

	if n >= d.cfg.MaxLoginAttemptsPerIP {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityHigh,
			Description: fmt.Sprintf("Multiple login attempts from IP: %s", ip),
			Metadata: storage.Metadata{
				"ip": ip, "loginAttempts": n,
				"timeWindowMinutes": d.cfg.TimeWindowMinutes,
			},
		}, nil
	}
	return normal("No IP brute force detected",
		storage.Metadata{"ip": ip, "loginAttempts": n}), nil
}

// AccessPattern compares a successful login against the user's last ten
// logins in 24 hours. A new IP plus new user agent is MEDIUM; a new IP with
// a known user agent is LOW.
func (d *Detector) AccessPattern(ctx context.Context, userID, ip, userAgent string) (Result, error) {
	since := d.now().UTC().Add(-24 * time.Hour)
	recent, err := d.repo.ListAuditLogs(ctx, storage.AuditLogFilter{
		UserID: userID, Action: storage.ActionUserLogin, Since: since,
	}, 10, 0)
	if err != nil {
		return Result{}, fmt.Errorf("listing recent logins: %w", err)
	}

	knownIPs := make(map[string]bool)
	knownAgents := make(map[string]bool)
	for _, entry := range recent {
		knownIPs[entry.IP] = true
		if entry.UserAgent != "" {
			knownAgents[entry.UserAgent] = true
		}
	}

	newIP := !knownIPs[ip]
	newAgent := userAgent != "" && !knownAgents[userAgent]
	meta := storage.Metadata{
		"userId": userID, "ip": ip, "userAgent": userAgent,
		"isNewIP": newIP, "isNewUserAgent": newAgent,
		"recentLoginCount": len(recent),
	}

	switch {
	case newIP && newAgent:
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityMedium,
			Description: "Login from new IP and User-Agent combination",
			Metadata:    meta,
		}, nil
	case newIP:
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityLow,
			Description: "Login from new IP address",
			Metadata:    meta,
		}, nil
	}
	return normal("Normal access pattern",
		storage.Metadata{"userId": userID, "ip": ip, "userAgent": userAgent}), nil
}

// PasswordResetAbuse flags an email with too many reset requests in an
// hour.
func (d *Detector) PasswordResetAbuse(ctx context.Context, email, ip string) (Result, error) {
	since := d.now().UTC().Add(-time.Hour)
	n, err := d.repo.CountAuditLogs(ctx, storage.AuditLogFilter{
		Action: storage.ActionUserRequestReset, MetadataEmail: email, Since: since,
	})
	if err != nil {
		return Result{}, fmt.Errorf("counting reset requests: %w", err)
	}

	if n >= d.cfg.MaxPasswordResetAttempts {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityMedium,
			Description: fmt.Sprintf("Excessive password reset attempts for email: %s", email),
			Metadata: storage.Metadata{
				"email": email, "ip": ip, "resetAttempts": n, "timeWindowHours": 1,
			},
		}, nil
	}
	return normal("Normal password reset pattern",
		storage.Metadata{"email": email, "ip": ip, "resetAttempts": n}), nil
}

// MFAFailure flags a user with five or more MFA verifications in an hour
// when the current attempt failed.
func (d *Detector) MFAFailure(ctx context.Context, userID, ip string, success bool) (Result, error) {
	since := d.now().UTC().Add(-time.Hour)
	n, err := d.repo.CountAuditLogs(ctx, storage.AuditLogFilter{
		UserID: userID, Action: storage.ActionUserVerifyMFA, Since: since,
	})
	if err != nil {
		return Result{}, fmt.Errorf("counting MFA attempts: %w", err)
	}

	if !success && n >= 5 {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityHigh,
			Description: "Multiple failed MFA attempts",
			Metadata: storage.Metadata{
				"userId": userID, "ip": ip, "mfaAttempts": n, "success": success,
			},
		}, nil
	}
	return normal("Normal MFA activity",
		storage.Metadata{"userId": userID, "ip": ip, "mfaAttempts": n, "success": success}), nil
}

// RateLimit flags an (IP, endpoint) pair at or above the per-minute request
// ceiling.
func (d *Detector) RateLimit(ctx context.Context, ip, endpoint string) (Result, error) {
	since := d.now().UTC().Add(-time.Minute)
	n, err := d.repo.CountRateLimitEntries(ctx, ip, endpoint, since)
	if err != nil {
		return Result{}, fmt.Errorf("counting rate entries: %w", err)
	}

	if n >= d.cfg.MaxRequestsPerMinute {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityMedium,
			Description: fmt.Sprintf("Rate limit exceeded for IP: %s on endpoint: %s", ip, endpoint),
			Metadata: storage.Metadata{
				"ip": ip, "endpoint": endpoint, "requests": n,
				"maxAllowed": d.cfg.MaxRequestsPerMinute,
			},
		}, nil
	}
	return normal("Normal request rate",
		storage.Metadata{"ip": ip, "endpoint": endpoint, "requests": n}), nil
}

// PrivilegeEscalation flags a user with three or more recorded unauthorized
// accesses on a resource type within an hour.
func (d *Detector) PrivilegeEscalation(ctx context.Context, userID string, resourceType storage.ResourceType, resourceID, action string) (Result, error) {
	since := d.now().UTC().Add(-time.Hour)
	n, err := d.repo.CountAuditLogs(ctx, storage.AuditLogFilter{
		UserID: userID, Action: storage.ActionUnauthorized,
		ResourceType: resourceType, Since: since,
	})
	if err != nil {
		return Result{}, fmt.Errorf("counting unauthorized accesses: %w", err)
	}

	if n >= 3 {
		return Result{
			IsAnomaly:   true,
			Severity:    storage.SeverityCritical,
			Description: "Multiple unauthorized access attempts detected",
			Metadata: storage.Metadata{
				"userId": userID, "resourceType": resourceType, "resourceId": resourceID,
				"action": action, "unauthorizedAccessCount": n,
			},
		}, nil
	}
	return normal("No privilege escalation detected", storage.Metadata{
		"userId": userID, "resourceType": resourceType, "resourceId": resourceID, "action": action,
	}), nil
}

// RunLogin composes the login-time detectors and returns only the positive
// results. The access-pattern check runs only for a successful login with a
// known user.
func (d *Detector) RunLogin(ctx context.Context, email, ip, userAgent, userID string, success bool) ([]Result, error) {
	var anomalies []Result

	byEmail, err := d.BruteForceLogin(ctx, email, ip)
	if err != nil {
		return nil, err
	}
	if byEmail.IsAnomaly {
		anomalies = append(anomalies, byEmail)
	}

	byIP, err := d.IPBruteForce(ctx, ip)
	if err != nil {
		return nil, err
	}
	if byIP.IsAnomaly {
		anomalies = append(anomalies, byIP)
	}

	if success && userID != "" {
		pattern, err := d.AccessPattern(ctx, userID, ip, userAgent)
		if err != nil {
			return nil, err
		}
		if pattern.IsAnomaly {
			anomalies = append(anomalies, pattern)
		}
	}
	return anomalies, nil
}

// RunAction composes the action-time detectors and returns only the
// positive results.
func (d *Detector) RunAction(ctx context.Context, userID, action string, resourceType storage.ResourceType, resourceID string) ([]Result, error) {
	escalation, err := d.PrivilegeEscalation(ctx, userID, resourceType, resourceID, action)
	if err != nil {
		return nil, err
	}
	if !escalation.IsAnomaly {
		return nil, nil
	}
	return []Result{escalation}, nil
}

// RunRate composes the rate-time detectors and returns only the positive
// results.
func (d *Detector) RunRate(ctx context.Context, ip, endpoint string) ([]Result, error) {
	rate, err := d.RateLimit(ctx, ip, endpoint)
	if err != nil {
		return nil, err
	}
	if !rate.IsAnomaly {
		return nil, nil
	}
	return []Result{rate}, nil
}
