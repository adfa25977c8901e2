// Package email delivers outbound authentication mail and security
// notifications.
package email

import (
	"context"
	"log/slog"
	"strings"

	"github.com/patrickcsouzadev/todo-app/siem"
	"github.com/patrickcsouzadev/todo-app/storage"
)

// Sender delivers the account-lifecycle mail. Raw tokens travel only
// through this interface; they are never persisted in clear.
type Sender interface {
	SendConfirmation(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// LogSender writes mail and security notifications to the structured log
// instead of a mail relay. It is the development and test delivery path,
// and also serves as the SIEM notifier.
type LogSender struct {
	log     *slog.Logger
	baseURL string
}

var (
	_ Sender        = (*LogSender)(nil)
	_ siem.Notifier = (*LogSender)(nil)
)

// NewLogSender returns a LogSender that renders links against baseURL. A
// nil logger falls back to slog.Default().
func NewLogSender(logger *slog.Logger, baseURL string) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{log: logger, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *LogSender) SendConfirmation(_ context.Context, to, token string) error {
	s.log.Info("confirmation email",
		"to", to,
		"link", s.baseURL+"/api/auth/confirm?token="+token)
	return nil
}

func (s *LogSender) SendPasswordReset(_ context.Context, to, token string) error {
	s.log.Info("password reset email",
		"to", to,
		"link", s.baseURL+"/auth/reset?token="+token)
	return nil
}

func (s *LogSender) SendSecurityAlert(_ context.Context, ruleName string, severity storage.Severity, sourceIPs []string, eventCount int) error {
	s.log.Warn("security alert email",
		"rule", ruleName,
		"severity", severity,
		"source_ips", strings.Join(sourceIPs, ", "),
		"event_count", eventCount)
	return nil
}

func (s *LogSender) BlockIPs(_ context.Context, ips []string) error {
	s.log.Warn("blocking source IPs", "ips", strings.Join(ips, ", "))
	return nil
}
