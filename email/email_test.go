package email

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
)

func TestLogSenderRendersLinks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewLogSender(logger, "https://todo.example.com/")

	require.NoError(t, s.SendConfirmation(context.Background(), "a@example.com", "tok123"))
	require.Contains(t, buf.String(), "https://todo.example.com/api/auth/confirm?token=tok123")

	buf.Reset()
	require.NoError(t, s.SendPasswordReset(context.Background(), "a@example.com", "tok456"))
	require.Contains(t, buf.String(), "https://todo.example.com/auth/reset?token=tok456")
}

func TestLogSenderNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewLogSender(logger, "")

	err := s.SendSecurityAlert(context.Background(), "brute_force_attack", storage.SeverityHigh,
		[]string{"203.0.113.9"}, 4)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "brute_force_attack")

	require.NoError(t, s.BlockIPs(context.Background(), []string{"203.0.113.9"}))
	require.Contains(t, buf.String(), "203.0.113.9")
}
