package mfa

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSetup(t *testing.T) {
	setup, err := NewSetup("alice@example.com")
	require.NoError(t, err)

	require.NotEmpty(t, setup.Secret)
	require.Len(t, setup.BackupCodes, backupCodeCount)
	for _, code := range setup.BackupCodes {
		require.Regexp(t, `^[A-F0-9]{8}$`, code)
	}

	require.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
	require.Contains(t, setup.ProvisioningURI, "alice%40example.com")
	require.Contains(t, setup.ProvisioningURI, "secret="+setup.Secret)
	require.Contains(t, setup.ProvisioningURI, "issuer=Todo+App")
}

func TestVerifyTOTP(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Now()

	code, err := totpCodeAt(secret, now)
	require.NoError(t, err)

	result := Verify(secret, code, nil, now)
	require.True(t, result.Valid)
	require.False(t, result.UsedBackupCode)
	require.Nil(t, result.UpdatedBackupCodes)
}

func TestVerifyTOTPWindow(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Now()

	tests := []struct {
		name  string
		skew  time.Duration
		valid bool
	}{
		{"two periods behind", -2 * totpPeriod * time.Second, true},
		{"two periods ahead", 2 * totpPeriod * time.Second, true},
		{"three periods behind", -3 * totpPeriod * time.Second, false},
		{"three periods ahead", 3 * totpPeriod * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := totpCodeAt(secret, now.Add(tt.skew))
			require.NoError(t, err)
			// Codes can coincide across periods; only assert the negative
			// case when they differ from the current code.
			current, err := totpCodeAt(secret, now)
			require.NoError(t, err)
			if !tt.valid && code == current {
				t.Skip("adjacent period produced an identical code")
			}
			require.Equal(t, tt.valid, Verify(secret, code, nil, now).Valid)
		})
	}
}

func TestVerifyBackupCode(t *testing.T) {
	codes, err := GenerateBackupCodes()
	require.NoError(t, err)
	secret, err := GenerateSecret()
	require.NoError(t, err)

	result := Verify(secret, codes[3], codes, time.Now())
	require.True(t, result.Valid)
	require.True(t, result.UsedBackupCode)
	require.Len(t, result.UpdatedBackupCodes, backupCodeCount-1)
	require.NotContains(t, result.UpdatedBackupCodes, codes[3])

	// A consumed code fails against the updated set.
	again := Verify(secret, codes[3], result.UpdatedBackupCodes, time.Now())
	require.False(t, again.Valid)
}

func TestVerifyBackupCodeNormalization(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	codes := []string{"A1B2C3D4"}

	for _, input := range []string{"a1b2c3d4", "A1B2 C3D4", " a1 b2 c3 d4 "} {
		result := Verify(secret, input, codes, time.Now())
		require.True(t, result.Valid, "input %q", input)
		require.True(t, result.UsedBackupCode)
	}
}

func TestVerifyShapeDispatch(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	// A six-digit code never reaches the backup-code path even when the
	// set contains it.
	codes := []string{"12345678"}
	result := Verify(secret, "123456", codes, time.Now())
	require.False(t, result.Valid)
	require.False(t, result.UsedBackupCode)

	// Garbage matches neither shape.
	for _, input := range []string{"", "12345", "1234567", "GHIJKLMN", "zzzzzzzz"} {
		require.False(t, Verify(secret, input, codes, time.Now()).Valid, "input %q", input)
	}
}

func TestValidFormat(t *testing.T) {
	require.True(t, ValidFormat("123456"))
	require.True(t, ValidFormat("A1B2C3D4"))
	require.True(t, ValidFormat("a1b2 c3d4"))
	require.False(t, ValidFormat("12345"))
	require.False(t, ValidFormat("GHIJKLMN"))
	require.False(t, ValidFormat(""))
}
