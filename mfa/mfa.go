// Package mfa implements TOTP and backup-code multi-factor verification.
//
// Verification is a pure check: enabling MFA after the first successful
// code and persisting a shrunk backup-code set are the caller's job.
package mfa

import (
	"regexp"
	"strings"
	"time"

	"github.com/patrickcsouzadev/todo-app/internal/util"
)

const (
	backupCodeCount = 10
	backupCodeBytes = 4
)

var backupCodeShape = regexp.MustCompile(`^[A-F0-9]{8}$`)

// Setup holds everything a user needs to enrol an authenticator.
type Setup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"qrCodeUrl"`
	BackupCodes     []string `json:"backupCodes"`
}

// NewSetup generates a TOTP secret, its provisioning URI, and ten backup
// codes. Nothing is persisted and MFA is not yet enabled.
func NewSetup(accountLabel string) (*Setup, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	return &Setup{
		Secret:          secret,
		ProvisioningURI: ProvisioningURI(secret, accountLabel),
		BackupCodes:     codes,
	}, nil
}

// GenerateBackupCodes returns ten single-use codes of eight uppercase hex
// characters each.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := util.RandomHex(backupCodeBytes)
		if err != nil {
			return nil, err
		}
		codes = append(codes, strings.ToUpper(code))
	}
	return codes, nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(code, " ", ""))
}

// ValidFormat reports whether code has the shape of a TOTP code (six
// digits) or a backup code (eight hex characters, spaces ignored).
func ValidFormat(code string) bool {
	if isTOTPShape(code) {
		return true
	}
	return backupCodeShape.MatchString(normalizeBackupCode(code))
}

// Result is the outcome of a Verify call. UpdatedBackupCodes is set only
// when a backup code was consumed; the caller must persist it so the code
// cannot be replayed.
type Result struct {
	Valid              bool
	UsedBackupCode     bool
	UpdatedBackupCodes []string
}

// Verify checks a code against the secret or the backup-code set. The code
// shape picks exactly one path: six digits verify as TOTP, eight hex
// characters as backup-code membership. A code matching neither shape is
// invalid without touching either path.
func Verify(secret, code string, backupCodes []string, now time.Time) Result {
	if isTOTPShape(code) {
		return Result{Valid: verifyTOTP(secret, code, now)}
	}

	normalized := normalizeBackupCode(code)
	if !backupCodeShape.MatchString(normalized) {
		return Result{}
	}
	for _, candidate := range backupCodes {
		if candidate == normalized {
			updated := make([]string, 0, len(backupCodes)-1)
			for _, c := range backupCodes {
				if c != normalized {
					updated = append(updated, c)
				}
			}
			return Result{Valid: true, UsedBackupCode: true, UpdatedBackupCodes: updated}
		}
	}
	return Result{}
}
