// Package keystore manages the signing keys used for session tokens.
//
// Exactly one key is active for issuance at any time. Rotation deactivates
// every active key before inserting the replacement, so tokens signed by a
// previous key keep verifying until that key passes its expiry and is
// removed by cleanup.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patrickcsouzadev/todo-app/internal/util"
	"github.com/patrickcsouzadev/todo-app/storage"
)

const (
	// Algorithm tags every generated key. Verification rejects keys
	// carrying any other value.
	Algorithm = "HS256"

	secretBytes       = 64
	keyLifetime       = 90 * 24 * time.Hour
	rotationThreshold = 7 * 24 * time.Hour
)

// ErrNoActiveKey is returned when no active, non-expired signing key exists.
// Token issuance must fail closed on this error.
var ErrNoActiveKey = errors.New("keystore: no active signing key")

// KeyInfo is the exportable view of a signing key. It never carries the
// secret and is safe to return from admin endpoints.
type KeyInfo struct {
	KeyID     string    `json:"keyId"`
	Algorithm string    `json:"algorithm"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RotationReport describes the outcome of a scheduled rotation run.
type RotationReport struct {
	Rotated      bool   `json:"rotated"`
	CurrentKeyID string `json:"currentKeyId"`
	Deleted      int    `json:"deletedExpiredKeys"`
}

// Service implements the key store over a storage.Repository.
type Service struct {
	repo storage.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewService returns a key store backed by repo. A nil logger falls back to
// slog.Default().
func NewService(repo storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, log: logger, now: time.Now}
}

func (s *Service) generate(now time.Time) (*storage.SigningKey, error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generating key secret: %w", err)
	}
	return &storage.SigningKey{
		KeyID:     uuid.New().String(),
		Secret:    util.HexEncode(raw),
		Algorithm: Algorithm,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(keyLifetime),
	}, nil
}

// Rotate deactivates all active keys and persists a freshly generated one.
// Rotation never deletes keys; deactivated keys remain valid for
// verification until cleanup removes them past expiry.
func (s *Service) Rotate(ctx context.Context) (*storage.SigningKey, error) {
	now := s.now().UTC()
	key, err := s.generate(now)
	if err != nil {
		return nil, err
	}
	deactivated, err := s.repo.DeactivateSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("deactivating signing keys: %w", err)
	}
	if err := s.repo.CreateSigningKey(ctx, key); err != nil {
		return nil, fmt.Errorf("persisting signing key: %w", err)
	}
	s.log.Info("signing key rotated",
		"key_id", key.KeyID,
		"deactivated", deactivated,
		"expires_at", key.ExpiresAt)
	return key, nil
}

// CleanupExpired deletes every key past its expiry and returns the count.
// Tokens signed by a deleted key stop verifying immediately; sessions are
// 30 minutes, so the exposure is bounded.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredSigningKeys(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired signing keys: %w", err)
	}
	if n > 0 {
		s.log.Info("expired signing keys removed", "count", n)
	}
	return n, nil
}

// InitializeIfEmpty creates an active key if none usable exists. It reports
// whether a key was created and is idempotent.
func (s *Service) InitializeIfEmpty(ctx context.Context) (*storage.SigningKey, bool, error) {
	key, err := s.repo.CurrentSigningKey(ctx, s.now().UTC())
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up current signing key: %w", err)
	}
	key, err = s.Rotate(ctx)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// CurrentActive returns the most recently created active, non-expired key.
func (s *Service) CurrentActive(ctx context.Context) (*storage.SigningKey, error) {
	key, err := s.repo.CurrentSigningKey(ctx, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, fmt.Errorf("looking up current signing key: %w", err)
	}
	return key, nil
}

// ByID returns the key with the given ID, expired or not. Callers on the
// verification path must check Usable themselves.
func (s *Service) ByID(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	return s.repo.SigningKeyByID(ctx, keyID)
}

// ListKeys returns metadata for every stored key, newest first.
func (s *Service) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	keys, err := s.repo.ListSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing signing keys: %w", err)
	}
	infos := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, KeyInfo{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			IsActive:  k.IsActive,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}
	return infos, nil
}

// ScheduledRotation rotates when the current key is missing or within seven
// days of expiry, then removes expired keys. Intended for a cron caller.
func (s *Service) ScheduledRotation(ctx context.Context) (*RotationReport, error) {
	now := s.now().UTC()
	report := &RotationReport{}

	current, err := s.repo.CurrentSigningKey(ctx, now)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		current = nil
	case err != nil:
		return nil, fmt.Errorf("looking up current signing key: %w", err)
	}

	if current == nil || current.ExpiresAt.Sub(now) < rotationThreshold {
		rotated, err := s.Rotate(ctx)
		if err != nil {
			return nil, err
		}
		report.Rotated = true
		report.CurrentKeyID = rotated.KeyID
	} else {
		report.CurrentKeyID = current.KeyID
	}

	deleted, err := s.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	report.Deleted = deleted
	return report, nil
}
