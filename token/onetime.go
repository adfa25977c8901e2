package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickcsouzadev/todo-app/internal/util"
	"github.com/patrickcsouzadev/todo-app/storage"
)

const (
	oneTimeTokenBytes = 32

	confirmTTL = 24 * time.Hour
	resetTTL   = time.Hour
)

// ErrTokenInvalid is returned for any one-time token that cannot be
// consumed. Wrong value, wrong type, and expiry are deliberately
// indistinguishable to the caller.
var ErrTokenInvalid = errors.New("token: invalid or expired token")

func ttlFor(typ storage.TokenType) (time.Duration, error) {
	switch typ {
	case storage.TokenTypeConfirm:
		return confirmTTL, nil
	case storage.TokenTypeReset:
		return resetTTL, nil
	default:
		return 0, fmt.Errorf("unknown token type %q", typ)
	}
}

// IssueOneTime creates a one-time token for the user and returns the raw
// value for out-of-band delivery. Any prior tokens of the same type for the
// user are invalidated first, so only the most recently requested link
// works.
func (s *Service) IssueOneTime(ctx context.Context, userID string, typ storage.TokenType) (string, error) {
	ttl, err := ttlFor(typ)
	if err != nil {
		return "", err
	}

	if _, err := s.repo.DeleteOneTimeTokensForUser(ctx, userID, typ); err != nil {
		return "", fmt.Errorf("invalidating prior %s tokens: %w", typ, err)
	}

	raw, err := util.RandomHex(oneTimeTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating %s token: %w", typ, err)
	}

	now := s.now().UTC()
	record := &storage.OneTimeToken{
		Token:     raw,
		Type:      typ,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.CreateOneTimeToken(ctx, record); err != nil {
		return "", fmt.Errorf("persisting %s token: %w", typ, err)
	}
	return raw, nil
}

// ConsumeOneTime verifies a one-time token and deletes it, returning the
// owning user. Two concurrent consumers can race on the delete; the loser
// still resolves the user so its request does not hard-fail, but callers
// must keep their own state change idempotent.
func (s *Service) ConsumeOneTime(ctx context.Context, raw string, typ storage.TokenType) (*storage.User, error) {
	record, err := s.repo.OneTimeTokenByValue(ctx, raw, typ, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s token: %w", typ, err)
	}

	deleted, err := s.repo.DeleteOneTimeToken(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("consuming %s token: %w", typ, err)
	}
	if !deleted {
		s.log.Debug("one-time token already consumed", "type", typ, "user_id", record.UserID)
	}

	user, err := s.repo.UserByID(ctx, record.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("resolving token owner: %w", err)
	}
	return user, nil
}

// CleanupExpired removes expired one-time tokens and returns the count.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredOneTimeTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired one-time tokens: %w", err)
	}
	return n, nil
}
