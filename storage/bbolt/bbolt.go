// Package bbolt provides a BBolt-backed storage.Repository. Records are
// stored as JSON under one bucket per record family, keyed by record ID.
// It is the single-file default backend for deployments without Postgres.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/patrickcsouzadev/todo-app/storage"
)

var (
	bucketSigningKeys    = []byte("signing_keys")
	bucketOneTimeTokens  = []byte("one_time_tokens")
	bucketUsers          = []byte("users")
	bucketLoginAttempts  = []byte("login_attempts")
	bucketAuditLogs      = []byte("audit_logs")
	bucketSecurityEvents = []byte("security_events")
	bucketRateEntries    = []byte("rate_entries")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{
			bucketSigningKeys, bucketOneTimeTokens, bucketUsers,
			bucketLoginAttempts, bucketAuditLogs, bucketSecurityEvents,
			bucketRateEntries,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at path and returns a Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// --- Signing keys ---

func (s *Store) CreateSigningKey(_ context.Context, key *storage.SigningKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSigningKeys)
		if b.Get([]byte(key.KeyID)) != nil {
			return storage.ErrDuplicate
		}
		return put(b, key.KeyID, key)
	})
}

func (s *Store) SigningKeyByID(_ context.Context, keyID string) (*storage.SigningKey, error) {
	var key *storage.SigningKey
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSigningKeys).Get([]byte(keyID))
		if data == nil {
			return storage.ErrNotFound
		}
		key = new(storage.SigningKey)
		return json.Unmarshal(data, key)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Store) forEachSigningKey(fn func(*storage.SigningKey)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSigningKeys).ForEach(func(_, v []byte) error {
			var k storage.SigningKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			fn(&k)
			return nil
		})
	})
}

func (s *Store) CurrentSigningKey(_ context.Context, now time.Time) (*storage.SigningKey, error) {
	var current *storage.SigningKey
	err := s.forEachSigningKey(func(k *storage.SigningKey) {
		if !k.Usable(now) {
			return
		}
		if current == nil || k.CreatedAt.After(current.CreatedAt) {
			c := *k
			current = &c
		}
	})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, storage.ErrNotFound
	}
	return current, nil
}

func (s *Store) ListSigningKeys(_ context.Context) ([]*storage.SigningKey, error) {
	var keys []*storage.SigningKey
	err := s.forEachSigningKey(func(k *storage.SigningKey) {
		c := *k
		keys = append(keys, &c)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeactivateSigningKeys(_ context.Context) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSigningKeys)
		var updates []*storage.SigningKey
		if err := b.ForEach(func(_, v []byte) error {
			var k storage.SigningKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			if k.IsActive {
				k.IsActive = false
				updates = append(updates, &k)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range updates {
			if err := put(b, k.KeyID, k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) DeleteExpiredSigningKeys(_ context.Context, now time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSigningKeys)
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var key storage.SigningKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.Expired(now) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// --- One-time tokens ---

func (s *Store) CreateOneTimeToken(_ context.Context, token *storage.OneTimeToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOneTimeTokens)
		var dup bool
		if err := b.ForEach(func(_, v []byte) error {
			var t storage.OneTimeToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Token == token.Token {
				dup = true
			}
			return nil
		}); err != nil {
			return err
		}
		if dup {
			return storage.ErrDuplicate
		}
		return put(b, token.ID, token)
	})
}

func (s *Store) DeleteOneTimeTokensForUser(_ context.Context, userID string, typ storage.TokenType) (int, error) {
	return s.deleteTokensWhere(func(t *storage.OneTimeToken) bool {
		return t.UserID == userID && t.Type == typ
	})
}

func (s *Store) OneTimeTokenByValue(_ context.Context, token string, typ storage.TokenType, now time.Time) (*storage.OneTimeToken, error) {
	var found *storage.OneTimeToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOneTimeTokens).ForEach(func(_, v []byte) error {
			var t storage.OneTimeToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Token == token && t.Type == typ && now.Before(t.ExpiresAt) {
				found = &t
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) DeleteOneTimeToken(_ context.Context, id string) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOneTimeTokens)
		if b.Get([]byte(id)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(id))
	})
	return deleted, err
}

func (s *Store) DeleteExpiredOneTimeTokens(_ context.Context, now time.Time) (int, error) {
	return s.deleteTokensWhere(func(t *storage.OneTimeToken) bool {
		return !now.Before(t.ExpiresAt)
	})
}

func (s *Store) deleteTokensWhere(match func(*storage.OneTimeToken) bool) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOneTimeTokens)
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var t storage.OneTimeToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if match(&t) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// --- Users ---

func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		var dup bool
		if err := b.ForEach(func(_, v []byte) error {
			var u storage.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if strings.EqualFold(u.Email, user.Email) {
				dup = true
			}
			return nil
		}); err != nil {
			return err
		}
		if dup {
			return storage.ErrDuplicate
		}
		return put(b, user.ID, user)
	})
}

func (s *Store) UserByID(_ context.Context, id string) (*storage.User, error) {
	var user *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		user = new(storage.User)
		return json.Unmarshal(data, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*storage.User, error) {
	var found *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u storage.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if strings.EqualFold(u.Email, email) {
				found = &u
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) UpdateUser(_ context.Context, user *storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.ID)) == nil {
			return storage.ErrNotFound
		}
		return put(b, user.ID, user)
	})
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// --- Login attempts ---

func (s *Store) CreateLoginAttempt(_ context.Context, attempt *storage.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketLoginAttempts), attempt.ID, attempt)
	})
}

func (s *Store) CountLoginAttempts(_ context.Context, filter storage.LoginAttemptFilter) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLoginAttempts).ForEach(func(_, v []byte) error {
			var a storage.LoginAttempt
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if filter.Email != "" && !strings.EqualFold(a.Email, filter.Email) {
				return nil
			}
			if filter.IP != "" && a.IP != filter.IP {
				return nil
			}
			if filter.Success != nil && a.Success != *filter.Success {
				return nil
			}
			if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
				return nil
			}
			n++
			return nil
		})
	})
	return n, err
}

func (s *Store) DeleteLoginAttemptsBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(bucketLoginAttempts, func(v []byte) (bool, error) {
		var a storage.LoginAttempt
		if err := json.Unmarshal(v, &a); err != nil {
			return false, err
		}
		return a.CreatedAt.Before(cutoff), nil
	})
}

// --- Audit log ---

func (s *Store) CreateAuditLog(_ context.Context, entry *storage.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketAuditLogs), entry.ID, entry)
	})
}

func matchAuditLog(e *storage.AuditLogEntry, f storage.AuditLogFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.MetadataEmail != "" {
		email, _ := e.Metadata["email"].(string)
		if !strings.EqualFold(email, f.MetadataEmail) {
			return false
		}
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func (s *Store) CountAuditLogs(_ context.Context, filter storage.AuditLogFilter) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuditLogs).ForEach(func(_, v []byte) error {
			var e storage.AuditLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if matchAuditLog(&e, filter) {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (s *Store) ListAuditLogs(_ context.Context, filter storage.AuditLogFilter, limit, offset int) ([]*storage.AuditLogEntry, error) {
	var matched []*storage.AuditLogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuditLogs).ForEach(func(_, v []byte) error {
			var e storage.AuditLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if matchAuditLog(&e, filter) {
				matched = append(matched, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return window(matched, limit, offset), nil
}

func (s *Store) DeleteAuditLogsBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(bucketAuditLogs, func(v []byte) (bool, error) {
		var e storage.AuditLogEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return false, err
		}
		return e.CreatedAt.Before(cutoff), nil
	})
}

// --- Security events ---

func (s *Store) CreateSecurityEvent(_ context.Context, event *storage.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketSecurityEvents), event.ID, event)
	})
}

func matchSecurityEvent(e *storage.SecurityEvent, f storage.SecurityEventFilter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.SourceIP != "" && e.SourceIP != f.SourceIP {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func (s *Store) forEachSecurityEvent(fn func(*storage.SecurityEvent)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSecurityEvents).ForEach(func(_, v []byte) error {
			var e storage.SecurityEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			fn(&e)
			return nil
		})
	})
}

func (s *Store) CountSecurityEvents(_ context.Context, filter storage.SecurityEventFilter) (int, error) {
	n := 0
	err := s.forEachSecurityEvent(func(e *storage.SecurityEvent) {
		if matchSecurityEvent(e, filter) {
			n++
		}
	})
	return n, err
}

func (s *Store) ListSecurityEvents(_ context.Context, filter storage.SecurityEventFilter, limit, offset int) ([]*storage.SecurityEvent, error) {
	var matched []*storage.SecurityEvent
	err := s.forEachSecurityEvent(func(e *storage.SecurityEvent) {
		if matchSecurityEvent(e, filter) {
			c := *e
			matched = append(matched, &c)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return window(matched, limit, offset), nil
}

func (s *Store) TopSourceIPs(_ context.Context, since time.Time, limit int) ([]storage.IPCount, error) {
	counts := make(map[string]int)
	err := s.forEachSecurityEvent(func(e *storage.SecurityEvent) {
		if !e.CreatedAt.Before(since) {
			counts[e.SourceIP]++
		}
	})
	if err != nil {
		return nil, err
	}
	top := make([]storage.IPCount, 0, len(counts))
	for ip, n := range counts {
		top = append(top, storage.IPCount{IP: ip, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].IP < top[j].IP
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) TopEventTypes(_ context.Context, since time.Time, limit int) ([]storage.EventTypeCount, error) {
	counts := make(map[string]int)
	err := s.forEachSecurityEvent(func(e *storage.SecurityEvent) {
		if !e.CreatedAt.Before(since) {
			counts[e.EventType]++
		}
	})
	if err != nil {
		return nil, err
	}
	top := make([]storage.EventTypeCount, 0, len(counts))
	for typ, n := range counts {
		top = append(top, storage.EventTypeCount{EventType: typ, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].EventType < top[j].EventType
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) ResolveSecurityEvents(_ context.Context, ids []string) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSecurityEvents)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var e storage.SecurityEvent
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if e.Resolved {
				continue
			}
			e.Resolved = true
			if err := put(b, e.ID, &e); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) DeleteResolvedSecurityEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(bucketSecurityEvents, func(v []byte) (bool, error) {
		var e storage.SecurityEvent
		if err := json.Unmarshal(v, &e); err != nil {
			return false, err
		}
		return e.Resolved && e.CreatedAt.Before(cutoff), nil
	})
}

// --- Rate data ---

func (s *Store) CreateRateLimitEntry(_ context.Context, entry *storage.RateLimitEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketRateEntries), entry.ID, entry)
	})
}

func (s *Store) CountRateLimitEntries(_ context.Context, key, endpoint string, since time.Time) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRateEntries).ForEach(func(_, v []byte) error {
			var e storage.RateLimitEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Key == key && e.Endpoint == endpoint && !e.CreatedAt.Before(since) {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (s *Store) DeleteRateLimitEntriesBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(bucketRateEntries, func(v []byte) (bool, error) {
		var e storage.RateLimitEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return false, err
		}
		return e.CreatedAt.Before(cutoff), nil
	})
}

func (s *Store) deleteWhere(bucket []byte, match func(v []byte) (bool, error)) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			ok, err := match(v)
			if err != nil {
				return err
			}
			if ok {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func window[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
