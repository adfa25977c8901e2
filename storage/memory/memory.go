// Package memory provides a thread-safe in-memory implementation of
// storage.Repository. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patrickcsouzadev/todo-app/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
type Repository struct {
	mu             sync.RWMutex
	signingKeys    map[string]*storage.SigningKey
	oneTimeTokens  map[string]*storage.OneTimeToken
	users          map[string]*storage.User
	loginAttempts  []*storage.LoginAttempt
	auditLogs      []*storage.AuditLogEntry
	securityEvents map[string]*storage.SecurityEvent
	rateEntries    []*storage.RateLimitEntry
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		signingKeys:    make(map[string]*storage.SigningKey),
		oneTimeTokens:  make(map[string]*storage.OneTimeToken),
		users:          make(map[string]*storage.User),
		securityEvents: make(map[string]*storage.SecurityEvent),
	}
}

func cloneKey(k *storage.SigningKey) *storage.SigningKey {
	c := *k
	return &c
}

func cloneToken(t *storage.OneTimeToken) *storage.OneTimeToken {
	c := *t
	return &c
}

func cloneUser(u *storage.User) *storage.User {
	c := *u
	c.BackupCodes = append([]string(nil), u.BackupCodes...)
	return &c
}

func cloneMetadata(m storage.Metadata) storage.Metadata {
	if m == nil {
		return nil
	}
	c := make(storage.Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneAudit(e *storage.AuditLogEntry) *storage.AuditLogEntry {
	c := *e
	c.Metadata = cloneMetadata(e.Metadata)
	return &c
}

func cloneEvent(e *storage.SecurityEvent) *storage.SecurityEvent {
	c := *e
	c.Metadata = cloneMetadata(e.Metadata)
	return &c
}

func ensureID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func ensureTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// --- Signing keys ---

func (r *Repository) CreateSigningKey(_ context.Context, key *storage.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signingKeys[key.KeyID]; ok {
		return storage.ErrDuplicate
	}
	key.CreatedAt = ensureTime(key.CreatedAt)
	r.signingKeys[key.KeyID] = cloneKey(key)
	return nil
}

func (r *Repository) SigningKeyByID(_ context.Context, keyID string) (*storage.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.signingKeys[keyID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneKey(k), nil
}

func (r *Repository) CurrentSigningKey(_ context.Context, now time.Time) (*storage.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var current *storage.SigningKey
	for _, k := range r.signingKeys {
		if !k.Usable(now) {
			continue
		}
		if current == nil || k.CreatedAt.After(current.CreatedAt) {
			current = k
		}
	}
	if current == nil {
		return nil, storage.ErrNotFound
	}
	return cloneKey(current), nil
}

func (r *Repository) ListSigningKeys(_ context.Context) ([]*storage.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]*storage.SigningKey, 0, len(r.signingKeys))
	for _, k := range r.signingKeys {
		keys = append(keys, cloneKey(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (r *Repository) DeactivateSigningKeys(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.signingKeys {
		if k.IsActive {
			k.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteExpiredSigningKeys(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, k := range r.signingKeys {
		if k.Expired(now) {
			delete(r.signingKeys, id)
			n++
		}
	}
	return n, nil
}

// --- One-time tokens ---

func (r *Repository) CreateOneTimeToken(_ context.Context, token *storage.OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = ensureID(token.ID)
	token.CreatedAt = ensureTime(token.CreatedAt)
	for _, t := range r.oneTimeTokens {
		if t.Token == token.Token {
			return storage.ErrDuplicate
		}
	}
	r.oneTimeTokens[token.ID] = cloneToken(token)
	return nil
}

func (r *Repository) DeleteOneTimeTokensForUser(_ context.Context, userID string, typ storage.TokenType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.oneTimeTokens {
		if t.UserID == userID && t.Type == typ {
			delete(r.oneTimeTokens, id)
			n++
		}
	}
	return n, nil
}

func (r *Repository) OneTimeTokenByValue(_ context.Context, token string, typ storage.TokenType, now time.Time) (*storage.OneTimeToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.oneTimeTokens {
		if t.Token == token && t.Type == typ && now.Before(t.ExpiresAt) {
			return cloneToken(t), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *Repository) DeleteOneTimeToken(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.oneTimeTokens[id]; !ok {
		return false, nil
	}
	delete(r.oneTimeTokens, id)
	return true, nil
}

func (r *Repository) DeleteExpiredOneTimeTokens(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.oneTimeTokens {
		if !now.Before(t.ExpiresAt) {
			delete(r.oneTimeTokens, id)
			n++
		}
	}
	return n, nil
}

// --- Users ---

func (r *Repository) CreateUser(_ context.Context, user *storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return storage.ErrDuplicate
		}
	}
	user.ID = ensureID(user.ID)
	user.CreatedAt = ensureTime(user.CreatedAt)
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *Repository) UserByID(_ context.Context, id string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *Repository) UserByEmail(_ context.Context, email string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *Repository) UpdateUser(_ context.Context, user *storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *Repository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// --- Login attempts ---

func (r *Repository) CreateLoginAttempt(_ context.Context, attempt *storage.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt.ID = ensureID(attempt.ID)
	attempt.CreatedAt = ensureTime(attempt.CreatedAt)
	c := *attempt
	r.loginAttempts = append(r.loginAttempts, &c)
	return nil
}

func (r *Repository) CountLoginAttempts(_ context.Context, filter storage.LoginAttemptFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.loginAttempts {
		if matchLoginAttempt(a, filter) {
			n++
		}
	}
	return n, nil
}

func matchLoginAttempt(a *storage.LoginAttempt, f storage.LoginAttemptFilter) bool {
	if f.Email != "" && !strings.EqualFold(a.Email, f.Email) {
		return false
	}
	if f.IP != "" && a.IP != f.IP {
		return false
	}
	if f.Success != nil && a.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func (r *Repository) DeleteLoginAttemptsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.loginAttempts[:0]
	n := 0
	for _, a := range r.loginAttempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.loginAttempts = kept
	return n, nil
}

// --- Audit log ---

func (r *Repository) CreateAuditLog(_ context.Context, entry *storage.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = ensureID(entry.ID)
	entry.CreatedAt = ensureTime(entry.CreatedAt)
	r.auditLogs = append(r.auditLogs, cloneAudit(entry))
	return nil
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

func (r *Repository) CountAuditLogs(_ context.Context, filter storage.AuditLogFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.auditLogs {
		if matchAuditLog(e, filter) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ListAuditLogs(_ context.Context, filter storage.AuditLogFilter, limit, offset int) ([]*storage.AuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*storage.AuditLogEntry
	for _, e := range r.auditLogs {
		if matchAuditLog(e, filter) {
			matched = append(matched, cloneAudit(e))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, limit, offset), nil
}

func (r *Repository) DeleteAuditLogsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.auditLogs[:0]
	n := 0
	for _, e := range r.auditLogs {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.auditLogs = kept
	return n, nil
}

// --- Security events ---

func (r *Repository) CreateSecurityEvent(_ context.Context, event *storage.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = ensureID(event.ID)
	event.CreatedAt = ensureTime(event.CreatedAt)
	r.securityEvents[event.ID] = cloneEvent(event)
	return nil
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

func (r *Repository) CountSecurityEvents(_ context.Context, filter storage.SecurityEventFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.securityEvents {
		if matchSecurityEvent(e, filter) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ListSecurityEvents(_ context.Context, filter storage.SecurityEventFilter, limit, offset int) ([]*storage.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*storage.SecurityEvent
	for _, e := range r.securityEvents {
		if matchSecurityEvent(e, filter) {
			matched = append(matched, cloneEvent(e))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, limit, offset), nil
}

func (r *Repository) TopSourceIPs(_ context.Context, since time.Time, limit int) ([]storage.IPCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range r.securityEvents {
		if e.CreatedAt.Before(since) {
			continue
		}
		counts[e.SourceIP]++
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

func (r *Repository) TopEventTypes(_ context.Context, since time.Time, limit int) ([]storage.EventTypeCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range r.securityEvents {
		if e.CreatedAt.Before(since) {
			continue
		}
		counts[e.EventType]++
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

func (r *Repository) ResolveSecurityEvents(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if e, ok := r.securityEvents[id]; ok && !e.Resolved {
			e.Resolved = true
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteResolvedSecurityEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.securityEvents {
		if e.Resolved && e.CreatedAt.Before(cutoff) {
			delete(r.securityEvents, id)
			n++
		}
	}
	return n, nil
}

// --- Rate data ---

func (r *Repository) CreateRateLimitEntry(_ context.Context, entry *storage.RateLimitEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = ensureID(entry.ID)
	entry.CreatedAt = ensureTime(entry.CreatedAt)
	c := *entry
	r.rateEntries = append(r.rateEntries, &c)
	return nil
}

func (r *Repository) CountRateLimitEntries(_ context.Context, key, endpoint string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.rateEntries {
		if e.Key == key && e.Endpoint == endpoint && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteRateLimitEntriesBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rateEntries[:0]
	n := 0
	for _, e := range r.rateEntries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.rateEntries = kept
	return n, nil
}

func paginate[T any](items []T, limit, offset int) []T {
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
