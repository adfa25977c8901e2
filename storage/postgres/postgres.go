// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Each record family maps to its own table; JSON-valued fields (audit
// metadata, backup codes) are stored as JSONB. All statements go through
// a pgx connection pool, so the Store is safe for concurrent use.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patrickcsouzadev/todo-app/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ---------------------------------------------------------------------------
// Signing keys
// ---------------------------------------------------------------------------

func (s *Store) CreateSigningKey(ctx context.Context, key *storage.SigningKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signing_keys (key_id, secret, algorithm, is_active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.KeyID, key.Secret, key.Algorithm, key.IsActive, key.CreatedAt, key.ExpiresAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func scanSigningKey(row pgx.Row) (*storage.SigningKey, error) {
	var key storage.SigningKey
	err := row.Scan(&key.KeyID, &key.Secret, &key.Algorithm, &key.IsActive,
		&key.CreatedAt, &key.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) SigningKeyByID(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	return scanSigningKey(s.pool.QueryRow(ctx,
		`SELECT key_id, secret, algorithm, is_active, created_at, expires_at
		 FROM signing_keys WHERE key_id = $1`, keyID))
}

func (s *Store) CurrentSigningKey(ctx context.Context, now time.Time) (*storage.SigningKey, error) {
	return scanSigningKey(s.pool.QueryRow(ctx,
		`SELECT key_id, secret, algorithm, is_active, created_at, expires_at
		 FROM signing_keys WHERE is_active AND expires_at > $1
		 ORDER BY created_at DESC, key_id LIMIT 1`, now))
}

func (s *Store) ListSigningKeys(ctx context.Context) ([]*storage.SigningKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key_id, secret, algorithm, is_active, created_at, expires_at
		 FROM signing_keys ORDER BY created_at DESC, key_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*storage.SigningKey
	for rows.Next() {
		var key storage.SigningKey
		if err := rows.Scan(&key.KeyID, &key.Secret, &key.Algorithm, &key.IsActive,
			&key.CreatedAt, &key.ExpiresAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (s *Store) DeactivateSigningKeys(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signing_keys SET is_active = FALSE WHERE is_active`)
	return int(tag.RowsAffected()), err
}

func (s *Store) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM signing_keys WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), err
}

// ---------------------------------------------------------------------------
// One-time tokens
// ---------------------------------------------------------------------------

func (s *Store) CreateOneTimeToken(ctx context.Context, token *storage.OneTimeToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO one_time_tokens (id, token, token_type, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.Token, token.Type, token.UserID, token.CreatedAt, token.ExpiresAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *Store) DeleteOneTimeTokensForUser(ctx context.Context, userID string, typ storage.TokenType) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM one_time_tokens WHERE user_id = $1 AND token_type = $2`, userID, typ)
	return int(tag.RowsAffected()), err
}

func (s *Store) OneTimeTokenByValue(ctx context.Context, token string, typ storage.TokenType, now time.Time) (*storage.OneTimeToken, error) {
	var t storage.OneTimeToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, token, token_type, user_id, created_at, expires_at
		 FROM one_time_tokens WHERE token = $1 AND token_type = $2 AND expires_at > $3`,
		token, typ, now).Scan(&t.ID, &t.Token, &t.Type, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteOneTimeToken(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM one_time_tokens WHERE id = $1`, id)
	return tag.RowsAffected() > 0, err
}

func (s *Store) DeleteExpiredOneTimeTokens(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM one_time_tokens WHERE expires_at <= $1`, now)
	return int(tag.RowsAffected()), err
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	codes, err := json.Marshal(user.BackupCodes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, is_confirmed, mfa_enabled, totp_secret, backup_codes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.IsConfirmed,
		user.MFAEnabled, user.TOTPSecret, codes, user.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var (
		user  storage.User
		codes []byte
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsConfirmed,
		&user.MFAEnabled, &user.TOTPSecret, &codes, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(codes, &user.BackupCodes); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_confirmed, mfa_enabled, totp_secret, backup_codes, created_at
		 FROM users WHERE id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_confirmed, mfa_enabled, totp_secret, backup_codes, created_at
		 FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (s *Store) UpdateUser(ctx context.Context, user *storage.User) error {
	codes, err := json.Marshal(user.BackupCodes)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET email = $2, password_hash = $3, is_confirmed = $4,
		        mfa_enabled = $5, totp_secret = $6, backup_codes = $7
		 WHERE id = $1`,
		user.ID, user.Email, user.PasswordHash, user.IsConfirmed,
		user.MFAEnabled, user.TOTPSecret, codes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Login attempts
// ---------------------------------------------------------------------------

func (s *Store) CreateLoginAttempt(ctx context.Context, attempt *storage.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO login_attempts (id, email, ip, user_agent, user_id, success, failure_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.ID, attempt.Email, attempt.IP, attempt.UserAgent, attempt.UserID,
		attempt.Success, attempt.FailureReason, attempt.CreatedAt)
	return err
}

// whereClause accumulates positional conditions for a dynamic query.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereClause) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (s *Store) CountLoginAttempts(ctx context.Context, filter storage.LoginAttemptFilter) (int, error) {
	var w whereClause
	if filter.Email != "" {
		w.add("LOWER(email) = LOWER($%d)", filter.Email)
	}
	if filter.IP != "" {
		w.add("ip = $%d", filter.IP)
	}
	if filter.Success != nil {
		w.add("success = $%d", *filter.Success)
	}
	if !filter.Since.IsZero() {
		w.add("created_at >= $%d", filter.Since)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts`+w.sql(), w.args...).Scan(&n)
	return n, err
}

func (s *Store) DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	return int(tag.RowsAffected()), err
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

func (s *Store) CreateAuditLog(ctx context.Context, entry *storage.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, ip, user_agent, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.IP, entry.UserAgent, meta, entry.CreatedAt)
	return err
}

func auditLogWhere(filter storage.AuditLogFilter) *whereClause {
	var w whereClause
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.Action != "" {
		w.add("action = $%d", filter.Action)
	}
	if filter.ResourceType != "" {
		w.add("resource_type = $%d", filter.ResourceType)
	}
	if filter.MetadataEmail != "" {
		w.add("LOWER(metadata->>'email') = LOWER($%d)", filter.MetadataEmail)
	}
	if !filter.Since.IsZero() {
		w.add("created_at >= $%d", filter.Since)
	}
	return &w
}

func (s *Store) CountAuditLogs(ctx context.Context, filter storage.AuditLogFilter) (int, error) {
	w := auditLogWhere(filter)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs`+w.sql(), w.args...).Scan(&n)
	return n, err
}

func (s *Store) ListAuditLogs(ctx context.Context, filter storage.AuditLogFilter, limit, offset int) ([]*storage.AuditLogEntry, error) {
	w := auditLogWhere(filter)
	query := `SELECT id, user_id, action, resource_type, resource_id, ip, user_agent, metadata, created_at
		 FROM audit_logs` + w.sql() + ` ORDER BY created_at DESC, id`
	args := w.args
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*storage.AuditLogEntry
	for rows.Next() {
		var (
			entry storage.AuditLogEntry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &entry.IP, &entry.UserAgent, &meta, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return int(tag.RowsAffected()), err
}

// ---------------------------------------------------------------------------
// Security events
// ---------------------------------------------------------------------------

func (s *Store) CreateSecurityEvent(ctx context.Context, event *storage.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO security_events (id, event_type, severity, description, source_ip, user_id, user_agent, metadata, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.EventType, event.Severity, event.Description, event.SourceIP,
		event.UserID, event.UserAgent, meta, event.Resolved, event.CreatedAt)
	return err
}

func securityEventWhere(filter storage.SecurityEventFilter) *whereClause {
	var w whereClause
	if filter.EventType != "" {
		w.add("event_type = $%d", filter.EventType)
	}
	if filter.Severity != "" {
		w.add("severity = $%d", filter.Severity)
	}
	if filter.SourceIP != "" {
		w.add("source_ip = $%d", filter.SourceIP)
	}
	if filter.Resolved != nil {
		w.add("resolved = $%d", *filter.Resolved)
	}
	if !filter.Since.IsZero() {
		w.add("created_at >= $%d", filter.Since)
	}
	return &w
}

func (s *Store) CountSecurityEvents(ctx context.Context, filter storage.SecurityEventFilter) (int, error) {
	w := securityEventWhere(filter)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events`+w.sql(), w.args...).Scan(&n)
	return n, err
}

func (s *Store) ListSecurityEvents(ctx context.Context, filter storage.SecurityEventFilter, limit, offset int) ([]*storage.SecurityEvent, error) {
	w := securityEventWhere(filter)
	query := `SELECT id, event_type, severity, description, source_ip, user_id, user_agent, metadata, resolved, created_at
		 FROM security_events` + w.sql() + ` ORDER BY created_at DESC, id`
	args := w.args
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*storage.SecurityEvent
	for rows.Next() {
		var (
			event storage.SecurityEvent
			meta  []byte
		)
		if err := rows.Scan(&event.ID, &event.EventType, &event.Severity, &event.Description,
			&event.SourceIP, &event.UserID, &event.UserAgent, &meta, &event.Resolved, &event.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &event.Metadata); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func (s *Store) TopSourceIPs(ctx context.Context, since time.Time, limit int) ([]storage.IPCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_ip, COUNT(*) AS n FROM security_events
		 WHERE created_at >= $1 GROUP BY source_ip
		 ORDER BY n DESC, source_ip LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []storage.IPCount
	for rows.Next() {
		var c storage.IPCount
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return nil, err
		}
		top = append(top, c)
	}
	return top, rows.Err()
}

func (s *Store) TopEventTypes(ctx context.Context, since time.Time, limit int) ([]storage.EventTypeCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, COUNT(*) AS n FROM security_events
		 WHERE created_at >= $1 GROUP BY event_type
		 ORDER BY n DESC, event_type LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []storage.EventTypeCount
	for rows.Next() {
		var c storage.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, err
		}
		top = append(top, c)
	}
	return top, rows.Err()
}

func (s *Store) ResolveSecurityEvents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE security_events SET resolved = TRUE WHERE id = ANY($1) AND NOT resolved`, ids)
	return int(tag.RowsAffected()), err
}

func (s *Store) DeleteResolvedSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM security_events WHERE resolved AND created_at < $1`, cutoff)
	return int(tag.RowsAffected()), err
}

// ---------------------------------------------------------------------------
// Rate data
// ---------------------------------------------------------------------------

func (s *Store) CreateRateLimitEntry(ctx context.Context, entry *storage.RateLimitEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_limit_entries (id, key, endpoint, created_at)
		 VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.Key, entry.Endpoint, entry.CreatedAt)
	return err
}

func (s *Store) CountRateLimitEntries(ctx context.Context, key, endpoint string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limit_entries
		 WHERE key = $1 AND endpoint = $2 AND created_at >= $3`,
		key, endpoint, since).Scan(&n)
	return n, err
}

func (s *Store) DeleteRateLimitEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rate_limit_entries WHERE created_at < $1`, cutoff)
	return int(tag.RowsAffected()), err
}

func marshalMetadata(m storage.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
