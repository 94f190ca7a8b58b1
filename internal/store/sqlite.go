package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id            TEXT PRIMARY KEY,
		name          TEXT UNIQUE NOT NULL,
		protocol      TEXT NOT NULL DEFAULT 'vnc',
		host          TEXT NOT NULL,
		port          INTEGER NOT NULL,
		password      TEXT NOT NULL DEFAULT '',
		color_depth   INTEGER NOT NULL DEFAULT 24,
		read_only     INTEGER NOT NULL DEFAULT 0,
		swap_red_blue INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		profile_name TEXT NOT NULL,
		remote_addr  TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL,
		ended_at     TEXT,
		close_reason TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		key_hash   TEXT UNIQUE NOT NULL,
		prefix     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_used  TEXT
	)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the gateway database at path and
// brings the schema up to date.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Profiles ---

// SaveProfile inserts a profile, or updates the existing one with the
// same name. The stored id and creation time survive updates.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *Profile) error {
	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, protocol, host, port, password, color_depth, read_only, swap_red_blue, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			password = excluded.password,
			color_depth = excluded.color_depth,
			read_only = excluded.read_only,
			swap_red_blue = excluded.swap_red_blue,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Protocol, p.Host, p.Port, p.Password,
		p.ColorDepth, p.ReadOnly, p.SwapRedBlue,
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) Profile(ctx context.Context, name string) (*Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx,
		`SELECT id, name, protocol, host, port, password, color_depth, read_only, swap_red_blue, created_at, updated_at
		 FROM profiles WHERE name = ? OR id = ?`, name, name))
}

func (s *SQLiteStore) Profiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, protocol, host, port, password, color_depth, read_only, swap_red_blue, created_at, updated_at
		 FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var profiles []*Profile
	for rows.Next() {
		p, err := s.scanProfileRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	return err
}

func (s *SQLiteStore) scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var created, updated string
	if err := row.Scan(&p.ID, &p.Name, &p.Protocol, &p.Host, &p.Port, &p.Password,
		&p.ColorDepth, &p.ReadOnly, &p.SwapRedBlue, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &p, nil
}

func (s *SQLiteStore) scanProfileRows(rows *sql.Rows) (*Profile, error) {
	var p Profile
	var created, updated string
	if err := rows.Scan(&p.ID, &p.Name, &p.Protocol, &p.Host, &p.Port, &p.Password,
		&p.ColorDepth, &p.ReadOnly, &p.SwapRedBlue, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &p, nil
}

// --- Sessions ---

func (s *SQLiteStore) RecordSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, profile_name, remote_addr, started_at)
		 VALUES (?, ?, ?, ?)`,
		rec.ID, rec.ProfileName, rec.RemoteAddr,
		rec.StartedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) CloseSession(ctx context.Context, id string, endedAt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, close_reason = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339), reason, id)
	return err
}

func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_name, remote_addr, started_at, ended_at, close_reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var sessions []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started string
		var ended, reason sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ProfileName, &rec.RemoteAddr, &started, &ended, &reason); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		if ended.Valid {
			parsed, _ := time.Parse(time.RFC3339, ended.String)
			rec.EndedAt = &parsed
		}
		rec.CloseReason = reason.String
		sessions = append(sessions, &rec)
	}
	return sessions, rows.Err()
}

// --- API Keys ---

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, k.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// VerifyAPIKey resolves a key by hash, stamping last_used in the same
// statement. A nil record with nil error means the hash is unknown.
func (s *SQLiteStore) VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	now := time.Now()

	var k APIKey
	var created string
	err := s.db.QueryRowContext(ctx,
		`UPDATE api_keys SET last_used = ? WHERE key_hash = ?
		 RETURNING id, name, key_hash, prefix, created_at`,
		now.UTC().Format(time.RFC3339), keyHash).
		Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, created)
	k.LastUsed = &now
	return &k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, key_hash, prefix, created_at, last_used
		 FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		var created string
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &created, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt, _ = time.Parse(time.RFC3339, created)
		if lastUsed.Valid {
			parsed, _ := time.Parse(time.RFC3339, lastUsed.String)
			k.LastUsed = &parsed
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}
