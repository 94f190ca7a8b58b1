// Package store defines the persistence interface for the gateway.
// All implementations (SQLite, PostgreSQL, etc.) satisfy the Store
// interface, allowing the gateway to swap backends without changing
// connection logic.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for gateway data.
// Implementations must be safe for concurrent use.
type Store interface {
	// Connection profiles.
	SaveProfile(ctx context.Context, p *Profile) error
	Profile(ctx context.Context, name string) (*Profile, error)
	Profiles(ctx context.Context) ([]*Profile, error)
	DeleteProfile(ctx context.Context, name string) error

	// Session history.
	RecordSession(ctx context.Context, rec *SessionRecord) error
	CloseSession(ctx context.Context, id string, endedAt time.Time, reason string) error
	RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// API keys for the management API.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error

	// Close releases database resources.
	Close() error
}

// Profile is a stored connection definition. Password holds the
// sealed form produced by security.Box, never plaintext.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Protocol    string    `json:"protocol"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Password    string    `json:"-"`
	ColorDepth  int       `json:"color_depth"`
	ReadOnly    bool      `json:"read_only"`
	SwapRedBlue bool      `json:"swap_red_blue"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionRecord is the history entry for one tunnel. ID is the tunnel
// UUID; EndedAt stays nil while the session is live.
type SessionRecord struct {
	ID          string     `json:"id"`
	ProfileName string     `json:"profile_name"`
	RemoteAddr  string     `json:"remote_addr"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}

// APIKey grants access to the profile-management API.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	Prefix    string     `json:"prefix"` // first 12 chars for identification
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}
