package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "viewport.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Profile{
		Name:        "lab-desktop",
		Protocol:    "vnc",
		Host:        "10.0.0.5",
		Port:        5900,
		Password:    "v1:sealed",
		ColorDepth:  16,
		ReadOnly:    true,
		SwapRedBlue: true,
	}
	require.NoError(t, s.SaveProfile(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := s.Profile(ctx, "lab-desktop")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "10.0.0.5", got.Host)
	assert.Equal(t, 5900, got.Port)
	assert.Equal(t, "v1:sealed", got.Password)
	assert.Equal(t, 16, got.ColorDepth)
	assert.True(t, got.ReadOnly)
	assert.True(t, got.SwapRedBlue)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)

	// Lookup by id resolves the same profile.
	byID, err := s.Profile(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "lab-desktop", byID.Name)

	missing, err := s.Profile(ctx, "no-such-profile")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.DeleteProfile(ctx, "lab-desktop"))
	gone, err := s.Profile(ctx, "lab-desktop")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSaveProfileUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProfile(ctx, &Profile{Name: "desk", Host: "a", Port: 5900}))
	first, err := s.Profile(ctx, "desk")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, s.SaveProfile(ctx, &Profile{Name: "desk", Host: "b", Port: 5901, ReadOnly: true}))

	got, err := s.Profile(ctx, "desk")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "update must keep the original id")
	assert.Equal(t, first.CreatedAt, got.CreatedAt, "update must keep the creation time")
	assert.Equal(t, "b", got.Host)
	assert.Equal(t, 5901, got.Port)
	assert.True(t, got.ReadOnly)

	all, err := s.Profiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProfilesSortedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, s.SaveProfile(ctx, &Profile{Name: name, Host: "h", Port: 5900}))
	}

	all, err := s.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "mike", all[1].Name)
	assert.Equal(t, "zulu", all[2].Name)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"s-old", "s-mid", "s-new"} {
		require.NoError(t, s.RecordSession(ctx, &SessionRecord{
			ID:          id,
			ProfileName: "desk",
			RemoteAddr:  "192.0.2.1:4242",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := s.RecentSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s-new", recent[0].ID)
	assert.Equal(t, "s-mid", recent[1].ID)
	assert.Nil(t, recent[0].EndedAt)

	ended := base.Add(90 * time.Minute)
	require.NoError(t, s.CloseSession(ctx, "s-new", ended, "consumer disconnected"))

	recent, err = s.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].EndedAt)
	assert.WithinDuration(t, ended, *recent[0].EndedAt, time.Second)
	assert.Equal(t, "consumer disconnected", recent[0].CloseReason)
}

func TestAPIKeyVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAPIKey(ctx, &APIKey{
		ID:        "key-1",
		Name:      "ci",
		KeyHash:   "deadbeef",
		Prefix:    "vpk_abcd1234",
		CreatedAt: time.Now(),
	}))

	k, err := s.VerifyAPIKey(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, "ci", k.Name)
	assert.NotNil(t, k.LastUsed)

	unknown, err := s.VerifyAPIKey(ctx, "0000")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, s.DeleteAPIKey(ctx, "key-1"))
	gone, err := s.VerifyAPIKey(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
