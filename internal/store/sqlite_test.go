package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/kaya/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "kaya.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func archived(id string, at time.Time) domain.ArchivedSession {
	return domain.ArchivedSession{
		ID:           id,
		CreatedAt:    at.Add(-10 * time.Minute),
		LastActivity: at.Add(-time.Minute),
		LastAgent:    "buergerdienste",
		LastPersona:  "senior",
		Turns: []domain.StoredTurn{{
			Utterance: "Ich möchte mein Auto ummelden",
			Response:  "Die Zulassungsstelle hilft.",
			Agent:     "buergerdienste",
			Intent:    "kfz_zulassung",
			Persona:   "senior",
			Emotion:   "neutral",
			Urgency:   "normal",
			At:        at.Add(-time.Minute),
		}},
		ArchivedAt: at,
		Reason:     domain.ArchiveReasonIdle,
	}
}

func TestSaveAndGetSession(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())

	want := archived("abc", now)
	require.NoError(t, s.SaveSession(ctx, want))

	got, err := s.GetSession(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.LastAgent, got.LastAgent)
	assert.Equal(t, want.Reason, got.Reason)
	assert.True(t, want.ArchivedAt.Equal(got.ArchivedAt))
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "kfz_zulassung", got.Turns[0].Intent)
	assert.True(t, want.Turns[0].At.Equal(got.Turns[0].At))
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	got, err := s.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveSessionReplaces(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := archived("abc", now)
	require.NoError(t, s.SaveSession(ctx, first))

	second := archived("abc", now.Add(time.Hour))
	second.Reason = domain.ArchiveReasonShutdown
	second.LastAgent = ""
	second.Turns = append(second.Turns, domain.StoredTurn{Utterance: "Danke"})
	require.NoError(t, s.SaveSession(ctx, second))

	got, err := s.GetSession(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveReasonShutdown, got.Reason)
	assert.Empty(t, got.LastAgent)
	assert.Len(t, got.Turns, 2)
}

func TestDeleteArchivedBefore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveSession(ctx, archived("old", now.Add(-48*time.Hour))))
	require.NoError(t, s.SaveSession(ctx, archived("new", now)))

	n, err := s.DeleteArchivedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSession(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetSession(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
