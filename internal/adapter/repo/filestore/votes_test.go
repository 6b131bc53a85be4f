package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

func TestVoteStore_SaveAndGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "votes")
	s, err := NewVoteStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	v := domain.Vote{ConversationID: "conv_abc123", QueryID: "query_abc123", Vote: "up", IsFinal: true, ClientIP: "127.0.0.1"}
	require.NoError(t, s.Save(ctx, "conv_abc123", v))

	raw, err := os.ReadFile(filepath.Join(dir, "conv_abc123.json"))
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "query_abc123", onDisk["query_id"])
	assert.Equal(t, "127.0.0.1", onDisk["client_ip"])

	got, err := s.Get(ctx, "conv_abc123")
	require.NoError(t, err)
	assert.Equal(t, "up", got.Vote)
	assert.False(t, got.RecordedAt.IsZero())
}

func TestVoteStore_SanitizesKey(t *testing.T) {
	dir := t.TempDir()
	s, err := NewVoteStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "../../etc/passwd", domain.Vote{ConversationID: "x"}))
	_, err = os.Stat(filepath.Join(dir, "etcpasswd.json"))
	assert.NoError(t, err)

	err = s.Save(context.Background(), "///", domain.Vote{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestVoteStore_OverwriteReplacesVote(t *testing.T) {
	s, err := NewVoteStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "conv_1", domain.Vote{Vote: "up"}))
	require.NoError(t, s.Save(ctx, "conv_1", domain.Vote{Vote: "down"}))
	got, err := s.Get(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "down", got.Vote)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestVoteStore_GetMissing(t *testing.T) {
	s, err := NewVoteStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewVoteStore_EmptyDir(t *testing.T) {
	_, err := NewVoteStore("")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
