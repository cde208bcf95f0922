package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardedRepository_Record_Idempotent(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")

	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-1", "msg-1"))
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-1", "msg-2"), "re-recording is a no-op, not an error")

	var count int
	require.NoError(t, repos.DB.GetContext(ctx, &count,
		"SELECT COUNT(1) FROM forwarded_items WHERE source_id = ? AND item_guid = ?", src.ID, "guid-1"))
	assert.Equal(t, 1, count)

	// the original record wins
	var msgRef string
	require.NoError(t, repos.DB.GetContext(ctx, &msgRef,
		"SELECT message_ref FROM forwarded_items WHERE source_id = ? AND item_guid = ?", src.ID, "guid-1"))
	assert.Equal(t, "msg-1", msgRef)
}

func TestForwardedRepository_SameGUIDDifferentSources(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src1 := createTestSource(t, repos, "https://example.com/a.xml")
	src2 := createTestSource(t, repos, "https://example.com/b.xml")

	require.NoError(t, repos.Forwarded.Record(ctx, src1.ID, "shared-guid", ""))

	exists, err := repos.Forwarded.Exists(ctx, src2.ID, "shared-guid")
	require.NoError(t, err)
	assert.False(t, exists, "forwarding state is per source")
}

func TestForwardedRepository_SeenGUIDs(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-1", ""))
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-3", ""))

	seen, err := repos.Forwarded.SeenGUIDs(ctx, src.ID, []string{"guid-1", "guid-2", "guid-3", "guid-4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"guid-1": true, "guid-3": true}, seen)

	seen, err = repos.Forwarded.SeenGUIDs(ctx, src.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestForwardedRepository_Prune(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")

	// one fresh record, two past the retention horizon
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "fresh", ""))
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	for _, guid := range []string{"old-1", "old-2"} {
		_, err := repos.DB.ExecContext(ctx,
			"INSERT INTO forwarded_items (source_id, item_guid, forwarded_at) VALUES (?, ?, ?)",
			src.ID, guid, old)
		require.NoError(t, err)
	}

	count, err := repos.Forwarded.Prune(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	exists, err := repos.Forwarded.Exists(ctx, src.ID, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}
