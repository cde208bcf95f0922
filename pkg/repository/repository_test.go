package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

// setupTestDB creates an in-memory database with the schema applied
func setupTestDB(t *testing.T) *Repositories {
	t.Helper()

	cfg := Config{
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	repos, err := NewRepositories(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, repos.Close()) })

	return repos
}

// createTestSource inserts a source with sane defaults
func createTestSource(t *testing.T, repos *Repositories, url string) *domain.Source {
	t.Helper()

	src := &domain.Source{
		URL:             url,
		Name:            "Test Source",
		WebhookURL:      "https://hooks.example.com/wh1",
		PollInterval:    900,
		WarmupRemaining: 3,
	}
	require.NoError(t, repos.Source.CreateSource(context.Background(), src))
	return src
}

func TestRepositories_Integration(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Ping(ctx))

	src := createTestSource(t, repos, "https://example.com/feed.xml")
	assert.NotZero(t, src.ID)
	require.NotNil(t, src.NextPollAt, "new sources are due immediately")

	got, err := repos.Source.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, 3, got.WarmupRemaining)
	assert.Equal(t, 900, got.PollInterval)

	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-1", "msg-1"))
	exists, err := repos.Forwarded.Exists(ctx, src.ID, "guid-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
