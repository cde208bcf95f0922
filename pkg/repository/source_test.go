package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

func TestSourceRepository_CreateSource_Duplicates(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	createTestSource(t, repos, "https://example.com/feed.xml")

	t.Run("same url and webhook rejected", func(t *testing.T) {
		dup := &domain.Source{
			URL:        "https://example.com/feed.xml",
			Name:       "Duplicate",
			WebhookURL: "https://hooks.example.com/wh1",
		}
		err := repos.Source.CreateSource(ctx, dup)
		assert.Error(t, err)
	})

	t.Run("same url different webhook allowed", func(t *testing.T) {
		other := &domain.Source{
			URL:        "https://example.com/feed.xml",
			Name:       "Other Channel",
			WebhookURL: "https://hooks.example.com/wh2",
		}
		err := repos.Source.CreateSource(ctx, other)
		require.NoError(t, err)
		assert.NotZero(t, other.ID)
	})
}

func TestSourceRepository_GetSource_NotFound(t *testing.T) {
	repos := setupTestDB(t)

	_, err := repos.Source.GetSource(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestSourceRepository_GetSourceByURL(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")

	got, err := repos.Source.GetSourceByURL(ctx, src.URL, src.WebhookURL)
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)

	_, err = repos.Source.GetSourceByURL(ctx, src.URL, "https://hooks.example.com/other")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestSourceRepository_ListSources(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	for _, url := range []string{"https://b.example.com/feed", "https://a.example.com/feed"} {
		src := &domain.Source{URL: url, Name: url, WebhookURL: "https://hooks.example.com/wh"}
		require.NoError(t, repos.Source.CreateSource(ctx, src))
	}

	sources, err := repos.Source.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "https://a.example.com/feed", sources[0].URL, "ordered by name")
}

func TestSourceRepository_GetDueSources(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	due := createTestSource(t, repos, "https://example.com/due.xml")
	notDue := createTestSource(t, repos, "https://example.com/not-due.xml")

	// push one source into the future
	err := repos.Source.UpdateOnSuccess(ctx, notDue.ID, PollSuccess{
		PollInterval: 900,
		NextPollAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := repos.Source.GetDueSources(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	// everything is due far enough in the future
	got, err = repos.Source.GetDueSources(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSourceRepository_UpdateOnSuccess(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")

	// fail once first so the reset is observable
	require.NoError(t, repos.Source.UpdateOnFailure(ctx, src.ID, "server error 503", time.Now().Add(time.Hour)))

	next := time.Now().Add(30 * time.Minute)
	err := repos.Source.UpdateOnSuccess(ctx, src.ID, PollSuccess{
		ETag:         `"v2"`,
		LastModified: "Mon, 03 Jun 2024 12:00:00 GMT",
		PollInterval: 1800,
		NextPollAt:   next,
	})
	require.NoError(t, err)

	got, err := repos.Source.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, got.ETag)
	assert.Equal(t, "Mon, 03 Jun 2024 12:00:00 GMT", got.LastModified)
	assert.Equal(t, 1800, got.PollInterval)
	assert.Zero(t, got.ConsecutiveErrors, "success resets the error count")
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, got.WarmupRemaining, "each completed cycle consumes one warmup")
	require.NotNil(t, got.LastPollAt)
	require.NotNil(t, got.NextPollAt)
	assert.WithinDuration(t, next, *got.NextPollAt, time.Second)
}

func TestSourceRepository_WarmupFloorsAtZero(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")
	_, err := repos.DB.ExecContext(ctx, "UPDATE sources SET warmup_remaining = 1 WHERE id = ?", src.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := repos.Source.UpdateOnSuccess(ctx, src.ID, PollSuccess{PollInterval: 900, NextPollAt: time.Now()})
		require.NoError(t, err)
	}

	got, err := repos.Source.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Zero(t, got.WarmupRemaining, "warmup never goes negative")
}

func TestSourceRepository_UpdateOnFailure(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")

	next := time.Now().Add(time.Hour)
	require.NoError(t, repos.Source.UpdateOnFailure(ctx, src.ID, "timeout", next))
	require.NoError(t, repos.Source.UpdateOnFailure(ctx, src.ID, "server error 500", next))

	got, err := repos.Source.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveErrors)
	assert.Equal(t, "server error 500", got.LastError, "latest error wins")
	assert.Equal(t, 1, got.WarmupRemaining, "failed cycles consume warmup too")
}

func TestSourceRepository_UpdateSourceURL(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/old.xml")
	require.NoError(t, repos.Source.UpdateSourceURL(ctx, src.ID, "https://example.com/new.xml"))

	got, err := repos.Source.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/new.xml", got.URL)
}

func TestSourceRepository_DeleteSource_Cascades(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	src := createTestSource(t, repos, "https://example.com/feed.xml")
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-1", ""))
	require.NoError(t, repos.Forwarded.Record(ctx, src.ID, "guid-2", ""))

	require.NoError(t, repos.Source.DeleteSource(ctx, src.ID))

	_, err := repos.Source.GetSource(ctx, src.ID)
	assert.ErrorIs(t, err, ErrSourceNotFound)

	var count int
	require.NoError(t, repos.DB.GetContext(ctx, &count,
		"SELECT COUNT(1) FROM forwarded_items WHERE source_id = ?", src.ID))
	assert.Zero(t, count, "forwarded records go with the source")
}
