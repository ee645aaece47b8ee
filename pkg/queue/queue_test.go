package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobara/anisource/pkg/database/databasetest"
)

func TestFileKey_Deterministic(t *testing.T) {
	a := FileKey("salt", 55825, 1, "animasu", "720p")
	b := FileKey("salt", 55825, 1, "animasu", "720p")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestFileKey_DiffersByAnyComponent(t *testing.T) {
	base := FileKey("salt", 55825, 1, "animasu", "720p")
	assert.NotEqual(t, base, FileKey("other-salt", 55825, 1, "animasu", "720p"))
	assert.NotEqual(t, base, FileKey("salt", 55826, 1, "animasu", "720p"))
	assert.NotEqual(t, base, FileKey("salt", 55825, 2, "animasu", "720p"))
	assert.NotEqual(t, base, FileKey("salt", 55825, 1, "samehadaku", "720p"))
	assert.NotEqual(t, base, FileKey("salt", 55825, 1, "animasu", "480p"))
}

func TestNullableResolution(t *testing.T) {
	assert.Nil(t, nullableResolution(""))
	assert.Equal(t, "720p", nullableResolution("720p"))
}

func TestEnqueue_IdempotentAndRevivesFailed(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	first, err := s.Enqueue(ctx, 55825, 1, "animasu", "https://a/", "720p")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	second, err := s.Enqueue(ctx, 55825, 1, "animasu", "https://a/", "720p")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-enqueue must land on the same row")

	require.NoError(t, s.UpdateStatus(ctx, first.ID, StatusFailed, "download blew up"))

	revived, err := s.Enqueue(ctx, 55825, 1, "animasu", "https://b/", "720p")
	require.NoError(t, err)
	assert.Equal(t, first.ID, revived.ID)
	assert.Equal(t, StatusPending, revived.Status)
	assert.Equal(t, "https://b/", revived.VideoURL)
	assert.Equal(t, 1, revived.RetryCount)
}

func TestEnqueue_ReadyIsANoOp(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	entry, err := s.Enqueue(ctx, 55825, 2, "animasu", "https://a/", "720p")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, entry.ID, StatusReady, ""))

	after, err := s.Enqueue(ctx, 55825, 2, "animasu", "https://new/", "720p")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, after.Status)
	assert.Equal(t, "https://a/", after.VideoURL, "a ready entry keeps its original url")
}

func TestEnqueue_NullResolutionIsItsOwnKey(t *testing.T) {
	db := databasetest.New(t)
	s := NewStore(db)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, 55825, 3, "animasu", "https://a/", "")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, 55825, 3, "animasu", "https://a/", "720p")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, 55825, 3, "animasu", "https://b/", "")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM video_queue`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestClaim_ConcurrentCallersDontOverlap(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	const seeded = 8
	for ep := 1; ep <= seeded; ep++ {
		_, err := s.Enqueue(ctx, 55825, ep, "animasu", "https://a/", "720p")
		require.NoError(t, err)
	}

	results := make([][]Entry, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := s.Claim(ctx, seeded/2)
			assert.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, claimed := range results {
		for _, e := range claimed {
			assert.False(t, seen[e.ID], "entry %d claimed twice", e.ID)
			seen[e.ID] = true
			assert.Equal(t, StatusDownloading, e.Status)
		}
	}
	assert.Len(t, seen, seeded)
}

func TestUpsertStoreEntry_PromotesQueueToReady(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	queued, err := s.Enqueue(ctx, 55825, 4, "animasu", "https://a/", "720p")
	require.NoError(t, err)

	stored, err := s.UpsertStoreEntry(ctx, StoreEntry{
		MALID:      55825,
		Episode:    4,
		Provider:   "animasu",
		Resolution: "720p",
		FileKey:    FileKey("salt", 55825, 4, "animasu", "720p"),
		RepoID:     "minio-primary",
		Path:       "anisource-55825/55825/ep4/abc.mp4",
		DirectURL:  "https://minio.internal/abc.mp4",
		StreamURL:  "https://proxy.example/proxy?url=x",
	})
	require.NoError(t, err)
	require.NotZero(t, stored.ID)

	after, err := s.FindByKey(ctx, 55825, 4, "animasu", "720p")
	require.NoError(t, err)
	assert.Equal(t, queued.ID, after.ID)
	assert.Equal(t, StatusReady, after.Status)

	// a second commit for the same key replaces in place
	again, err := s.UpsertStoreEntry(ctx, StoreEntry{
		MALID: 55825, Episode: 4, Provider: "animasu", Resolution: "720p",
		FileKey: stored.FileKey, RepoID: "gcs-secondary",
		Path: stored.Path, DirectURL: "https://gcs/abc.mp4", StreamURL: stored.StreamURL,
	})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)

	found, err := s.FindStoreEntry(ctx, 55825, 4, "animasu", "720p")
	require.NoError(t, err)
	assert.Equal(t, "https://gcs/abc.mp4", found.DirectURL)
}
