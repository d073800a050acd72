// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shortterm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRecall/services/recall/kvcache"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	cache, err := kvcache.Open(kvcache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	store, err := New(cache, Config{Capacity: capacity, BucketTTL: time.Minute})
	require.NoError(t, err)
	return store
}

func record(projectID, memoryID string, score float64) memtypes.MemoryRecord {
	now := time.Now().UTC()
	return memtypes.MemoryRecord{
		MemoryID:  memoryID,
		ProjectID: projectID,
		Content:   "content for " + memoryID,
		Tier:      memtypes.TierShort,
		Relevance: score,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStoreAndRetrieveOrdering(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	for i, score := range []float64{0.2, 0.9, 0.5} {
		rec := record("proj", fmt.Sprintf("mem-%d", i), score)
		require.NoError(t, store.Store(ctx, rec))
	}

	results, err := store.Retrieve(ctx, memtypes.RetrievalQuery{ProjectID: "proj", TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "mem-1", results[0].Record.MemoryID)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, "mem-2", results[1].Record.MemoryID)
	assert.Equal(t, "mem-0", results[2].Record.MemoryID)
}

func TestCapacityEvictsLowestScored(t *testing.T) {
	const capacity = 100
	store := newTestStore(t, capacity)
	ctx := context.Background()

	// Store well past the cap; only the highest-scored survive.
	for i := 0; i < 150; i++ {
		rec := record("proj", fmt.Sprintf("mem-%d", i), float64(i)/150.0)
		require.NoError(t, store.Store(ctx, rec))
	}

	results, err := store.Retrieve(ctx, memtypes.RetrievalQuery{ProjectID: "proj", TopK: 0})
	require.NoError(t, err)
	require.Len(t, results, capacity)

	lowestKept := results[len(results)-1].Score
	assert.InDelta(t, 50.0/150.0, lowestKept, 1e-9)
}

func TestProjectsAreIsolated(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, record("proj-a", "mem-a", 0.5)))
	require.NoError(t, store.Store(ctx, record("proj-b", "mem-b", 0.5)))

	results, err := store.Retrieve(ctx, memtypes.RetrievalQuery{ProjectID: "proj-a", TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem-a", results[0].Record.MemoryID)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, record("proj", "mem-0", 0.4)))
	require.NoError(t, store.Store(ctx, record("proj", "mem-1", 0.6)))

	require.NoError(t, store.Delete(ctx, "proj", "mem-0"))

	results, err := store.Retrieve(ctx, memtypes.RetrievalQuery{ProjectID: "proj", TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem-1", results[0].Record.MemoryID)

	err = store.Delete(ctx, "proj", "mem-0")
	require.ErrorIs(t, err, memtypes.ErrMemoryNotFound)

	err = store.Delete(ctx, "empty-proj", "mem-x")
	require.ErrorIs(t, err, memtypes.ErrMemoryNotFound)
}

func TestTier(t *testing.T) {
	store := newTestStore(t, 100)
	assert.Equal(t, memtypes.TierShort, store.Tier())
}
