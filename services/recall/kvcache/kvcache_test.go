// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kvcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestAddScoredOrdering(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	scores := []float64{0.3, 0.9, 0.1, 0.7}
	for i, score := range scores {
		payload := []byte(fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, cache.AddScored(ctx, "bucket", payload, score, time.Minute, 0))
	}

	members, err := cache.RangeByScoreDesc(ctx, "bucket", 0)
	require.NoError(t, err)
	require.Len(t, members, 4)

	for i := 1; i < len(members); i++ {
		assert.GreaterOrEqual(t, members[i-1].Score, members[i].Score)
	}
	assert.Equal(t, 0.9, members[0].Score)
}

func TestAddScoredEvictsBeyondCap(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	const capacity = 5
	for i := 0; i < 20; i++ {
		payload := []byte(fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, cache.AddScored(ctx, "bucket", payload, float64(i), time.Minute, capacity))
	}

	members, err := cache.RangeByScoreDesc(ctx, "bucket", 0)
	require.NoError(t, err)
	require.Len(t, members, capacity)

	// Only the highest-scored members survive.
	assert.Equal(t, float64(19), members[0].Score)
	assert.Equal(t, float64(15), members[capacity-1].Score)
}

func TestRangeByScoreDescTopK(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, cache.AddScored(ctx, "bucket", []byte(`{}`), float64(i), time.Minute, 0))
	}

	members, err := cache.RangeByScoreDesc(ctx, "bucket", 3)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	missing, err := cache.RangeByScoreDesc(ctx, "no-such-bucket", 3)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRemoveMember(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		payload := []byte(fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, cache.AddScored(ctx, "bucket", payload, float64(i), time.Minute, 0))
	}

	removed, err := cache.RemoveMember(ctx, "bucket", func(payload []byte) bool {
		return string(payload) == `{"n":1}`
	})
	require.NoError(t, err)
	assert.True(t, removed)

	members, err := cache.RangeByScoreDesc(ctx, "bucket", 0)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	removed, err = cache.RemoveMember(ctx, "bucket", func([]byte) bool { return false })
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = cache.RemoveMember(ctx, "absent", func([]byte) bool { return true })
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetSetDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, cache.SetWithExpiry(ctx, "key", []byte("value"), time.Minute))
	got, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, cache.Delete(ctx, "key"))
	_, err = cache.Get(ctx, "key")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCounters(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	value, err := cache.GetCounter(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	total, err := cache.IncrCounter(ctx, "counter", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, err = cache.IncrCounter(ctx, "counter", 7, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)

	value, err = cache.GetCounter(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(12), value)
}

func TestCancelledContext(t *testing.T) {
	cache := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, cache.AddScored(ctx, "bucket", []byte(`{}`), 1, time.Minute, 0))
	_, err := cache.Get(ctx, "key")
	require.Error(t, err)
}
