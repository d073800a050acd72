// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kvcache provides the key-value cache primitives the memory
// service needs from its embedded store: ranked member buckets with
// whole-key expiry, plain get/set with expiry, and per-key counters.
//
// BadgerDB backs the cache (~100µs access). Members of a ranked bucket
// are serialized into a single value, so bucket mutations are atomic
// within one transaction, and member removal is a linear scan over
// opaque blobs.
package kvcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Sentinel errors for cache operations.
var (
	// ErrKeyNotFound is returned when a key is absent or expired.
	ErrKeyNotFound = errors.New("cache key not found")

	// ErrCacheClosed is returned after Close.
	ErrCacheClosed = errors.New("cache is closed")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config holds configuration for the cache's Badger instance.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal log output. If nil, Badger's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults (durable writes).
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests (no disk I/O).
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// Cache is the Badger-backed key-value cache.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db *badger.DB
}

// Open creates a Cache with the given configuration.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. The directory is created if it does not exist.
//
// Outputs:
//
//	*Cache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// -----------------------------------------------------------------------------
// Ranked Buckets
// -----------------------------------------------------------------------------

// Member is one scored entry of a ranked bucket. The payload is an
// opaque serialized blob; the bucket knows nothing of its structure.
type Member struct {
	Payload json.RawMessage `json:"payload"`
	Score   float64         `json:"score"`
}

// AddScored inserts a member into the ranked bucket at key as one
// atomic batch.
//
// Description:
//
//	In a single transaction: reads the bucket, inserts the member in
//	score order, trims the bucket to maxMembers by descending score,
//	and rewrites the whole bucket with a fresh TTL. The TTL therefore
//	applies to the whole bucket and is reset on every insert.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	key - Bucket key.
//	payload - Opaque serialized member.
//	score - Ranking score (higher sorts first).
//	ttl - Expiry applied to the whole bucket.
//	maxMembers - Cap; lowest-scoring members beyond it are evicted.
//	             Zero means unbounded.
//
// Outputs:
//
//	error - Non-nil on any backend error (fail-closed).
func (c *Cache) AddScored(ctx context.Context, key string, payload []byte, score float64, ttl time.Duration, maxMembers int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		members, err := readBucket(txn, key)
		if err != nil {
			return err
		}

		members = append(members, Member{Payload: payload, Score: score})
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Score > members[j].Score
		})
		if maxMembers > 0 && len(members) > maxMembers {
			members = members[:maxMembers]
		}

		return writeBucket(txn, key, members, ttl)
	})
}

// RangeByScoreDesc returns up to topK members of the bucket ordered by
// descending score.
//
// Outputs:
//
//	[]Member - The highest-scored members; empty (not nil error) when
//	           the key is absent or expired.
//	error - Non-nil only on backend failure.
func (c *Cache) RangeByScoreDesc(ctx context.Context, key string, topK int) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var members []Member
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		members, err = readBucket(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	if topK > 0 && len(members) > topK {
		members = members[:topK]
	}
	return members, nil
}

// RemoveMember deletes the first member for which match returns true.
//
// Description:
//
//	Members are opaque serialized blobs, so removal scans the whole
//	bucket (O(bucket size)). The bucket's remaining TTL is preserved.
//
// Outputs:
//
//	bool - Whether a member was removed.
//	error - Non-nil on backend failure.
func (c *Cache) RemoveMember(ctx context.Context, key string, match func(payload []byte) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	removed := false
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		remaining := ttlRemaining(item)

		members, err := decodeBucket(item)
		if err != nil {
			return err
		}

		kept := members[:0]
		for _, m := range members {
			if !removed && match(m.Payload) {
				removed = true
				continue
			}
			kept = append(kept, m)
		}
		if !removed {
			return nil
		}

		return writeBucket(txn, key, kept, remaining)
	})
	return removed, err
}

// readBucket loads and decodes the bucket at key, treating a missing
// key as an empty bucket.
func readBucket(txn *badger.Txn, key string) ([]Member, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBucket(item)
}

func decodeBucket(item *badger.Item) ([]Member, error) {
	var members []Member
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &members)
	})
	if err != nil {
		return nil, fmt.Errorf("decode bucket: %w", err)
	}
	return members, nil
}

func writeBucket(txn *badger.Txn, key string, members []Member, ttl time.Duration) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}

	entry := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return txn.SetEntry(entry)
}

// ttlRemaining computes the remaining TTL of an item, zero when the
// item never expires.
func ttlRemaining(item *badger.Item) time.Duration {
	expiresAt := item.ExpiresAt()
	if expiresAt == 0 {
		return 0
	}
	remaining := time.Until(time.Unix(int64(expiresAt), 0))
	if remaining < 0 {
		// Expired between read and write; shortest representable TTL
		// so the rewrite disappears almost immediately.
		remaining = time.Second
	}
	return remaining
}

// -----------------------------------------------------------------------------
// Plain Values
// -----------------------------------------------------------------------------

// SetWithExpiry stores value at key with the given TTL.
func (c *Cache) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get retrieves the value at key.
//
// Outputs:
//
//	[]byte - A copy of the stored value.
//	error - ErrKeyNotFound when absent or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the value at key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// -----------------------------------------------------------------------------
// Counters
// -----------------------------------------------------------------------------

// IncrCounter atomically adds delta to the integer counter at key.
//
// Description:
//
//	Counters are stored as decimal strings. The TTL is applied when the
//	counter is created and preserved on subsequent increments, so a
//	per-day counter expires on schedule no matter how often it grows.
//
// Outputs:
//
//	int64 - The counter value after the increment.
//	error - Non-nil on backend failure.
func (c *Cache) IncrCounter(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := c.db.Update(func(txn *badger.Txn) error {
		effectiveTTL := ttl

		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			total = delta
		case err != nil:
			return err
		default:
			var current int64
			verr := item.Value(func(val []byte) error {
				_, serr := fmt.Sscanf(string(val), "%d", &current)
				return serr
			})
			if verr != nil {
				return fmt.Errorf("decode counter: %w", verr)
			}
			total = current + delta
			if remaining := ttlRemaining(item); remaining > 0 {
				effectiveTTL = remaining
			}
		}

		entry := badger.NewEntry([]byte(key), []byte(fmt.Sprintf("%d", total)))
		if effectiveTTL > 0 {
			entry = entry.WithTTL(effectiveTTL)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetCounter reads the counter at key, zero when absent.
func (c *Cache) GetCounter(ctx context.Context, key string) (int64, error) {
	data, err := c.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var value int64
	if _, err := fmt.Sscanf(string(data), "%d", &value); err != nil {
		return 0, fmt.Errorf("decode counter: %w", err)
	}
	return value, nil
}
