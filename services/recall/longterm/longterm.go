// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package longterm implements the long-term memory tier: a durable,
// queryable relational store with confidence-weighted rows.
//
// All mutations run under a transactional commit/rollback discipline.
// Query relevance is a composite of keyword overlap against the stored
// content and the row's curated confidence.
package longterm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// DefaultCandidateLimit bounds how many confidence-ordered rows are
// pulled before composite re-ranking.
const DefaultCandidateLimit = 50

// Config configures the long-term store.
type Config struct {
	// CandidateLimit bounds the candidate row set per query.
	// Default: 50.
	CandidateLimit int

	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.CandidateLimit == 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the long-term tier backend.
//
// Thread Safety: Safe for concurrent use; SQLite serializes writers.
type Store struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// Open opens (or creates) the long-term database at dbPath.
//
// Description:
//
//	Opens SQLite in WAL mode with a busy timeout and creates the
//	schema if missing.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened or migrated.
func Open(dbPath string, config Config) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store, err := New(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing database handle.
func New(db *sql.DB, config Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	config.applyDefaults()

	s := &Store{
		db:     db,
		config: config,
		logger: config.Logger.With(slog.String("component", "longterm_store")),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the memories table and indices.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			memory_id  TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content    TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT 'fact',
			confidence REAL NOT NULL DEFAULT 0.5,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_project_confidence
			ON memories(project_id, confidence DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Tier identifies this backend as the long tier.
func (s *Store) Tier() memtypes.Tier {
	return memtypes.TierLong
}

// Store inserts a record, committed transactionally.
//
// Outputs:
//
//	error - Non-nil on any failure; the transaction is rolled back
//	        (fail-closed write).
func (s *Store) Store(ctx context.Context, rec memtypes.MemoryRecord) error {
	metadata := "{}"
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(data)
	}

	category := rec.Category
	if category == "" {
		category = "fact"
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories
				(memory_id, project_id, content, category, confidence, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.MemoryID, rec.ProjectID, rec.Content, category, rec.Relevance,
			metadata, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		return nil
	})
}

// Retrieve queries rows by project and ranks them by composite score.
//
// Description:
//
//	Candidate rows are selected by project and ordered by stored
//	confidence descending, then re-ranked by
//	keyword_overlap_ratio(query, content) * confidence, where the
//	overlap ratio is the fraction of extracted query keywords found
//	case-insensitively in the row's content.
func (s *Store) Retrieve(ctx context.Context, q memtypes.RetrievalQuery) ([]memtypes.ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, project_id, content, category, confidence, metadata, created_at, updated_at
		FROM memories
		WHERE project_id = ?
		ORDER BY confidence DESC
		LIMIT ?`,
		q.ProjectID, s.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: long-term query: %v", memtypes.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	keywords := ExtractKeywords(q.QueryText)

	results := make([]memtypes.ScoredRecord, 0)
	for rows.Next() {
		rec, confidence, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("skipping unscannable long-term row", slog.String("error", err.Error()))
			continue
		}

		score := KeywordOverlapRatio(keywords, rec.Content) * confidence
		rec.Relevance = score
		results = append(results, memtypes.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: long-term query: %v", memtypes.ErrBackendUnavailable, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if q.TopK > 0 && len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// Get loads one record by ID.
func (s *Store) Get(ctx context.Context, memoryID string) (*memtypes.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, project_id, content, category, confidence, metadata, created_at, updated_at
		FROM memories
		WHERE memory_id = ?`,
		memoryID)

	rec, confidence, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memtypes.ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	rec.Relevance = confidence
	return &rec, nil
}

// Update mutates content and/or metadata in place, transactionally.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	memoryID - The record to mutate.
//	newContent - Replacement content; nil leaves content unchanged.
//	newMetadata - Replacement metadata; nil leaves metadata unchanged.
//
// Outputs:
//
//	error - memtypes.ErrMemoryNotFound if the ID does not exist;
//	        otherwise non-nil on failure with rollback.
func (s *Store) Update(ctx context.Context, memoryID string, newContent *string, newMetadata map[string]string) error {
	if newContent == nil && newMetadata == nil {
		return memtypes.NewValidationError("update", "nothing to update")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		sets := make([]string, 0, 3)
		args := make([]interface{}, 0, 4)

		if newContent != nil {
			sets = append(sets, "content = ?")
			args = append(args, *newContent)
		}
		if newMetadata != nil {
			data, err := json.Marshal(newMetadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			sets = append(sets, "metadata = ?")
			args = append(args, string(data))
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC().UnixMilli(), memoryID)

		res, err := tx.ExecContext(ctx,
			"UPDATE memories SET "+strings.Join(sets, ", ")+" WHERE memory_id = ?",
			args...)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if affected == 0 {
			return memtypes.ErrMemoryNotFound
		}
		return nil
	})
}

// Delete removes one record, transactionally.
func (s *Store) Delete(ctx context.Context, projectID, memoryID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := "DELETE FROM memories WHERE memory_id = ?"
		args := []interface{}{memoryID}
		if projectID != "" {
			query += " AND project_id = ?"
			args = append(args, projectID)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete memory: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete memory: %w", err)
		}
		if affected == 0 {
			return memtypes.ErrMemoryNotFound
		}
		return nil
	})
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", memtypes.ErrBackendUnavailable, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	return tx.Commit()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one memories row.
func scanRecord(sc scanner) (memtypes.MemoryRecord, float64, error) {
	var (
		rec        memtypes.MemoryRecord
		confidence float64
		metadata   string
		createdMs  int64
		updatedMs  int64
	)

	err := sc.Scan(&rec.MemoryID, &rec.ProjectID, &rec.Content, &rec.Category,
		&confidence, &metadata, &createdMs, &updatedMs)
	if err != nil {
		return rec, 0, err
	}

	rec.Tier = memtypes.TierLong
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	if metadata != "" && metadata != "{}" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(metadata), &meta); err == nil {
			rec.Metadata = meta
		}
	}
	return rec, confidence, nil
}

var _ memtypes.TierStore = (*Store)(nil)
