// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessionindex keeps a fast embedded index of pipeline sessions.
//
// The phase state files are the source of truth; this index exists so the
// API and dashboards can answer "which sessions are in flight, and where"
// without scanning a directory of JSON files. It is backed by BadgerDB
// for low-latency local access and can be rebuilt from the state store at
// any time.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package sessionindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
)

// recordPrefix namespaces session keys inside the database.
const recordPrefix = "session/"

// Record is the indexed view of one session.
type Record struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// Phase is the session's current phase.
	Phase datatypes.QualityPhase `json:"phase"`

	// Status is the session's lifecycle state.
	Status phase.SessionStatus `json:"status"`

	// UpdatedAt is the RFC3339 UTC time of the last touch.
	UpdatedAt string `json:"updated_at"`
}

// Config holds configuration for the session index database.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes and a
// five-minute GC cycle.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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

// =============================================================================
// Index
// =============================================================================

// Index is a BadgerDB-backed session index.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Index struct {
	db       *badger.DB
	gcRunner *gcRunner
	inMemory bool
}

// Compile-time check: the index can serve as the phase machine's tracker.
var _ phase.Tracker = (*Index)(nil)

// New opens the session index with the given configuration.
//
// # Inputs
//
//   - cfg: Database configuration. Path is required unless InMemory is set.
//
// # Outputs
//
//   - *Index: The opened index. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func New(cfg Config) (*Index, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent session index")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create session index directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	idx := &Index{db: db, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		idx.gcRunner = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		idx.gcRunner.start()
	}
	return idx, nil
}

// NewInMemory opens an index for testing. Data is lost when closed.
func NewInMemory() (*Index, error) {
	return New(InMemoryConfig())
}

func recordKey(sessionID string) []byte {
	return []byte(recordPrefix + sessionID)
}

// Touch upserts a session's indexed record.
func (i *Index) Touch(ctx context.Context, sessionID string, p datatypes.QualityPhase, status phase.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := phase.ValidateSessionID(sessionID); err != nil {
		return err
	}

	record := Record{
		SessionID: sessionID,
		Phase:     p,
		Status:    status,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(sessionID), raw)
	})
}

// Get returns a session's indexed record, or nil if it is not indexed.
func (i *Index) Get(ctx context.Context, sessionID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var record *Record
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("parse session record %s: %w", sessionID, err)
			}
			record = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns every indexed session record.
func (i *Index) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var records []Record
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r Record
				if err := json.Unmarshal(val, &r); err != nil {
					// A record that does not parse is dropped from the
					// listing; the state store still has the session.
					slog.Warn("sessionindex.record.unreadable", "key", string(it.Item().Key()))
					return nil
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountActive returns the number of sessions whose status is active.
func (i *Index) CountActive(ctx context.Context) (int, error) {
	records, err := i.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range records {
		if !r.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

// Remove forgets a session. Removing an unknown session is not an error.
func (i *Index) Remove(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(sessionID))
	})
}

// Rebuild replaces the index contents with the given state records. Used
// after a crash or when the index directory was deleted.
func (i *Index) Rebuild(ctx context.Context, states []phase.PhaseState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if err := i.db.DropPrefix([]byte(recordPrefix)); err != nil {
		return fmt.Errorf("clear session index: %w", err)
	}
	for _, state := range states {
		record := Record{
			SessionID: state.SessionID,
			Phase:     state.CurrentPhase,
			Status:    state.Status,
			UpdatedAt: state.UpdatedAt,
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal session record: %w", err)
		}
		err = i.db.Update(func(txn *badger.Txn) error {
			return txn.Set(recordKey(state.SessionID), raw)
		})
		if err != nil {
			return fmt.Errorf("index session %s: %w", state.SessionID, err)
		}
	}
	slog.Info("sessionindex.rebuilt", "sessions", len(states))
	return nil
}

// Close stops garbage collection and closes the database.
func (i *Index) Close() error {
	if i.gcRunner != nil {
		i.gcRunner.stop()
	}
	return i.db.Close()
}

// =============================================================================
// Garbage Collection
// =============================================================================

// gcRunner triggers periodic BadgerDB value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// RunValueLogGC returns ErrNoRewrite when there was nothing to collect.
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("session index value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("session index value log GC error", slog.String("error", err.Error()))
		}
	}
}
