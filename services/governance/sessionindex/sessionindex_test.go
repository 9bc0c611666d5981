// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessionindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// TestTouchAndGet verifies upsert and lookup round-trip.
func TestTouchAndGet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Touch(ctx, "sess-1", 2, phase.StatusActive)
	require.NoError(t, err)

	record, err := idx.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "sess-1", record.SessionID)
	assert.Equal(t, 2, int(record.Phase))
	assert.Equal(t, phase.StatusActive, record.Status)
	assert.NotEmpty(t, record.UpdatedAt)
}

// TestGetUnknownSession verifies a missing session returns nil, not error.
func TestGetUnknownSession(t *testing.T) {
	idx := newTestIndex(t)

	record, err := idx.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, record)
}

// TestTouchUpserts verifies a second touch overwrites the first.
func TestTouchUpserts(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Touch(ctx, "sess-1", 0, phase.StatusActive))
	require.NoError(t, idx.Touch(ctx, "sess-1", 3, phase.StatusActive))

	record, err := idx.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, int(record.Phase))

	records, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestListAndCountActive verifies listing and active counting.
func TestListAndCountActive(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Touch(ctx, "a", 1, phase.StatusActive))
	require.NoError(t, idx.Touch(ctx, "b", 4, phase.StatusCompleted))
	require.NoError(t, idx.Touch(ctx, "c", 0, phase.StatusBlocked))
	require.NoError(t, idx.Touch(ctx, "d", 2, phase.StatusActive))

	records, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	count, err := idx.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// TestRemove verifies removal and idempotency.
func TestRemove(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Touch(ctx, "sess-1", 1, phase.StatusActive))
	require.NoError(t, idx.Remove(ctx, "sess-1"))

	record, err := idx.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, record)

	// Removing again is a no-op.
	require.NoError(t, idx.Remove(ctx, "sess-1"))
}

// TestRebuild verifies the index can be reconstructed from state records.
func TestRebuild(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Stale content that the rebuild must discard.
	require.NoError(t, idx.Touch(ctx, "stale", 1, phase.StatusActive))

	states := []phase.PhaseState{
		{SessionID: "x", CurrentPhase: 2, Status: phase.StatusActive, UpdatedAt: "2026-08-25T10:00:00Z"},
		{SessionID: "y", CurrentPhase: 4, Status: phase.StatusCompleted, UpdatedAt: "2026-08-25T11:00:00Z"},
	}
	require.NoError(t, idx.Rebuild(ctx, states))

	records, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	stale, err := idx.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)

	x, err := idx.Get(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, x)
	assert.Equal(t, "2026-08-25T10:00:00Z", x.UpdatedAt)
}

// TestTouchRejectsInvalidSessionID verifies session id validation applies.
func TestTouchRejectsInvalidSessionID(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Touch(context.Background(), "bad/id", 0, phase.StatusActive)
	assert.Error(t, err)
}

// TestContextCancellation verifies cancelled contexts are honored.
func TestContextCancellation(t *testing.T) {
	idx := newTestIndex(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := idx.Touch(ctx, "sess-1", 0, phase.StatusActive)
	assert.Error(t, err)

	_, err = idx.List(ctx)
	assert.Error(t, err)
}

// TestPersistentIndexSurvivesReopen verifies on-disk mode persists.
func TestPersistentIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	idx, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, idx.Touch(ctx, "sess-1", 3, phase.StatusActive))
	require.NoError(t, idx.Close())

	idx2, err := New(cfg)
	require.NoError(t, err)
	defer idx2.Close()

	record, err := idx2.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, int(record.Phase))
}

// TestConfigDefaults verifies the two config constructors.
func TestConfigDefaults(t *testing.T) {
	t.Run("DefaultConfig has SyncWrites", func(t *testing.T) {
		cfg := DefaultConfig("/tmp/idx")
		assert.True(t, cfg.SyncWrites)
		assert.False(t, cfg.InMemory)
		assert.Equal(t, 5*time.Minute, cfg.GCInterval)
	})

	t.Run("InMemoryConfig disables GC", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Equal(t, time.Duration(0), cfg.GCInterval)
	})
}
