// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

func newTestStore(t *testing.T) StateStore {
	t.Helper()
	store, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStateStore: %v", err)
	}
	return store
}

func TestLoadMissingSessionReturnsNil(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load("never-seen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for unknown session, got %+v", state)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	next := datatypes.QualityPhase(2)
	in := PhaseState{
		SessionID:      "sess-1",
		CurrentPhase:   2,
		UpdatedAt:      "2026-08-25T10:00:00Z",
		LastGateResult: datatypes.GatePass,
		LastMetrics:    datatypes.Metrics{QualityScore: datatypes.Float64Ptr(0.91)},
		NextPhase:      &next,
		Status:         StatusActive,
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("expected state, got nil")
	}
	if out.CurrentPhase != 2 || out.Status != StatusActive {
		t.Errorf("unexpected state: %+v", out)
	}
	if out.NextPhase == nil || *out.NextPhase != 2 {
		t.Errorf("NextPhase = %v, want 2", out.NextPhase)
	}
	if out.LastMetrics.QualityScore == nil || *out.LastMetrics.QualityScore != 0.91 {
		t.Errorf("LastMetrics.QualityScore = %v, want 0.91", out.LastMetrics.QualityScore)
	}
}

func TestSaveOverwritesPrevious(t *testing.T) {
	store := newTestStore(t)

	state := PhaseState{SessionID: "sess-1", CurrentPhase: 0, Status: StatusActive}
	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state.CurrentPhase = 3
	if err := store.Save(state); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	out, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.CurrentPhase != 3 {
		t.Errorf("CurrentPhase = %d, want 3", out.CurrentPhase)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(PhaseState{SessionID: "sess-1", Status: StatusActive}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete("sess-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	state, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil after delete, got %+v", state)
	}
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := NewFileStateStore(dir)
	if err != nil {
		t.Fatalf("NewFileStateStore: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(PhaseState{SessionID: id, Status: StatusActive}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	states, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("List returned %d states, want 3", len(states))
	}
}

func TestValidateSessionID(t *testing.T) {
	valid := []string{"s", "session-1", "a.b_c-d", "ABC123"}
	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("ValidateSessionID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", "a/b", "..", "../../etc/passwd", "a b", "sess\x00"}
	for _, id := range invalid {
		if err := ValidateSessionID(id); err == nil {
			t.Errorf("ValidateSessionID(%q) = nil, want error", id)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.Terminal() {
		t.Error("active must not be terminal")
	}
	if !StatusCompleted.Terminal() {
		t.Error("completed must be terminal")
	}
	if !StatusBlocked.Terminal() {
		t.Error("blocked must be terminal")
	}
}
