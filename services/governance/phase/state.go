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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianGovernance/pkg/validation"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// =============================================================================
// Phase State
// =============================================================================

// SessionStatus describes where a session sits in its lifecycle.
type SessionStatus string

const (
	// StatusActive means the session is progressing through phases.
	StatusActive SessionStatus = "active"

	// StatusCompleted means the session passed the final phase's gate.
	StatusCompleted SessionStatus = "completed"

	// StatusBlocked means the session failed the entry phase's gate.
	StatusBlocked SessionStatus = "blocked"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// PhaseState is the single mutable record tracking one session's position
// in the pipeline. It is created lazily on the session's first transition,
// overwritten on every subsequent transition, and deleted only by explicit
// reset tooling.
type PhaseState struct {
	// SessionID identifies the pipeline session.
	SessionID string `json:"session_id"`

	// CurrentPhase is the phase the session sits in now.
	CurrentPhase datatypes.QualityPhase `json:"current_phase"`

	// UpdatedAt is the RFC3339 UTC time of the last transition.
	UpdatedAt string `json:"updated_at"`

	// LastGateResult is the most recent gate verdict, empty before the
	// first transition completes.
	LastGateResult datatypes.GateResult `json:"last_gate_result,omitempty"`

	// LastMetrics is the metric snapshot from the most recent transition.
	LastMetrics datatypes.Metrics `json:"last_metrics"`

	// NextPhase is the phase computed by the most recent transition; nil
	// when the session completed or blocked.
	NextPhase *datatypes.QualityPhase `json:"next_phase"`

	// Status is the session lifecycle state.
	Status SessionStatus `json:"status"`
}

// =============================================================================
// State Store
// =============================================================================

// StateStore persists one PhaseState record per session.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Load returns the state for a session, or nil if none exists yet.
	Load(sessionID string) (*PhaseState, error)

	// Save overwrites the session's state record durably.
	Save(state PhaseState) error

	// Delete removes the session's state record. Deleting a session that
	// has no record is not an error.
	Delete(sessionID string) error

	// List returns the state records of every known session.
	List() ([]PhaseState, error)
}

// ValidateSessionID checks that a session identifier is non-empty and safe
// to use as a file name. Anything else is rejected before touching the
// filesystem.
func ValidateSessionID(sessionID string) error {
	if err := validation.ValidateName(sessionID); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	return nil
}

// fileStateStore keeps one JSON file per session under a state directory.
//
// # Fields
//
//   - dir: Directory holding <session>.json records.
//   - mu: Serializes writes; reads go through the filesystem.
type fileStateStore struct {
	dir string
	mu  sync.Mutex
}

// Compile-time interface check.
var _ StateStore = (*fileStateStore)(nil)

// NewFileStateStore creates the state directory if needed and returns a
// store over it.
func NewFileStateStore(dir string) (StateStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &fileStateStore{dir: dir}, nil
}

func (s *fileStateStore) statePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Load reads a session's record, returning nil when the session is new.
func (s *fileStateStore) Load(sessionID string) (*PhaseState, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read phase state: %w", err)
	}

	var state PhaseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse phase state for %q: %w", sessionID, err)
	}
	return &state, nil
}

// Save writes the record atomically: a temp file in the same directory is
// renamed over the target, so readers never observe a half-written record.
func (s *fileStateStore) Save(state PhaseState) error {
	if err := ValidateSessionID(state.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal phase state: %w", err)
	}

	target := s.statePath(state.SessionID)
	tmp, err := os.CreateTemp(s.dir, state.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write phase state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace phase state: %w", err)
	}
	return nil
}

// Delete removes a session's record if present.
func (s *fileStateStore) Delete(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.statePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete phase state: %w", err)
	}
	return nil
}

// List returns every session's record, skipping files that do not parse.
func (s *fileStateStore) List() ([]PhaseState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []PhaseState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var state PhaseState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}
