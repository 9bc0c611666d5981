// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package objective manages the versioned objective-function set and the
// manager that evolves it from recorded feedback.
//
// Objectives live in a YAML document keyed by name. The document is
// read-mostly: the only writer is the adaptive manager, which rewrites
// the file atomically and bumps the minor version on every change.
// Formulas are written in the sandbox expression grammar so a rewritten
// objective remains evaluable by the same interpreter that checks policy
// constraints.
package objective

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Directions an objective can optimize in.
const (
	DirectionMinimize = "minimize"
	DirectionMaximize = "maximize"
)

// Well-known objective names the manager targets.
const (
	ObjectiveMinimizeCost    = "minimize_cost"
	ObjectiveMaximizeValue   = "maximize_value"
	ObjectiveMaximizeQuality = "maximize_quality"
	ObjectiveStability       = "stability"
)

// Objective is one entry in the objective-function set.
type Objective struct {
	// Name keys the objective within the set.
	Name string `yaml:"name" json:"name"`

	// Formula is an expression in the sandbox grammar, e.g.
	// "metrics.cost_per_item".
	Formula string `yaml:"formula" json:"formula"`

	// Direction is minimize or maximize.
	Direction string `yaml:"direction" json:"direction"`

	// Weight is the objective's share in composite scoring.
	Weight float64 `yaml:"weight" json:"weight"`

	// Tolerance is the accepted drift fraction before the objective is
	// considered violated. Zero means the objective carries no tolerance.
	Tolerance float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`

	// Description is operator-facing prose.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Set is the versioned objective-function document.
type Set struct {
	// Version is a semver string, e.g. "v1.3.0". Bumped on every rewrite.
	Version string `yaml:"version" json:"version"`

	// UpdatedAt is the RFC3339 UTC time of the last rewrite.
	UpdatedAt string `yaml:"updated_at" json:"updated_at"`

	// Objectives is the ordered entry list.
	Objectives []Objective `yaml:"objectives" json:"objectives"`
}

// Find returns the index of the named objective, or -1.
func (s *Set) Find(name string) int {
	for i := range s.Objectives {
		if s.Objectives[i].Name == name {
			return i
		}
	}
	return -1
}

// DefaultSet returns the seed document written when no objective file
// exists yet.
func DefaultSet() Set {
	return Set{
		Version:   "v1.0.0",
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Objectives: []Objective{
			{
				Name:        ObjectiveMinimizeCost,
				Formula:     "metrics.cost_per_item",
				Direction:   DirectionMinimize,
				Weight:      0.3,
				Description: "Keep per-item generation cost down.",
			},
			{
				Name:        ObjectiveMaximizeQuality,
				Formula:     "metrics.quality_score",
				Direction:   DirectionMaximize,
				Weight:      0.5,
				Description: "Keep the composite quality score up.",
			},
			{
				Name:        ObjectiveStability,
				Formula:     "abs(metrics.quality_score - baseline.quality_score)",
				Direction:   DirectionMinimize,
				Weight:      0.2,
				Tolerance:   0.20,
				Description: "Prevent drift between consecutive scoring runs.",
			},
		},
	}
}

// bumpMinor returns the next minor version. Invalid input resets to
// v1.0.0 rather than propagating garbage into the document.
func bumpMinor(version string) string {
	if !semver.IsValid(version) {
		return "v1.0.0"
	}
	canonical := semver.Canonical(version)
	parts := strings.Split(strings.TrimPrefix(canonical, "v"), ".")
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return "v1.0.0"
	}
	return fmt.Sprintf("v%s.%d.0", parts[0], minor+1)
}

// =============================================================================
// Store
// =============================================================================

// Store persists the objective set as a versioned YAML file.
//
// # Thread Safety
//
// Safe for concurrent use. Rewrites hold a mutex across the
// load-mutate-save cycle and replace the file atomically.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens the store, seeding the default set if the file does
// not exist yet.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create objectives directory: %w", err)
	}
	store := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := store.write(DefaultSet()); err != nil {
			return nil, fmt.Errorf("failed to seed objective set: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat objectives file: %w", err)
	}
	return store, nil
}

// Load reads and validates the current document.
func (s *Store) Load() (Set, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read objectives file: %w", err)
	}
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return Set{}, fmt.Errorf("failed to parse objectives file: %w", err)
	}
	if !semver.IsValid(set.Version) {
		return Set{}, fmt.Errorf("objectives file has invalid version %q", set.Version)
	}
	return set, nil
}

// Get returns a copy of the named objective.
func (s *Store) Get(name string) (Objective, error) {
	set, err := s.Load()
	if err != nil {
		return Objective{}, err
	}
	idx := set.Find(name)
	if idx < 0 {
		return Objective{}, fmt.Errorf("objective %q not found", name)
	}
	return set.Objectives[idx], nil
}

// Rewrite loads the document, applies the mutation, bumps the minor
// version, and saves atomically. Returns the saved document.
func (s *Store) Rewrite(mutate func(*Set) error) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.loadLocked()
	if err != nil {
		return Set{}, err
	}
	if err := mutate(&set); err != nil {
		return Set{}, err
	}
	set.Version = bumpMinor(set.Version)
	set.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := s.write(set); err != nil {
		return Set{}, err
	}
	return set, nil
}

func (s *Store) loadLocked() (Set, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read objectives file: %w", err)
	}
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return Set{}, fmt.Errorf("failed to parse objectives file: %w", err)
	}
	return set, nil
}

// write marshals and replaces the file via temp-and-rename.
func (s *Store) write(set Set) error {
	raw, err := yaml.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal objective set: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "objectives.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp objectives file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write objectives: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp objectives file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set objectives file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace objectives file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
