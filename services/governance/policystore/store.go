// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policystore persists the governance rule set as a versioned YAML
// document. Feedback components rewrite the document through structured
// mutators rather than editing raw YAML, so every change is validated and
// version-bumped before it reaches disk.
package policystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// Mode selects how strictly the evaluator treats gate results.
type Mode string

const (
	// ModeStandard applies policies as written.
	ModeStandard Mode = "standard"

	// ModeStrict is entered when adaptation history shows a sustained
	// tightening trend. Operators treat WARN outcomes as failures while
	// it is active.
	ModeStrict Mode = "strict"
)

// UnmarshalYAML validates the mode against the known set. An absent or
// empty mode falls back to standard.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch Mode(raw) {
	case ModeStandard, ModeStrict:
		*m = Mode(raw)
		return nil
	case "":
		*m = ModeStandard
		return nil
	default:
		return fmt.Errorf("unknown rule set mode: %q (must be standard or strict)", raw)
	}
}

// RuleSet is the full on-disk policy document.
type RuleSet struct {
	// Version is a semantic version bumped on every rewrite.
	Version string `yaml:"version" json:"version"`

	// Mode is the evaluation strictness for the whole set.
	Mode Mode `yaml:"mode" json:"mode"`

	// UpdatedAt is the RFC 3339 time of the last rewrite.
	UpdatedAt string `yaml:"updated_at" json:"updated_at"`

	// Policies are the governance rules, highest priority first.
	Policies []datatypes.Policy `yaml:"policies" json:"policies"`
}

// Find returns the index of the named policy, or -1 if absent.
func (s *RuleSet) Find(name string) int {
	for i := range s.Policies {
		if s.Policies[i].Name == name {
			return i
		}
	}
	return -1
}

// sortByPriority orders policies by descending priority so higher-priority
// rules are evaluated first. Equal priorities keep their relative order.
func (s *RuleSet) sortByPriority() {
	sort.SliceStable(s.Policies, func(i, j int) bool {
		return s.Policies[i].Priority > s.Policies[j].Priority
	})
}

// validate checks every policy plus the document-level fields.
func (s *RuleSet) validate() error {
	if !semver.IsValid(s.Version) {
		return fmt.Errorf("invalid rule set version %q", s.Version)
	}
	seen := make(map[string]bool, len(s.Policies))
	for _, p := range s.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate policy name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// DefaultRuleSet returns the seed document written when no policy file
// exists yet. The constraints reference the same metric and baseline
// variables the evaluator exposes.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version:   "v1.0.0",
		Mode:      ModeStandard,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Policies: []datatypes.Policy{
			{
				Name:        "quality-floor",
				Description: "Flag batches whose quality score falls below the minimum acceptable level.",
				Enabled:     true,
				Priority:    100,
				Constraints: []string{
					"metrics.quality_score >= 0.70",
					"action: flag_for_review",
				},
			},
			{
				Name:        "cost-ceiling",
				Description: "Notify the cost owner when per-item cost runs more than 25% over baseline.",
				Enabled:     true,
				Priority:    80,
				Constraints: []string{
					"metrics.cost_per_item <= baseline.cost_per_item * 1.25",
					"action: notify_cost_owner",
				},
			},
			{
				Name:        "drift-guard",
				Description: "Freeze threshold changes when quality drifts too far from baseline in either direction.",
				Enabled:     true,
				Priority:    60,
				Constraints: []string{
					"abs(metrics.quality_score - baseline.quality_score) <= 0.20",
					"action: freeze_thresholds",
				},
			},
		},
	}
}

// bumpMinor increments the minor component of a canonical semver string.
// Unparseable versions restart the series at v1.0.0.
func bumpMinor(version string) string {
	if !semver.IsValid(version) {
		return "v1.0.0"
	}
	canonical := semver.Canonical(version)
	parts := strings.SplitN(strings.TrimPrefix(canonical, "v"), ".", 3)
	if len(parts) != 3 {
		return "v1.0.0"
	}
	var major, minor int
	if _, err := fmt.Sscanf(parts[0], "%d", &major); err != nil {
		return "v1.0.0"
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minor); err != nil {
		return "v1.0.0"
	}
	return fmt.Sprintf("v%d.%d.0", major, minor+1)
}

// Store reads and rewrites the rule set file.
//
// # Description
//
// The store owns a single YAML file. Reads parse the current document,
// validate it, and return policies sorted by descending priority. Rewrites
// run a mutator against a fresh copy of the document, bump the minor
// version, and replace the file atomically via a temp file and rename, so
// a crash mid-write never leaves a torn document behind.
//
// # Thread Safety
//
// Safe for concurrent use. A mutex serializes all file access.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens the rule set at path, seeding DefaultRuleSet when the
// file does not exist yet.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("policy store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create policy store directory: %w", err)
	}
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(DefaultRuleSet()); err != nil {
			return nil, fmt.Errorf("seed default rule set: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat policy store: %w", err)
	}
	return s, nil
}

// Path returns the location of the rule set file.
func (s *Store) Path() string {
	return s.path
}

// Load parses and validates the current rule set.
func (s *Store) Load() (RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Policy returns the named policy from the current rule set.
func (s *Store) Policy(name string) (datatypes.Policy, error) {
	set, err := s.Load()
	if err != nil {
		return datatypes.Policy{}, err
	}
	idx := set.Find(name)
	if idx < 0 {
		return datatypes.Policy{}, fmt.Errorf("policy %q not found", name)
	}
	return set.Policies[idx], nil
}

// Rewrite loads the rule set, applies mutate to it, and persists the
// result under a bumped minor version.
//
// # Inputs
//
//   - mutate: Applied to a fresh copy of the document. Returning an error
//     aborts the rewrite and leaves the file untouched.
//
// # Outputs
//
//   - RuleSet: The document as written, including the new version.
//   - error: Non-nil when loading, mutating, validating, or writing fails.
func (s *Store) Rewrite(mutate func(*RuleSet) error) (RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.loadLocked()
	if err != nil {
		return RuleSet{}, err
	}
	if err := mutate(&set); err != nil {
		return RuleSet{}, err
	}
	set.Version = bumpMinor(set.Version)
	set.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	set.sortByPriority()
	if err := set.validate(); err != nil {
		return RuleSet{}, fmt.Errorf("rewritten rule set invalid: %w", err)
	}
	if err := s.write(set); err != nil {
		return RuleSet{}, err
	}
	return set, nil
}

func (s *Store) loadLocked() (RuleSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rule set: %w", err)
	}
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule set: %w", err)
	}
	if err := set.validate(); err != nil {
		return RuleSet{}, err
	}
	set.sortByPriority()
	return set, nil
}

// write replaces the rule set file atomically.
func (s *Store) write(set RuleSet) error {
	data, err := yaml.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal rule set: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".policies-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp rule set: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp rule set: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp rule set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp rule set: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace rule set: %w", err)
	}
	return nil
}

// ===== MUTATORS =====

// SetAnnotation attaches an advisory key/value marker to the named policy.
func SetAnnotation(policyName, key, value string) func(*RuleSet) error {
	return func(set *RuleSet) error {
		if key == "" {
			return fmt.Errorf("annotation key must not be empty")
		}
		idx := set.Find(policyName)
		if idx < 0 {
			return fmt.Errorf("policy %q not found", policyName)
		}
		if set.Policies[idx].Annotations == nil {
			set.Policies[idx].Annotations = make(map[string]string)
		}
		set.Policies[idx].Annotations[key] = value
		return nil
	}
}

// AddPolicy appends a new policy to the set. Names must be unique.
func AddPolicy(p datatypes.Policy) func(*RuleSet) error {
	return func(set *RuleSet) error {
		if err := p.Validate(); err != nil {
			return err
		}
		if set.Find(p.Name) >= 0 {
			return fmt.Errorf("policy %q already exists", p.Name)
		}
		set.Policies = append(set.Policies, p)
		return nil
	}
}

// RewriteConstants substitutes every occurrence of old with new across all
// policy constraints. It fails when no constraint mentions old, so callers
// never burn a version on a no-op rewrite.
func RewriteConstants(old, new string) func(*RuleSet) error {
	return func(set *RuleSet) error {
		if old == "" {
			return fmt.Errorf("constant to rewrite must not be empty")
		}
		if old == new {
			return fmt.Errorf("constant rewrite %q -> %q changes nothing", old, new)
		}
		replaced := 0
		for i := range set.Policies {
			for j, c := range set.Policies[i].Constraints {
				if strings.Contains(c, old) {
					set.Policies[i].Constraints[j] = strings.ReplaceAll(c, old, new)
					replaced++
				}
			}
		}
		if replaced == 0 {
			return fmt.Errorf("no constraint mentions %q", old)
		}
		return nil
	}
}

// SetMode switches the evaluation strictness for the whole rule set.
func SetMode(mode Mode) func(*RuleSet) error {
	return func(set *RuleSet) error {
		switch mode {
		case ModeStandard, ModeStrict:
			set.Mode = mode
			return nil
		default:
			return fmt.Errorf("unknown rule set mode: %q", mode)
		}
	}
}
