// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package symmetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// maxLineBytes bounds a single JSONL line during reads.
const maxLineBytes = 1024 * 1024

// DesignFeedback is one immutable record of a second-order proposal, kept
// whether or not it cleared the confidence floor.
type DesignFeedback struct {
	// ID is a UUID assigned at generation time.
	ID string `json:"id"`

	// Timestamp is the RFC 3339 generation time.
	Timestamp string `json:"timestamp"`

	// Heuristic names the detector that produced the proposal.
	Heuristic string `json:"heuristic"`

	// Target is the policy name the proposal edits, or "rule_set" for
	// document-wide changes.
	Target string `json:"target"`

	// Change describes the edit in operator terms.
	Change string `json:"change"`

	// Reason explains the mined signal behind the edit.
	Reason string `json:"reason"`

	// Confidence is the detector's pattern strength in [0, 1].
	Confidence float64 `json:"confidence"`

	// Applied is false when the proposal was skipped below the floor or
	// the rewrite failed.
	Applied bool `json:"applied"`

	// RuleSetVersion is the policy document version produced by an
	// applied proposal.
	RuleSetVersion string `json:"ruleset_version,omitempty"`
}

// DesignLog persists design feedback as append-only JSONL. Same durability
// and tolerance semantics as the feedback dataset stores.
type DesignLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewDesignLog opens (or creates) the design feedback log at path.
func NewDesignLog(path string) (*DesignLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create design log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open design log: %w", err)
	}
	return &DesignLog{path: path, file: file}, nil
}

// Append writes one record as a single JSONL line.
func (l *DesignLog) Append(record DesignFeedback) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal design feedback: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("design log is closed")
	}
	if _, err := l.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append design feedback: %w", err)
	}
	return nil
}

// ReadAll returns every parseable record in file order. Unparseable lines,
// including a torn trailing line, are skipped with a warning.
func (l *DesignLog) ReadAll() ([]DesignFeedback, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open design log: %w", err)
	}
	defer file.Close()

	var records []DesignFeedback
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record DesignFeedback
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("symmetry.design.skipping_bad_line", "line", lineNo, "error", err)
			continue
		}
		if record.Heuristic == "" {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan design log: %w", err)
	}
	return records, nil
}

// Last returns the most recent record, or nil when the log is empty.
func (l *DesignLog) Last() (*DesignFeedback, error) {
	records, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[len(records)-1], nil
}

// Count returns the number of parseable records.
func (l *DesignLog) Count() (int64, error) {
	records, err := l.ReadAll()
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Close releases the underlying file handle.
func (l *DesignLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
