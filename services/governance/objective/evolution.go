// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objective

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Evolution is an immutable audit record of one objective change. Records
// are appended when a proposal is processed and never edited afterwards.
type Evolution struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`

	// Objective is the name the change targeted (pre-change key).
	Objective string `json:"objective"`

	// Change summarizes the mutation, e.g.
	// "minimize_cost -> maximize_value".
	Change string `json:"change"`

	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`

	// Reason explains the pattern that motivated the change.
	Reason string `json:"reason"`

	// Confidence is the pattern strength, 0..1.
	Confidence float64 `json:"confidence"`

	// Applied is false when the change was proposed but not written.
	Applied bool `json:"applied"`

	// StoreVersion is the objective set version after an applied change.
	StoreVersion string `json:"store_version,omitempty"`
}

// EvolutionLog persists Evolution records as append-only JSONL.
type EvolutionLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewEvolutionLog opens (or creates) the log at path.
func NewEvolutionLog(path string) (*EvolutionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create evolution directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open evolution log: %w", err)
	}
	return &EvolutionLog{path: path, file: file}, nil
}

// Append writes one record.
func (l *EvolutionLog) Append(record Evolution) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal evolution record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("evolution log is closed")
	}
	if _, err := l.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append evolution record: %w", err)
	}
	return nil
}

// ReadAll returns every parseable record in file order. Bad lines are
// skipped, matching the tolerance of the other JSONL datasets.
func (l *EvolutionLog) ReadAll() ([]Evolution, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open evolution log: %w", err)
	}
	defer file.Close()

	var records []Evolution
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Evolution
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("objective.evolution.skipping_bad_line", "line", lineNo, "error", err)
			continue
		}
		if record.Objective == "" {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan evolution log: %w", err)
	}
	return records, nil
}

// Last returns the most recent record, or nil when the log is empty.
func (l *EvolutionLog) Last() (*Evolution, error) {
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
func (l *EvolutionLog) Count() (int64, error) {
	records, err := l.ReadAll()
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Close releases the underlying file handle.
func (l *EvolutionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
