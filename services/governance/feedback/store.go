// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// storeFileMode keeps datasets readable by the owner only.
const storeFileMode = 0600

// maxLineBytes bounds a single JSONL line during reads.
const maxLineBytes = 1024 * 1024

// =============================================================================
// Example Store
// =============================================================================

// ExampleStore persists labeled examples as append-only JSONL.
//
// # Thread Safety
//
// Safe for concurrent use. A single mutex serializes appends; reads open
// the file independently, so a reader never sees a torn line as anything
// but a skippable tail.
type ExampleStore struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewExampleStore opens (or creates) the example dataset at path.
func NewExampleStore(path string) (*ExampleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create examples directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, storeFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open examples file: %w", err)
	}
	return &ExampleStore{path: path, file: file}, nil
}

// Append writes one example as a single JSONL line.
func (s *ExampleStore) Append(example Example) error {
	raw, err := json.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("example store is closed")
	}
	if _, err := s.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append example: %w", err)
	}
	return nil
}

// ReadAll returns every parseable example in file order.
//
// Lines that do not parse, including a partial trailing line from an
// interrupted write, are skipped with a warning rather than failing the
// whole read. The dataset is training data, not a ledger.
func (s *ExampleStore) ReadAll() ([]Example, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open examples file: %w", err)
	}
	defer file.Close()

	var examples []Example
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var example Example
		if err := json.Unmarshal(line, &example); err != nil {
			slog.Warn("feedback.examples.skipping_bad_line", "line", lineNo, "error", err)
			continue
		}
		if example.EventType == "" {
			slog.Warn("feedback.examples.skipping_untyped_line", "line", lineNo)
			continue
		}
		examples = append(examples, example)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan examples file: %w", err)
	}
	return examples, nil
}

// ReadRecent returns up to n most recent examples, oldest first.
func (s *ExampleStore) ReadRecent(n int) ([]Example, error) {
	examples, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(examples) <= n {
		return examples, nil
	}
	return examples[len(examples)-n:], nil
}

// Count returns the number of parseable examples.
func (s *ExampleStore) Count() (int64, error) {
	examples, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	return int64(len(examples)), nil
}

// Close releases the underlying file handle.
func (s *ExampleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// =============================================================================
// Adaptation Log
// =============================================================================

// AdaptationLog persists policy threshold adaptations as append-only
// JSONL. Same durability and tolerance semantics as the example store.
type AdaptationLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewAdaptationLog opens (or creates) the adaptation log at path.
func NewAdaptationLog(path string) (*AdaptationLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create adaptations directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, storeFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open adaptations file: %w", err)
	}
	return &AdaptationLog{path: path, file: file}, nil
}

// Append writes one adaptation record.
func (l *AdaptationLog) Append(record AdaptationRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal adaptation: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("adaptation log is closed")
	}
	if _, err := l.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append adaptation: %w", err)
	}
	return nil
}

// ReadAll returns every parseable adaptation in file order.
func (l *AdaptationLog) ReadAll() ([]AdaptationRecord, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open adaptations file: %w", err)
	}
	defer file.Close()

	var records []AdaptationRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record AdaptationRecord
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("feedback.adaptations.skipping_bad_line", "line", lineNo, "error", err)
			continue
		}
		if record.PolicyName == "" {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan adaptations file: %w", err)
	}
	return records, nil
}

// ReadRecent returns up to n most recent adaptations, oldest first.
func (l *AdaptationLog) ReadRecent(n int) ([]AdaptationRecord, error) {
	records, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(records) <= n {
		return records, nil
	}
	return records[len(records)-n:], nil
}

// Count returns the number of parseable adaptations.
func (l *AdaptationLog) Count() (int64, error) {
	records, err := l.ReadAll()
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Close releases the underlying file handle.
func (l *AdaptationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
