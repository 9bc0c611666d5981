// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// Decision Ledger Implementation
// =============================================================================

// GenesisHash is the initial hash value for the first entry in the chain.
// This allows verification that the chain starts from a known state.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ledgerFileMode restricts read/write to owner only (0600).
//
// # Security Rationale
//
// The decision ledger records which sessions existed, which gates failed,
// and what the metrics looked like when they did. That history is itself
// sensitive operational data. Restricting to owner-only access prevents
// other system users from reading it.
const ledgerFileMode = 0600

// fileLedger implements DecisionLedger over a single append-only JSONL file.
//
// # Description
//
// Each appended entry is linked to its predecessor through a SHA-256 hash
// chain. Structured logs go to slog for general monitoring; the entries
// themselves go to the dedicated ledger file.
//
// # Fields
//
//   - logFile: Handle to the ledger file, opened append-only.
//   - logPath: Path the file was opened at, for reads and reopen.
//   - fileMu: Mutex serializing writes and chain-state updates.
//   - sequence: Sequence number of the last committed entry.
//   - prevHash: EntryHash of the last committed entry.
//
// # Thread Safety
//
// All methods are thread-safe. Writes are serialized via mutex; reads open
// an independent handle.
type fileLedger struct {
	logFile  *os.File
	logPath  string
	fileMu   sync.Mutex
	sequence int64
	prevHash string
}

// Compile-time interface check.
var _ DecisionLedger = (*fileLedger)(nil)

// NewDecisionLedger opens (or creates) the ledger file at logPath and
// resumes the hash chain from its last entry.
//
// # Inputs
//
//   - logPath: Path to the ledger file. Created with mode 0600 if absent.
//
// # Outputs
//
//   - DecisionLedger: Ready to use ledger.
//   - error: Non-nil if the file cannot be opened or the existing chain
//     state cannot be read.
//
// # Examples
//
//	led, err := ledger.NewDecisionLedger("/var/lib/governor/ledger/decisions.jsonl")
//	if err != nil {
//	    return fmt.Errorf("failed to open decision ledger: %w", err)
//	}
//	defer led.Close()
//
// # Limitations
//
//   - Log rotation must be handled externally (e.g., logrotate + Reopen).
//   - Chain verification across rotated files requires preserving old files.
func NewDecisionLedger(logPath string) (DecisionLedger, error) {
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, ledgerFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	led := &fileLedger{
		logFile:  file,
		logPath:  logPath,
		prevHash: GenesisHash,
		sequence: 0,
	}

	if err := led.initializeChainState(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to initialize chain state: %w", err)
	}

	slog.Info("decision ledger initialized",
		"log_path", logPath,
		"starting_sequence", led.sequence,
		"chain_initialized", true,
	)

	return led, nil
}

// Append commits a decision entry to the ledger.
//
// # Description
//
// Assigns the next sequence number, links the entry to the chain via
// PrevHash, computes EntryHash over the canonical form, and writes the
// entry as one JSON line. The in-memory chain state advances only after
// the write succeeds; a disk failure leaves the ledger exactly as it was,
// so the caller can safely report that the decision did not happen.
//
// # Inputs
//
//   - entry: Decision fields. Sequence, PrevHash, and EntryHash are
//     overwritten by the ledger; Timestamp defaults to now (UTC) if empty.
//
// # Outputs
//
//   - Entry: The completed, committed record.
//   - error: Non-nil if marshalling or the file write fails.
func (l *fileLedger) Append(entry Entry) (Entry, error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile == nil {
		return Entry{}, fmt.Errorf("ledger file is not open")
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	entry.Sequence = l.sequence + 1
	entry.PrevHash = l.prevHash
	entry.EntryHash = computeEntryHash(entry)

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	if _, err := l.logFile.Write(append(jsonBytes, '\n')); err != nil {
		// Chain state deliberately untouched: the entry was never committed.
		return Entry{}, fmt.Errorf("failed to write ledger entry: %w", err)
	}

	l.sequence = entry.Sequence
	l.prevHash = entry.EntryHash

	slog.Info("ledger.entry.appended",
		"sequence", entry.Sequence,
		"session_id", entry.SessionID,
		"phase", entry.Phase.String(),
		"gate_result", string(entry.GateResult),
		"entry_hash", entry.EntryHash[:16]+"...",
	)

	return entry, nil
}

// ReadAll returns every committed entry in append order.
//
// # Description
//
// Opens an independent read handle so concurrent appends are unaffected.
// Lines that do not parse as entries (a torn trailing write, for example)
// are skipped; previously committed entries are always returned intact.
func (l *fileLedger) ReadAll() ([]Entry, error) {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Sequence == 0 {
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ledger file: %w", err)
	}

	return entries, nil
}

// VerifyChain verifies the integrity of the hash chain.
//
// # Description
//
// Walks the file from the start, checking that each entry's PrevHash
// matches its predecessor's EntryHash and that each EntryHash matches the
// recomputed canonical hash. Verifying entry i therefore re-derives the
// hash of everything before i; any historical mutation breaks every
// subsequent link.
//
// # Outputs
//
//   - valid: True if the entire chain is intact.
//   - breakIndex: Zero-based index of the first broken link (-1 if valid).
//   - error: Non-nil if verification could not complete.
func (l *fileLedger) VerifyChain() (valid bool, breakIndex int64, err error) {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, -1, nil
		}
		return false, -1, fmt.Errorf("failed to open ledger file for verification: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prevHash := GenesisHash
	var entryIndex int64 = 0

	for scanner.Scan() {
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Sequence == 0 {
			continue
		}

		if entry.PrevHash != prevHash {
			return false, entryIndex, nil
		}

		if computeEntryHash(entry) != entry.EntryHash {
			return false, entryIndex, nil
		}

		prevHash = entry.EntryHash
		entryIndex++
	}

	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("error reading ledger file: %w", err)
	}

	return true, -1, nil
}

// Count returns the number of committed entries.
func (l *fileLedger) Count() (int64, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

// Last returns the most recent entry, or nil if the ledger is empty.
func (l *fileLedger) Last() (*Entry, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

// Reset truncates the ledger and restarts the chain from genesis.
//
// # Description
//
// Closes the current handle, reopens the file with O_TRUNC, and resets the
// in-memory sequence and hash state. Exists for tests and operator tooling;
// nothing in the kernel's decision path calls it.
func (l *fileLedger) Reset() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			slog.Warn("ledger: error closing file during reset",
				"path", l.logPath,
				"error", err,
			)
		}
		l.logFile = nil
	}

	file, err := os.OpenFile(l.logPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, ledgerFileMode)
	if err != nil {
		return fmt.Errorf("failed to truncate ledger file: %w", err)
	}

	l.logFile = file
	l.sequence = 0
	l.prevHash = GenesisHash

	slog.Warn("ledger.reset",
		"path", l.logPath,
	)

	return nil
}

// Reopen closes and reopens the ledger file for rotation support.
//
// # Description
//
// Supports external log rotation by closing the current file handle and
// opening a new one at the configured path. The chain state (sequence
// number, previous hash) is preserved in memory, so the chain continues
// seamlessly across the rotation boundary.
//
// # Usage
//
// Typically called from a SIGHUP signal handler after logrotate has moved
// the old file.
//
// # Limitations
//
//   - After rotation, the new file will not contain previous entries.
//   - Chain verification across rotated files requires external tooling.
func (l *fileLedger) Reopen() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			slog.Warn("ledger: error closing old file during rotation",
				"path", l.logPath,
				"error", err,
			)
		}
		l.logFile = nil
	}

	file, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, ledgerFileMode)
	if err != nil {
		return fmt.Errorf("failed to reopen ledger file: %w", err)
	}

	l.logFile = file

	slog.Info("ledger: reopened file",
		"path", l.logPath,
		"sequence", l.sequence,
	)

	return nil
}

// CheckSize returns the current ledger file size in bytes.
//
// # Description
//
// Used for operational monitoring: a file growing past an expected
// threshold usually means rotation is not configured.
func (l *fileLedger) CheckSize() (int64, error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile == nil {
		return 0, fmt.Errorf("ledger file is not open")
	}

	info, err := l.logFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat ledger file: %w", err)
	}

	return info.Size(), nil
}

// VerifyFilePermissions checks that the ledger file kept its restricted mode.
//
// # Description
//
// Detects external tampering or misconfiguration that could expose the
// decision history to other system users.
//
// # Limitations
//
//   - Only checks Unix permission bits, not ACLs.
//   - Does not verify ownership.
func (l *fileLedger) VerifyFilePermissions() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile == nil {
		return fmt.Errorf("ledger file is not open")
	}

	info, err := l.logFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger file: %w", err)
	}

	mode := info.Mode().Perm()
	if mode != ledgerFileMode {
		return fmt.Errorf("ledger file permissions changed: expected %04o, got %04o", ledgerFileMode, mode)
	}

	return nil
}

// Close closes the ledger file.
func (l *fileLedger) Close() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close ledger file: %w", err)
		}
		l.logFile = nil
	}
	return nil
}

// =============================================================================
// Internal Functions
// =============================================================================

// initializeChainState reads the existing ledger to find the last sequence
// number and entry hash, so the chain continues where it left off. An empty
// or missing file starts from genesis.
func (l *fileLedger) initializeChainState() error {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ledger file for reading: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lastEntry Entry

	for scanner.Scan() {
		line := scanner.Bytes()
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Sequence > 0 {
			lastEntry = entry
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading ledger file: %w", err)
	}

	if lastEntry.Sequence > 0 {
		l.sequence = lastEntry.Sequence
		l.prevHash = lastEntry.EntryHash
	}

	return nil
}

// canonicalEntry renders an entry's hashed fields in a fixed, documented
// layout. The canonical form is what gets hashed, so it must be fully
// deterministic and independent of JSON field order:
//
//	sequence|timestamp|session_id|phase|gate_result|next_phase|
//	quality_score|cost_per_item|latency_ms|duplication_rate|
//	config_version|prev_hash
//
// (one line, no spaces). NextPhase renders as its integer value or "none";
// absent metrics render as "nil". EntryHash is excluded: it is the hash of
// this form.
func canonicalEntry(entry Entry) string {
	nextPhase := "none"
	if entry.NextPhase != nil {
		nextPhase = strconv.Itoa(int(*entry.NextPhase))
	}

	return fmt.Sprintf("%d|%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s",
		entry.Sequence,
		entry.Timestamp,
		entry.SessionID,
		int(entry.Phase),
		string(entry.GateResult),
		nextPhase,
		canonicalFloat(entry.Metrics.QualityScore),
		canonicalFloat(entry.Metrics.CostPerItem),
		canonicalFloat(entry.Metrics.LatencyMs),
		canonicalFloat(entry.Metrics.DuplicationRate),
		entry.ConfigVersion,
		entry.PrevHash,
	)
}

// canonicalFloat renders a nullable metric deterministically. The shortest
// round-trip representation keeps the form stable across platforms.
func canonicalFloat(v *float64) string {
	if v == nil {
		return "nil"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// computeEntryHash computes the chain hash of an entry: SHA-256 over the
// canonical form, hex encoded.
func computeEntryHash(entry Entry) string {
	hash := sha256.Sum256([]byte(canonicalEntry(entry)))
	return hex.EncodeToString(hash[:])
}
