// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger provides the append-only, hash-chained decision ledger for
// the governance kernel. Every phase transition is recorded as an immutable
// JSONL entry whose hash incorporates the previous entry's hash, making the
// full decision history tamper-evident.
package ledger

import (
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// =============================================================================
// Ledger Entry
// =============================================================================

// Entry is one immutable decision record in the ledger.
//
// # Hash Chain
//
// PrevHash links the entry to its predecessor (GenesisHash for the first
// entry). EntryHash is the SHA-256 of the entry's canonical form, which
// includes PrevHash, so mutating any historical entry invalidates every
// subsequent hash. See canonicalEntry for the exact canonical layout.
//
// # Fields
//
//   - Sequence: Monotonically increasing, assigned by the ledger on append.
//   - Timestamp: RFC3339 UTC time of the decision.
//   - SessionID: Pipeline session the decision belongs to.
//   - Phase: Phase the gate evaluated.
//   - GateResult: Verdict the gate returned.
//   - NextPhase: Phase the machine moved to; nil when blocked or completed.
//   - Metrics: Metric snapshot at decision time.
//   - ConfigVersion: Policy/config version active at decision time.
//   - PrevHash: EntryHash of the previous entry.
//   - EntryHash: SHA-256 over the canonical form, assigned on append.
type Entry struct {
	Sequence      int64                   `json:"sequence"`
	Timestamp     string                  `json:"timestamp"`
	SessionID     string                  `json:"session_id"`
	Phase         datatypes.QualityPhase  `json:"phase"`
	GateResult    datatypes.GateResult    `json:"gate_result"`
	NextPhase     *datatypes.QualityPhase `json:"next_phase"`
	Metrics       datatypes.Metrics       `json:"metrics"`
	ConfigVersion string                  `json:"config_version"`
	PrevHash      string                  `json:"prev_hash"`
	EntryHash     string                  `json:"entry_hash"`
}

// =============================================================================
// Interfaces
// =============================================================================

// DecisionLedger defines the append-only decision log contract.
//
// # Description
//
// Appends are serialized by the implementation (single-writer semantics);
// concurrent appends from multiple goroutines are safe and produce a total
// order. Reads open their own file handle and never disturb the writer.
//
// # Limitations
//
//   - Single-process design; cross-process appends to the same file are not
//     coordinated.
//   - Verification reads the entire file, which may be slow for very large
//     ledgers.
type DecisionLedger interface {
	// Append assigns the sequence number and hashes to entry, writes it to
	// durable storage, and returns the completed record. If the write fails,
	// the in-memory chain state is unchanged and the error is returned; the
	// decision did not happen.
	Append(entry Entry) (Entry, error)

	// ReadAll returns every entry in the ledger in append order. Lines that
	// do not parse (for example a torn trailing write) are skipped.
	ReadAll() ([]Entry, error)

	// VerifyChain recomputes the hash chain from the genesis hash forward.
	// Returns valid=false and the index of the first broken link if any
	// entry was mutated, reordered, or removed; breakIndex is -1 when valid.
	VerifyChain() (valid bool, breakIndex int64, err error)

	// Count returns the number of entries in the ledger.
	Count() (int64, error)

	// Last returns the most recent entry, or nil if the ledger is empty.
	Last() (*Entry, error)

	// Reset truncates the ledger and restarts the chain from the genesis
	// hash. Test and operator tooling only; never called by the kernel.
	Reset() error

	// Reopen closes and reopens the backing file at the same path,
	// preserving chain state in memory. Supports external log rotation.
	Reopen() error

	// CheckSize returns the backing file's size in bytes.
	CheckSize() (int64, error)

	// VerifyFilePermissions checks that the backing file still has the
	// restricted mode it was created with.
	VerifyFilePermissions() error

	// Close flushes and closes the backing file.
	Close() error
}
