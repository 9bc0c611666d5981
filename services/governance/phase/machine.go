// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phase drives sessions through the five-phase quality pipeline.
//
// A session enters at Phase 0 and moves according to a fixed transition
// table keyed on the gate verdict: passing (or passing with warnings)
// advances one phase, a partial result retries the current phase, and a
// failure rolls back one phase. The table has two terminal rows: passing
// the final phase completes the session, and failing the entry phase
// blocks it.
//
// Every transition is recorded in the decision ledger before any state
// changes. If the ledger rejects the entry the transition is abandoned
// and the session stays exactly where it was, so the ledger never lags
// the state files.
package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

// =============================================================================
// Movements
// =============================================================================

// Movement labels classify what a transition did to the session. They are
// stable strings: they appear in API responses and as metric label values.
const (
	MovementAdvanced   = "advanced"
	MovementRolledBack = "rolled_back"
	MovementRetried    = "retried"
	MovementBlocked    = "blocked"
	MovementCompleted  = "completed"
)

// ErrSessionTerminal is returned when a transition is requested for a
// session that already completed or blocked.
var ErrSessionTerminal = errors.New("session is in a terminal state")

// nextPhase is the transition table. It returns the destination phase
// (nil for the two terminal rows) and the movement label.
func nextPhase(current datatypes.QualityPhase, result datatypes.GateResult) (*datatypes.QualityPhase, string) {
	switch result {
	case datatypes.GatePass, datatypes.GateWarn:
		if current >= datatypes.MaxPhase {
			return nil, MovementCompleted
		}
		n := current + 1
		return &n, MovementAdvanced
	case datatypes.GatePartial:
		n := current
		return &n, MovementRetried
	case datatypes.GateFail:
		if current <= datatypes.MinPhase {
			return nil, MovementBlocked
		}
		n := current - 1
		return &n, MovementRolledBack
	default:
		return nil, ""
	}
}

// =============================================================================
// Transition Result
// =============================================================================

// TransitionResult reports the outcome of a single gate transition.
type TransitionResult struct {
	// Success is false when the transition was rejected before any state
	// changed (invalid input, terminal session, ledger append failure).
	Success bool `json:"success"`

	// SessionID identifies the session that transitioned.
	SessionID string `json:"session_id"`

	// From is the phase the session was in, e.g. "Phase 2".
	From string `json:"from"`

	// To is the destination phase, or empty for terminal movements.
	To string `json:"to,omitempty"`

	// Movement is one of the Movement* labels.
	Movement string `json:"movement"`

	// Reason is a human-readable sentence describing what happened.
	Reason string `json:"reason"`

	// Status is the session's lifecycle state after the transition.
	Status SessionStatus `json:"status"`

	// EntryHash is the hash of the ledger entry recording this decision.
	EntryHash string `json:"entry_hash"`

	// Sequence is the ledger sequence number of that entry.
	Sequence int64 `json:"sequence"`
}

// =============================================================================
// Session Tracker
// =============================================================================

// Tracker receives best-effort notifications about session activity. The
// machine works without one; when present it typically backs a fast
// session index for dashboards and the active-session gauge.
type Tracker interface {
	// Touch records that a session transitioned into the given phase.
	Touch(ctx context.Context, sessionID string, phase datatypes.QualityPhase, status SessionStatus) error

	// Remove forgets a session entirely.
	Remove(ctx context.Context, sessionID string) error

	// CountActive returns the number of sessions currently active.
	CountActive(ctx context.Context) (int, error)
}

// =============================================================================
// Machine
// =============================================================================

// Machine applies the transition table to sessions, recording every
// decision in the ledger before persisting the resulting state.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Transitions are serialized by
// an internal mutex so the read-modify-write of a session's state cannot
// interleave.
type Machine struct {
	ledger  ledger.DecisionLedger
	store   StateStore
	tracker Tracker
	metrics *observability.Metrics

	mu     chan struct{}
	flight singleflight.Group
}

// Config carries the machine's dependencies.
//
// # Fields
//
//   - Ledger: Required. Decision ledger receiving every transition.
//   - Store: Required. Persistence for per-session phase state.
//   - Tracker: Optional session index notified after each transition.
//   - Metrics: Optional Prometheus metrics.
type Config struct {
	Ledger  ledger.DecisionLedger
	Store   StateStore
	Tracker Tracker
	Metrics *observability.Metrics
}

// NewMachine validates the configuration and returns a ready machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("phase machine requires a decision ledger")
	}
	if cfg.Store == nil {
		return nil, errors.New("phase machine requires a state store")
	}
	m := &Machine{
		ledger:  cfg.Ledger,
		store:   cfg.Store,
		tracker: cfg.Tracker,
		metrics: cfg.Metrics,
		mu:      make(chan struct{}, 1),
	}
	m.mu <- struct{}{}
	return m, nil
}

// lock acquires the transition mutex, honoring context cancellation.
func (m *Machine) lock(ctx context.Context) error {
	select {
	case <-m.mu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) unlock() {
	m.mu <- struct{}{}
}

// Transition applies one gate verdict to a session.
//
// # Description
//
// The session's state is loaded (or lazily initialized at Phase 0 for a
// session never seen before), the transition table picks the destination,
// and the decision is appended to the ledger. Only after the ledger
// accepts the entry is the session's state updated and persisted. A
// ledger failure therefore leaves the session untouched.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - sessionID: Session identifier, safe-charset, max 128 bytes.
//   - result: Gate verdict (PASS, WARN, PARTIAL, FAIL).
//   - metrics: Metric snapshot attached to the decision. May be empty.
//   - configVersion: Version of the governing configuration, e.g. "v1.0".
//
// # Outputs
//
//   - TransitionResult: Outcome details including the ledger entry hash.
//   - error: Non-nil when the transition was rejected.
func (m *Machine) Transition(ctx context.Context, sessionID string, result datatypes.GateResult, metrics datatypes.Metrics, configVersion string) (TransitionResult, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return TransitionResult{Success: false, SessionID: sessionID}, err
	}
	if !result.Valid() {
		return TransitionResult{Success: false, SessionID: sessionID},
			fmt.Errorf("invalid gate result %q (expected PASS, WARN, PARTIAL, or FAIL)", result)
	}

	if err := m.lock(ctx); err != nil {
		return TransitionResult{Success: false, SessionID: sessionID}, err
	}
	defer m.unlock()

	state, err := m.store.Load(sessionID)
	if err != nil {
		return TransitionResult{Success: false, SessionID: sessionID}, err
	}
	if state == nil {
		state = &PhaseState{
			SessionID:    sessionID,
			CurrentPhase: datatypes.MinPhase,
			Status:       StatusActive,
		}
		slog.Info("phase.session.initialized", "session_id", sessionID)
	}
	if state.Status.Terminal() {
		return TransitionResult{
			Success:   false,
			SessionID: sessionID,
			From:      state.CurrentPhase.String(),
			Status:    state.Status,
		}, fmt.Errorf("%w: %s", ErrSessionTerminal, state.Status)
	}

	from := state.CurrentPhase
	next, movement := nextPhase(from, result)

	entry := ledger.Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:     sessionID,
		Phase:         from,
		GateResult:    result,
		NextPhase:     next,
		Metrics:       metrics,
		ConfigVersion: configVersion,
	}

	committed, err := m.ledger.Append(entry)
	m.metrics.RecordLedgerAppend(err)
	if err != nil {
		// The decision was never recorded, so the session must not move.
		slog.Error("phase.transition.ledger_rejected",
			"session_id", sessionID,
			"phase", from.String(),
			"gate_result", string(result),
			"error", err)
		return TransitionResult{
			Success:   false,
			SessionID: sessionID,
			From:      from.String(),
			Movement:  movement,
			Status:    state.Status,
		}, fmt.Errorf("transition aborted, ledger append failed: %w", err)
	}

	state.UpdatedAt = committed.Timestamp
	state.LastGateResult = result
	state.LastMetrics = metrics
	state.NextPhase = next
	switch movement {
	case MovementCompleted:
		state.Status = StatusCompleted
	case MovementBlocked:
		state.Status = StatusBlocked
	default:
		state.CurrentPhase = *next
	}

	if err := m.store.Save(*state); err != nil {
		// The ledger already holds the decision; surface the divergence
		// loudly instead of pretending the transition succeeded.
		slog.Error("phase.transition.state_save_failed",
			"session_id", sessionID,
			"entry_hash", committed.EntryHash,
			"error", err)
		return TransitionResult{
			Success:   false,
			SessionID: sessionID,
			From:      from.String(),
			Movement:  movement,
			Status:    state.Status,
			EntryHash: committed.EntryHash,
			Sequence:  committed.Sequence,
		}, fmt.Errorf("transition recorded but state save failed: %w", err)
	}

	m.notifyTracker(ctx, state)
	m.metrics.RecordTransition(string(result), movement)

	res := TransitionResult{
		Success:   true,
		SessionID: sessionID,
		From:      from.String(),
		Movement:  movement,
		Status:    state.Status,
		EntryHash: committed.EntryHash,
		Sequence:  committed.Sequence,
	}
	if next != nil {
		res.To = next.String()
	}
	res.Reason = describeMovement(from, next, result, movement)

	slog.Info("phase.transition.applied",
		"session_id", sessionID,
		"from", res.From,
		"to", res.To,
		"gate_result", string(result),
		"movement", movement,
		"sequence", committed.Sequence)

	return res, nil
}

// notifyTracker mirrors the session into the index; failures are logged
// and swallowed because the index is a cache, not a source of truth.
func (m *Machine) notifyTracker(ctx context.Context, state *PhaseState) {
	if m.tracker == nil {
		return
	}
	if err := m.tracker.Touch(ctx, state.SessionID, state.CurrentPhase, state.Status); err != nil {
		slog.Warn("phase.tracker.touch_failed", "session_id", state.SessionID, "error", err)
		return
	}
	if count, err := m.tracker.CountActive(ctx); err == nil {
		m.metrics.SetActiveSessions(count)
	}
}

// describeMovement renders the human-readable reason line.
func describeMovement(from datatypes.QualityPhase, to *datatypes.QualityPhase, result datatypes.GateResult, movement string) string {
	switch movement {
	case MovementAdvanced:
		return fmt.Sprintf("advanced from %s to %s on %s", from, to, result)
	case MovementRolledBack:
		return fmt.Sprintf("rolled back from %s to %s on %s", from, to, result)
	case MovementRetried:
		return fmt.Sprintf("retried %s on %s", from, result)
	case MovementBlocked:
		return fmt.Sprintf("blocked at %s on %s", from, result)
	case MovementCompleted:
		return fmt.Sprintf("completed at %s on %s", from, result)
	default:
		return ""
	}
}

// State returns the current state of a session, or nil if it has none.
func (m *Machine) State(sessionID string) (*PhaseState, error) {
	return m.store.Load(sessionID)
}

// Sessions lists the state of every known session.
func (m *Machine) Sessions() ([]PhaseState, error) {
	return m.store.List()
}

// Reset forgets a session's phase state so it can start over at Phase 0.
// The ledger keeps its history; only the mutable state is cleared.
func (m *Machine) Reset(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}
	if m.tracker != nil {
		if err := m.tracker.Remove(ctx, sessionID); err != nil {
			slog.Warn("phase.tracker.remove_failed", "session_id", sessionID, "error", err)
		}
	}
	slog.Warn("phase.session.reset", "session_id", sessionID)
	return nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats aggregates the entire decision ledger.
//
// # Fields
//
//   - TotalTransitions: Number of ledger entries.
//   - Sessions: Number of distinct sessions seen.
//   - PerPhase: Transition counts keyed by phase, e.g. "Phase 2".
//   - PerResult: Transition counts keyed by gate result, e.g. "PASS".
//   - MetricAverages: Mean of each metric over entries that carried it.
type Stats struct {
	TotalTransitions int64            `json:"total_transitions"`
	Sessions         int              `json:"sessions"`
	PerPhase         map[string]int64 `json:"per_phase"`
	PerResult        map[string]int64 `json:"per_result"`
	MetricAverages   MetricAverages   `json:"metric_averages"`
}

// MetricAverages holds per-metric means. A nil field means no entry in
// the ledger carried that metric.
type MetricAverages struct {
	QualityScore    *float64 `json:"quality_score,omitempty"`
	CostPerItem     *float64 `json:"cost_per_item,omitempty"`
	LatencyMs       *float64 `json:"latency_ms,omitempty"`
	DuplicationRate *float64 `json:"duplication_rate,omitempty"`
}

// PhaseStats computes aggregate statistics over the full ledger.
//
// Concurrent callers share a single computation: the ledger scan behind
// this is linear in history size, so identical in-flight requests are
// collapsed via singleflight.
func (m *Machine) PhaseStats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	v, err, _ := m.flight.Do("phase-stats", func() (any, error) {
		entries, err := m.ledger.ReadAll()
		if err != nil {
			return Stats{}, err
		}
		return computeStats(entries), nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

type metricAccumulator struct {
	sum   float64
	count int64
}

func (a *metricAccumulator) add(v *float64) {
	if v == nil {
		return
	}
	a.sum += *v
	a.count++
}

func (a *metricAccumulator) mean() *float64 {
	if a.count == 0 {
		return nil
	}
	mean := a.sum / float64(a.count)
	return &mean
}

func computeStats(entries []ledger.Entry) Stats {
	stats := Stats{
		TotalTransitions: int64(len(entries)),
		PerPhase:         make(map[string]int64),
		PerResult:        make(map[string]int64),
	}

	sessions := make(map[string]struct{})
	var quality, cost, latency, duplication metricAccumulator

	for _, entry := range entries {
		sessions[entry.SessionID] = struct{}{}
		stats.PerPhase[entry.Phase.String()]++
		stats.PerResult[string(entry.GateResult)]++

		quality.add(entry.Metrics.QualityScore)
		cost.add(entry.Metrics.CostPerItem)
		latency.add(entry.Metrics.LatencyMs)
		duplication.add(entry.Metrics.DuplicationRate)
	}

	stats.Sessions = len(sessions)
	stats.MetricAverages = MetricAverages{
		QualityScore:    quality.mean(),
		CostPerItem:     cost.mean(),
		LatencyMs:       latency.mean(),
		DuplicationRate: duplication.mean(),
	}
	return stats
}
