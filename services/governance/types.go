// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance request and response types for the HTTP API.
//
// Request types carry go-playground/validator tags and a Validate method;
// handlers call Validate after binding. Responses reuse the kernel types
// directly where they already carry JSON tags.
package governance

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/pkg/validation"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
	"github.com/AleutianAI/AleutianGovernance/services/governance/objective"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sandbox"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sessionindex"
	"github.com/AleutianAI/AleutianGovernance/services/governance/symmetry"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// govValidate is the validator instance for governance request types.
// Initialized in init() with custom validators.
var govValidate *validator.Validate

func init() {
	govValidate = validator.New()

	// Expression source is bounded before it ever reaches the sandbox.
	_ = govValidate.RegisterValidation("exprbytes", validateExpressionBytes)

	// Names that end up in file paths or mined logs use the safe charset.
	_ = govValidate.RegisterValidation("identifier", validateIdentifier)
}

// validateExpressionBytes checks that an expression field does not exceed
// the sandbox's source limit. Byte length, not rune count, since the
// sandbox bounds allocations.
func validateExpressionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= sandbox.MaxExpressionBytes
}

// validateIdentifier checks a name field against the shared identifier
// rules.
func validateIdentifier(fl validator.FieldLevel) bool {
	return validation.ValidateName(fl.Field().String()) == nil
}

// =============================================================================
// Gate Requests
// =============================================================================

// TransitionRequest represents a quality gate transition request body.
//
// # Fields
//
//   - SessionID: Required. Pipeline session identifier, safe-charset only.
//   - GateResult: Required. One of PASS, WARN, PARTIAL, FAIL
//     (case-insensitive).
//   - Metrics: Optional metric snapshot at decision time.
//   - ConfigVersion: Optional policy version. Defaults to the version of
//     the rule set in force.
type TransitionRequest struct {
	SessionID     string            `json:"session_id" validate:"required,max=128"`
	GateResult    string            `json:"gate_result" validate:"required"`
	Metrics       datatypes.Metrics `json:"metrics"`
	ConfigVersion string            `json:"config_version,omitempty"`
}

// Validate validates the TransitionRequest fields.
func (r *TransitionRequest) Validate() error {
	return govValidate.Struct(r)
}

// =============================================================================
// Policy Evaluation Requests
// =============================================================================

// EvalRequest represents a sandbox expression evaluation request body.
//
// # Fields
//
//   - Expression: Required. Boolean condition in the policy grammar,
//     at most 256KB of source.
//   - Metrics: Current metric snapshot visible as "metrics.*".
//   - Baseline: Baseline snapshot visible as "baseline.*".
//   - Extra: Additional numeric variables keyed by name.
//   - Flags: Additional boolean variables keyed by name.
//   - TimeoutMs: Optional budget override in milliseconds. Tightens, never
//     extends, the evaluator's configured timeout.
type EvalRequest struct {
	Expression string             `json:"expression" validate:"required,exprbytes"`
	Metrics    datatypes.Metrics  `json:"metrics"`
	Baseline   datatypes.Metrics  `json:"baseline"`
	Extra      map[string]float64 `json:"extra,omitempty"`
	Flags      map[string]bool    `json:"flags,omitempty"`
	TimeoutMs  int64              `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// Validate validates the EvalRequest fields.
func (r *EvalRequest) Validate() error {
	return govValidate.Struct(r)
}

// Env builds the sandbox context from the request.
func (r *EvalRequest) Env() sandbox.Context {
	return sandbox.Context{
		Metrics:  r.Metrics,
		Baseline: r.Baseline,
		Extra:    r.Extra,
		Flags:    r.Flags,
	}
}

// Timeout converts the millisecond override to a duration.
func (r *EvalRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// PolicyEvalRequest represents a named policy evaluation request body.
// The policy name travels in the URL; the body carries the environment.
type PolicyEvalRequest struct {
	Metrics   datatypes.Metrics  `json:"metrics"`
	Baseline  datatypes.Metrics  `json:"baseline"`
	Extra     map[string]float64 `json:"extra,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
	TimeoutMs int64              `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// Validate validates the PolicyEvalRequest fields.
func (r *PolicyEvalRequest) Validate() error {
	return govValidate.Struct(r)
}

// Env builds the sandbox context from the request.
func (r *PolicyEvalRequest) Env() sandbox.Context {
	return sandbox.Context{
		Metrics:  r.Metrics,
		Baseline: r.Baseline,
		Extra:    r.Extra,
		Flags:    r.Flags,
	}
}

// Timeout converts the millisecond override to a duration.
func (r *PolicyEvalRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// =============================================================================
// Feedback Requests
// =============================================================================

// FeedbackRequest represents a domain event submission.
//
// # Description
//
// The event family is selected by EventType. Unrecognized families are
// tolerated: the endpoint responds with recorded=false rather than an
// error, matching the recorder's contract.
//
// # Fields
//
//   - EventType: Required. "threshold_change", "quality_score_change",
//     or "metric_change".
//   - ID: Optional event ID (UUID v4). Generated when absent.
//   - Timestamp: Optional observation time. Defaults to now (UTC).
//   - Actor: Subsystem that emitted the event.
//   - PolicyName: Policy whose threshold moved (threshold_change only).
//   - Metric: Metric name (threshold_change and metric_change).
//   - OldValue: Previous value; nil on first observation.
//   - NewValue: Latest value.
//   - Outcome: What the quality gate decided about this state.
type FeedbackRequest struct {
	EventType  string         `json:"event_type" validate:"required"`
	ID         string         `json:"id,omitempty" validate:"omitempty,uuid4"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Actor      string         `json:"actor,omitempty" validate:"omitempty,identifier"`
	PolicyName string         `json:"policy_name,omitempty" validate:"omitempty,identifier"`
	Metric     string         `json:"metric,omitempty" validate:"omitempty,identifier"`
	OldValue   *float64       `json:"old_value,omitempty"`
	NewValue   float64        `json:"new_value"`
	Outcome    OutcomePayload `json:"outcome"`
}

// OutcomePayload is the gate verdict attached to a feedback event.
type OutcomePayload struct {
	GatePassed bool     `json:"gate_passed"`
	Severity   string   `json:"severity,omitempty" validate:"omitempty,oneof=P0 P1 P2 P3"`
	Actions    []string `json:"actions,omitempty"`
}

// Validate validates the FeedbackRequest fields.
func (r *FeedbackRequest) Validate() error {
	return govValidate.Struct(r)
}

// EnsureDefaults populates the event ID and timestamp when absent.
func (r *FeedbackRequest) EnsureDefaults() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
}

// Event converts the request into a typed domain event. The second return
// is false when the event type is not a recognized family.
func (r *FeedbackRequest) Event() (datatypes.DomainEvent, bool) {
	meta := datatypes.EventMeta{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Actor:     r.Actor,
	}
	switch r.EventType {
	case "threshold_change":
		return datatypes.ThresholdChangeEvent{
			EventMeta:  meta,
			PolicyName: r.PolicyName,
			Metric:     r.Metric,
			OldValue:   r.OldValue,
			NewValue:   r.NewValue,
		}, true
	case "quality_score_change":
		return datatypes.QualityScoreChangeEvent{
			EventMeta: meta,
			OldScore:  r.OldValue,
			NewScore:  r.NewValue,
		}, true
	case "metric_change":
		return datatypes.MetricChangeEvent{
			EventMeta: meta,
			Metric:    r.Metric,
			OldValue:  r.OldValue,
			NewValue:  r.NewValue,
		}, true
	default:
		return nil, false
	}
}

// GateOutcome converts the payload into the kernel outcome type. An empty
// severity defaults to P3 so an unclassified outcome never demands
// intervention by accident.
func (r *FeedbackRequest) GateOutcome() datatypes.Outcome {
	severity := datatypes.Severity(r.Outcome.Severity)
	if severity == "" {
		severity = datatypes.SeverityP3
	}
	return datatypes.Outcome{
		GatePassed: r.Outcome.GatePassed,
		Severity:   severity,
		Actions:    r.Outcome.Actions,
	}
}

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	// Error is a human-readable error message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /ready.
type ReadyResponse struct {
	Ready          bool   `json:"ready"`
	ActiveSessions int    `json:"active_sessions"`
	LedgerEntries  int64  `json:"ledger_entries"`
	RuleSetVersion string `json:"ruleset_version"`
}

// VerifyReport is the outcome of a ledger chain verification.
type VerifyReport struct {
	// Valid is true when every link in the hash chain checks out.
	Valid bool `json:"valid"`

	// BreakIndex is the index of the first broken link, -1 when valid.
	BreakIndex int64 `json:"break_index"`

	// Entries is the number of entries verified.
	Entries int64 `json:"entries"`
}

// LedgerReport summarizes the ledger file.
type LedgerReport struct {
	Entries       int64  `json:"entries"`
	SizeBytes     int64  `json:"size_bytes"`
	LastSequence  int64  `json:"last_sequence,omitempty"`
	LastTimestamp string `json:"last_timestamp,omitempty"`
	LastEntryHash string `json:"last_entry_hash,omitempty"`
}

// EntriesResponse wraps a page of ledger entries.
type EntriesResponse struct {
	Entries []ledger.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// SessionListResponse wraps the indexed session list.
type SessionListResponse struct {
	Sessions []sessionindex.Record `json:"sessions"`
	Count    int                   `json:"count"`
}

// ResetResponse confirms a session reset.
type ResetResponse struct {
	SessionID string `json:"session_id"`
	Reset     bool   `json:"reset"`
}

// PolicyEvalResponse pairs an evaluated policy with its result.
type PolicyEvalResponse struct {
	Policy string         `json:"policy"`
	Result sandbox.Result `json:"result"`
}

// FeedbackResponse reports whether an event was recorded.
type FeedbackResponse struct {
	Recorded bool              `json:"recorded"`
	Example  *feedback.Example `json:"example,omitempty"`
}

// RecentFeedbackResponse wraps the dataset tail.
type RecentFeedbackResponse struct {
	Examples []feedback.Example `json:"examples"`
	Count    int                `json:"count"`
}

// EvolutionHistoryResponse wraps the objective evolution log.
type EvolutionHistoryResponse struct {
	Evolutions []objective.Evolution `json:"evolutions"`
	Count      int                   `json:"count"`
}

// DesignHistoryResponse wraps the design feedback log.
type DesignHistoryResponse struct {
	Records []symmetry.DesignFeedback `json:"records"`
	Count   int                       `json:"count"`
}
