// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance provides the governance kernel HTTP service.
//
// The service composes the kernel components and exposes endpoints for:
//   - Applying quality gate results to pipeline sessions
//   - Inspecting and verifying the decision ledger
//   - Evaluating policy expressions in the sandbox
//   - Recording feedback events and surfacing dataset insights
//   - Running the objective manager and the feedback symmetry engine
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
	"github.com/AleutianAI/AleutianGovernance/services/governance/objective"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
	"github.com/AleutianAI/AleutianGovernance/services/governance/policystore"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sandbox"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sessionindex"
	"github.com/AleutianAI/AleutianGovernance/services/governance/symmetry"
)

// ServiceConfig configures the governance kernel service.
type ServiceConfig struct {
	// DataDir is the root directory for all kernel state. The service
	// creates the layout beneath it on first start:
	//
	//	ledger/decisions.jsonl     decision ledger
	//	state/<session>.json       per-session phase state
	//	sessions/                  session index (BadgerDB)
	//	feedback/examples.jsonl    recorded feedback examples
	//	feedback/adaptations.jsonl threshold adaptation history
	//	objectives/objectives.yaml objective document
	//	objectives/evolution.jsonl objective evolution history
	//	policies/policies.yaml     policy rule set
	//	symmetry/design.jsonl      design feedback records
	//
	// Default: $ALEUTIAN_GOVERNANCE_DATA or ~/.aleutian/governance.
	DataDir string

	// SandboxTimeout is the wall-clock budget per policy evaluation.
	// Default: 5s.
	SandboxTimeout time.Duration

	// SandboxMemoryLimit is the allocation ceiling per evaluation in bytes.
	// Default: 50MB.
	SandboxMemoryLimit int64

	// MinAdaptSamples overrides the objective manager's evidence floor.
	// Default: 0 (use the manager's default of 50).
	MinAdaptSamples int

	// InMemorySessionIndex runs the session index without disk persistence.
	// Test use only.
	InMemorySessionIndex bool

	// WatchPolicies enables hot reload of the policy rule set when the
	// backing file changes on disk.
	WatchPolicies bool

	// Metrics receives kernel counters. Nil uses the process-wide default.
	Metrics *observability.Metrics
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	dataDir := os.Getenv("ALEUTIAN_GOVERNANCE_DATA")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".aleutian", "governance")
	}
	return ServiceConfig{
		DataDir:            dataDir,
		SandboxTimeout:     sandbox.DefaultTimeout,
		SandboxMemoryLimit: sandbox.DefaultMemoryLimit,
		WatchPolicies:      true,
	}
}

// Service is the governance kernel service.
//
// # Description
//
// Service owns every kernel component and wires them together: the phase
// machine appends to the ledger and notifies the session index, the
// recorder feeds the objective manager, and the symmetry engine closes the
// loop by editing the policy rule set the sandbox evaluates against.
//
// # Thread Safety
//
// Service is safe for concurrent use. Each component serializes its own
// writers; the cached rule set is guarded by its own lock.
type Service struct {
	config ServiceConfig

	ledger  ledger.DecisionLedger
	states  phase.StateStore
	machine *phase.Machine
	index   *sessionindex.Index

	evaluator *sandbox.Evaluator

	examples    *feedback.ExampleStore
	adaptations *feedback.AdaptationLog
	recorder    *feedback.Recorder

	objectives *objective.Store
	evolution  *objective.EvolutionLog
	manager    *objective.Manager

	policies *policystore.Store
	watcher  *policystore.Watcher
	design   *symmetry.DesignLog
	symmetry *symmetry.Engine

	metrics *observability.Metrics

	ruleMu  sync.RWMutex
	ruleSet policystore.RuleSet

	startedAt time.Time
}

// NewService builds the kernel from its on-disk state.
//
// # Description
//
// Creates the data directory layout, opens every store, resumes the
// ledger's hash chain, rebuilds the session index from the state store,
// and optionally starts the policy file watcher. A failure at any step
// closes everything opened so far and returns the error.
//
// # Inputs
//
//   - cfg: Service configuration. Zero-value fields take defaults.
//
// # Outputs
//
//   - *Service: Ready to serve.
//   - error: Non-nil if any store cannot be opened.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultServiceConfig().DataDir
	}

	for _, sub := range []string{"ledger", "state", "sessions", "feedback", "objectives", "policies", "symmetry"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, sub), 0700); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", sub, err)
		}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.InitMetrics()
	}

	svc := &Service{
		config:    cfg,
		metrics:   metrics,
		startedAt: time.Now().UTC(),
	}

	led, err := ledger.NewDecisionLedger(filepath.Join(cfg.DataDir, "ledger", "decisions.jsonl"))
	if err != nil {
		return nil, err
	}
	svc.ledger = led

	states, err := phase.NewFileStateStore(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.states = states

	indexCfg := sessionindex.DefaultConfig(filepath.Join(cfg.DataDir, "sessions"))
	if cfg.InMemorySessionIndex {
		indexCfg = sessionindex.InMemoryConfig()
	}
	index, err := sessionindex.New(indexCfg)
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.index = index

	machine, err := phase.NewMachine(phase.Config{
		Ledger:  led,
		Store:   states,
		Tracker: index,
		Metrics: metrics,
	})
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.machine = machine

	svc.evaluator = sandbox.NewEvaluator(sandbox.Config{
		Timeout:     cfg.SandboxTimeout,
		MemoryLimit: cfg.SandboxMemoryLimit,
		Metrics:     metrics,
	})

	examples, err := feedback.NewExampleStore(filepath.Join(cfg.DataDir, "feedback", "examples.jsonl"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.examples = examples

	adaptations, err := feedback.NewAdaptationLog(filepath.Join(cfg.DataDir, "feedback", "adaptations.jsonl"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.adaptations = adaptations

	recorder, err := feedback.NewRecorder(examples, adaptations, metrics)
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.recorder = recorder

	objectives, err := objective.NewStore(filepath.Join(cfg.DataDir, "objectives", "objectives.yaml"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.objectives = objectives

	evolution, err := objective.NewEvolutionLog(filepath.Join(cfg.DataDir, "objectives", "evolution.jsonl"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.evolution = evolution

	manager, err := objective.NewManager(objective.ManagerConfig{
		Examples:   examples,
		Store:      objectives,
		Evolution:  evolution,
		Metrics:    metrics,
		MinSamples: cfg.MinAdaptSamples,
	})
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.manager = manager

	policies, err := policystore.NewStore(filepath.Join(cfg.DataDir, "policies", "policies.yaml"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.policies = policies

	design, err := symmetry.NewDesignLog(filepath.Join(cfg.DataDir, "symmetry", "design.jsonl"))
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.design = design

	engine, err := symmetry.NewEngine(symmetry.Config{
		Adaptations: adaptations,
		Evolution:   evolution,
		Policies:    policies,
		Design:      design,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.symmetry = engine

	set, err := policies.Load()
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	svc.ruleSet = set

	// Heal the index from the state store. The index is a derived view;
	// the state store is the source of truth after a crash.
	persisted, err := states.List()
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}
	if err := index.Rebuild(context.Background(), persisted); err != nil {
		return nil, errors.Join(err, svc.Close())
	}

	if cfg.WatchPolicies {
		watcher, err := policystore.NewWatcher(policies, svc.onRuleSetReload, nil)
		if err != nil {
			return nil, errors.Join(err, svc.Close())
		}
		if err := watcher.Start(context.Background()); err != nil {
			return nil, errors.Join(err, svc.Close())
		}
		svc.watcher = watcher
	}

	slog.Info("governance.service.started",
		"data_dir", cfg.DataDir,
		"rule_set_version", set.Version,
		"rule_set_mode", string(set.Mode),
		"policy_watch", cfg.WatchPolicies,
	)
	return svc, nil
}

// onRuleSetReload installs a freshly loaded rule set as the live copy.
func (s *Service) onRuleSetReload(set policystore.RuleSet) {
	s.ruleMu.Lock()
	s.ruleSet = set
	s.ruleMu.Unlock()
}

// RuleSet returns the rule set currently in force.
func (s *Service) RuleSet() policystore.RuleSet {
	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()
	return s.ruleSet
}

// Close releases every component in reverse construction order. Safe to
// call on a partially constructed service.
func (s *Service) Close() error {
	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.design != nil {
		errs = append(errs, s.design.Close())
	}
	if s.evolution != nil {
		errs = append(errs, s.evolution.Close())
	}
	if s.adaptations != nil {
		errs = append(errs, s.adaptations.Close())
	}
	if s.examples != nil {
		errs = append(errs, s.examples.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// Gate Operations
// =============================================================================

// Transition applies a gate result to a session.
//
// The config version recorded in the ledger defaults to the version of the
// rule set in force when the request does not carry one.
func (s *Service) Transition(ctx context.Context, sessionID string, result datatypes.GateResult, metrics datatypes.Metrics, configVersion string) (phase.TransitionResult, error) {
	if configVersion == "" {
		configVersion = s.RuleSet().Version
	}
	return s.machine.Transition(ctx, sessionID, result, metrics, configVersion)
}

// SessionState returns a session's current phase state.
func (s *Service) SessionState(sessionID string) (*phase.PhaseState, error) {
	state, err := s.machine.State(sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return state, nil
}

// Sessions lists every indexed session.
func (s *Service) Sessions(ctx context.Context) ([]sessionindex.Record, error) {
	return s.index.List(ctx)
}

// ActiveSessions counts sessions that are neither completed nor blocked.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.index.CountActive(ctx)
}

// ResetSession clears a session's phase state. Ledger history is kept.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	return s.machine.Reset(ctx, sessionID)
}

// Stats aggregates the full decision ledger.
func (s *Service) Stats(ctx context.Context) (phase.Stats, error) {
	return s.machine.PhaseStats(ctx)
}

// =============================================================================
// Ledger Operations
// =============================================================================

// VerifyLedger recomputes the hash chain from genesis forward.
func (s *Service) VerifyLedger() (VerifyReport, error) {
	valid, breakIndex, err := s.ledger.VerifyChain()
	if err != nil {
		return VerifyReport{}, err
	}
	count, err := s.ledger.Count()
	if err != nil {
		return VerifyReport{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordChainVerification(valid)
	}
	return VerifyReport{Valid: valid, BreakIndex: breakIndex, Entries: count}, nil
}

// LedgerEntries returns the most recent limit entries in append order.
// limit <= 0 returns the full ledger.
func (s *Service) LedgerEntries(limit int) ([]ledger.Entry, error) {
	entries, err := s.ledger.ReadAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// LedgerEntriesAfter returns every entry with a sequence number greater
// than seq, in append order.
func (s *Service) LedgerEntriesAfter(seq int64) ([]ledger.Entry, error) {
	entries, err := s.ledger.ReadAll()
	if err != nil {
		return nil, err
	}
	// Entries are already sequence-ordered; find the cut point.
	cut := len(entries)
	for i, entry := range entries {
		if entry.Sequence > seq {
			cut = i
			break
		}
	}
	return entries[cut:], nil
}

// LedgerReport summarizes the ledger file.
func (s *Service) LedgerReport() (LedgerReport, error) {
	count, err := s.ledger.Count()
	if err != nil {
		return LedgerReport{}, err
	}
	size, err := s.ledger.CheckSize()
	if err != nil {
		return LedgerReport{}, err
	}
	report := LedgerReport{Entries: count, SizeBytes: size}
	last, err := s.ledger.Last()
	if err != nil {
		return LedgerReport{}, err
	}
	if last != nil {
		report.LastSequence = last.Sequence
		report.LastTimestamp = last.Timestamp
		report.LastEntryHash = last.EntryHash
	}
	return report, nil
}

// ReopenLedger closes and reopens the ledger file at the same path.
// Intended for SIGHUP-driven log rotation.
func (s *Service) ReopenLedger() error {
	return s.ledger.Reopen()
}

// =============================================================================
// Policy Operations
// =============================================================================

// EvalExpression evaluates a boolean condition in the sandbox. A positive
// timeout tightens, never extends, the evaluator's own budget.
func (s *Service) EvalExpression(ctx context.Context, expression string, env sandbox.Context, timeout time.Duration) sandbox.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.evaluator.EvaluateExpression(ctx, expression, env)
}

// EvalPolicy evaluates a named policy from the rule set in force.
func (s *Service) EvalPolicy(ctx context.Context, name string, env sandbox.Context, timeout time.Duration) (sandbox.Result, datatypes.Policy, error) {
	set := s.RuleSet()
	idx := set.Find(name)
	if idx < 0 {
		return sandbox.Result{}, datatypes.Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	policy := set.Policies[idx]
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.evaluator.EvaluatePolicy(ctx, policy, env), policy, nil
}

// =============================================================================
// Feedback Operations
// =============================================================================

// RecordFeedback converts an event into a training example. Returns nil
// when the event family is not recognized.
func (s *Service) RecordFeedback(event datatypes.DomainEvent, outcome datatypes.Outcome) (*feedback.Example, error) {
	return s.recorder.Record(event, outcome)
}

// FeedbackInsights summarizes the recorded dataset.
func (s *Service) FeedbackInsights() (feedback.Summary, error) {
	return s.recorder.Insights()
}

// RecentFeedback returns the tail of the recorded dataset.
func (s *Service) RecentFeedback(n int) ([]feedback.Example, error) {
	return s.recorder.ReadRecent(n)
}

// =============================================================================
// Objective Operations
// =============================================================================

// AnalyzeObjectives mines the dataset without changing anything.
func (s *Service) AnalyzeObjectives(ctx context.Context) (objective.Report, error) {
	return s.manager.Analyze(ctx)
}

// AdaptObjectives runs one adaptation pass, applying any proposals.
func (s *Service) AdaptObjectives(ctx context.Context) (objective.AdaptResult, error) {
	return s.manager.Adapt(ctx)
}

// ObjectiveSet returns the current objective document.
func (s *Service) ObjectiveSet() (objective.Set, error) {
	return s.objectives.Load()
}

// ObjectiveHistory returns the full evolution log in append order.
func (s *Service) ObjectiveHistory() ([]objective.Evolution, error) {
	return s.manager.History()
}

// =============================================================================
// Symmetry Operations
// =============================================================================

// AnalyzeSymmetry mines the adaptation and evolution logs without
// changing anything.
func (s *Service) AnalyzeSymmetry(ctx context.Context) (symmetry.Report, error) {
	return s.symmetry.Analyze(ctx)
}

// RunSymmetry runs one symmetry pass, applying proposals that clear the
// confidence floor.
func (s *Service) RunSymmetry(ctx context.Context) (symmetry.RunResult, error) {
	return s.symmetry.Run(ctx)
}

// SymmetryHistory returns every design feedback record in append order.
func (s *Service) SymmetryHistory() ([]symmetry.DesignFeedback, error) {
	return s.symmetry.History()
}

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
