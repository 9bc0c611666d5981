// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Integration test for the full governance loop
//
// This test drives a real Service against a scratch data directory: phase
// transitions feed the ledger, feedback examples earn an objective
// evolution, and the evolution echoes back into the policy rule set.

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
)

func TestGovernanceLoopIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	ctx := context.Background()

	svc, err := governance.NewService(governance.ServiceConfig{
		DataDir:              t.TempDir(),
		InMemorySessionIndex: true,
	})
	require.NoError(t, err)
	defer svc.Close()

	t.Run("Session_Completes_Through_All_Phases", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			result, err := svc.Transition(ctx, "loop-main", datatypes.GatePass, datatypes.Metrics{}, "")
			require.NoError(t, err)
			assert.Equal(t, phase.MovementAdvanced, result.Movement, "transition %d", i+1)
		}

		result, err := svc.Transition(ctx, "loop-main", datatypes.GatePass, datatypes.Metrics{}, "")
		require.NoError(t, err)
		assert.Equal(t, phase.MovementCompleted, result.Movement)
		assert.Equal(t, phase.StatusCompleted, result.Status)

		_, err = svc.Transition(ctx, "loop-main", datatypes.GatePass, datatypes.Metrics{}, "")
		assert.ErrorIs(t, err, phase.ErrSessionTerminal)
	})

	t.Run("Fail_At_Entry_Blocks_Session", func(t *testing.T) {
		result, err := svc.Transition(ctx, "loop-blocked", datatypes.GateFail, datatypes.Metrics{}, "")
		require.NoError(t, err)
		assert.Equal(t, phase.MovementBlocked, result.Movement)
		assert.Equal(t, phase.StatusBlocked, result.Status)
	})

	t.Run("Partial_Retries_Then_Fail_Rolls_Back", func(t *testing.T) {
		_, err := svc.Transition(ctx, "loop-bumpy", datatypes.GatePass, datatypes.Metrics{}, "")
		require.NoError(t, err)
		_, err = svc.Transition(ctx, "loop-bumpy", datatypes.GateWarn, datatypes.Metrics{}, "")
		require.NoError(t, err)

		retried, err := svc.Transition(ctx, "loop-bumpy", datatypes.GatePartial, datatypes.Metrics{}, "")
		require.NoError(t, err)
		assert.Equal(t, phase.MovementRetried, retried.Movement)

		rolled, err := svc.Transition(ctx, "loop-bumpy", datatypes.GateFail, datatypes.Metrics{}, "")
		require.NoError(t, err)
		assert.Equal(t, phase.MovementRolledBack, rolled.Movement)

		state, err := svc.SessionState("loop-bumpy")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, datatypes.QualityPhase(1), state.CurrentPhase)
	})

	t.Run("Every_Decision_Lands_In_The_Ledger", func(t *testing.T) {
		report, err := svc.VerifyLedger()
		require.NoError(t, err)
		assert.True(t, report.Valid, "hash chain should verify")

		// Five completions, one block, four bumpy moves. The rejected
		// terminal transition must not have been recorded.
		assert.EqualValues(t, 10, report.Entries)
	})

	t.Run("Feedback_Earns_Objective_Evolution", func(t *testing.T) {
		passed := datatypes.Outcome{GatePassed: true, Severity: datatypes.SeverityP3}
		caught := datatypes.Outcome{GatePassed: false, Severity: datatypes.SeverityP2}

		record := func(event datatypes.DomainEvent, outcome datatypes.Outcome) {
			t.Helper()
			_, err := svc.RecordFeedback(event, outcome)
			require.NoError(t, err)
		}
		f := func(v float64) *float64 { return &v }

		// Six cost drops past the 10% bar.
		for i := 0; i < 6; i++ {
			record(datatypes.MetricChangeEvent{
				EventMeta: datatypes.EventMeta{Actor: "billing-probe", Timestamp: time.Now()},
				Metric:    "cost_per_item", OldValue: f(1.00), NewValue: 0.85,
			}, passed)
		}
		// Four quality regressions the gate caught.
		for i := 0; i < 4; i++ {
			record(datatypes.QualityScoreChangeEvent{
				EventMeta: datatypes.EventMeta{Actor: "quality-gate", Timestamp: time.Now()},
				OldScore:  f(0.90), NewScore: 0.80,
			}, caught)
		}
		// Latency drift plus benign noise to fill the window to fifty.
		for i := 0; i < 5; i++ {
			record(datatypes.MetricChangeEvent{
				EventMeta: datatypes.EventMeta{Actor: "latency-probe", Timestamp: time.Now()},
				Metric:    "latency_ms", OldValue: f(100), NewValue: 125,
			}, passed)
		}
		for i := 0; i < 35; i++ {
			record(datatypes.MetricChangeEvent{
				EventMeta: datatypes.EventMeta{Actor: "dedup-probe", Timestamp: time.Now()},
				Metric:    "duplication_rate", OldValue: f(0.100), NewValue: 0.098,
			}, passed)
		}

		analysis, err := svc.AnalyzeObjectives(ctx)
		require.NoError(t, err)
		assert.True(t, analysis.Sufficient)
		assert.Equal(t, 6, analysis.CostDrops)
		assert.Equal(t, 4, analysis.QualityDrops)
		require.NotEmpty(t, analysis.Proposals)

		adapted, err := svc.AdaptObjectives(ctx)
		require.NoError(t, err)
		require.Len(t, adapted.Applied, 1)
		assert.Equal(t, "minimize_cost -> maximize_value", adapted.Applied[0].Change)
		assert.InDelta(t, 0.80, adapted.Applied[0].Confidence, 1e-9)

		set, err := svc.ObjectiveSet()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, set.Find("maximize_value"), 0)
		assert.Less(t, set.Find("minimize_cost"), 0)
	})

	t.Run("Symmetry_Echoes_Adaptations_Into_Policies", func(t *testing.T) {
		f := func(v float64) *float64 { return &v }
		passed := datatypes.Outcome{GatePassed: true, Severity: datatypes.SeverityP3}

		steps := [][2]float64{{0.70, 0.75}, {0.75, 0.78}, {0.78, 0.80}}
		for _, step := range steps {
			_, err := svc.RecordFeedback(datatypes.ThresholdChangeEvent{
				EventMeta:  datatypes.EventMeta{Actor: "policy-tuner", Timestamp: time.Now()},
				PolicyName: "quality-floor",
				Metric:     "quality_score",
				OldValue:   f(step[0]), NewValue: step[1],
			}, passed)
			require.NoError(t, err)
		}

		result, err := svc.RunSymmetry(ctx)
		require.NoError(t, err)

		applied := map[string]bool{}
		for _, rec := range result.Recorded {
			if rec.Applied {
				applied[rec.Heuristic] = true
			}
		}
		assert.True(t, applied["adaptive_threshold"], "repeated policy should be annotated")
		assert.True(t, applied["value_composite"], "objective evolution should echo into a policy")

		ruleSet := svc.RuleSet()
		idx := ruleSet.Find("quality-floor")
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, "true", ruleSet.Policies[idx].Annotations["adaptive_threshold"])
		assert.GreaterOrEqual(t, ruleSet.Find("value-composite"), 0)
	})

	t.Run("Reset_Forgets_The_Session", func(t *testing.T) {
		require.NoError(t, svc.ResetSession(ctx, "loop-blocked"))

		state, err := svc.SessionState("loop-blocked")
		require.NoError(t, err)
		assert.Nil(t, state)
	})
}
