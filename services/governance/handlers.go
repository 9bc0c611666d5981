// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
)

// ServiceVersion is the governance service version.
const ServiceVersion = "0.1.0"

// defaultEntriesLimit bounds ledger pages when the client does not ask
// for a specific size.
const defaultEntriesLimit = 100

// Handlers contains the HTTP handlers for the governance kernel.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// =============================================================================
// Gate Handlers
// =============================================================================

// HandleTransition handles POST /v1/governance/transitions.
//
// Description:
//
//	Applies a quality gate result to a session, recording the decision in
//	the ledger before any state changes.
//
// Request Body:
//
//	TransitionRequest
//
// Response:
//
//	200 OK: phase.TransitionResult
//	400 Bad Request: Validation error
//	409 Conflict: Session is completed or blocked
//	500 Internal Server Error: Ledger or state store failure
func (h *Handlers) HandleTransition(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTransition")

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := phase.ValidateSessionID(req.SessionID); err != nil {
		logger.Warn("Invalid session ID", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_SESSION_ID",
		})
		return
	}

	result, err := datatypes.ParseGateResult(req.GateResult)
	if err != nil {
		logger.Warn("Invalid gate result", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_GATE_RESULT",
		})
		return
	}

	logger.Info("Applying gate result",
		"session_id", req.SessionID,
		"gate_result", string(result))

	outcome, err := h.svc.Transition(c.Request.Context(), req.SessionID, result, req.Metrics, req.ConfigVersion)
	if err != nil {
		if errors.Is(err, phase.ErrSessionTerminal) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: err.Error(),
				Code:  "SESSION_TERMINAL",
			})
			return
		}

		logger.Error("Transition failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "TRANSITION_FAILED",
		})
		return
	}

	logger.Info("Transition applied",
		"session_id", outcome.SessionID,
		"from", outcome.From,
		"to", outcome.To,
		"movement", outcome.Movement,
		"sequence", outcome.Sequence)

	c.JSON(http.StatusOK, outcome)
}

// HandleSessionState handles GET /v1/governance/sessions/:id.
//
// Response:
//
//	200 OK: phase.PhaseState
//	400 Bad Request: Invalid session ID
//	404 Not Found: Session has no phase state
func (h *Handlers) HandleSessionState(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSessionState")

	sessionID := c.Param("id")
	if err := phase.ValidateSessionID(sessionID); err != nil {
		logger.Warn("Invalid session ID", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_SESSION_ID",
		})
		return
	}

	state, err := h.svc.SessionState(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SESSION_NOT_FOUND",
			})
			return
		}

		logger.Error("State load failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STATE_LOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, state)
}

// HandleListSessions handles GET /v1/governance/sessions.
//
// Response:
//
//	200 OK: SessionListResponse
//	500 Internal Server Error: Index read failure
func (h *Handlers) HandleListSessions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSessions")

	sessions, err := h.svc.Sessions(c.Request.Context())
	if err != nil {
		logger.Error("Session list failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_LIST_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// HandleResetSession handles POST /v1/governance/sessions/:id/reset.
//
// Description:
//
//	Clears a session's phase state so it starts over at the entry phase.
//	The decision ledger keeps the session's full history.
//
// Response:
//
//	200 OK: ResetResponse
//	400 Bad Request: Invalid session ID
//	500 Internal Server Error: State store failure
func (h *Handlers) HandleResetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetSession")

	sessionID := c.Param("id")
	if err := phase.ValidateSessionID(sessionID); err != nil {
		logger.Warn("Invalid session ID", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_SESSION_ID",
		})
		return
	}

	if err := h.svc.ResetSession(c.Request.Context(), sessionID); err != nil {
		logger.Error("Reset failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESET_FAILED",
		})
		return
	}

	logger.Info("Session reset", "session_id", sessionID)

	c.JSON(http.StatusOK, ResetResponse{SessionID: sessionID, Reset: true})
}

// HandleStats handles GET /v1/governance/stats.
//
// Response:
//
//	200 OK: phase.Stats
//	500 Internal Server Error: Ledger read failure
func (h *Handlers) HandleStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleStats")

	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Stats computation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STATS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// =============================================================================
// Ledger Handlers
// =============================================================================

// HandleVerifyLedger handles GET /v1/governance/ledger/verify.
//
// Description:
//
//	Recomputes the hash chain from the genesis hash forward. A tampered,
//	reordered, or truncated ledger reports valid=false with the index of
//	the first broken link; the response status is still 200 because the
//	verification itself succeeded.
//
// Response:
//
//	200 OK: VerifyReport
//	500 Internal Server Error: Ledger read failure
func (h *Handlers) HandleVerifyLedger(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleVerifyLedger")

	report, err := h.svc.VerifyLedger()
	if err != nil {
		logger.Error("Verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "VERIFY_FAILED",
		})
		return
	}

	if !report.Valid {
		logger.Warn("Ledger chain broken", "break_index", report.BreakIndex)
	}

	c.JSON(http.StatusOK, report)
}

// HandleLedgerEntries handles GET /v1/governance/ledger/entries.
//
// Query Parameters:
//
//	limit: Maximum entries to return, most recent last. Default 100.
//
// Response:
//
//	200 OK: EntriesResponse
//	400 Bad Request: Invalid limit
//	500 Internal Server Error: Ledger read failure
func (h *Handlers) HandleLedgerEntries(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLedgerEntries")

	limit, ok := parseLimit(c, logger, defaultEntriesLimit)
	if !ok {
		return
	}

	entries, err := h.svc.LedgerEntries(limit)
	if err != nil {
		logger.Error("Ledger read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LEDGER_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, EntriesResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// HandleLedgerStats handles GET /v1/governance/ledger/stats.
//
// Response:
//
//	200 OK: LedgerReport
//	500 Internal Server Error: Ledger read failure
func (h *Handlers) HandleLedgerStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLedgerStats")

	report, err := h.svc.LedgerReport()
	if err != nil {
		logger.Error("Ledger stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LEDGER_STATS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// =============================================================================
// Policy Handlers
// =============================================================================

// HandleEvalExpression handles POST /v1/governance/policies/eval.
//
// Description:
//
//	Evaluates a boolean condition in the sandbox against the supplied
//	environment. Evaluation failures (parse errors, timeouts, memory
//	ceiling) come back inside the result with Success=false; the HTTP
//	status stays 200 because the evaluation ran.
//
// Request Body:
//
//	EvalRequest
//
// Response:
//
//	200 OK: sandbox.Result
//	400 Bad Request: Validation error
func (h *Handlers) HandleEvalExpression(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvalExpression")

	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result := h.svc.EvalExpression(c.Request.Context(), req.Expression, req.Env(), req.Timeout())

	if !result.Success {
		logger.Warn("Evaluation did not complete", "error", result.Error)
	}

	c.JSON(http.StatusOK, result)
}

// HandleEvalPolicy handles POST /v1/governance/policies/:name/eval.
//
// Description:
//
//	Evaluates a named policy from the rule set currently in force. The
//	policy's conditions are AND-joined; actions are collected when the
//	condition holds, never executed.
//
// Request Body:
//
//	PolicyEvalRequest
//
// Response:
//
//	200 OK: PolicyEvalResponse
//	400 Bad Request: Validation error
//	404 Not Found: No policy by that name
func (h *Handlers) HandleEvalPolicy(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvalPolicy")

	var req PolicyEvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	name := c.Param("name")
	result, policy, err := h.svc.EvalPolicy(c.Request.Context(), name, req.Env(), req.Timeout())
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "POLICY_NOT_FOUND",
			})
			return
		}

		logger.Error("Policy evaluation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "EVAL_FAILED",
		})
		return
	}

	logger.Info("Policy evaluated",
		"policy", policy.Name,
		"success", result.Success,
		"value", result.Value)

	c.JSON(http.StatusOK, PolicyEvalResponse{Policy: policy.Name, Result: result})
}

// HandleListPolicies handles GET /v1/governance/policies.
//
// Response:
//
//	200 OK: policystore.RuleSet
func (h *Handlers) HandleListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.RuleSet())
}

// =============================================================================
// Feedback Handlers
// =============================================================================

// HandleRecordFeedback handles POST /v1/governance/feedback.
//
// Description:
//
//	Converts a domain event plus its gate outcome into a training example.
//	Unrecognized event families respond with recorded=false rather than an
//	error so producers can emit new families before the kernel learns them.
//
// Request Body:
//
//	FeedbackRequest
//
// Response:
//
//	200 OK: FeedbackResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Dataset write failure
func (h *Handlers) HandleRecordFeedback(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordFeedback")

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	req.EnsureDefaults()

	event, ok := req.Event()
	if !ok {
		logger.Warn("Unrecognized event family", "event_type", req.EventType)
		c.JSON(http.StatusOK, FeedbackResponse{Recorded: false})
		return
	}

	example, err := h.svc.RecordFeedback(event, req.GateOutcome())
	if err != nil {
		logger.Error("Record failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RECORD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, FeedbackResponse{
		Recorded: example != nil,
		Example:  example,
	})
}

// HandleFeedbackInsights handles GET /v1/governance/feedback/insights.
//
// Response:
//
//	200 OK: feedback.Summary
//	500 Internal Server Error: Dataset read failure
func (h *Handlers) HandleFeedbackInsights(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFeedbackInsights")

	summary, err := h.svc.FeedbackInsights()
	if err != nil {
		logger.Error("Insights failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INSIGHTS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleRecentFeedback handles GET /v1/governance/feedback/recent.
//
// Query Parameters:
//
//	limit: Maximum examples to return, most recent last. Default 10.
//
// Response:
//
//	200 OK: RecentFeedbackResponse
//	400 Bad Request: Invalid limit
//	500 Internal Server Error: Dataset read failure
func (h *Handlers) HandleRecentFeedback(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecentFeedback")

	limit, ok := parseLimit(c, logger, 10)
	if !ok {
		return
	}

	examples, err := h.svc.RecentFeedback(limit)
	if err != nil {
		logger.Error("Dataset read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "DATASET_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, RecentFeedbackResponse{
		Examples: examples,
		Count:    len(examples),
	})
}

// =============================================================================
// Objective Handlers
// =============================================================================

// HandleAnalyzeObjectives handles GET /v1/governance/objectives/analysis.
//
// Description:
//
//	Mines the feedback dataset for systematic patterns without changing
//	the objective document. The report carries any proposals the manager
//	would apply on an adapt run.
//
// Response:
//
//	200 OK: objective.Report
//	500 Internal Server Error: Dataset read failure
func (h *Handlers) HandleAnalyzeObjectives(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyzeObjectives")

	report, err := h.svc.AnalyzeObjectives(c.Request.Context())
	if err != nil {
		logger.Error("Analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ANALYSIS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HandleAdaptObjectives handles POST /v1/governance/objectives/adapt.
//
// Description:
//
//	Runs one adaptation pass: analyzes the dataset and applies every
//	resulting proposal, rewriting the objective document with a version
//	bump and appending one evolution record per change.
//
// Response:
//
//	200 OK: objective.AdaptResult
//	500 Internal Server Error: Analysis or rewrite failure
func (h *Handlers) HandleAdaptObjectives(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAdaptObjectives")

	result, err := h.svc.AdaptObjectives(c.Request.Context())
	if err != nil {
		logger.Error("Adaptation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ADAPT_FAILED",
		})
		return
	}

	logger.Info("Adaptation pass completed",
		"proposals", len(result.Report.Proposals),
		"applied", len(result.Applied))

	c.JSON(http.StatusOK, result)
}

// HandleListObjectives handles GET /v1/governance/objectives.
//
// Response:
//
//	200 OK: objective.Set
//	500 Internal Server Error: Document read failure
func (h *Handlers) HandleListObjectives(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListObjectives")

	set, err := h.svc.ObjectiveSet()
	if err != nil {
		logger.Error("Objective load failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "OBJECTIVE_LOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, set)
}

// HandleObjectiveHistory handles GET /v1/governance/objectives/history.
//
// Response:
//
//	200 OK: EvolutionHistoryResponse
//	500 Internal Server Error: Log read failure
func (h *Handlers) HandleObjectiveHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleObjectiveHistory")

	evolutions, err := h.svc.ObjectiveHistory()
	if err != nil {
		logger.Error("History read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, EvolutionHistoryResponse{
		Evolutions: evolutions,
		Count:      len(evolutions),
	})
}

// =============================================================================
// Symmetry Handlers
// =============================================================================

// HandleAnalyzeSymmetry handles GET /v1/governance/symmetry/analysis.
//
// Response:
//
//	200 OK: symmetry.Report
//	500 Internal Server Error: Log read failure
func (h *Handlers) HandleAnalyzeSymmetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyzeSymmetry")

	report, err := h.svc.AnalyzeSymmetry(c.Request.Context())
	if err != nil {
		logger.Error("Analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ANALYSIS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HandleRunSymmetry handles POST /v1/governance/symmetry/run.
//
// Description:
//
//	Runs one symmetry pass: mines the adaptation and evolution logs for
//	design-level patterns, applies proposals meeting the confidence floor
//	to the policy rule set, and records every proposal as design feedback
//	whether applied or skipped.
//
// Response:
//
//	200 OK: symmetry.RunResult
//	500 Internal Server Error: Analysis or rewrite failure
func (h *Handlers) HandleRunSymmetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRunSymmetry")

	result, err := h.svc.RunSymmetry(c.Request.Context())
	if err != nil {
		logger.Error("Symmetry run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SYMMETRY_RUN_FAILED",
		})
		return
	}

	logger.Info("Symmetry pass completed",
		"proposals", len(result.Report.Proposals),
		"recorded", len(result.Recorded))

	c.JSON(http.StatusOK, result)
}

// HandleSymmetryHistory handles GET /v1/governance/symmetry/history.
//
// Response:
//
//	200 OK: DesignHistoryResponse
//	500 Internal Server Error: Log read failure
func (h *Handlers) HandleSymmetryHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSymmetryHistory")

	records, err := h.svc.SymmetryHistory()
	if err != nil {
		logger.Error("History read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, DesignHistoryResponse{
		Records: records,
		Count:   len(records),
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

// HandleHealth handles GET /v1/governance/health.
//
// Description:
//
//	Returns the health status of the service. Always returns 200 if running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/governance/ready.
//
// Description:
//
//	Probes the session index and the ledger. Returns 503 Service
//	Unavailable if either store cannot be read.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true) - Service is fully ready
//	503 Service Unavailable: ReadyResponse (Ready=false) - A store is not readable
func (h *Handlers) HandleReady(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReady")

	resp := ReadyResponse{RuleSetVersion: h.svc.RuleSet().Version}

	active, err := h.svc.ActiveSessions(c.Request.Context())
	if err != nil {
		logger.Warn("Session index not readable", "error", err)
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.ActiveSessions = active

	report, err := h.svc.LedgerReport()
	if err != nil {
		logger.Warn("Ledger not readable", "error", err)
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.LedgerEntries = report.Entries

	resp.Ready = true
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// getOrCreateRequestID returns the X-Request-ID header or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// parseLimit reads the limit query parameter, rejecting negatives. The
// second return is false when a response has already been written.
func parseLimit(c *gin.Context, logger *slog.Logger, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		logger.Warn("Invalid limit", "limit", raw)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "limit must be a non-negative integer",
			Code:  "INVALID_LIMIT",
		})
		return 0, false
	}
	return limit, true
}
