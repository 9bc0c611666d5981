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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all governance routes with the router.
//
// Description:
//
//	Registers all /v1/governance/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Gate Endpoints:
//
//	POST /v1/governance/transitions - Apply a gate result to a session
//	GET  /v1/governance/sessions - List indexed sessions
//	GET  /v1/governance/sessions/:id - Get a session's phase state
//	POST /v1/governance/sessions/:id/reset - Clear a session's state
//	GET  /v1/governance/stats - Aggregate ledger statistics
//
// Ledger Endpoints:
//
//	GET  /v1/governance/ledger/verify - Verify the hash chain
//	GET  /v1/governance/ledger/entries - Read recent entries
//	GET  /v1/governance/ledger/stats - Summarize the ledger file
//	GET  /v1/governance/ledger/stream - WebSocket entry stream
//
// Policy Endpoints:
//
//	GET  /v1/governance/policies - The rule set in force
//	POST /v1/governance/policies/eval - Evaluate an expression
//	POST /v1/governance/policies/:name/eval - Evaluate a named policy
//
// Feedback Endpoints:
//
//	POST /v1/governance/feedback - Record a domain event
//	GET  /v1/governance/feedback/insights - Dataset summary
//	GET  /v1/governance/feedback/recent - Dataset tail
//
// Objective Endpoints:
//
//	GET  /v1/governance/objectives - The objective document
//	GET  /v1/governance/objectives/analysis - Dry-run pattern analysis
//	POST /v1/governance/objectives/adapt - Run one adaptation pass
//	GET  /v1/governance/objectives/history - Evolution log
//
// Symmetry Endpoints:
//
//	GET  /v1/governance/symmetry/analysis - Dry-run design analysis
//	POST /v1/governance/symmetry/run - Run one symmetry pass
//	GET  /v1/governance/symmetry/history - Design feedback log
//
// Health Endpoints:
//
//	GET  /v1/governance/health - Health check
//	GET  /v1/governance/ready - Readiness check
//
// Example:
//
//	service, err := governance.NewService(governance.DefaultServiceConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	handlers := governance.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	governance.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	gov := rg.Group("/governance")
	{
		// Gate transitions and session state
		gov.POST("/transitions", handlers.HandleTransition)
		gov.GET("/sessions", handlers.HandleListSessions)
		gov.GET("/sessions/:id", handlers.HandleSessionState)
		gov.POST("/sessions/:id/reset", handlers.HandleResetSession)
		gov.GET("/stats", handlers.HandleStats)

		// Decision ledger
		ledgerGroup := gov.Group("/ledger")
		{
			ledgerGroup.GET("/verify", handlers.HandleVerifyLedger)
			ledgerGroup.GET("/entries", handlers.HandleLedgerEntries)
			ledgerGroup.GET("/stats", handlers.HandleLedgerStats)
			ledgerGroup.GET("/stream", handlers.HandleLedgerStream)
		}

		// Policy sandbox
		gov.GET("/policies", handlers.HandleListPolicies)
		gov.POST("/policies/eval", handlers.HandleEvalExpression)
		gov.POST("/policies/:name/eval", handlers.HandleEvalPolicy)

		// Feedback dataset
		gov.POST("/feedback", handlers.HandleRecordFeedback)
		gov.GET("/feedback/insights", handlers.HandleFeedbackInsights)
		gov.GET("/feedback/recent", handlers.HandleRecentFeedback)

		// Objective manager
		gov.GET("/objectives", handlers.HandleListObjectives)
		gov.GET("/objectives/analysis", handlers.HandleAnalyzeObjectives)
		gov.POST("/objectives/adapt", handlers.HandleAdaptObjectives)
		gov.GET("/objectives/history", handlers.HandleObjectiveHistory)

		// Symmetry engine
		gov.GET("/symmetry/analysis", handlers.HandleAnalyzeSymmetry)
		gov.POST("/symmetry/run", handlers.HandleRunSymmetry)
		gov.GET("/symmetry/history", handlers.HandleSymmetryHistory)

		// Health checks
		gov.GET("/health", handlers.HandleHealth)
		gov.GET("/ready", handlers.HandleReady)
	}
}
