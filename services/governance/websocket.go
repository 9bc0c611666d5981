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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
)

// ledgerStreamInterval is how often the stream polls for new entries.
const ledgerStreamInterval = 1 * time.Second

// ledgerSnapshotLimit bounds the initial backlog pushed on connect when
// the client does not name a starting sequence.
const ledgerSnapshotLimit = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LedgerStreamEvent is one message on the ledger stream.
type LedgerStreamEvent struct {
	// Type is "snapshot" for the initial backlog, "append" afterwards.
	Type string `json:"type"`

	// Entries are the ledger entries in append order.
	Entries []ledger.Entry `json:"entries"`

	// Sequence is the highest sequence number delivered so far.
	Sequence int64 `json:"sequence"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleLedgerStream handles GET /v1/governance/ledger/stream.
//
// Description:
//
//	Upgrades to a WebSocket and streams decision ledger entries. On
//	connect the client receives a snapshot (the recent tail, or every
//	entry after the "after" query parameter), then an append event for
//	each batch of new entries as the kernel records decisions.
//
// Query Parameters:
//
//	after: Stream every entry with a sequence number greater than this.
//	       Omitted: snapshot of the most recent entries only.
func (h *Handlers) HandleLedgerStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Ledger stream client connected")

	var snapshot []ledger.Entry
	if raw := c.Query("after"); raw != "" {
		after, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || after < 0 {
			_ = sendJSON(ws, ErrorResponse{
				Error: "after must be a non-negative integer",
				Code:  "INVALID_AFTER",
			})
			return
		}
		snapshot, err = h.svc.LedgerEntriesAfter(after)
	} else {
		snapshot, err = h.svc.LedgerEntries(ledgerSnapshotLimit)
	}
	if err != nil {
		slog.Error("Ledger stream snapshot failed", "error", err)
		return
	}

	lastSeq := int64(0)
	if len(snapshot) > 0 {
		lastSeq = snapshot[len(snapshot)-1].Sequence
	}
	if err := sendJSON(ws, LedgerStreamEvent{
		Type:     "snapshot",
		Entries:  snapshot,
		Sequence: lastSeq,
	}); err != nil {
		return
	}

	// Reader goroutine: the client never needs to send anything, but a
	// blocked read is how we learn the peer went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ledgerStreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			slog.Info("Ledger stream client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			batch, err := h.svc.LedgerEntriesAfter(lastSeq)
			if err != nil {
				slog.Warn("Ledger stream poll failed", "error", err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			lastSeq = batch[len(batch)-1].Sequence
			if err := sendJSON(ws, LedgerStreamEvent{
				Type:     "append",
				Entries:  batch,
				Sequence: lastSeq,
			}); err != nil {
				return
			}
		}
	}
}
