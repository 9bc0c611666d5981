// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
)

// maxWatchEntries caps the dashboard's in-memory entry buffer. Older
// entries scroll out; the ledger on disk keeps everything.
const maxWatchEntries = 500

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var watchAfter int64

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the decision ledger live in a terminal dashboard",
	Long: `Stream decision ledger entries over the service's WebSocket feed.

On a terminal this opens a scrollable dashboard that follows the chain
head. When stdout is a pipe the same feed is emitted as one JSON entry
per line, so "governor watch | jq" works for scripting.

Keys:
  j/k or arrows  scroll     ctrl+d/ctrl+u  half page
  g/G            top/bottom q              quit

Exit Codes:
  0 = Stopped by the operator
  2 = Error (service unreachable, stream failure)`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().Int64Var(&watchAfter, "after", 0,
		"Only stream entries with a sequence number greater than this")

	rootCmd.AddCommand(watchCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runWatch is the CLI handler for "governor watch".
func runWatch(cmd *cobra.Command, args []string) {
	wsURL := streamURL()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		OutputError(cliJSON, "Failed to connect to ledger stream", err)
		os.Exit(CLIExitError)
	}
	defer conn.Close()

	// Pipes get plain NDJSON; the dashboard needs a real terminal.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		os.Exit(streamPlain(conn))
	}

	events := make(chan governance.LedgerStreamEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			var event governance.LedgerStreamEvent
			if err := conn.ReadJSON(&event); err != nil {
				errs <- err
				return
			}
			events <- event
		}
	}()

	model := newWatchModel(serverBase(), events, errs)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		OutputError(cliJSON, "Dashboard failed", err)
		os.Exit(CLIExitError)
	}
}

// streamURL builds the WebSocket URL for the ledger stream.
func streamURL() string {
	base := serverBase()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	url := base + "/v1/governance/ledger/stream"
	if watchAfter > 0 {
		url = fmt.Sprintf("%s?after=%d", url, watchAfter)
	}
	return url
}

// streamPlain copies the feed to stdout as one JSON entry per line.
func streamPlain(conn *websocket.Conn) int {
	encoder := json.NewEncoder(os.Stdout)
	for {
		var event governance.LedgerStreamEvent
		if err := conn.ReadJSON(&event); err != nil {
			fmt.Fprintf(os.Stderr, "Error: ledger stream closed: %v\n", err)
			return CLIExitError
		}
		for _, entry := range event.Entries {
			if err := encoder.Encode(entry); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to encode entry: %v\n", err)
				return CLIExitError
			}
		}
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// streamEventMsg delivers one stream event to the model.
type streamEventMsg governance.LedgerStreamEvent

// streamErrMsg reports a broken stream. The dashboard stays up so the
// operator can still read the buffered entries.
type streamErrMsg struct{ err error }

// waitForStream blocks on the reader goroutine's channels and converts
// the next delivery into a tea message.
func waitForStream(events <-chan governance.LedgerStreamEvent, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case event, ok := <-events:
			if !ok {
				return streamErrMsg{err: fmt.Errorf("stream closed")}
			}
			return streamEventMsg(event)
		case err := <-errs:
			return streamErrMsg{err: err}
		}
	}
}

// =============================================================================
// MODEL
// =============================================================================

// watchModel is the live ledger dashboard.
type watchModel struct {
	server string

	events <-chan governance.LedgerStreamEvent
	errs   <-chan error

	entries  []ledger.Entry
	lastSeq  int64
	verdicts map[datatypes.GateResult]int64

	viewport  viewport.Model
	width     int
	height    int
	ready     bool
	quitting  bool
	connected bool
	streamErr error
}

// newWatchModel creates a dashboard model reading from the given channels.
func newWatchModel(server string, events <-chan governance.LedgerStreamEvent, errs <-chan error) watchModel {
	return watchModel{
		server:    server,
		events:    events,
		errs:      errs,
		verdicts:  make(map[datatypes.GateResult]int64),
		connected: true,
	}
}

// Init starts the first stream read.
func (m watchModel) Init() tea.Cmd {
	return waitForStream(m.events, m.errs)
}

// Update handles window sizing, key presses, and stream deliveries.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := lipgloss.Height(m.renderHeader())
		footerHeight := lipgloss.Height(m.renderFooter())
		viewportHeight := m.height - headerHeight - footerHeight
		if viewportHeight < 1 {
			viewportHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}
		m.updateViewportContent()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "j", "down":
			m.viewport.LineDown(1)
		case "k", "up":
			m.viewport.LineUp(1)
		case "ctrl+d":
			m.viewport.HalfViewDown()
		case "ctrl+u":
			m.viewport.HalfViewUp()
		case "g", "home":
			m.viewport.GotoTop()
		case "G", "end":
			m.viewport.GotoBottom()
		}

	case streamEventMsg:
		m.applyEvent(governance.LedgerStreamEvent(msg))
		cmds = append(cmds, waitForStream(m.events, m.errs))

	case streamErrMsg:
		m.connected = false
		m.streamErr = msg.err
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// applyEvent folds one stream event into the entry buffer and counters.
func (m *watchModel) applyEvent(event governance.LedgerStreamEvent) {
	if event.Type == "snapshot" {
		m.entries = nil
		m.verdicts = make(map[datatypes.GateResult]int64)
	}
	for _, entry := range event.Entries {
		m.entries = append(m.entries, entry)
		m.verdicts[entry.GateResult]++
	}
	if len(m.entries) > maxWatchEntries {
		m.entries = m.entries[len(m.entries)-maxWatchEntries:]
	}
	if event.Sequence > m.lastSeq {
		m.lastSeq = event.Sequence
	}
	m.connected = true

	if m.ready {
		follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
		m.updateViewportContent()
		if follow {
			m.viewport.GotoBottom()
		}
	}
}

// updateViewportContent re-renders the entry buffer into the viewport.
func (m *watchModel) updateViewportContent() {
	if len(m.entries) == 0 {
		m.viewport.SetContent(watchMutedStyle.Render("Waiting for decisions..."))
		return
	}
	lines := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		lines = append(lines, renderWatchEntry(entry))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

// View renders the full dashboard.
func (m watchModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Connecting to ledger stream...\n"
	}
	return m.renderHeader() + "\n" + m.viewport.View() + "\n" + m.renderFooter()
}

// renderHeader draws the title line and the verdict counters.
func (m watchModel) renderHeader() string {
	title := watchTitleStyle.Render("Decision Ledger")
	badge := watchConnectedBadge.Render("LIVE")
	if !m.connected {
		badge = watchDisconnectedBadge.Render("DISCONNECTED")
	}

	stats := fmt.Sprintf("%d entries buffered, head seq %d", len(m.entries), m.lastSeq)
	var counts []string
	for _, verdict := range []datatypes.GateResult{
		datatypes.GatePass, datatypes.GateWarn, datatypes.GatePartial, datatypes.GateFail,
	} {
		if n := m.verdicts[verdict]; n > 0 {
			counts = append(counts, verdictStyle(verdict).Render(fmt.Sprintf("%s %d", verdict, n)))
		}
	}
	line := title + "  " + badge + "  " + watchStatsStyle.Render(m.server)
	info := watchStatsStyle.Render(stats)
	if len(counts) > 0 {
		info += "  " + strings.Join(counts, " ")
	}
	return line + "\n" + info
}

// renderFooter draws the key hints, plus the stream error when present.
func (m watchModel) renderFooter() string {
	hints := []string{
		watchHelpKeyStyle.Render("j/k") + watchHelpDescStyle.Render(" scroll"),
		watchHelpKeyStyle.Render("ctrl+d/u") + watchHelpDescStyle.Render(" half page"),
		watchHelpKeyStyle.Render("g/G") + watchHelpDescStyle.Render(" top/bottom"),
		watchHelpKeyStyle.Render("q") + watchHelpDescStyle.Render(" quit"),
	}
	footer := strings.Join(hints, "  ")
	if m.streamErr != nil {
		footer += "\n" + watchErrorStyle.Render(fmt.Sprintf("stream error: %v", m.streamErr))
	}
	return footer
}

// renderWatchEntry formats one ledger entry for the viewport.
func renderWatchEntry(entry ledger.Entry) string {
	next := "-"
	if entry.NextPhase != nil {
		next = entry.NextPhase.String()
	}
	line := fmt.Sprintf("#%-5d %s  %-20s %s  %s -> %s",
		entry.Sequence, entry.Timestamp, entry.SessionID,
		verdictStyle(entry.GateResult).Render(fmt.Sprintf("%-7s", entry.GateResult)),
		entry.Phase, next)
	if !entry.Metrics.IsZero() {
		line += "  " + watchStatsStyle.Render(formatMetrics(entry.Metrics))
	}
	return line
}

// verdictStyle picks the color for a gate verdict.
func verdictStyle(verdict datatypes.GateResult) lipgloss.Style {
	switch verdict {
	case datatypes.GatePass:
		return watchPassStyle
	case datatypes.GateWarn, datatypes.GatePartial:
		return watchWarnStyle
	case datatypes.GateFail:
		return watchFailStyle
	default:
		return watchStatsStyle
	}
}

// =============================================================================
// STYLES
// =============================================================================

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	watchStatsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	watchMutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	watchPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	watchWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	watchFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	watchErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	watchConnectedBadge = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("42")).
				Padding(0, 1)

	watchDisconnectedBadge = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("196")).
				Padding(0, 1)

	watchHelpKeyStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	watchHelpDescStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("250"))
)
