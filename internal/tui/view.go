package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// maxRecentLines bounds the simulator output panel.
const maxRecentLines = 8

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProcess(),
		m.renderChain(),
		m.renderControlPlane(),
	}
	if len(m.snapshot.RecentLines) > 0 {
		sections = append(sections, m.renderOutput())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-chainsim-supervisor │ %s │ Elapsed: %s ",
		StateLabel(m.snapshot.Status.State),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Sections
// =============================================================================

func (m Model) renderProcess() string {
	st := m.snapshot.Status

	pid := "-"
	uptime := "-"
	if st.Running {
		pid = strconv.Itoa(st.PID)
		uptime = formatDuration(st.Uptime)
	}

	rows := []string{
		RenderKeyValue("PID", pid),
		RenderKeyValue("Uptime", uptime),
		RenderKeyValue("Restarts", strconv.Itoa(m.snapshot.Restarts)),
	}
	if st.Workspace != "" {
		rows = append(rows, RenderKeyValue("Workspace", mutedStyle.Render(st.Workspace)))
	}
	return m.section("Process", rows)
}

func (m Model) renderChain() string {
	st := m.snapshot.Status
	opts := st.Options

	rows := []string{
		RenderKeyValue("Port", strconv.Itoa(int(opts.ServerPort()))),
		RenderKeyValue("Shards", strconv.FormatUint(opts.NumShards(), 10)),
		RenderKeyValue("Blocks generated", formatNumber(st.BlocksGenerated)),
		RenderKeyValue("Blocks/min", fmt.Sprintf("%.1f", m.snapshot.BlocksPerMinute)),
	}
	if opts.Autogenerates() {
		rows = append(rows, RenderKeyValue("Autogenerate", "every "+opts.AutogenerateInterval().String()))
	} else {
		rows = append(rows, RenderKeyValue("Autogenerate", dimStyle.Render("off")))
	}
	return m.section("Chain", rows)
}

func (m Model) renderControlPlane() string {
	s := m.snapshot
	rows := []string{
		RenderKeyValue("RPC p50", LatencyStyle(s.RPCP50.Milliseconds()).Render(formatMs(s.RPCP50))),
		RenderKeyValue("RPC p95", LatencyStyle(s.RPCP95.Milliseconds()).Render(formatMs(s.RPCP95))),
	}

	errCount := statusOK.Render("0")
	if s.RPCErrors > 0 {
		errCount = statusError.Render(strconv.FormatInt(s.RPCErrors, 10))
	}
	rows = append(rows, RenderKeyValue("RPC errors", errCount))

	if a := m.lastAction; a != nil {
		result := statusOK.Render("ok")
		if a.Err != nil {
			result = statusError.Render(a.Err.Error())
		}
		rows = append(rows, RenderKeyValue("Last action", a.Action+": "+result))
	}
	return m.section("Control plane", rows)
}

func (m Model) renderOutput() string {
	lines := m.snapshot.RecentLines
	if len(lines) > maxRecentLines {
		lines = lines[len(lines)-maxRecentLines:]
	}

	width := m.width - 6
	if width < 20 {
		width = 20
	}
	rendered := make([]string, len(lines))
	for i, line := range lines {
		rendered[i] = truncate(line, width)
	}

	body := boxStyle.Width(m.width - 2).Render(strings.Join(rendered, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Simulator output"),
		body,
	)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	keys := "g: generate block  e: generate epoch  q: quit"
	if m.controller == nil {
		keys = "q: quit"
	}
	footer := keys
	if m.metricsAddr != "" {
		footer += "  │  metrics: http://" + m.metricsAddr + "/metrics"
	}
	footer += "  │  updated " + m.lastUpdate.Format("15:04:05")
	return footerStyle.Render(footer)
}

// =============================================================================
// Helpers
// =============================================================================

func (m Model) section(title string, rows []string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render(titleStyle.Render(title)),
		strings.Join(rows, "\n"),
	)
}

// truncate shortens s to at most width runes.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
