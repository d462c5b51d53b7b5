package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single relayed line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for the exit summary and TUI.
	MaxBufferedLines = 100
)

// levelMarkers maps the simulator's own log prefixes to slog levels.
// Checked in order; the first match wins.
var levelMarkers = []struct {
	marker string
	level  slog.Level
}{
	{"ERROR [", slog.LevelError},
	{"WARN [", slog.LevelWarn},
	{"INFO [", slog.LevelInfo},
	{"DEBUG [", slog.LevelDebug},
	{"TRACE [", slog.LevelDebug},
}

// SimulatorLineHandler receives the simulator's stdout line by line.
// It keeps the most recent lines and re-logs each one at the level the
// simulator tagged it with.
type SimulatorLineHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int64
	counts map[slog.Level]int64
	mu     sync.Mutex
}

// NewSimulatorLineHandler creates a handler logging through logger.
// Unless verbose, debug-level simulator lines are buffered but not logged.
func NewSimulatorLineHandler(logger *slog.Logger, verbose bool) *SimulatorLineHandler {
	return &SimulatorLineHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
		counts:  make(map[slog.Level]int64),
	}
}

// ParseLine processes a single line of simulator output.
func (h *SimulatorLineHandler) ParseLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}
	level := ClassifyLine(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.counts[level]++
	h.mu.Unlock()

	if !h.verbose && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "simulator_output", "line", line)
}

// ClassifyLine returns the level the simulator logged line at. Untagged
// lines (banners, panics) are Info.
func ClassifyLine(line string) slog.Level {
	trimmed := strings.TrimLeft(line, " \t")
	for _, m := range levelMarkers {
		if strings.HasPrefix(trimmed, m.marker) || strings.Contains(line, " "+m.marker) {
			return m.level
		}
	}
	return slog.LevelInfo
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *SimulatorLineHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// Total is the number of lines handled so far.
func (h *SimulatorLineHandler) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Count returns how many lines were classified at level.
func (h *SimulatorLineHandler) Count(level slog.Level) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}
