// Package orchestrator runs one supervised chain simulator end to end:
// preflight, metrics, the simulator itself with restarts, an optional
// dashboard and the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/config"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/logging"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/preflight"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/timeseries"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/tui"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// shutdownTimeout bounds teardown after the run ends.
const shutdownTimeout = 10 * time.Second

// recentLines is how many simulator lines the dashboard shows.
const recentLines = 8

// sampleInterval is how often block production is sampled.
const sampleInterval = time.Second

// Orchestrator coordinates all components for one simulator run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	options simulator.Options

	stager        workspace.Stager
	client        *rpc.Client
	lines         *logging.SimulatorLineHandler
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	blockRate     *timeseries.BlockRate
	backoff       RestartBackoff
	out           io.Writer

	supMu sync.RWMutex
	sup   *supervisor.Supervisor

	restarts  atomic.Int64
	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	opts := cfg.SimulatorOptions()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Port:   opts.ServerPort(),
		Shards: opts.NumShards(),
	}, registry)

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		options:   opts,
		stager:    workspace.DirStager{Source: cfg.AssetsDir},
		lines:     logging.NewSimulatorLineHandler(logger, cfg.Verbose),
		registry:  registry,
		metrics:   collector,
		blockRate: timeseries.NewBlockRate(),
		backoff:   DefaultRestartBackoff(),
		out:       os.Stdout,
	}
	o.client = rpc.New(
		rpc.WithTimeout(cfg.RPCTimeout),
		rpc.WithObserver(collector.Observer()),
	)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, o.simulatorRunning, logger)
	}
	return o
}

// Run launches the simulator and blocks until a signal, the dashboard quits,
// ctx is done, or the simulator is gone for good. The returned error is the
// one that ended the run; a signal or quit returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config.AssetsDir, o.options.ServerPort())
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	callbacks := o.metrics.SupervisorCallbacks(supervisor.Callbacks{
		OnStateChange: o.onStateChange,
		OnBlocks:      o.onBlocks,
	})
	sup, err := supervisor.New(supervisor.Config{
		Stager:       o.stager,
		Client:       o.client,
		Logger:       o.logger,
		Callbacks:    callbacks,
		ReadyTimeout: o.config.ReadyTimeout,
		LineParser:   o.lines,
	})
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	defer sup.Close()
	o.setSupervisor(sup)

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	superviseDone := make(chan error, 1)
	go func() {
		superviseDone <- o.supervise(ctx, sup)
	}()
	go o.sampleBlocks(ctx)

	var (
		program *tea.Program
		tuiDone chan struct{}
	)
	if o.config.TUIEnabled {
		program = tea.NewProgram(tui.New(tui.Config{
			MetricsAddr:   o.config.MetricsAddr,
			Source:        o,
			Controller:    sup,
			ActionTimeout: o.config.RPCTimeout,
		}), tea.WithAltScreen())
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Error("tui_failed", "error", err)
			}
		}()
	}

	// Wait for completion signal
	var runErr error
	superviseFinished := false
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case runErr = <-superviseDone:
		superviseFinished = true
	case <-tuiDone:
		o.logger.Info("tui_quit")
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	cancel()
	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	if err := sup.Kill(); err != nil && !errors.Is(err, supervisor.ErrProcessNotStarted) &&
		!errors.Is(err, supervisor.ErrProcessAlreadyFinished) {
		o.logger.Warn("simulator_kill_failed", "error", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if !superviseFinished {
		select {
		case <-superviseDone:
		case <-shutdownCtx.Done():
			o.logger.Warn("shutdown_incomplete", "error", shutdownCtx.Err())
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	// Print exit summary
	o.printExitSummary()
	return runErr
}

// supervise starts the simulator and restarts it after failures until the
// restart budget is spent or ctx is done. A clean exit ends supervision.
func (o *Orchestrator) supervise(ctx context.Context, sup *supervisor.Supervisor) error {
	delay := newRestartDelay(o.backoff, time.Now().UnixNano())

	for {
		started := time.Now()
		handle, err := sup.Start(ctx, o.options)
		if ctx.Err() != nil {
			return nil
		}

		exitCode := -1
		if handle == nil {
			o.logger.Error("simulator_start_failed", "error", err)
		} else {
			if err != nil {
				o.logger.Warn("initial_epoch_failed", "pid", handle.PID(), "error", err)
			}
			err = handle.Listen(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil || errors.Is(err, supervisor.ErrProcessKilled) {
				return nil
			}
			var exitErr *supervisor.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.Code
			}
		}
		delay.observe(time.Since(started), exitCode)

		attempt := int(o.restarts.Load()) + 1
		if attempt > o.config.MaxRestarts {
			return err
		}

		wait := delay.next()
		o.logger.Info("simulator_restart_scheduled",
			"attempt", attempt,
			"max_restarts", o.config.MaxRestarts,
			"delay", wait.String(),
			"cause", err,
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		o.restarts.Add(1)
	}
}

// sampleBlocks feeds the block rate tracker until ctx is done.
func (o *Orchestrator) sampleBlocks(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.blockRate.Sample()
		}
	}
}

// Callback handlers

func (o *Orchestrator) onBlocks(_ string, n uint64) {
	o.blockRate.Add(n)
}

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	if o.config.Verbose {
		o.logger.Debug("simulator_state_changed",
			"from", oldState.String(),
			"to", newState.String(),
		)
	}
}

// simulatorRunning backs the metrics server's /ready endpoint.
func (o *Orchestrator) simulatorRunning() bool {
	sup := o.Supervisor()
	return sup != nil && sup.Status().Running
}

// Snapshot implements tui.StatusSource.
func (o *Orchestrator) Snapshot() tui.Snapshot {
	snap := tui.Snapshot{
		Restarts:        int(o.restarts.Load()),
		BlocksPerMinute: o.blockRate.Rates().Last1m,
		RecentLines:     o.lines.RecentLines(recentLines),
	}
	if sup := o.Supervisor(); sup != nil {
		snap.Status = sup.Status()
	}

	summary := o.metrics.GenerateSummary()
	for _, rs := range summary.RPC {
		snap.RPCErrors += rs.Errors
	}
	if rs, ok := summary.RPC[rpc.OpGenerateBlocks]; ok {
		snap.RPCP50, snap.RPCP95 = rs.P50, rs.P95
	} else if rs, ok := summary.RPC[rpc.OpAbout]; ok {
		snap.RPCP50, snap.RPCP95 = rs.P50, rs.P95
	}
	return snap
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()
	w := o.out

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                  go-chainsim-supervisor Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Simulator Port:         %d\n", o.options.ServerPort())
	fmt.Fprintf(w, "Shards:                 %d\n", o.options.NumShards())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  Total Starts:         %d\n", summary.TotalStarts)
	fmt.Fprintf(w, "  Total Restarts:       %d\n", o.restarts.Load())
	fmt.Fprintf(w, "  Total Kills:          %d\n", summary.TotalKills)
	fmt.Fprintln(w)

	if summary.UptimeP50 > 0 || summary.UptimeP95 > 0 {
		fmt.Fprintln(w, "Uptime Distribution:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(summary.UptimeP50))
		fmt.Fprintf(w, "  P95:                  %s\n", formatDuration(summary.UptimeP95))
		fmt.Fprintf(w, "  P99:                  %s\n", formatDuration(summary.UptimeP99))
		fmt.Fprintln(w)
	}

	if len(summary.Blocks) > 0 {
		fmt.Fprintln(w, "Blocks Generated:")
		for _, source := range sortedKeys(summary.Blocks) {
			fmt.Fprintf(w, "  %-20s  %d\n", source, summary.Blocks[source])
		}
		fmt.Fprintf(w, "  %-20s  %.1f\n", "per minute", o.blockRate.Rates().Overall)
		fmt.Fprintln(w)
	}

	if len(summary.RPC) > 0 {
		fmt.Fprintln(w, "Control Plane:")
		fmt.Fprintf(w, "  %-20s %7s %7s %9s %9s %9s\n", "op", "count", "errors", "p50", "p95", "p99")
		for _, op := range sortedKeys(summary.RPC) {
			rs := summary.RPC[op]
			fmt.Fprintf(w, "  %-20s %7d %7d %9s %9s %9s\n",
				op, rs.Count, rs.Errors,
				formatLatency(rs.P50), formatLatency(rs.P95), formatLatency(rs.P99))
		}
		fmt.Fprintln(w)
	}

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		codes := make([]int, 0, len(summary.ExitCodes))
		for code := range summary.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if o.config.MetricsAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", o.config.MetricsAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatLatency rounds a request latency for the summary table.
func formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(100 * time.Microsecond).String()
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Orchestrator) setSupervisor(sup *supervisor.Supervisor) {
	o.supMu.Lock()
	o.sup = sup
	o.supMu.Unlock()
}

// Supervisor returns the running supervisor, or nil before Run.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	o.supMu.RLock()
	defer o.supMu.RUnlock()
	return o.sup
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Restarts returns how many times the simulator was restarted.
func (o *Orchestrator) Restarts() int {
	return int(o.restarts.Load())
}
