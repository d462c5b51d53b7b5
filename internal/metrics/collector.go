// Package metrics provides Prometheus metrics for go-chainsim-supervisor.
//
// A Collector is fed from two places: supervisor lifecycle callbacks
// (starts, readiness, kills, exits, generated blocks) and the rpc client's
// observer (one sample per control-plane request).
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/supervisor"
)

// Exit categories used as the "category" label of chainsim_exits_total.
const (
	ExitSuccess = "success"
	ExitError   = "error"
	ExitSignal  = "signal"
)

// RPC results used as the "result" label of chainsim_rpc_requests_total.
const (
	ResultOK = "ok"
)

// Collector manages all Prometheus metrics for one supervisor.
type Collector struct {
	info        *prometheus.GaugeVec
	running     prometheus.Gauge
	starts      prometheus.Counter
	kills       prometheus.Counter
	exits       *prometheus.CounterVec
	readyWait   prometheus.Histogram
	rpcRequests *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	blocks      *prometheus.CounterVec

	mu        sync.Mutex
	startTime time.Time
	version   string

	// For summary generation
	totalStarts int64
	totalKills  int64
	exitCodes   map[int]int64
	uptimes     []time.Duration
	blockCounts map[string]uint64
	rpcDigests  map[string]*tdigest.TDigest
	rpcCounts   map[string]int64
	rpcErrors   map[string]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Port    uint16
	Shards  uint64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsim_info",
				Help: "Information about the supervised simulator (value always 1)",
			},
			[]string{"version", "port", "shards"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainsim_process_running",
				Help: "1 while a simulator process is owned and ready",
			},
		),
		starts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainsim_starts_total",
				Help: "Total simulator processes spawned",
			},
		),
		kills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainsim_kills_total",
				Help: "Total simulator processes killed by the supervisor",
			},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainsim_exits_total",
				Help: "Simulator exits by category",
			},
			[]string{"category"},
		),
		readyWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "chainsim_ready_wait_seconds",
				Help: "Time from spawn until GET /about answered",
				Buckets: []float64{
					0.01, 0.05, 0.1, 0.25, 0.5,
					1, 2, 5, 10, 30,
				},
			},
		),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainsim_rpc_requests_total",
				Help: "Control-plane requests by operation and result",
			},
			[]string{"op", "result"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "chainsim_rpc_duration_seconds",
				Help: "Control-plane request latency by operation",
				Buckets: []float64{
					0.001, 0.005, 0.01, 0.025, 0.05,
					0.1, 0.25, 0.5, 1, 5,
				},
			},
			[]string{"op"},
		),
		blocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainsim_blocks_generated_total",
				Help: "Blocks generated by source (manual, epoch, autogen)",
			},
			[]string{"source"},
		),
		startTime:   time.Now(),
		exitCodes:   make(map[int]int64),
		blockCounts: make(map[string]uint64),
		rpcDigests:  make(map[string]*tdigest.TDigest),
		rpcCounts:   make(map[string]int64),
		rpcErrors:   make(map[string]int64),
	}

	registry.MustRegister(
		c.info,
		c.running,
		c.starts,
		c.kills,
		c.exits,
		c.readyWait,
		c.rpcRequests,
		c.rpcDuration,
		c.blocks,
	)

	c.SetInfo(cfg.Version, cfg.Port, cfg.Shards)
	return c
}

// SetInfo replaces the chainsim_info series.
func (c *Collector) SetInfo(version string, port uint16, shards uint64) {
	if version == "" {
		version = "dev"
	}
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()

	c.info.Reset()
	c.info.WithLabelValues(version, strconv.Itoa(int(port)), strconv.FormatUint(shards, 10)).Set(1)
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordStart records a spawned simulator.
func (c *Collector) RecordStart(opts simulator.Options) {
	c.starts.Inc()

	c.mu.Lock()
	c.totalStarts++
	version := c.version
	c.mu.Unlock()

	c.SetInfo(version, opts.ServerPort(), opts.NumShards())
}

// RecordReady records a passed readiness gate.
func (c *Collector) RecordReady(waited time.Duration) {
	c.readyWait.Observe(waited.Seconds())
	c.running.Set(1)
}

// RecordKill records a supervisor-initiated kill.
func (c *Collector) RecordKill() {
	c.kills.Inc()
	c.running.Set(0)

	c.mu.Lock()
	c.totalKills++
	c.mu.Unlock()
}

// RecordExit records a process exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.exits.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.running.Set(0)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// RecordBlocks records n blocks generated from source.
func (c *Collector) RecordBlocks(source string, n uint64) {
	c.blocks.WithLabelValues(source).Add(float64(n))

	c.mu.Lock()
	c.blockCounts[source] += n
	c.mu.Unlock()
}

// RecordRPC records one completed control-plane request.
func (c *Collector) RecordRPC(op string, d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = rpc.KindOf(err).String()
	}
	c.rpcRequests.WithLabelValues(op, result).Inc()
	c.rpcDuration.WithLabelValues(op).Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	digest, ok := c.rpcDigests[op]
	if !ok {
		digest = tdigest.NewWithCompression(100)
		c.rpcDigests[op] = digest
	}
	digest.Add(d.Seconds(), 1)
	c.rpcCounts[op]++
	if err != nil {
		c.rpcErrors[op]++
	}
}

// Observer returns an rpc observer feeding RecordRPC.
func (c *Collector) Observer() rpc.ObserverFunc {
	return c.RecordRPC
}

// SupervisorCallbacks returns callbacks feeding the lifecycle metrics.
// Non-nil fields of next are called after the collector's own handling.
func (c *Collector) SupervisorCallbacks(next supervisor.Callbacks) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: next.OnStateChange,
		OnStart: func(pid int, opts simulator.Options) {
			c.RecordStart(opts)
			if next.OnStart != nil {
				next.OnStart(pid, opts)
			}
		},
		OnReady: func(pid int, waited time.Duration) {
			c.RecordReady(waited)
			if next.OnReady != nil {
				next.OnReady(pid, waited)
			}
		},
		OnKill: func(pid int) {
			c.RecordKill()
			if next.OnKill != nil {
				next.OnKill(pid)
			}
		},
		OnExit: func(pid, code int, uptime time.Duration) {
			c.RecordExit(code, uptime)
			if next.OnExit != nil {
				next.OnExit(pid, code, uptime)
			}
		},
		OnBlocks: func(source string, n uint64) {
			c.RecordBlocks(source, n)
			if next.OnBlocks != nil {
				next.OnBlocks(source, n)
			}
		},
	}
}

// ExitCategory maps an exit code to its metric label.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return ExitSuccess
	case exitCode > 128:
		return ExitSignal
	default:
		return ExitError
	}
}

// RPCQuantile returns the q-quantile latency for op and whether any
// request for op was observed.
func (c *Collector) RPCQuantile(op string, q float64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	digest, ok := c.rpcDigests[op]
	if !ok {
		return 0, false
	}
	return secondsToDuration(digest.Quantile(q)), true
}

// =============================================================================
// Summary Generation
// =============================================================================

// RPCSummary holds per-operation request statistics.
type RPCSummary struct {
	Count  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration    time.Duration
	TotalStarts int64
	TotalKills  int64
	ExitCodes   map[int]int64
	UptimeP50   time.Duration
	UptimeP95   time.Duration
	UptimeP99   time.Duration
	Blocks      map[string]uint64
	RPC         map[string]RPCSummary
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TotalStarts: c.totalStarts,
		TotalKills:  c.totalKills,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
		Blocks:      make(map[string]uint64, len(c.blockCounts)),
		RPC:         make(map[string]RPCSummary, len(c.rpcDigests)),
	}

	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	for source, n := range c.blockCounts {
		s.Blocks[source] = n
	}
	for op, digest := range c.rpcDigests {
		s.RPC[op] = RPCSummary{
			Count:  c.rpcCounts[op],
			Errors: c.rpcErrors[op],
			P50:    secondsToDuration(digest.Quantile(0.50)),
			P95:    secondsToDuration(digest.Quantile(0.95)),
			P99:    secondsToDuration(digest.Quantile(0.99)),
		}
	}

	if len(c.uptimes) > 0 {
		sorted := make([]time.Duration, len(c.uptimes))
		copy(sorted, c.uptimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeP95 = percentile(sorted, 0.95)
		s.UptimeP99 = percentile(sorted, 0.99)
	}

	return s
}

// TotalStarts returns the total number of spawned processes.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// =============================================================================
// Helper Functions
// =============================================================================

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
