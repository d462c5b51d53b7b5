package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/logging"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/process"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/relay"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// Readiness defaults.
const (
	DefaultReadyTimeout  = 10 * time.Second
	DefaultReadyInterval = 10 * time.Millisecond
)

// Block generation sources reported to Callbacks.OnBlocks.
const (
	SourceManual  = "manual"
	SourceEpoch   = "epoch"
	SourceAutogen = "autogen"
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the lifecycle state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a simulator process was spawned.
	OnStart func(pid int, opts simulator.Options)

	// OnReady is called when a process passed the readiness gate.
	OnReady func(pid int, waited time.Duration)

	// OnKill is called after the supervisor killed a process.
	OnKill func(pid int)

	// OnExit is called when a listened-to process exits, killed or not.
	OnExit func(pid int, exitCode int, uptime time.Duration)

	// OnBlocks is called after blocks were generated successfully.
	OnBlocks func(source string, n uint64)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// Stager fills the workspace with simulator assets. Nil stages nothing.
	Stager workspace.Stager

	// WorkspaceParent is where the workspace directory is created
	// (os.TempDir when empty).
	WorkspaceParent string

	// Runner builds the simulator command (default: process.NewSimulatorRunner()).
	Runner process.Runner

	// Client talks to the simulator's HTTP API (default: rpc.New()).
	Client *rpc.Client

	Logger    *slog.Logger
	Callbacks Callbacks

	// ReadyTimeout bounds the readiness gate (default 10s).
	ReadyTimeout time.Duration

	// ReadyInterval is the pause between readiness probes (default 10ms).
	ReadyInterval time.Duration

	// LineParser receives relayed stdout lines
	// (default: logging.SimulatorLineHandler).
	LineParser relay.LineParser

	// RelayBufferSize is the stdout pipeline capacity in lines.
	RelayBufferSize int
}

// owned is the one process a Supervisor currently answers for.
type owned struct {
	child     *process.Child
	pid       int
	opts      simulator.Options
	startedAt time.Time
}

// Supervisor manages one chain simulator process at a time.
// All methods are safe for concurrent use.
type Supervisor struct {
	id        string
	ws        *workspace.Workspace
	runner    process.Runner
	client    *rpc.Client
	logger    *slog.Logger
	callbacks Callbacks

	readyTimeout    time.Duration
	readyInterval   time.Duration
	lineParser      relay.LineParser
	relayBufferSize int

	// Owned process. Held only to read or replace the cell, never across
	// HTTP calls, readiness polling or sleeps.
	mu    sync.Mutex
	owned *owned

	state   State
	stateMu sync.RWMutex

	blocks atomic.Uint64

	// Cancelled by Close; stops background autogeneration.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New allocates a workspace and stages the simulator assets into it.
func New(cfg Config) (*Supervisor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ws, err := workspace.NewIn(cfg.WorkspaceParent)
	if err != nil {
		return nil, err
	}
	if err := ws.Stage(cfg.Stager); err != nil {
		ws.Close()
		return nil, err
	}

	runner := cfg.Runner
	if runner == nil {
		runner = process.NewSimulatorRunner()
	}
	client := cfg.Client
	if client == nil {
		client = rpc.New()
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	readyInterval := cfg.ReadyInterval
	if readyInterval <= 0 {
		readyInterval = DefaultReadyInterval
	}
	lineParser := cfg.LineParser
	if lineParser == nil {
		lineParser = logging.NewSimulatorLineHandler(logger, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		id:              uuid.NewString(),
		ws:              ws,
		runner:          runner,
		client:          client,
		logger:          logger,
		callbacks:       cfg.Callbacks,
		readyTimeout:    readyTimeout,
		readyInterval:   readyInterval,
		lineParser:      lineParser,
		relayBufferSize: cfg.RelayBufferSize,
		state:           StateIdle,
		ctx:             ctx,
		cancel:          cancel,
	}

	logger.Debug("supervisor_created",
		"supervisor_id", s.id,
		"workspace", ws.Dir(),
	)
	return s, nil
}

// Start (re)launches the simulator with opts.
//
// Any owned process is killed first (a failure there is only logged). The
// configuration document is rewritten, the process is spawned and once GET
// /about answers it becomes the owned process and one epoch is generated.
// With autogeneration enabled a background loop then generates one block
// per interval.
//
// If the readiness gate fails the new process is killed and nothing is
// owned. If the initial epoch fails the process stays owned and the
// returned Handle is still valid alongside the error.
func (s *Supervisor) Start(ctx context.Context, opts simulator.Options) (*Handle, error) {
	if err := s.Kill(); err != nil && !errors.Is(err, ErrProcessNotStarted) {
		s.logger.Debug("previous_process_kill_skipped", "error", err)
	}

	content, err := simulator.NewDocument(opts).Encode()
	if err != nil {
		return nil, err
	}
	if err := s.ws.WriteConfig(content); err != nil {
		return nil, err
	}
	if err := s.ws.EnsureExecutable(); err != nil {
		return nil, err
	}

	child, err := process.Start(s.runner, s.ws.Dir(), opts)
	if err != nil {
		s.logger.Error("failed_to_start_process",
			"runner", s.runner.Name(),
			"error", err,
		)
		return nil, err
	}
	pid := child.PID()
	s.setState(StateLaunched)

	s.logger.Info("simulator_launched",
		"pid", pid,
		"port", opts.ServerPort(),
		"shards", opts.NumShards(),
		"rounds_per_epoch", opts.RoundsPerEpoch(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(pid, opts)
	}

	waitStart := time.Now()
	if err := s.waitChildReady(ctx, child, opts.ServerPort()); err != nil {
		child.Kill()
		child.CloseStdout()
		s.setState(StateKilled)
		s.logger.Warn("simulator_not_ready",
			"pid", pid,
			"port", opts.ServerPort(),
			"error", err,
		)
		return nil, err
	}
	waited := time.Since(waitStart)
	s.setState(StateReady)

	cell := &owned{
		child:     child,
		pid:       pid,
		opts:      opts,
		startedAt: child.StartedAt(),
	}
	s.mu.Lock()
	displaced := s.owned
	s.owned = cell
	s.mu.Unlock()

	// A concurrent Start may have installed its process after our Kill.
	if displaced != nil && displaced.child != child {
		if err := displaced.child.Kill(); err != nil {
			s.logger.Debug("process_kill_failed",
				"pid", displaced.pid,
				"error", err,
			)
		}
		s.logger.Info("simulator_displaced",
			"pid", displaced.pid,
			"by_pid", pid,
		)
	}

	s.logger.Info("simulator_ready",
		"pid", pid,
		"port", opts.ServerPort(),
		"waited", waited.String(),
	)
	if s.callbacks.OnReady != nil {
		s.callbacks.OnReady(pid, waited)
	}

	h := &Handle{sup: s, child: child}

	if err := s.GenerateEpochs(ctx, 1); err != nil {
		return h, fmt.Errorf("initial epoch: %w", err)
	}
	s.setState(StateRunning)

	if opts.Autogenerates() {
		go s.runAutogenerate(opts.ServerPort(), opts.AutogenerateInterval())
	}
	return h, nil
}

// waitChildReady runs the readiness gate, giving up early if the child exits.
func (s *Supervisor) waitChildReady(ctx context.Context, child *process.Child, port uint16) error {
	readyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-child.Done():
			cancel()
		case <-readyCtx.Done():
		}
	}()

	err := WaitReady(readyCtx, s.client, port, s.readyTimeout, s.readyInterval)
	if err != nil && ctx.Err() == nil && child.Exited() {
		code, sig := process.ExitStatus(child.Wait())
		return fmt.Errorf("chain simulator exited before becoming ready: %w", &ExitError{Code: code, Signal: sig})
	}
	return err
}

// resolve returns the owned pid and options, probing liveness under the lock.
func (s *Supervisor) resolve() (*owned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned == nil {
		return nil, ErrProcessNotStarted
	}
	if !process.IsAlive(s.owned.pid) {
		return nil, ErrProcessAlreadyFinished
	}
	return s.owned, nil
}

// owns reports whether child is still the owned process.
func (s *Supervisor) owns(child *process.Child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned != nil && s.owned.child == child
}

// hasOwned reports whether any process is owned.
func (s *Supervisor) hasOwned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned != nil
}

// Kill sends SIGKILL to the owned process and forgets it.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	cell := s.owned
	if cell == nil {
		s.mu.Unlock()
		return ErrProcessNotStarted
	}
	if !process.IsAlive(cell.pid) {
		s.mu.Unlock()
		return ErrProcessAlreadyFinished
	}
	s.owned = nil
	s.mu.Unlock()

	if err := cell.child.Kill(); err != nil {
		s.logger.Debug("process_kill_failed",
			"pid", cell.pid,
			"error", err,
		)
	}
	s.setState(StateKilled)

	s.logger.Info("simulator_killed",
		"pid", cell.pid,
		"uptime", time.Since(cell.startedAt).String(),
	)
	if s.callbacks.OnKill != nil {
		s.callbacks.OnKill(cell.pid)
	}
	return nil
}

// Close tears the supervisor down: the owned process is killed in the
// background without waiting, then the workspace is removed. The child may
// still be running, and briefly still using the workspace, when Close
// returns; callers that need it gone should Kill and wait on Listen first.
// Safe to call repeatedly.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go s.Kill()
		s.closeErr = s.ws.Close()
		s.logger.Debug("supervisor_closed", "supervisor_id", s.id)
	})
	return s.closeErr
}

// Status is a point-in-time snapshot of a Supervisor.
type Status struct {
	ID              string
	State           State
	Running         bool
	PID             int
	Options         simulator.Options
	StartedAt       time.Time
	Uptime          time.Duration
	BlocksGenerated uint64
	Workspace       string
}

// Status returns a snapshot. Running is true only while an owned process is alive.
func (s *Supervisor) Status() Status {
	st := Status{
		ID:              s.id,
		State:           s.State(),
		BlocksGenerated: s.blocks.Load(),
		Workspace:       s.ws.Dir(),
	}

	s.mu.Lock()
	cell := s.owned
	s.mu.Unlock()

	if cell != nil {
		st.PID = cell.pid
		st.Options = cell.opts
		st.StartedAt = cell.startedAt
		st.Running = process.IsAlive(cell.pid)
		if st.Running {
			st.Uptime = time.Since(cell.startedAt)
		}
	}
	return st
}

// Dir is the workspace directory the simulator runs in.
func (s *Supervisor) Dir() string {
	return s.ws.Dir()
}

// ID is a random identifier for this supervisor instance.
func (s *Supervisor) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

func (s *Supervisor) blocksGenerated(source string, n uint64) {
	s.blocks.Add(n)
	if s.callbacks.OnBlocks != nil {
		s.callbacks.OnBlocks(source, n)
	}
}
