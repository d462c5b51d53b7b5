package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/process"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/relay"
)

// drainTimeout bounds how long Listen waits for buffered stdout after exit.
const drainTimeout = 5 * time.Second

// Handle is returned by Start and gives access to one launched process.
type Handle struct {
	sup      *Supervisor
	child    *process.Child
	consumed atomic.Bool
}

// PID is the process id of the launched simulator.
func (h *Handle) PID() int {
	return h.child.PID()
}

// Done is closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.child.Done()
}

// Listen relays the simulator's stdout to the configured LineParser and
// blocks until the process exits.
//
// It returns nil on a clean exit and an *ExitError otherwise. An exit caused
// by Supervisor.Kill, a restart or Close is an *ExitError matching
// ErrProcessKilled. If ctx is done first Listen returns ctx.Err(), but
// stdout keeps being drained in the background until the process exits, so
// the simulator never blocks or dies on a closed pipe. A Handle's stdout can
// be consumed once; later calls return ErrStdoutAlreadyConsumed.
func (h *Handle) Listen(ctx context.Context) error {
	if !h.consumed.CompareAndSwap(false, true) {
		return ErrStdoutAlreadyConsumed
	}

	s := h.sup
	pid := h.child.PID()
	pipeline := relay.NewPipeline("stdout", s.relayBufferSize, 0)
	reader := relay.NewPipeReader(h.child.Stdout(), pipeline)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reader.Run()
	}()
	go func() {
		defer wg.Done()
		pipeline.RunParser(s.lineParser)
	}()

	select {
	case <-h.child.Done():
	case <-ctx.Done():
		s.logger.Debug("listen_detached",
			"pid", pid,
			"error", ctx.Err(),
		)
		go func() {
			<-h.child.Done()
			h.drain(&wg)
			h.logPipelineStats(pipeline, reader)
		}()
		return ctx.Err()
	}

	h.drain(&wg)
	h.logPipelineStats(pipeline, reader)

	waitErr := h.child.Wait()
	code, sig := process.ExitStatus(waitErr)
	uptime := time.Since(h.child.StartedAt())
	stillOwned := s.owns(h.child)

	s.logger.Info("simulator_exited",
		"pid", pid,
		"exit_code", code,
		"uptime", uptime.String(),
		"owned", stillOwned,
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(pid, code, uptime)
	}

	if stillOwned {
		s.setState(StateExited)
	}
	if waitErr == nil {
		return nil
	}
	return &ExitError{
		Code:   code,
		Signal: sig,
		Killed: !stillOwned && sig == syscall.SIGKILL,
	}
}

// drain waits for the reader and parser to finish, closing stdout if a
// grandchild keeps the pipe open past drainTimeout.
func (h *Handle) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		h.sup.logger.Warn("stdout_drain_timeout",
			"pid", h.child.PID(),
			"timeout", drainTimeout.String(),
		)
		h.child.CloseStdout()
		<-done
	}
	h.child.CloseStdout()
}

func (h *Handle) logPipelineStats(pipeline *relay.Pipeline, reader *relay.PipeReader) {
	if err := reader.Err(); err != nil {
		h.sup.logger.Warn("stdout_read_failed",
			"pid", h.child.PID(),
			"error", err,
		)
	}
	read, dropped, parsed := pipeline.Stats()
	truncated := reader.Truncated()
	if dropped == 0 && truncated == 0 && !h.sup.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	bytesRead, _ := reader.Stats()
	h.sup.logger.Info("pipeline_stats",
		"pid", h.child.PID(),
		"stream", pipeline.Stream(),
		"bytes_read", bytesRead,
		"lines_read", read,
		"lines_dropped", dropped,
		"lines_truncated", truncated,
		"lines_parsed", parsed,
		"degraded", pipeline.IsDegraded(),
	)
}
