package supervisor

import (
	"context"
	"errors"
	"time"
)

// Autogenerate generates one block every interval on the owned simulator
// until ctx is done, no process is owned, or a request fails. It blocks.
func (s *Supervisor) Autogenerate(ctx context.Context, every time.Duration) error {
	cell, err := s.resolve()
	if err != nil {
		return err
	}
	return s.autogenerate(ctx, cell.opts.ServerPort(), every)
}

// runAutogenerate is the background loop launched by Start.
func (s *Supervisor) runAutogenerate(port uint16, every time.Duration) {
	s.logger.Debug("autogenerate_started",
		"port", port,
		"interval", every.String(),
	)

	err := s.autogenerate(s.ctx, port, every)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Debug("autogenerate_stopped", "port", port)
	default:
		s.logger.Warn("autogenerate_failed",
			"port", port,
			"error", err,
		)
	}
}

// autogenerate keeps going while any process is owned, not necessarily the
// one it was started for: after a restart the loop keeps targeting port.
func (s *Supervisor) autogenerate(ctx context.Context, port uint16, every time.Duration) error {
	if every <= 0 {
		return nil
	}
	for {
		if !s.hasOwned() {
			return nil
		}
		if err := s.client.GenerateBlocks(ctx, port, 1); err != nil {
			return err
		}
		s.blocksGenerated(SourceAutogen, 1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}
