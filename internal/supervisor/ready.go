package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
)

// WaitReady polls GET /about on port until it answers 2xx.
//
// It returns ErrReadyTimeout once timeout has elapsed, sleeping interval
// between attempts. Each attempt is bounded by the remaining budget.
func WaitReady(ctx context.Context, client *rpc.Client, port uint16, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: port %d after %s", ErrReadyTimeout, port, timeout)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		err := client.About(attemptCtx, port)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
