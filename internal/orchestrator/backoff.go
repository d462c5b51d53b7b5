package orchestrator

import (
	"math"
	"math/rand"
	"time"
)

// RestartBackoff configures the delay between simulator restarts.
type RestartBackoff struct {
	Initial    time.Duration // first delay (default: 500ms)
	Max        time.Duration // ceiling (default: 15s)
	Multiplier float64       // growth per consecutive failure (default: 2)
	JitterPct  float64       // total jitter band, 0.2 = ±10%
}

// DefaultRestartBackoff returns the delays used by -max-restarts.
func DefaultRestartBackoff() RestartBackoff {
	return RestartBackoff{
		Initial:    500 * time.Millisecond,
		Max:        15 * time.Second,
		Multiplier: 2,
		JitterPct:  0.2,
	}
}

// StableUptime is how long a simulator must run before a crash no longer
// counts towards the backoff.
const StableUptime = 30 * time.Second

// restartDelay tracks consecutive failed runs.
type restartDelay struct {
	cfg      RestartBackoff
	failures int
	rng      *rand.Rand
}

func newRestartDelay(cfg RestartBackoff, seed int64) *restartDelay {
	return &restartDelay{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// next returns the delay before the next restart and counts the failure.
func (d *restartDelay) next() time.Duration {
	delay := d.peek()
	d.failures++
	return delay
}

// peek returns the delay next would return, without counting.
func (d *restartDelay) peek() time.Duration {
	delay := float64(d.cfg.Initial) * math.Pow(d.cfg.Multiplier, float64(d.failures))
	if delay > float64(d.cfg.Max) {
		delay = float64(d.cfg.Max)
	}

	if d.cfg.JitterPct > 0 {
		band := delay * d.cfg.JitterPct
		delay += band*d.rng.Float64() - band/2
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// observe resets the failure count when the last run looked healthy.
func (d *restartDelay) observe(uptime time.Duration, exitCode int) {
	if exitCode == 0 || uptime >= StableUptime {
		d.failures = 0
	}
}
