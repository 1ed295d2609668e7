// Package ready polls an application target's debugging endpoint until it
// answers or a bounded attempt budget is exhausted.
package ready

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/errors"
)

// Probe reports whether the target is ready. Implementations must swallow
// transport errors and return false instead of propagating them: the poller
// treats every non-true outcome as "retry", never as a distinguishable
// failure.
type Probe func(ctx context.Context) bool

// Poller repeatedly invokes a probe with a fixed inter-attempt delay.
type Poller struct {
	Probe    Probe
	Attempts int
	Interval time.Duration

	// Clock defaults to the real clock; tests inject clock.NewMock().
	Clock clock.Clock

	Log *zap.Logger
}

// Wait blocks until the probe returns true, the attempt budget is spent, or
// ctx is canceled. Delays are timer-based so concurrent session activity is
// never blocked by an in-flight poll.
func (p *Poller) Wait(ctx context.Context) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if p.Probe(ctx) {
			log.Debug("target ready", zap.Int("attempt", attempt))
			return nil
		}

		log.Debug("target not ready", zap.Int("attempt", attempt), zap.Int("attempts", p.Attempts))

		if attempt == p.Attempts {
			break
		}

		timer := clk.Timer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.TargetNotReady(p.Attempts)
}
