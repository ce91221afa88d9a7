// Package readiness drives the "turn on and wait until the boiler is
// ready" flow as a bounded polling loop: Requesting → Polling →
// Ready | TimedOut | Failed.
package readiness

import (
	"context"
	"log/slog"
	"time"

	"github.com/brewkit/lmctl/internal/domain"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxInterval = 30 * time.Second
	DefaultTimeout     = 5 * time.Minute
)

// Outcome is the terminal state of a wait.
type Outcome int

const (
	// Ready: the boiler reported ready within the timeout.
	Ready Outcome = iota
	// TimedOut: the machine was still warming up when the window closed;
	// the command itself succeeded.
	TimedOut
	// Failed: the power-on command failed, or the wait was cancelled.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusClient is the slice of the API client the poller needs.
type StatusClient interface {
	SetPower(ctx context.Context, serial string, on bool) error
	MachineStatus(ctx context.Context, serial string) (domain.Status, error)
}

// Poller turns a machine on and polls its status until the boiler is
// ready, the timeout elapses, or the context is cancelled. Poll intervals
// start at Interval and double up to MaxInterval; a physical warm-up takes
// minutes, so polling tightly buys nothing.
type Poller struct {
	Client      StatusClient
	Interval    time.Duration
	MaxInterval time.Duration
	Timeout     time.Duration

	// Notify is invoked once with a short message when the machine becomes
	// ready. Fire-and-forget: it must not block long and its failure is
	// the hook's own problem.
	Notify func(message string)

	// Progress, when set, receives a human-readable status line after each
	// poll so the CLI can show warm-up progress.
	Progress func(status string)

	Logger *slog.Logger

	now func() time.Time
}

// PowerOnAndWait issues the power-on command and waits for readiness.
// A transient API error mid-poll counts as a single missed poll, not a
// failure: a brief cloud hiccup must not abort a multi-minute warm-up.
func (p *Poller) PowerOnAndWait(ctx context.Context, serial string) (Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxInterval := p.MaxInterval
	if maxInterval < interval {
		maxInterval = DefaultMaxInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := p.now
	if now == nil {
		now = time.Now
	}

	if err := p.Client.SetPower(ctx, serial, true); err != nil {
		logger.Debug("power-on command failed", "serial", serial, "error", err)
		return Failed, err
	}
	logger.Debug("power-on accepted, polling for readiness", "serial", serial, "timeout", timeout)

	deadline := now().Add(timeout)
	for {
		if !now().Before(deadline) {
			logger.Debug("readiness wait timed out", "serial", serial)
			return TimedOut, nil
		}

		select {
		case <-ctx.Done():
			return Failed, ctx.Err()
		case <-time.After(interval):
		}

		st, err := p.Client.MachineStatus(ctx, serial)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Failed, ctx.Err()
			}
			// Missed poll. Keep waiting; the overall deadline still bounds
			// the loop.
			logger.Debug("status poll missed", "serial", serial, "error", err)
		case st.BoilerReady != nil && *st.BoilerReady:
			logger.Debug("machine ready", "serial", serial)
			if p.Notify != nil {
				p.Notify("Your espresso machine is ready to brew")
			}
			return Ready, nil
		default:
			if p.Progress != nil {
				p.Progress(st.Describe(now()))
			}
		}

		if interval < maxInterval {
			interval *= 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}
