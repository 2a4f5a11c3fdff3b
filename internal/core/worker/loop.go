package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// Step runs one iteration. more=true asks the loop to run again immediately.
type Step func(ctx context.Context) (more bool, err error)

// LoopConfig controls iteration pacing.
type LoopConfig struct {
	Name string
	// Interval is the pause after an iteration with no further work.
	Interval time.Duration
	// Jitter randomizes Interval by up to this amount.
	Jitter time.Duration
	// ErrorBackoff is the first pause after a failed iteration. It doubles on
	// consecutive failures up to MaxBackoff.
	ErrorBackoff time.Duration
	MaxBackoff   time.Duration
}

// Loop is a cancellable polling loop.
type Loop struct {
	cfg         LoopConfig
	step        Step
	log         *slog.Logger
	lastSuccess atomic.Int64
	failures    atomic.Int64
}

// NewLoop creates a loop that runs step until its context is cancelled.
func NewLoop(cfg LoopConfig, step Step) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = cfg.Interval
	}
	if cfg.MaxBackoff < cfg.ErrorBackoff {
		cfg.MaxBackoff = 10 * cfg.ErrorBackoff
	}
	return &Loop{
		cfg:  cfg,
		step: step,
		log:  slog.Default().With("component", "loop", "loop", cfg.Name),
	}
}

func (l *Loop) idleBackoff() retry.Backoff {
	b := retry.NewConstant(l.cfg.Interval)
	if l.cfg.Jitter > 0 {
		b = retry.WithJitter(l.cfg.Jitter, b)
	}
	return b
}

func (l *Loop) errorBackoff() retry.Backoff {
	return retry.WithCappedDuration(l.cfg.MaxBackoff, retry.NewExponential(l.cfg.ErrorBackoff))
}

// Run blocks until ctx is cancelled. Step errors are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Loop started", "interval", l.cfg.Interval)
	defer l.log.Info("Loop stopped")

	idle := l.idleBackoff()
	onError := l.errorBackoff()

	for {
		if ctx.Err() != nil {
			return nil
		}

		more, err := l.step(ctx)
		var wait time.Duration
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n := l.failures.Add(1)
			wait, _ = onError.Next()
			l.log.Error("Iteration failed", "error", err, "consecutive", n, "retry_in", wait)
		} else {
			l.lastSuccess.Store(time.Now().UnixNano())
			if l.failures.Swap(0) > 0 {
				onError = l.errorBackoff()
			}
			if more {
				continue
			}
			wait, _ = idle.Next()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// LastSuccess returns when an iteration last completed without error.
func (l *Loop) LastSuccess() time.Time {
	ns := l.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Failures returns the number of consecutive failed iterations.
func (l *Loop) Failures() int64 {
	return l.failures.Load()
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.cfg.Name
}

// Interval returns the configured idle interval.
func (l *Loop) Interval() time.Duration {
	return l.cfg.Interval
}
