// Package sweep periodically warns and closes idle support sessions.
package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

const (
	DefaultInterval       = time.Minute
	DefaultWarnThreshold  = 5 * time.Minute
	DefaultCloseThreshold = 10 * time.Minute
)

// IdleLister finds non-ended sessions whose last activity is at or before cutoff.
type IdleLister interface {
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*chat.Session, error)
}

// Lifecycle is the part of the chat service the sweep drives.
type Lifecycle interface {
	WarnIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error)
	CloseIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error)
}

// Options configures the sweep cadence and thresholds.
type Options struct {
	Interval       time.Duration
	WarnThreshold  time.Duration
	CloseThreshold time.Duration
	Now            func() time.Time
}

// Result summarises one pass.
type Result struct {
	Warned int
	Closed int
}

// Scheduler runs the idle sweep.
type Scheduler struct {
	sessions  IdleLister
	lifecycle Lifecycle
	opts      Options
	logger    *zap.Logger
}

func NewScheduler(sessions IdleLister, lifecycle Lifecycle, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = DefaultWarnThreshold
	}
	if opts.CloseThreshold <= 0 {
		opts.CloseThreshold = DefaultCloseThreshold
	}
	if opts.CloseThreshold <= opts.WarnThreshold {
		return nil, fmt.Errorf("close threshold %s must exceed warn threshold %s", opts.CloseThreshold, opts.WarnThreshold)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		sessions:  sessions,
		lifecycle: lifecycle,
		opts:      opts,
		logger:    logger.Named("sweep"),
	}, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("idle sweep started",
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("warn_after", s.opts.WarnThreshold),
		zap.Duration("close_after", s.opts.CloseThreshold))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idle sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass. Sessions past the close threshold are closed; the rest
// past the warn threshold are warned once. Per-session failures are logged and
// do not stop the pass.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	now := s.opts.Now()
	idle, err := s.sessions.ListIdleSessions(ctx, now.Add(-s.opts.WarnThreshold))
	if err != nil {
		return Result{}, fmt.Errorf("list idle sessions: %w", err)
	}

	var result Result
	for _, session := range idle {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if session.IdleFor(now) >= s.opts.CloseThreshold {
			closed, err := s.lifecycle.CloseIdle(ctx, session.ID, s.opts.CloseThreshold)
			if err != nil {
				s.logger.Warn("close idle session failed", zap.String("session_id", session.ID), zap.Error(err))
				continue
			}
			if closed {
				result.Closed++
			}
			continue
		}

		if session.WarnedAt != nil {
			continue
		}
		warned, err := s.lifecycle.WarnIdle(ctx, session.ID, s.opts.WarnThreshold)
		if err != nil {
			s.logger.Warn("warn idle session failed", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if warned {
			result.Warned++
		}
	}

	if result.Warned > 0 || result.Closed > 0 {
		s.logger.Info("sweep pass", zap.Int("warned", result.Warned), zap.Int("closed", result.Closed))
	}
	return result, nil
}
