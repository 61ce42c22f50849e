package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher delivers a frame to the session's channel.
type Publisher interface {
	Publish(ctx context.Context, frame Frame) error
}

// Broadcaster publishes through a primary transport and retries once through
// a fallback publisher. Frames that fail both are logged and counted.
type Broadcaster struct {
	primary  Publisher
	fallback Publisher
	dropped  atomic.Uint64
	logger   *zap.Logger
}

// NewBroadcaster wires the transports. A nil fallback retries the primary once.
func NewBroadcaster(primary, fallback Publisher, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = primary
	}
	return &Broadcaster{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("broadcast"),
	}
}

// Publish sends frame, absorbing transport failures.
func (b *Broadcaster) Publish(ctx context.Context, frame Frame) error {
	err := b.primary.Publish(ctx, frame)
	if err == nil {
		return nil
	}

	b.logger.Warn("primary publish failed, retrying via fallback",
		zap.String("session_id", frame.SessionID),
		zap.String("kind", string(frame.Kind)),
		zap.Error(err))

	retryErr := b.fallback.Publish(ctx, frame)
	if retryErr == nil {
		return nil
	}

	dropped := b.dropped.Add(1)
	b.logger.Error("frame dropped",
		zap.String("session_id", frame.SessionID),
		zap.String("kind", string(frame.Kind)),
		zap.Uint64("seq", frame.Seq),
		zap.Uint64("dropped_total", dropped),
		zap.Error(retryErr))
	return fmt.Errorf("publish frame: %w", retryErr)
}

// Dropped returns how many frames were lost after the retry.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
