package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// allSessions is the topic key for console subscribers that watch every session.
	allSessions = "*"
)

// ErrHubClosed is returned when publishing to a closed hub.
var ErrHubClosed = errors.New("hub closed")

// Hub is the in-process pub/sub for session frames. Subscribers register for
// one session topic (or all of them) and receive frames as they are published.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Frame // topic -> subID -> ch
	closed      bool
	logger      *zap.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. Pass nil logger for a no-op logger.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Frame),
		logger:      logger.Named("hub"),
	}
}

// Subscribe registers a subscriber for frames of sessionID. The subscription
// is removed and its channel closed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan Frame, string) {
	return h.subscribe(ctx, sessionID)
}

// SubscribeAll registers a subscriber for frames of every session.
func (h *Hub) SubscribeAll(ctx context.Context) (<-chan Frame, string) {
	return h.subscribe(ctx, allSessions)
}

func (h *Hub) subscribe(ctx context.Context, topic string) (<-chan Frame, string) {
	subID := uuid.NewString()
	ch := make(chan Frame, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]chan Frame)
	}
	h.subscribers[topic][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", zap.String("topic", topic), zap.String("sub_id", subID))

	go func() {
		<-ctx.Done()
		h.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers frame to the session's subscribers and to console subscribers.
// Slow subscribers whose buffers are full miss the frame.
func (h *Hub) Publish(_ context.Context, frame Frame) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	targets := make([]chan Frame, 0, len(h.subscribers[frame.SessionID])+len(h.subscribers[allSessions]))
	for _, ch := range h.subscribers[frame.SessionID] {
		targets = append(targets, ch)
	}
	for _, ch := range h.subscribers[allSessions] {
		targets = append(targets, ch)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
			h.logger.Debug("dropped frame for slow subscriber",
				zap.String("session_id", frame.SessionID),
				zap.Uint64("seq", frame.Seq))
		}
	}
	h.mu.RUnlock()
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}

	h.logger.Debug("subscriber removed", zap.String("topic", topic), zap.String("sub_id", subID))
}

// SubscriberCount returns the number of subscribers on a session topic.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, topic)
	}
	h.closed = true
	h.logger.Debug("hub closed")
}
