package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

const (
	DefaultChunkSize  = 15
	DefaultChunkDelay = 40 * time.Millisecond
)

// StreamerOptions tunes chunked delivery.
type StreamerOptions struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

type job func(ctx context.Context)

// mailbox is the FIFO of pending jobs for one session. Its worker exits once
// the queue drains and closes done.
type mailbox struct {
	jobs []job
	done chan struct{}
}

// Streamer serialises frame emission per session. Jobs for one session run
// strictly in order; different sessions proceed independently.
type Streamer struct {
	publisher Publisher
	chunkSize int
	delay     time.Duration
	seq       atomic.Uint64

	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewStreamer(publisher Publisher, opts StreamerOptions, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		publisher: publisher,
		chunkSize: opts.ChunkSize,
		delay:     opts.ChunkDelay,
		boxes:     make(map[string]*mailbox),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("streamer"),
	}
}

// Send queues a single frame behind any pending output of its session.
func (s *Streamer) Send(frame Frame) {
	s.enqueue(frame.SessionID, func(ctx context.Context) {
		s.emit(ctx, frame)
	})
}

// Stream queues a chunked reply: one start frame, the deltas, one end frame.
// The end frame is emitted even if the streamer shuts down mid-reply.
func (s *Streamer) Stream(sessionID string, sender chat.Sender, displayName, text string) {
	s.enqueue(sessionID, func(ctx context.Context) {
		start := NewFrame(FrameStart, sessionID, "")
		start.Sender = sender
		start.DisplayName = displayName
		s.emit(ctx, start)

		for chunk := range Chunks(ctx, text, s.chunkSize, s.delay) {
			delta := NewFrame(FrameDelta, sessionID, chunk)
			delta.Sender = sender
			s.emit(ctx, delta)
		}

		end := NewFrame(FrameEnd, sessionID, "")
		end.Sender = sender
		s.emit(context.WithoutCancel(ctx), end)
	})
}

// Flush blocks until every job queued for sessionID so far has been emitted.
func (s *Streamer) Flush(ctx context.Context, sessionID string) error {
	for {
		s.mu.Lock()
		box := s.boxes[sessionID]
		s.mu.Unlock()
		if box == nil {
			return nil
		}
		select {
		case <-box.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting work, cancels in-flight pacing, and waits for workers.
func (s *Streamer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Streamer) enqueue(sessionID string, j job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("streamer closed, dropping job", zap.String("session_id", sessionID))
		return
	}
	if box, ok := s.boxes[sessionID]; ok {
		box.jobs = append(box.jobs, j)
		return
	}

	box := &mailbox{jobs: []job{j}, done: make(chan struct{})}
	s.boxes[sessionID] = box
	s.wg.Add(1)
	go s.drain(sessionID, box)
}

func (s *Streamer) drain(sessionID string, box *mailbox) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(box.jobs) == 0 {
			delete(s.boxes, sessionID)
			close(box.done)
			s.mu.Unlock()
			return
		}
		next := box.jobs[0]
		box.jobs[0] = nil
		box.jobs = box.jobs[1:]
		s.mu.Unlock()

		next(s.ctx)
	}
}

func (s *Streamer) emit(ctx context.Context, frame Frame) {
	frame.Seq = s.seq.Add(1)
	if err := s.publisher.Publish(ctx, frame); err != nil {
		s.logger.Debug("frame not delivered",
			zap.String("session_id", frame.SessionID),
			zap.Uint64("seq", frame.Seq),
			zap.Error(err))
	}
}

// Chunks splits text into pieces of at most size runes, pacing them by delay.
// The channel closes when text is exhausted or ctx is cancelled.
func Chunks(ctx context.Context, text string, size int, delay time.Duration) <-chan string {
	out := make(chan string)
	if size <= 0 {
		size = DefaultChunkSize
	}

	go func() {
		defer close(out)

		runes := []rune(text)
		var tick <-chan time.Time
		if delay > 0 {
			ticker := time.NewTicker(delay)
			defer ticker.Stop()
			tick = ticker.C
		}

		for i := 0; i < len(runes); i += size {
			if i > 0 && tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			}
			end := min(i+size, len(runes))
			select {
			case <-ctx.Done():
				return
			case out <- string(runes[i:end]):
			}
		}
	}()

	return out
}
