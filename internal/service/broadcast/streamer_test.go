package broadcast

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

func collectChunks(ctx context.Context, text string, size int, delay time.Duration) []string {
	var chunks []string
	for chunk := range Chunks(ctx, text, size, delay) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestChunks_RuneSafe(t *testing.T) {
	text := "Chúng tôi giao hàng từ 10h đến 21h mỗi ngày."
	chunks := collectChunks(context.Background(), text, 15, 0)

	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.Len(t, []rune(chunk), 15)
	}
}

func TestChunks_EmptyText(t *testing.T) {
	assert.Empty(t, collectChunks(context.Background(), "", 15, 0))
}

func TestChunks_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Chunks(ctx, strings.Repeat("a", 100), 10, time.Hour)

	assert.Equal(t, strings.Repeat("a", 10), <-ch)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func kinds(frames []Frame) []FrameKind {
	out := make([]FrameKind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind
	}
	return out
}

func TestStreamer_StreamFrames(t *testing.T) {
	rec := &recordingPublisher{}
	s := NewStreamer(rec, StreamerOptions{ChunkSize: 4, ChunkDelay: time.Millisecond}, nil)
	defer s.Close()

	s.Stream("s-1", chat.SenderBot, "Trợ lý", "abcdefghij")
	require.NoError(t, s.Flush(context.Background(), "s-1"))

	frames := rec.snapshot()
	assert.Equal(t, []FrameKind{FrameStart, FrameDelta, FrameDelta, FrameDelta, FrameEnd}, kinds(frames))
	assert.Equal(t, "Trợ lý", frames[0].DisplayName)
	assert.Equal(t, "ij", frames[3].Content)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}
}

func TestStreamer_SessionOrderNotInterleaved(t *testing.T) {
	rec := &recordingPublisher{}
	s := NewStreamer(rec, StreamerOptions{ChunkSize: 2, ChunkDelay: time.Millisecond}, nil)
	defer s.Close()

	s.Send(NewFrame(FrameUser, "s-1", "first"))
	s.Stream("s-1", chat.SenderBot, "bot", "aaaaaa")
	s.Send(NewFrame(FrameUser, "s-1", "second"))
	s.Stream("s-1", chat.SenderBot, "bot", "bbbbbb")
	require.NoError(t, s.Flush(context.Background(), "s-1"))

	want := []FrameKind{
		FrameUser, FrameStart, FrameDelta, FrameDelta, FrameDelta, FrameEnd,
		FrameUser, FrameStart, FrameDelta, FrameDelta, FrameDelta, FrameEnd,
	}
	frames := rec.snapshot()
	require.Equal(t, want, kinds(frames))
	assert.Equal(t, "aa", frames[2].Content)
	assert.Equal(t, "bb", frames[8].Content)
}

func TestStreamer_SessionsIndependent(t *testing.T) {
	rec := &recordingPublisher{}
	s := NewStreamer(rec, StreamerOptions{ChunkSize: 1, ChunkDelay: time.Millisecond}, nil)
	defer s.Close()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Stream(id, chat.SenderBot, "bot", "xyz")
		}(id)
	}
	wg.Wait()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Flush(context.Background(), id))
	}

	perSession := map[string][]FrameKind{}
	for _, f := range rec.snapshot() {
		perSession[f.SessionID] = append(perSession[f.SessionID], f.Kind)
	}
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []FrameKind{FrameStart, FrameDelta, FrameDelta, FrameDelta, FrameEnd}, perSession[id], id)
	}
}

func TestStreamer_CloseEmitsEnd(t *testing.T) {
	rec := &recordingPublisher{}
	s := NewStreamer(rec, StreamerOptions{ChunkSize: 1, ChunkDelay: time.Hour}, nil)

	s.Stream("s-1", chat.SenderBot, "bot", "long reply")
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	s.Close()

	frames := rec.snapshot()
	assert.Equal(t, FrameEnd, frames[len(frames)-1].Kind)

	s.Send(NewFrame(FrameUser, "s-1", "late"))
	assert.Equal(t, len(frames), len(rec.snapshot()))
}

func TestStreamer_FlushUnknownSession(t *testing.T) {
	s := NewStreamer(&recordingPublisher{}, StreamerOptions{}, nil)
	defer s.Close()

	assert.NoError(t, s.Flush(context.Background(), "nobody"))
}
