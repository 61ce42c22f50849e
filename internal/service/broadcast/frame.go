// Package broadcast publishes framed session events to per-session channels.
package broadcast

import (
	"fmt"
	"time"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

// FrameKind is the closed set of frame types a session channel carries.
type FrameKind string

const (
	FrameStart  FrameKind = "start"
	FrameDelta  FrameKind = "delta"
	FrameEnd    FrameKind = "end"
	FrameUser   FrameKind = "user"
	FrameAgent  FrameKind = "agent"
	FrameClosed FrameKind = "closed"
	FrameNotice FrameKind = "notice"
)

// Valid reports whether k is a known frame kind.
func (k FrameKind) Valid() bool {
	switch k {
	case FrameStart, FrameDelta, FrameEnd, FrameUser, FrameAgent, FrameClosed, FrameNotice:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k FrameKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown frame kind %q", string(k))
	}
	return []byte(k), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FrameKind) UnmarshalText(text []byte) error {
	parsed := FrameKind(text)
	if !parsed.Valid() {
		return fmt.Errorf("unknown frame kind %q", string(text))
	}
	*k = parsed
	return nil
}

// Frame is one event on a session channel. It is always sent as a JSON envelope.
type Frame struct {
	Kind        FrameKind   `json:"type"`
	SessionID   string      `json:"sessionId"`
	Seq         uint64      `json:"seq"`
	Content     string      `json:"content,omitempty"`
	Sender      chat.Sender `json:"sender,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// NewFrame stamps a frame for sessionID.
func NewFrame(kind FrameKind, sessionID, content string) Frame {
	return Frame{
		Kind:      kind,
		SessionID: sessionID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}
