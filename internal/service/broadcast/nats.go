package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const natsSubjectPrefix = "support.session."

// NATSSubject returns the subject for a session.
func NATSSubject(sessionID string) string {
	return natsSubjectPrefix + sessionID
}

// NATSPublisher publishes frames on a NATS subject per session.
type NATSPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(_ context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := p.conn.Publish(NATSSubject(frame.SessionID), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// RelayNATS feeds frames from every session subject into the local hub until
// ctx is cancelled.
func RelayNATS(ctx context.Context, conn *nats.Conn, hub *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats_relay")

	sub, err := conn.Subscribe(natsSubjectPrefix+">", func(msg *nats.Msg) {
		frame, err := decodeFrame(msg.Data)
		if err != nil {
			logger.Warn("discarding malformed frame", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		_ = hub.Publish(ctx, frame)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	logger.Info("relay subscribed", zap.String("subject", natsSubjectPrefix+">"))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && conn.IsConnected() {
		logger.Warn("unsubscribe failed", zap.Error(err))
	}
	return nil
}
