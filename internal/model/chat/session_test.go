package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusActive:     {StatusHandedOver, StatusEnded},
		StatusHandedOver: {StatusEnded},
		StatusEnded:      nil,
	}
	all := []Status{StatusActive, StatusHandedOver, StatusEnded}

	for from, targets := range allowed {
		for _, to := range all {
			want := false
			for _, target := range targets {
				if target == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := Session{LastActivityAt: now}

	session.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, session.LastActivityAt)

	session.Touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), session.LastActivityAt)
}

func TestClampRating(t *testing.T) {
	assert.Equal(t, 5, ClampRating(7))
	assert.Equal(t, 1, ClampRating(0))
	assert.Equal(t, 1, ClampRating(-3))
	assert.Equal(t, 3, ClampRating(3))
}

func TestSenderRejectsUnknownValues(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"sender":"assistant"}`), &msg)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"sender":"agent"}`), &msg))
	assert.Equal(t, SenderAgent, msg.Sender)

	_, err = json.Marshal(Message{Sender: Sender("robot")})
	assert.Error(t, err)
}
