package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ChatRoundTrip(t *testing.T) {
	msg := Message{
		ID:            42,
		RoomID:        "room-1",
		SenderRole:    RoleCounterpart,
		SenderLabel:   "Alex",
		Body:          "hello there",
		CreatedAt:     time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		DeliveryState: StateSent,
	}

	env, err := NewEnvelope(KindChat, msg)
	require.NoError(t, err)

	frame, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(frame, &decoded))
	require.Equal(t, KindChat, decoded.Kind)

	got, err := decoded.DecodeChat()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestEnvelope_KindMismatch(t *testing.T) {
	env, err := NewEnvelope(KindPresence, PresenceEvent{Participant: "cp1", Typing: true})
	require.NoError(t, err)

	_, err = env.DecodeChat()
	assert.Error(t, err)

	ev, err := env.DecodePresence()
	require.NoError(t, err)
	assert.True(t, ev.Typing)

	_, err = Envelope{Kind: KindChat}.DecodePresence()
	assert.Error(t, err)
}

func TestAttachment_IsImage(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"application/pdf", false},
		{"", false},
		{"image/", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Attachment{MimeType: tc.mime}.IsImage(), tc.mime)
	}
}

func TestMessage_HasReactions(t *testing.T) {
	assert.False(t, Message{}.HasReactions())
	assert.False(t, Message{Reactions: map[string][]string{"👍": {}}}.HasReactions())
	assert.True(t, Message{Reactions: map[string][]string{"👍": {"cp1"}}}.HasReactions())
}
