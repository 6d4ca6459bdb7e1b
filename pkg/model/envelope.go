package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeKind is the discriminant for frames on the messaging backbone.
type EnvelopeKind string

const (
	KindChat      EnvelopeKind = "chat"
	KindPresence  EnvelopeKind = "presence"
	KindSubscribe EnvelopeKind = "subscribe"
)

// Envelope wraps every frame exchanged with the backbone. Payload is left
// raw until the kind is known.
type Envelope struct {
	Kind    EnvelopeKind    `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresenceEvent is the ephemeral typing signal. It is fanned out but never
// persisted.
type PresenceEvent struct {
	RoomID      string    `json:"room_id"`
	Participant string    `json:"participant"`
	Typing      bool      `json:"typing"`
	At          time.Time `json:"at"`
}

// SubscribeRequest is sent by a client after the socket opens (and again
// after every reconnect) to attach to a room's destinations.
type SubscribeRequest struct {
	RoomID string `json:"room_id"`
}

// NewEnvelope marshals payload under the given kind.
func NewEnvelope(kind EnvelopeKind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// DecodeChat unpacks the payload of a chat envelope.
func (e Envelope) DecodeChat() (Message, error) {
	if e.Kind != KindChat {
		return Message{}, fmt.Errorf("envelope kind %q is not chat", e.Kind)
	}
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodePresence unpacks the payload of a presence envelope.
func (e Envelope) DecodePresence() (PresenceEvent, error) {
	if e.Kind != KindPresence {
		return PresenceEvent{}, fmt.Errorf("envelope kind %q is not presence", e.Kind)
	}
	var p PresenceEvent
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return PresenceEvent{}, err
	}
	return p, nil
}
