// Package session carries the identity of the one active room a client is
// attached to. It is constructed when the operator opens a room and passed
// explicitly to every component that needs it; there is no ambient global
// for "the current room".
package session

import "fmt"

// RoomSession is a value object; the connection handle and all mutable
// state live in the components the session is handed to.
type RoomSession struct {
	RoomID             string
	CounterpartChannel string
	OperatorID         string
	OperatorLabel      string
	Token              string
}

// New derives the counterpart channel key from the room id.
func New(roomID, operatorID, operatorLabel, token string) RoomSession {
	return RoomSession{
		RoomID:             roomID,
		CounterpartChannel: fmt.Sprintf("room:%s:counterpart", roomID),
		OperatorID:         operatorID,
		OperatorLabel:      operatorLabel,
		Token:              token,
	}
}

// MessageDestination is the backbone destination carrying chat envelopes.
func (s RoomSession) MessageDestination() string {
	return "room:" + s.RoomID + ":messages"
}

// PresenceDestination is the backbone destination carrying typing signals.
func (s RoomSession) PresenceDestination() string {
	return "room:" + s.RoomID + ":presence"
}
