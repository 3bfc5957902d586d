// Package signaling implements the relay-channel protocol used to
// coordinate call establishment between two agents: typed JSON messages
// addressed by user id within a call session, and a persistent WebSocket
// client that carries them.
package signaling

import "time"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgCallRequest  MessageType = "call-request"  // ringing notification
	MsgCallAccept   MessageType = "call-accept"   // callee agreed; caller must now create the offer
	MsgCallReject   MessageType = "call-reject"   // callee declined
	MsgCallEnd      MessageType = "call-end"      // either side hanging up
	MsgOffer        MessageType = "offer"         // caller → callee, Data carries SDP
	MsgAnswer       MessageType = "answer"        // callee → caller, Data carries SDP
	MsgICECandidate MessageType = "ice-candidate" // either direction, Data carries a JSON-encoded candidate
	MsgChat         MessageType = "chat"          // side channel, Data carries text
)

// Message is the JSON envelope exchanged through the relay. A message is
// immutable once sent; the receiver correlates it to a call by
// (From, SessionID).
type Message struct {
	Type       MessageType `json:"type"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	SessionID  string      `json:"sessionId"`
	CallerName string      `json:"callerName,omitempty"` // call-request only
	Data       string      `json:"data,omitempty"`       // SDP, candidate JSON, or chat text
	Timestamp  int64       `json:"timestamp"`            // unix milliseconds, sender clock
}

// New builds a message addressed from → to within the given session,
// stamped with the current time.
func New(t MessageType, from, to, sessionID string) Message {
	return Message{
		Type:      t,
		From:      from,
		To:        to,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
}
