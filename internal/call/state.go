// Package call implements the call lifecycle state machine: the single
// source of truth for what is happening right now from the local user's
// perspective. It drives the signaling transport, the negotiation
// session and the ICE queue in response to user commands and inbound
// signaling; none of those components mutate call state on their own.
package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Phase is the call lifecycle phase.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseOutgoingRinging Phase = "outgoing-ringing"
	PhaseIncomingRinging Phase = "incoming-ringing"
	PhaseNegotiating     Phase = "negotiating"
	PhaseConnected       Phase = "connected"
)

// Direction distinguishes who placed the active call.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// State is a snapshot of the machine, handed to the UI hook on every
// change. SessionID is non-empty iff Phase is not idle.
type State struct {
	Phase           Phase
	Direction       Direction
	LocalUserID     string
	RemoteUserID    string
	RemoteName      string
	SessionID       string
	HasLocalMedia   bool
	HasRemoteMedia  bool
	ConnectionPhase webrtc.ICEConnectionState
	Muted           bool
	VideoOff        bool
	ScreenSharing   bool
}

var (
	// ErrBusy is returned by StartCall when a call is already in
	// progress.
	ErrBusy = errors.New("call already in progress")

	// ErrNotRinging is returned by Accept and Reject outside the
	// incoming-ringing phase.
	ErrNotRinging = errors.New("no incoming call to answer")

	// ErrNoCall is returned by in-call commands while idle.
	ErrNoCall = errors.New("no active call")
)
