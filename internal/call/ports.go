package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/tutorlink/rtc/internal/signaling"
)

// Signaler is the slice of the signaling client the machine sends
// through. Send is best-effort; SendStrict reports a down channel so
// the ICE flush can keep its candidate; IsConnected gates flush
// triggers.
type Signaler interface {
	Send(signaling.Message) error
	SendStrict(signaling.Message) error
	IsConnected() bool
}

// Binder is the handler-registration surface of the signaling client.
// Bind must run before the client connects.
type Binder interface {
	Handle(signaling.MessageType, func(signaling.Message))
	OnConnect(func())
}

// Negotiator is one call's media negotiation session. It is implemented
// by *media.Session; tests substitute a fake.
type Negotiator interface {
	AcquireUserMedia(audio, video bool) error
	StartScreenShare() error
	StopScreenShare() error
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(kind, sdp string) error
	RemoteApplied() bool
	AddICECandidate(webrtc.ICECandidateInit) error

	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnRemoteTrack(func(kind string))
	OnStateChange(func(webrtc.ICEConnectionState))
	OnDataMessage(func(text string))

	DataOpen() bool
	SendData(text string) error
	Close() error
}

// Dialer mints a Negotiator per call.
type Dialer interface {
	NewSession(sessionID string) (Negotiator, error)
}

// Bookkeeper records billable session lifecycle against the marketplace
// API. All calls are advisory: the machine invokes them asynchronously
// and never lets a failure touch call state.
type Bookkeeper interface {
	Create(ctx context.Context, sessionID, callerID, calleeID string) error
	Start(ctx context.Context, sessionID string) error
	End(ctx context.Context, sessionID string) error
}
