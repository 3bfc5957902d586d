package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/tutorlink/rtc/internal/util"
)

var (
	// ErrNoLocalMedia is returned when an offer or answer is requested
	// before any local media has been attached.
	ErrNoLocalMedia = errors.New("media: no local media acquired")

	// ErrAlreadyNegotiated is returned when CreateOffer or CreateAnswer
	// is called a second time on the same session.
	ErrAlreadyNegotiated = errors.New("media: description already created")

	// ErrRemoteNotApplied is returned when a candidate or answer step
	// requires the remote description and it has not been applied yet.
	ErrRemoteNotApplied = errors.New("media: remote description not applied")
)

// Session owns exactly one peer connection, one local media stream and
// zero-or-one remote stream. It is created when a call enters a ringing
// phase and destroyed unconditionally when the call ends, whichever side
// initiated the end.
//
// Event callbacks (OnLocalCandidate etc.) must be set right after
// construction, before any negotiation step runs.
type Session struct {
	id       string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	selector *mediadevices.CodecSelector

	mu            sync.Mutex
	stream        mediadevices.MediaStream
	screenStream  mediadevices.MediaStream
	audioTrack    mediadevices.Track
	cameraTrack   mediadevices.Track
	audioSender   *webrtc.RTPSender
	videoSender   *webrtc.RTPSender
	hasLocalMedia bool
	offerDone     bool
	answerDone    bool
	remoteApplied bool
	closed        bool
	connState     webrtc.ICEConnectionState

	onLocalCandidate func(webrtc.ICECandidateInit)
	onRemoteTrack    func(kind string)
	onStateChange    func(webrtc.ICEConnectionState)
	onDataMessage    func(text string)
}

func newSession(id string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel, selector *mediadevices.CodecSelector) *Session {
	s := &Session{
		id:        id,
		pc:        pc,
		dc:        dc,
		selector:  selector,
		connState: webrtc.ICEConnectionStateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		s.mu.Lock()
		fn := s.onLocalCandidate
		s.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("media[%s]: connection state %s", id, state)
		s.mu.Lock()
		s.connState = state
		fn := s.onStateChange
		s.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("media[%s]: remote %s track received", id, track.Kind())
		s.mu.Lock()
		fn := s.onRemoteTrack
		s.mu.Unlock()
		if fn != nil {
			fn(track.Kind().String())
		}
		go drainTrack(track)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.mu.Lock()
		fn := s.onDataMessage
		s.mu.Unlock()
		if fn != nil {
			fn(string(msg.Data))
		}
	})

	return s
}

// drainTrack consumes RTP until the track ends. Rendering is the UI
// layer's job; the agent only keeps the receiver from stalling.
func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

// ID returns the session identifier this negotiation belongs to.
func (s *Session) ID() string { return s.id }

// ---------------------------------------------------------------------------
// Event registration
// ---------------------------------------------------------------------------

// OnLocalCandidate registers the callback for locally gathered ICE
// candidates. End-of-gathering is filtered out.
func (s *Session) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLocalCandidate = fn
}

// OnRemoteTrack registers the callback invoked once per inbound media
// track with the track kind ("audio" or "video").
func (s *Session) OnRemoteTrack(fn func(kind string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteTrack = fn
}

// OnStateChange registers the callback for ICE connection state
// transitions (new → checking → connected → disconnected/failed/closed).
func (s *Session) OnStateChange(fn func(webrtc.ICEConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnDataMessage registers the callback for inbound side-channel text.
func (s *Session) OnDataMessage(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDataMessage = fn
}

// ---------------------------------------------------------------------------
// Local media
// ---------------------------------------------------------------------------

// AcquireUserMedia captures the requested device tracks and attaches
// them to the peer connection. The stream is released on Close.
func (s *Session) AcquireUserMedia(audio, video bool) error {
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		}
	}
	if audio {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("failed to get user media: %w", err)
	}
	return s.attachStream(stream)
}

func (s *Session) attachStream(stream mediadevices.MediaStream) error {
	for _, track := range stream.GetTracks() {
		tr, err := s.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("failed to attach %s track: %w", track.Kind(), err)
		}

		s.mu.Lock()
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.audioTrack = track
			s.audioSender = tr.Sender()
		case webrtc.RTPCodecTypeVideo:
			s.cameraTrack = track
			s.videoSender = tr.Sender()
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.stream = stream
	s.hasLocalMedia = true
	s.mu.Unlock()
	return nil
}

// StartScreenShare swaps the outgoing video track for a display capture
// without renegotiation.
func (s *Session) StartScreenShare() error {
	s.mu.Lock()
	sender := s.videoSender
	s.mu.Unlock()
	if sender == nil {
		return ErrNoLocalMedia
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(15)
		},
		Codec: s.selector,
	})
	if err != nil {
		return fmt.Errorf("failed to get display media: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return errors.New("media: display capture produced no video track")
	}
	if err := sender.ReplaceTrack(tracks[0]); err != nil {
		return fmt.Errorf("failed to replace video track: %w", err)
	}

	s.mu.Lock()
	s.screenStream = stream
	s.mu.Unlock()
	return nil
}

// StopScreenShare restores the camera track and releases the display
// capture.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	sender := s.videoSender
	camera := s.cameraTrack
	screen := s.screenStream
	s.screenStream = nil
	s.mu.Unlock()

	if screen != nil {
		closeStream(screen)
	}
	if sender == nil {
		return nil
	}
	if camera == nil {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(camera)
}

// SetAudioEnabled pauses or resumes the outgoing audio track. Pausing is
// implemented as a sender-side track replace, the Go analogue of a muted
// browser track.
func (s *Session) SetAudioEnabled(enabled bool) error {
	s.mu.Lock()
	sender := s.audioSender
	track := s.audioTrack
	s.mu.Unlock()
	if sender == nil {
		return ErrNoLocalMedia
	}
	if !enabled {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(track)
}

// SetVideoEnabled pauses or resumes the outgoing camera track.
func (s *Session) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	sender := s.videoSender
	track := s.cameraTrack
	s.mu.Unlock()
	if sender == nil {
		return ErrNoLocalMedia
	}
	if !enabled {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(track)
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates the SDP offer and applies it as the local
// description. Valid once per session, after local media exists.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	if !s.hasLocalMedia {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, ErrNoLocalMedia
	}
	if s.offerDone {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, ErrAlreadyNegotiated
	}
	s.offerDone = true
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer generates the SDP answer and applies it as the local
// description. Valid once per session, after local media exists and the
// remote offer has been applied.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	if !s.hasLocalMedia {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, ErrNoLocalMedia
	}
	if !s.remoteApplied {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, ErrRemoteNotApplied
	}
	if s.answerDone {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, ErrAlreadyNegotiated
	}
	s.answerDone = true
	s.mu.Unlock()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// SetRemoteDescription applies the peer's SDP. kind is "offer" or
// "answer".
func (s *Session) SetRemoteDescription(kind, sdp string) error {
	desc := webrtc.SessionDescription{SDP: sdp}
	switch kind {
	case "offer":
		desc.Type = webrtc.SDPTypeOffer
	case "answer":
		desc.Type = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("media: unknown description kind %q", kind)
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteApplied = true
	s.mu.Unlock()
	return nil
}

// RemoteApplied reports whether the remote description has been applied;
// candidates may only be added after that.
func (s *Session) RemoteApplied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteApplied
}

// AddICECandidate adds a remote candidate. It fails before the remote
// description is applied; the ICE queue holds candidates until then.
func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	if !s.RemoteApplied() {
		return ErrRemoteNotApplied
	}
	return s.pc.AddICECandidate(c)
}

// ConnectionState returns the last observed ICE connection state.
func (s *Session) ConnectionState() webrtc.ICEConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// ---------------------------------------------------------------------------
// Side channel
// ---------------------------------------------------------------------------

// DataOpen reports whether the side data channel is open.
func (s *Session) DataOpen() bool {
	return s.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// SendData sends a text message over the side data channel.
func (s *Session) SendData(text string) error {
	return s.dc.SendText(text)
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close releases the capture devices and closes the peer connection.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	screen := s.screenStream
	s.mu.Unlock()

	if stream != nil {
		closeStream(stream)
	}
	if screen != nil {
		closeStream(screen)
	}
	return errors.Join(s.dc.Close(), s.pc.Close())
}

func closeStream(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		if err := track.Close(); err != nil {
			util.LogDebug("media: track close: %v", err)
		}
	}
}
