package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/tutorlink/rtc/internal/ice"
	"github.com/tutorlink/rtc/internal/signaling"
	"github.com/tutorlink/rtc/internal/util"
)

const (
	defaultRingTimeout     = 30 * time.Second
	defaultDisconnectGrace = 10 * time.Second
)

// Config carries the machine's identity and hooks.
type Config struct {
	LocalUserID string
	LocalName   string

	// RingTimeout is how long an incoming call rings before it is
	// auto-rejected. Defaults to 30s.
	RingTimeout time.Duration

	// DisconnectGrace is how long a disconnected peer connection may
	// linger before the call is torn down. Defaults to 10s.
	DisconnectGrace time.Duration

	// Books, if set, receives session bookkeeping calls.
	Books Bookkeeper

	// OnState, if set, receives a snapshot after every state change.
	OnState func(State)

	// OnChat, if set, receives chat text from either the side data
	// channel or the relay.
	OnChat func(from, text string)
}

// Machine is the call state machine. All state lives behind its lock;
// every transition is a guarded method, so illegal invocations are
// no-ops by construction rather than flag checks.
type Machine struct {
	cfg    Config
	sig    Signaler
	dialer Dialer
	queue  *ice.Queue

	mu            sync.Mutex
	state         State
	sess          Negotiator
	answerPending bool
	ringTimer     *time.Timer
	graceTimer    *time.Timer
}

// NewMachine builds an idle machine for the given local user.
func NewMachine(cfg Config, sig Signaler, dialer Dialer) *Machine {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = defaultDisconnectGrace
	}
	return &Machine{
		cfg:    cfg,
		sig:    sig,
		dialer: dialer,
		queue:  ice.NewQueue(),
		state: State{
			Phase:       PhaseIdle,
			LocalUserID: cfg.LocalUserID,
		},
	}
}

// Bind installs the machine's handlers on the signaling client. Must be
// called before the client connects so no early message is dropped.
func (m *Machine) Bind(b Binder) {
	b.Handle(signaling.MsgCallRequest, m.handleCallRequest)
	b.Handle(signaling.MsgCallAccept, m.handleCallAccept)
	b.Handle(signaling.MsgCallReject, m.handleCallReject)
	b.Handle(signaling.MsgCallEnd, m.handleCallEnd)
	b.Handle(signaling.MsgOffer, m.handleOffer)
	b.Handle(signaling.MsgAnswer, m.handleAnswer)
	b.Handle(signaling.MsgICECandidate, m.handleCandidate)
	b.Handle(signaling.MsgChat, m.handleChat)
	b.OnConnect(m.flushLocal)
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ---------------------------------------------------------------------------
// User commands
// ---------------------------------------------------------------------------

// StartCall places a call to remoteID. Local media is acquired and the
// negotiation session built before the call-request goes out, so the
// offer can be created the instant acceptance arrives.
func (m *Machine) StartCall(remoteID, remoteName string) error {
	m.mu.Lock()
	if m.state.Phase != PhaseIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	sid := uuid.NewString()
	m.state = State{
		Phase:           PhaseOutgoingRinging,
		Direction:       DirectionOutgoing,
		LocalUserID:     m.cfg.LocalUserID,
		RemoteUserID:    remoteID,
		RemoteName:      remoteName,
		SessionID:       sid,
		ConnectionPhase: webrtc.ICEConnectionStateNew,
	}
	m.mu.Unlock()
	m.notify()
	util.Stats.AddPlaced()

	sess, err := m.dialer.NewSession(sid)
	if err != nil {
		m.abort(sid)
		return fmt.Errorf("failed to create negotiation session: %w", err)
	}
	m.wireSession(sid, sess)

	if err := sess.AcquireUserMedia(true, true); err != nil {
		sess.Close()
		m.abort(sid)
		return fmt.Errorf("failed to acquire local media: %w", err)
	}

	m.mu.Lock()
	if m.state.SessionID != sid || m.state.Phase != PhaseOutgoingRinging {
		// Torn down while capturing.
		m.mu.Unlock()
		sess.Close()
		return nil
	}
	m.sess = sess
	m.state.HasLocalMedia = true
	m.mu.Unlock()
	m.notify()

	req := signaling.New(signaling.MsgCallRequest, m.cfg.LocalUserID, remoteID, sid)
	req.CallerName = m.cfg.LocalName
	m.send(req)
	m.flushLocal()
	m.book("create", func(ctx context.Context, b Bookkeeper) error {
		return b.Create(ctx, sid, m.cfg.LocalUserID, remoteID)
	})
	return nil
}

// Accept answers the ringing incoming call. The phase flips to
// negotiating immediately and the session exists before call-accept is
// sent, so the caller's offer always finds it; media is acquired
// asynchronously afterwards.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.state.Phase != PhaseIncomingRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	m.stopTimersLocked()
	sid := m.state.SessionID
	remote := m.state.RemoteUserID
	m.mu.Unlock()

	sess, err := m.dialer.NewSession(sid)
	if err != nil {
		util.LogError("failed to create negotiation session: %v", err)
		m.abort(sid)
		m.send(signaling.New(signaling.MsgCallEnd, m.cfg.LocalUserID, remote, sid))
		return err
	}
	m.wireSession(sid, sess)

	m.mu.Lock()
	if m.state.SessionID != sid || m.state.Phase != PhaseIncomingRinging {
		m.mu.Unlock()
		sess.Close()
		return nil
	}
	m.state.Phase = PhaseNegotiating
	m.sess = sess
	m.mu.Unlock()
	m.notify()

	m.send(signaling.New(signaling.MsgCallAccept, m.cfg.LocalUserID, remote, sid))
	m.book("create", func(ctx context.Context, b Bookkeeper) error {
		return b.Create(ctx, sid, remote, m.cfg.LocalUserID)
	})
	go m.acquireCalleeMedia(sid, sess)
	return nil
}

// Reject declines the ringing incoming call. State resets to idle
// unconditionally, even if the outbound send fails.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.state.Phase != PhaseIncomingRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	sid := m.state.SessionID
	remote := m.state.RemoteUserID
	m.resetLocked()
	m.mu.Unlock()

	m.send(signaling.New(signaling.MsgCallReject, m.cfg.LocalUserID, remote, sid))
	m.notify()
	return nil
}

// Hangup ends the call from any non-idle phase. It is idempotent: the
// state flips to idle under the lock before any I/O, so only the
// invocation that performed the flip sends the single call-end.
func (m *Machine) Hangup() error {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return nil
	}
	sess := m.sess
	sid := m.state.SessionID
	remote := m.state.RemoteUserID
	m.resetLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if remote != "" && sid != "" {
		m.send(signaling.New(signaling.MsgCallEnd, m.cfg.LocalUserID, remote, sid))
	}
	m.book("end", func(ctx context.Context, b Bookkeeper) error {
		return b.End(ctx, sid)
	})
	m.notify()
	return nil
}

// ToggleMute flips the outgoing audio track.
func (m *Machine) ToggleMute() error {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle || m.sess == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	sess := m.sess
	muted := !m.state.Muted
	m.mu.Unlock()

	if err := sess.SetAudioEnabled(!muted); err != nil {
		return err
	}
	m.mu.Lock()
	m.state.Muted = muted
	m.mu.Unlock()
	m.notify()
	return nil
}

// ToggleVideo flips the outgoing camera track.
func (m *Machine) ToggleVideo() error {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle || m.sess == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	sess := m.sess
	off := !m.state.VideoOff
	m.mu.Unlock()

	if err := sess.SetVideoEnabled(!off); err != nil {
		return err
	}
	m.mu.Lock()
	m.state.VideoOff = off
	m.mu.Unlock()
	m.notify()
	return nil
}

// ToggleScreenShare starts or stops display capture, replacing the
// outgoing video track in place.
func (m *Machine) ToggleScreenShare() error {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle || m.sess == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	sess := m.sess
	sharing := !m.state.ScreenSharing
	m.mu.Unlock()

	var err error
	if sharing {
		err = sess.StartScreenShare()
	} else {
		err = sess.StopScreenShare()
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state.ScreenSharing = sharing
	m.mu.Unlock()
	m.notify()
	return nil
}

// SendChat delivers text to the peer: over the side data channel when it
// is open, through the relay otherwise.
func (m *Machine) SendChat(text string) error {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return ErrNoCall
	}
	sess := m.sess
	sid := m.state.SessionID
	remote := m.state.RemoteUserID
	m.mu.Unlock()

	if sess != nil && sess.DataOpen() {
		if err := sess.SendData(text); err == nil {
			return nil
		}
		// fall through to the relay
	}
	msg := signaling.New(signaling.MsgChat, m.cfg.LocalUserID, remote, sid)
	msg.Data = text
	return m.sig.Send(msg)
}

// ---------------------------------------------------------------------------
// Inbound signaling
// ---------------------------------------------------------------------------

func (m *Machine) handleCallRequest(msg signaling.Message) {
	m.mu.Lock()
	if m.state.Phase != PhaseIdle {
		busy := msg.SessionID != m.state.SessionID
		m.mu.Unlock()
		if busy {
			// Decline so the caller's side settles instead of ringing out.
			m.send(signaling.New(signaling.MsgCallReject, m.cfg.LocalUserID, msg.From, msg.SessionID))
		}
		return
	}
	m.state = State{
		Phase:           PhaseIncomingRinging,
		Direction:       DirectionIncoming,
		LocalUserID:     m.cfg.LocalUserID,
		RemoteUserID:    msg.From,
		RemoteName:      msg.CallerName,
		SessionID:       msg.SessionID,
		ConnectionPhase: webrtc.ICEConnectionStateNew,
	}
	sid := msg.SessionID
	m.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() { m.autoReject(sid) })
	m.mu.Unlock()

	util.Stats.AddReceived()
	util.LogInfo("incoming call from %s (%s)", msg.CallerName, msg.From)
	m.notify()
}

func (m *Machine) handleCallAccept(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase != PhaseOutgoingRinging || m.sess == nil {
		m.mu.Unlock()
		return
	}
	m.state.Phase = PhaseNegotiating
	sess := m.sess
	sid := m.state.SessionID
	remote := m.state.RemoteUserID
	m.mu.Unlock()
	m.notify()

	// The caller always creates the offer; local media and session were
	// prepared before the call-request went out.
	offer, err := sess.CreateOffer()
	if err != nil {
		util.LogError("failed to create offer: %v", err)
		m.Hangup()
		return
	}
	out := signaling.New(signaling.MsgOffer, m.cfg.LocalUserID, remote, sid)
	out.Data = offer.SDP
	m.send(out)
}

func (m *Machine) handleCallReject(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase != PhaseOutgoingRinging {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.resetLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	util.LogInfo("call declined by %s", msg.From)
	m.notify()
}

func (m *Machine) handleCallEnd(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	sid := m.state.SessionID
	m.resetLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	util.LogInfo("call ended by %s", msg.From)
	m.book("end", func(ctx context.Context, b Bookkeeper) error {
		return b.End(ctx, sid)
	})
	m.notify()
}

func (m *Machine) handleOffer(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase != PhaseNegotiating || m.sess == nil {
		m.mu.Unlock()
		return
	}
	if m.state.Direction != DirectionIncoming {
		// Offers only flow caller → callee. Anything else is a peer bug.
		m.mu.Unlock()
		util.LogWarning("ignoring offer received as caller (session %s)", msg.SessionID)
		return
	}
	sess := m.sess
	if err := sess.SetRemoteDescription("offer", msg.Data); err != nil {
		m.mu.Unlock()
		util.LogError("failed to apply offer: %v", err)
		return
	}
	m.flushRemoteLocked(sess)
	ready := m.state.HasLocalMedia
	if !ready {
		m.answerPending = true
	}
	sid := m.state.SessionID
	m.mu.Unlock()

	if ready {
		m.sendAnswer(sid)
	}
}

func (m *Machine) handleAnswer(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase != PhaseNegotiating || m.sess == nil {
		m.mu.Unlock()
		return
	}
	if m.state.Direction != DirectionOutgoing {
		m.mu.Unlock()
		util.LogWarning("ignoring answer received as callee (session %s)", msg.SessionID)
		return
	}
	sess := m.sess
	if err := sess.SetRemoteDescription("answer", msg.Data); err != nil {
		m.mu.Unlock()
		util.LogError("failed to apply answer: %v", err)
		return
	}
	m.flushRemoteLocked(sess)
	m.mu.Unlock()
}

func (m *Machine) handleCandidate(msg signaling.Message) {
	m.mu.Lock()
	if msg.SessionID != m.state.SessionID || m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(msg.Data), &init); err != nil {
		m.mu.Unlock()
		util.LogWarning("malformed ice-candidate from %s: %v", msg.From, err)
		return
	}
	if m.sess == nil || !m.sess.RemoteApplied() {
		m.queue.PushRemote(init)
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.mu.Unlock()

	if err := sess.AddICECandidate(init); err != nil {
		util.LogWarning("discarding candidate that failed to apply: %v", err)
		return
	}
	util.Stats.AddApplied()
}

func (m *Machine) handleChat(msg signaling.Message) {
	m.mu.Lock()
	ok := msg.SessionID == m.state.SessionID && m.state.Phase != PhaseIdle
	m.mu.Unlock()
	if !ok || m.cfg.OnChat == nil {
		return
	}
	m.cfg.OnChat(msg.From, msg.Data)
}

// ---------------------------------------------------------------------------
// Session events
// ---------------------------------------------------------------------------

// wireSession hooks the negotiation session's events into the machine.
// Every callback captures the session id so events from a torn-down call
// cannot touch a newer one.
func (m *Machine) wireSession(sid string, sess Negotiator) {
	sess.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		m.queue.PushLocal(c)
		m.flushLocal()
	})
	sess.OnRemoteTrack(func(string) { go m.handleRemoteTrack(sid) })
	sess.OnStateChange(func(st webrtc.ICEConnectionState) { go m.handleConnState(sid, st) })
	sess.OnDataMessage(func(text string) { go m.handleDataMessage(sid, text) })
}

func (m *Machine) handleRemoteTrack(sid string) {
	m.mu.Lock()
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	m.state.HasRemoteMedia = true
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) handleDataMessage(sid, text string) {
	m.mu.Lock()
	ok := m.state.SessionID == sid
	remote := m.state.RemoteUserID
	m.mu.Unlock()
	if !ok || m.cfg.OnChat == nil {
		return
	}
	m.cfg.OnChat(remote, text)
}

func (m *Machine) handleConnState(sid string, st webrtc.ICEConnectionState) {
	m.mu.Lock()
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	m.state.ConnectionPhase = st

	switch st {
	case webrtc.ICEConnectionStateConnected:
		if m.graceTimer != nil {
			m.graceTimer.Stop()
			m.graceTimer = nil
		}
		justConnected := m.state.Phase == PhaseNegotiating
		if justConnected {
			m.state.Phase = PhaseConnected
		}
		m.mu.Unlock()
		m.notify()
		if justConnected {
			util.Stats.AddConnected()
			util.LogSuccess("call connected (session %s)", sid)
			m.book("start", func(ctx context.Context, b Bookkeeper) error {
				return b.Start(ctx, sid)
			})
		}

	case webrtc.ICEConnectionStateDisconnected:
		// pion may still recover this; give it a bounded grace window.
		if m.graceTimer == nil {
			m.graceTimer = time.AfterFunc(m.cfg.DisconnectGrace, func() { m.peerLost(sid) })
		}
		m.mu.Unlock()
		m.notify()

	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		m.mu.Unlock()
		m.peerLost(sid)

	default:
		m.mu.Unlock()
		m.notify()
	}
}

// peerLost tears the call down as if the peer had hung up: no call-end
// is echoed at a peer we can no longer reach through the connection.
func (m *Machine) peerLost(sid string) {
	m.mu.Lock()
	if m.state.SessionID != sid || m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.resetLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	util.LogWarning("peer connection lost (session %s)", sid)
	m.book("end", func(ctx context.Context, b Bookkeeper) error {
		return b.End(ctx, sid)
	})
	m.notify()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// acquireCalleeMedia runs after Accept returned: capture devices, then
// answer the offer if it already arrived while we were capturing.
func (m *Machine) acquireCalleeMedia(sid string, sess Negotiator) {
	if err := sess.AcquireUserMedia(true, true); err != nil {
		util.LogError("failed to acquire local media: %v", err)
		m.mu.Lock()
		if m.state.SessionID != sid {
			m.mu.Unlock()
			return
		}
		remote := m.state.RemoteUserID
		m.resetLocked()
		m.mu.Unlock()

		sess.Close()
		m.send(signaling.New(signaling.MsgCallEnd, m.cfg.LocalUserID, remote, sid))
		m.notify()
		return
	}

	m.mu.Lock()
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	m.state.HasLocalMedia = true
	pending := m.answerPending && m.sess != nil && m.sess.RemoteApplied()
	m.answerPending = false
	m.mu.Unlock()
	m.notify()

	if pending {
		m.sendAnswer(sid)
	}
	m.flushLocal()
}

// sendAnswer creates the answer and ships it. Valid only while sid is
// still the active session.
func (m *Machine) sendAnswer(sid string) {
	m.mu.Lock()
	sess := m.sess
	remote := m.state.RemoteUserID
	ok := m.state.SessionID == sid && sess != nil
	m.mu.Unlock()
	if !ok {
		return
	}

	answer, err := sess.CreateAnswer()
	if err != nil {
		util.LogError("failed to create answer: %v", err)
		return
	}
	out := signaling.New(signaling.MsgAnswer, m.cfg.LocalUserID, remote, sid)
	out.Data = answer.SDP
	m.send(out)
}

// flushLocal attempts delivery of queued outbound candidates. Triggered
// by new local candidates, addressing becoming known, and transport
// (re)connects. Delivery goes through SendStrict: a disconnect at write
// time surfaces as an error and the candidate stays queued.
func (m *Machine) flushLocal() {
	m.mu.Lock()
	remote := m.state.RemoteUserID
	sid := m.state.SessionID
	m.mu.Unlock()

	if remote == "" || sid == "" || !m.sig.IsConnected() {
		return
	}
	m.queue.FlushLocal(func(c webrtc.ICECandidateInit) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		msg := signaling.New(signaling.MsgICECandidate, m.cfg.LocalUserID, remote, sid)
		msg.Data = string(data)
		if err := m.sig.SendStrict(msg); err != nil {
			return err
		}
		util.Stats.AddSent()
		return nil
	})
}

// flushRemoteLocked applies queued inbound candidates. Caller holds the
// machine lock, which is what makes "strictly in arrival order" hold
// against candidates arriving mid-flush.
func (m *Machine) flushRemoteLocked(sess Negotiator) {
	m.queue.FlushRemote(func(c webrtc.ICECandidateInit) error {
		if err := sess.AddICECandidate(c); err != nil {
			return err
		}
		util.Stats.AddApplied()
		return nil
	})
}

// autoReject fires when an incoming call rang unanswered for the full
// ring timeout. Identical path to a manual reject.
func (m *Machine) autoReject(sid string) {
	m.mu.Lock()
	if m.state.SessionID != sid || m.state.Phase != PhaseIncomingRinging {
		m.mu.Unlock()
		return
	}
	remote := m.state.RemoteUserID
	m.resetLocked()
	m.mu.Unlock()

	util.LogInfo("incoming call timed out, auto-rejecting (session %s)", sid)
	m.send(signaling.New(signaling.MsgCallReject, m.cfg.LocalUserID, remote, sid))
	m.notify()
}

// abort resets to idle if sid is still the active session. Used on
// setup failures before the call ever progressed.
func (m *Machine) abort(sid string) {
	m.mu.Lock()
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notify()
}

// resetLocked clears all call-scoped state. Caller holds the lock.
func (m *Machine) resetLocked() {
	m.stopTimersLocked()
	m.state = State{
		Phase:       PhaseIdle,
		LocalUserID: m.cfg.LocalUserID,
	}
	m.sess = nil
	m.answerPending = false
	m.queue.Clear()
}

func (m *Machine) stopTimersLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

// send ships a message best-effort, logging failures.
func (m *Machine) send(msg signaling.Message) {
	if err := m.sig.Send(msg); err != nil {
		util.LogWarning("signaling send %s failed: %v", msg.Type, err)
	}
}

// book runs one bookkeeping call in the background. Billing is advisory:
// failures are logged, never propagated.
func (m *Machine) book(op string, fn func(context.Context, Bookkeeper) error) {
	if m.cfg.Books == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx, m.cfg.Books); err != nil {
			util.LogWarning("session bookkeeping (%s) failed: %v", op, err)
		}
	}()
}

func (m *Machine) notify() {
	if m.cfg.OnState == nil {
		return
	}
	m.cfg.OnState(m.Snapshot())
}
