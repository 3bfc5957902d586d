// Package media owns the WebRTC negotiation for a call: one peer
// connection per active call, local capture through mediadevices, SDP
// offer/answer creation, and a side data channel for lightweight
// messages. The call state machine drives it; nothing in here decides
// call lifecycle on its own.
package media

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"
)

// Default STUN servers used when the configuration names none. No TURN:
// relay provisioning is out of scope for the agent.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Engine holds the process-wide WebRTC machinery: the codec selector and
// the API handle sessions are minted from. Construct it once and create
// one Session per call.
type Engine struct {
	api      *webrtc.API
	config   webrtc.Configuration
	selector *mediadevices.CodecSelector
}

// NewEngine builds the engine with VP8 video and Opus audio, the pack's
// fixed codec choice. stunServers may be nil to use the defaults; debug
// turns on pion's own trace logging.
func NewEngine(stunServers []string, debug bool) (*Engine, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 15

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := webrtc.MediaEngine{}
	selector.Populate(&mediaEngine)

	settingEngine := webrtc.SettingEngine{}
	loggerFactory := logging.NewDefaultLoggerFactory()
	if debug {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}
	settingEngine.LoggerFactory = loggerFactory

	if len(stunServers) == 0 {
		stunServers = defaultSTUNServers
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(&mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: stunServers},
			},
		},
		selector: selector,
	}, nil
}

// NewSession creates the negotiation session for one call: a fresh
// PeerConnection plus the pre-negotiated side data channel. Using
// negotiated mode (ID 0) lets both ends create the channel independently
// without relying on OnDataChannel.
func (e *Engine) NewSession(sessionID string) (*Session, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("side", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create side channel: %w", err)
	}

	return newSession(sessionID, pc, dc, e.selector), nil
}
