// Package transport is the seam between the negotiation state machine and
// the WebRTC stack. The state machine only sees the PeerConnection and
// DataChannel interfaces; Pion backs them in production and
// transporttest backs them in tests.
package transport

import (
	"io"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection used during
// negotiation. Callbacks may be invoked from any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// OnICECandidate registers a callback invoked for each gathered local
	// candidate. A nil candidate signals the end of gathering.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnDataChannel(fn func(DataChannel))

	// CreateDataChannel creates an ordered, reliable channel with the given
	// label.
	CreateDataChannel(label string) (DataChannel, error)

	Close() error
}

// DataChannel is a single data channel. After OnOpen fires the channel is
// consumed through Detach as a plain byte stream.
type DataChannel interface {
	Label() string
	OnOpen(fn func())
	Detach() (io.ReadWriteCloser, error)
	Close() error
}

// Factory creates peer connections.
type Factory interface {
	NewPeerConnection(cfg ICEConfig) (PeerConnection, error)
}

// ---------------------------------------------------------------------------
// ICE configuration
// ---------------------------------------------------------------------------

// DefaultStunServers are used when no STUN servers are configured. No TURN:
// the tunnel is designed for direct P2P connectivity.
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEConfig lists the ICE servers a peer connection gathers against.
type ICEConfig struct {
	StunServers []string
}

// NewICEConfig returns an ICEConfig for urls, falling back to
// DefaultStunServers when urls is nil. An empty non-nil slice means host
// candidates only.
func NewICEConfig(urls []string) ICEConfig {
	if urls == nil {
		return ICEConfig{StunServers: DefaultStunServers}
	}
	return ICEConfig{StunServers: urls}
}

func (c ICEConfig) webrtcConfiguration() webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(c.StunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.StunServers}}
	}
	return cfg
}
