// Package transporttest provides an in-memory pair of linked peer
// connections for exercising negotiation without a network.
//
// The pair connects as soon as both sides hold a local and a remote
// description. Data channels created on either side are then announced to
// the other side and opened on both, backed by net.Pipe.
package transporttest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gtpeer/internal/transport"
)

// Compile-time interface checks.
var (
	_ transport.PeerConnection = (*PeerConnection)(nil)
	_ transport.DataChannel    = (*DataChannel)(nil)
	_ transport.Factory        = (*Factory)(nil)
)

// HostCandidate returns a plausible host candidate for tests.
func HostCandidate(port int) webrtc.ICECandidateInit {
	mid := "0"
	return webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:1 1 udp 2130706431 127.0.0.1 %d typ host", port),
		SDPMid:    &mid,
	}
}

type link struct {
	mu        sync.Mutex
	connected bool
	a, b      *PeerConnection
}

// NewPair returns two linked peer connections, each gathering one host
// candidate.
func NewPair() (*PeerConnection, *PeerConnection) {
	l := &link{}
	l.a = &PeerConnection{name: "a", link: l, Candidates: []webrtc.ICECandidateInit{HostCandidate(50000)}}
	l.b = &PeerConnection{name: "b", link: l, Candidates: []webrtc.ICECandidateInit{HostCandidate(50001)}}
	l.a.peer, l.b.peer = l.b, l.a
	return l.a, l.b
}

// maybeConnect connects the pair once both sides are fully described.
func (l *link) maybeConnect() {
	l.mu.Lock()
	if l.connected || !l.a.described() || !l.b.described() || l.a.Unreachable || l.b.Unreachable {
		l.mu.Unlock()
		return
	}
	l.connected = true
	l.mu.Unlock()

	go l.connect()
}

func (l *link) connect() {
	for _, state := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected,
	} {
		l.a.SetState(state)
		l.b.SetState(state)
	}

	for _, side := range [][2]*PeerConnection{{l.a, l.b}, {l.b, l.a}} {
		local, remote := side[0], side[1]
		for _, dc := range local.createdChannels() {
			theirs := dc.connect()
			remote.announce(theirs)
			dc.setOpen()
			theirs.setOpen()
		}
	}
}

// ---------------------------------------------------------------------------
// PeerConnection
// ---------------------------------------------------------------------------

// PeerConnection is a fake transport.PeerConnection.
type PeerConnection struct {
	name string
	link *link
	peer *PeerConnection

	// Candidates are emitted in order after SetLocalDescription, followed by
	// the end-of-gathering signal.
	Candidates []webrtc.ICECandidateInit

	// Unreachable keeps the pair from ever connecting.
	Unreachable bool

	mu               sync.Mutex
	onCandidate      func(*webrtc.ICECandidateInit)
	onState          func(webrtc.PeerConnectionState)
	onDataChannel    func(transport.DataChannel)
	local, remote    *webrtc.SessionDescription
	created          []*DataChannel
	received         []*DataChannel
	remoteCandidates []webrtc.ICECandidateInit
	state            webrtc.PeerConnectionState
	closed           bool

	closes atomic.Int32
}

func (p *PeerConnection) described() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local != nil && p.remote != nil
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("peer connection closed")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=offer-%s\r\n", p.name),
	}, nil
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("peer connection closed")
	}
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0\r\no=- 2 1 IN IP4 127.0.0.1\r\ns=answer-%s\r\n", p.name),
	}, nil
}

func (p *PeerConnection) SetLocalDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer connection closed")
	}
	p.local = &sdp
	candidates := append([]webrtc.ICECandidateInit(nil), p.Candidates...)
	p.mu.Unlock()

	go p.gather(candidates)
	p.link.maybeConnect()
	return nil
}

func (p *PeerConnection) gather(candidates []webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn == nil {
		return
	}
	for i := range candidates {
		fn(&candidates[i])
	}
	fn(nil)
}

func (p *PeerConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer connection closed")
	}
	if sdp.SDP == "" {
		p.mu.Unlock()
		return errors.New("empty session description")
	}
	p.remote = &sdp
	p.mu.Unlock()

	p.link.maybeConnect()
	return nil
}

func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	if candidate.Candidate == "" {
		return errors.New("empty candidate")
	}
	p.remoteCandidates = append(p.remoteCandidates, candidate)
	return nil
}

func (p *PeerConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnDataChannel(fn func(transport.DataChannel)) {
	p.mu.Lock()
	p.onDataChannel = fn
	p.mu.Unlock()
}

func (p *PeerConnection) CreateDataChannel(label string) (transport.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("peer connection closed")
	}
	dc := &DataChannel{label: label}
	p.created = append(p.created, dc)
	return dc, nil
}

func (p *PeerConnection) createdChannels() []*DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*DataChannel(nil), p.created...)
}

// announce hands a channel opened by the peer to the OnDataChannel callback.
func (p *PeerConnection) announce(dc *DataChannel) {
	p.mu.Lock()
	p.received = append(p.received, dc)
	fn := p.onDataChannel
	p.mu.Unlock()
	if fn != nil {
		fn(dc)
	}
}

// Close closes every channel of the connection and reports the Closed state.
func (p *PeerConnection) Close() error {
	p.closes.Add(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	channels := append(append([]*DataChannel(nil), p.created...), p.received...)
	p.mu.Unlock()

	for _, dc := range channels {
		dc.Close()
	}
	go p.SetState(webrtc.PeerConnectionStateClosed)
	return nil
}

// SetState reports state to the connection state callback.
func (p *PeerConnection) SetState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = state
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Fail reports the Failed state asynchronously, as an ICE failure would.
func (p *PeerConnection) Fail() {
	go p.SetState(webrtc.PeerConnectionStateFailed)
}

// Closes returns how many times Close was called.
func (p *PeerConnection) Closes() int { return int(p.closes.Load()) }

// RemoteCandidates returns the candidates accepted by AddICECandidate.
func (p *PeerConnection) RemoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.remoteCandidates...)
}

// Described reports whether local and remote descriptions are set.
func (p *PeerConnection) Described() bool { return p.described() }

// Channels returns every channel created on or announced to p.
func (p *PeerConnection) Channels() []*DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(append([]*DataChannel(nil), p.created...), p.received...)
}

// ---------------------------------------------------------------------------
// DataChannel
// ---------------------------------------------------------------------------

// DataChannel is a fake transport.DataChannel.
type DataChannel struct {
	label string

	mu       sync.Mutex
	onOpen   func()
	opened   bool
	detached bool
	conn     net.Conn

	closes atomic.Int32
}

func (d *DataChannel) Label() string { return d.label }

// OnOpen registers fn; it fires immediately if the channel is already open.
func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	opened := d.opened
	d.mu.Unlock()
	if opened {
		go fn()
	}
}

// connect backs d with one end of a pipe and returns the remote counterpart.
func (d *DataChannel) connect() *DataChannel {
	ours, theirs := net.Pipe()
	d.mu.Lock()
	d.conn = ours
	d.mu.Unlock()
	return &DataChannel{label: d.label, conn: theirs}
}

func (d *DataChannel) setOpen() {
	d.mu.Lock()
	d.opened = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *DataChannel) Detach() (io.ReadWriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, errors.New("data channel not open")
	}
	if d.detached {
		return nil, errors.New("data channel already detached")
	}
	d.detached = true
	return d.conn, nil
}

func (d *DataChannel) Close() error {
	d.closes.Add(1)
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Closes returns how many times Close was called.
func (d *DataChannel) Closes() int { return int(d.closes.Load()) }

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Factory hands out prepared peer connections in order.
type Factory struct {
	mu      sync.Mutex
	pcs     []*PeerConnection
	configs []transport.ICEConfig
}

// NewFactory returns a Factory that yields pcs.
func NewFactory(pcs ...*PeerConnection) *Factory {
	return &Factory{pcs: pcs}
}

func (f *Factory) NewPeerConnection(cfg transport.ICEConfig) (transport.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if len(f.pcs) == 0 {
		return nil, errors.New("no peer connection available")
	}
	pc := f.pcs[0]
	f.pcs = f.pcs[1:]
	return pc, nil
}

// Configs returns the ICE configuration of every NewPeerConnection call.
func (f *Factory) Configs() []transport.ICEConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.ICEConfig(nil), f.configs...)
}

// Created returns how many peer connections were requested.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}
