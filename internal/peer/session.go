// Package peer runs the negotiation state machine of one tunnel session.
//
// A session consumes control operations from a stream, drives a
// transport.PeerConnection through offer/answer and trickled ICE, and hands
// the first opened data channel to the HTTP adapter. It ends with exactly
// one outcome: the adapter's result, a protocol error, a transport failure,
// or the watchdog deadline.
//
// All session state is owned by a single loop goroutine. Transport
// callbacks only post events to it; the candidate queue is the one piece of
// state they touch directly, under its own lock.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/observability"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/transport"
	"github.com/1ureka/gtpeer/internal/util"
)

// Role is the side of the negotiation a session plays.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// Result describes a finished session.
type Result struct {
	Outcome     Outcome
	Channel     string        // data channel name, if known
	StatusCode  int           // HTTP status of the relayed exchange, if any
	Negotiation time.Duration // time until the first data channel opened
}

// handler is the role-specific half of a session.
type handler interface {
	start(ctx context.Context) error
	handle(ctx context.Context, op signaling.Operation) error
	opened(dc transport.DataChannel) error
	relay(ctx context.Context, conn net.Conn) (int, error)
}

type event interface{ event() }

type stateChanged struct{ state webrtc.PeerConnectionState }
type channelOpened struct{ dc transport.DataChannel }
type relayFinished struct {
	status int
	err    error
}

func (stateChanged) event()  {}
func (channelOpened) event() {}
func (relayFinished) event() {}

type received struct {
	op  signaling.Operation
	err error
}

type session struct {
	role    Role
	tag     string
	factory transport.Factory
	timeout time.Duration

	enc *signaling.Encoder
	dec *signaling.Decoder

	pc            transport.PeerConnection
	state         webrtc.PeerConnectionState
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	conn          *adapter.Conn
	started       time.Time
	result        Result

	chMu     sync.Mutex
	channels []transport.DataChannel

	candidates *candidateQueue
	events     chan event
	done       chan struct{}
	closeOnce  sync.Once
}

func newSession(role Role, factory transport.Factory, stream io.ReadWriter, timeout time.Duration) *session {
	return &session{
		role:       role,
		tag:        string(role),
		factory:    factory,
		timeout:    timeout,
		enc:        signaling.NewEncoder(stream),
		dec:        signaling.NewDecoder(stream),
		state:      webrtc.PeerConnectionStateNew,
		candidates: newCandidateQueue(),
		events:     make(chan event, 8),
		done:       make(chan struct{}),
	}
}

func (s *session) setChannel(name string) {
	s.result.Channel = name
	s.tag = string(s.role) + " " + name
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// run drives the session to its outcome. The control stream is owned by
// the caller, who should close it once run returns.
func (s *session) run(ctx context.Context, h handler) (err error) {
	s.started = time.Now()
	util.Stats.AddSession()
	defer func() {
		s.teardown()
		s.report(err)
	}()

	wd := newWatchdog(s.timeout)
	defer wd.disarm()

	go s.candidates.run(s.send, s.done)

	ops := make(chan received)
	go s.receive(ops)

	if err := h.start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-wd.C():
			return ErrNoChannelInPeerConnectionTimeout

		case r := <-ops:
			if r.err != nil {
				if !errors.Is(r.err, signaling.ErrStreamClosed) {
					return r.err
				}
				if !s.remoteSet {
					return fmt.Errorf("%w: %w", ErrNegotiationFailed, r.err)
				}
				// Negotiation no longer needs the control stream.
				util.LogDebug("[%s] control stream closed", s.tag)
				ops = nil
				continue
			}
			observability.ControlMessagesTotal.WithLabelValues("received", string(r.op.Kind())).Inc()
			if err := h.handle(ctx, r.op); err != nil {
				return err
			}

		case ev := <-s.events:
			switch ev := ev.(type) {
			case stateChanged:
				if err := s.changeState(ev.state); err != nil {
					return err
				}

			case channelOpened:
				if s.conn != nil {
					util.LogDebug("[%s] ignoring additional data channel %q", s.tag, ev.dc.Label())
					continue
				}
				wd.disarm()
				if err := s.startRelay(ctx, h, ev.dc); err != nil {
					return err
				}

			case relayFinished:
				s.result.StatusCode = ev.status
				status := "none"
				if ev.status != 0 {
					status = strconv.Itoa(ev.status)
				}
				observability.RelayRequestsTotal.WithLabelValues(string(s.role), status).Inc()
				return ev.err
			}
		}
	}
}

func (s *session) receive(ops chan<- received) {
	for {
		op, err := s.dec.Receive()
		select {
		case ops <- received{op: op, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// post delivers an event to the loop, or drops it once the session is over.
func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *session) changeState(state webrtc.PeerConnectionState) error {
	s.state = state
	util.LogDebug("[%s] peer connection state: %s", s.tag, state)

	switch state {
	case webrtc.PeerConnectionStateFailed:
		return fmt.Errorf("%w: peer connection %s", ErrNegotiationFailed, state)
	case webrtc.PeerConnectionStateClosed:
		if s.conn != nil {
			// A running relay sees the closed channel through its conn.
			return nil
		}
		return fmt.Errorf("%w: peer connection %s", ErrNegotiationFailed, state)
	}
	return nil
}

func (s *session) startRelay(ctx context.Context, h handler, dc transport.DataChannel) error {
	s.result.Negotiation = time.Since(s.started)
	observability.NegotiationDurationSeconds.WithLabelValues(string(s.role)).Observe(s.result.Negotiation.Seconds())

	if err := h.opened(dc); err != nil {
		return err
	}

	rwc, err := dc.Detach()
	if err != nil {
		return fmt.Errorf("%w: detach data channel: %w", ErrNegotiationFailed, err)
	}

	s.conn = adapter.NewConn(rwc, string(s.role), dc.Label())
	util.LogInfo("[%s] data channel open after %s", s.tag, s.result.Negotiation.Round(time.Millisecond))

	go func(conn net.Conn) {
		status, err := h.relay(ctx, conn)
		s.post(relayFinished{status: status, err: err})
	}(s.conn)
	return nil
}

// teardown releases the data channels and the peer connection exactly once.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.conn != nil {
			s.conn.Close()
		}

		s.chMu.Lock()
		channels := s.channels
		s.channels = nil
		s.chMu.Unlock()
		for _, dc := range channels {
			dc.Close()
		}

		if s.pc != nil {
			if err := s.pc.Close(); err != nil {
				util.LogDebug("[%s] close peer connection: %v", s.tag, err)
			}
		}
	})
}

func (s *session) report(err error) {
	s.result.Outcome = Classify(err)
	observability.SessionsTotal.WithLabelValues(string(s.role), s.result.Outcome.String()).Inc()
	util.Stats.RemoveSession(err == nil)

	switch s.result.Outcome {
	case Success:
		util.LogSuccess("[%s] session finished with status %d", s.tag, s.result.StatusCode)
	case Canceled:
		util.LogInfo("[%s] session canceled", s.tag)
	default:
		util.LogError("[%s] session failed (%s): %v", s.tag, s.result.Outcome, err)
	}
}

// ---------------------------------------------------------------------------
// Transport plumbing
// ---------------------------------------------------------------------------

// send writes one operation to the peer.
func (s *session) send(op signaling.Operation) error {
	if err := s.enc.Send(op); err != nil {
		return err
	}
	observability.ControlMessagesTotal.WithLabelValues("sent", string(op.Kind())).Inc()
	return nil
}

// sendNegotiation is send for operations the negotiation cannot do without.
func (s *session) sendNegotiation(op signaling.Operation) error {
	if err := s.send(op); err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	return nil
}

// connect creates the peer connection and wires its callbacks to the loop.
func (s *session) connect(ice transport.ICEConfig) (transport.PeerConnection, error) {
	pc, err := s.factory.NewPeerConnection(ice)
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %w", ErrNegotiationFailed, err)
	}
	s.pc = pc

	pc.OnICECandidate(s.candidates.push)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(stateChanged{state: state})
	})
	pc.OnDataChannel(s.watchChannel)
	return pc, nil
}

// watchChannel tracks dc for teardown and reports when it opens.
func (s *session) watchChannel(dc transport.DataChannel) {
	s.chMu.Lock()
	select {
	case <-s.done:
		s.chMu.Unlock()
		dc.Close()
		return
	default:
	}
	s.channels = append(s.channels, dc)
	s.chMu.Unlock()

	dc.OnOpen(func() {
		s.post(channelOpened{dc: dc})
	})
}

// applyRemote sets the remote description and replays candidates that
// arrived before it.
func (s *session) applyRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", ErrNegotiationFailed, desc.Type, err)
	}
	s.remoteSet = true

	pending := s.pendingRemote
	s.pendingRemote = nil
	for _, c := range pending {
		s.addICECandidate(c)
	}
	return nil
}

// addRemoteCandidate handles a Candidate operation. The end-of-candidates
// marker is a no-op.
func (s *session) addRemoteCandidate(op signaling.Candidate) error {
	if op.IsEnd() {
		util.LogDebug("[%s] remote end of candidates", s.tag)
		return nil
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(op.Candidate), &init); err != nil {
		return fmt.Errorf("%w: candidate: %v", signaling.ErrMalformedMessage, err)
	}

	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, init)
		return nil
	}
	s.addICECandidate(init)
	return nil
}

func (s *session) addICECandidate(init webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(init); err != nil {
		util.LogWarning("[%s] skipping ICE candidate %q: %v", s.tag, init.Candidate, err)
	}
}
