package peer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/route"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/transport"
	"github.com/1ureka/gtpeer/internal/util"
)

// AnswerOptions configures the answering side of a session.
type AnswerOptions struct {
	// Routes resolves channel names unless a Config operation carrying
	// routes replaces it.
	Routes *route.Table
	// ICE is used unless a Config operation carries STUN servers.
	ICE transport.ICEConfig
	// RequireConfig rejects an offer that arrives before any Config.
	RequireConfig bool
	// Timeout bounds the time until a data channel opens.
	Timeout time.Duration
	// Forwarder serves the request arriving on the data channel. A
	// Forwarder with default settings is used when nil.
	Forwarder *adapter.Forwarder
}

type answerer struct {
	s    *session
	opts AnswerOptions

	routes     *route.Table
	ice        transport.ICEConfig
	configured bool
	offered    bool
	channel    string
	origin     *url.URL
}

// Answer runs the answering side of a session over stream: it applies the
// peer's Config, answers its offer and forwards the request arriving on
// the resulting data channel to the routed origin.
// The caller owns stream and should close it after Answer returns.
func Answer(ctx context.Context, factory transport.Factory, stream io.ReadWriter, opts AnswerOptions) (Result, error) {
	if opts.Forwarder == nil {
		opts.Forwarder = adapter.NewForwarder(0)
	}
	s := newSession(RoleAnswerer, factory, stream, opts.Timeout)

	err := s.run(ctx, &answerer{s: s, opts: opts, routes: opts.Routes, ice: opts.ICE})
	return s.result, err
}

func (a *answerer) start(ctx context.Context) error { return nil }

func (a *answerer) handle(ctx context.Context, op signaling.Operation) error {
	s := a.s

	switch op := op.(type) {
	case signaling.Config:
		if a.offered {
			return fmt.Errorf("%w: Config after OfferSDP", ErrUnexpectedMessage)
		}
		if a.configured {
			return fmt.Errorf("%w: duplicate Config", ErrUnexpectedMessage)
		}
		a.configured = true
		if len(op.HTTPRoutes) > 0 {
			table, err := route.NewTable(op.HTTPRoutes)
			if err != nil {
				return fmt.Errorf("%w: %v", signaling.ErrMalformedMessage, err)
			}
			a.routes = table
		}
		if op.StunServers != nil {
			a.ice = transport.NewICEConfig(op.StunServers)
		}
		util.LogDebug("[%s] config applied: %d routes, %d STUN servers", s.tag, a.routes.Len(), len(a.ice.StunServers))
		return nil

	case signaling.GetOfferSDP:
		if a.offered {
			return fmt.Errorf("%w: GetOfferSDP after OfferSDP", ErrUnexpectedMessage)
		}
		if a.origin != nil {
			return fmt.Errorf("%w: duplicate GetOfferSDP", ErrUnexpectedMessage)
		}
		// Resolved now so an unknown route fails before any SDP is produced.
		origin, _, err := a.routes.Resolve(op.ChannelName)
		if err != nil {
			util.LogWarning("[%s] rejecting channel %q: %v", s.tag, op.ChannelName, err)
			return err
		}
		a.origin = origin
		a.channel = op.ChannelName
		s.setChannel(op.ChannelName)
		return nil

	case signaling.OfferSDP:
		if a.offered {
			return fmt.Errorf("%w: duplicate OfferSDP", ErrUnexpectedMessage)
		}
		if a.opts.RequireConfig && !a.configured {
			return fmt.Errorf("%w: OfferSDP before Config", ErrUnexpectedMessage)
		}
		a.offered = true
		return a.answer(op)

	case signaling.Candidate:
		return s.addRemoteCandidate(op)

	default:
		return fmt.Errorf("%w: %s is not accepted by the answering side", ErrUnexpectedMessage, op.Kind())
	}
}

func (a *answerer) answer(op signaling.OfferSDP) error {
	s := a.s

	offer, err := op.Description()
	if err != nil {
		return err
	}

	pc, err := s.connect(a.ice)
	if err != nil {
		return err
	}
	if err := s.applyRemote(offer); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", ErrNegotiationFailed, err)
	}
	reply, err := signaling.NewAnswerSDP(answer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if err := s.sendNegotiation(reply); err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %w", ErrNegotiationFailed, err)
	}
	s.candidates.release()
	return nil
}

// opened resolves the route from the channel label when no GetOfferSDP
// named it.
func (a *answerer) opened(dc transport.DataChannel) error {
	if a.origin != nil {
		if dc.Label() != a.channel {
			util.LogDebug("[%s] channel label %q differs from requested %q", a.s.tag, dc.Label(), a.channel)
		}
		return nil
	}

	origin, _, err := a.routes.Resolve(dc.Label())
	if err != nil {
		util.LogWarning("[%s] rejecting channel %q: %v", a.s.tag, dc.Label(), err)
		return err
	}
	a.origin = origin
	a.channel = dc.Label()
	a.s.setChannel(dc.Label())
	return nil
}

func (a *answerer) relay(ctx context.Context, conn net.Conn) (int, error) {
	return a.opts.Forwarder.Serve(ctx, conn, a.origin)
}
