package peer

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/route"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/transport"
)

// OfferOptions configures the offering side of a session.
type OfferOptions struct {
	// Channel is the data channel name, "<route_key>/<session_token>".
	Channel string
	// Config, when set, is pushed to the answering side before anything
	// else. If it carries routes, Channel is checked against them before
	// an offer is generated.
	Config *signaling.Config
	ICE    transport.ICEConfig
	// Timeout bounds the time until the data channel opens.
	Timeout time.Duration
	// Request is issued over the data channel once it opens.
	Request adapter.Requester
}

type offerer struct {
	s        *session
	opts     OfferOptions
	answered bool
}

// Offer runs the offering side of a session over stream: it opens a data
// channel named opts.Channel, negotiates it and performs opts.Request.
// The caller owns stream and should close it after Offer returns.
func Offer(ctx context.Context, factory transport.Factory, stream io.ReadWriter, opts OfferOptions) (Result, error) {
	s := newSession(RoleOfferer, factory, stream, opts.Timeout)
	s.setChannel(opts.Channel)

	err := s.run(ctx, &offerer{s: s, opts: opts})
	return s.result, err
}

func (o *offerer) start(ctx context.Context) error {
	s := o.s

	name, err := route.ParseChannelName(o.opts.Channel)
	if err != nil {
		return err
	}
	if o.opts.Config != nil && len(o.opts.Config.HTTPRoutes) > 0 {
		table, err := route.NewTable(o.opts.Config.HTTPRoutes)
		if err != nil {
			return fmt.Errorf("config routes: %w", err)
		}
		if _, err := table.Lookup(name.RouteKey); err != nil {
			return err
		}
	}

	pc, err := s.connect(o.opts.ICE)
	if err != nil {
		return err
	}

	// ── 1. Parameters and channel request ──────────────────────────────
	if o.opts.Config != nil {
		if err := s.sendNegotiation(*o.opts.Config); err != nil {
			return err
		}
	}
	if err := s.sendNegotiation(signaling.GetOfferSDP{ChannelName: o.opts.Channel}); err != nil {
		return err
	}

	// ── 2. Data channel ────────────────────────────────────────────────
	dc, err := pc.CreateDataChannel(o.opts.Channel)
	if err != nil {
		return fmt.Errorf("%w: create data channel: %w", ErrNegotiationFailed, err)
	}
	s.watchChannel(dc)

	// ── 3. Offer, then trickle ─────────────────────────────────────────
	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", ErrNegotiationFailed, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %w", ErrNegotiationFailed, err)
	}
	op, err := signaling.NewOfferSDP(offer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if err := s.sendNegotiation(op); err != nil {
		return err
	}
	s.candidates.release()
	return nil
}

func (o *offerer) handle(ctx context.Context, op signaling.Operation) error {
	switch op := op.(type) {
	case signaling.AnswerSDP:
		if o.answered {
			return fmt.Errorf("%w: duplicate AnswerSDP", ErrUnexpectedMessage)
		}
		o.answered = true
		desc, err := op.Description()
		if err != nil {
			return err
		}
		return o.s.applyRemote(desc)

	case signaling.Candidate:
		return o.s.addRemoteCandidate(op)

	default:
		return fmt.Errorf("%w: %s is not accepted by the offering side", ErrUnexpectedMessage, op.Kind())
	}
}

func (o *offerer) opened(dc transport.DataChannel) error { return nil }

func (o *offerer) relay(ctx context.Context, conn net.Conn) (int, error) {
	return o.opts.Request.Do(ctx, conn)
}
