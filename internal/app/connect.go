package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/peer"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/util"
)

// ConnectOptions selects how the offering side reaches its peer.
type ConnectOptions struct {
	// Local runs the answering side in-process over a pipe instead of
	// dialing the configured signal_url.
	Local bool
	// Output receives the response body. It is discarded when nil.
	Output io.Writer
}

// Connect runs one offering session:
//  1. Open the control stream (signal_url or an in-process answerer)
//  2. Push Config and GetOfferSDP, then negotiate the data channel
//  3. Issue the configured request over the channel
//  4. Report a single terminal outcome
func (r *Runtime) Connect(ctx context.Context, opts ConnectOptions) (peer.Result, error) {
	cfg := r.Config

	channel, err := ChannelName(cfg.Channel)
	if err != nil {
		return peer.Result{Outcome: peer.UnknownRoute}, err
	}

	// ── 1. Control stream ─────────────────────────────────────────────
	var (
		stream   io.ReadWriteCloser
		answered <-chan error
	)
	if opts.Local {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var remote io.ReadWriteCloser
		stream, remote = signaling.Pipe()
		answered = r.Loopback(lctx, remote)
		defer func() {
			// The answerer finishes once the peer connection goes away;
			// don't let a stalled one outlive the offer by much.
			select {
			case err := <-answered:
				logLoopback(err)
			case <-time.After(adapter.DefaultLinger):
				cancel()
				logLoopback(<-answered)
			}
		}()
	} else {
		if cfg.SignalURL == "" {
			return peer.Result{Outcome: peer.NegotiationFailed}, errors.New("signal_url is not configured")
		}
		util.LogInfo("connecting to signaling server %s", cfg.SignalURL)
		stream, err = signaling.Dial(ctx, cfg.SignalURL)
		if err != nil {
			return peer.Result{Outcome: peer.NegotiationFailed}, fmt.Errorf("%w: %w", peer.ErrNegotiationFailed, err)
		}
	}

	// ── 2-4. Offer, relay and outcome ─────────────────────────────────
	control := cfg.ControlConfig()
	res, err := peer.Offer(ctx, r.Factory, stream, peer.OfferOptions{
		Channel: channel,
		Config:  &control,
		ICE:     cfg.ICE(),
		Timeout: cfg.Timeout.Std(),
		Request: adapter.Requester{
			Method:       cfg.Request.Method,
			Path:         cfg.Request.Path,
			Host:         cfg.Request.Host,
			Header:       cfg.RequestHeader(),
			ExpectStatus: cfg.Request.ExpectStatus,
			Timeout:      cfg.RelayTimeout.Std(),
			Output:       opts.Output,
		},
	})
	stream.Close()

	return res, err
}

func logLoopback(err error) {
	if err != nil {
		util.LogDebug("local answerer: %v", err)
	}
}

// Loopback runs the answering side over stream in a goroutine and closes
// stream when it finishes. It starts with an empty route table: routes
// come from the Config the offering side pushes. The returned channel
// yields the session error.
func (r *Runtime) Loopback(ctx context.Context, stream io.ReadWriteCloser) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := peer.Answer(ctx, r.Factory, stream, r.answerOptions(nil))
		stream.Close()
		done <- err
	}()
	return done
}
