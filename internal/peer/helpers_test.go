package peer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/transport"
)

func offerOp(sdp string) signaling.OfferSDP {
	op, err := signaling.NewOfferSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		panic(err)
	}
	return op
}

func answerOp(sdp string) signaling.AnswerSDP {
	op, err := signaling.NewAnswerSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		panic(err)
	}
	return op
}

// scriptedPeer plays the remote side of the control stream by hand.
type scriptedPeer struct {
	t      *testing.T
	stream io.ReadWriteCloser // handed to the session under test
	remote io.ReadWriteCloser
	enc    *signaling.Encoder

	mu   sync.Mutex
	cond *sync.Cond
	ops  []signaling.Operation
	done bool
}

func newScriptedPeer(t *testing.T) *scriptedPeer {
	stream, remote := signaling.Pipe()
	p := &scriptedPeer{t: t, stream: stream, remote: remote, enc: signaling.NewEncoder(remote)}
	p.cond = sync.NewCond(&p.mu)

	go func() {
		dec := signaling.NewDecoder(remote)
		for {
			op, err := dec.Receive()
			if errors.Is(err, signaling.ErrMalformedMessage) {
				continue
			}
			p.mu.Lock()
			if err != nil {
				p.done = true
				p.cond.Broadcast()
				p.mu.Unlock()
				return
			}
			p.ops = append(p.ops, op)
			p.cond.Broadcast()
			p.mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		remote.Close()
		stream.Close()
	})
	return p
}

func (p *scriptedPeer) offer(factory transport.Factory, opts OfferOptions) <-chan sessionResult {
	done := make(chan sessionResult, 1)
	go func() {
		res, err := Offer(context.Background(), factory, p.stream, opts)
		p.stream.Close()
		done <- sessionResult{res, err}
	}()
	return done
}

func (p *scriptedPeer) answer(factory transport.Factory, opts AnswerOptions) <-chan sessionResult {
	done := make(chan sessionResult, 1)
	go func() {
		res, err := Answer(context.Background(), factory, p.stream, opts)
		p.stream.Close()
		done <- sessionResult{res, err}
	}()
	return done
}

func (p *scriptedPeer) send(op signaling.Operation) {
	p.t.Helper()
	if err := p.enc.Send(op); err != nil && !errors.Is(err, signaling.ErrStreamClosed) {
		p.t.Fatalf("send %s: %v", op.Kind(), err)
	}
}

func (p *scriptedPeer) sendRaw(line string) {
	_, _ = p.remote.Write([]byte(line))
}

func (p *scriptedPeer) close() { p.remote.Close() }

// waitFor blocks until an operation of kind has been received.
func (p *scriptedPeer) waitFor(kind signaling.Kind) signaling.Operation {
	p.t.Helper()

	found := make(chan signaling.Operation, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for {
			for _, op := range p.ops {
				if op.Kind() == kind {
					found <- op
					return
				}
			}
			if p.done {
				found <- nil
				return
			}
			p.cond.Wait()
		}
	}()

	select {
	case op := <-found:
		if op == nil {
			p.t.Fatalf("stream ended before %s", kind)
		}
		return op
	case <-time.After(5 * time.Second):
		p.t.Fatalf("timed out waiting for %s", kind)
		return nil
	}
}

// drain waits for the stream to end and returns everything received.
func (p *scriptedPeer) drain() []signaling.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.done {
		p.cond.Wait()
	}
	return append([]signaling.Operation(nil), p.ops...)
}
