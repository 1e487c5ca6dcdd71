package peer

import (
	"context"
	"errors"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/route"
	"github.com/1ureka/gtpeer/internal/signaling"
)

var (
	// ErrUnexpectedMessage is returned for an operation that is invalid in
	// the session's current state or role.
	ErrUnexpectedMessage = errors.New("unexpected control message")

	// ErrNegotiationFailed is returned when the transport reports failure,
	// rejects a description, or the control stream ends mid-negotiation.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrNoChannelInPeerConnectionTimeout is returned when no data channel
	// opens before the session deadline.
	ErrNoChannelInPeerConnectionTimeout = errors.New("no data channel in peer connection before deadline")
)

// Outcome is the terminal classification of a session.
type Outcome int

const (
	Success Outcome = iota
	MalformedMessage
	UnexpectedMessage
	UnknownRoute
	NegotiationFailed
	NoChannelInPeerConnectionTimeout
	RelayFailed
	Canceled
)

var outcomeNames = [...]string{
	Success:                          "Success",
	MalformedMessage:                 "MalformedMessage",
	UnexpectedMessage:                "UnexpectedMessage",
	UnknownRoute:                     "UnknownRoute",
	NegotiationFailed:                "NegotiationFailed",
	NoChannelInPeerConnectionTimeout: "NoChannelInPeerConnectionTimeout",
	RelayFailed:                      "RelayFailed",
	Canceled:                         "Canceled",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "Unknown"
	}
	return outcomeNames[o]
}

// ExitCode maps an outcome to a process exit status. Failures start at 11
// so they stay clear of the low codes used for usage errors.
func (o Outcome) ExitCode() int {
	switch o {
	case Success:
		return 0
	case Canceled:
		return 130
	default:
		return 10 + int(o)
	}
}

// Classify returns the outcome a session error stands for. Errors that
// match no known class are reported as NegotiationFailed.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, ErrNoChannelInPeerConnectionTimeout):
		return NoChannelInPeerConnectionTimeout
	case errors.Is(err, adapter.ErrRelayFailed):
		return RelayFailed
	case errors.Is(err, signaling.ErrMalformedMessage):
		return MalformedMessage
	case errors.Is(err, ErrUnexpectedMessage):
		return UnexpectedMessage
	case errors.Is(err, route.ErrUnknownRoute), errors.Is(err, route.ErrInvalidChannelName):
		return UnknownRoute
	default:
		return NegotiationFailed
	}
}
