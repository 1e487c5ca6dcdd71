// Package signaling implements the control stream that bootstraps a tunnel:
// newline-delimited JSON operations exchanged between the offering and the
// answering side over any reliable byte stream (WebSocket, stdio, a pipe).
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage is returned for a line that is not a well-formed
	// operation: invalid JSON, an unknown "type", or a missing field.
	ErrMalformedMessage = errors.New("malformed control message")

	// ErrStreamClosed is returned when the underlying stream ends.
	ErrStreamClosed = errors.New("control stream closed")
)

// Kind is the wire discriminant of an operation.
type Kind string

const (
	KindConfig      Kind = "Config"
	KindGetOfferSDP Kind = "GetOfferSDP"
	KindOfferSDP    Kind = "OfferSDP"
	KindAnswerSDP   Kind = "AnswerSDP"
	KindCandidate   Kind = "Candidate"
)

// Operation is one control message. The set of implementations is closed:
// Config, GetOfferSDP, OfferSDP, AnswerSDP and Candidate.
type Operation interface {
	Kind() Kind
	operation()
}

// Config carries the parameters the answering side needs before it can
// accept an offer.
type Config struct {
	StunServers []string          `json:"stun_servers"`
	HTTPRoutes  map[string]string `json:"http_routes"`
}

// GetOfferSDP names the data channel the offering side is about to open.
type GetOfferSDP struct {
	ChannelName string `json:"channel_name"`
}

// OfferSDP carries an offer. SDP is the session description serialized as
// JSON, e.g. {"type":"offer","sdp":"v=0..."}; see NewOfferSDP.
type OfferSDP struct {
	SDP string `json:"sdp"`
}

// AnswerSDP carries an answer, serialized like OfferSDP.
type AnswerSDP struct {
	SDP string `json:"sdp"`
}

// Candidate carries one ICE candidate, serialized as JSON. The empty string
// marks the end of candidates.
type Candidate struct {
	Candidate string `json:"candidate"`
}

// IsEnd reports whether c is the end-of-candidates marker.
func (c Candidate) IsEnd() bool { return c.Candidate == "" }

func (Config) Kind() Kind      { return KindConfig }
func (GetOfferSDP) Kind() Kind { return KindGetOfferSDP }
func (OfferSDP) Kind() Kind    { return KindOfferSDP }
func (AnswerSDP) Kind() Kind   { return KindAnswerSDP }
func (Candidate) Kind() Kind   { return KindCandidate }

func (Config) operation()      {}
func (GetOfferSDP) operation() {}
func (OfferSDP) operation()    {}
func (AnswerSDP) operation()   {}
func (Candidate) operation()   {}

// envelope is the flat wire form of every operation.
type envelope struct {
	Type        Kind              `json:"type"`
	StunServers []string          `json:"stun_servers,omitempty"`
	HTTPRoutes  map[string]string `json:"http_routes,omitempty"`
	ChannelName *string           `json:"channel_name,omitempty"`
	SDP         *string           `json:"sdp,omitempty"`
	Candidate   *string           `json:"candidate,omitempty"`
}

// Encode returns the wire form of op: a single JSON object followed by '\n'.
func Encode(op Operation) ([]byte, error) {
	env := envelope{Type: op.Kind()}

	switch op := op.(type) {
	case Config:
		env.StunServers = op.StunServers
		env.HTTPRoutes = op.HTTPRoutes
	case GetOfferSDP:
		env.ChannelName = &op.ChannelName
	case OfferSDP:
		env.SDP = &op.SDP
	case AnswerSDP:
		env.SDP = &op.SDP
	case Candidate:
		env.Candidate = &op.Candidate
	default:
		return nil, fmt.Errorf("encode: unsupported operation %T", op)
	}

	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return append(line, '\n'), nil
}

// Decode parses one line (with or without its trailing newline) into an
// Operation. Every failure wraps ErrMalformedMessage.
func Decode(line []byte) (Operation, error) {
	line = bytes.TrimRight(line, "\r\n")

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case KindConfig:
		return Config{StunServers: env.StunServers, HTTPRoutes: env.HTTPRoutes}, nil
	case KindGetOfferSDP:
		if env.ChannelName == nil {
			return nil, missingField(env.Type, "channel_name")
		}
		return GetOfferSDP{ChannelName: *env.ChannelName}, nil
	case KindOfferSDP:
		if env.SDP == nil {
			return nil, missingField(env.Type, "sdp")
		}
		return OfferSDP{SDP: *env.SDP}, nil
	case KindAnswerSDP:
		if env.SDP == nil {
			return nil, missingField(env.Type, "sdp")
		}
		return AnswerSDP{SDP: *env.SDP}, nil
	case KindCandidate:
		if env.Candidate == nil {
			return nil, missingField(env.Type, "candidate")
		}
		return Candidate{Candidate: *env.Candidate}, nil
	case "":
		return nil, fmt.Errorf("%w: missing \"type\"", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

func missingField(kind Kind, field string) error {
	return fmt.Errorf("%w: %s without %q", ErrMalformedMessage, kind, field)
}
