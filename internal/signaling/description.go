package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// NewOfferSDP serializes an offer for the wire.
func NewOfferSDP(desc webrtc.SessionDescription) (OfferSDP, error) {
	payload, err := encodeDescription(desc, webrtc.SDPTypeOffer)
	return OfferSDP{SDP: payload}, err
}

// NewAnswerSDP serializes an answer for the wire.
func NewAnswerSDP(desc webrtc.SessionDescription) (AnswerSDP, error) {
	payload, err := encodeDescription(desc, webrtc.SDPTypeAnswer)
	return AnswerSDP{SDP: payload}, err
}

// Description parses the offer. A payload that is not a JSON offer wraps
// ErrMalformedMessage.
func (o OfferSDP) Description() (webrtc.SessionDescription, error) {
	return decodeDescription(KindOfferSDP, o.SDP, webrtc.SDPTypeOffer)
}

// Description parses the answer. A payload that is not a JSON answer wraps
// ErrMalformedMessage.
func (a AnswerSDP) Description() (webrtc.SessionDescription, error) {
	return decodeDescription(KindAnswerSDP, a.SDP, webrtc.SDPTypeAnswer)
}

func encodeDescription(desc webrtc.SessionDescription, want webrtc.SDPType) (string, error) {
	if desc.Type != want {
		return "", fmt.Errorf("encode session description: type %s, want %s", desc.Type, want)
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode session description: %w", err)
	}
	return string(data), nil
}

func decodeDescription(kind Kind, payload string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, kind, err)
	}
	if desc.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries a %s description", ErrMalformedMessage, kind, desc.Type)
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s has an empty sdp", ErrMalformedMessage, kind)
	}
	return desc, nil
}
