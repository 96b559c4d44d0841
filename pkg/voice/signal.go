package voice

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType names a negotiation step
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Signal is the payload carried opaquely by the server's voice-signal relay
type Signal struct {
	Type      SignalType                 `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// DecodeSignal parses a relayed payload
func DecodeSignal(raw json.RawMessage) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signal{}, fmt.Errorf("invalid voice signal: %w", err)
	}
	switch sig.Type {
	case SignalOffer, SignalAnswer:
		if sig.SDP == nil {
			return Signal{}, fmt.Errorf("invalid voice signal: %s without sdp", sig.Type)
		}
	case SignalCandidate:
		if sig.Candidate == nil {
			return Signal{}, fmt.Errorf("invalid voice signal: candidate without body")
		}
	default:
		return Signal{}, fmt.Errorf("invalid voice signal: unknown type %q", sig.Type)
	}
	return sig, nil
}

// Signaler delivers a payload to one remote participant
type Signaler interface {
	SendSignal(to string, signal json.RawMessage) error
}
