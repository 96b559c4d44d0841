package voice

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// PionFactory creates peer connections on pion/webrtc
type PionFactory struct {
	config webrtc.Configuration
}

// NewPionFactory builds a factory using the STUN/TURN servers returned by
// GET /api/ice-servers
func NewPionFactory(servers []models.ICEServer) *PionFactory {
	ice := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		ice = append(ice, srv)
	}
	return &PionFactory{config: webrtc.Configuration{ICEServers: ice}}
}

func (f *PionFactory) NewPeer(remoteID string, local AudioSource, h PeerHandlers) (PeerConn, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection for %s: %w", remoteID, err)
	}

	if local != nil {
		if _, err := pc.AddTrack(local.Track()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		h.OnCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if h.OnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			h.OnState(TransportConnected)
		case webrtc.PeerConnectionStateDisconnected:
			h.OnState(TransportDisconnected)
		case webrtc.PeerConnectionStateFailed:
			h.OnState(TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			h.OnState(TransportClosed)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio || h.OnTrack == nil {
			return
		}
		h.OnTrack(track)
	})

	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *pionPeer) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *pionPeer) AcceptAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddCandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
