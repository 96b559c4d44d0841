// Package voice runs the client side of the full-mesh voice chat: one
// WebRTC peer connection per remote participant, negotiated through the
// server's voice-signal relay.
//
// Each remote participant moves through
//
//	absent -> negotiating (offerer or answerer) -> connected -> closed
//
// and at most one context exists per participant. Transport callbacks arrive
// on WebRTC goroutines, so records live under a mutex; teardown removes the
// record under the lock and releases its resources outside it, exactly once.
package voice

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/webrtc/v4"
)

const DefaultJoinDelay = 500 * time.Millisecond

// Role is which side of the negotiation this client plays
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// PeerState is the negotiation state of one remote participant
type PeerState int

const (
	StateNegotiating PeerState = iota
	StateConnected
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	}
	return "closed"
}

// TransportState is the connection state reported by a PeerConn
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

// PeerHandlers receive transport callbacks for one peer connection
type PeerHandlers struct {
	OnCandidate func(c webrtc.ICECandidateInit)
	OnState     func(s TransportState)
	OnTrack     func(track *webrtc.TrackRemote)
}

// PeerConn is one negotiated transport
type PeerConn interface {
	// CreateOffer creates an offer and applies it as the local description
	CreateOffer() (webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the applied answer
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddCandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory creates a transport for remoteID with local attached
type PeerFactory interface {
	NewPeer(remoteID string, local AudioSource, h PeerHandlers) (PeerConn, error)
}

type Options struct {
	Factory    PeerFactory
	Microphone Microphone
	Player     Player
	Signaler   Signaler

	// JoinDelay postpones the offer to a newly joined participant
	JoinDelay time.Duration
	// NegotiationTimeout tears down a context still negotiating after this
	// long. Zero disables it.
	NegotiationTimeout time.Duration

	Logger *log.Logger
}

type peer struct {
	id       string
	role     Role
	state    PeerState
	answered bool
	conn     PeerConn
	audio    RemoteAudio
	timer    *time.Timer
}

// Mesh manages every peer connection of the local participant
type Mesh struct {
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	active  bool
	muted   bool
	local   AudioSource
	peers   map[string]*peer
	pending map[string]*time.Timer
}

func NewMesh(opts Options) *Mesh {
	if opts.JoinDelay <= 0 {
		opts.JoinDelay = DefaultJoinDelay
	}
	if opts.Player == nil {
		opts.Player = DrainPlayer{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("Voice")
	}
	return &Mesh{
		opts:    opts,
		log:     opts.Logger,
		peers:   make(map[string]*peer),
		pending: make(map[string]*time.Timer),
	}
}

// Active reports whether voice is on
func (m *Mesh) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Muted reports whether local audio is muted
func (m *Mesh) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Peers returns a snapshot of the tracked participants and their states
func (m *Mesh) Peers() map[string]PeerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]PeerState, len(m.peers))
	for id, p := range m.peers {
		out[id] = p.state
	}
	return out
}

// Start opens the microphone and activates voice. It returns false, leaving
// voice inactive, when the microphone cannot be opened.
func (m *Mesh) Start() bool {
	if m.Active() {
		return true
	}

	src, err := m.opts.Microphone.Open()
	if err != nil {
		m.log.Warn("Microphone access denied", "err", err)
		return false
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		src.Stop()
		return true
	}
	m.active = true
	m.local = src
	src.SetEnabled(!m.muted)
	m.mu.Unlock()

	m.log.Info("Voice started")
	return true
}

// Stop tears down every peer connection and releases the microphone
func (m *Mesh) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	local := m.local
	m.local = nil
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
		p.state = StateClosed
	}
	m.peers = make(map[string]*peer)
	for id, t := range m.pending {
		t.Stop()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, p := range peers {
		release(p)
	}
	if local != nil {
		local.Stop()
	}
	m.log.Info("Voice stopped", "peers", len(peers))
}

// Toggle starts or stops voice and returns the new active state
func (m *Mesh) Toggle() bool {
	if m.Active() {
		m.Stop()
		return false
	}
	return m.Start()
}

// ToggleMute flips the local mute state and returns it. Without an open
// microphone it does nothing and returns false.
func (m *Mesh) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return false
	}
	m.muted = !m.muted
	m.local.SetEnabled(!m.muted)
	return m.muted
}

// UserJoined schedules an offer to a newly joined participant after the
// join delay, when voice is active and the participant is not tracked
func (m *Mesh) UserJoined(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.peers[id] != nil || m.pending[id] != nil {
		return
	}
	m.pending[id] = time.AfterFunc(m.opts.JoinDelay, func() { m.Connect(id) })
}

// UserLeft tears down any context for id
func (m *Mesh) UserLeft(id string) {
	m.mu.Lock()
	if t := m.pending[id]; t != nil {
		t.Stop()
		delete(m.pending, id)
	}
	p := m.peers[id]
	m.mu.Unlock()

	if p != nil {
		m.teardown(p, "user left")
	}
}

// Connect negotiates with id as offerer right away. It does nothing when
// voice is inactive or id is already tracked.
func (m *Mesh) Connect(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	if !m.active || m.local == nil || m.peers[id] != nil {
		m.mu.Unlock()
		return
	}
	p := &peer{id: id, role: RoleOfferer, state: StateNegotiating}
	m.peers[id] = p
	local := m.local
	m.mu.Unlock()

	conn, err := m.opts.Factory.NewPeer(id, local, m.handlers(p))
	if err != nil {
		m.log.Error("Error connecting to peer", "peer", id, "err", err)
		m.teardown(p, "create failed")
		return
	}
	if !m.attach(p, conn) {
		return
	}

	offer, err := conn.CreateOffer()
	if err != nil {
		m.log.Error("Failed to create offer", "peer", id, "err", err)
		m.teardown(p, "offer failed")
		return
	}
	m.send(id, Signal{Type: SignalOffer, SDP: &offer})
	m.armTimeout(p)
}

// HandleRaw decodes a relayed payload and applies it
func (m *Mesh) HandleRaw(from string, raw json.RawMessage) {
	sig, err := DecodeSignal(raw)
	if err != nil {
		m.log.Warn("Dropped voice signal", "from", from, "err", err)
		return
	}
	m.HandleSignal(from, sig)
}

// HandleSignal applies one negotiation step from a remote participant
func (m *Mesh) HandleSignal(from string, sig Signal) {
	switch sig.Type {
	case SignalOffer:
		if sig.SDP != nil {
			m.handleOffer(from, *sig.SDP)
		}
	case SignalAnswer:
		if sig.SDP != nil {
			m.handleAnswer(from, *sig.SDP)
		}
	case SignalCandidate:
		if sig.Candidate != nil {
			m.handleCandidate(from, *sig.Candidate)
		}
	default:
		m.log.Debug("Unknown voice signal", "from", from, "type", sig.Type)
	}
}

// autoJoin activates voice because a remote participant offered to talk
func (m *Mesh) autoJoin() bool {
	m.log.Info("Incoming voice offer, joining voice")
	return m.Start()
}

func (m *Mesh) handleOffer(from string, offer webrtc.SessionDescription) {
	m.mu.Lock()
	tracked := m.peers[from] != nil
	active := m.active
	m.mu.Unlock()

	if tracked {
		m.log.Debug("Ignoring offer from tracked peer", "peer", from)
		return
	}
	if !active && !m.autoJoin() {
		return
	}

	m.mu.Lock()
	if !m.active || m.local == nil || m.peers[from] != nil {
		m.mu.Unlock()
		return
	}
	if t := m.pending[from]; t != nil {
		t.Stop()
		delete(m.pending, from)
	}
	p := &peer{id: from, role: RoleAnswerer, state: StateNegotiating}
	m.peers[from] = p
	local := m.local
	m.mu.Unlock()

	conn, err := m.opts.Factory.NewPeer(from, local, m.handlers(p))
	if err != nil {
		m.log.Error("Error handling offer", "peer", from, "err", err)
		m.teardown(p, "create failed")
		return
	}
	if !m.attach(p, conn) {
		return
	}

	answer, err := conn.AcceptOffer(offer)
	if err != nil {
		m.log.Error("Failed to answer offer", "peer", from, "err", err)
		m.teardown(p, "answer failed")
		return
	}
	m.send(from, Signal{Type: SignalAnswer, SDP: &answer})
	m.armTimeout(p)
}

func (m *Mesh) handleAnswer(from string, answer webrtc.SessionDescription) {
	m.mu.Lock()
	p := m.peers[from]
	if p == nil || p.role != RoleOfferer || p.state != StateNegotiating || p.answered || p.conn == nil {
		m.mu.Unlock()
		return
	}
	p.answered = true
	conn := p.conn
	m.mu.Unlock()

	if err := conn.AcceptAnswer(answer); err != nil {
		m.log.Error("Failed to apply answer", "peer", from, "err", err)
		m.teardown(p, "answer rejected")
	}
}

func (m *Mesh) handleCandidate(from string, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	p := m.peers[from]
	var conn PeerConn
	if p != nil {
		conn = p.conn
	}
	m.mu.Unlock()

	if conn == nil {
		m.log.Debug("Dropped candidate for unknown peer", "peer", from)
		return
	}
	if err := conn.AddCandidate(c); err != nil {
		m.log.Warn("Failed to add candidate", "peer", from, "err", err)
	}
}

func (m *Mesh) handlers(p *peer) PeerHandlers {
	return PeerHandlers{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			if m.current(p) {
				m.send(p.id, Signal{Type: SignalCandidate, Candidate: &c})
			}
		},
		OnState: func(s TransportState) {
			switch s {
			case TransportConnected:
				m.mu.Lock()
				if m.peers[p.id] == p && p.state == StateNegotiating {
					p.state = StateConnected
					if p.timer != nil {
						p.timer.Stop()
						p.timer = nil
					}
					m.log.Info("Peer connected", "peer", p.id, "role", p.role)
				}
				m.mu.Unlock()
			case TransportDisconnected, TransportFailed, TransportClosed:
				m.teardown(p, "transport closed")
			}
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			audio := m.opts.Player.Play(p.id, track)
			m.mu.Lock()
			if m.peers[p.id] != p {
				m.mu.Unlock()
				audio.Stop()
				return
			}
			old := p.audio
			p.audio = audio
			m.mu.Unlock()
			if old != nil {
				old.Stop()
			}
		},
	}
}

func (m *Mesh) current(p *peer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[p.id] == p
}

// attach records conn on p. When p was torn down while conn was being
// created, conn is closed here instead.
func (m *Mesh) attach(p *peer, conn PeerConn) bool {
	m.mu.Lock()
	if m.peers[p.id] != p {
		m.mu.Unlock()
		conn.Close()
		return false
	}
	p.conn = conn
	m.mu.Unlock()
	return true
}

func (m *Mesh) armTimeout(p *peer) {
	if m.opts.NegotiationTimeout <= 0 {
		return
	}
	timer := time.AfterFunc(m.opts.NegotiationTimeout, func() {
		m.mu.Lock()
		stalled := m.peers[p.id] == p && p.state == StateNegotiating
		m.mu.Unlock()
		if stalled {
			m.teardown(p, "negotiation timed out")
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peers[p.id] != p || p.state != StateNegotiating {
		timer.Stop()
		return
	}
	p.timer = timer
}

// teardown removes p and releases its resources. Only the first call for a
// given record does anything.
func (m *Mesh) teardown(p *peer, reason string) {
	m.mu.Lock()
	if m.peers[p.id] != p {
		m.mu.Unlock()
		return
	}
	delete(m.peers, p.id)
	p.state = StateClosed
	m.mu.Unlock()

	release(p)
	m.log.Info("Peer removed", "peer", p.id, "reason", reason)
}

// release frees a record already removed from the mesh. Only the goroutine
// that removed it may call this.
func release(p *peer) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.audio != nil {
		p.audio.Stop()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func (m *Mesh) send(to string, sig Signal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		m.log.Error("Failed to encode voice signal", "err", err)
		return
	}
	if err := m.opts.Signaler.SendSignal(to, raw); err != nil {
		m.log.Warn("Failed to send voice signal", "to", to, "type", sig.Type, "err", err)
	}
}
