package voice

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentSignal struct {
	to  string
	sig Signal
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (s *fakeSignaler) SendSignal(to string, raw json.RawMessage) error {
	sig, err := DecodeSignal(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSignal{to: to, sig: sig})
	return nil
}

func (s *fakeSignaler) all() []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSignal(nil), s.sent...)
}

type fakePeer struct {
	mu         sync.Mutex
	handlers   PeerHandlers
	closes     int
	answers    int
	candidates []webrtc.ICECandidateInit
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) AcceptOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) AcceptAnswer(webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return nil
}

func (p *fakePeer) AddCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeFactory struct {
	mu    sync.Mutex
	peers map[string][]*fakePeer
}

func (f *fakeFactory) NewPeer(remoteID string, _ AudioSource, h PeerHandlers) (PeerConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peers == nil {
		f.peers = make(map[string][]*fakePeer)
	}
	p := &fakePeer{handlers: h}
	f.peers[remoteID] = append(f.peers[remoteID], p)
	return p, nil
}

func (f *fakeFactory) last(id string) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.peers[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (f *fakeFactory) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers[id])
}

type fakeSource struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (s *fakeSource) Track() webrtc.TrackLocal { return nil }

func (s *fakeSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

type fakeMic struct {
	err    error
	source *fakeSource
}

func (m *fakeMic) Open() (AudioSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.source = &fakeSource{}
	return m.source, nil
}

type fakeAudio struct {
	mu      sync.Mutex
	stopped bool
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

func (a *fakeAudio) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type fakePlayer struct {
	mu     sync.Mutex
	played []*fakeAudio
}

func (p *fakePlayer) Play(string, *webrtc.TrackRemote) RemoteAudio {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &fakeAudio{}
	p.played = append(p.played, a)
	return a
}

type harness struct {
	mesh    *Mesh
	factory *fakeFactory
	signals *fakeSignaler
	mic     *fakeMic
	player  *fakePlayer
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		factory: &fakeFactory{},
		signals: &fakeSignaler{},
		mic:     &fakeMic{},
		player:  &fakePlayer{},
	}
	opts := Options{
		Factory:    h.factory,
		Microphone: h.mic,
		Player:     h.player,
		Signaler:   h.signals,
		JoinDelay:  10 * time.Millisecond,
		Logger:     log.New(io.Discard),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.mesh = NewMesh(opts)
	t.Cleanup(h.mesh.Stop)
	return h
}

func offer() Signal {
	return Signal{Type: SignalOffer, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote"}}
}

func answer() Signal {
	return Signal{Type: SignalAnswer, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote"}}
}

func candidate() Signal {
	c := "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"
	return Signal{Type: SignalCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: c}}
}

func TestStartAndToggle(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.mesh.Active())
	assert.True(t, h.mesh.Toggle())
	assert.True(t, h.mesh.Active())
	require.NotNil(t, h.mic.source)

	assert.False(t, h.mesh.Toggle())
	assert.False(t, h.mesh.Active())
	assert.True(t, h.mic.source.stopped)
}

func TestStartMicrophoneDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.mic.err = errors.New("permission denied")

	assert.False(t, h.mesh.Start())
	assert.False(t, h.mesh.Active())

	h.mesh.UserJoined("b")
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, h.factory.count("b"))
}

func TestOfferToNewlyJoinedUser(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.JoinDelay = 30 * time.Millisecond })
	require.True(t, h.mesh.Start())

	h.mesh.UserJoined("b")
	assert.Empty(t, h.signals.all(), "offer waits for the join delay")

	require.Eventually(t, func() bool { return len(h.signals.all()) == 1 }, time.Second, 5*time.Millisecond)
	sent := h.signals.all()[0]
	assert.Equal(t, "b", sent.to)
	assert.Equal(t, SignalOffer, sent.sig.Type)
	assert.Equal(t, map[string]PeerState{"b": StateNegotiating}, h.mesh.Peers())

	h.mesh.HandleSignal("b", answer())
	p := h.factory.last("b")
	assert.Equal(t, 1, p.answers)

	p.handlers.OnState(TransportConnected)
	assert.Equal(t, map[string]PeerState{"b": StateConnected}, h.mesh.Peers())

	// a second answer is ignored once connected
	h.mesh.HandleSignal("b", answer())
	assert.Equal(t, 1, p.answers)
}

func TestUserJoinedWhileInactive(t *testing.T) {
	h := newHarness(t, nil)

	h.mesh.UserJoined("b")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.signals.all())
	assert.Empty(t, h.mesh.Peers())
}

func TestLeaveDuringNegotiation(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.Connect("b")
	p := h.factory.last("b")
	require.NotNil(t, p)

	h.mesh.UserLeft("b")
	assert.Empty(t, h.mesh.Peers())
	assert.Equal(t, 1, p.closeCount())

	// late transport callbacks for the old context change nothing
	p.handlers.OnState(TransportFailed)
	p.handlers.OnState(TransportConnected)
	assert.Equal(t, 1, p.closeCount())
	assert.Empty(t, h.mesh.Peers())

	// a late answer is ignored
	h.mesh.HandleSignal("b", answer())
	assert.Zero(t, p.answers)
}

func TestUserLeftCancelsPendingOffer(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.JoinDelay = 20 * time.Millisecond })
	require.True(t, h.mesh.Start())

	h.mesh.UserJoined("b")
	h.mesh.UserLeft("b")
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, h.factory.count("b"))
	assert.Empty(t, h.signals.all())
}

func TestOfferAutoJoins(t *testing.T) {
	h := newHarness(t, nil)
	require.False(t, h.mesh.Active())

	h.mesh.HandleSignal("a", offer())

	assert.True(t, h.mesh.Active())
	assert.Equal(t, map[string]PeerState{"a": StateNegotiating}, h.mesh.Peers())

	sent := h.signals.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "a", sent[0].to)
	assert.Equal(t, SignalAnswer, sent[0].sig.Type)
}

func TestOfferAutoJoinDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.mic.err = errors.New("no device")

	h.mesh.HandleSignal("a", offer())

	assert.False(t, h.mesh.Active())
	assert.Empty(t, h.mesh.Peers())
	assert.Empty(t, h.signals.all())
}

func TestDuplicateOfferIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.HandleSignal("a", offer())
	h.mesh.HandleSignal("a", offer())

	assert.Equal(t, 1, h.factory.count("a"))
	assert.Len(t, h.signals.all(), 1)
}

func TestAnswerToAnswererIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.HandleSignal("a", offer())
	h.mesh.HandleSignal("a", answer())

	assert.Zero(t, h.factory.last("a").answers)
}

func TestCandidates(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	// dropped: no context yet
	h.mesh.HandleSignal("a", candidate())
	assert.Zero(t, h.factory.count("a"))

	h.mesh.HandleSignal("a", offer())
	h.mesh.HandleSignal("a", candidate())
	p := h.factory.last("a")
	require.Len(t, p.candidates, 1)

	// local candidates are relayed
	p.handlers.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	sent := h.signals.all()
	require.Len(t, sent, 2)
	assert.Equal(t, SignalCandidate, sent[1].sig.Type)
	assert.Equal(t, "candidate:2", sent[1].sig.Candidate.Candidate)
}

func TestTransportFailureTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.Connect("b")
	p := h.factory.last("b")
	p.handlers.OnTrack(nil)
	require.Len(t, h.player.played, 1)

	p.handlers.OnState(TransportFailed)

	assert.Empty(t, h.mesh.Peers())
	assert.Equal(t, 1, p.closeCount())
	assert.True(t, h.player.played[0].isStopped())

	// the participant can be dialed again
	h.mesh.Connect("b")
	assert.Equal(t, 2, h.factory.count("b"))
}

func TestTrackForRemovedPeerIsStopped(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.Connect("b")
	p := h.factory.last("b")
	h.mesh.UserLeft("b")

	p.handlers.OnTrack(nil)
	require.Len(t, h.player.played, 1)
	assert.True(t, h.player.played[0].isStopped())
}

func TestNegotiationTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NegotiationTimeout = 20 * time.Millisecond })
	require.True(t, h.mesh.Start())

	h.mesh.Connect("b")
	h.mesh.Connect("c")
	h.factory.last("c").handlers.OnState(TransportConnected)

	require.Eventually(t, func() bool {
		_, ok := h.mesh.Peers()["b"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.factory.last("b").closeCount())
	assert.Equal(t, map[string]PeerState{"c": StateConnected}, h.mesh.Peers())
}

func TestStopClearsEverything(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.JoinDelay = 20 * time.Millisecond })
	require.True(t, h.mesh.Start())

	h.mesh.Connect("b")
	h.mesh.HandleSignal("c", offer())
	h.mesh.UserJoined("d")

	h.mesh.Stop()

	assert.False(t, h.mesh.Active())
	assert.Empty(t, h.mesh.Peers())
	assert.Equal(t, 1, h.factory.last("b").closeCount())
	assert.Equal(t, 1, h.factory.last("c").closeCount())
	assert.True(t, h.mic.source.stopped)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.factory.count("d"))

	// callbacks after stop are no-ops
	h.factory.last("b").handlers.OnState(TransportClosed)
	assert.Equal(t, 1, h.factory.last("b").closeCount())
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.mesh.ToggleMute(), "no microphone open")

	require.True(t, h.mesh.Start())
	assert.True(t, h.mesh.ToggleMute())
	assert.True(t, h.mesh.Muted())
	assert.False(t, h.mic.source.enabled)

	assert.False(t, h.mesh.ToggleMute())
	assert.True(t, h.mic.source.enabled)
}

func TestHandleRaw(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.mesh.Start())

	h.mesh.HandleRaw("a", json.RawMessage(`{"type":"bogus"}`))
	h.mesh.HandleRaw("a", json.RawMessage(`not json`))
	assert.Empty(t, h.mesh.Peers())

	raw, err := json.Marshal(offer())
	require.NoError(t, err)
	h.mesh.HandleRaw("a", raw)
	assert.Contains(t, h.mesh.Peers(), "a")
}

func TestDecodeSignal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"offer", `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`, false},
		{"candidate", `{"type":"candidate","candidate":{"candidate":"c"}}`, false},
		{"offer without sdp", `{"type":"offer"}`, true},
		{"candidate without body", `{"type":"candidate"}`, true},
		{"unknown", `{"type":"hello"}`, true},
		{"garbage", `[`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignal(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPionFactory(t *testing.T) {
	f := NewPionFactory(nil)
	assert.Empty(t, f.config.ICEServers)
}
