package voice

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrMicrophoneUnavailable is returned when local audio capture cannot start
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Microphone opens the local audio source when voice starts
type Microphone interface {
	Open() (AudioSource, error)
}

// AudioSource is the local outbound audio
type AudioSource interface {
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Stop()
}

// Player starts playback of one remote participant's inbound track
type Player interface {
	Play(remoteID string, track *webrtc.TrackRemote) RemoteAudio
}

// RemoteAudio is a playing inbound track
type RemoteAudio interface {
	Stop()
}

// SampleMicrophone opens an Opus track fed by the embedding application
// through SampleSource.WriteSample. With Silence set the source writes Opus
// silence frames itself until it is stopped, for hosts without audio capture.
type SampleMicrophone struct {
	StreamID string
	Silence  bool
}

// FrameDuration is the packet time of written Opus frames
const FrameDuration = 20 * time.Millisecond

// opusSilence is a single Opus silence frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func (m SampleMicrophone) Open() (AudioSource, error) {
	streamID := m.StreamID
	if streamID == "" {
		streamID = "pwb"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	src := newSampleSource(track, track.WriteSample)
	if m.Silence {
		go src.feedSilence(FrameDuration)
	}
	return src, nil
}

// SampleSource gates written samples on the mute state
type SampleSource struct {
	track   webrtc.TrackLocal
	write   func(media.Sample) error
	enabled atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newSampleSource(track webrtc.TrackLocal, write func(media.Sample) error) *SampleSource {
	s := &SampleSource{track: track, write: write, done: make(chan struct{})}
	s.enabled.Store(true)
	return s
}

func (s *SampleSource) Track() webrtc.TrackLocal { return s.track }

func (s *SampleSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *SampleSource) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

// WriteSample forwards a sample unless the source is muted or stopped
func (s *SampleSource) WriteSample(sample media.Sample) error {
	if s.stopped.Load() || !s.enabled.Load() {
		return nil
	}
	return s.write(sample)
}

func (s *SampleSource) feedSilence(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// a track with no bound peers drops the sample, so errors here
			// only mean the peer went away
			_ = s.WriteSample(media.Sample{Data: opusSilence, Duration: interval})
		}
	}
}

// DrainPlayer reads inbound RTP and discards it, keeping the receiver
// flowing when there is no audio device to play to
type DrainPlayer struct{}

func (DrainPlayer) Play(remoteID string, track *webrtc.TrackRemote) RemoteAudio {
	a := &drainedAudio{}
	if track == nil {
		return a
	}
	go func() {
		buf := make([]byte, 1500)
		for !a.stopped.Load() {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
	return a
}

type drainedAudio struct {
	stopped atomic.Bool
}

func (a *drainedAudio) Stop() { a.stopped.Store(true) }
