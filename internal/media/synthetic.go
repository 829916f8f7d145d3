package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

const syntheticStream = "goopcall-synthetic"

var (
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Synthetic is a device set with no hardware behind it. Tracks are pion
// static-sample tracks that never write media. Failures can be injected per
// source, and every handed-out track is recorded so callers can check that
// each one was stopped.
type Synthetic struct {
	mu       sync.Mutex
	fail     map[Source]error
	acquired []*SyntheticTrack
	seq      atomic.Int64
}

func NewSynthetic() *Synthetic {
	return &Synthetic{fail: make(map[Source]error)}
}

// SetFailure makes the next acquisitions of source fail with err. A nil err
// clears the failure.
func (s *Synthetic) SetFailure(source Source, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, source)
		return
	}
	s.fail[source] = err
}

// Acquired returns every track handed out so far, oldest first.
func (s *Synthetic) Acquired() []*SyntheticTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SyntheticTrack, len(s.acquired))
	copy(out, s.acquired)
	return out
}

// Live returns acquired tracks that have not been stopped.
func (s *Synthetic) Live() []*SyntheticTrack {
	var out []*SyntheticTrack
	for _, t := range s.Acquired() {
		if !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}

func (s *Synthetic) Microphone(ctx context.Context) (Track, error) {
	return s.open(ctx, SourceMicrophone)
}

func (s *Synthetic) Camera(ctx context.Context) (Track, error) {
	return s.open(ctx, SourceCamera)
}

func (s *Synthetic) Screen(ctx context.Context) (Track, error) {
	return s.open(ctx, SourceScreen)
}

func (s *Synthetic) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (s *Synthetic) open(ctx context.Context, source Source) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	err := s.fail[source]
	s.mu.Unlock()
	if err != nil {
		return nil, sourceError(source, err)
	}

	capability := vp8Capability
	if source.Kind() == KindAudio {
		capability = opusCapability
	}
	id := fmt.Sprintf("%s-%d", source, s.seq.Add(1))
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, syntheticStream)
	if err != nil {
		return nil, sourceError(source, err)
	}

	t := &SyntheticTrack{local: local}
	t.init(id, source, func() { t.releases.Add(1) })

	s.mu.Lock()
	s.acquired = append(s.acquired, t)
	s.mu.Unlock()
	return t, nil
}

// SyntheticTrack is a Track returned by Synthetic.
type SyntheticTrack struct {
	trackState
	local    *webrtc.TrackLocalStaticSample
	releases atomic.Int32
}

func (t *SyntheticTrack) Local() webrtc.TrackLocal { return t.local }

// Releases counts how many times the underlying device was released. It is
// at most one for a correctly managed track.
func (t *SyntheticTrack) Releases() int { return int(t.releases.Load()) }

// EndFromHost simulates the capture being ended outside the application,
// such as the OS "stop sharing" control or an unplugged device.
func (t *SyntheticTrack) EndFromHost() { t.end() }
