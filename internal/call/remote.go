package call

import (
	"sync"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PlaybackSink receives the partner's media for local playback. gain is
// the effective playback volume in [0,1]: zero while deafened.
type PlaybackSink interface {
	WriteRTP(kind media.Kind, pkt *rtp.Packet, gain float64) error
}

// RTPStats counts inbound media per kind.
type RTPStats struct {
	TrackID string `json:"track_id"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// remoteMedia reads the partner's tracks and applies local playback gain.
type remoteMedia struct {
	sink PlaybackSink

	mu       sync.Mutex
	volume   float64
	deafened bool
	stats    map[media.Kind]*RTPStats
	video    webrtc.SSRC
	hasVideo bool
	closed   bool
}

func newRemoteMedia(sink PlaybackSink) *remoteMedia {
	return &remoteMedia{sink: sink, volume: 1, stats: make(map[media.Kind]*RTPStats)}
}

func kindOf(t webrtc.RTPCodecType) media.Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return media.KindAudio
	}
	return media.KindVideo
}

func codecTypeOf(k media.Kind) webrtc.RTPCodecType {
	if k == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// SetVolume clamps v to [0,1].
func (r *remoteMedia) SetVolume(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
	return v
}

func (r *remoteMedia) SetDeafened(on bool) {
	r.mu.Lock()
	r.deafened = on
	r.mu.Unlock()
}

func (r *remoteMedia) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// Gain is what audio is played at right now.
func (r *remoteMedia) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deafened {
		return 0
	}
	return r.volume
}

// VideoSSRC is the partner's current video stream, if any.
func (r *remoteMedia) VideoSSRC() (webrtc.SSRC, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.video, r.hasVideo
}

// consume reads t until it ends. Run it on its own goroutine.
func (r *remoteMedia) consume(t RemoteTrack) {
	kind := kindOf(t.Kind())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	st := &RTPStats{TrackID: t.ID()}
	r.stats[kind] = st
	if kind == media.KindVideo {
		r.video, r.hasVideo = t.SSRC(), true
	}
	r.mu.Unlock()

	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		st.Packets++
		st.Bytes += uint64(len(pkt.Payload))
		gain := 1.0
		if kind == media.KindAudio {
			gain = r.volume
			if r.deafened {
				gain = 0
			}
		}
		r.mu.Unlock()

		if r.sink != nil {
			_ = r.sink.WriteRTP(kind, pkt, gain)
		}
	}
}

func (r *remoteMedia) Stats() map[string]RTPStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RTPStats, len(r.stats))
	for k, v := range r.stats {
		out[string(k)] = *v
	}
	return out
}

func (r *remoteMedia) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
