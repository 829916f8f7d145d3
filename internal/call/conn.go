package call

import (
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Sender is the outbound slot for one media kind.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// RemoteTrack is an inbound track from the partner.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Conn is the subset of a WebRTC peer connection the call layer drives.
// Callbacks may fire on any goroutine.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	// AddReceiver adds a receive-only transceiver so the next offer carries
	// an m-line the partner can send kind on.
	AddReceiver(kind media.Kind) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(c webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	// PendingSenders reports whether a sender carries a track whose
	// transceiver has no mid yet.
	PendingSenders() bool
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	RequestKeyframe(ssrc webrtc.SSRC) error
	Close() error
}

// ConnFactory creates the peer connection for one call.
type ConnFactory func() (Conn, error)

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	s, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// Inbound RTCP must be read for interceptors (NACK, reports) to run.
	go func() {
		for {
			if _, _, err := s.ReadRTCP(); err != nil {
				return
			}
		}
	}()
	return s, nil
}

func (c *pionConn) AddReceiver(kind media.Kind) error {
	_, err := c.pc.AddTransceiverFromKind(codecTypeOf(kind), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *pionConn) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// Mids are assigned when an offer is created or a remote offer is matched,
// so a sending transceiver without one is in no description yet.
func (c *pionConn) PendingSenders() bool {
	for _, tr := range c.pc.GetTransceivers() {
		s := tr.Sender()
		if s == nil || s.Track() == nil {
			continue
		}
		if tr.Mid() == "" {
			return true
		}
	}
	return false
}

func (c *pionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(cand.ToJSON())
	})
}

func (c *pionConn) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(t)
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConn) RequestKeyframe(ssrc webrtc.SSRC) error {
	return c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
