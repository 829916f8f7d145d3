package call

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/pion/webrtc/v4"
)

// PeerLink owns negotiation for one peer connection: the outbound senders,
// the remote candidate queue and the offer rules. All methods except Close
// and Status are expected to run on the owning session's task queue.
//
// Only the caller offers, so offers never collide. When the callee holds a
// sender the last exchange did not cover, it sends a renegotiate request and
// the caller offers again, adding a receive-only transceiver for each
// requested kind it does not send itself. No side ever rolls back a local
// description: an offer or answer that could not be delivered stays in place
// and is sent again on the next change.
type PeerLink struct {
	conn    Conn
	selfID  string
	offerer bool
	send    func(event string, payload any) error
	logf    func(format string, args ...any)

	mu               sync.Mutex
	senders          map[media.Kind]Sender
	receivers        map[media.Kind]bool
	wanted           map[media.Kind]bool
	pending          []webrtc.ICECandidateInit
	remoteSet        bool
	ready            bool
	negotiated       bool
	needsNegotiation bool
	// unsent marks a local description the partner never received.
	unsent   bool
	offers   int
	requests int

	closed atomic.Bool
}

type linkConfig struct {
	Conn   Conn
	SelfID string
	// Caller is the only side that creates offers.
	Caller bool
	Send   func(event string, payload any) error
	Logf   func(format string, args ...any)
}

var linkKinds = []media.Kind{media.KindAudio, media.KindVideo}

func newPeerLink(cfg linkConfig) *PeerLink {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &PeerLink{
		conn:      cfg.Conn,
		selfID:    cfg.SelfID,
		offerer:   cfg.Caller,
		send:      cfg.Send,
		logf:      logf,
		senders:   make(map[media.Kind]Sender),
		receivers: make(map[media.Kind]bool),
		wanted:    make(map[media.Kind]bool),
	}
}

// Attach puts track on the sender for kind. An existing sender has its
// track replaced, which never renegotiates; a new kind adds a sender and
// marks negotiation needed.
func (l *PeerLink) Attach(kind media.Kind, track webrtc.TrackLocal) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.senders[kind]; ok {
		if err := s.ReplaceTrack(track); err != nil {
			return fmt.Errorf("%w: replace %s track: %v", ErrNegotiation, kind, err)
		}
		l.maybeNegotiate()
		return nil
	}
	if track == nil {
		return nil
	}
	s, err := l.conn.AddTrack(track)
	if err != nil {
		return fmt.Errorf("%w: add %s track: %v", ErrNegotiation, kind, err)
	}
	l.senders[kind] = s
	l.needsNegotiation = true
	l.maybeNegotiate()
	return nil
}

// Detach clears the sender for kind without removing it.
func (l *PeerLink) Detach(kind media.Kind) error {
	return l.Attach(kind, nil)
}

// Ready signals that local tracks are attached. The caller sends its first
// offer now; before it nothing is offered or requested.
func (l *PeerLink) Ready() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = true
	if l.offerer && !l.negotiated {
		l.needsNegotiation = true
	}
	l.maybeNegotiate()
}

// maybeNegotiate moves negotiation forward if anything is owed. Caller
// holds l.mu.
func (l *PeerLink) maybeNegotiate() {
	if l.closed.Load() {
		return
	}
	if l.offerer {
		l.offer()
		return
	}
	l.resendAnswer()
	l.request()
}

// offer creates and sends an offer. It waits for stable unless the
// outstanding offer was never delivered, in which case a fresh offer
// replaces it. Caller holds l.mu.
func (l *PeerLink) offer() {
	if !l.ready || (!l.needsNegotiation && !l.unsent) {
		return
	}
	st := l.conn.SignalingState()
	if st != webrtc.SignalingStateStable && !(st == webrtc.SignalingStateHaveLocalOffer && l.unsent) {
		l.logf("renegotiation deferred (signaling %s)", st)
		return
	}
	for _, kind := range linkKinds {
		if _, sending := l.senders[kind]; sending || !l.wanted[kind] || l.receivers[kind] {
			continue
		}
		if err := l.conn.AddReceiver(kind); err != nil {
			l.logf("%v: add %s receiver: %v", ErrNegotiation, kind, err)
			continue
		}
		l.receivers[kind] = true
	}

	offer, err := l.conn.CreateOffer()
	if err != nil {
		l.logf("%v: create offer: %v", ErrNegotiation, err)
		return
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		l.logf("%v: set local offer: %v", ErrNegotiation, err)
		return
	}
	if l.closed.Load() {
		return
	}
	if ld := l.conn.LocalDescription(); ld != nil {
		offer = *ld
	}
	l.needsNegotiation = false
	l.offers++
	if err := l.send(EvOffer, OfferPayload{Offer: offer, From: l.selfID}); err != nil {
		l.logf("%v: offer: %v", ErrSignaling, err)
		l.unsent = true
		return
	}
	l.unsent = false
	l.logf("offer sent (#%d)", l.offers)
}

// resendAnswer delivers an answer whose first send failed. Caller holds
// l.mu.
func (l *PeerLink) resendAnswer() {
	if !l.unsent {
		return
	}
	ld := l.conn.LocalDescription()
	if ld == nil || ld.Type != webrtc.SDPTypeAnswer {
		l.unsent = false
		return
	}
	if err := l.send(EvAnswer, AnswerPayload{Answer: *ld, From: l.selfID}); err != nil {
		l.logf("%v: answer: %v", ErrSignaling, err)
		return
	}
	l.unsent = false
	l.logf("answer resent")
}

// request asks the caller to offer again. The callee never starts the first
// exchange: its tracks go out in its first answer. Caller holds l.mu.
func (l *PeerLink) request() {
	if !l.ready || !l.negotiated || !l.needsNegotiation || l.unsent {
		return
	}
	kinds := make([]media.Kind, 0, len(l.senders))
	for _, kind := range linkKinds {
		if _, ok := l.senders[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	if err := l.send(EvRenegotiate, RenegotiatePayload{Kinds: kinds, From: l.selfID}); err != nil {
		l.logf("%v: renegotiate: %v", ErrSignaling, err)
		return
	}
	l.needsNegotiation = false
	l.requests++
	l.logf("renegotiation requested for %v", kinds)
}

// HandleOffer applies a remote offer and answers it. The caller never
// answers: an offer reaching it is a protocol error on the other side.
func (l *PeerLink) HandleOffer(desc webrtc.SessionDescription) {
	if l.closed.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.offerer {
		l.logf("offer from the answering side ignored")
		return
	}
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		l.logf("%v: set remote offer: %v", ErrNegotiation, err)
		return
	}
	l.flushCandidates()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		l.logf("%v: create answer: %v", ErrNegotiation, err)
		return
	}
	if l.closed.Load() {
		l.logf("call closed during negotiation, answer dropped")
		return
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		l.logf("%v: set local answer: %v", ErrNegotiation, err)
		return
	}
	if l.closed.Load() {
		l.logf("call closed during negotiation, answer dropped")
		return
	}
	if ld := l.conn.LocalDescription(); ld != nil {
		answer = *ld
	}
	l.unsent = false
	if err := l.send(EvAnswer, AnswerPayload{Answer: answer, From: l.selfID}); err != nil {
		l.logf("%v: answer: %v", ErrSignaling, err)
		l.unsent = true
	}
	l.completed()
}

// HandleAnswer applies the answer to our outstanding offer.
func (l *PeerLink) HandleAnswer(desc webrtc.SessionDescription) {
	if l.closed.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if st := l.conn.SignalingState(); st != webrtc.SignalingStateHaveLocalOffer {
		l.logf("stale answer ignored (signaling %s)", st)
		return
	}
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		l.logf("%v: set remote answer: %v", ErrNegotiation, err)
		return
	}
	l.unsent = false
	l.flushCandidates()
	l.completed()
}

// HandleRenegotiate records the kinds the callee wants to send and offers
// as soon as the link is stable.
func (l *PeerLink) HandleRenegotiate(kinds []media.Kind) {
	if l.closed.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.offerer {
		l.logf("renegotiate request ignored, not the offering side")
		return
	}
	for _, kind := range kinds {
		if kind == media.KindAudio || kind == media.KindVideo {
			l.wanted[kind] = true
		}
	}
	l.needsNegotiation = true
	l.maybeNegotiate()
}

// completed runs after an exchange returns the link to stable. Senders the
// exchange did not cover still have no mid; the caller offers for them and
// the callee requests an offer. A request that arrived while the caller's
// offer was outstanding keeps needsNegotiation set. Caller holds l.mu.
func (l *PeerLink) completed() {
	l.negotiated = true
	if l.offerer {
		l.needsNegotiation = l.needsNegotiation || l.conn.PendingSenders()
	} else {
		l.needsNegotiation = l.conn.PendingSenders()
	}
	l.maybeNegotiate()
}

// HandleCandidate applies a remote candidate, or queues it until the first
// remote description is in place.
func (l *PeerLink) HandleCandidate(c webrtc.ICECandidateInit) {
	if l.closed.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		l.logf("%v: add candidate: %v", ErrNegotiation, err)
	}
}

// flushCandidates drains the queue in arrival order, exactly once.
// Caller holds l.mu.
func (l *PeerLink) flushCandidates() {
	if l.remoteSet {
		return
	}
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	for _, c := range queued {
		if err := l.conn.AddICECandidate(c); err != nil {
			l.logf("%v: add queued candidate: %v", ErrNegotiation, err)
		}
	}
	if len(queued) > 0 {
		l.logf("applied %d queued candidates", len(queued))
	}
}

// SendCandidate forwards a locally gathered candidate to the partner.
func (l *PeerLink) SendCandidate(c webrtc.ICECandidateInit) {
	if l.closed.Load() {
		return
	}
	if err := l.send(EvICE, ICEPayload{Candidate: c, From: l.selfID}); err != nil {
		l.logf("%v: candidate: %v", ErrSignaling, err)
	}
}

// RequestKeyframe asks the partner to refresh the video stream with ssrc.
func (l *PeerLink) RequestKeyframe(ssrc webrtc.SSRC) {
	if l.closed.Load() {
		return
	}
	if err := l.conn.RequestKeyframe(ssrc); err != nil {
		l.logf("keyframe request: %v", err)
	}
}

// Close closes the connection without waiting for in-flight negotiation.
// The in-flight step sees the closed flag and does not send its result.
func (l *PeerLink) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.logf("close peer connection: %v", err)
	}
}

func (l *PeerLink) Closed() bool { return l.closed.Load() }

// LinkStatus is a snapshot for diagnostics.
type LinkStatus struct {
	Signaling  string            `json:"signaling"`
	Connection string            `json:"connection"`
	Offerer    bool              `json:"offerer"`
	Senders    map[string]string `json:"senders"`
	Pending    int               `json:"pending_candidates"`
	Offers     int               `json:"offers"`
	Requests   int               `json:"renegotiate_requests"`
}

// Status only tries the negotiation lock; while a step is in flight the
// sender details are left out.
func (l *PeerLink) Status() LinkStatus {
	st := LinkStatus{
		Signaling:  l.conn.SignalingState().String(),
		Connection: l.conn.ConnectionState().String(),
		Offerer:    l.offerer,
		Senders:    map[string]string{},
	}
	if !l.mu.TryLock() {
		return st
	}
	defer l.mu.Unlock()
	for kind, s := range l.senders {
		id := ""
		if t := s.Track(); t != nil {
			id = t.ID()
		}
		st.Senders[string(kind)] = id
	}
	st.Pending = len(l.pending)
	st.Offers = l.offers
	st.Requests = l.requests
	return st
}
