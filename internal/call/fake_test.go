package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signal"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// fakeConn is an in-memory peer connection with real signaling-state
// transitions and pion's transceiver rules: mids are assigned when an offer
// is created or a remote offer is matched, AddTrack reuses a receive-only
// transceiver of the same kind, and a local rollback is rejected. Its SDP
// lists the m-lines as mid=kind:direction.
type fakeConn struct {
	name string

	mu             sync.Mutex
	state          webrtc.SignalingState
	local          *webrtc.SessionDescription
	hasRemote      bool
	remoteOffer    []fakeLine
	transceivers   []*fakeTransceiver
	nextMid        int
	remoteKinds    map[media.Kind]bool
	candidates     []string
	earlyAdds      int
	localRollbacks int
	offers         int
	answers        int
	keyframes      int
	gathered       bool
	closed         bool
	done           chan struct{}

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)

	// answerGate, when set, holds CreateAnswer until it is closed or the
	// connection is.
	answerGate    chan struct{}
	answerStarted chan struct{}
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{
		name:          name,
		state:         webrtc.SignalingStateStable,
		remoteKinds:   make(map[media.Kind]bool),
		done:          make(chan struct{}),
		answerStarted: make(chan struct{}, 1),
	}
}

// fakeTransceiver is one m-line. A nil sender means receive-only.
type fakeTransceiver struct {
	kind   media.Kind
	mid    string
	sender *fakeSender
}

func (tr *fakeTransceiver) direction() string {
	if tr.sender != nil {
		return "sendrecv"
	}
	return "recvonly"
}

type fakeSender struct {
	kind media.Kind

	mu       sync.Mutex
	track    webrtc.TrackLocal
	replaced int
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakeRemoteTrack struct {
	id   string
	kind media.Kind
	ssrc webrtc.SSRC
	done <-chan struct{}
}

func (t *fakeRemoteTrack) ID() string { return t.id }

func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType {
	if t.kind == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func (t *fakeRemoteTrack) SSRC() webrtc.SSRC { return t.ssrc }

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-t.done
	return nil, nil, io.EOF
}

var errFakeClosed = errors.New("fake conn closed")

// fakeLine is one m-line of a fake SDP.
type fakeLine struct {
	mid  string
	kind media.Kind
	dir  string
}

func encodeLines(lines []fakeLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.mid + "=" + string(l.kind) + ":" + l.dir
	}
	return "fake:" + strings.Join(parts, ",")
}

func decodeLines(sdp string) []fakeLine {
	body := strings.TrimPrefix(sdp, "fake:")
	if body == "" {
		return nil
	}
	var out []fakeLine
	for _, p := range strings.Split(body, ",") {
		mid, rest, _ := strings.Cut(p, "=")
		kind, dir, _ := strings.Cut(rest, ":")
		out = append(out, fakeLine{mid: mid, kind: media.Kind(kind), dir: dir})
	}
	return out
}

// encodeKinds builds a remote offer with one sending m-line per kind.
func encodeKinds(kinds []media.Kind) string {
	lines := make([]fakeLine, len(kinds))
	for i, k := range kinds {
		lines[i] = fakeLine{mid: fmt.Sprint(i), kind: k, dir: "sendrecv"}
	}
	return encodeLines(lines)
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errFakeClosed
	}
	s := &fakeSender{kind: kindOf(track.Kind()), track: track}
	for _, tr := range c.transceivers {
		if tr.kind == s.kind && tr.sender == nil {
			tr.sender = s
			return s, nil
		}
	}
	c.transceivers = append(c.transceivers, &fakeTransceiver{kind: s.kind, sender: s})
	return s, nil
}

func (c *fakeConn) AddReceiver(kind media.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.transceivers = append(c.transceivers, &fakeTransceiver{kind: kind})
	return nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errFakeClosed
	}
	lines := make([]fakeLine, 0, len(c.transceivers))
	for _, tr := range c.transceivers {
		if tr.mid == "" {
			tr.mid = fmt.Sprint(c.nextMid)
			c.nextMid++
		}
		lines = append(lines, fakeLine{mid: tr.mid, kind: tr.kind, dir: tr.direction()})
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: encodeLines(lines)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, errFakeClosed
	}
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", c.state)
	}
	var lines []fakeLine
	for _, rl := range c.remoteOffer {
		if tr := c.transceiverLocked(rl.mid); tr != nil {
			lines = append(lines, fakeLine{mid: tr.mid, kind: tr.kind, dir: tr.direction()})
		}
	}
	gate := c.answerGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case c.answerStarted <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-c.done:
		}
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: encodeLines(lines)}, nil
}

func (c *fakeConn) transceiverLocked(mid string) *fakeTransceiver {
	for _, tr := range c.transceivers {
		if tr.mid == mid {
			return tr
		}
	}
	return nil
}

// matchLocked finds the transceiver for a remote m-line. A receive-only
// remote line needs a local sender.
func (c *fakeConn) matchLocked(rl fakeLine) *fakeTransceiver {
	if tr := c.transceiverLocked(rl.mid); tr != nil {
		return tr
	}
	for _, tr := range c.transceivers {
		if tr.mid != "" || tr.kind != rl.kind {
			continue
		}
		if rl.dir == "recvonly" && tr.sender == nil {
			continue
		}
		tr.mid = rl.mid
		return tr
	}
	tr := &fakeTransceiver{kind: rl.kind, mid: rl.mid}
	c.transceivers = append(c.transceivers, tr)
	return tr
}

func (c *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable && c.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("set local offer in %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveLocalOffer
		c.offers++
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("set local answer in %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
		c.answers++
	case webrtc.SDPTypeRollback:
		c.localRollbacks++
		return errors.New("invalid SDP type supplied to SetLocalDescription(): rollback")
	default:
		return fmt.Errorf("unexpected local %s", d.Type)
	}
	desc := d
	c.local = &desc
	c.gatherLocked()
	return nil
}

// gatherLocked emits two local candidates once, off the caller's goroutine
// like a real ICE agent.
func (c *fakeConn) gatherLocked() {
	if c.gathered || c.onICE == nil {
		return
	}
	c.gathered = true
	fn, name := c.onICE, c.name
	go func() {
		for i := 1; i <= 2; i++ {
			fn(webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s-%d", name, i)})
		}
	}()
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errFakeClosed
	}
	lines := decodeLines(d.SDP)
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable && c.state != webrtc.SignalingStateHaveRemoteOffer {
			c.mu.Unlock()
			return fmt.Errorf("set remote offer in %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveRemoteOffer
		c.remoteOffer = lines
		for _, rl := range lines {
			c.matchLocked(rl)
		}
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			c.mu.Unlock()
			return fmt.Errorf("set remote answer in %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	default:
		c.mu.Unlock()
		return fmt.Errorf("unexpected remote %s", d.Type)
	}
	c.hasRemote = true

	var fresh []media.Kind
	for _, rl := range lines {
		if rl.dir == "sendrecv" && !c.remoteKinds[rl.kind] {
			c.remoteKinds[rl.kind] = true
			fresh = append(fresh, rl.kind)
		}
	}
	fn, done := c.onTrack, c.done
	c.mu.Unlock()

	if fn != nil {
		for i, k := range fresh {
			rt := &fakeRemoteTrack{id: fmt.Sprintf("%s-remote-%s", c.name, k), kind: k, ssrc: webrtc.SSRC(100 + i), done: done}
			go fn(rt)
		}
	}
	return nil
}

func (c *fakeConn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return nil
	}
	d := *c.local
	return &d
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	if !c.hasRemote {
		c.earlyAdds++
		return errors.New("no remote description")
	}
	c.candidates = append(c.candidates, cand.Candidate)
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SignalingStateClosed
	}
	return c.state
}

func (c *fakeConn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return webrtc.PeerConnectionStateClosed
	case c.hasRemote:
		return webrtc.PeerConnectionStateConnected
	}
	return webrtc.PeerConnectionStateNew
}

func (c *fakeConn) PendingSenders() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range c.transceivers {
		if tr.sender != nil && tr.sender.Track() != nil && tr.mid == "" {
			return true
		}
	}
	return false
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (c *fakeConn) RequestKeyframe(webrtc.SSRC) error {
	c.mu.Lock()
	c.keyframes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

func (c *fakeConn) Counts() (localRollbacks, answers, earlyAdds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localRollbacks, c.answers, c.earlyAdds
}

// Offers counts local offers applied.
func (c *fakeConn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *fakeConn) HasRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRemote
}

func (c *fakeConn) RemoteKinds() map[media.Kind]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[media.Kind]bool, len(c.remoteKinds))
	for k, v := range c.remoteKinds {
		out[k] = v
	}
	return out
}

// Senders returns the senders for kind in creation order.
func (c *fakeConn) Senders(kind media.Kind) []*fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeSender
	for _, tr := range c.transceivers {
		if tr.kind == kind && tr.sender != nil {
			out = append(out, tr.sender)
		}
	}
	return out
}

func (c *fakeConn) senderTrackID(kind media.Kind) string {
	ss := c.Senders(kind)
	if len(ss) == 0 {
		return ""
	}
	if t := ss[0].Track(); t != nil {
		return t.ID()
	}
	return ""
}

// fakeFactory hands out fakeConns and remembers them.
type fakeFactory struct {
	name string

	mu         sync.Mutex
	conns      []*fakeConn
	answerGate chan struct{}
}

func (f *fakeFactory) New() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeConn(fmt.Sprintf("%s%d", f.name, len(f.conns)+1))
	c.answerGate = f.answerGate
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) Last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// wire captures what a PeerLink sends so tests decide when it arrives.
type wire struct {
	mu   sync.Mutex
	msgs []wireMsg
	down bool
}

type wireMsg struct {
	event   string
	payload any
}

var errWireDown = errors.New("transport down")

func (w *wire) send(event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return errWireDown
	}
	w.msgs = append(w.msgs, wireMsg{event: event, payload: payload})
	return nil
}

func (w *wire) setDown(down bool) {
	w.mu.Lock()
	w.down = down
	w.mu.Unlock()
}

func (w *wire) take() []wireMsg {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.msgs
	w.msgs = nil
	return out
}

func (w *wire) count(event string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.msgs {
		if m.event == event {
			n++
		}
	}
	return n
}

func deliver(l *PeerLink, m wireMsg) {
	switch p := m.payload.(type) {
	case OfferPayload:
		l.HandleOffer(p.Offer)
	case AnswerPayload:
		l.HandleAnswer(p.Answer)
	case ICEPayload:
		l.HandleCandidate(p.Candidate)
	case RenegotiatePayload:
		l.HandleRenegotiate(p.Kinds)
	}
}

// pump exchanges messages between two links until both wires are quiet.
func pump(t *testing.T, a *PeerLink, aOut *wire, b *PeerLink, bOut *wire) {
	t.Helper()
	for range 20 {
		fromA, fromB := aOut.take(), bOut.take()
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, m := range fromA {
			deliver(b, m)
		}
		for _, m := range fromB {
			deliver(a, m)
		}
	}
	t.Fatal("negotiation did not settle")
}

func newTestLink(conn Conn, caller bool, out *wire) *PeerLink {
	id := "callee"
	if caller {
		id = "caller"
	}
	return newPeerLink(linkConfig{Conn: conn, SelfID: id, Caller: caller, Send: out.send})
}

func syntheticLocal(t *testing.T, d *media.Synthetic, source media.Source) media.Track {
	t.Helper()
	ctx := context.Background()
	var (
		tr  media.Track
		err error
	)
	switch source {
	case media.SourceMicrophone:
		tr, err = d.Microphone(ctx)
	case media.SourceCamera:
		tr, err = d.Camera(ctx)
	default:
		tr, err = d.Screen(ctx)
	}
	if err != nil {
		t.Fatalf("open %s: %v", source, err)
	}
	return tr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type countRinger struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *countRinger) Start(Profile) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *countRinger) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *countRinger) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type memCallLog struct {
	mu      sync.Mutex
	records []Record
}

func (l *memCallLog) RecordCall(_ context.Context, r Record) error {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
	return nil
}

func (l *memCallLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

type staticProfiles map[string]Profile

func (p staticProfiles) Profile(_ context.Context, id string) (Profile, error) {
	if pr, ok := p[id]; ok {
		return pr, nil
	}
	return Profile{}, errors.New("not found")
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testPeer is one participant: a Manager with synthetic devices and fake
// peer connections.
type testPeer struct {
	id      string
	hub     signal.Hub
	mgr     *Manager
	devices *media.Synthetic
	conns   *fakeFactory
	ringer  *countRinger
	calls   *memCallLog

	mu     sync.Mutex
	events []Event
}

type peerOption func(*Options, *fakeFactory)

func withSetupTimeout(d time.Duration) peerOption {
	return func(o *Options, _ *fakeFactory) { o.SetupTimeout = d }
}

func withAnswerGate(gate chan struct{}) peerOption {
	return func(_ *Options, f *fakeFactory) { f.answerGate = gate }
}

func newTestPeer(t *testing.T, hub signal.Hub, id string, opts ...peerOption) *testPeer {
	t.Helper()
	p := &testPeer{
		id:      id,
		hub:     hub,
		devices: media.NewSynthetic(),
		conns:   &fakeFactory{name: id},
		ringer:  &countRinger{},
		calls:   &memCallLog{},
	}
	o := Options{
		SelfID:   id,
		Hub:      hub,
		Devices:  p.devices,
		NewConn:  p.conns.New,
		Profiles: staticProfiles{"alice": {ID: "alice", Name: "Alice"}, "bob": {ID: "bob", Name: "Bob"}},
		Ringer:   p.ringer,
		CallLog:  p.calls,
	}
	for _, opt := range opts {
		opt(&o, p.conns)
	}
	p.mgr = New(o)

	events, cancel := p.mgr.Subscribe()
	go func() {
		for ev := range events {
			p.mu.Lock()
			p.events = append(p.events, ev)
			p.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		p.mgr.Close()
		cancel()
	})
	return p
}

func (p *testPeer) listen(t *testing.T, partners ...string) {
	t.Helper()
	for _, id := range partners {
		if err := p.mgr.Listen(context.Background(), id); err != nil {
			t.Fatalf("%s listen %s: %v", p.id, id, err)
		}
	}
}

func (p *testPeer) sawEvent(match func(Event) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if match(ev) {
			return true
		}
	}
	return false
}

func (p *testPeer) state() State {
	if s := p.mgr.Active(); s != nil {
		return s.State()
	}
	return StateIdle
}

// newPair returns alice and bob listening for each other on one hub.
func newPair(t *testing.T, aliceOpts, bobOpts []peerOption) (*testPeer, *testPeer) {
	t.Helper()
	hub := signal.NewMemoryHub()
	t.Cleanup(func() { hub.Close() })
	alice := newTestPeer(t, hub, "alice", aliceOpts...)
	bob := newTestPeer(t, hub, "bob", bobOpts...)
	alice.listen(t, "bob")
	bob.listen(t, "alice")
	return alice, bob
}

// connectCall has alice call bob and bob answer, then waits for the first
// negotiation to complete on both sides.
func connectCall(t *testing.T, alice, bob *testPeer, ct CallType) (*Session, *Session) {
	t.Helper()
	ctx := context.Background()
	as, err := alice.mgr.StartCall(ctx, bob.id, ct)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	waitFor(t, "bob ringing", func() bool { return bob.state() == StateIncoming })
	bs, err := bob.mgr.Answer(ctx)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	waitFor(t, "alice connected", func() bool { return as.State() == StateConnected })
	waitFor(t, "first negotiation", func() bool {
		ac, bc := alice.conns.Last(), bob.conns.Last()
		if ac == nil || bc == nil {
			return false
		}
		_, answers, _ := bc.Counts()
		return ac.HasRemote() && answers >= 1 &&
			ac.SignalingState() == webrtc.SignalingStateStable &&
			bc.SignalingState() == webrtc.SignalingStateStable
	})
	return as, bs
}
