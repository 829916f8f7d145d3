package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signal"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/pion/webrtc/v4"
)

type sessionConfig struct {
	SelfID       string
	Partner      Profile
	Type         CallType
	Caller       bool
	Channel      signal.Channel
	Devices      media.Devices
	NewConn      ConnFactory
	Ringer       Ringer
	Playback     PlaybackSink
	SetupTimeout time.Duration
	Emit         func(Event)
	Notify       func(s *Session, level, message string)
	OnEnded      func(s *Session, prev State)
}

// Session is one call with one partner. It is created by the Manager and
// ends exactly once; an ended session is never reused.
type Session struct {
	id           string
	selfID       string
	partner      Profile
	callType     CallType
	caller       bool
	ch           signal.Channel
	newConn      ConnFactory
	ringer       Ringer
	setupTimeout time.Duration
	emitFn       func(Event)
	notifyFn     func(s *Session, level, message string)
	onEnded      func(s *Session, prev State)

	ctx    context.Context
	cancel context.CancelFunc
	tasks  *taskQueue
	router *Router
	remote *remoteMedia
	done   chan struct{}

	mu              sync.Mutex
	state           State
	reason          EndReason
	link            *PeerLink
	micOn           bool
	micBeforeDeafen bool
	deafened        bool
	remoteMeta      Metadata
	startedAt       time.Time
	connectedAt     time.Time
	endedAt         time.Time
	timer           *time.Timer
	inflight        map[string]bool
}

func newSession(cfg sessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		selfID:       cfg.SelfID,
		partner:      cfg.Partner,
		callType:     cfg.Type,
		caller:       cfg.Caller,
		ch:           cfg.Channel,
		newConn:      cfg.NewConn,
		ringer:       cfg.Ringer,
		setupTimeout: cfg.SetupTimeout,
		emitFn:       cfg.Emit,
		notifyFn:     cfg.Notify,
		onEnded:      cfg.OnEnded,
		ctx:          ctx,
		cancel:       cancel,
		tasks:        newTaskQueue(),
		remote:       newRemoteMedia(cfg.Playback),
		done:         make(chan struct{}),
		state:        StateIdle,
		micOn:        true,
		startedAt:    time.Now(),
		inflight:     make(map[string]bool),
	}
	s.router = newRouter(cfg.Devices, s.logf)
	s.router.OnScreenEnded(s.screenEndedByHost)
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Partner() Profile { return s.partner }
func (s *Session) Type() CallType   { return s.callType }
func (s *Session) IsCaller() bool   { return s.caller }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) peer() *PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) logf(format string, args ...any) {
	log.Printf("CALL [%s]: "+format, append([]any{s.partner.ID}, args...)...)
}

func (s *Session) event(t EventType) Event {
	return Event{
		Type:      t,
		SessionID: s.id,
		Partner:   s.partner,
		CallType:  s.callType,
		Time:      time.Now(),
	}
}

func (s *Session) emit(ev Event) {
	if s.emitFn != nil {
		s.emitFn(ev)
	}
}

func (s *Session) notify(level, message string) {
	if s.notifyFn != nil {
		s.notifyFn(s, level, message)
	}
}

// setState moves to a live state. It refuses once the session has ended.
func (s *Session) setState(to State) bool {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if to == StateConnected {
		s.connectedAt = time.Now()
	}
	s.mu.Unlock()

	s.logf("state %s", to)
	ev := s.event(EventState)
	ev.State = to
	s.emit(ev)
	return true
}

func (s *Session) send(event string, payload any) error {
	ctx, cancel := context.WithTimeout(s.ctx, util.DefaultSendTimeout)
	defer cancel()
	if err := s.ch.Send(ctx, event, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSignaling, event, err)
	}
	return nil
}

func (s *Session) noteVideoErr(set media.TrackSet) {
	if set.VideoErr != nil {
		s.logf("camera unavailable: %v", set.VideoErr)
		s.notify(LevelWarn, "Camera unavailable, continuing with audio only")
	}
}

// dial starts an outgoing call: media first, then call-request. A media
// failure is returned and the call never rings.
func (s *Session) dial(ctx context.Context) error {
	set, err := s.router.Acquire(ctx, s.callType == CallVideo)
	if err != nil {
		s.logf("media acquisition failed: %v", err)
		return err
	}
	s.noteVideoErr(set)

	if !s.setState(StateCalling) {
		return ErrClosed
	}
	s.startSetupTimer()
	if err := s.send(EvCallRequest, CallRequestPayload{CallerID: s.selfID, Type: s.callType}); err != nil {
		s.logf("%v", err)
		s.notify(LevelError, "Could not reach "+s.partner.Name)
	}
	return nil
}

// ring surfaces an incoming call.
func (s *Session) ring() {
	if !s.setState(StateIncoming) {
		return
	}
	s.ringer.Start(s.partner)
	s.startSetupTimer()
}

// Answer accepts an incoming call. A microphone failure ends the call.
func (s *Session) Answer(ctx context.Context) error {
	err := s.tasks.Run(ctx, func() error {
		if st := s.State(); st != StateIncoming {
			return fmt.Errorf("%w: answer in state %s", ErrInvalidState, st)
		}
		set, err := s.router.Acquire(s.ctx, s.callType == CallVideo)
		if err != nil {
			s.logf("media acquisition failed: %v", err)
			s.notify(LevelError, "Microphone unavailable, call ended")
			return err
		}
		s.noteVideoErr(set)

		s.ringer.Stop()
		if !s.setState(StateConnected) {
			return ErrClosed
		}
		if err := s.send(EvCallAccept, CallSignalPayload{From: s.selfID}); err != nil {
			s.logf("%v", err)
			s.notify(LevelError, "Could not reach "+s.partner.Name)
		}
		s.connect()
		return nil
	})
	var me *media.Error
	if errors.As(err, &me) {
		s.end(ReasonFailed, true)
	}
	return err
}

// Reject declines an incoming call.
func (s *Session) Reject() error {
	if st := s.State(); st != StateIncoming {
		return fmt.Errorf("%w: reject in state %s", ErrInvalidState, st)
	}
	s.end(ReasonRejected, true)
	return nil
}

// Hangup ends the call from this side. Safe to call more than once.
func (s *Session) Hangup() {
	s.end(ReasonHangup, true)
}

// handle routes one signaling envelope from the partner. Ending events act
// immediately; everything else waits its turn on the task queue.
func (s *Session) handle(env *signal.Envelope) {
	switch env.Event {
	case EvCallEnd:
		var p CallSignalPayload
		if err := env.Decode(&p); err != nil {
			s.logf("call-end payload unreadable, ending anyway: %v", err)
		}
		reason := ReasonRemote
		if p.Reason == ReasonRejected {
			reason = ReasonRejected
		}
		s.end(reason, false)
	case EvCallBusy:
		if s.caller && s.State() == StateCalling {
			s.notify(LevelInfo, s.partner.Name+" is busy")
			s.end(ReasonBusy, false)
		}
	default:
		s.tasks.Post(func() { s.apply(env) })
	}
}

func (s *Session) apply(env *signal.Envelope) {
	switch env.Event {
	case EvCallAccept:
		if !s.caller || s.State() != StateCalling {
			s.logf("call-accept ignored in state %s", s.State())
			return
		}
		if s.setState(StateConnected) {
			s.connect()
		}

	case EvCallMetadata:
		var p MetadataPayload
		if err := env.Decode(&p); err != nil {
			s.logf("%v", err)
			return
		}
		s.applyMetadata(p)

	case EvOffer, EvAnswer, EvICE, EvRenegotiate:
		link := s.peer()
		if link == nil {
			s.logf("%s before peer connection, dropped", env.Event)
			return
		}
		switch env.Event {
		case EvOffer:
			var p OfferPayload
			if err := env.Decode(&p); err != nil {
				s.logf("%v", err)
				return
			}
			link.HandleOffer(p.Offer)
		case EvAnswer:
			var p AnswerPayload
			if err := env.Decode(&p); err != nil {
				s.logf("%v", err)
				return
			}
			link.HandleAnswer(p.Answer)
		case EvICE:
			var p ICEPayload
			if err := env.Decode(&p); err != nil {
				s.logf("%v", err)
				return
			}
			link.HandleCandidate(p.Candidate)
		case EvRenegotiate:
			var p RenegotiatePayload
			if err := env.Decode(&p); err != nil {
				s.logf("%v", err)
				return
			}
			link.HandleRenegotiate(p.Kinds)
		}

	default:
		s.logf("unknown event %q", env.Event)
	}
}

// connect builds the peer connection once the call is connected and local
// media is in the router. Runs on the task queue.
func (s *Session) connect() {
	s.stopSetupTimer()

	conn, err := s.newConn()
	if err != nil {
		s.logf("%v: create peer connection: %v", ErrNegotiation, err)
		s.notify(LevelError, "Could not set up the media connection")
		return
	}
	link := newPeerLink(linkConfig{
		Conn:   conn,
		SelfID: s.selfID,
		Caller: s.caller,
		Send:   s.send,
		Logf:   s.logf,
	})
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.tasks.Post(func() { link.SendCandidate(c) })
	})
	conn.OnTrack(func(t RemoteTrack) { s.remoteTrack(link, t) })
	conn.OnConnectionStateChange(s.connectionState)

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.link = link
	s.mu.Unlock()

	if err := s.router.Bind(link); err != nil {
		s.logf("attach local tracks: %v", err)
	}
	link.Ready()
}

func (s *Session) remoteTrack(link *PeerLink, t RemoteTrack) {
	kind := kindOf(t.Kind())
	s.logf("remote %s track %s", kind, t.ID())
	ev := s.event(EventTrack)
	ev.Kind = string(kind)
	s.emit(ev)
	if kind == media.KindVideo {
		ssrc := t.SSRC()
		s.tasks.Post(func() { link.RequestKeyframe(ssrc) })
	}
	go s.remote.consume(t)
}

func (s *Session) connectionState(st webrtc.PeerConnectionState) {
	s.logf("peer connection %s", st)
	switch st {
	case webrtc.PeerConnectionStateDisconnected:
		s.notify(LevelWarn, "Connection unstable, trying to recover")
	case webrtc.PeerConnectionStateFailed:
		s.notify(LevelError, "Media connection to "+s.partner.Name+" failed")
	}
}

func (s *Session) applyMetadata(p MetadataPayload) {
	s.mu.Lock()
	wasSharing := s.remoteMeta.IsScreenSharing
	if p.Deafened != nil {
		s.remoteMeta.Deafened = *p.Deafened
	}
	if p.IsScreenSharing != nil {
		s.remoteMeta.IsScreenSharing = *p.IsScreenSharing
	}
	meta := s.remoteMeta
	link := s.link
	s.mu.Unlock()

	ev := s.event(EventMetadata)
	ev.Remote = &meta
	s.emit(ev)

	if meta.IsScreenSharing != wasSharing && link != nil {
		if ssrc, ok := s.remote.VideoSSRC(); ok {
			link.RequestKeyframe(ssrc)
		}
	}
}

func (s *Session) broadcast(p MetadataPayload) {
	p.From = s.selfID
	if err := s.send(EvCallMetadata, p); err != nil {
		s.logf("%v", err)
		s.notify(LevelWarn, "Could not sync call state with "+s.partner.Name)
	}
}

func (s *Session) startSetupTimer() {
	if s.setupTimeout <= 0 {
		return
	}
	t := time.AfterFunc(s.setupTimeout, func() {
		st := s.State()
		if st != StateCalling && st != StateIncoming {
			return
		}
		s.logf("call setup timed out after %v", s.setupTimeout)
		if st == StateIncoming {
			s.notify(LevelInfo, "Missed call from "+s.partner.Name)
		} else {
			s.notify(LevelInfo, s.partner.Name+" did not answer")
		}
		s.end(ReasonTimeout, true)
	})
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
}

func (s *Session) stopSetupTimer() {
	s.mu.Lock()
	t := s.timer
	s.timer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// end is terminal and idempotent. It stops every local track and closes the
// peer connection before returning; queued work is discarded and a
// negotiation step in flight finds the link closed and sends nothing.
func (s *Session) end(reason EndReason, notifyRemote bool) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateEnded
	s.reason = reason
	s.endedAt = time.Now()
	link := s.link
	timer := s.timer
	s.timer = nil
	s.mu.Unlock()

	s.cancel()
	s.tasks.Close()
	if timer != nil {
		timer.Stop()
	}
	if prev == StateIncoming {
		s.ringer.Stop()
	}
	s.router.Close()
	if link != nil {
		link.Close()
	}
	s.remote.close()
	s.logf("ended (%s) from %s", reason, prev)

	if notifyRemote && prev != StateIdle {
		ctx, cancel := context.WithTimeout(context.Background(), util.DefaultSendTimeout)
		err := s.ch.Send(ctx, EvCallEnd, CallSignalPayload{From: s.selfID, Reason: reason})
		cancel()
		if err != nil {
			s.logf("%v: call-end: %v", ErrSignaling, err)
		}
	}
	close(s.done)

	ev := s.event(EventState)
	ev.State = StateEnded
	ev.Reason = reason
	s.emit(ev)
	if s.onEnded != nil {
		s.onEnded(s, prev)
	}
}

// toggle runs fn on the task queue while connected. A second toggle of the
// same name while the first is queued or running returns ErrBusy.
func (s *Session) toggle(ctx context.Context, name string, fn func() (bool, error)) (bool, error) {
	s.mu.Lock()
	if s.inflight[name] {
		s.mu.Unlock()
		return false, ErrBusy
	}
	s.inflight[name] = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}

	var result bool
	err := s.tasks.Run(ctx, func() error {
		defer release()
		if st := s.State(); st != StateConnected {
			return fmt.Errorf("%w: %s in state %s", ErrNotConnected, name, st)
		}
		var err error
		result, err = fn()
		return err
	})
	if errors.Is(err, ErrClosed) {
		release()
	}
	if err != nil {
		return false, err
	}
	return result, nil
}

// ToggleMic flips the microphone and returns whether it is now on. While
// deafened the microphone stays off.
func (s *Session) ToggleMic(ctx context.Context) (bool, error) {
	return s.toggle(ctx, "mic", func() (bool, error) {
		s.mu.Lock()
		if s.deafened {
			s.mu.Unlock()
			s.logf("mic toggle ignored while deafened")
			return false, nil
		}
		s.micOn = !s.micOn
		on := s.micOn
		s.mu.Unlock()

		s.router.SetMicEnabled(on)
		s.logf("mic on=%v", on)
		return on, nil
	})
}

// ToggleDeafen flips deafen and returns whether it is now on. Deafening
// forces the microphone off and silences the partner; undeafening restores
// the microphone to what it was before.
func (s *Session) ToggleDeafen(ctx context.Context) (bool, error) {
	return s.toggle(ctx, "deafen", func() (bool, error) {
		s.mu.Lock()
		deaf := !s.deafened
		s.deafened = deaf
		if deaf {
			s.micBeforeDeafen = s.micOn
			s.micOn = false
		} else {
			s.micOn = s.micBeforeDeafen
		}
		mic := s.micOn
		s.mu.Unlock()

		s.router.SetMicEnabled(mic)
		s.remote.SetDeafened(deaf)
		s.logf("deafened=%v mic on=%v", deaf, mic)
		s.broadcast(MetadataPayload{Deafened: boolPtr(deaf)})
		return deaf, nil
	})
}

// ToggleVideo flips the camera and returns whether it is now on. While
// screen sharing it switches to the camera.
func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	return s.toggle(ctx, "video", func() (bool, error) {
		switch s.router.Mode() {
		case VideoScreen:
			err := s.router.StopScreenShare(s.ctx, true)
			s.broadcast(MetadataPayload{IsScreenSharing: boolPtr(false)})
			if err != nil {
				s.logf("switch to camera: %v", err)
				s.notify(LevelWarn, "Camera unavailable")
				return false, err
			}
			return true, nil
		case VideoCamera:
			s.router.DisableCamera()
			s.logf("camera off")
			return false, nil
		default:
			if err := s.router.EnableCamera(s.ctx); err != nil {
				s.logf("enable camera: %v", err)
				s.notify(LevelWarn, "Camera unavailable")
				return false, err
			}
			s.logf("camera on")
			return true, nil
		}
	})
}

// ToggleScreenShare starts or stops screen sharing and returns whether it
// is now on.
func (s *Session) ToggleScreenShare(ctx context.Context) (bool, error) {
	return s.toggle(ctx, "screen", func() (bool, error) {
		if s.router.Mode() == VideoScreen {
			err := s.router.StopScreenShare(s.ctx, false)
			s.broadcast(MetadataPayload{IsScreenSharing: boolPtr(false)})
			return false, err
		}
		if err := s.router.StartScreenShare(s.ctx); err != nil {
			s.logf("start screen share: %v", err)
			s.notify(LevelWarn, "Screen sharing unavailable")
			return false, err
		}
		s.broadcast(MetadataPayload{IsScreenSharing: boolPtr(true)})
		return true, nil
	})
}

// screenEndedByHost takes the in-app stop path when the OS ends the capture.
func (s *Session) screenEndedByHost() {
	s.tasks.Post(func() {
		if s.router.Mode() != VideoScreen {
			return
		}
		s.logf("screen capture ended outside the app")
		if err := s.router.StopScreenShare(s.ctx, false); err != nil {
			s.logf("stop screen share: %v", err)
		}
		s.broadcast(MetadataPayload{IsScreenSharing: boolPtr(false)})
		s.notify(LevelInfo, "Screen sharing stopped")
	})
}

// SetRemoteVolume sets local playback volume for the partner, clamped to
// [0,1]. Nothing is sent to the partner.
func (s *Session) SetRemoteVolume(v float64) float64 {
	return s.remote.SetVolume(v)
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID     string              `json:"session_id"`
	Partner       Profile             `json:"partner"`
	Type          CallType            `json:"type"`
	State         State               `json:"state"`
	IsCaller      bool                `json:"is_caller"`
	Reason        EndReason           `json:"reason,omitempty"`
	MicOn         bool                `json:"mic_on"`
	VideoOn       bool                `json:"video_on"`
	VideoMode     VideoMode           `json:"video_mode"`
	Deafened      bool                `json:"deafened"`
	ScreenSharing bool                `json:"screen_sharing"`
	Volume        float64             `json:"volume"`
	Remote        Metadata            `json:"remote"`
	Link          *LinkStatus         `json:"link,omitempty"`
	RTP           map[string]RTPStats `json:"rtp"`
	StartedAt     time.Time           `json:"started_at"`
	ConnectedAt   *time.Time          `json:"connected_at,omitempty"`
}

func (s *Session) Status() Status {
	mode := s.router.Mode()

	s.mu.Lock()
	st := Status{
		SessionID:     s.id,
		Partner:       s.partner,
		Type:          s.callType,
		State:         s.state,
		IsCaller:      s.caller,
		Reason:        s.reason,
		MicOn:         s.micOn,
		VideoOn:       mode == VideoCamera,
		VideoMode:     mode,
		Deafened:      s.deafened,
		ScreenSharing: mode == VideoScreen,
		Remote:        s.remoteMeta,
		StartedAt:     s.startedAt,
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		st.ConnectedAt = &at
	}
	link := s.link
	s.mu.Unlock()

	st.Volume = s.remote.Volume()
	st.RTP = s.remote.Stats()
	if link != nil {
		ls := link.Status()
		st.Link = &ls
	}
	return st
}

// Record summarises the session for the call log.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{
		ID:          s.id,
		Partner:     s.partner,
		Incoming:    !s.caller,
		Type:        s.callType,
		Outcome:     outcome(s.caller, !s.connectedAt.IsZero(), s.reason),
		Reason:      s.reason,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
	}
}

func outcome(caller, connected bool, reason EndReason) string {
	if connected {
		return OutcomeCompleted
	}
	switch reason {
	case ReasonRejected:
		return OutcomeRejected
	case ReasonBusy:
		return OutcomeBusy
	case ReasonFailed:
		return OutcomeFailed
	}
	if caller {
		return OutcomeCancelled
	}
	return OutcomeMissed
}
