// Package call runs one-to-one WebRTC calls on top of pion. Signaling goes
// over a per-pair broadcast channel; the package depends on the rest of
// goopcall only through the signal, media and small collaborator interfaces.
package call

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signal"
	"github.com/petervdpas/goopcall/internal/util"
)

// Options wires a Manager. SelfID, Hub, Devices and NewConn are required.
type Options struct {
	SelfID       string
	Hub          signal.Hub
	Devices      media.Devices
	NewConn      ConnFactory
	Profiles     ProfileSource
	Ringer       Ringer
	Notifier     Notifier
	Playback     PlaybackSink
	CallLog      CallLog
	SetupTimeout time.Duration
}

// Manager owns the single active call and the pair channels it listens on.
type Manager struct {
	selfID   string
	hub      signal.Hub
	devices  media.Devices
	profiles ProfileSource
	ringer   Ringer
	notifier Notifier
	playback PlaybackSink
	callLog  CallLog

	cfgMu        sync.RWMutex
	newConn      ConnFactory
	setupTimeout time.Duration

	mu       sync.Mutex
	active   *Session
	channels map[string]*pairChannel

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type pairChannel struct {
	ch     signal.Channel
	cancel func()
}

func New(opts Options) *Manager {
	ringer := opts.Ringer
	if ringer == nil {
		ringer = logRinger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		selfID:       opts.SelfID,
		hub:          opts.Hub,
		devices:      opts.Devices,
		profiles:     opts.Profiles,
		ringer:       ringer,
		notifier:     opts.Notifier,
		playback:     opts.Playback,
		callLog:      opts.CallLog,
		newConn:      opts.NewConn,
		setupTimeout: opts.SetupTimeout,
		channels:     make(map[string]*pairChannel),
		listeners:    make(map[chan Event]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (m *Manager) SelfID() string { return m.selfID }

// Configure replaces the connection factory and setup timeout used for
// calls started from now on. A nil factory keeps the current one.
func (m *Manager) Configure(newConn ConnFactory, setupTimeout time.Duration) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if newConn != nil {
		m.newConn = newConn
	}
	m.setupTimeout = setupTimeout
}

// Listen joins the pair channel shared with partnerID so calls from them
// are received. Listening twice is a no-op.
func (m *Manager) Listen(ctx context.Context, partnerID string) error {
	_, err := m.channel(ctx, partnerID)
	return err
}

// Unlisten leaves the pair channel for partnerID.
func (m *Manager) Unlisten(partnerID string) {
	m.mu.Lock()
	pc, ok := m.channels[partnerID]
	delete(m.channels, partnerID)
	m.mu.Unlock()
	if ok {
		pc.cancel()
		_ = pc.ch.Close()
	}
}

// Partners lists the ids this manager listens for, sorted.
func (m *Manager) Partners() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (m *Manager) channel(ctx context.Context, partnerID string) (signal.Channel, error) {
	if partnerID == "" || partnerID == m.selfID {
		return nil, fmt.Errorf("%w: invalid partner %q", ErrInvalidState, partnerID)
	}
	m.mu.Lock()
	if pc, ok := m.channels[partnerID]; ok {
		m.mu.Unlock()
		return pc.ch, nil
	}
	m.mu.Unlock()

	name := signal.PairName(m.selfID, partnerID)
	ch, err := m.hub.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSignaling, name, err)
	}
	events, cancel := ch.Subscribe()

	m.mu.Lock()
	if pc, ok := m.channels[partnerID]; ok {
		m.mu.Unlock()
		cancel()
		_ = ch.Close()
		return pc.ch, nil
	}
	m.channels[partnerID] = &pairChannel{ch: ch, cancel: cancel}
	m.mu.Unlock()

	if err := ch.Track(ctx, m.selfID); err != nil {
		log.Printf("CALL: presence on %s: %v", name, err)
	}
	go m.dispatchLoop(partnerID, events)
	log.Printf("CALL: listening on %s", name)
	return ch, nil
}

// dispatchLoop handles one pair channel in arrival order.
func (m *Manager) dispatchLoop(partnerID string, events <-chan *signal.Envelope) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			m.dispatch(partnerID, env)
		}
	}
}

func (m *Manager) dispatch(partnerID string, env *signal.Envelope) {
	from := senderOf(env.Payload)
	if from == m.selfID {
		return
	}
	if from != partnerID {
		log.Printf("CALL [%s]: %s from unexpected sender %q dropped", partnerID, env.Event, from)
		return
	}

	if env.Event == EvCallRequest {
		m.handleRequest(partnerID, env)
		return
	}

	sess := m.Active()
	if sess == nil || sess.partner.ID != partnerID {
		log.Printf("CALL [%s]: %s with no matching call dropped", partnerID, env.Event)
		return
	}
	sess.handle(env)
}

func (m *Manager) handleRequest(partnerID string, env *signal.Envelope) {
	var req CallRequestPayload
	if err := env.Decode(&req); err != nil {
		log.Printf("CALL [%s]: %v", partnerID, err)
		return
	}
	if !req.Type.Valid() {
		log.Printf("CALL [%s]: call-request with unknown type %q dropped", partnerID, req.Type)
		return
	}

	if active := m.Active(); active != nil {
		switch {
		case active.partner.ID != partnerID:
			log.Printf("CALL [%s]: busy with %s, declining", partnerID, active.partner.ID)
			m.sendBusy(partnerID)
			return
		case active.caller && active.State() == StateCalling:
			// Both sides dialled each other. The smaller id keeps its call;
			// the other side drops its own and takes the incoming one.
			if m.selfID < partnerID {
				log.Printf("CALL [%s]: crossed call-request, keeping ours", partnerID)
				return
			}
			log.Printf("CALL [%s]: crossed call-request, taking theirs", partnerID)
			active.end(ReasonHangup, false)
		default:
			log.Printf("CALL [%s]: new call-request replaces call in state %s", partnerID, active.State())
			active.end(ReasonRemote, false)
		}
	}

	ch, err := m.channel(m.ctx, partnerID)
	if err != nil {
		log.Printf("CALL [%s]: %v", partnerID, err)
		return
	}
	profile := m.profile(m.ctx, partnerID)
	sess := m.newSession(profile, ch, req.Type, false)
	if !m.claim(sess) {
		m.sendBusy(partnerID)
		return
	}
	sess.ring()
	m.emit(sess.event(EventIncoming))
	m.notify(sess, LevelInfo, "Incoming "+string(req.Type)+" call from "+profile.Name)
}

func (m *Manager) sendBusy(partnerID string) {
	m.mu.Lock()
	pc, ok := m.channels[partnerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, util.DefaultSendTimeout)
	defer cancel()
	if err := pc.ch.Send(ctx, EvCallBusy, CallSignalPayload{From: m.selfID, Reason: ReasonBusy}); err != nil {
		log.Printf("CALL [%s]: %v: call-busy: %v", partnerID, ErrSignaling, err)
	}
}

func (m *Manager) profile(ctx context.Context, id string) Profile {
	fallback := Profile{ID: id, Name: id}
	if m.profiles == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, util.DefaultSendTimeout)
	defer cancel()
	p, err := m.profiles.Profile(ctx, id)
	if err != nil {
		log.Printf("CALL [%s]: profile lookup: %v", id, err)
		return fallback
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.Name == "" {
		p.Name = id
	}
	return p
}

func (m *Manager) newSession(partner Profile, ch signal.Channel, t CallType, caller bool) *Session {
	m.cfgMu.RLock()
	newConn, timeout := m.newConn, m.setupTimeout
	m.cfgMu.RUnlock()

	return newSession(sessionConfig{
		SelfID:       m.selfID,
		Partner:      partner,
		Type:         t,
		Caller:       caller,
		Channel:      ch,
		Devices:      m.devices,
		NewConn:      newConn,
		Ringer:       m.ringer,
		Playback:     m.playback,
		SetupTimeout: timeout,
		Emit:         m.emit,
		Notify:       m.notify,
		OnEnded:      m.sessionEnded,
	})
}

// claim makes sess the active session if there is none.
func (m *Manager) claim(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return false
	}
	m.active = sess
	return true
}

func (m *Manager) sessionEnded(sess *Session, prev State) {
	m.mu.Lock()
	if m.active == sess {
		m.active = nil
	}
	m.mu.Unlock()

	if prev == StateIdle || m.callLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultSendTimeout)
	defer cancel()
	if err := m.callLog.RecordCall(ctx, sess.Record()); err != nil {
		log.Printf("CALL [%s]: call log: %v", sess.partner.ID, err)
	}
}

// StartCall dials partnerID. Media is acquired before anything is sent; a
// microphone failure is returned as a *media.Error and nothing rings.
func (m *Manager) StartCall(ctx context.Context, partnerID string, t CallType) (*Session, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown call type %q", ErrInvalidState, t)
	}
	if m.Active() != nil {
		return nil, ErrCallActive
	}
	ch, err := m.channel(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if ids, err := ch.Presence(ctx); err == nil && !slices.Contains(ids, partnerID) {
		log.Printf("CALL [%s]: partner not present on %s, ringing anyway", partnerID, ch.Name())
	}

	sess := m.newSession(m.profile(ctx, partnerID), ch, t, true)
	if !m.claim(sess) {
		return nil, ErrCallActive
	}
	if err := sess.dial(ctx); err != nil {
		m.notify(sess, LevelError, "Could not start the call: "+err.Error())
		sess.end(ReasonFailed, false)
		return nil, err
	}
	log.Printf("CALL [%s]: %s call started (%s)", partnerID, t, sess.id)
	return sess, nil
}

// Active returns the current session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) require() (*Session, error) {
	if s := m.Active(); s != nil {
		return s, nil
	}
	return nil, ErrNoSession
}

// Answer accepts the incoming call.
func (m *Manager) Answer(ctx context.Context) (*Session, error) {
	s, err := m.require()
	if err != nil {
		return nil, err
	}
	return s, s.Answer(ctx)
}

// Reject declines the incoming call.
func (m *Manager) Reject() error {
	s, err := m.require()
	if err != nil {
		return err
	}
	return s.Reject()
}

// Hangup ends the active call.
func (m *Manager) Hangup() error {
	s, err := m.require()
	if err != nil {
		return err
	}
	s.Hangup()
	return nil
}

func (m *Manager) ToggleMic(ctx context.Context) (bool, error) {
	s, err := m.require()
	if err != nil {
		return false, err
	}
	return s.ToggleMic(ctx)
}

func (m *Manager) ToggleVideo(ctx context.Context) (bool, error) {
	s, err := m.require()
	if err != nil {
		return false, err
	}
	return s.ToggleVideo(ctx)
}

func (m *Manager) ToggleDeafen(ctx context.Context) (bool, error) {
	s, err := m.require()
	if err != nil {
		return false, err
	}
	return s.ToggleDeafen(ctx)
}

func (m *Manager) ToggleScreenShare(ctx context.Context) (bool, error) {
	s, err := m.require()
	if err != nil {
		return false, err
	}
	return s.ToggleScreenShare(ctx)
}

func (m *Manager) SetRemoteVolume(v float64) (float64, error) {
	s, err := m.require()
	if err != nil {
		return 0, err
	}
	return s.SetRemoteVolume(v), nil
}

// Status reports the active session, if any.
func (m *Manager) Status() (Status, bool) {
	s := m.Active()
	if s == nil {
		return Status{}, false
	}
	return s.Status(), true
}

// Subscribe returns a channel of call events. Slow subscribers miss events
// rather than stall calls.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) emit(ev Event) {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for ch := range m.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) notify(s *Session, level, message string) {
	log.Printf("CALL [%s]: notice (%s): %s", s.partner.ID, level, message)
	if m.notifier != nil {
		m.notifier.Notify(level, message)
	}
	ev := s.event(EventNotice)
	ev.Level = level
	ev.Message = message
	m.emit(ev)
}

// Close ends the active call and leaves every channel.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if s := m.Active(); s != nil {
			s.end(ReasonShutdown, true)
		}
		m.cancel()

		m.mu.Lock()
		channels := m.channels
		m.channels = make(map[string]*pairChannel)
		m.mu.Unlock()
		for _, pc := range channels {
			pc.cancel()
			_ = pc.ch.Close()
		}
	})
}

type logRinger struct{}

func (logRinger) Start(p Profile) { log.Printf("CALL [%s]: ringing (%s)", p.ID, p.Name) }
func (logRinger) Stop()           {}
