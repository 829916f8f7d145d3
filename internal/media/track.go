// Package media turns local capture devices (microphone, camera, screen)
// into track handles the call layer can attach to a peer connection. It owns
// device lifecycle: every handle it returns must eventually be stopped.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

// Kind reports which sender slot a source feeds.
func (s Source) Kind() Kind {
	if s == SourceMicrophone {
		return KindAudio
	}
	return KindVideo
}

// Track is one local capture.
//
// SetEnabled(false) mutes the source in place: the track keeps flowing
// silence or black frames and the peer connection never notices. Stop
// releases the device and is idempotent. OnEnded callbacks fire only when
// the capture ends for a reason other than Stop (device unplugged, the OS
// "stop sharing" control).
type Track interface {
	ID() string
	Source() Source
	Kind() Kind
	Local() webrtc.TrackLocal
	Enabled() bool
	SetEnabled(on bool)
	Stop()
	Stopped() bool
	OnEnded(fn func())
}

// trackState is the bookkeeping shared by every Track implementation.
type trackState struct {
	id     string
	source Source

	mu      sync.Mutex
	enabled bool
	stopped bool
	ended   []func()
	release func()
}

func (t *trackState) init(id string, source Source, release func()) {
	t.id = id
	t.source = source
	t.enabled = true
	t.release = release
}

func (t *trackState) ID() string     { return t.id }
func (t *trackState) Source() Source { return t.source }
func (t *trackState) Kind() Kind     { return t.source.Kind() }

func (t *trackState) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *trackState) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *trackState) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *trackState) OnEnded(fn func()) {
	t.mu.Lock()
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}

// Stop marks the track stopped before releasing the device, so an ended
// notification raised by the release itself is swallowed by end.
func (t *trackState) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.ended = nil
	release := t.release
	t.mu.Unlock()

	if release != nil {
		release()
	}
}

// end records an ending the application did not ask for and runs the
// OnEnded callbacks once.
func (t *trackState) end() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	callbacks := t.ended
	t.ended = nil
	release := t.release
	t.mu.Unlock()

	if release != nil {
		release()
	}
	for _, fn := range callbacks {
		fn()
	}
}
