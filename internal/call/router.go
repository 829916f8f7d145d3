package call

import (
	"context"
	"sync"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/pion/webrtc/v4"
)

// trackSink receives the router's outbound tracks. PeerLink implements it.
type trackSink interface {
	Attach(kind media.Kind, track webrtc.TrackLocal) error
	Detach(kind media.Kind) error
}

// Router owns the local tracks of a call and decides what feeds each
// sender: the microphone on audio, and camera, screen or nothing on video.
// At most one video track is live at a time.
type Router struct {
	devices media.Devices
	logf    func(format string, args ...any)

	mu            sync.Mutex
	sink          trackSink
	audio         media.Track
	camera        media.Track
	screen        media.Track
	mode          VideoMode
	onScreenEnded func()
	closed        bool
}

func newRouter(devices media.Devices, logf func(string, ...any)) *Router {
	return &Router{devices: devices, logf: logf, mode: VideoNone}
}

// Acquire opens the call's initial media. A camera failure is returned in
// the set's VideoErr and leaves the router audio only.
func (r *Router) Acquire(ctx context.Context, withVideo bool) (media.TrackSet, error) {
	set, err := media.AcquireCallMedia(ctx, r.devices, withVideo)
	if err != nil {
		return set, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		set.Stop()
		return media.TrackSet{}, ErrClosed
	}
	r.audio = set.Audio
	if set.Video != nil {
		r.camera = set.Video
		r.mode = VideoCamera
	}
	return set, nil
}

// Bind attaches the current tracks to sink. Later changes go to it directly.
func (r *Router) Bind(sink trackSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.sink = sink
	if r.audio != nil {
		if err := r.attach(media.KindAudio, r.audio); err != nil {
			return err
		}
	}
	if v := r.videoLocked(); v != nil {
		return r.attach(media.KindVideo, v)
	}
	return nil
}

// OnScreenEnded registers fn for a screen capture ended outside the app.
func (r *Router) OnScreenEnded(fn func()) {
	r.mu.Lock()
	r.onScreenEnded = fn
	r.mu.Unlock()
}

func (r *Router) Mode() VideoMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Router) SetMicEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audio != nil {
		r.audio.SetEnabled(on)
	}
}

func (r *Router) MicEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio != nil && r.audio.Enabled() && !r.audio.Stopped()
}

// Tracks returns the live audio and video tracks; either may be nil.
func (r *Router) Tracks() (audio, video media.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio, r.videoLocked()
}

// EnableCamera turns the camera on, re-enabling an existing camera track in
// place or acquiring a new one.
func (r *Router) EnableCamera(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.mode == VideoScreen {
		return ErrInvalidState
	}
	if r.camera != nil && !r.camera.Stopped() {
		r.camera.SetEnabled(true)
		r.mode = VideoCamera
		return nil
	}

	cam, err := r.devices.Camera(ctx)
	if err != nil {
		return err
	}
	if err := r.attach(media.KindVideo, cam); err != nil {
		cam.Stop()
		return err
	}
	r.camera = cam
	r.mode = VideoCamera
	return nil
}

// DisableCamera mutes the camera in place. The sender keeps its track.
func (r *Router) DisableCamera() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.camera != nil {
		r.camera.SetEnabled(false)
	}
	if r.mode == VideoCamera {
		r.mode = VideoNone
	}
}

// StartScreenShare replaces the video sender's track with a screen capture
// and stops the camera it supersedes. Starting while already sharing is a
// no-op.
func (r *Router) StartScreenShare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.mode == VideoScreen {
		return nil
	}

	screen, err := r.devices.Screen(ctx)
	if err != nil {
		return err
	}
	screen.OnEnded(func() { r.screenEnded(screen) })
	if err := r.attach(media.KindVideo, screen); err != nil {
		screen.Stop()
		return err
	}
	if r.camera != nil {
		r.camera.Stop()
		r.camera = nil
	}
	r.screen = screen
	r.mode = VideoScreen
	r.logf("screen share started (%s)", screen.ID())
	return nil
}

func (r *Router) screenEnded(t media.Track) {
	r.mu.Lock()
	current := r.screen == t
	fn := r.onScreenEnded
	r.mu.Unlock()
	if current && fn != nil {
		fn()
	}
}

// StopScreenShare stops the screen track, recovers the microphone if it
// ended, then switches to a fresh camera or clears the video sender.
func (r *Router) StopScreenShare(ctx context.Context, switchToCamera bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.mode != VideoScreen {
		return nil
	}
	if r.screen != nil {
		r.screen.Stop()
		r.screen = nil
	}
	r.mode = VideoNone
	r.recoverMicLocked(ctx)

	if switchToCamera {
		cam, err := r.devices.Camera(ctx)
		if err == nil {
			err = r.attach(media.KindVideo, cam)
			if err != nil {
				cam.Stop()
			}
		}
		if err != nil {
			r.detach(media.KindVideo)
			return err
		}
		r.camera = cam
		r.mode = VideoCamera
		return nil
	}
	r.detach(media.KindVideo)
	return nil
}

// recoverMicLocked replaces a microphone that ended underneath us, keeping
// the user's mute choice.
func (r *Router) recoverMicLocked(ctx context.Context) {
	if r.audio != nil && !r.audio.Stopped() {
		return
	}
	enabled := r.audio == nil || r.audio.Enabled()
	mic, err := r.devices.Microphone(ctx)
	if err != nil {
		r.logf("microphone recovery failed: %v", err)
		return
	}
	mic.SetEnabled(enabled)
	if err := r.attach(media.KindAudio, mic); err != nil {
		r.logf("microphone recovery attach failed: %v", err)
		mic.Stop()
		return
	}
	r.audio = mic
	r.logf("microphone recovered (%s)", mic.ID())
}

// Close stops every track. The router is unusable afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, t := range []media.Track{r.audio, r.camera, r.screen} {
		if t != nil {
			t.Stop()
		}
	}
	r.audio, r.camera, r.screen = nil, nil, nil
	r.mode = VideoNone
	r.sink = nil
}

func (r *Router) videoLocked() media.Track {
	switch {
	case r.screen != nil:
		return r.screen
	case r.camera != nil:
		return r.camera
	}
	return nil
}

func (r *Router) attach(kind media.Kind, t media.Track) error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Attach(kind, t.Local())
}

func (r *Router) detach(kind media.Kind) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Detach(kind); err != nil {
		r.logf("clear %s sender: %v", kind, err)
	}
}
