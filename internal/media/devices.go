package media

import (
	"context"
	"log"

	"github.com/pion/webrtc/v4"
)

// Devices opens local captures. Each call returns a fresh track.
type Devices interface {
	Microphone(ctx context.Context) (Track, error)
	Camera(ctx context.Context) (Track, error)
	Screen(ctx context.Context) (Track, error)
	// RegisterCodecs registers the codecs the returned tracks encode with.
	RegisterCodecs(me *webrtc.MediaEngine) error
}

// CaptureOptions tunes hardware capture.
type CaptureOptions struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

// TrackSet is the media a call starts with.
type TrackSet struct {
	Audio Track
	// Video is nil for audio calls and when the camera could not be opened.
	Video Track
	// VideoErr is the camera failure for a video call. It is not fatal.
	VideoErr error
}

// Stop releases every track in the set.
func (s TrackSet) Stop() {
	if s.Audio != nil {
		s.Audio.Stop()
	}
	if s.Video != nil {
		s.Video.Stop()
	}
}

// AcquireCallMedia opens the microphone, and the camera when withVideo is
// set. A microphone failure fails the whole acquisition; a camera failure
// degrades the set to audio only and is reported in VideoErr.
func AcquireCallMedia(ctx context.Context, d Devices, withVideo bool) (TrackSet, error) {
	mic, err := d.Microphone(ctx)
	if err != nil {
		return TrackSet{}, sourceError(SourceMicrophone, err)
	}
	set := TrackSet{Audio: mic}
	if !withVideo {
		return set, nil
	}

	cam, err := d.Camera(ctx)
	if err != nil {
		if ctx.Err() != nil {
			mic.Stop()
			return TrackSet{}, ctx.Err()
		}
		log.Printf("MEDIA: camera unavailable, continuing audio-only: %v", err)
		set.VideoErr = sourceError(SourceCamera, err)
		return set, nil
	}
	set.Video = cam
	return set, nil
}

// await runs open off the caller's goroutine so a cancelled ctx can abandon
// a slow device prompt. A track delivered after cancellation is stopped.
func await(ctx context.Context, source Source, open func() (Track, error)) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		t   Track
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := open()
		done <- result{t, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, sourceError(source, r.err)
		}
		return r.t, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.t != nil {
				log.Printf("MEDIA: %s delivered after cancel, stopping", source)
				r.t.Stop()
			}
		}()
		return nil, ctx.Err()
	}
}
