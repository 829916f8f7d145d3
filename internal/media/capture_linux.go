//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
)

// Capture opens real devices through pion/mediadevices: V4L2 cameras, the
// system microphone and X11 screen capture, encoded as VP8 and Opus.
type Capture struct {
	opts     CaptureOptions
	selector *mediadevices.CodecSelector

	mu  sync.Mutex
	seq int
}

// NewCapture builds the codec selector and logs the devices mediadevices can
// see.
func NewCapture(opts CaptureOptions) (Devices, error) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 640
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 480
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	if opts.VideoBitRate > 0 {
		vpxParams.BitRate = opts.VideoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	c := &Capture{
		opts: opts,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Printf("MEDIA: no media devices found by pion/mediadevices")
	}
	for _, d := range devices {
		log.Printf("MEDIA: device kind=%v label=%q", d.Kind, d.Label)
	}
	return c, nil
}

func (c *Capture) RegisterCodecs(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

func (c *Capture) Microphone(ctx context.Context) (Track, error) {
	return await(ctx, SourceMicrophone, func() (Track, error) { return c.open(SourceMicrophone) })
}

func (c *Capture) Camera(ctx context.Context) (Track, error) {
	return await(ctx, SourceCamera, func() (Track, error) { return c.open(SourceCamera) })
}

func (c *Capture) Screen(ctx context.Context) (Track, error) {
	return await(ctx, SourceScreen, func() (Track, error) { return c.open(SourceScreen) })
}

func (c *Capture) nextID(source Source) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("%s-%d", source, c.seq)
}

func (c *Capture) open(source Source) (Track, error) {
	t := &captureTrack{}
	t.init(c.nextID(source), source, nil)

	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	switch source {
	case SourceMicrophone:
		constraints.Audio = func(m *mediadevices.MediaTrackConstraints) {
			m.AudioTransform = t.silenceWhenMuted
		}
	case SourceCamera:
		constraints.Video = func(m *mediadevices.MediaTrackConstraints) {
			// Raw formats only. Some cameras expose an MJPEG node whose
			// malformed frames poison the VP8 encoder.
			m.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			m.Width = prop.IntRanged{Max: c.opts.MaxWidth}
			m.Height = prop.IntRanged{Max: c.opts.MaxHeight}
			m.VideoTransform = t.blackWhenMuted
		}
	case SourceScreen:
		constraints.Video = func(m *mediadevices.MediaTrackConstraints) {
			m.VideoTransform = t.blackWhenMuted
		}
	}

	var (
		stream mediadevices.MediaStream
		err    error
	)
	if source == SourceScreen {
		stream, err = mediadevices.GetDisplayMedia(constraints)
	} else {
		stream, err = mediadevices.GetUserMedia(constraints)
	}
	if err != nil {
		return nil, classify(err)
	}

	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, ErrNoDevice
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	mt := tracks[0]
	t.local = mt

	t.mu.Lock()
	t.release = func() { mt.Close() }
	t.mu.Unlock()

	mt.OnEnded(func(err error) {
		if err != nil {
			log.Printf("MEDIA: %s ended: %v", t.id, err)
		}
		t.end()
	})

	log.Printf("MEDIA: opened %s (%s)", source, t.id)
	return t, nil
}

// classify maps driver errors onto the media sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
}

type captureTrack struct {
	trackState
	local webrtc.TrackLocal

	blackMu sync.Mutex
	black   *image.YCbCr
}

func (t *captureTrack) Local() webrtc.TrackLocal { return t.local }

func (t *captureTrack) blackWhenMuted(r video.Reader) video.Reader {
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || t.Enabled() {
			return img, release, err
		}
		bounds := img.Bounds()
		if release != nil {
			release()
		}
		return t.blackFrame(bounds), func() {}, nil
	})
}

func (t *captureTrack) blackFrame(bounds image.Rectangle) image.Image {
	t.blackMu.Lock()
	defer t.blackMu.Unlock()
	if t.black != nil && t.black.Rect == bounds {
		return t.black
	}
	img := image.NewYCbCr(bounds, image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 16
	}
	for i := range img.Cb {
		img.Cb[i] = 128
	}
	for i := range img.Cr {
		img.Cr[i] = 128
	}
	t.black = img
	return img
}

func (t *captureTrack) silenceWhenMuted(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || t.Enabled() {
			return chunk, release, err
		}
		info := chunk.ChunkInfo()
		if release != nil {
			release()
		}
		return wave.NewInt16Interleaved(info), func() {}, nil
	})
}
