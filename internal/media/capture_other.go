//go:build !linux || !cgo

package media

// NewCapture is only available on Linux; other platforms run with
// NewSynthetic devices.
func NewCapture(opts CaptureOptions) (Devices, error) {
	return nil, ErrUnsupported
}
