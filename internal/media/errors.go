package media

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDevice         = errors.New("no device available")
	ErrEnded            = errors.New("capture ended")
	ErrUnsupported      = errors.New("capture not supported on this platform")
)

// Error is an acquisition failure for one source.
type Error struct {
	Source Source
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("media: %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func sourceError(source Source, err error) error {
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return &Error{Source: source, Err: err}
}
