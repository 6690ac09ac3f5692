package depth

import "github.com/pkg/errors"

var (
	// ErrDecode is returned when a frame's pixel buffers cannot be read as a
	// depth grid. The next capture may succeed with a fresh frame.
	ErrDecode = errors.New("depth: decode failed")

	// ErrInvalidConfig is returned for sampling parameters that cannot
	// produce a well-defined walk or range.
	ErrInvalidConfig = errors.New("depth: invalid sampling config")
)

func decodeErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDecode, format, args...)
}
