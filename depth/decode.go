package depth

import (
	"encoding/binary"
	"math"
)

// PixelFormat identifies the layout of one cell in a PixelBuffer.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	// FormatDepthFloat32 is one native-endian float32 distance in meters per cell.
	FormatDepthFloat32
	// FormatConfidenceUint8 is one confidence level per cell.
	FormatConfidenceUint8
)

func (f PixelFormat) String() string {
	switch f {
	case FormatDepthFloat32:
		return "depth-float32"
	case FormatConfidenceUint8:
		return "confidence-uint8"
	default:
		return "unknown"
	}
}

func (f PixelFormat) bytesPerCell() int {
	switch f {
	case FormatDepthFloat32:
		return 4
	case FormatConfidenceUint8:
		return 1
	default:
		return 0
	}
}

// PixelBuffer is a locked, read-only view of a sensor plane. Rows are
// BytesPerRow apart and may carry padding past Width cells.
type PixelBuffer struct {
	Format      PixelFormat
	Width       int
	Height      int
	BytesPerRow int
	Data        []byte
}

// Plane is a sensor-owned pixel buffer. Lock maps it for reading; every
// successful Lock must be paired with exactly one Unlock, after which the
// Data slice returned by Lock must not be touched.
type Plane interface {
	Lock() (PixelBuffer, error)
	Unlock()
}

// FrameRef is an opaque handle to the frame a FrameSource currently holds.
type FrameRef interface {
	DepthPlane() Plane
	// ConfidencePlane returns nil when the sensor reports no confidence.
	ConfidencePlane() Plane
}

// Decode copies the frame's planes into a Frame. Plane locks are released
// before Decode returns, on success and on failure.
func Decode(ref FrameRef) (Frame, error) {
	if ref == nil {
		return Frame{}, decodeErrorf("frame has no depth plane")
	}
	dp := ref.DepthPlane()
	if dp == nil {
		return Frame{}, decodeErrorf("frame has no depth plane")
	}

	var frame Frame
	err := readPlane(dp, FormatDepthFloat32, func(buf PixelBuffer) error {
		frame.Width, frame.Height = buf.Width, buf.Height
		frame.Depth = make([]float32, buf.Width*buf.Height)
		for y := 0; y < buf.Height; y++ {
			row := buf.Data[y*buf.BytesPerRow:]
			for x := 0; x < buf.Width; x++ {
				bits := binary.NativeEndian.Uint32(row[x*4:])
				frame.Depth[y*buf.Width+x] = math.Float32frombits(bits)
			}
		}
		return nil
	})
	if err != nil {
		return Frame{}, err
	}

	conf := ref.ConfidencePlane()
	if conf == nil {
		return frame, nil
	}
	err = readPlane(conf, FormatConfidenceUint8, func(buf PixelBuffer) error {
		if buf.Width != frame.Width || buf.Height != frame.Height {
			return decodeErrorf("confidence plane %dx%d does not match depth plane %dx%d",
				buf.Width, buf.Height, frame.Width, frame.Height)
		}
		frame.Confidence = make([]uint8, buf.Width*buf.Height)
		for y := 0; y < buf.Height; y++ {
			copy(frame.Confidence[y*buf.Width:(y+1)*buf.Width], buf.Data[y*buf.BytesPerRow:])
		}
		return nil
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// readPlane locks p, validates its layout against want and hands the
// buffer to fn. The unlock is deferred right after a successful lock so it
// also runs if fn panics on a buffer that lied about its layout.
func readPlane(p Plane, want PixelFormat, fn func(PixelBuffer) error) (err error) {
	buf, err := p.Lock()
	if err != nil {
		return decodeErrorf("lock %s plane: %v", want, err)
	}
	defer p.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = decodeErrorf("read %s plane: %v", want, r)
		}
	}()

	if err := checkLayout(buf, want); err != nil {
		return err
	}
	return fn(buf)
}

func checkLayout(buf PixelBuffer, want PixelFormat) error {
	if buf.Format != want {
		return decodeErrorf("pixel format %s, want %s", buf.Format, want)
	}
	if buf.Width <= 0 || buf.Height <= 0 {
		return decodeErrorf("empty %s plane %dx%d", want, buf.Width, buf.Height)
	}
	packed := buf.Width * want.bytesPerCell()
	if buf.BytesPerRow < packed {
		return decodeErrorf("%s row stride %d shorter than %d packed bytes", want, buf.BytesPerRow, packed)
	}
	if need := buf.BytesPerRow*(buf.Height-1) + packed; len(buf.Data) < need {
		return decodeErrorf("%s plane holds %d bytes, layout needs %d", want, len(buf.Data), need)
	}
	return nil
}
