// Package framesource defines the contract the depth engine consumes from
// the device's depth camera, plus a simulated camera for hosts without one.
package framesource

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Uranury/depthsense/depth"
)

var (
	// ErrUnavailable is returned by Open when the device cannot run a depth
	// session.
	ErrUnavailable = errors.New("framesource: depth sensing unavailable")

	// ErrReleased is returned when a plane is locked after its session
	// was closed.
	ErrReleased = errors.New("framesource: buffer released")
)

// Handle identifies one open hardware session.
type Handle struct {
	ID uuid.UUID
}

func (h Handle) String() string { return h.ID.String() }

// Valid reports whether h came from a successful Open.
func (h Handle) Valid() bool { return h.ID != uuid.Nil }

// FrameSource is a depth camera. Frames arrive on the camera's own timing;
// CurrentFrame returns whatever is newest, or false when nothing has been
// produced yet.
type FrameSource interface {
	SupportsDepth() bool
	Open(wantMesh bool) (Handle, error)
	Close(h Handle)
	CurrentFrame(h Handle) (depth.FrameRef, bool)
}
