// Package session owns the single depth-sensing session of the device and
// serialises every transition of it.
package session

import (
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Uranury/depthsense/depth"
	"github.com/Uranury/depthsense/framesource"
)

var (
	// ErrSensorUnavailable means the device cannot run a depth session.
	// Retrying will not help until the hardware changes.
	ErrSensorUnavailable = errors.New("session: depth sensor unavailable")

	// ErrNotScanning means Capture was called without a running session.
	ErrNotScanning = errors.New("session: not scanning")
)

type State int

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the controller.
type Status struct {
	State         State
	SessionID     uuid.UUID
	StartedAt     time.Time
	Captures      int
	LastCaptureAt time.Time
}

// Capture is the outcome of one capture call. Summary is nil and
// CapturedAt zero when the camera had no frame yet.
type Capture struct {
	SessionID  uuid.UUID
	CapturedAt time.Time
	Points     []depth.SamplePoint
	Summary    *depth.Summary
}

type sensingSession struct {
	id            uuid.UUID
	handle        framesource.Handle
	startedAt     time.Time
	captures      int
	lastCaptureAt time.Time
}

// Controller runs at most one sensing session against a FrameSource.
// Start, Stop, Capture and Status are mutually exclusive.
type Controller struct {
	src framesource.FrameSource
	now func() time.Time

	mu   sync.Mutex
	sess *sensingSession
}

type Option func(*Controller)

// WithClock replaces time.Now for session and sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(src framesource.FrameSource, opts ...Option) *Controller {
	c := &Controller{src: src, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAvailability reports whether the camera can run a depth session.
// It does not touch session state.
func (c *Controller) CheckAvailability() bool {
	return c.src.SupportsDepth()
}

// Start opens a depth session with scene reconstruction requested. Called
// while already scanning it restarts: the new hardware session is opened
// before the old one is closed, so a failed restart leaves the running
// session in place.
func (c *Controller) Start() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.src.SupportsDepth() {
		return c.statusLocked(), ErrSensorUnavailable
	}
	h, err := c.src.Open(true)
	if err != nil {
		if errors.Is(err, framesource.ErrUnavailable) {
			return c.statusLocked(), errors.Wrap(ErrSensorUnavailable, err.Error())
		}
		return c.statusLocked(), errors.Wrap(err, "open frame source")
	}

	prev := c.sess
	c.sess = &sensingSession{id: uuid.New(), handle: h, startedAt: c.now()}
	if prev != nil {
		c.src.Close(prev.handle)
		log.Printf("depth session %s restarted as %s", prev.id, c.sess.id)
	} else {
		log.Printf("depth session %s started", c.sess.id)
	}
	return c.statusLocked(), nil
}

// Stop closes the running session and returns the stop time. Stopping an
// idle controller only returns the time.
func (c *Controller) Stop() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		c.src.Close(c.sess.handle)
		log.Printf("depth session %s stopped after %d captures", c.sess.id, c.sess.captures)
		c.sess = nil
	}
	return c.now()
}

// Capture decodes the camera's current frame and samples it with cfg. No
// frame yet is not an error: the capture is empty. A decode failure leaves
// the session scanning.
func (c *Controller) Capture(cfg depth.Config) (Capture, error) {
	frame, cfg, g, err := c.grabFrame(cfg)
	if err != nil || !g.ok {
		return Capture{SessionID: g.id, Points: []depth.SamplePoint{}}, err
	}

	// frame is a private copy, so sampling runs outside the lock.
	points := slices.Collect(depth.Sample(frame, cfg, c.now))
	if points == nil {
		points = []depth.SamplePoint{}
	}
	summary := depth.Summarize(frame, cfg, points)
	return Capture{SessionID: g.id, CapturedAt: g.at, Points: points, Summary: &summary}, nil
}

type grab struct {
	id uuid.UUID
	at time.Time
	ok bool
}

// grabFrame decodes the current frame while holding the session lock so a
// concurrent Stop cannot release the buffer mid-decode.
func (c *Controller) grabFrame(cfg depth.Config) (depth.Frame, depth.Config, grab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return depth.Frame{}, cfg, grab{}, ErrNotScanning
	}
	g := grab{id: c.sess.id}
	cfg, err := cfg.Normalize()
	if err != nil {
		return depth.Frame{}, cfg, g, err
	}

	ref, ok := c.src.CurrentFrame(c.sess.handle)
	if !ok {
		return depth.Frame{}, cfg, g, nil
	}
	frame, err := depth.Decode(ref)
	if err != nil {
		return depth.Frame{}, cfg, g, err
	}
	g.at, g.ok = c.now(), true
	c.sess.captures++
	c.sess.lastCaptureAt = g.at
	return frame, cfg, g, nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	if c.sess == nil {
		return Status{State: Idle}
	}
	return Status{
		State:         Scanning,
		SessionID:     c.sess.id,
		StartedAt:     c.sess.startedAt,
		Captures:      c.sess.captures,
		LastCaptureAt: c.sess.lastCaptureAt,
	}
}
