package framesource

import (
	"encoding/binary"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Uranury/depthsense/depth"
)

// SimulatedConfig shapes the synthetic depth camera.
type SimulatedConfig struct {
	Width         int
	Height        int
	FPS           int
	SupportsDepth bool
	Confidence    bool
}

// DefaultSimulatedConfig matches the scene-depth resolution of a phone
// LiDAR camera.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Width:         256,
		Height:        192,
		FPS:           30,
		SupportsDepth: true,
		Confidence:    true,
	}
}

// Simulated is a FrameSource that renders a noisy tilted floor with
// dropouts and saturated cells. It stands in for the real camera on
// development hosts.
type Simulated struct {
	cfg SimulatedConfig

	mu       sync.Mutex
	sessions map[uuid.UUID]*simSession
}

var _ FrameSource = (*Simulated)(nil)

func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		def := DefaultSimulatedConfig()
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultSimulatedConfig().FPS
	}
	return &Simulated{cfg: cfg, sessions: make(map[uuid.UUID]*simSession)}
}

func (s *Simulated) Name() string {
	return "simulated-lidar"
}

func (s *Simulated) SupportsDepth() bool {
	return s.cfg.SupportsDepth
}

func (s *Simulated) Open(wantMesh bool) (Handle, error) {
	if !s.cfg.SupportsDepth {
		return Handle{}, ErrUnavailable
	}

	sess := &simSession{
		handle: Handle{ID: uuid.New()},
		mesh:   wantMesh,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.handle.ID] = sess
	s.mu.Unlock()

	go sess.run(s.cfg)
	log.Printf("%s: session %s opened (mesh=%v, %dx%d @ %d fps)",
		s.Name(), sess.handle, wantMesh, s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	return sess.handle, nil
}

func (s *Simulated) Close(h Handle) {
	s.mu.Lock()
	sess, ok := s.sessions[h.ID]
	delete(s.sessions, h.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	close(sess.stop)
	<-sess.done

	// Waits for any plane still locked by a decoder.
	sess.bufMu.Lock()
	sess.released = true
	sess.latest = nil
	sess.bufMu.Unlock()
	log.Printf("%s: session %s closed", s.Name(), h)
}

func (s *Simulated) CurrentFrame(h Handle) (depth.FrameRef, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[h.ID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.bufMu.RLock()
	defer sess.bufMu.RUnlock()
	if sess.latest == nil {
		return nil, false
	}
	return sess.latest, true
}

// Shutdown closes every open session.
func (s *Simulated) Shutdown() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.sessions))
	for _, sess := range s.sessions {
		handles = append(handles, sess.handle)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.Close(h)
	}
}

type simSession struct {
	handle Handle
	mesh   bool
	stop   chan struct{}
	done   chan struct{}

	// bufMu is held for reading while a plane is locked and for writing
	// when the session releases its buffers.
	bufMu    sync.RWMutex
	released bool
	latest   *simFrame
}

func (sess *simSession) run(cfg SimulatedConfig) {
	defer close(sess.done)

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			frame := renderFrame(sess, cfg, rng)
			sess.bufMu.Lock()
			sess.latest = frame
			sess.bufMu.Unlock()
		}
	}
}

type simFrame struct {
	depth *simPlane
	conf  *simPlane
}

func (f *simFrame) DepthPlane() depth.Plane { return f.depth }

func (f *simFrame) ConfidencePlane() depth.Plane {
	if f.conf == nil {
		return nil
	}
	return f.conf
}

type simPlane struct {
	owner *simSession
	buf   depth.PixelBuffer
}

func (p *simPlane) Lock() (depth.PixelBuffer, error) {
	p.owner.bufMu.RLock()
	if p.owner.released {
		p.owner.bufMu.RUnlock()
		return depth.PixelBuffer{}, ErrReleased
	}
	return p.buf, nil
}

func (p *simPlane) Unlock() {
	p.owner.bufMu.RUnlock()
}

// rowAlign mirrors the 64-byte row alignment of camera pixel buffers.
const rowAlign = 64

func alignRow(n int) int {
	return (n + rowAlign - 1) / rowAlign * rowAlign
}

func renderFrame(sess *simSession, cfg SimulatedConfig, rng *rand.Rand) *simFrame {
	w, h := cfg.Width, cfg.Height
	depthBPR := alignRow(w * 4)
	depthData := make([]byte, depthBPR*h)

	var confBPR int
	var confData []byte
	if cfg.Confidence {
		confBPR = alignRow(w)
		confData = make([]byte, confBPR*h)
	}

	for y := 0; y < h; y++ {
		// Floor seen from a tilted camera: far at the top row, near at the bottom.
		base := 4.5 - 3.5*float64(y)/float64(h)
		for x := 0; x < w; x++ {
			d := base + 0.15*math.Sin(float64(x)/12) + rng.NormFloat64()*0.01
			conf := uint8(2)
			switch r := rng.Float64(); {
			case r < 0.02:
				d, conf = 0, 0
			case r < 0.04:
				d, conf = 5.5+rng.Float64(), 0
			case x < 4 || x >= w-4:
				conf = 1
			}
			binary.NativeEndian.PutUint32(depthData[y*depthBPR+x*4:], math.Float32bits(float32(d)))
			if confData != nil {
				confData[y*confBPR+x] = conf
			}
		}
	}

	frame := &simFrame{depth: &simPlane{owner: sess, buf: depth.PixelBuffer{
		Format: depth.FormatDepthFloat32, Width: w, Height: h, BytesPerRow: depthBPR, Data: depthData,
	}}}
	if confData != nil {
		frame.conf = &simPlane{owner: sess, buf: depth.PixelBuffer{
			Format: depth.FormatConfidenceUint8, Width: w, Height: h, BytesPerRow: confBPR, Data: confData,
		}}
	}
	return frame
}
