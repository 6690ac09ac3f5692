package depth

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultStride   = 10
	DefaultRangeMin = 0.0
	DefaultRangeMax = 5.0
)

// Config controls how a frame is sampled. The zero value samples every
// tenth pixel and keeps depths in (0, 5.0) meters.
type Config struct {
	Stride   int     `json:"stride,omitempty" yaml:"stride"`
	RangeMin float32 `json:"rangeMin,omitempty" yaml:"range_min"`
	RangeMax float32 `json:"rangeMax,omitempty" yaml:"range_max"`

	// MinConfidence drops points whose confidence is below it. Nil keeps
	// every point; frames without a confidence grid are never filtered.
	MinConfidence *uint8 `json:"minConfidence,omitempty" yaml:"min_confidence"`
}

// DefaultConfig returns the sampling policy used when the caller supplies
// none.
func DefaultConfig() Config {
	return Config{
		Stride:   DefaultStride,
		RangeMin: DefaultRangeMin,
		RangeMax: DefaultRangeMax,
	}
}

// Normalize fills unset fields with defaults and rejects configurations
// that cannot be sampled.
func (c Config) Normalize() (Config, error) {
	if c.Stride == 0 {
		c.Stride = DefaultStride
	}
	if c.RangeMax == 0 {
		c.RangeMax = DefaultRangeMax
	}
	if c.Stride < 0 {
		return c, errors.Wrapf(ErrInvalidConfig, "stride %d", c.Stride)
	}
	if c.RangeMin < 0 || isBad(c.RangeMin) || isBad(c.RangeMax) {
		return c, errors.Wrapf(ErrInvalidConfig, "range (%v, %v)", c.RangeMin, c.RangeMax)
	}
	if c.RangeMax <= c.RangeMin {
		return c, errors.Wrapf(ErrInvalidConfig, "range max %v must exceed min %v", c.RangeMax, c.RangeMin)
	}
	return c, nil
}

func isBad(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Frame is a decoded depth snapshot. Depth and Confidence are row-major
// grids of Width*Height cells; Confidence is nil when the sensor did not
// report one.
type Frame struct {
	Width      int
	Height     int
	Depth      []float32
	Confidence []uint8
}

// At returns the depth at (x, y).
func (f Frame) At(x, y int) float32 {
	return f.Depth[y*f.Width+x]
}

// ConfidenceAt reports the confidence at (x, y) and whether the frame
// carries a confidence grid.
func (f Frame) ConfidenceAt(x, y int) (uint8, bool) {
	if f.Confidence == nil {
		return 0, false
	}
	return f.Confidence[y*f.Width+x], true
}

// SamplePoint is one kept reading. It is what downstream consumers store
// and serialise.
type SamplePoint struct {
	PixelX      int
	PixelY      int
	DepthMeters float32
	Confidence  *uint8
	CapturedAt  time.Time
}

type samplePointJSON struct {
	PixelX      int     `json:"pixelX"`
	PixelY      int     `json:"pixelY"`
	DepthMeters float32 `json:"depthMeters"`
	Confidence  *uint8  `json:"confidence,omitempty"`
	CapturedAt  float64 `json:"capturedAt"`
}

func (p SamplePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(samplePointJSON{
		PixelX:      p.PixelX,
		PixelY:      p.PixelY,
		DepthMeters: p.DepthMeters,
		Confidence:  p.Confidence,
		CapturedAt:  EpochSeconds(p.CapturedAt),
	})
}

func (p *SamplePoint) UnmarshalJSON(data []byte) error {
	var raw samplePointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = SamplePoint{
		PixelX:      raw.PixelX,
		PixelY:      raw.PixelY,
		DepthMeters: raw.DepthMeters,
		Confidence:  raw.Confidence,
		CapturedAt:  FromEpochSeconds(raw.CapturedAt),
	}
	return nil
}

// EpochSeconds expresses t as fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds is the inverse of EpochSeconds, to microsecond
// precision.
func FromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
