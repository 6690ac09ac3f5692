package depth

import (
	"iter"
	"time"
)

// Visit yields the grid coordinates a stride walk touches, y ascending in
// the outer loop and x ascending in the inner one. A stride below one
// yields nothing.
func Visit(width, height, stride int) iter.Seq2[int, int] {
	return func(yield func(x, y int) bool) {
		if stride < 1 {
			return
		}
		for y := 0; y < height; y += stride {
			for x := 0; x < width; x += stride {
				if !yield(x, y) {
					return
				}
			}
		}
	}
}

// Sample walks frame with cfg's stride and yields the readings inside
// (RangeMin, RangeMax). cfg must already be normalised. Each point is
// stamped with clock() at the moment it is yielded.
func Sample(frame Frame, cfg Config, clock func() time.Time) iter.Seq[SamplePoint] {
	if clock == nil {
		clock = time.Now
	}
	return func(yield func(SamplePoint) bool) {
		for x, y := range Visit(frame.Width, frame.Height, cfg.Stride) {
			d := frame.At(x, y)
			// NaN fails both comparisons and is dropped here too.
			if !(d > cfg.RangeMin && d < cfg.RangeMax) {
				continue
			}
			p := SamplePoint{PixelX: x, PixelY: y, DepthMeters: d}
			if c, ok := frame.ConfidenceAt(x, y); ok {
				if cfg.MinConfidence != nil && c < *cfg.MinConfidence {
					continue
				}
				p.Confidence = &c
			}
			p.CapturedAt = clock()
			if !yield(p) {
				return
			}
		}
	}
}

// MaxSamples is the number of cells a stride walk visits, the upper bound
// on the points Sample can yield.
func MaxSamples(width, height, stride int) int {
	if stride < 1 || width <= 0 || height <= 0 {
		return 0
	}
	return ceilDiv(width, stride) * ceilDiv(height, stride)
}

// ceilDiv assumes a > 0 and b > 0; it does not overflow for any such pair.
func ceilDiv(a, b int) int {
	return (a-1)/b + 1
}
