package depth

import "gonum.org/v1/gonum/stat"

// Summary describes one capture as a whole.
type Summary struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Stride  int `json:"stride"`
	Visited int `json:"visited"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`

	MeanDepth   float64 `json:"meanDepth"`
	StdDevDepth float64 `json:"stdDevDepth"`

	// MeanConfidence is the average confidence of the kept points, nil when
	// the frame carried no confidence grid or nothing was kept.
	MeanConfidence *float64 `json:"meanConfidence,omitempty"`
}

// Summarize reduces the points kept from frame to capture statistics.
func Summarize(frame Frame, cfg Config, points []SamplePoint) Summary {
	s := Summary{
		Width:   frame.Width,
		Height:  frame.Height,
		Stride:  cfg.Stride,
		Visited: MaxSamples(frame.Width, frame.Height, cfg.Stride),
		Kept:    len(points),
	}
	s.Dropped = s.Visited - s.Kept
	if len(points) == 0 {
		return s
	}

	depths := make([]float64, len(points))
	var conf []float64
	for i, p := range points {
		depths[i] = float64(p.DepthMeters)
		if p.Confidence != nil {
			conf = append(conf, float64(*p.Confidence))
		}
	}
	if len(depths) > 1 {
		s.MeanDepth, s.StdDevDepth = stat.MeanStdDev(depths, nil)
	} else {
		s.MeanDepth = depths[0]
	}
	if len(conf) > 0 {
		m := stat.Mean(conf, nil)
		s.MeanConfidence = &m
	}
	return s
}
