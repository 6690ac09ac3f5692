// Package sensors polls the device's environment probes. Readings are
// published next to depth captures because time-of-flight depth drifts
// with ambient temperature and strong light.
package sensors

import (
	"context"
	"log"
	"time"
)

// Reading is one probe sample.
type Reading struct {
	Probe     string             `json:"probe"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp time.Time          `json:"timestamp"`
}

// Probe is an environment sensor.
type Probe interface {
	Name() string
	Read() (Reading, error)
}

// Poll reads every probe each interval and hands successful readings to
// publish until ctx is cancelled. Read errors are logged and the probe is
// skipped for that round.
func Poll(ctx context.Context, probes []Probe, interval time.Duration, publish func(Reading)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range probes {
				r, err := p.Read()
				if err != nil {
					log.Printf("Error reading %s: %v", p.Name(), err)
					continue
				}
				publish(r)
			}
		}
	}
}
