package sensors

import (
	"math/rand/v2"
	"time"
)

// Span is the closed range a simulated field is drawn from.
type Span struct {
	Min, Max float64
}

// Simulated draws each field uniformly from its span. It stands in for
// I2C probes on hosts without the bus.
type Simulated struct {
	name   string
	fields map[string]Span
	now    func() time.Time
}

func NewSimulated(name string, fields map[string]Span) *Simulated {
	return &Simulated{name: name, fields: fields, now: time.Now}
}

// NewBMP280 simulates the barometer at I2C address 0x76.
func NewBMP280() *Simulated {
	return NewSimulated("bmp280", map[string]Span{
		"pressure":    {1000, 1050},
		"temperature": {20, 30},
	})
}

// NewGY32 simulates the BH1750 ambient light meter.
func NewGY32() *Simulated {
	return NewSimulated("gy32", map[string]Span{
		"light": {100, 500},
	})
}

func (s *Simulated) Name() string {
	return s.name
}

func (s *Simulated) Read() (Reading, error) {
	fields := make(map[string]float64, len(s.fields))
	for k, span := range s.fields {
		fields[k] = span.Min + rand.Float64()*(span.Max-span.Min)
	}
	return Reading{Probe: s.name, Fields: fields, Timestamp: s.now()}, nil
}
