// Package store ships capture output and probe readings to InfluxDB.
package store

import (
	"log"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Uranury/depthsense/sensors"
	"github.com/Uranury/depthsense/session"
)

const (
	MeasurementSample      = "depth_sample"
	MeasurementCapture     = "depth_capture"
	MeasurementEnvironment = "device_environment"
)

// Recorder accepts engine output for storage.
type Recorder interface {
	WriteCapture(c session.Capture)
	WriteReading(r sensors.Reading)
	Close()
}

// Influx writes through the client's non-blocking write API, which
// batches and retries on its own.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPI
}

var _ Recorder = (*Influx)(nil)

func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	s := &Influx{
		client: client,
		writer: client.WriteAPI(org, bucket),
	}
	go s.logErrors()
	return s
}

func (s *Influx) logErrors() {
	for err := range s.writer.Errors() {
		log.Printf("influx write error: %v", err)
	}
}

func (s *Influx) WriteCapture(c session.Capture) {
	for _, p := range CapturePoints(c) {
		s.writer.WritePoint(p)
	}
}

func (s *Influx) WriteReading(r sensors.Reading) {
	s.writer.WritePoint(ReadingPoint(r))
}

// Close flushes pending points and closes the client.
func (s *Influx) Close() {
	s.writer.Flush()
	s.client.Close()
}

// CapturePoints converts a capture into one point per sample plus one
// summary point. An empty capture yields nothing.
func CapturePoints(c session.Capture) []*write.Point {
	if c.Summary == nil {
		return nil
	}
	sessionID := c.SessionID.String()
	out := make([]*write.Point, 0, len(c.Points)+1)
	for _, sp := range c.Points {
		fields := map[string]interface{}{
			"x":     sp.PixelX,
			"y":     sp.PixelY,
			"depth": float64(sp.DepthMeters),
		}
		if sp.Confidence != nil {
			fields["confidence"] = int(*sp.Confidence)
		}
		tags := map[string]string{"session": sessionID}
		out = append(out, influxdb2.NewPoint(MeasurementSample, tags, fields, sp.CapturedAt))
	}

	s := c.Summary
	p := influxdb2.NewPointWithMeasurement(MeasurementCapture).
		AddTag("session", sessionID).
		AddField("width", s.Width).
		AddField("height", s.Height).
		AddField("stride", s.Stride).
		AddField("visited", s.Visited).
		AddField("kept", s.Kept).
		AddField("dropped", s.Dropped).
		AddField("mean_depth", s.MeanDepth).
		AddField("stddev_depth", s.StdDevDepth)
	if s.MeanConfidence != nil {
		p.AddField("mean_confidence", *s.MeanConfidence)
	}
	p.SetTime(c.CapturedAt)
	return append(out, p)
}

func ReadingPoint(r sensors.Reading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(MeasurementEnvironment).
		AddTag("probe", r.Probe).
		SetTime(r.Timestamp)
	for k, v := range r.Fields {
		p.AddField(k, v)
	}
	return p
}

// Discard drops everything. It is used when no InfluxDB is configured.
type Discard struct{}

var _ Recorder = Discard{}

func (Discard) WriteCapture(session.Capture) {}
func (Discard) WriteReading(sensors.Reading) {}
func (Discard) Close()                       {}
