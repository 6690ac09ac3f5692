package store

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/depthsense/depth"
	"github.com/Uranury/depthsense/sensors"
	"github.com/Uranury/depthsense/session"
)

func TestCapturePoints(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)
	conf := uint8(2)
	meanConf := 2.0
	id := uuid.MustParse("6f1c1c2e-6d8f-4c1e-9a51-0f6b1b8f3e11")
	c := session.Capture{
		SessionID:  id,
		CapturedAt: at,
		Points: []depth.SamplePoint{
			{PixelX: 0, PixelY: 0, DepthMeters: 2.0, Confidence: &conf, CapturedAt: at},
			{PixelX: 10, PixelY: 10, DepthMeters: 3.5, CapturedAt: at.Add(time.Microsecond)},
		},
		Summary: &depth.Summary{Width: 20, Height: 20, Stride: 10, Visited: 4, Kept: 2, Dropped: 2, MeanDepth: 2.75, MeanConfidence: &meanConf},
	}

	points := CapturePoints(c)
	require.Len(t, points, 3)

	first := write.PointToLineProtocol(points[0], time.Nanosecond)
	assert.True(t, strings.HasPrefix(first, MeasurementSample+","), first)
	assert.Contains(t, first, "session="+id.String())
	assert.NotContains(t, first, "pixel=")
	assert.Contains(t, first, "x=0i")
	assert.Contains(t, first, "y=0i")
	assert.Contains(t, first, "confidence=2i")
	assert.Contains(t, first, "depth=2")

	second := write.PointToLineProtocol(points[1], time.Nanosecond)
	assert.Contains(t, second, "x=10i")
	assert.Contains(t, second, "y=10i")
	assert.NotContains(t, second, "confidence")

	summary := points[2]
	assert.Equal(t, MeasurementCapture, summary.Name())
	assert.Equal(t, at, summary.Time())
	line := write.PointToLineProtocol(summary, time.Nanosecond)
	assert.Contains(t, line, "kept=2i")
	assert.Contains(t, line, "mean_confidence=2")
}

func TestCapturePointsSkipsEmptyCapture(t *testing.T) {
	t.Parallel()

	assert.Empty(t, CapturePoints(session.Capture{SessionID: uuid.New(), Points: []depth.SamplePoint{}}))
}

func TestReadingPoint(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)
	p := ReadingPoint(sensors.Reading{Probe: "dht22", Fields: map[string]float64{"temperature": 21.5}, Timestamp: at})
	assert.Equal(t, MeasurementEnvironment, p.Name())
	assert.Equal(t, at, p.Time())
	line := write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "probe=dht22")
	assert.Contains(t, line, "temperature=21.5")
}
