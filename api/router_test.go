package api

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/depthsense/depth"
	"github.com/Uranury/depthsense/framesource"
	"github.com/Uranury/depthsense/sensors"
	"github.com/Uranury/depthsense/session"
)

type staticPlane struct{ buf depth.PixelBuffer }

func (p staticPlane) Lock() (depth.PixelBuffer, error) { return p.buf, nil }
func (p staticPlane) Unlock()                          {}

type staticFrame struct{ plane staticPlane }

func (f staticFrame) DepthPlane() depth.Plane      { return f.plane }
func (f staticFrame) ConfidencePlane() depth.Plane { return nil }

// staticSource always serves the 20x20 frame with depths 2.0 at (0,0),
// 0 at (10,0), 6.0 at (0,10) and 3.5 at (10,10).
type staticSource struct {
	supported bool
	frame     staticFrame
}

func newStaticSource() *staticSource {
	const w, h = 20, 20
	data := make([]byte, w*h*4)
	put := func(x, y int, d float32) {
		binary.NativeEndian.PutUint32(data[(y*w+x)*4:], math.Float32bits(d))
	}
	put(0, 0, 2.0)
	put(10, 0, 0)
	put(0, 10, 6.0)
	put(10, 10, 3.5)
	return &staticSource{supported: true, frame: staticFrame{plane: staticPlane{buf: depth.PixelBuffer{
		Format: depth.FormatDepthFloat32, Width: w, Height: h, BytesPerRow: w * 4, Data: data,
	}}}}
}

func (s *staticSource) SupportsDepth() bool { return s.supported }

func (s *staticSource) Open(bool) (framesource.Handle, error) {
	if !s.supported {
		return framesource.Handle{}, framesource.ErrUnavailable
	}
	return framesource.Handle{ID: uuid.New()}, nil
}

func (s *staticSource) Close(framesource.Handle) {}

func (s *staticSource) CurrentFrame(framesource.Handle) (depth.FrameRef, bool) {
	return s.frame, true
}

type memRecorder struct {
	mu       sync.Mutex
	captures []session.Capture
	readings []sensors.Reading
}

func (r *memRecorder) WriteCapture(c session.Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, c)
}

func (r *memRecorder) WriteReading(rd sensors.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

func (r *memRecorder) Close() {}

func newTestServer(src framesource.FrameSource) (*Server, *memRecorder, *gin.Engine) {
	return newTestServerWithSampling(src, depth.DefaultConfig())
}

func newTestServerWithSampling(src framesource.FrameSource, sampling depth.Config) (*Server, *memRecorder, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	rec := &memRecorder{}
	srv := NewServer(session.NewChannel(session.NewController(src)), rec, sampling)
	return srv, rec, srv.Router()
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHTTPLifecycle(t *testing.T) {
	_, rec, router := newTestServer(newStaticSource())

	w := do(t, router, http.MethodGet, "/api/depth/availability", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[session.AvailabilityReply](t, w).Available)

	w = do(t, router, http.MethodPost, "/api/depth/capture", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, session.CodeNotScanning, decode[session.CaptureReply](t, w).Error.Code)

	w = do(t, router, http.MethodPost, "/api/depth/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	start := decode[session.StartReply](t, w)
	assert.Equal(t, "started", start.Status)

	w = do(t, router, http.MethodPost, "/api/depth/capture", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	capture := decode[session.CaptureReply](t, w)
	assert.Equal(t, start.SessionID, capture.SessionID)
	require.Len(t, capture.Points, 2)
	assert.Equal(t, 0, capture.Points[0].PixelX)
	assert.Equal(t, float32(2.0), capture.Points[0].DepthMeters)
	assert.Equal(t, 10, capture.Points[1].PixelX)
	assert.Equal(t, float32(3.5), capture.Points[1].DepthMeters)

	w = do(t, router, http.MethodPost, "/api/depth/capture", `{"rangeMax": 3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[session.CaptureReply](t, w).Points, 1)

	w = do(t, router, http.MethodGet, "/api/depth/status", "")
	status := decode[session.StatusReply](t, w)
	assert.Equal(t, "scanning", status.State)
	assert.Equal(t, 2, status.Captures)

	w = do(t, router, http.MethodPost, "/api/depth/stop", "")
	assert.Equal(t, "stopped", decode[session.StopReply](t, w).Status)
	w = do(t, router, http.MethodPost, "/api/depth/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.captures, 2)
}

func TestHTTPCaptureValidation(t *testing.T) {
	_, _, router := newTestServer(newStaticSource())
	do(t, router, http.MethodPost, "/api/depth/start", "")

	for _, body := range []string{`{"stride": -2}`, `{"rangeMin": -1}`, `{"stride": "x"}`, `{`} {
		w := do(t, router, http.MethodPost, "/api/depth/capture", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, session.CodeInvalidConfig, decode[session.CaptureReply](t, w).Error.Code, body)
	}

	// Passes binding but fails the range check in the engine.
	w := do(t, router, http.MethodPost, "/api/depth/capture", `{"rangeMin": 4, "rangeMax": 2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPStartUnavailable(t *testing.T) {
	src := newStaticSource()
	src.supported = false
	_, _, router := newTestServer(src)

	w := do(t, router, http.MethodPost, "/api/depth/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, session.CodeSensorUnavailable, decode[session.StartReply](t, w).Error.Code)
}

func TestHTTPCall(t *testing.T) {
	_, _, router := newTestServer(newStaticSource())

	w := do(t, router, http.MethodPost, "/api/depth/call", `{"id":"1","method":"isLiDARAvailable"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":"reply","id":"1","data":{"available":true}}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/depth/call", `{"id":"2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCaptureArgsOverrideServerSampling(t *testing.T) {
	sampling := depth.DefaultConfig()
	sampling.Stride = 20
	_, _, router := newTestServerWithSampling(newStaticSource(), sampling)
	do(t, router, http.MethodPost, "/api/depth/start", "")

	w := do(t, router, http.MethodPost, "/api/depth/capture", `{"minConfidence":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	direct := decode[session.CaptureReply](t, w)

	w = do(t, router, http.MethodPost, "/api/depth/call", `{"id":"1","method":"captureData","args":{"minConfidence":0}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ev := decode[wireEvent](t, w)
	var called session.CaptureReply
	require.NoError(t, json.Unmarshal(ev.Data, &called))

	for _, reply := range []session.CaptureReply{direct, called} {
		require.Nil(t, reply.Error)
		require.NotNil(t, reply.Summary)
		assert.Equal(t, 20, reply.Summary.Stride)
		assert.Equal(t, 1, reply.Summary.Visited)
		require.Len(t, reply.Points, 1)
		assert.Equal(t, float32(2.0), reply.Points[0].DepthMeters)
	}

	// An explicit stride still wins over the server's.
	w = do(t, router, http.MethodPost, "/api/depth/call", `{"id":"2","method":"captureData","args":{"stride":10}}`)
	ev = decode[wireEvent](t, w)
	require.NoError(t, json.Unmarshal(ev.Data, &called))
	assert.Equal(t, 10, called.Summary.Stride)
	assert.Len(t, called.Points, 2)

	// Args are validated the same way on both paths.
	w = do(t, router, http.MethodPost, "/api/depth/call", `{"id":"3","method":"captureData","args":{"stride":-2}}`)
	ev = decode[wireEvent](t, w)
	require.NoError(t, json.Unmarshal(ev.Data, &called))
	require.NotNil(t, called.Error)
	assert.Equal(t, session.CodeInvalidConfig, called.Error.Code)
}

type wireEvent struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn, typ string) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func TestWebSocketMethodChannel(t *testing.T) {
	srv, _, router := newTestServer(newStaticSource())
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(CallRequest{ID: "a", Method: session.MethodStart}))
	ev := readEvent(t, conn, EventReply)
	assert.Equal(t, "a", ev.ID)
	var start session.StartReply
	require.NoError(t, json.Unmarshal(ev.Data, &start))
	assert.Equal(t, "started", start.Status)

	require.NoError(t, conn.WriteJSON(CallRequest{ID: "b", Method: session.MethodCapture, Args: json.RawMessage(`{"stride":10}`)}))

	// The capture is broadcast as well as answered.
	capEv := readEvent(t, conn, EventCapture)
	var broadcast session.CaptureReply
	require.NoError(t, json.Unmarshal(capEv.Data, &broadcast))
	assert.Len(t, broadcast.Points, 2)

	ev = readEvent(t, conn, EventReply)
	assert.Equal(t, "b", ev.ID)
	var capture session.CaptureReply
	require.NoError(t, json.Unmarshal(ev.Data, &capture))
	assert.Len(t, capture.Points, 2)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev = readEvent(t, conn, EventReply)
	assert.Contains(t, string(ev.Data), string(session.CodeInvalidConfig))

	require.NoError(t, conn.WriteJSON(CallRequest{ID: "c", Method: "calibrate"}))
	ev = readEvent(t, conn, EventReply)
	assert.Contains(t, string(ev.Data), string(session.CodeNotImplemented))
}

func TestPublishReading(t *testing.T) {
	srv, rec, router := newTestServer(newStaticSource())
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	srv.PublishReading(sensors.Reading{Probe: "gy32", Fields: map[string]float64{"light": 250}, Timestamp: time.Now()})

	ev := readEvent(t, conn, EventEnvironment)
	var r sensors.Reading
	require.NoError(t, json.Unmarshal(ev.Data, &r))
	assert.Equal(t, "gy32", r.Probe)
	assert.InDelta(t, 250, r.Fields["light"], 1e-9)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.readings, 1)
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	srv, _, router := newTestServer(newStaticSource())
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Broadcasting with nobody connected is a no-op.
	srv.Hub().Broadcast(Event{Type: EventEnvironment, Data: "idle"})
}
