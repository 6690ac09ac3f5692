// Package api serves the depth engine to the UI layer over HTTP and a
// websocket method channel.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"

	"github.com/Uranury/depthsense/depth"
	"github.com/Uranury/depthsense/sensors"
	"github.com/Uranury/depthsense/session"
	"github.com/Uranury/depthsense/store"
)

// captureRequest overrides the server's sampling defaults field by field.
type captureRequest struct {
	Stride        *int     `json:"stride" binding:"omitempty,min=1"`
	RangeMin      *float32 `json:"rangeMin" binding:"omitempty,min=0"`
	RangeMax      *float32 `json:"rangeMax" binding:"omitempty,gt=0"`
	MinConfidence *uint8   `json:"minConfidence"`
}

func (r captureRequest) apply(cfg depth.Config) depth.Config {
	if r.Stride != nil {
		cfg.Stride = *r.Stride
	}
	if r.RangeMin != nil {
		cfg.RangeMin = *r.RangeMin
	}
	if r.RangeMax != nil {
		cfg.RangeMax = *r.RangeMax
	}
	if r.MinConfidence != nil {
		cfg.MinConfidence = r.MinConfidence
	}
	return cfg
}

type Server struct {
	ch       *session.Channel
	hub      *Hub
	rec      store.Recorder
	sampling depth.Config
}

// NewServer wires captures made through ch into rec and the websocket hub.
func NewServer(ch *session.Channel, rec store.Recorder, sampling depth.Config) *Server {
	s := &Server{ch: ch, hub: NewHub(), rec: rec, sampling: sampling}
	ch.OnCapture(func(c session.Capture) {
		rec.WriteCapture(c)
		s.hub.Broadcast(Event{Type: EventCapture, Data: session.NewCaptureReply(c, nil)})
	})
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// PublishReading fans a probe reading out to storage and websocket clients.
func (s *Server) PublishReading(r sensors.Reading) {
	s.rec.WriteReading(r)
	s.hub.Broadcast(Event{Type: EventEnvironment, Data: r})
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	d := r.Group("/api/depth")
	d.GET("/availability", s.handleAvailability)
	d.GET("/status", s.handleStatus)
	d.POST("/start", s.handleStart)
	d.POST("/stop", s.handleStop)
	d.POST("/capture", s.handleCapture)
	d.POST("/call", s.handleCall)

	r.GET("/ws", s.handleWebSocket)
	return r
}

// httpStatus maps a reply error onto the HTTP status it is served with.
func httpStatus(e *session.ReplyError) int {
	if e == nil {
		return http.StatusOK
	}
	switch e.Code {
	case session.CodeSensorUnavailable:
		return http.StatusServiceUnavailable
	case session.CodeNotScanning:
		return http.StatusConflict
	case session.CodeDecode:
		return http.StatusBadGateway
	case session.CodeInvalidConfig:
		return http.StatusBadRequest
	case session.CodeNotImplemented:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAvailability(c *gin.Context) {
	c.JSON(http.StatusOK, s.ch.IsAvailable())
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ch.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	reply := s.ch.Start()
	c.JSON(httpStatus(reply.Error), reply)
}

func (s *Server) handleStop(c *gin.Context) {
	c.JSON(http.StatusOK, s.ch.Stop())
}

func invalidCapture(err error) session.CaptureReply {
	return session.CaptureReply{
		Points: []depth.SamplePoint{},
		Error:  &session.ReplyError{Code: session.CodeInvalidConfig, Message: err.Error()},
	}
}

func (s *Server) handleCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, invalidCapture(err))
		return
	}

	reply := s.ch.Capture(req.apply(s.sampling))
	if reply.Error != nil {
		log.Printf("capture failed: %s: %s", reply.Error.Code, reply.Error.Message)
	}
	c.JSON(httpStatus(reply.Error), reply)
}

func (s *Server) handleCall(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, session.UnknownMethodReply{
			Error: &session.ReplyError{Code: session.CodeInvalidConfig, Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, Event{Type: EventReply, ID: req.ID, Data: s.call(req)})
}

// call runs a method-channel request. captureData args override the
// server's sampling defaults field by field, as POST /api/depth/capture does.
func (s *Server) call(req CallRequest) any {
	if req.Method != session.MethodCapture {
		return s.ch.Call(req.Method, req.Args)
	}
	var args captureRequest
	if len(req.Args) > 0 && string(req.Args) != "null" {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidCapture(err)
		}
		if err := binding.Validator.ValidateStruct(&args); err != nil {
			return invalidCapture(err)
		}
	}
	return s.ch.Capture(args.apply(s.sampling))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.add(cl)
	go cl.writePump()
	defer s.hub.remove(cl)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req CallRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.hub.sendTo(cl, Event{Type: EventReply, Data: session.UnknownMethodReply{
				Error: &session.ReplyError{Code: session.CodeInvalidConfig, Message: err.Error()},
			}})
			continue
		}
		s.hub.sendTo(cl, Event{Type: EventReply, ID: req.ID, Data: s.call(req)})
	}
}
