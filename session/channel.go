package session

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Uranury/depthsense/depth"
)

// Code classifies a failed call for callers on the far side of a wire.
type Code string

const (
	CodeSensorUnavailable Code = "SENSOR_UNAVAILABLE"
	CodeNotScanning       Code = "NOT_SCANNING"
	CodeDecode            Code = "DECODE_ERROR"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
	CodeInternal          Code = "INTERNAL"
)

// Method names understood by Channel.Call.
const (
	MethodIsAvailable = "isLiDARAvailable"
	MethodStart       = "startScanning"
	MethodStop        = "stopScanning"
	MethodCapture     = "captureData"
	MethodStatus      = "status"
)

type ReplyError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// CodeOf maps an engine error onto its wire code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSensorUnavailable):
		return CodeSensorUnavailable
	case errors.Is(err, ErrNotScanning):
		return CodeNotScanning
	case errors.Is(err, depth.ErrDecode):
		return CodeDecode
	case errors.Is(err, depth.ErrInvalidConfig):
		return CodeInvalidConfig
	default:
		return CodeInternal
	}
}

func replyError(err error) *ReplyError {
	if err == nil {
		return nil
	}
	return &ReplyError{Code: CodeOf(err), Message: err.Error()}
}

type AvailabilityReply struct {
	Available bool `json:"available"`
}

type StartReply struct {
	Status    string      `json:"status,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp float64     `json:"timestamp,omitempty"`
	Error     *ReplyError `json:"error,omitempty"`
}

type StopReply struct {
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

type CaptureReply struct {
	SessionID string              `json:"sessionId,omitempty"`
	Points    []depth.SamplePoint `json:"points"`
	Summary   *depth.Summary      `json:"summary,omitempty"`
	Error     *ReplyError         `json:"error,omitempty"`
}

type StatusReply struct {
	State         string  `json:"state"`
	SessionID     string  `json:"sessionId,omitempty"`
	StartedAt     float64 `json:"startedAt,omitempty"`
	Captures      int     `json:"captures"`
	LastCaptureAt float64 `json:"lastCaptureAt,omitempty"`
}

// UnknownMethodReply answers a call Channel does not recognise.
type UnknownMethodReply struct {
	Error *ReplyError `json:"error"`
}

// NewCaptureReply renders a capture outcome as its wire record.
func NewCaptureReply(c Capture, err error) CaptureReply {
	reply := CaptureReply{Points: c.Points, Summary: c.Summary, Error: replyError(err)}
	if reply.Points == nil {
		reply.Points = []depth.SamplePoint{}
	}
	if c.SessionID != uuid.Nil {
		reply.SessionID = c.SessionID.String()
	}
	return reply
}

// Channel exposes a Controller as calls that always answer with a plain
// record. Failures travel inside the record, never as Go errors.
type Channel struct {
	ctrl *Controller

	mu        sync.RWMutex
	observers []func(Capture)
}

func NewChannel(ctrl *Controller) *Channel {
	return &Channel{ctrl: ctrl}
}

// OnCapture registers fn to receive every capture that produced a frame.
// fn runs on the caller's goroutine and must not block.
func (ch *Channel) OnCapture(fn func(Capture)) {
	ch.mu.Lock()
	ch.observers = append(ch.observers, fn)
	ch.mu.Unlock()
}

func (ch *Channel) Controller() *Controller { return ch.ctrl }

func (ch *Channel) IsAvailable() AvailabilityReply {
	return AvailabilityReply{Available: ch.ctrl.CheckAvailability()}
}

func (ch *Channel) Start() StartReply {
	st, err := ch.ctrl.Start()
	if err != nil {
		return StartReply{Error: replyError(err)}
	}
	return StartReply{
		Status:    "started",
		SessionID: st.SessionID.String(),
		Timestamp: depth.EpochSeconds(st.StartedAt),
	}
}

func (ch *Channel) Stop() StopReply {
	return StopReply{Status: "stopped", Timestamp: depth.EpochSeconds(ch.ctrl.Stop())}
}

func (ch *Channel) Capture(cfg depth.Config) CaptureReply {
	c, err := ch.ctrl.Capture(cfg)
	if err == nil && c.Summary != nil {
		ch.mu.RLock()
		for _, fn := range ch.observers {
			fn(c)
		}
		ch.mu.RUnlock()
	}
	return NewCaptureReply(c, err)
}

func (ch *Channel) Status() StatusReply {
	st := ch.ctrl.Status()
	reply := StatusReply{State: st.State.String(), Captures: st.Captures}
	if st.State == Scanning {
		reply.SessionID = st.SessionID.String()
		reply.StartedAt = depth.EpochSeconds(st.StartedAt)
		if !st.LastCaptureAt.IsZero() {
			reply.LastCaptureAt = depth.EpochSeconds(st.LastCaptureAt)
		}
	}
	return reply
}

// Call dispatches a method-channel request by name. args is only read by
// captureData, where it holds a depth.Config; empty args mean defaults.
func (ch *Channel) Call(method string, args json.RawMessage) any {
	switch method {
	case MethodIsAvailable:
		return ch.IsAvailable()
	case MethodStart:
		return ch.Start()
	case MethodStop:
		return ch.Stop()
	case MethodCapture:
		var cfg depth.Config
		if len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, &cfg); err != nil {
				return CaptureReply{
					Points: []depth.SamplePoint{},
					Error:  &ReplyError{Code: CodeInvalidConfig, Message: err.Error()},
				}
			}
		}
		return ch.Capture(cfg)
	case MethodStatus:
		return ch.Status()
	default:
		return UnknownMethodReply{Error: &ReplyError{Code: CodeNotImplemented, Message: "unknown method " + method}}
	}
}
