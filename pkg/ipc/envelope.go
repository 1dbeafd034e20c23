// Package ipc implements the typed message channel between a worker and its
// supervised job processes, plus both ends of the supervision protocol: the
// parent-side Proc (fork, initialize, ping loop, watchdog, shutdown) and the
// child-side Runner (handshake, orphan timer, job start, inference
// dispatch).
//
// Messages travel as newline-delimited JSON envelopes tagged by "case", one
// envelope per message, strictly ordered per direction. The first
// child-to-parent message must be InitializeResponse; anything else is a
// protocol violation and fatal.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Kind tags an envelope.
type Kind string

const (
	KindInitializeRequest  Kind = "initializeRequest"
	KindInitializeResponse Kind = "initializeResponse"
	KindPingRequest        Kind = "pingRequest"
	KindPongResponse       Kind = "pongResponse"
	KindStartJobRequest    Kind = "startJobRequest"
	KindShutdownRequest    Kind = "shutdownRequest"
	KindExiting            Kind = "exiting"
	KindDone               Kind = "done"
	KindInferenceRequest   Kind = "inferenceRequest"
	KindInferenceResponse  Kind = "inferenceResponse"
)

// Message is implemented by every envelope payload.
type Message interface {
	MessageKind() Kind
}

// LoggerOptions configures the child's logger from the parent.
type LoggerOptions struct {
	// Level is a slog level name: "debug", "info", "warn", "error".
	Level string `json:"level"`

	// JSON selects JSON log output instead of text.
	JSON bool `json:"json"`
}

// InitializeRequest is the first parent-to-child message. Durations are in
// milliseconds on the wire.
type InitializeRequest struct {
	LoggerOptions       LoggerOptions `json:"loggerOptions"`
	PingIntervalMS      int64         `json:"pingInterval"`
	PingTimeoutMS       int64         `json:"pingTimeout"`
	HighPingThresholdMS int64         `json:"highPingThreshold"`
}

func (InitializeRequest) MessageKind() Kind { return KindInitializeRequest }

// InitializeResponse acknowledges initialization. It must be the first
// child-to-parent message.
type InitializeResponse struct{}

func (InitializeResponse) MessageKind() Kind { return KindInitializeResponse }

// PingRequest carries the parent's send time in unix milliseconds.
type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

func (PingRequest) MessageKind() Kind { return KindPingRequest }

// PongResponse echoes the ping timestamp alongside the child's own clock.
type PongResponse struct {
	LastTimestamp int64 `json:"lastTimestamp"`
	Timestamp     int64 `json:"timestamp"`
}

func (PongResponse) MessageKind() Kind { return KindPongResponse }

// JobInfo identifies one assigned job.
type JobInfo struct {
	ID        string `json:"id"`
	RoomName  string `json:"roomName"`
	AgentName string `json:"agentName,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
}

// RunningJobInfo binds a job to the credentials the child needs to join its
// room.
type RunningJobInfo struct {
	Job   JobInfo `json:"job"`
	URL   string  `json:"url"`
	Token string  `json:"token"`
}

// StartJobRequest assigns a job to a warmed child.
type StartJobRequest struct {
	RunningJob RunningJobInfo `json:"runningJob"`
}

func (StartJobRequest) MessageKind() Kind { return KindStartJobRequest }

// ShutdownRequest asks the child to wind down gracefully.
type ShutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (ShutdownRequest) MessageKind() Kind { return KindShutdownRequest }

// Exiting announces a child-initiated exit.
type Exiting struct {
	Reason string `json:"reason,omitempty"`
}

func (Exiting) MessageKind() Kind { return KindExiting }

// Done acknowledges a completed shutdown.
type Done struct{}

func (Done) MessageKind() Kind { return KindDone }

// InferenceRequest dispatches one inference run to the child.
type InferenceRequest struct {
	Method    string          `json:"method"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (InferenceRequest) MessageKind() Kind { return KindInferenceRequest }

// InferenceResponse carries the result or error of one inference run.
type InferenceResponse struct {
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (InferenceResponse) MessageKind() Kind { return KindInferenceResponse }

type envelope struct {
	Case    Kind            `json:"case"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn frames messages as newline-delimited JSON envelopes over any byte
// pipe. Writes are serialized; reads are owned by a single pump goroutine.
type Conn struct {
	wmu sync.Mutex
	w   *json.Encoder
	r   *bufio.Reader
}

// NewConn wraps r and w. For a parent this is the child's stdout and stdin;
// for a child, its own stdin and stdout.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{w: json.NewEncoder(w), r: bufio.NewReader(r)}
}

// Write sends one message.
func (c *Conn) Write(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageKind(), err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.Encode(envelope{Case: msg.MessageKind(), Payload: payload})
}

// Read returns the next message. io.EOF means the peer closed the pipe.
func (c *Conn) Read() (Message, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		if err != io.EOF {
			return nil, err
		}
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	msg, err := newMessage(env.Case)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Case, err)
		}
	}
	return deref(msg), nil
}

func newMessage(k Kind) (Message, error) {
	switch k {
	case KindInitializeRequest:
		return &InitializeRequest{}, nil
	case KindInitializeResponse:
		return &InitializeResponse{}, nil
	case KindPingRequest:
		return &PingRequest{}, nil
	case KindPongResponse:
		return &PongResponse{}, nil
	case KindStartJobRequest:
		return &StartJobRequest{}, nil
	case KindShutdownRequest:
		return &ShutdownRequest{}, nil
	case KindExiting:
		return &Exiting{}, nil
	case KindDone:
		return &Done{}, nil
	case KindInferenceRequest:
		return &InferenceRequest{}, nil
	case KindInferenceResponse:
		return &InferenceResponse{}, nil
	}
	return nil, fmt.Errorf("unknown message case %q", k)
}

// deref returns the value form so type switches on Message see concrete
// structs, not pointers.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *InitializeRequest:
		return *m
	case *InitializeResponse:
		return *m
	case *PingRequest:
		return *m
	case *PongResponse:
		return *m
	case *StartJobRequest:
		return *m
	case *ShutdownRequest:
		return *m
	case *Exiting:
		return *m
	case *Done:
		return *m
	case *InferenceRequest:
		return *m
	case *InferenceResponse:
		return *m
	}
	return msg
}
