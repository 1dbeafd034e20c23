package worker

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/cadenza/pkg/ipc"
)

// Dispatch protocol: JSON text frames over a WebSocket, tagged by "type".
// The worker registers once, answers availability requests, and receives job
// assignments for jobs it accepted.
const (
	msgRegister             = "register"
	msgRegistered           = "registered"
	msgAvailabilityRequest  = "availability"
	msgAvailabilityResponse = "availabilityResponse"
	msgAssignment           = "assignment"
	msgJobUpdate            = "jobUpdate"
)

type dispatchEnvelope struct {
	Type string `json:"type"`

	Register     *registerMessage     `json:"register,omitempty"`
	Registered   *registeredMessage   `json:"registered,omitempty"`
	Availability *availabilityRequest `json:"availability,omitempty"`
	Response     *availabilityAnswer  `json:"availabilityResponse,omitempty"`
	Assignment   *assignmentMessage   `json:"assignment,omitempty"`
	JobUpdate    *jobUpdateMessage    `json:"jobUpdate,omitempty"`
}

// registerMessage announces this worker to the dispatch server.
type registerMessage struct {
	AgentName string `json:"agentName"`
	Version   string `json:"version"`
}

// registeredMessage is the server's acknowledgement carrying the assigned
// worker id.
type registeredMessage struct {
	WorkerID string `json:"workerId"`
}

// availabilityRequest asks whether this worker can take the job.
type availabilityRequest struct {
	JobID string      `json:"jobId"`
	Job   ipc.JobInfo `json:"job"`
}

type availabilityAnswer struct {
	JobID     string `json:"jobId"`
	Available bool   `json:"available"`
}

// assignmentMessage hands the worker a job it accepted, with the room
// connection details.
type assignmentMessage struct {
	JobID string      `json:"jobId"`
	Job   ipc.JobInfo `json:"job"`
	URL   string      `json:"url"`
	Token string      `json:"token"`
}

// jobUpdateMessage reports job lifecycle transitions back to the server.
type jobUpdateMessage struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"` // running | failed | done
	Error  string `json:"error,omitempty"`
}

func encodeDispatch(env dispatchEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("worker: encode %s: %w", env.Type, err)
	}
	return data, nil
}

func decodeDispatch(data []byte) (dispatchEnvelope, error) {
	var env dispatchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("worker: decode dispatch message: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("worker: dispatch message missing type")
	}
	return env, nil
}
