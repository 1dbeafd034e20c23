package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/ipc"
	"github.com/coder/websocket"
)

// AssignmentTimeoutError reports a job the worker accepted for which the
// server never sent the assignment.
type AssignmentTimeoutError struct {
	JobID string
}

func (e *AssignmentTimeoutError) Error() string {
	return fmt.Sprintf("worker: accepted job %s but no assignment arrived in time", e.JobID)
}

// Options configures a Worker.
type Options struct {
	// ServerURL is the dispatch server WebSocket endpoint.
	ServerURL string
	// Token authenticates the worker against the dispatch server.
	Token string
	// AgentName is announced at registration and must match the agent
	// requested by assigned jobs.
	AgentName string
	// Version is reported at registration.
	Version string

	// RegisterTimeout bounds the dial + register handshake. Default 10s.
	RegisterTimeout time.Duration
	// AssignmentTimeout bounds the gap between accepting a job and the
	// assignment arriving. Default 7.5s.
	AssignmentTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RegisterTimeout <= 0 {
		o.RegisterTimeout = 10 * time.Second
	}
	if o.AssignmentTimeout <= 0 {
		o.AssignmentTimeout = 7500 * time.Millisecond
	}
	return o
}

// Worker registers with the dispatch server, answers availability requests,
// and launches assigned jobs on warm processes from its pool.
type Worker struct {
	pool *ProcPool
	opts Options

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	workerID string
	draining bool
	active   map[string]JobExecutor
	pending  map[string]*time.Timer

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a worker serving jobs from pool. The pool must be started by
// the caller.
func New(pool *ProcPool, opts Options) *Worker {
	return &Worker{
		pool:    pool,
		opts:    opts.withDefaults(),
		active:  make(map[string]JobExecutor),
		pending: make(map[string]*time.Timer),
		closed:  make(chan struct{}),
	}
}

// Run dials the dispatch server, registers, and serves messages until the
// connection drops, ctx expires, or Close is called. A clean Close returns
// nil.
func (w *Worker) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, w.opts.RegisterTimeout)
	defer cancel()

	headers := http.Header{}
	if w.opts.Token != "" {
		headers.Set("Authorization", "Bearer "+w.opts.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, w.opts.ServerURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("worker: dial dispatch server: %w", err)
	}
	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()
	defer conn.Close(websocket.StatusNormalClosure, "worker stopped")

	if err := w.register(dialCtx, conn); err != nil {
		return err
	}
	slog.Info("worker registered", "worker_id", w.WorkerID(), "agent", w.opts.AgentName)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-w.closed:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker: dispatch connection lost: %w", err)
		}
		env, err := decodeDispatch(data)
		if err != nil {
			slog.Warn("worker: ignoring malformed dispatch message", "error", err)
			continue
		}
		w.handle(ctx, env)
	}
}

// register sends the register message and waits for the acknowledgement.
func (w *Worker) register(ctx context.Context, conn *websocket.Conn) error {
	err := w.send(ctx, dispatchEnvelope{
		Type: msgRegister,
		Register: &registerMessage{
			AgentName: w.opts.AgentName,
			Version:   w.opts.Version,
		},
	})
	if err != nil {
		return err
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("worker: waiting for registration ack: %w", err)
	}
	env, err := decodeDispatch(data)
	if err != nil {
		return err
	}
	if env.Type != msgRegistered || env.Registered == nil {
		return fmt.Errorf("worker: expected %s, got %s", msgRegistered, env.Type)
	}
	w.mu.Lock()
	w.workerID = env.Registered.WorkerID
	w.mu.Unlock()
	return nil
}

func (w *Worker) handle(ctx context.Context, env dispatchEnvelope) {
	switch env.Type {
	case msgAvailabilityRequest:
		if env.Availability == nil {
			return
		}
		w.handleAvailability(ctx, *env.Availability)
	case msgAssignment:
		if env.Assignment == nil {
			return
		}
		w.handleAssignment(ctx, *env.Assignment)
	default:
		slog.Warn("worker: unexpected dispatch message", "type", env.Type)
	}
}

// handleAvailability answers whether this worker will take the job. A "yes"
// arms an assignment timer; if the server never follows up, the reservation
// is dropped.
func (w *Worker) handleAvailability(ctx context.Context, req availabilityRequest) {
	w.mu.Lock()
	available := !w.draining
	if available {
		jobID := req.JobID
		w.pending[jobID] = time.AfterFunc(w.opts.AssignmentTimeout, func() {
			w.mu.Lock()
			_, stillPending := w.pending[jobID]
			delete(w.pending, jobID)
			w.mu.Unlock()
			if stillPending {
				slog.Warn("worker: assignment timed out", "error", &AssignmentTimeoutError{JobID: jobID})
			}
		})
	}
	w.mu.Unlock()

	err := w.send(ctx, dispatchEnvelope{
		Type:     msgAvailabilityResponse,
		Response: &availabilityAnswer{JobID: req.JobID, Available: available},
	})
	if err != nil {
		slog.Warn("worker: availability response failed", "job_id", req.JobID, "error", err)
	}
}

// handleAssignment launches the job on a warm proc and tracks it until its
// child exits.
func (w *Worker) handleAssignment(ctx context.Context, a assignmentMessage) {
	w.mu.Lock()
	if timer, ok := w.pending[a.JobID]; ok {
		timer.Stop()
		delete(w.pending, a.JobID)
	} else {
		slog.Warn("worker: assignment for job without reservation", "job_id", a.JobID)
	}
	w.mu.Unlock()

	info := ipc.RunningJobInfo{Job: a.Job, URL: a.URL, Token: a.Token}
	go func() {
		exec, err := w.pool.LaunchJob(ctx, info)
		if err != nil {
			slog.Error("worker: job launch failed", "job_id", a.JobID, "error", err)
			w.reportJob(ctx, a.JobID, "failed", err)
			return
		}
		w.mu.Lock()
		w.active[a.JobID] = exec
		w.mu.Unlock()
		w.reportJob(ctx, a.JobID, "running", nil)

		exitErr, _ := exec.Join().Wait(context.Background())
		w.mu.Lock()
		delete(w.active, a.JobID)
		w.mu.Unlock()
		if exitErr != nil {
			w.reportJob(ctx, a.JobID, "failed", exitErr)
		} else {
			w.reportJob(ctx, a.JobID, "done", nil)
		}
	}()
}

func (w *Worker) reportJob(ctx context.Context, jobID, status string, cause error) {
	upd := &jobUpdateMessage{JobID: jobID, Status: status}
	if cause != nil {
		upd.Error = cause.Error()
	}
	if err := w.send(ctx, dispatchEnvelope{Type: msgJobUpdate, JobUpdate: upd}); err != nil {
		slog.Warn("worker: job update failed", "job_id", jobID, "status", status, "error", err)
	}
}

func (w *Worker) send(ctx context.Context, env dispatchEnvelope) error {
	data, err := encodeDispatch(env)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return errors.New("worker: not connected")
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// WorkerID returns the id the dispatch server assigned, or "" before
// registration completed.
func (w *Worker) WorkerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

// Processes returns every live job executor.
func (w *Worker) Processes() []JobExecutor { return w.pool.Processes() }

// GetByJobID returns the executor serving the job, or nil.
func (w *Worker) GetByJobID(id string) JobExecutor {
	w.mu.Lock()
	exec, ok := w.active[id]
	w.mu.Unlock()
	if ok {
		return exec
	}
	return w.pool.GetByJobID(id)
}

// Drain makes the worker refuse new jobs while existing jobs keep running.
func (w *Worker) Drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draining = true
}

// Close drains, drops the dispatch connection, and shuts the pool down.
// Idempotent.
func (w *Worker) Close(ctx context.Context) error {
	var err error
	w.closeOnce.Do(func() {
		w.Drain()
		close(w.closed)

		w.mu.Lock()
		for id, timer := range w.pending {
			timer.Stop()
			delete(w.pending, id)
		}
		w.mu.Unlock()

		w.writeMu.Lock()
		conn := w.conn
		w.writeMu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "worker closing")
		}
		err = w.pool.Close(ctx)
	})
	return err
}
