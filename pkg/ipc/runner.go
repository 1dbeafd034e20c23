package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
)

// orphanTimeout is how long a child keeps running without hearing a ping
// before it assumes the parent died and exits.
const orphanTimeout = 15 * time.Second

// JobHandler runs one assigned job inside the child. The context is
// cancelled on shutdown; the handler should drain cleanly before returning.
type JobHandler func(ctx context.Context, job RunningJobInfo) error

// InferenceHandler runs one inference method inside the child.
type InferenceHandler func(ctx context.Context, data json.RawMessage) (json.RawMessage, error)

// RunnerOptions configures the child side of the supervision protocol.
type RunnerOptions struct {
	// JobHandler handles the StartJobRequest. Required.
	JobHandler JobHandler

	// InferenceHandlers maps method names to runners. Methods are loaded
	// once at startup; unknown methods answer with an error response.
	InferenceHandlers map[string]InferenceHandler
}

// Runner is the child side of a supervised job process. It performs the
// handshake, answers pings, arms the orphan timer, starts the job and
// dispatches inference requests.
type Runner struct {
	opts RunnerOptions
	conn *Conn
	log  *slog.Logger

	mu     sync.Mutex
	orphan *time.Timer

	jobCancel context.CancelFunc
	jobDone   chan struct{}
}

// RunChild runs the supervision protocol over the process's stdin and
// stdout until the parent shuts it down or disappears. Call it from main
// when [IsChildProcess] reports true.
func RunChild(ctx context.Context, opts RunnerOptions) error {
	return NewRunner(NewConn(os.Stdin, os.Stdout), opts).Run(ctx)
}

// NewRunner wraps conn; Run drives the protocol.
func NewRunner(conn *Conn, opts RunnerOptions) *Runner {
	return &Runner{opts: opts, conn: conn, log: slog.Default()}
}

// Run blocks until shutdown completes, the parent pipe closes, or the
// orphan timer fires.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msg, err := r.conn.Read()
	if err != nil {
		return fmt.Errorf("read initialize: %w", err)
	}
	init, ok := msg.(InitializeRequest)
	if !ok {
		return fmt.Errorf("first message must be initializeRequest, got %s", msg.MessageKind())
	}
	r.configureLogger(init.LoggerOptions)

	r.mu.Lock()
	r.orphan = time.AfterFunc(orphanTimeout, func() {
		r.log.Error("no ping from parent, exiting orphaned job process")
		cancel()
	})
	r.mu.Unlock()

	if err := r.conn.Write(InitializeResponse{}); err != nil {
		return fmt.Errorf("send initialize response: %w", err)
	}

	msgs := make(chan Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			m, err := r.conn.Read()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.stopJob()
			return ctx.Err()

		case err := <-readErr:
			r.stopJob()
			if errors.Is(err, io.EOF) {
				r.log.Warn("parent pipe closed, exiting job process")
				return nil
			}
			return err

		case m := <-msgs:
			if done, err := r.handle(ctx, m); done {
				return err
			}
		}
	}
}

// handle processes one parent message. It reports true when the runner
// should exit.
func (r *Runner) handle(ctx context.Context, msg Message) (bool, error) {
	switch m := msg.(type) {
	case PingRequest:
		r.refreshOrphanTimer()
		return false, r.conn.Write(PongResponse{
			LastTimestamp: m.Timestamp,
			Timestamp:     time.Now().UnixMilli(),
		})

	case StartJobRequest:
		r.startJob(ctx, m.RunningJob)
		return false, nil

	case ShutdownRequest:
		r.log.Info("shutdown requested", "reason", m.Reason)
		r.stopJob()
		if err := r.conn.Write(Done{}); err != nil {
			return true, err
		}
		return true, nil

	case InferenceRequest:
		go r.runInference(ctx, m)
		return false, nil

	default:
		r.log.Warn("unexpected message from parent", "case", msg.MessageKind())
		return false, nil
	}
}

func (r *Runner) startJob(ctx context.Context, info RunningJobInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobDone != nil {
		r.log.Error("job already running, ignoring assignment", "job_id", info.Job.ID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.jobCancel = cancel
	done := make(chan struct{})
	r.jobDone = done

	go func() {
		defer close(done)
		if err := r.opts.JobHandler(jobCtx, info); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("job failed", "job_id", info.Job.ID, "err", err)
			_ = r.conn.Write(Exiting{Reason: err.Error()})
		}
	}()
}

func (r *Runner) stopJob() {
	r.mu.Lock()
	cancel := r.jobCancel
	done := r.jobDone
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) runInference(ctx context.Context, req InferenceRequest) {
	handler := r.opts.InferenceHandlers[req.Method]
	if handler == nil {
		r.log.Warn("unknown inference method", "method", req.Method)
		_ = r.conn.Write(InferenceResponse{
			RequestID: req.RequestID,
			Error:     fmt.Sprintf("unknown inference method %q", req.Method),
		})
		return
	}
	data, err := handler(ctx, req.Data)
	resp := InferenceResponse{RequestID: req.RequestID, Data: data}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = r.conn.Write(resp)
}

func (r *Runner) refreshOrphanTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orphan != nil {
		r.orphan.Reset(orphanTimeout)
	}
}

func (r *Runner) configureLogger(opts LoggerOptions) {
	var level slog.Level
	switch strings.ToLower(opts.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, hopts)
	}
	logger := slog.New(handler).With("job_process", async.ShortIDWith("jp"))
	slog.SetDefault(logger)
	r.log = logger
}
