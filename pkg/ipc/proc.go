package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
)

// ChildEnvMarker is set in a job process's environment so the binary can
// detect at startup that it should run as a supervised child.
const ChildEnvMarker = "CADENZA_JOB_PROCESS"

// IsChildProcess reports whether this process was forked as a supervised
// job child.
func IsChildProcess() bool {
	return os.Getenv(ChildEnvMarker) != ""
}

// ErrInitializeTimeout is returned when the child does not acknowledge
// initialization in time.
var ErrInitializeTimeout = errors.New("ipc: child initialization timed out")

// ErrBadHandshake is returned when the first child message is not
// InitializeResponse.
var ErrBadHandshake = errors.New("ipc: first child message must be initializeResponse")

// ErrWatchdogFired is the join error when the ping watchdog killed the
// child.
var ErrWatchdogFired = errors.New("ipc: ping watchdog fired, child killed")

// ProcOptions tunes supervision of one child process.
type ProcOptions struct {
	// InitializeTimeout bounds the handshake. Default 10s.
	InitializeTimeout time.Duration

	// CloseTimeout bounds a graceful shutdown before SIGKILL. Default 60s.
	CloseTimeout time.Duration

	// PingInterval is the ping loop period. Default 2.5s.
	PingInterval time.Duration

	// PingTimeout is the watchdog armed by each pong. Default 7.5s.
	PingTimeout time.Duration

	// HighPingThreshold logs a warning when a pong round-trip exceeds it.
	// Default 1s.
	HighPingThreshold time.Duration

	// LoggerOptions is forwarded to the child on initialize.
	LoggerOptions LoggerOptions

	// Env is appended to the child's environment.
	Env []string
}

func (o ProcOptions) withDefaults() ProcOptions {
	if o.InitializeTimeout == 0 {
		o.InitializeTimeout = 10 * time.Second
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = 60 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 2500 * time.Millisecond
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 7500 * time.Millisecond
	}
	if o.HighPingThreshold == 0 {
		o.HighPingThreshold = time.Second
	}
	return o
}

// ProcessHandle abstracts the OS process under supervision so tests can
// supervise an in-memory stub.
type ProcessHandle interface {
	// Kill force-terminates the process.
	Kill() error

	// Wait blocks until the process exits.
	Wait() error
}

type osProcess struct{ cmd *exec.Cmd }

func (p *osProcess) Kill() error { return p.cmd.Process.Kill() }
func (p *osProcess) Wait() error { return p.cmd.Wait() }

// Proc supervises one job child process: handshake, ping loop, watchdog,
// job launch, inference dispatch and shutdown.
type Proc struct {
	opts ProcOptions
	conn *Conn
	proc ProcessHandle
	log  *slog.Logger

	join *async.Future[error]

	mu          sync.Mutex
	runningJob  *RunningJobInfo
	pending     map[string]*async.Future[InferenceResponse]
	initialized *async.Future[struct{}]
	done        chan struct{}
	doneOnce    sync.Once
	watchdog    *time.Timer
	killed      bool

	pingStop chan struct{}
	pingOnce sync.Once
}

// StartProc forks the current binary as a job child and supervises it. The
// child detects its role via [IsChildProcess] and must call [RunChild].
func StartProc(ctx context.Context, opts ProcOptions) (*Proc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), ChildEnvMarker+"=1")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start job process: %w", err)
	}

	return Supervise(NewConn(stdout, stdin), &osProcess{cmd: cmd}, opts), nil
}

// Supervise wraps an already running child reachable over conn. Call
// Initialize before anything else.
func Supervise(conn *Conn, proc ProcessHandle, opts ProcOptions) *Proc {
	p := &Proc{
		opts:        opts.withDefaults(),
		conn:        conn,
		proc:        proc,
		log:         slog.Default(),
		join:        async.NewFuture[error](),
		pending:     map[string]*async.Future[InferenceResponse]{},
		initialized: async.NewFuture[struct{}](),
		done:        make(chan struct{}),
		pingStop:    make(chan struct{}),
	}
	go p.waitExit()
	return p
}

// Initialize performs the handshake and starts the ping loop. It must
// complete before LaunchJob or RunInference.
func (p *Proc) Initialize(ctx context.Context) error {
	req := InitializeRequest{
		LoggerOptions:       p.opts.LoggerOptions,
		PingIntervalMS:      p.opts.PingInterval.Milliseconds(),
		PingTimeoutMS:       p.opts.PingTimeout.Milliseconds(),
		HighPingThresholdMS: p.opts.HighPingThreshold.Milliseconds(),
	}
	if err := p.conn.Write(req); err != nil {
		return fmt.Errorf("send initialize: %w", err)
	}

	go p.readLoop()

	initCtx, cancel := context.WithTimeout(ctx, p.opts.InitializeTimeout)
	defer cancel()
	if _, err := p.initialized.Wait(initCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.kill(ErrInitializeTimeout)
			return ErrInitializeTimeout
		}
		return err
	}

	p.armWatchdog()
	go p.pingLoop()
	return nil
}

// Join returns a future resolved with the supervision outcome when the
// child exits: nil for a clean exit, the watchdog or protocol error
// otherwise.
func (p *Proc) Join() *async.Future[error] { return p.join }

// RunningJob returns the job assigned to this child, or nil while warm.
func (p *Proc) RunningJob() *RunningJobInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningJob
}

// LaunchJob assigns a job to the warmed child.
func (p *Proc) LaunchJob(info RunningJobInfo) error {
	p.mu.Lock()
	if p.runningJob != nil {
		p.mu.Unlock()
		return fmt.Errorf("ipc: child already runs job %s", p.runningJob.Job.ID)
	}
	p.runningJob = &info
	p.mu.Unlock()
	return p.conn.Write(StartJobRequest{RunningJob: info})
}

// RunInference dispatches one inference run to the child and waits for its
// response.
func (p *Proc) RunInference(ctx context.Context, method string, data json.RawMessage) (json.RawMessage, error) {
	reqID := async.ShortID()
	fut := async.NewFuture[InferenceResponse]()

	p.mu.Lock()
	p.pending[reqID] = fut
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, reqID)
		p.mu.Unlock()
	}()

	if err := p.conn.Write(InferenceRequest{Method: method, RequestID: reqID, Data: data}); err != nil {
		return nil, fmt.Errorf("send inference request: %w", err)
	}
	resp, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("inference %s: %s", method, resp.Error)
	}
	return resp.Data, nil
}

// Shutdown asks the child to wind down and waits up to CloseTimeout for its
// Done before killing it.
func (p *Proc) Shutdown(ctx context.Context, reason string) error {
	if err := p.conn.Write(ShutdownRequest{Reason: reason}); err != nil {
		// Pipe already gone; the exit path resolves join.
		p.log.Debug("shutdown request failed", "err", err)
	}
	select {
	case <-p.done:
	case <-time.After(p.opts.CloseTimeout):
		p.log.Warn("job process shutdown overtime, killing", "timeout", p.opts.CloseTimeout)
		p.kill(errors.New("ipc: shutdown timed out"))
	case <-ctx.Done():
		p.kill(ctx.Err())
		return ctx.Err()
	}
	joinCtx, cancel := context.WithTimeout(ctx, p.opts.CloseTimeout)
	defer cancel()
	_, err := p.join.Wait(joinCtx)
	return err
}

// Kill force-terminates the child immediately.
func (p *Proc) Kill() {
	p.kill(errors.New("ipc: killed"))
}

func (p *Proc) kill(cause error) {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.mu.Unlock()

	if err := p.proc.Kill(); err != nil {
		p.log.Debug("kill job process", "err", err)
	}
	p.resolveJoin(cause)
}

func (p *Proc) resolveJoin(cause error) {
	p.join.Resolve(cause)
}

// waitExit resolves the join future when the process exits for any reason.
func (p *Proc) waitExit() {
	err := p.proc.Wait()
	p.stopTimers()
	if err != nil {
		p.resolveJoin(fmt.Errorf("ipc: job process exited: %w", err))
		return
	}
	p.resolveJoin(nil)
}

func (p *Proc) stopTimers() {
	p.pingOnce.Do(func() { close(p.pingStop) })
	p.mu.Lock()
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	p.mu.Unlock()
}

func (p *Proc) armWatchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchdog == nil {
		p.watchdog = time.AfterFunc(p.opts.PingTimeout, func() {
			p.log.Error("job process ping watchdog fired", "timeout", p.opts.PingTimeout)
			p.kill(ErrWatchdogFired)
		})
		return
	}
	p.watchdog.Reset(p.opts.PingTimeout)
}

func (p *Proc) pingLoop() {
	ticker := time.NewTicker(p.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.pingStop:
			return
		case <-ticker.C:
			if err := p.conn.Write(PingRequest{Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

// readLoop pumps child messages. The first must be InitializeResponse.
func (p *Proc) readLoop() {
	first := true
	for {
		msg, err := p.conn.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("job process pipe error", "err", err)
			}
			p.stopTimers()
			return
		}
		if first {
			first = false
			if _, ok := msg.(InitializeResponse); !ok {
				p.initialized.Reject(ErrBadHandshake)
				p.kill(ErrBadHandshake)
				return
			}
			p.initialized.Resolve(struct{}{})
			continue
		}
		p.handle(msg)
	}
}

func (p *Proc) handle(msg Message) {
	switch m := msg.(type) {
	case PongResponse:
		p.armWatchdog()
		rtt := time.Duration(time.Now().UnixMilli()-m.LastTimestamp) * time.Millisecond
		if rtt > p.opts.HighPingThreshold {
			p.log.Warn("job process ping high", "rtt", rtt)
		}

	case Exiting:
		p.log.Info("job process exiting", "reason", m.Reason)

	case Done:
		p.doneOnce.Do(func() { close(p.done) })

	case InferenceResponse:
		p.mu.Lock()
		fut := p.pending[m.RequestID]
		p.mu.Unlock()
		if fut == nil {
			p.log.Warn("inference response for unknown request", "request_id", m.RequestID)
			return
		}
		fut.Resolve(m)

	default:
		p.log.Warn("unexpected message from job process", "case", msg.MessageKind())
	}
}
