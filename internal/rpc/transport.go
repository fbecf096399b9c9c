// File: internal/rpc/transport.go
// Line-delimited JSON-RPC client and supervisor for one worker
// subprocess. The transport spawns lazily on first request, correlates
// responses to pending requests by id, enforces per-request deadlines
// and fails every pending call when the process dies.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/config"
)

// wireJSON frames every request and response on the worker pipes.
// Result payloads surface as plain json.RawMessage so callers decode
// them with whatever codec they use.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// initialLineBytes is the scanner's starting buffer.
	initialLineBytes = 64 * 1024
	// maxLineBytes bounds one worker frame. Snapshot results carry a
	// full base64 screenshot on a single line, so this is generous.
	maxLineBytes = 64 * 1024 * 1024
)

// workerProc is the handle over one spawned worker process. The real
// implementation wraps exec.Cmd; tests substitute in-memory pipes.
type workerProc interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Kill()
	Wait() error
}

// launcher spawns one candidate command.
type launcher func(cmd Command) (workerProc, error)

// Option configures a Transport.
type Option func(*Transport)

// withLauncher substitutes the process launcher. Tests only.
func withLauncher(l launcher) Option {
	return func(t *Transport) { t.launch = l }
}

// Transport owns one worker subprocess and frames requests/responses
// as newline-delimited JSON-RPC messages over its stdin/stdout. It is
// safe for concurrent use; each write is one atomic line, and matching
// is strictly by id so responses may complete out of issue order.
type Transport struct {
	label  string
	cfg    config.WorkerConfig
	logger *zap.Logger
	launch launcher

	// counter feeds the strictly increasing per-transport request ids.
	counter atomic.Uint64

	mu   sync.Mutex // guards proc
	proc *procState

	startGroup singleflight.Group
}

// procState is the mutable state of one spawned process generation.
// A respawn allocates a fresh procState; pending requests never
// migrate between generations.
type procState struct {
	handle workerProc

	writeMu sync.Mutex // serializes whole-line stdin writes

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
	dead      bool
}

// pendingRequest tracks one in-flight call. It resolves exactly once:
// matching response, worker error, timeout, or worker death.
type pendingRequest struct {
	id     string
	method string
	ch     chan callOutcome
	timer  *time.Timer
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// NewTransport creates a stopped transport for the labeled worker.
// The subprocess is spawned lazily by the first request.
func NewTransport(label string, cfg config.WorkerConfig, logger *zap.Logger, opts ...Option) *Transport {
	t := &Transport{
		label:  label,
		cfg:    cfg,
		logger: logger.Named(label),
		launch: spawnProcess,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start ensures the worker process is running. It is idempotent; a
// transport whose process died restarts it.
func (t *Transport) Start() error {
	_, err := t.ensureProc()
	return err
}

// Request issues one correlated call and blocks until the matching
// response, the worker's error, the timeout, context cancellation, or
// worker death. A zero timeout waits indefinitely (until the worker
// answers or dies).
func (t *Transport) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	proc, err := t.ensureProc()
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%d", t.label, t.counter.Add(1))
	frame, err := wireJSON.Marshal(schemas.RPCRequest{
		JSONRPC: schemas.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	req := &pendingRequest{id: id, method: method, ch: make(chan callOutcome, 1)}

	proc.pendingMu.Lock()
	if proc.dead {
		proc.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", t.label, ErrWorkerStopped)
	}
	proc.pending[id] = req
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			if t.takePending(proc, id) != nil {
				req.ch <- callOutcome{err: fmt.Errorf("%s %s after %s: %w", t.label, method, timeout, ErrTimeout)}
			}
		})
	}
	proc.pendingMu.Unlock()

	if err := t.writeLine(proc, frame); err != nil {
		if taken := t.takePending(proc, id); taken != nil {
			if taken.timer != nil {
				taken.timer.Stop()
			}
			return nil, fmt.Errorf("writing to %s worker: %w", t.label, err)
		}
		// The write raced with teardown; the pending entry has
		// already been resolved with WorkerStopped.
		out := <-req.ch
		return out.result, out.err
	}

	select {
	case out := <-req.ch:
		return out.result, out.err
	case <-ctx.Done():
		if taken := t.takePending(proc, id); taken != nil && taken.timer != nil {
			taken.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// Stop tears the worker down. Every currently pending request fails
// with ErrWorkerStopped; the next Request spawns a fresh process.
func (t *Transport) Stop() {
	t.mu.Lock()
	proc := t.proc
	t.mu.Unlock()
	if proc == nil {
		return
	}
	t.teardown(proc)
	proc.handle.Kill()
}

// ensureProc returns the live process state, spawning it when absent.
// Concurrent first requests collapse into a single spawn attempt.
func (t *Transport) ensureProc() (*procState, error) {
	t.mu.Lock()
	if proc := t.proc; proc != nil {
		t.mu.Unlock()
		return proc, nil
	}
	t.mu.Unlock()

	v, err, _ := t.startGroup.Do(t.label, func() (any, error) {
		t.mu.Lock()
		if proc := t.proc; proc != nil {
			t.mu.Unlock()
			return proc, nil
		}
		t.mu.Unlock()
		return t.spawnLocked()
	})
	if err != nil {
		return nil, err
	}
	return v.(*procState), nil
}

// spawnLocked tries the resolved launch candidates in order; the first
// successful spawn wins. All failures aggregate into a StartError.
func (t *Transport) spawnLocked() (*procState, error) {
	var attempts []AttemptError
	for _, candidate := range ResolveCommands(t.cfg) {
		handle, err := t.launch(candidate)
		if err != nil {
			t.logger.Warn("Worker launch candidate failed",
				zap.String("command", candidate.String()),
				zap.Error(err))
			attempts = append(attempts, AttemptError{Command: candidate.String(), Err: err})
			continue
		}

		proc := &procState{
			handle:  handle,
			pending: make(map[string]*pendingRequest),
		}
		t.mu.Lock()
		t.proc = proc
		t.mu.Unlock()

		go t.readLoop(proc)
		go t.drainStderr(proc)

		t.logger.Info("Worker started", zap.String("command", candidate.String()))
		return proc, nil
	}
	return nil, &StartError{Label: t.label, Attempts: attempts}
}

// writeLine emits exactly one frame followed by a newline. Writes of
// complete lines never interleave.
func (t *Transport) writeLine(proc *procState, frame []byte) error {
	proc.writeMu.Lock()
	defer proc.writeMu.Unlock()
	if _, err := proc.handle.Stdin().Write(append(frame, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop consumes stdout lines until the process dies, dispatching
// each parsed frame to its pending request.
func (t *Transport) readLoop(proc *procState) {
	scanner := bufio.NewScanner(proc.handle.Stdout())
	scanner.Buffer(make([]byte, initialLineBytes), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		t.dispatchLine(proc, line)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("Worker stdout closed with error", zap.Error(err))
	}
	t.teardown(proc)
	_ = proc.handle.Wait()
}

// dispatchLine resolves one pending request from one worker frame.
// Unparseable lines and unmatched ids are inert: logged and dropped,
// never fatal to the connection or to any pending call.
func (t *Transport) dispatchLine(proc *procState, line []byte) {
	var resp schemas.RPCResponse
	if err := wireJSON.Unmarshal(line, &resp); err != nil {
		t.logger.Warn("Dropping unparseable worker line", zap.Error(err))
		return
	}
	if resp.ID == "" {
		t.logger.Warn("Dropping worker frame without id")
		return
	}

	req := t.takePending(proc, resp.ID)
	if req == nil {
		// Timed out, cancelled, or never ours.
		t.logger.Debug("Dropping unmatched response", zap.String("id", resp.ID))
		return
	}
	if req.timer != nil {
		req.timer.Stop()
	}

	if resp.Error != nil {
		message := resp.Error.Message
		if message == "" {
			message = "RPC error"
		}
		req.ch <- callOutcome{err: &RPCError{
			Label:   t.label,
			Method:  req.method,
			Code:    resp.Error.Code,
			Message: message,
			Data:    resp.Error.Data,
		}}
		return
	}
	req.ch <- callOutcome{result: resp.Result}
}

// takePending atomically removes and returns the pending request with
// the given id, or nil when it has already been resolved.
func (t *Transport) takePending(proc *procState, id string) *pendingRequest {
	proc.pendingMu.Lock()
	defer proc.pendingMu.Unlock()
	req, ok := proc.pending[id]
	if !ok {
		return nil
	}
	delete(proc.pending, id)
	return req
}

// teardown marks the generation dead, fails every pending request with
// ErrWorkerStopped and detaches the generation from the transport so
// the next request respawns. Idempotent.
func (t *Transport) teardown(proc *procState) {
	proc.pendingMu.Lock()
	if proc.dead {
		proc.pendingMu.Unlock()
		return
	}
	proc.dead = true
	orphaned := proc.pending
	proc.pending = make(map[string]*pendingRequest)
	proc.pendingMu.Unlock()

	for _, req := range orphaned {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.ch <- callOutcome{err: fmt.Errorf("%s: %w", t.label, ErrWorkerStopped)}
	}
	if len(orphaned) > 0 {
		t.logger.Warn("Failed pending requests on worker teardown", zap.Int("count", len(orphaned)))
	}

	t.mu.Lock()
	if t.proc == proc {
		t.proc = nil
	}
	t.mu.Unlock()
}

// drainStderr forwards the worker's stderr lines into the bridge log;
// the Python workers log there.
func (t *Transport) drainStderr(proc *procState) {
	stderr := proc.handle.Stderr()
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			t.logger.Debug("Worker stderr", zap.String("line", line))
		}
	}
}

// execHandle is the production workerProc over exec.Cmd.
type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func spawnProcess(candidate Command) (workerProc, error) {
	cmd := exec.Command(candidate.Path, candidate.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHandle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (h *execHandle) Stdin() io.Writer  { return h.stdin }
func (h *execHandle) Stdout() io.Reader { return h.stdout }
func (h *execHandle) Stderr() io.Reader { return h.stderr }

func (h *execHandle) Kill() {
	_ = h.stdin.Close()
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

func (h *execHandle) Wait() error { return h.cmd.Wait() }
