// internal/rpc/transport_test.go
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeHandle stands in for a spawned worker process using in-memory
// pipes. A drain goroutine parses every request the transport writes
// and exposes it on the requests channel, so writes never block.
type fakeHandle struct {
	stdinW  *io.PipeWriter
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
	stdoutR *io.PipeReader

	requests chan schemas.RPCRequest
	killOnce sync.Once
	done     chan struct{}
}

func newFakeHandle() *fakeHandle {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	h := &fakeHandle{
		stdinW:   stdinW,
		stdinR:   stdinR,
		stdoutW:  stdoutW,
		stdoutR:  stdoutR,
		requests: make(chan schemas.RPCRequest, 32),
		done:     make(chan struct{}),
	}
	go h.drainRequests()
	return h
}

func (h *fakeHandle) drainRequests() {
	defer close(h.done)
	scanner := bufio.NewScanner(h.stdinR)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var req schemas.RPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err == nil {
			h.requests <- req
		}
	}
}

func (h *fakeHandle) Stdin() io.Writer  { return h.stdinW }
func (h *fakeHandle) Stdout() io.Reader { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader { return nil }
func (h *fakeHandle) Wait() error       { return nil }

func (h *fakeHandle) Kill() {
	h.killOnce.Do(func() {
		_ = h.stdinW.Close()
		_ = h.stdinR.Close()
		_ = h.stdoutW.Close()
	})
	<-h.done
}

// sendLine pushes one raw line onto the transport's stdout.
func (h *fakeHandle) sendLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.stdoutW, line+"\n"); err != nil {
		t.Fatalf("writing fake worker line: %v", err)
	}
}

// nextRequest blocks for the next request frame the transport wrote.
func (h *fakeHandle) nextRequest(t *testing.T) schemas.RPCRequest {
	t.Helper()
	select {
	case req := <-h.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request frame")
		return schemas.RPCRequest{}
	}
}

func (h *fakeHandle) respondResult(t *testing.T, id, result string) {
	h.sendLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":%s}`, id, result))
}

func (h *fakeHandle) respondError(t *testing.T, id string, code int, message string) {
	h.sendLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"error":{"code":%d,"message":%q}}`, id, code, message))
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PythonPath: "/fake/python",
		Entrypoint: "worker.py",
	}
}

// newTestTransport wires a transport to fresh fakeHandles, one per
// spawn. The returned getter yields the current (latest) handle.
func newTestTransport(t *testing.T, label string) (*Transport, func() *fakeHandle, *atomic.Int32) {
	t.Helper()
	var mu sync.Mutex
	var current *fakeHandle
	var spawns atomic.Int32

	tr := NewTransport(label, testWorkerConfig(), zaptest.NewLogger(t), withLauncher(func(cmd Command) (workerProc, error) {
		mu.Lock()
		defer mu.Unlock()
		current = newFakeHandle()
		spawns.Add(1)
		return current, nil
	}))
	t.Cleanup(tr.Stop)

	// The first spawn is lazy, so the responder goroutines may ask for
	// the handle before it exists.
	getter := func() *fakeHandle {
		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			h := current
			mu.Unlock()
			if h != nil {
				return h
			}
			if time.Now().After(deadline) {
				panic("no worker spawned within deadline")
			}
			time.Sleep(time.Millisecond)
		}
	}
	return tr, getter, &spawns
}

func TestTransport_RequestResponse(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := handle().nextRequest(t)
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "status", req.Method)
		assert.Equal(t, "exec-1", req.ID)
		handle().respondResult(t, req.ID, `{"ok":true}`)
	}()

	result, err := tr.Request(context.Background(), "status", nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	<-done
}

func TestTransport_ResultDecodesWithStandardLibrary(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := handle().nextRequest(t)
		handle().respondResult(t, req.ID, `{"ok":true,"python":"3.12.1","platform":"linux"}`)
	}()

	result, err := tr.Request(context.Background(), "status", nil, time.Second)
	require.NoError(t, err)
	<-done

	// Callers hold a stdlib json.RawMessage and decode it with whatever
	// codec they use; encoding/json must accept it directly.
	var status schemas.ExecStatus
	require.NoError(t, json.Unmarshal(result, &status))
	assert.True(t, status.OK)
	assert.Equal(t, "3.12.1", status.Python)
	assert.Equal(t, "linux", status.Platform)
}

func TestTransport_OutOfOrderResponsesDoNotCrossContaminate(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())

	type outcome struct {
		method string
		result string
		err    error
	}
	results := make(chan outcome, 2)
	call := func(method string) {
		res, err := tr.Request(context.Background(), method, nil, 2*time.Second)
		results <- outcome{method: method, result: string(res), err: err}
	}
	go call("snapshot")
	go call("status")

	first := handle().nextRequest(t)
	second := handle().nextRequest(t)

	// Answer in reverse arrival order; matching is by id, not position.
	handle().respondResult(t, second.ID, fmt.Sprintf(`{"answer":%q}`, second.Method))
	handle().respondResult(t, first.ID, fmt.Sprintf(`{"answer":%q}`, first.Method))

	for range 2 {
		out := <-results
		require.NoError(t, out.err)
		assert.JSONEq(t, fmt.Sprintf(`{"answer":%q}`, out.method), out.result)
	}
}

func TestTransport_WorkerErrorBecomesRPCError(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "vision")

	go func() {
		req := handle().nextRequest(t)
		handle().respondError(t, req.ID, -32603, "No screenshot available for this session")
	}()

	_, err := tr.Request(context.Background(), "resolve", map[string]any{"method": "ocr"}, time.Second)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "vision", rpcErr.Label)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Equal(t, "No screenshot available for this session", rpcErr.Message)
}

func TestTransport_WorkerErrorWithoutMessageGetsDefault(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "vision")

	go func() {
		req := handle().nextRequest(t)
		handle().sendLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"error":{}}`, req.ID))
	}()

	_, err := tr.Request(context.Background(), "resolve", nil, time.Second)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "RPC error", rpcErr.Message)
}

func TestTransport_TimeoutThenLateResponseIsDropped(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())

	_, err := tr.Request(context.Background(), "act", nil, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// The late answer finds no pending id; it must be swallowed and
	// the transport must keep serving new requests.
	req := handle().nextRequest(t)
	handle().respondResult(t, req.ID, `{"late":true}`)

	go func() {
		next := handle().nextRequest(t)
		handle().respondResult(t, next.ID, `{"ok":true}`)
	}()
	result, err := tr.Request(context.Background(), "status", nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestTransport_MalformedLinesAreInert(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())

	resultCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), "status", nil, 2*time.Second)
		resultCh <- err
	}()

	req := handle().nextRequest(t)
	handle().sendLine(t, `this is not json`)
	handle().sendLine(t, `{"jsonrpc":"2.0"}`)
	handle().sendLine(t, `{"jsonrpc":"2.0","id":"never-sent-9","result":{}}`)
	handle().respondResult(t, req.ID, `{"ok":true}`)

	require.NoError(t, <-resultCh)
}

func TestTransport_StopFailsAllPendingAndRespawnsLazily(t *testing.T) {
	tr, handle, spawns := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())
	require.Equal(t, int32(1), spawns.Load())

	const inflight = 3
	errs := make(chan error, inflight)
	for range inflight {
		go func() {
			_, err := tr.Request(context.Background(), "act", nil, 0)
			errs <- err
		}()
	}
	for range inflight {
		handle().nextRequest(t)
	}

	tr.Stop()

	for range inflight {
		require.ErrorIs(t, <-errs, ErrWorkerStopped)
	}

	// Start is idempotent and lazily respawns after death; this pins
	// the new handle before the responder goroutine grabs it.
	require.NoError(t, tr.Start())
	require.Equal(t, int32(2), spawns.Load())

	go func() {
		req := handle().nextRequest(t)
		handle().respondResult(t, req.ID, `{"ok":true}`)
	}()
	result, err := tr.Request(context.Background(), "status", nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestTransport_ProcessDeathFailsPending(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), "snapshot", nil, 0)
		errCh <- err
	}()
	handle().nextRequest(t)

	// Simulate a crash: stdout closes without a response.
	handle().Kill()

	require.ErrorIs(t, <-errCh, ErrWorkerStopped)
}

func TestTransport_StartFailureAggregatesCandidates(t *testing.T) {
	cfg := config.WorkerConfig{Entrypoint: "worker.py"} // no explicit path: two candidates
	tr := NewTransport("exec", cfg, zaptest.NewLogger(t), withLauncher(func(cmd Command) (workerProc, error) {
		return nil, fmt.Errorf("no such interpreter: %s", cmd.Path)
	}))

	_, err := tr.Request(context.Background(), "status", nil, time.Second)
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "exec", startErr.Label)
	require.Len(t, startErr.Attempts, 2)
	assert.Contains(t, startErr.Attempts[0].Command, "python3")
	assert.Contains(t, startErr.Attempts[1].Command, "python")
}

func TestTransport_ConcurrentFirstRequestsSpawnOnce(t *testing.T) {
	tr, handle, spawns := newTestTransport(t, "exec")

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.Request(context.Background(), "status", nil, 2*time.Second)
		}()
	}

	for range callers {
		req := handle().nextRequest(t)
		handle().respondResult(t, req.ID, `{"ok":true}`)
	}
	wg.Wait()

	assert.Equal(t, int32(1), spawns.Load())
}

func TestTransport_ContextCancellationUnblocksCall(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "exec")
	require.NoError(t, tr.Start())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(ctx, "act", nil, 0)
		errCh <- err
	}()
	handle().nextRequest(t)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestTransport_RequestIDsAreLabelScopedAndIncreasing(t *testing.T) {
	tr, handle, _ := newTestTransport(t, "vision")
	require.NoError(t, tr.Start())

	for i := 1; i <= 3; i++ {
		go func() {
			req := handle().nextRequest(t)
			assert.Equal(t, fmt.Sprintf("vision-%d", i), req.ID)
			handle().respondResult(t, req.ID, `{}`)
		}()
		_, err := tr.Request(context.Background(), "status", nil, time.Second)
		require.NoError(t, err)
	}
}

func TestTransport_StopWithoutStartIsHarmless(t *testing.T) {
	tr, _, spawns := newTestTransport(t, "exec")
	tr.Stop()
	tr.Stop()
	assert.Equal(t, int32(0), spawns.Load())
}

func TestResolveCommands(t *testing.T) {
	t.Run("conventional candidates when nothing configured", func(t *testing.T) {
		cmds := ResolveCommands(config.WorkerConfig{Entrypoint: "srv.py", ExtraArgs: []string{"-u"}})
		require.Len(t, cmds, 2)
		assert.Equal(t, Command{Path: "python3", Args: []string{"-u", "srv.py"}}, cmds[0])
		assert.Equal(t, Command{Path: "python", Args: []string{"-u", "srv.py"}}, cmds[1])
	})

	t.Run("explicit path is the only candidate", func(t *testing.T) {
		cmds := ResolveCommands(config.WorkerConfig{PythonPath: "/opt/venv/bin/python", Entrypoint: "srv.py"})
		require.Len(t, cmds, 1)
		assert.Equal(t, "/opt/venv/bin/python", cmds[0].Path)
		assert.Equal(t, []string{"srv.py"}, cmds[0].Args)
	})

	t.Run("environment override wins over configured path", func(t *testing.T) {
		t.Setenv("DESKBRIDGE_TEST_PYTHON", "/env/python")
		cmds := ResolveCommands(config.WorkerConfig{
			PythonPath:   "/opt/venv/bin/python",
			PythonEnvVar: "DESKBRIDGE_TEST_PYTHON",
			Entrypoint:   "srv.py",
		})
		require.Len(t, cmds, 1)
		assert.Equal(t, "/env/python", cmds[0].Path)
	})

	t.Run("unset environment variable falls through", func(t *testing.T) {
		cmds := ResolveCommands(config.WorkerConfig{
			PythonEnvVar: "DESKBRIDGE_TEST_PYTHON_UNSET",
			Entrypoint:   "srv.py",
		})
		require.Len(t, cmds, 2)
	})
}

func TestSessionRegistry(t *testing.T) {
	cfg := config.NewDefaultConfig()
	registry := NewRegistry(cfg, zaptest.NewLogger(t))
	t.Cleanup(registry.Close)

	execSession, err := registry.Exec()
	require.NoError(t, err)
	assert.Equal(t, SessionExec, execSession.Label())

	visionSession, err := registry.Vision()
	require.NoError(t, err)
	assert.Equal(t, SessionVision, visionSession.Label())

	// Sessions are reused, not recreated.
	again, err := registry.Exec()
	require.NoError(t, err)
	assert.Same(t, execSession, again)

	_, err = registry.Session("telemetry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown worker session")
}

// Guard against accidental interface drift between the fake and the
// production handle.
var (
	_ workerProc = (*fakeHandle)(nil)
	_ workerProc = (*execHandle)(nil)
	_ error      = (*StartError)(nil)
	_ error      = (*RPCError)(nil)
	_            = errors.Is
)
