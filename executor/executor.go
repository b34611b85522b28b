// Package executor implements the supervisor-side component that presents
// native SDK calls as ordinary synchronous method calls while running every
// one of them inside a separate, disposable worker process.
//
// Call flow:
//
//	caller → Executor.Call(target, args)
//	       → middleware chain → channel.Send(Request)
//	       → worker executes → channel.Recv(Response)
//	       → value returned, or the worker's error re-raised by kind
//
// Lifecycle state machine:
//
//	Idle → Starting → Ready ⇄ Calling
//	          ↓          ↓
//	          └──→ ShuttingDown ──→ Idle
//
// A worker death observed in any state other than Idle/ShuttingDown forces
// the state straight back to Idle and surfaces worker_lost to any blocked
// caller. A discarded worker is never repaired; the next Init spawns a
// fresh process.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdkbridge/channel"
	"sdkbridge/config"
	"sdkbridge/envelope"
	"sdkbridge/faults"
	"sdkbridge/metrics"
	"sdkbridge/middleware"
	"sdkbridge/protocol"
)

// State is the executor's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateCalling
	StateShuttingDown
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateCalling:
		return "Calling"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Executor owns one worker process handle and the channel to it. Nothing
// outside the executor may address the worker directly.
type Executor struct {
	mu     sync.Mutex
	state  State
	ch     *channel.Channel
	handle Handle

	spawner     Spawner
	cfg         *config.Config
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	log         *zap.Logger
	metrics     *metrics.Metrics

	hbStop chan struct{}
}

// New creates an executor in the Idle state. cfg may be nil for defaults.
func New(spawner Spawner, cfg *config.Config) *Executor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Executor{
		state:   StateIdle,
		spawner: spawner,
		cfg:     cfg,
		log:     zap.NewNop(),
	}
}

// SetLogger replaces the executor's logger (default: no-op).
func (e *Executor) SetLogger(log *zap.Logger) {
	if log != nil {
		e.log = log
	}
}

// SetMetrics attaches call metrics (default: none).
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Use registers a middleware around the call round-trip. Middlewares are
// applied in the order they are added and must be registered before Init.
func (e *Executor) Use(mw middleware.Middleware) {
	e.middlewares = append(e.middlewares, mw)
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init spawns the worker process, establishes the channel, and blocks until
// the worker confirms that native initialization succeeded or failed.
//
// Init while Ready is a no-op returning success. Init while a call is in
// flight (or a shutdown is running) fails with invalid_state. A host
// prerequisite failure is reported before any process is spawned.
func (e *Executor) Init() error {
	e.mu.Lock()
	switch e.state {
	case StateReady:
		e.mu.Unlock()
		return nil
	case StateCalling, StateShuttingDown, StateStarting:
		state := e.state
		e.mu.Unlock()
		return faults.New(faults.KindInvalidState, "cannot init in state %s", state)
	}
	e.state = StateStarting
	e.mu.Unlock()

	if err := e.checkPrerequisites(); err != nil {
		e.setState(StateIdle)
		return err
	}

	ch, handle, err := e.spawner.Spawn()
	if err != nil {
		e.setState(StateIdle)
		return faults.New(faults.KindInitialization, "worker process failed to start: %v", err)
	}
	e.log.Info("worker spawned")
	if e.metrics != nil {
		e.metrics.WorkersSpawned.Inc()
	}

	header, msg, err := recvWithTimeout(ch, e.cfg.StartupTimeout)
	if err != nil {
		discard(ch, handle)
		e.setState(StateIdle)
		if e.metrics != nil {
			e.metrics.WorkersLost.Inc()
		}
		return faults.New(faults.KindInitialization, "no initialization report from worker: %v", err)
	}
	if header.MsgType != protocol.MsgTypeInit || msg == nil {
		discard(ch, handle)
		e.setState(StateIdle)
		return faults.New(faults.KindInitialization, "unexpected frame %d before initialization report", header.MsgType)
	}
	if msg.Status != envelope.StatusOK {
		// The worker reported the native failure and exited; propagate the
		// kind verbatim so the caller sees the native layer's own words.
		discard(ch, handle)
		e.setState(StateIdle)
		return faults.FromKind(msg.ErrorKind, msg.ErrorMessage)
	}

	e.mu.Lock()
	e.ch = ch
	e.handle = handle
	e.state = StateReady
	e.handler = middleware.Chain(e.middlewares...)(e.roundTrip)
	e.mu.Unlock()

	e.startHeartbeat()
	e.log.Info("worker ready")
	return nil
}

// Call executes target in the worker with positional arguments only.
func (e *Executor) Call(target string, args ...any) (any, error) {
	return e.CallKw(target, args, nil)
}

// CallKw executes target in the worker and blocks until the matching
// response arrives or the channel closes. Valid only in the Ready state; a
// second logical caller while a call is in flight is rejected with
// invalid_state rather than queued, keeping the protocol's single-request
// invariant intact.
func (e *Executor) CallKw(target string, args []any, kwargs map[string]any) (any, error) {
	e.mu.Lock()
	if e.state != StateReady {
		state := e.state
		e.mu.Unlock()
		if state == StateCalling {
			return nil, faults.New(faults.KindInvalidState, "another call is already in flight")
		}
		return nil, faults.New(faults.KindInvalidState, "cannot call in state %s", state)
	}
	e.state = StateCalling
	handler := e.handler
	e.mu.Unlock()

	payload, err := envelope.EncodeArgs(args, kwargs)
	if err != nil {
		e.callDone()
		return nil, faults.New(faults.KindNativeCall, "%v", err)
	}

	req := &envelope.Message{
		ID:      uuid.NewString(),
		Target:  target,
		Payload: payload,
	}

	start := time.Now()
	resp := handler(context.Background(), req)
	if e.metrics != nil {
		e.metrics.Observe(target, resp.Status, time.Since(start))
	}

	if resp.Status == envelope.StatusError {
		err := faults.FromKind(resp.ErrorKind, resp.ErrorMessage)
		if faults.IsWorkerLost(err) {
			// The worker is gone; Calling → Idle was already forced by
			// roundTrip. The caller must Init again.
			return nil, err
		}
		e.callDone()
		return nil, err
	}

	e.callDone()
	return envelope.DecodeValue(resp.Payload)
}

// roundTrip is the core handler wrapped by the middleware chain: send one
// request, block for the matching response. All transport failures are
// folded into a worker_lost error response so middleware sees a uniform
// request/response shape.
func (e *Executor) roundTrip(ctx context.Context, req *envelope.Message) *envelope.Message {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	if ch == nil {
		return lostResponse(req, "no worker channel")
	}

	seq := ch.NextSeq()
	if err := ch.Send(protocol.MsgTypeRequest, seq, req); err != nil {
		e.discardWorker("send failed", err)
		return lostResponse(req, fmt.Sprintf("request could not be sent: %v", err))
	}

	header, msg, err := recvWithTimeout(ch, e.cfg.CallTimeout)
	if err != nil {
		// Channel closed without a response, or the call was abandoned on
		// timeout. Either way the worker is discarded: the native layer has
		// no cancellation primitive, so termination is the only way out.
		e.discardWorker("no response", err)
		return lostResponse(req, fmt.Sprintf("worker terminated before responding: %v", err))
	}

	if header.MsgType != protocol.MsgTypeResponse || msg == nil ||
		header.Seq != seq || msg.ID != req.ID {
		// A frame that violates the single-request protocol means the
		// worker can no longer be trusted.
		e.discardWorker("protocol violation", nil)
		return lostResponse(req, "protocol violation: response does not match request")
	}

	return msg
}

// Shutdown releases the worker: it asks for a graceful exit, waits a bounded
// time, then forcibly terminates the process. It is idempotent, always
// leaves the executor Idle, and never returns an error: termination
// failures are logged and life goes on.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StateShuttingDown:
		e.mu.Unlock()
		return
	case StateCalling:
		// A call is blocked on the channel; there is no second receiver to
		// run a graceful exchange. Forced termination unblocks the caller
		// with worker_lost.
		ch, handle := e.ch, e.handle
		e.ch, e.handle = nil, nil
		e.state = StateIdle
		e.mu.Unlock()
		e.stopHeartbeat()
		e.log.Warn("shutdown while call in flight, terminating worker")
		discard(ch, handle)
		return
	}
	e.state = StateShuttingDown
	ch, handle := e.ch, e.handle
	e.ch, e.handle = nil, nil
	e.mu.Unlock()

	e.stopHeartbeat()

	// The ack wait and the exit wait share one ShutdownGrace budget
	start := time.Now()
	if ch != nil {
		if err := ch.Send(protocol.MsgTypeShutdown, ch.NextSeq(), &envelope.Message{ID: uuid.NewString()}); err != nil {
			e.log.Warn("graceful shutdown request failed", zap.Error(err))
		} else if _, _, err := recvWithTimeout(ch, e.cfg.ShutdownGrace); err != nil {
			e.log.Warn("worker did not acknowledge shutdown", zap.Error(err))
		}
	}
	if handle != nil {
		wait := time.Duration(0) // 0 waits unbounded, matching ShutdownGrace == 0
		expired := false
		if e.cfg.ShutdownGrace > 0 {
			wait = e.cfg.ShutdownGrace - time.Since(start)
			expired = wait <= 0
		}
		if expired || handle.Wait(wait) != nil {
			e.log.Warn("worker did not exit in time, killing")
			if err := handle.Kill(); err != nil {
				e.log.Warn("failed to kill worker", zap.Error(err))
			}
		}
	}
	if ch != nil {
		_ = ch.Close()
	}

	e.setState(StateIdle)
	e.log.Info("worker shut down")
}

// Close makes the executor usable with defer; it is Shutdown.
func (e *Executor) Close() error {
	e.Shutdown()
	return nil
}

// With acquires the executor as a scoped resource: Init, run fn, and
// guarantee Shutdown on every exit path (normal return, error, or panic),
// even when Init itself never completed.
func (e *Executor) With(fn func(*Executor) error) error {
	defer e.Shutdown()
	if err := e.Init(); err != nil {
		return err
	}
	return fn(e)
}

// discardWorker forcibly drops the current worker after a transport failure
// and forces the state to Idle so a subsequent Init can start fresh.
func (e *Executor) discardWorker(reason string, cause error) {
	e.mu.Lock()
	ch, handle := e.ch, e.handle
	e.ch, e.handle = nil, nil
	e.state = StateIdle
	e.mu.Unlock()

	e.stopHeartbeat()
	discard(ch, handle)

	if e.metrics != nil {
		e.metrics.WorkersLost.Inc()
	}
	e.log.Warn("worker discarded", zap.String("reason", reason), zap.Error(cause))
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// callDone returns Calling → Ready. If something else (worker loss, a
// forced shutdown) already moved the state on, it stays moved.
func (e *Executor) callDone() {
	e.mu.Lock()
	if e.state == StateCalling {
		e.state = StateReady
	}
	e.mu.Unlock()
}

// startHeartbeat begins periodic liveness probes if configured. Heartbeats
// share the channel's sending mutex with the call path, so frames never
// interleave.
func (e *Executor) startHeartbeat() {
	if e.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	e.mu.Lock()
	e.hbStop = stop
	ch := e.ch
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := ch.Send(protocol.MsgTypeHeartbeat, 0, nil); err != nil {
					// Worker gone; the next call will observe it too.
					return
				}
			}
		}
	}()
}

func (e *Executor) stopHeartbeat() {
	e.mu.Lock()
	if e.hbStop != nil {
		close(e.hbStop)
		e.hbStop = nil
	}
	e.mu.Unlock()
}

// discard closes the channel and kills the process without ceremony.
func discard(ch *channel.Channel, handle Handle) {
	if ch != nil {
		_ = ch.Close()
	}
	if handle != nil {
		_ = handle.Kill()
		_ = handle.Wait(2 * time.Second)
	}
}

// lostResponse builds the worker_lost error response for req.
func lostResponse(req *envelope.Message, msg string) *envelope.Message {
	return &envelope.Message{
		ID:           req.ID,
		Target:       req.Target,
		Status:       envelope.StatusError,
		ErrorKind:    string(faults.KindWorkerLost),
		ErrorMessage: msg,
	}
}

type recvResult struct {
	header *protocol.Header
	msg    *envelope.Message
	err    error
}

// recvWithTimeout blocks on ch.Recv, bounded by timeout when timeout > 0.
// The native layer offers no cancellation primitive, so a timeout does not
// interrupt anything; the caller is expected to discard the worker.
func recvWithTimeout(ch *channel.Channel, timeout time.Duration) (*protocol.Header, *envelope.Message, error) {
	if timeout <= 0 {
		h, m, err := ch.Recv()
		return h, m, err
	}

	done := make(chan recvResult, 1)
	go func() {
		h, m, err := ch.Recv()
		done <- recvResult{h, m, err}
	}()

	select {
	case r := <-done:
		return r.header, r.msg, r.err
	case <-time.After(timeout):
		return nil, nil, fmt.Errorf("timed out after %s", timeout)
	}
}
