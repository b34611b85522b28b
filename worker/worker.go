// Package worker implements the runtime that lives inside the isolated
// worker process.
//
// The runtime owns the native library's process-wide initialization state.
// It performs initialization exactly once, reports the outcome over the
// channel, then serves call requests one at a time from a single-threaded
// receive loop. No failure raised by a call target (native error, argument
// problem, even a panic) is allowed to terminate the loop; the only valid
// terminations are an explicit shutdown request and process death itself.
//
// State machine:
//
//	Uninitialized → Initializing → Serving → Terminating → Terminated
//
// Terminated is irreversible. A crashed or finished worker is never revived;
// the executor spawns a fresh process instead.
package worker

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"sdkbridge/catalog"
	"sdkbridge/channel"
	"sdkbridge/codec"
	"sdkbridge/envelope"
	"sdkbridge/faults"
	"sdkbridge/native"
	"sdkbridge/protocol"
)

// State is the worker runtime's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateServing
	StateTerminating
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateServing:
		return "Serving"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Runtime drives one worker process's lifetime over one channel endpoint.
type Runtime struct {
	ch    *channel.Channel
	reg   *catalog.Registry
	appID uint32
	state State
	log   *zap.Logger
}

// NewRuntime builds a runtime serving reg over ch. appID is exported to the
// process environment strictly around native initialization.
func NewRuntime(ch *channel.Channel, reg *catalog.Registry, appID uint32) *Runtime {
	return &Runtime{
		ch:    ch,
		reg:   reg,
		appID: appID,
		state: StateUninitialized,
		log:   zap.NewNop(),
	}
}

// SetLogger replaces the runtime's logger (default: no-op). The worker
// process must log to stderr only; stdout carries the protocol.
func (rt *Runtime) SetLogger(log *zap.Logger) {
	if log != nil {
		rt.log = log
	}
}

// State returns the runtime's current lifecycle state.
func (rt *Runtime) State() State {
	return rt.state
}

// Run initializes the native library, reports the result, and serves the
// receive loop until a shutdown request arrives or the channel closes.
// It is the entire life of a worker; it never runs twice.
func (rt *Runtime) Run() error {
	if rt.state != StateUninitialized {
		return fmt.Errorf("worker runtime already started (state %s)", rt.state)
	}

	rt.state = StateInitializing
	rt.log.Info("initializing native library", zap.Uint32("app_id", rt.appID))

	initErr := rt.reg.Lib().Init(rt.appID)
	if err := rt.reportInit(initErr); err != nil {
		rt.state = StateTerminated
		return err
	}
	if initErr != nil {
		// Initialization failed: the report above is the last frame this
		// process sends. There is nothing to serve.
		rt.log.Warn("native initialization failed", zap.Error(initErr))
		rt.state = StateTerminated
		return nil
	}

	rt.state = StateServing
	rt.log.Info("serving call requests")
	err := rt.serve()
	rt.state = StateTerminated
	return err
}

// reportInit sends the Init frame telling the executor whether native
// initialization succeeded.
func (rt *Runtime) reportInit(initErr error) error {
	msg := &envelope.Message{Status: envelope.StatusOK}
	if initErr != nil {
		msg.Status = envelope.StatusError
		msg.ErrorKind = string(faults.KindInitialization)
		msg.ErrorMessage = initErr.Error()
		if fe, ok := initErr.(*faults.Error); ok {
			msg.ErrorKind = string(fe.Kind)
			msg.ErrorMessage = fe.Message
		}
	}
	return rt.ch.Send(protocol.MsgTypeInit, 0, msg)
}

// serve is the main receive loop: one request at a time, exactly one
// response per request.
func (rt *Runtime) serve() error {
	for {
		header, msg, err := rt.ch.Recv()
		if err != nil {
			// Channel closed: the supervisor is gone or tore us down.
			rt.log.Info("channel closed, terminating", zap.Error(err))
			return nil
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			// Liveness probe, nothing to answer
			continue

		case protocol.MsgTypeShutdown:
			rt.state = StateTerminating
			rt.log.Info("shutdown requested, releasing native library")
			rt.reg.Lib().Shutdown()
			resp := &envelope.Message{Status: envelope.StatusOK}
			if msg != nil {
				resp.ID = msg.ID
			}
			if err := rt.ch.Send(protocol.MsgTypeResponse, header.Seq, resp); err != nil {
				rt.log.Warn("failed to acknowledge shutdown", zap.Error(err))
			}
			return nil

		case protocol.MsgTypeRequest:
			if msg == nil {
				rt.log.Warn("request frame without body", zap.Uint32("seq", header.Seq))
				continue
			}
			resp := rt.dispatch(msg)
			if err := rt.ch.Send(protocol.MsgTypeResponse, header.Seq, resp); err != nil {
				// Can't deliver the response: the supervisor is gone.
				rt.log.Warn("failed to send response", zap.Error(err))
				return nil
			}

		default:
			rt.log.Warn("unexpected frame", zap.Uint8("msg_type", uint8(header.MsgType)))
		}
	}
}

// dispatch resolves and executes one call request, always producing exactly
// one response. A panic inside a call target is captured and transported as
// a native_call error; the loop survives.
func (rt *Runtime) dispatch(req *envelope.Message) (resp *envelope.Message) {
	resp = &envelope.Message{ID: req.ID, Target: req.Target}

	defer func() {
		if r := recover(); r != nil {
			rt.log.Error("call target panicked",
				zap.String("target", req.Target),
				zap.Any("panic", r))
			resp.Status = envelope.StatusError
			resp.ErrorKind = string(faults.KindNativeCall)
			resp.ErrorMessage = fmt.Sprintf("panic in call target: %v", r)
			resp.Payload = nil
		}
	}()

	args, err := envelope.DecodeArgs(req.Payload)
	if err != nil {
		return errorResponse(resp, faults.New(faults.KindNativeCall, "malformed arguments: %v", err))
	}

	value, err := rt.reg.Execute(req.Target, args.Args, args.Kwargs)
	if err != nil {
		return errorResponse(resp, err)
	}

	payload, err := envelope.EncodeValue(value)
	if err != nil {
		return errorResponse(resp, faults.New(faults.KindNativeCall, "unserializable result: %v", err))
	}

	resp.Status = envelope.StatusOK
	resp.Payload = payload
	return resp
}

// errorResponse fills resp from err, mapping taxonomy errors to their wire
// kind and everything else to native_call.
func errorResponse(resp *envelope.Message, err error) *envelope.Message {
	resp.Status = envelope.StatusError
	if fe, ok := err.(*faults.Error); ok {
		resp.ErrorKind = string(fe.Kind)
		resp.ErrorMessage = fe.Message
	} else {
		resp.ErrorKind = string(faults.KindNativeCall)
		resp.ErrorMessage = err.Error()
	}
	return resp
}

// ServeConfig configures the worker binary's runtime.
type ServeConfig struct {
	AppID  uint32
	Codec  codec.CodecType
	Native native.Config
	Logger *zap.Logger
}

// Serve runs a complete worker lifetime over the given stream pair
// (normally os.Stdin/os.Stdout of the spawned process).
func Serve(r io.Reader, w io.Writer, cfg ServeConfig) error {
	ch := channel.New(r, w, cfg.Codec)
	lib := native.New(cfg.Native)
	reg := catalog.New(lib)
	rt := NewRuntime(ch, reg, cfg.AppID)
	rt.SetLogger(cfg.Logger)
	return rt.Run()
}
