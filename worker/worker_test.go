package worker

import (
	"testing"
	"time"

	"sdkbridge/catalog"
	"sdkbridge/channel"
	"sdkbridge/codec"
	"sdkbridge/envelope"
	"sdkbridge/faults"
	"sdkbridge/native"
	"sdkbridge/protocol"
)

// startRuntime runs a worker runtime over an in-memory pipe pair and returns
// the supervisor-side endpoint plus the native library under test.
func startRuntime(t *testing.T, ncfg native.Config, extra ...catalog.Target) (*channel.Channel, *native.API, chan error) {
	t.Helper()

	sup, wrk := channel.Pipe(codec.CodecTypeJSON)
	lib := native.New(ncfg)
	reg := catalog.New(lib)
	for _, tgt := range extra {
		reg.Register(tgt)
	}
	rt := NewRuntime(wrk, reg, native.DefaultAppID)

	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		err := rt.Run()
		wrk.Close()
		done <- err
		close(stopped)
	}()

	t.Cleanup(func() {
		sup.Close()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("Runtime did not terminate")
		}
	})
	return sup, lib, done
}

func recvInit(t *testing.T, sup *channel.Channel) *envelope.Message {
	t.Helper()
	header, msg, err := sup.Recv()
	if err != nil {
		t.Fatalf("Recv init frame failed: %v", err)
	}
	if header.MsgType != protocol.MsgTypeInit {
		t.Fatalf("Expected init frame, got msg type %d", header.MsgType)
	}
	return msg
}

func call(t *testing.T, sup *channel.Channel, id, target string) (*protocol.Header, *envelope.Message) {
	t.Helper()
	seq := sup.NextSeq()
	req := &envelope.Message{ID: id, Target: target}
	if err := sup.Send(protocol.MsgTypeRequest, seq, req); err != nil {
		t.Fatalf("Send request failed: %v", err)
	}
	header, msg, err := sup.Recv()
	if err != nil {
		t.Fatalf("Recv response failed: %v", err)
	}
	if header.Seq != seq {
		t.Errorf("Response seq mismatch: got %d, want %d", header.Seq, seq)
	}
	if msg.ID != id {
		t.Errorf("Response ID mismatch: got %q, want %q", msg.ID, id)
	}
	return header, msg
}

func TestRuntimeReportsInitSuccess(t *testing.T) {
	sup, lib, _ := startRuntime(t, native.DefaultConfig())

	msg := recvInit(t, sup)
	if msg.Status != envelope.StatusOK {
		t.Fatalf("Expected ok init report, got %+v", msg)
	}
	if !lib.Initialized() {
		t.Error("Native library should be initialized")
	}
}

func TestRuntimeReportsInitFailure(t *testing.T) {
	ncfg := native.DefaultConfig()
	ncfg.LoggedOn = false
	sup, _, done := startRuntime(t, ncfg)

	msg := recvInit(t, sup)
	if msg.Status != envelope.StatusError {
		t.Fatalf("Expected error init report, got %+v", msg)
	}
	if msg.ErrorKind != string(faults.KindInitialization) {
		t.Errorf("ErrorKind: got %q, want %q", msg.ErrorKind, faults.KindInitialization)
	}
	if msg.ErrorMessage != "User isn't logged in" {
		t.Errorf("ErrorMessage: got %q", msg.ErrorMessage)
	}

	// A failed init is the process's last act
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Runtime did not terminate after failed init")
	}
}

func TestRuntimeDispatch(t *testing.T) {
	sup, _, _ := startRuntime(t, native.DefaultConfig())
	recvInit(t, sup)

	_, msg := call(t, sup, "req-1", "get_value")
	if msg.Status != envelope.StatusOK {
		t.Fatalf("Expected ok response, got %+v", msg)
	}
	v, err := envelope.DecodeValue(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if v != native.DefaultValue {
		t.Errorf("get_value: got %v, want %d", v, native.DefaultValue)
	}
}

func TestRuntimeSurvivesUnknownTarget(t *testing.T) {
	sup, _, _ := startRuntime(t, native.DefaultConfig())
	recvInit(t, sup)

	_, msg := call(t, sup, "req-1", "no_such_thing")
	if msg.Status != envelope.StatusError {
		t.Fatalf("Expected error response, got %+v", msg)
	}
	if msg.ErrorKind != string(faults.KindUnknownTarget) {
		t.Errorf("ErrorKind: got %q, want %q", msg.ErrorKind, faults.KindUnknownTarget)
	}

	// The loop must still be serving
	_, msg = call(t, sup, "req-2", "get_value")
	if msg.Status != envelope.StatusOK {
		t.Errorf("Worker stopped serving after unknown target: %+v", msg)
	}
}

func TestRuntimeSurvivesPanic(t *testing.T) {
	panicky := catalog.Target{
		Name: "explode",
		Call: func(args []any, kwargs map[string]any) (any, error) {
			panic("kaboom")
		},
	}
	sup, _, _ := startRuntime(t, native.DefaultConfig(), panicky)
	recvInit(t, sup)

	_, msg := call(t, sup, "req-1", "explode")
	if msg.Status != envelope.StatusError {
		t.Fatalf("Expected error response, got %+v", msg)
	}
	if msg.ErrorKind != string(faults.KindNativeCall) {
		t.Errorf("ErrorKind: got %q, want %q", msg.ErrorKind, faults.KindNativeCall)
	}

	_, msg = call(t, sup, "req-2", "get_value")
	if msg.Status != envelope.StatusOK {
		t.Errorf("Worker stopped serving after panic: %+v", msg)
	}
}

func TestRuntimeIgnoresHeartbeat(t *testing.T) {
	sup, _, _ := startRuntime(t, native.DefaultConfig())
	recvInit(t, sup)

	if err := sup.Send(protocol.MsgTypeHeartbeat, 0, nil); err != nil {
		t.Fatalf("Send heartbeat failed: %v", err)
	}

	_, msg := call(t, sup, "req-1", "get_value")
	if msg.Status != envelope.StatusOK {
		t.Errorf("Worker not serving after heartbeat: %+v", msg)
	}
}

func TestRuntimeShutdown(t *testing.T) {
	sup, lib, done := startRuntime(t, native.DefaultConfig())
	recvInit(t, sup)

	seq := sup.NextSeq()
	if err := sup.Send(protocol.MsgTypeShutdown, seq, &envelope.Message{ID: "bye"}); err != nil {
		t.Fatalf("Send shutdown failed: %v", err)
	}

	header, msg, err := sup.Recv()
	if err != nil {
		t.Fatalf("Recv shutdown ack failed: %v", err)
	}
	if header.MsgType != protocol.MsgTypeResponse || header.Seq != seq {
		t.Errorf("Unexpected ack frame: %+v", header)
	}
	if msg.Status != envelope.StatusOK || msg.ID != "bye" {
		t.Errorf("Unexpected ack message: %+v", msg)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Runtime did not terminate after shutdown")
	}
	if lib.Initialized() {
		t.Error("Native library should be released after shutdown")
	}
}

func TestRuntimeTerminatesOnChannelClose(t *testing.T) {
	sup, _, done := startRuntime(t, native.DefaultConfig())
	recvInit(t, sup)

	sup.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Runtime did not terminate after channel close")
	}
}

func TestRuntimeRunsOnlyOnce(t *testing.T) {
	sup, wrk := channel.Pipe(codec.CodecTypeJSON)
	defer sup.Close()
	defer wrk.Close()

	rt := NewRuntime(wrk, catalog.New(native.New(native.DefaultConfig())), native.DefaultAppID)
	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	recvInit(t, sup)
	sup.Close()
	<-done

	if rt.State() != StateTerminated {
		t.Errorf("Expected Terminated state, got %s", rt.State())
	}
	if err := rt.Run(); err == nil {
		t.Error("Second Run must fail: terminated workers are never revived")
	}
}

func TestLocalSpawner(t *testing.T) {
	l := &Local{Codec: codec.CodecTypeJSON, AppID: native.DefaultAppID, Native: native.DefaultConfig()}
	sup, handle, err := l.Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer sup.Close()

	msg := recvInit(t, sup)
	if msg.Status != envelope.StatusOK {
		t.Fatalf("Expected ok init report, got %+v", msg)
	}

	if err := handle.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := handle.Wait(2 * time.Second); err != nil {
		t.Fatalf("Wait after Kill failed: %v", err)
	}
}
