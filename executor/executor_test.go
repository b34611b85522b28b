package executor_test

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sdkbridge/catalog"
	"sdkbridge/channel"
	"sdkbridge/codec"
	"sdkbridge/config"
	"sdkbridge/envelope"
	"sdkbridge/executor"
	"sdkbridge/faults"
	"sdkbridge/metrics"
	"sdkbridge/native"
	"sdkbridge/protocol"
	"sdkbridge/worker"
)

// capturingSpawner exposes the spawned worker's handle so tests can kill it
// mid-call, simulating a process crash.
type capturingSpawner struct {
	inner  executor.Spawner
	handle executor.Handle
}

func (s *capturingSpawner) Spawn() (*channel.Channel, executor.Handle, error) {
	ch, h, err := s.inner.Spawn()
	s.handle = h
	return ch, h, err
}

// stubbornSpawner produces a fake worker that reports a successful init and
// then ignores everything, including shutdown requests. It only dies when
// killed.
type stubbornSpawner struct{}

func (stubbornSpawner) Spawn() (*channel.Channel, executor.Handle, error) {
	sup, wrk := channel.Pipe(codec.CodecTypeJSON)
	h := &stubbornHandle{ch: wrk, done: make(chan struct{})}
	go func() {
		wrk.Send(protocol.MsgTypeInit, 0, &envelope.Message{Status: envelope.StatusOK})
		for {
			if _, _, err := wrk.Recv(); err != nil {
				return
			}
		}
	}()
	return sup, h, nil
}

type stubbornHandle struct {
	ch   *channel.Channel
	done chan struct{}
	once sync.Once
}

func (h *stubbornHandle) Kill() error {
	h.once.Do(func() {
		h.ch.Close()
		close(h.done)
	})
	return nil
}

func (h *stubbornHandle) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-h.done
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return errors.New("still running")
	}
}

type failingSpawner struct{}

func (failingSpawner) Spawn() (*channel.Channel, executor.Handle, error) {
	return nil, nil, errors.New("no such executable")
}

func localSpawner(ncfg native.Config, extra ...catalog.Target) *worker.Local {
	return &worker.Local{
		AppID:  native.DefaultAppID,
		Codec:  codec.CodecTypeJSON,
		Native: ncfg,
		Extra:  extra,
	}
}

func waitForState(t *testing.T, e *executor.Executor, want executor.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State never reached %s, still %s", want, e.State())
}

func TestEndToEnd(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if e.State() != executor.StateReady {
		t.Fatalf("Expected Ready after Init, got %s", e.State())
	}

	v, err := e.Call("get_value")
	if err != nil {
		t.Fatalf("get_value failed: %v", err)
	}
	if v != native.DefaultValue {
		t.Errorf("get_value: got %v, want %d", v, native.DefaultValue)
	}

	// A native failure is a business error: the worker survives it
	_, err = e.Call("fail_call")
	if err == nil {
		t.Fatal("Expected fail_call to fail")
	}
	fe, ok := err.(*faults.Error)
	if !ok {
		t.Fatalf("Expected *faults.Error, got %T: %v", err, err)
	}
	if fe.Kind != faults.KindNativeCall || fe.Message != "boom" {
		t.Errorf("Unexpected error: %+v", fe)
	}
	if e.State() != executor.StateReady {
		t.Errorf("Executor should stay Ready after a native error, got %s", e.State())
	}

	v, err = e.Call("get_value")
	if err != nil {
		t.Fatalf("get_value after native error failed: %v", err)
	}
	if v != native.DefaultValue {
		t.Errorf("get_value: got %v, want %d", v, native.DefaultValue)
	}

	e.Shutdown()
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after Shutdown, got %s", e.State())
	}
}

func TestInitWhileReadyIsNoop(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := e.Init(); err != nil {
		t.Fatalf("Second Init should be a no-op, got: %v", err)
	}
	if e.State() != executor.StateReady {
		t.Errorf("Expected Ready, got %s", e.State())
	}
}

func TestCallBeforeInit(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)

	_, err := e.Call("get_value")
	if !faults.IsInvalidState(err) {
		t.Errorf("Expected invalid_state, got %v", err)
	}
}

func TestInitPrerequisiteNotMet(t *testing.T) {
	ncfg := native.DefaultConfig()
	ncfg.HostRunning = false
	e := executor.New(localSpawner(ncfg), nil)

	err := e.Init()
	if err == nil {
		t.Fatal("Expected Init to fail with the host down")
	}
	if faults.KindOf(err) != faults.KindPrerequisiteNotMet {
		t.Errorf("Expected prerequisite_not_met, got %v", err)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after failed Init, got %s", e.State())
	}
}

func TestInitNotLoggedOn(t *testing.T) {
	ncfg := native.DefaultConfig()
	ncfg.LoggedOn = false
	e := executor.New(localSpawner(ncfg), nil)

	err := e.Init()
	if err == nil {
		t.Fatal("Expected Init to fail when logged out")
	}
	fe, ok := err.(*faults.Error)
	if !ok {
		t.Fatalf("Expected *faults.Error, got %T: %v", err, err)
	}
	if fe.Kind != faults.KindInitialization || fe.Message != "User isn't logged in" {
		t.Errorf("Native failure not propagated verbatim: %+v", fe)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after failed Init, got %s", e.State())
	}
}

func TestInitSpawnFailure(t *testing.T) {
	e := executor.New(failingSpawner{}, nil)

	err := e.Init()
	if faults.KindOf(err) != faults.KindInitialization {
		t.Errorf("Expected initialization_failed, got %v", err)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after spawn failure, got %s", e.State())
	}
}

func TestAppIDNeverLeaksIntoEnvironment(t *testing.T) {
	// The local spawner runs the worker in this very process, so a leaked
	// environment variable would be visible right here.
	os.Unsetenv(native.AppIDEnvVar)

	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if v, set := os.LookupEnv(native.AppIDEnvVar); set {
		t.Errorf("%s leaked into the environment: %q", native.AppIDEnvVar, v)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)

	// Shutdown on a never-initialized executor is a no-op
	e.Shutdown()
	if e.State() != executor.StateIdle {
		t.Fatalf("Expected Idle, got %s", e.State())
	}

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	e.Shutdown()
	e.Shutdown()
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after double Shutdown, got %s", e.State())
	}

	// The executor must be reusable after Shutdown
	if err := e.Init(); err != nil {
		t.Fatalf("Re-Init after Shutdown failed: %v", err)
	}
	e.Shutdown()
}

func TestWithScopedLifecycle(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)

	wantErr := errors.New("body failed")
	err := e.With(func(e *executor.Executor) error {
		if _, err := e.Call("get_value"); err != nil {
			t.Errorf("get_value inside With failed: %v", err)
		}
		return wantErr
	})
	if err != wantErr {
		t.Errorf("With should propagate the body error, got %v", err)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("With must shut down on error exit, got state %s", e.State())
	}
}

func TestWithInitFailure(t *testing.T) {
	ncfg := native.DefaultConfig()
	ncfg.LoggedOn = false
	e := executor.New(localSpawner(ncfg), nil)

	called := false
	err := e.With(func(e *executor.Executor) error {
		called = true
		return nil
	})
	if faults.KindOf(err) != faults.KindInitialization {
		t.Errorf("Expected initialization_failed from With, got %v", err)
	}
	if called {
		t.Error("Body must not run when Init fails")
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle, got %s", e.State())
	}
}

func TestWorkerCrashMidCall(t *testing.T) {
	gate := make(chan struct{})
	blocking := catalog.Target{
		Name:         "block",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			<-gate
			return nil, nil
		},
	}
	spawner := &capturingSpawner{inner: localSpawner(native.DefaultConfig(), blocking)}
	e := executor.New(spawner, nil)

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := e.Call("block")
		result <- err
	}()
	waitForState(t, e, executor.StateCalling)

	// Kill the worker while the call is blocked inside it, then release the
	// target so the runtime goroutine can wind down.
	spawner.handle.Kill()
	close(gate)

	select {
	case err := <-result:
		if !faults.IsWorkerLost(err) {
			t.Errorf("Expected worker_lost, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not unblock after worker death")
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after worker loss, got %s", e.State())
	}

	// A fresh Init must fully recover
	if err := e.Init(); err != nil {
		t.Fatalf("Re-Init after worker loss failed: %v", err)
	}
	defer e.Shutdown()
	if v, err := e.Call("get_value"); err != nil || v != native.DefaultValue {
		t.Errorf("Call after recovery: got %v, %v", v, err)
	}
}

func TestConcurrentCallRejected(t *testing.T) {
	gate := make(chan struct{})
	blocking := catalog.Target{
		Name:         "block",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			<-gate
			return nil, nil
		},
	}
	e := executor.New(localSpawner(native.DefaultConfig(), blocking), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := e.Call("block")
		result <- err
	}()
	waitForState(t, e, executor.StateCalling)

	// Second caller while a call is in flight: rejected, not queued
	_, err := e.Call("get_value")
	if !faults.IsInvalidState(err) {
		t.Errorf("Expected invalid_state for concurrent call, got %v", err)
	}

	// Init is equally off the table mid-call
	if err := e.Init(); !faults.IsInvalidState(err) {
		t.Errorf("Expected invalid_state for Init mid-call, got %v", err)
	}

	close(gate)
	if err := <-result; err != nil {
		t.Errorf("Blocked call should complete after release, got %v", err)
	}
	if e.State() != executor.StateReady {
		t.Errorf("Expected Ready after call completes, got %s", e.State())
	}
}

func TestUnknownTargetKeepsWorkerAlive(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, err := e.Call("no_such_thing")
	if faults.KindOf(err) != faults.KindUnknownTarget {
		t.Errorf("Expected unknown_target, got %v", err)
	}
	if e.State() != executor.StateReady {
		t.Errorf("Expected Ready after unknown target, got %s", e.State())
	}
	if v, err := e.Call("get_value"); err != nil || v != native.DefaultValue {
		t.Errorf("Call after unknown target: got %v, %v", v, err)
	}
}

func TestCallRejectsComplexArguments(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, err := e.Call("get_value", struct{ X int }{1})
	if err == nil {
		t.Fatal("Expected error for non-primitive argument")
	}
	if e.State() != executor.StateReady {
		t.Errorf("Expected Ready after rejected arguments, got %s", e.State())
	}
}

func TestByteBufferAcrossChannel(t *testing.T) {
	echo := catalog.Target{
		Name: "echo_blob",
		Call: func(args []any, kwargs map[string]any) (any, error) {
			return args[0], nil
		},
	}
	e := executor.New(localSpawner(native.DefaultConfig(), echo), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	sent := []byte{1, 2, 3}
	v, err := e.Call("echo_blob", sent)
	if err != nil {
		t.Fatalf("echo_blob failed: %v", err)
	}
	got, ok := v.([]byte)
	if !ok {
		t.Fatalf("Byte buffer changed type across the channel: sent []byte, received %T (%v)", v, v)
	}
	if !bytes.Equal(got, sent) {
		t.Errorf("Byte buffer corrupted: got %v, want %v", got, sent)
	}
}

func TestServerTimeIntegerFidelity(t *testing.T) {
	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	v, err := e.Call("SteamUtils.get_server_time")
	if err != nil {
		t.Fatalf("get_server_time failed: %v", err)
	}
	got, ok := v.(int64)
	if !ok {
		t.Fatalf("Expected int64 across the channel, got %T", v)
	}
	if got != native.DefaultServerTime {
		t.Errorf("get_server_time: got %d, want %d", got, native.DefaultServerTime)
	}
}

func TestCallTimeoutAbandonsWorker(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	blocking := catalog.Target{
		Name:         "block",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			<-gate
			return nil, nil
		},
	}
	cfg := config.Default()
	cfg.CallTimeout = 100 * time.Millisecond
	e := executor.New(localSpawner(native.DefaultConfig(), blocking), cfg)

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, err := e.Call("block")
	if !faults.IsWorkerLost(err) {
		t.Errorf("Expected worker_lost on timeout, got %v", err)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after timeout, got %s", e.State())
	}
}

func TestShutdownGraceIsSingleBudget(t *testing.T) {
	cfg := config.Default()
	cfg.ShutdownGrace = 200 * time.Millisecond
	e := executor.New(stubbornSpawner{}, cfg)

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// The worker never acks and never exits on its own; the whole graceful
	// attempt must stay within one grace period before the kill.
	start := time.Now()
	e.Shutdown()
	elapsed := time.Since(start)

	if elapsed >= 2*cfg.ShutdownGrace {
		t.Errorf("Shutdown took %s, budget is %s total", elapsed, cfg.ShutdownGrace)
	}
	if e.State() != executor.StateIdle {
		t.Errorf("Expected Idle after forced shutdown, got %s", e.State())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	e := executor.New(localSpawner(native.DefaultConfig()), nil)
	e.SetMetrics(m)
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := e.Call("get_value"); err != nil {
		t.Fatalf("get_value failed: %v", err)
	}

	if got := testutil.ToFloat64(m.WorkersSpawned); got != 1 {
		t.Errorf("workers_spawned: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("get_value", "ok")); got != 1 {
		t.Errorf("calls_total{get_value,ok}: got %v, want 1", got)
	}
}
