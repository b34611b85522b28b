package worker

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sdkbridge/catalog"
	"sdkbridge/channel"
	"sdkbridge/codec"
	"sdkbridge/executor"
	"sdkbridge/native"
)

// Local is a spawner that runs the worker runtime in-process over an
// in-memory pipe pair instead of spawning a child process.
//
// It exists for tests and for embedders that want the executor's protocol
// semantics without process isolation (e.g. on platforms where spawning is
// unavailable). Killing a local worker closes its pipes, which is exactly
// the signal a dead process produces, so crash-path behavior is faithful.
type Local struct {
	AppID  uint32
	Codec  codec.CodecType
	Native native.Config
	Logger *zap.Logger

	// Extra targets registered on top of the built-in catalogue.
	Extra []catalog.Target
}

// Spawn starts a runtime goroutine and returns the supervisor-side channel.
func (l *Local) Spawn() (*channel.Channel, executor.Handle, error) {
	sup, wrk := channel.Pipe(l.Codec)

	lib := native.New(l.Native)
	reg := catalog.New(lib)
	for _, t := range l.Extra {
		reg.Register(t)
	}

	rt := NewRuntime(wrk, reg, l.AppID)
	rt.SetLogger(l.Logger)

	h := &localHandle{ch: wrk, done: make(chan struct{})}
	go func() {
		_ = rt.Run()
		// Mirror process exit: both pipe ends go away.
		_ = wrk.Close()
		close(h.done)
	}()

	return sup, h, nil
}

// localHandle stands in for a process handle. Kill closes the worker-side
// channel, which unblocks the runtime's Recv and ends its loop.
type localHandle struct {
	ch   *channel.Channel
	done chan struct{}
}

func (h *localHandle) Kill() error {
	return h.ch.Close()
}

func (h *localHandle) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-h.done
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("local worker still running after %s", timeout)
	}
}
