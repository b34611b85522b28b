package executor

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"sdkbridge/channel"
	"sdkbridge/codec"
	"sdkbridge/config"
)

// Handle is the executor's grip on one worker process. Kill must be safe to
// call on an already-dead worker.
type Handle interface {
	Kill() error
	Wait(timeout time.Duration) error
}

// Spawner creates one worker and the channel to it. The executor calls it on
// every Init; a spawner never reuses a dead worker.
type Spawner interface {
	Spawn() (*channel.Channel, Handle, error)
}

// ProcessSpawner launches the worker binary with an anonymous pipe pair: the
// executor writes the worker's stdin and reads its stdout. The worker's
// stderr is drained into the logger so native diagnostics are not lost.
type ProcessSpawner struct {
	Path  string
	Args  []string
	Codec codec.CodecType
	Log   *zap.Logger
}

// NewProcessSpawner builds the production spawner from configuration.
func NewProcessSpawner(cfg *config.Config, log *zap.Logger) *ProcessSpawner {
	if log == nil {
		log = zap.NewNop()
	}
	args := append([]string{}, cfg.WorkerArgs...)
	args = append(args, "--app-id", fmt.Sprintf("%d", cfg.AppID), "--codec", cfg.Codec)
	return &ProcessSpawner{
		Path:  cfg.WorkerPath,
		Args:  args,
		Codec: cfg.CodecType(),
		Log:   log,
	}
}

// Spawn starts the worker process and wires its pipes into a channel.
//
// The stdio pipes are built by hand rather than via StdinPipe/StdoutPipe:
// cmd.Wait closes those the moment the child exits, which would discard any
// frame still buffered in the pipe. A worker that reports an init failure
// writes its last frame and exits immediately, so that frame must stay
// readable after the process is gone.
func (s *ProcessSpawner) Spawn() (*channel.Channel, Handle, error) {
	cmd := exec.Command(s.Path, s.Args...)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, nil, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	var stderr *zapio.Writer
	if s.Log != nil {
		stderr = &zapio.Writer{Log: s.Log.Named("worker"), Level: zap.InfoLevel}
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, err
	}
	// The child owns these ends now
	stdinR.Close()
	stdoutW.Close()

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		if stderr != nil {
			// Flush the worker's final partial log line
			_ = stderr.Close()
		}
		close(h.done)
	}()

	ch := channel.New(stdoutR, stdinW, s.Codec, stdinW, stdoutR)
	return ch, h, nil
}

// processHandle wraps one spawned worker. cmd.Wait runs exactly once, in the
// goroutine started by Spawn; Wait and Kill observe its result through the
// done channel.
type processHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (h *processHandle) Kill() error {
	select {
	case <-h.done:
		return nil // already exited
	default:
	}
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *processHandle) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-h.done
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker still running after %s", timeout)
	}
}
