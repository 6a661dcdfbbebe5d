// Package runner spawns and supervises one task attempt's child process.
//
// The runner enforces the per-attempt timeout, captures bounded output and
// honors cooperative cancellation. It never persists or notifies; callers
// consume the Result.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"cronix/internal/task"
	"cronix/pkg/logx"
)

type Config struct {
	// OutputLimit caps captured bytes per stream. <=0 means 1 MiB.
	OutputLimit int

	// TermGrace is how long a terminated process gets between SIGTERM and
	// SIGKILL. <=0 means 5s.
	TermGrace time.Duration
}

// Result is the outcome of one attempt. Status is always terminal.
type Result struct {
	Status     task.ExecutionStatus
	Output     string
	Error      string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

type Runner struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Runner {
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 1 << 20
	}
	if cfg.TermGrace <= 0 {
		cfg.TermGrace = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}
}

// interpreters looked up once; python prefers a uv-managed interpreter when
// the uv launcher is on PATH.
var (
	resolveOnce sync.Once
	pythonArgv  []string
)

func pythonCommand() []string {
	resolveOnce.Do(func() {
		if _, err := exec.LookPath("uv"); err == nil {
			pythonArgv = []string{"uv", "run", "python", "-c"}
			return
		}
		pythonArgv = []string{"python3", "-c"}
	})
	return pythonArgv
}

func argvFor(t *task.Task) ([]string, error) {
	switch t.ExecutionType {
	case task.ExecShell:
		return []string{"/bin/sh", "-c", t.Command}, nil
	case task.ExecPython:
		return append(append([]string{}, pythonCommand()...), t.Command), nil
	case task.ExecNode:
		return []string{"node", "-e", t.Command}, nil
	default:
		return nil, fmt.Errorf("unsupported execution type %q", t.ExecutionType)
	}
}

// Run executes one attempt of t and blocks until the process reaches a
// terminal state. Cancelling ctx terminates the process and yields a
// cancelled result; cancellation takes precedence over a timeout expiring
// at the same moment.
func (r *Runner) Run(ctx context.Context, t *task.Task) Result {
	started := time.Now().UTC()
	res := Result{StartedAt: started, ExitCode: -1}

	argv, err := argvFor(t)
	if err != nil {
		res.Status = task.StatusFailed
		res.Error = err.Error()
		res.FinishedAt = time.Now().UTC()
		return res
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204
	// Own process group so termination reaches shell-spawned children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := &limitedBuffer{cap: r.cfg.OutputLimit}
	stderr := &limitedBuffer{cap: r.cfg.OutputLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		res.Status = task.StatusFailed
		res.Error = fmt.Sprintf("failed to start command: %v", err)
		res.FinishedAt = time.Now().UTC()
		return res
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.NewTimer(t.TimeoutDuration())
	defer deadline.Stop()

	var waitErr error
	var status task.ExecutionStatus
	select {
	case waitErr = <-done:
		status = "" // natural exit, resolved below

	case <-ctx.Done():
		r.log.Debug("terminating cancelled attempt",
			logx.Int64("task_id", t.ID), logx.String("task", t.Name))
		waitErr = r.terminate(cmd, done)
		status = task.StatusCancelled

	case <-deadline.C:
		r.log.Warn("attempt exceeded timeout, terminating",
			logx.Int64("task_id", t.ID), logx.String("task", t.Name),
			logx.Duration("timeout", t.TimeoutDuration()))
		waitErr = r.terminate(cmd, done)
		// A cancellation that raced the deadline wins.
		if ctx.Err() != nil {
			status = task.StatusCancelled
		} else {
			status = task.StatusTimeout
		}
	}

	res.FinishedAt = time.Now().UTC()
	res.Output = stdout.String()

	switch status {
	case task.StatusCancelled:
		res.Status = task.StatusCancelled
		res.Error = "execution cancelled"
	case task.StatusTimeout:
		res.Status = task.StatusTimeout
		res.Error = fmt.Sprintf("execution timed out after %ds", t.Timeout)
	default:
		if waitErr == nil {
			res.Status = task.StatusSuccess
			res.ExitCode = 0
			return res
		}
		res.Status = task.StatusFailed
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Error = stderr.String()
		if res.Error == "" {
			res.Error = waitErr.Error()
		}
	}
	return res
}

// terminate signals the process group with SIGTERM, escalating to SIGKILL
// after the grace period. Returns the process's wait error.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) error {
	if cmd.Process == nil {
		return <-done
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	grace := time.NewTimer(r.cfg.TermGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return <-done
	}
}

// limitedBuffer caps captured output. Writes past the cap are dropped but
// reported as written so the child never blocks on a full pipe.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	cap       int
	truncated bool
}

const truncationMarker = "\n... [output truncated]"

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if b.truncated {
		return n, nil
	}
	left := b.cap - b.buf.Len()
	if left <= 0 {
		b.truncated = true
		return n, nil
	}
	if len(p) > left {
		p = p[:left]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}
