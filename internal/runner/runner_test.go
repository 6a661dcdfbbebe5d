package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronix/internal/task"
	"cronix/pkg/logx"
)

func shellTask(command string, timeoutSec int) *task.Task {
	return &task.Task{
		ID:            1,
		Name:          "t",
		ExecutionType: task.ExecShell,
		Command:       command,
		Timeout:       timeoutSec,
	}
}

func TestRunSuccess(t *testing.T) {
	r := New(Config{}, logx.Nop())
	res := r.Run(context.Background(), shellTask("echo hello", 10))

	assert.Equal(t, task.StatusSuccess, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Output)
	assert.Empty(t, res.Error)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRunNonzeroExit(t *testing.T) {
	r := New(Config{}, logx.Nop())
	res := r.Run(context.Background(), shellTask("echo oops >&2; exit 3", 10))

	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Error)
}

func TestRunTimeout(t *testing.T) {
	r := New(Config{TermGrace: time.Second}, logx.Nop())
	start := time.Now()
	res := r.Run(context.Background(), shellTask("sleep 30", 1))

	assert.Equal(t, task.StatusTimeout, res.Status)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCancelled(t *testing.T) {
	r := New(Config{TermGrace: time.Second}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res := r.Run(ctx, shellTask("sleep 30", 60))

	assert.Equal(t, task.StatusCancelled, res.Status)
	assert.Equal(t, "execution cancelled", res.Error)
}

func TestCancellationBeatsTimeout(t *testing.T) {
	// Context already cancelled when the deadline fires: cancelled wins.
	r := New(Config{TermGrace: time.Second}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Run(ctx, shellTask("sleep 30", 1))

	assert.Equal(t, task.StatusCancelled, res.Status)
}

func TestRunOutputTruncated(t *testing.T) {
	r := New(Config{OutputLimit: 64}, logx.Nop())
	res := r.Run(context.Background(), shellTask("yes x | head -c 4096", 10))

	require.Equal(t, task.StatusSuccess, res.Status)
	assert.True(t, strings.HasSuffix(res.Output, truncationMarker))
	assert.LessOrEqual(t, len(res.Output), 64+len(truncationMarker))
}

func TestRunUnknownExecType(t *testing.T) {
	r := New(Config{}, logx.Nop())
	tk := shellTask("echo hi", 10)
	tk.ExecutionType = task.ExecType("ruby")
	res := r.Run(context.Background(), tk)

	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "unsupported execution type")
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{cap: 8}
	n, err := b.Write([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = b.Write([]byte("67890"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "writes past the cap still report full length")

	assert.Equal(t, "12345678"+truncationMarker, b.String())
}
