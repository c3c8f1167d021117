package child

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartCapturesStdoutLines(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "echo hello; echo world"}}, "")
	require.NoError(t, err)
	defer p.Close()

	var lines []string
	timeout := time.After(2 * time.Second)
	for len(lines) < 2 {
		select {
		case l := <-p.Lines():
			lines = append(lines, l)
		case <-timeout:
			t.Fatalf("timed out waiting for stdout lines, got %v", lines)
		}
	}
	require.Equal(t, []string{"hello", "world"}, lines)
}

func TestExitedClosesAfterProcessExits(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "exit 0"}}, "")
	require.NoError(t, err)
	defer p.Close()

	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}
	require.NoError(t, p.ExitErr())
}

func TestTerminateKillsLongRunningProcess(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30"}}, "")
	require.NoError(t, err)
	defer p.Close()

	err = p.Terminate(100 * time.Millisecond)
	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process was not killed")
	}
	_ = err // the shell's own exit status from SIGKILL varies by platform.
}

func TestWaitReadyTimesOutWhenNoSurfaceArrives(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "sleep 5"}}, t.TempDir()+"/dmabuf.sock")
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = p.WaitReady(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReadinessTimeout)
}
