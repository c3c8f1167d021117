// Package child supervises the application process a session attaches to:
// starting it against a virtual display socket, watching its stdout/stderr
// for the reactor's CHILD poller source, accepting dma-buf file descriptors
// it hands over via SCM_RIGHTS, and terminating it on session teardown
// (spec §4.D "Detach / Shutdown", §1 environment: "SCM_RIGHTS-capable UNIX
// sockets for dma-buf handoff between child and server"). The SCM_RIGHTS
// receive path is grounded on the retrieved DRM-lease client/manager pair's
// use of golang.org/x/sys/unix control-message parsing for exactly this
// kind of fd handoff.
package child

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/magicmirror/mmcore/internal/applog"
)

var log = applog.Component("CHILD")

// ErrReadinessTimeout is returned when no surface appears within the
// bounded window after child start (spec §4.D "Readiness timeout").
var ErrReadinessTimeout = fmt.Errorf("child: readiness timeout")

// Spec describes how to launch one application child process.
type Spec struct {
	Path        string
	Args        []string
	Env         []string
	DisplaySock string // path of the virtual display's UNIX socket, exported as an env var to the child.
	DisplayEnvVar string
}

// Process supervises one running application child.
type Process struct {
	cmd *exec.Cmd

	stdoutLines chan string
	exited      chan struct{}
	exitErr     error
	exitOnce    sync.Once

	dmaBufListener *net.UnixListener
	dmaBufFDs      chan int
}

// Start launches the child per spec, wiring stdout/stderr to line channels
// the reactor's poller drains as the CHILD source, and (if dmaBufSockPath is
// non-empty) listening on a UNIX socket for SCM_RIGHTS-carried dma-buf fds
// the client-produced GPU surfaces arrive on.
func Start(spec Spec, dmaBufSockPath string) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.DisplayEnvVar != "" {
		cmd.Env = append(cmd.Env, spec.DisplayEnvVar+"="+spec.DisplaySock)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stderr pipe: %w", err)
	}

	p := &Process{
		cmd:         cmd,
		stdoutLines: make(chan string, 64),
		exited:      make(chan struct{}),
	}

	if dmaBufSockPath != "" {
		os.Remove(dmaBufSockPath)
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: dmaBufSockPath, Net: "unix"})
		if err != nil {
			return nil, fmt.Errorf("child: listen dma-buf socket: %w", err)
		}
		p.dmaBufListener = ln
		p.dmaBufFDs = make(chan int, 16)
		go p.acceptDmaBufConns()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("child: start: %w", err)
	}

	go p.pumpLines(stdout, "stdout")
	go p.pumpLines(stderr, "stderr")
	go p.wait()

	return p, nil
}

func (p *Process) pumpLines(r io.Reader, tag string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 1<<20)
	for sc.Scan() {
		select {
		case p.stdoutLines <- sc.Text():
		default:
			log.Warnf("child %s line dropped, reactor not draining fast enough", tag)
		}
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.exited)
	})
}

// Lines is the poller-facing channel of stdout/stderr lines (spec §4.D
// "CHILD: stdout/stderr pipe of the application child").
func (p *Process) Lines() <-chan string { return p.stdoutLines }

// Exited signals when the child process has exited; this channel closing is
// what the reactor's CHILD source observes as exit (Lines is never closed).
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitErr returns the wait error once Exited is closed.
func (p *Process) ExitErr() error { return p.exitErr }

// WaitReady blocks until a surface fd arrives or timeout elapses (spec §4.D
// "Readiness timeout. If no surface appears within a bounded window after
// child start (e.g., 10 s), kill the child and fail.").
func (p *Process) WaitReady(ctx context.Context, timeout time.Duration) error {
	if p.dmaBufFDs == nil {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
		p.Kill()
		return ErrReadinessTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-p.exited:
		return fmt.Errorf("child: exited before becoming ready: %w", p.exitErr)
	case fd := <-p.dmaBufFDs:
		// Put the fd back for the first real surface consumer; WaitReady
		// only needs to observe that one arrived.
		p.dmaBufFDs <- fd
		return nil
	}
}

// DmaBufFDs exposes received dma-buf file descriptors to the display
// collaborator that turns them into gpux images.
func (p *Process) DmaBufFDs() <-chan int { return p.dmaBufFDs }

func (p *Process) acceptDmaBufConns() {
	for {
		conn, err := p.dmaBufListener.AcceptUnix()
		if err != nil {
			return
		}
		go p.receiveDmaBufFDs(conn)
	}
}

// receiveDmaBufFDs reads one SCM_RIGHTS control message per datagram off
// conn, extracting the carried fd(s) the way the retrieved DRM-lease
// client parses a lease fd out of a UnixConn's out-of-band data.
func (p *Process) receiveDmaBufFDs(conn *net.UnixConn) {
	defer conn.Close()
	buf := make([]byte, 64)
	oob := make([]byte, unix.CmsgSpace(4))
	for {
		_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if err != nil {
			return
		}
		if oobn == 0 {
			continue
		}
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			log.Warnf("parse dma-buf control message: %v", err)
			continue
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err != nil {
				continue
			}
			for _, fd := range fds {
				select {
				case p.dmaBufFDs <- fd:
				default:
					log.Warnf("dma-buf fd channel full, closing fd %d", fd)
					unix.Close(fd)
				}
			}
		}
	}
}

// Terminate sends SIGTERM first, then SIGKILL after grace if the process
// has not exited. The child is sent a forcible-kill signal only because it
// runs as PID 1 of its container namespace where terminate is a no-op
// without a handler (spec §4.D "Detach / Shutdown").
func (p *Process) Terminate(grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(unix.SIGTERM)
	select {
	case <-p.exited:
		return p.exitErr
	case <-time.After(grace):
		return p.Kill()
	}
}

// Kill sends SIGKILL unconditionally.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(unix.SIGKILL); err != nil {
		return fmt.Errorf("child: sigkill: %w", err)
	}
	return nil
}

// Close releases the dma-buf listener socket.
func (p *Process) Close() {
	if p.dmaBufListener != nil {
		p.dmaBufListener.Close()
	}
}
