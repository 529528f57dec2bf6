package spawn

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/andrei-cloud/go_appool/internal/pool"
)

const terminateGrace = 3 * time.Second

// Process is a handle to one running worker. Sessions share the worker's
// connection; requests are serialized by the process mutex.
type Process struct {
	pid      int
	appRoot  string
	cmd      *exec.Cmd
	conn     net.Conn
	listener net.Listener
	sockPath string

	// exited is closed once the process has been reaped.
	exited chan struct{}

	mu     sync.Mutex
	closed bool
}

// Pid returns the worker's process id.
func (p *Process) Pid() int {
	return p.pid
}

// AppRoot returns the application root this worker serves.
func (p *Process) AppRoot() string {
	return p.appRoot
}

// Connect opens a new session against the worker. It fails if the worker has
// died or the handle has been closed; onClose fires exactly once when the
// returned session is closed.
func (p *Process) Connect(onClose func()) (pool.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("worker pid %d is closed", p.pid)
	}
	select {
	case <-p.exited:
		return nil, fmt.Errorf("worker pid %d has exited", p.pid)
	default:
	}

	return &Session{proc: p, onClose: onClose}, nil
}

// Close terminates the worker process: SIGTERM, a short grace period, then
// SIGKILL. It is safe to call more than once.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	var termErr error
	if p.cmd.Process != nil {
		select {
		case <-p.exited:
			// already gone
		default:
			termErr = p.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-p.exited:
			case <-time.After(terminateGrace):
				p.cmd.Process.Kill()
				<-p.exited
			}
		}
	}
	os.Remove(p.sockPath)

	if termErr != nil && !isAlreadyFinished(termErr) {
		return fmt.Errorf("terminating worker pid %d: %w", p.pid, termErr)
	}

	return nil
}

func isAlreadyFinished(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

// request performs one framed request/response exchange on the worker
// connection.
func (p *Process) request(body []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("worker pid %d is closed", p.pid)
	}

	req := &request{ID: nextRequestID(), Body: body}
	if err := sendRequest(p.conn, req); err != nil {
		return nil, fmt.Errorf("failed to send request to worker pid %d: %w", p.pid, err)
	}

	resp, err := receiveResponse(p.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from worker pid %d: %w", p.pid, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("worker pid %d: %s", p.pid, resp.Error)
	}

	return resp.Body, nil
}
