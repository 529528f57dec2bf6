package spawn

import "sync"

// Session is one client's attachment to a worker. Closing it fires the pool's
// release callback exactly once.
type Session struct {
	proc    *Process
	onClose func()
	once    sync.Once
}

// Pid returns the worker's process id.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Request sends one request to the worker and returns its reply.
func (s *Session) Request(body []byte) ([]byte, error) {
	return s.proc.request(body)
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})

	return nil
}
