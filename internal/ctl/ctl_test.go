//nolint:all
package ctl_test

import (
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/go_appool/internal/ctl"
)

const testAddr = "127.0.0.1:7832"

type stubPool struct {
	mu          sync.Mutex
	cleared     bool
	max         uint
	maxPerApp   uint
	maxIdleTime time.Duration
}

func (s *stubPool) Inspect() string { return "----------- General information -----------\n" }

func (s *stubPool) ToXML(includeSensitive bool) (string, error) {
	if includeSensitive {
		return "<info><spawn_server_pid>4242</spawn_server_pid></info>", nil
	}

	return "<info></info>", nil
}

func (s *stubPool) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
}

func (s *stubPool) SetMax(n uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = n
}

func (s *stubPool) SetMaxPerApp(n uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPerApp = n
}

func (s *stubPool) SetMaxIdleTime(idle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxIdleTime = idle
}

func (s *stubPool) Active() uint { return 3 }

func (s *stubPool) Count() uint { return 7 }

func (s *stubPool) SpawnServerPid() int { return 4242 }

// startTestServer starts the control server for testing.
func startTestServer(t *testing.T, pool *stubPool) *ctl.Server {
	t.Helper()

	srv, err := ctl.NewServer(testAddr, pool)
	if err != nil {
		t.Fatalf("failed to initialize control server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("server start error: %v", err)
		}
	case <-time.After(1 * time.Second):
		// Allow some time for the server to start
	}

	time.Sleep(100 * time.Millisecond)

	return srv
}

func TestStatusCommand(t *testing.T) {
	pool := &stubPool{}
	srv := startTestServer(t, pool)
	defer srv.Stop()

	client, err := ctl.NewClient(testAddr)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	reply, err := client.Send(ctl.Request{Cmd: ctl.CmdStatus})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if !reply.OK {
		t.Fatal("expected OK reply")
	}
	if reply.Text != pool.Inspect() {
		t.Fatalf("unexpected status text: %q", reply.Text)
	}
	if reply.Count != 7 || reply.Active != 3 {
		t.Fatalf("unexpected counters: count=%d active=%d", reply.Count, reply.Active)
	}
}

func TestTuningCommands(t *testing.T) {
	pool := &stubPool{}
	srv := startTestServer(t, pool)
	defer srv.Stop()

	client, err := ctl.NewClient(testAddr)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	if _, err := client.Send(ctl.Request{Cmd: ctl.CmdSetMax, Value: 5}); err != nil {
		t.Fatalf("set-max failed: %v", err)
	}
	if _, err := client.Send(ctl.Request{Cmd: ctl.CmdSetMaxPerApp, Value: 2}); err != nil {
		t.Fatalf("set-max-per-app failed: %v", err)
	}
	if _, err := client.Send(ctl.Request{Cmd: ctl.CmdSetMaxIdleTime, Value: 60}); err != nil {
		t.Fatalf("set-max-idle-time failed: %v", err)
	}
	if _, err := client.Send(ctl.Request{Cmd: ctl.CmdClear}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if pool.max != 5 || pool.maxPerApp != 2 || pool.maxIdleTime != 60*time.Second {
		t.Fatalf("tuning not applied: %+v", pool)
	}
	if !pool.cleared {
		t.Fatal("clear not applied")
	}
}

func TestUnknownCommand(t *testing.T) {
	pool := &stubPool{}
	srv := startTestServer(t, pool)
	defer srv.Stop()

	client, err := ctl.NewClient(testAddr)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	if _, err := client.Send(ctl.Request{Cmd: "bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestServerPidCommand(t *testing.T) {
	pool := &stubPool{}
	srv := startTestServer(t, pool)
	defer srv.Stop()

	client, err := ctl.NewClient(testAddr)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	reply, err := client.Send(ctl.Request{Cmd: ctl.CmdServerPid})
	if err != nil {
		t.Fatalf("server-pid failed: %v", err)
	}
	if reply.ServerPid != 4242 {
		t.Fatalf("unexpected server pid: %d", reply.ServerPid)
	}
}
