// Package spawn starts and manages application worker processes. Workers are
// launched with a unix socket rendezvous: the manager listens, the worker
// dials back and completes a handshake, after which sessions exchange
// msgpack-framed requests over the connection.
package spawn

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_appool/internal/pool"
)

const (
	// EnvSocket carries the rendezvous socket path to the worker process.
	EnvSocket = "APPOOL_SOCKET"
	// EnvAppRoot carries the application root to the worker process.
	EnvAppRoot = "APPOOL_APP_ROOT"

	defaultConnectTimeout = 10 * time.Second
)

// Config configures a SpawnManager.
type Config struct {
	// SocketDir is where rendezvous sockets are created. Defaults to a
	// go_appool directory under the system temp dir.
	SocketDir string

	// Command is the default worker start command, run through the shell in
	// the application root. Options.StartCommand overrides it per app.
	Command string

	// ConnectTimeout bounds how long Spawn waits for the worker to dial back.
	ConnectTimeout time.Duration

	// Env is appended to every worker's environment.
	Env []string
}

// appSpawner is the cached spawn metadata for one application.
type appSpawner struct {
	command  string
	env      []string
	loadedAt time.Time
}

// SpawnManager spawns worker processes directly from this process.
type SpawnManager struct {
	cfg Config

	mu       sync.Mutex
	spawners map[string]*appSpawner
}

// NewManager returns a SpawnManager, creating its socket directory.
func NewManager(cfg Config) (*SpawnManager, error) {
	if cfg.SocketDir == "" {
		cfg.SocketDir = filepath.Join(os.TempDir(), "go_appool")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if err := os.MkdirAll(cfg.SocketDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	return &SpawnManager{
		cfg:      cfg,
		spawners: make(map[string]*appSpawner),
	}, nil
}

// spawnerFor resolves and caches the spawn metadata for an application.
func (m *SpawnManager) spawnerFor(opts pool.Options) (*appSpawner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.spawners[opts.AppRoot]; ok {
		return s, nil
	}

	command := opts.StartCommand
	if command == "" {
		command = m.cfg.Command
	}
	if command == "" {
		return nil, fmt.Errorf("no start command configured for %q", opts.AppRoot)
	}

	s := &appSpawner{
		command:  command,
		env:      append(append([]string{}, m.cfg.Env...), opts.Environment...),
		loadedAt: time.Now(),
	}
	m.spawners[opts.AppRoot] = s

	return s, nil
}

// Spawn starts a new worker for opts.AppRoot and waits for it to connect.
func (m *SpawnManager) Spawn(opts pool.Options) (pool.Process, error) {
	spawner, err := m.spawnerFor(opts)
	if err != nil {
		return nil, &SpawnError{AppRoot: opts.AppRoot, Err: err}
	}

	process, err := m.startWorker(opts.AppRoot, spawner)
	if err != nil {
		return nil, &SpawnError{AppRoot: opts.AppRoot, Err: err}
	}

	log.Debug().
		Str("app_root", opts.AppRoot).
		Int("pid", process.Pid()).
		Msg("worker spawned")

	return process, nil
}

func (m *SpawnManager) startWorker(appRoot string, spawner *appSpawner) (*Process, error) {
	sockPath := filepath.Join(m.cfg.SocketDir,
		fmt.Sprintf("app-%s.sock", uuid.NewString()))

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create rendezvous listener: %w", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		listener.Close()
		os.Remove(sockPath)

		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", spawner.command)
	cmd.Dir = appRoot
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), spawner.env...)
	cmd.Env = append(cmd.Env,
		EnvSocket+"="+sockPath,
		EnvAppRoot+"="+appRoot,
	)

	if err := cmd.Start(); err != nil {
		listener.Close()
		os.Remove(sockPath)

		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	connChan := make(chan net.Conn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errChan <- err

			return
		}
		connChan <- conn
	}()

	var conn net.Conn
	select {
	case conn = <-connChan:
		if err := handshake(conn); err != nil {
			conn.Close()
			cleanupFailedSpawn(cmd, listener, sockPath)

			return nil, fmt.Errorf("handshake failed: %w", err)
		}
	case err := <-errChan:
		cleanupFailedSpawn(cmd, listener, sockPath)

		return nil, fmt.Errorf("failed to accept worker connection: %w", err)
	case <-time.After(m.cfg.ConnectTimeout):
		cleanupFailedSpawn(cmd, listener, sockPath)

		return nil, fmt.Errorf("timeout waiting for worker connection")
	}

	process := &Process{
		pid:      cmd.Process.Pid,
		appRoot:  appRoot,
		cmd:      cmd,
		conn:     conn,
		listener: listener,
		sockPath: sockPath,
		exited:   make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(process.exited)
	}()

	return process, nil
}

func cleanupFailedSpawn(cmd *exec.Cmd, listener net.Listener, sockPath string) {
	if cmd.Process != nil {
		cmd.Process.Kill()
		go cmd.Wait()
	}
	listener.Close()
	os.Remove(sockPath)
}

// Reload discards the cached spawn metadata for appRoot; the next Spawn
// resolves it afresh.
func (m *SpawnManager) Reload(appRoot string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.spawners, appRoot)
	log.Debug().Str("app_root", appRoot).Msg("spawner metadata discarded")
}

// ServerPid returns the pid of the spawning process. Workers are spawned
// directly, so this is the current process.
func (m *SpawnManager) ServerPid() int {
	return os.Getpid()
}
