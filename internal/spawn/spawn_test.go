package spawn

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andrei-cloud/go_appool/internal/pool"
)

const helperEnv = "GO_APPOOL_WANT_HELPER"

// TestHelperProcess is not a real test: it is re-executed as a worker process
// by the spawn tests. It dials the rendezvous socket, answers the handshake
// and then echoes framed requests until the connection closes.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	conn, err := net.Dial("unix", os.Getenv(EnvSocket))
	if err != nil {
		os.Exit(1)
	}

	magic := make([]byte, len(handshakeMagic))
	if _, err := io.ReadFull(conn, magic); err != nil || string(magic) != handshakeMagic {
		os.Exit(1)
	}
	if _, err := conn.Write([]byte(handshakeOK)); err != nil {
		os.Exit(1)
	}

	for {
		payload, err := readFrame(conn)
		if err != nil {
			os.Exit(0)
		}
		var req request
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			os.Exit(1)
		}
		resp := response{ID: req.ID, Body: req.Body}
		out, err := msgpack.Marshal(&resp)
		if err != nil {
			os.Exit(1)
		}
		if err := writeFrame(conn, out); err != nil {
			os.Exit(0)
		}
	}
}

// helperManager returns a manager whose workers are the test binary itself
// running TestHelperProcess.
func helperManager(t *testing.T) *SpawnManager {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	m, err := NewManager(Config{
		SocketDir:      t.TempDir(),
		Command:        fmt.Sprintf("%s -test.run=TestHelperProcess", exe),
		ConnectTimeout: 5 * time.Second,
		Env:            []string{helperEnv + "=1"},
	})
	require.NoError(t, err)

	return m
}

func TestSpawnConnectRequestClose(t *testing.T) {
	m := helperManager(t)
	opts := pool.Options{AppRoot: t.TempDir()}

	process, err := m.Spawn(opts)
	require.NoError(t, err)
	defer process.Close()

	assert.Greater(t, process.Pid(), 0)
	assert.Equal(t, opts.AppRoot, process.AppRoot())

	released := false
	sess, err := process.Connect(func() { released = true })
	require.NoError(t, err)

	reply, err := sess.Request([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), reply)

	require.NoError(t, sess.Close())
	assert.True(t, released, "close callback must fire")

	// Closing again must not fire the callback twice.
	released = false
	require.NoError(t, sess.Close())
	assert.False(t, released)
}

func TestSessionsShareWorkerConnection(t *testing.T) {
	m := helperManager(t)
	opts := pool.Options{AppRoot: t.TempDir()}

	process, err := m.Spawn(opts)
	require.NoError(t, err)
	defer process.Close()

	sess1, err := process.Connect(func() {})
	require.NoError(t, err)
	sess2, err := process.Connect(func() {})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		body := []byte(fmt.Sprintf("req-%d", i))
		reply, err := sess1.Request(body)
		require.NoError(t, err)
		assert.Equal(t, body, reply)

		reply, err = sess2.Request(body)
		require.NoError(t, err)
		assert.Equal(t, body, reply)
	}

	require.NoError(t, sess1.Close())
	require.NoError(t, sess2.Close())
}

func TestConnectAfterClose(t *testing.T) {
	m := helperManager(t)

	process, err := m.Spawn(pool.Options{AppRoot: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, process.Close())
	_, err = process.Connect(func() {})
	require.Error(t, err)
}

func TestConnectAfterWorkerDeath(t *testing.T) {
	m := helperManager(t)

	process, err := m.Spawn(pool.Options{AppRoot: t.TempDir()})
	require.NoError(t, err)
	defer process.Close()

	require.NoError(t, syscall.Kill(process.Pid(), syscall.SIGKILL))

	require.Eventually(t, func() bool {
		_, err := process.Connect(func() {})

		return err != nil
	}, 5*time.Second, 10*time.Millisecond, "connect must fail once the worker died")
}

func TestSpawnTimeoutOnSilentWorker(t *testing.T) {
	// A worker that exits immediately never dials back.
	m, err := NewManager(Config{
		SocketDir:      t.TempDir(),
		Command:        "exit 0",
		ConnectTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = m.Spawn(pool.Options{AppRoot: t.TempDir()})
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestSpawnWithoutCommand(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{SocketDir: t.TempDir()})
	require.NoError(t, err)

	_, err = m.Spawn(pool.Options{AppRoot: "/app/none"})
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/app/none", spawnErr.AppRoot)
}

func TestReloadDiscardsSpawnerMetadata(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{SocketDir: t.TempDir(), Command: "true"})
	require.NoError(t, err)

	opts := pool.Options{AppRoot: "/app/demo", StartCommand: "echo one"}
	s1, err := m.spawnerFor(opts)
	require.NoError(t, err)

	// Cached: a different start command does not take effect yet.
	s2, err := m.spawnerFor(pool.Options{AppRoot: "/app/demo", StartCommand: "echo two"})
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	m.Reload("/app/demo")

	s3, err := m.spawnerFor(pool.Options{AppRoot: "/app/demo", StartCommand: "echo two"})
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, "echo two", s3.command)
}

func TestServerPid(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{SocketDir: t.TempDir(), Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), m.ServerPid())
}
