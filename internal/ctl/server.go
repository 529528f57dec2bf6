package ctl

import (
	"fmt"
	"time"

	anetserver "github.com/andrei-cloud/anet/server"
	"github.com/rs/zerolog/log"
)

// PoolAPI is the slice of the pool facade the control server drives.
type PoolAPI interface {
	Inspect() string
	ToXML(includeSensitive bool) (string, error)
	Clear()
	SetMax(n uint)
	SetMaxPerApp(n uint)
	SetMaxIdleTime(idle time.Duration)
	Active() uint
	Count() uint
	SpawnServerPid() int
}

// logAdapter implements anet.Logger using zerolog.
type logAdapter struct{}

func (l logAdapter) Print(v ...any) {
	log.Info().Msg(fmt.Sprint(v...))
}

func (l logAdapter) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Infof(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Warnf(format string, v ...any) {
	log.Warn().Msgf(format, v...)
}

func (l logAdapter) Errorf(format string, v ...any) {
	log.Error().Msgf(format, v...)
}

// Server wraps the anet TCP server around a pool.
type Server struct {
	address string
	srv     *anetserver.Server
	pool    PoolAPI
}

// NewServer configures and returns the control server instance.
func NewServer(address string, pool PoolAPI) (*Server, error) {
	cfg := &anetserver.ServerConfig{
		MaxConns:        16,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     0 * time.Second, // disable idle connection closure.
		ShutdownTimeout: 5 * time.Second,
		Logger:          logAdapter{},
	}

	s := &Server{
		address: address,
		pool:    pool,
	}
	handler := anetserver.HandlerFunc(s.handle)
	srv, err := anetserver.NewServer(address, handler, cfg)
	if err != nil {
		return nil, fmt.Errorf("control server setup failed: %w", err)
	}
	s.srv = srv

	return s, nil
}

// Start begins listening for control connections.
func (s *Server) Start() error {
	log.Info().Str("address", s.address).Msg("control server started")

	return s.srv.Start()
}

// Stop gracefully shuts down the control server.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

func (s *Server) handle(conn *anetserver.ServerConn, data []byte) ([]byte, error) {
	client := conn.Conn.RemoteAddr().String()
	start := time.Now()

	req, err := DecodeRequest(data)
	if err != nil {
		log.Error().Str("client_ip", client).Err(err).Msg("malformed control request")

		return EncodeReply(Reply{Error: err.Error()})
	}

	log.Debug().
		Str("event", "control_request").
		Str("client_ip", client).
		Str("command", req.Cmd).
		Uint64("value", req.Value).
		Msg("received control command")

	reply := s.execute(req)
	reply.Count = s.pool.Count()
	reply.Active = s.pool.Active()

	log.Debug().
		Str("event", "control_done").
		Str("client_ip", client).
		Str("command", req.Cmd).
		Str("duration", time.Since(start).String()).
		Msg("completed control command")

	return EncodeReply(reply)
}

func (s *Server) execute(req Request) Reply {
	switch req.Cmd {
	case CmdStatus:
		return Reply{OK: true, Text: s.pool.Inspect()}
	case CmdXML:
		text, err := s.pool.ToXML(true)
		if err != nil {
			return Reply{Error: err.Error()}
		}

		return Reply{OK: true, Text: text}
	case CmdCounts:
		return Reply{OK: true}
	case CmdClear:
		s.pool.Clear()

		return Reply{OK: true}
	case CmdSetMax:
		s.pool.SetMax(uint(req.Value))

		return Reply{OK: true}
	case CmdSetMaxPerApp:
		s.pool.SetMaxPerApp(uint(req.Value))

		return Reply{OK: true}
	case CmdSetMaxIdleTime:
		s.pool.SetMaxIdleTime(time.Duration(req.Value) * time.Second)

		return Reply{OK: true}
	case CmdServerPid:
		return Reply{OK: true, ServerPid: s.pool.SpawnServerPid()}
	default:
		return Reply{Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}
