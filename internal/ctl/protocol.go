// Package ctl exposes a running pool to operators over a small TCP control
// channel: msgpack-framed commands for inspection and runtime tuning.
package ctl

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Control commands.
const (
	CmdStatus         = "status"
	CmdXML            = "xml"
	CmdCounts         = "counts"
	CmdClear          = "clear"
	CmdSetMax         = "set-max"
	CmdSetMaxPerApp   = "set-max-per-app"
	CmdSetMaxIdleTime = "set-max-idle-time"
	CmdServerPid      = "server-pid"
)

// Request is one control command.
type Request struct {
	Cmd   string `msgpack:"cmd"`
	Value uint64 `msgpack:"value,omitempty"`
}

// Reply is the server's answer to a Request.
type Reply struct {
	OK        bool   `msgpack:"ok"`
	Error     string `msgpack:"error,omitempty"`
	Text      string `msgpack:"text,omitempty"`
	Count     uint   `msgpack:"count"`
	Active    uint   `msgpack:"active"`
	ServerPid int    `msgpack:"server_pid,omitempty"`
}

// EncodeRequest serializes a Request for the wire.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize control request: %w", err)
	}

	return data, nil
}

// DecodeRequest parses a Request off the wire.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("failed to deserialize control request: %w", err)
	}

	return req, nil
}

// EncodeReply serializes a Reply for the wire.
func EncodeReply(reply Reply) ([]byte, error) {
	data, err := msgpack.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize control reply: %w", err)
	}

	return data, nil
}

// DecodeReply parses a Reply off the wire.
func DecodeReply(data []byte) (Reply, error) {
	var reply Reply
	if err := msgpack.Unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("failed to deserialize control reply: %w", err)
	}

	return reply, nil
}
