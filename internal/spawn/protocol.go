package spawn

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	maxFrameSize   = 10 * 1024 * 1024
	handshakeMagic = "APPOOL1"
	handshakeOK    = "OK"
)

var requestIDCounter uint64

// request is one framed call to a worker.
type request struct {
	ID   uint64 `msgpack:"id"`
	Body []byte `msgpack:"body"`
}

// response is a worker's framed reply.
type response struct {
	ID    uint64 `msgpack:"id"`
	Body  []byte `msgpack:"body"`
	Error string `msgpack:"error,omitempty"`
}

func nextRequestID() uint64 {
	return atomic.AddUint64(&requestIDCounter, 1)
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("payload exceeds max size: %d > %d", len(payload), maxFrameSize)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, err
		}

		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, fmt.Errorf("payload exceeds max size: %d > %d", size, maxFrameSize)
	}
	if size == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	return payload, nil
}

func sendRequest(w io.Writer, req *request) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	return writeFrame(w, payload)
}

func receiveResponse(r io.Reader) (*response, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return &resp, nil
}

// handshake validates a freshly accepted worker connection: the manager sends
// the magic string and the worker acknowledges.
func handshake(rw io.ReadWriter) error {
	if _, err := rw.Write([]byte(handshakeMagic)); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	ack := make([]byte, len(handshakeOK))
	if _, err := io.ReadFull(rw, ack); err != nil {
		return fmt.Errorf("failed to read handshake response: %w", err)
	}
	if string(ack) != handshakeOK {
		return fmt.Errorf("invalid handshake: expected %s, got %s", handshakeOK, string(ack))
	}

	return nil
}
