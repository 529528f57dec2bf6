package ctl

import (
	"fmt"
	"net"
	"time"

	"github.com/andrei-cloud/anet"
)

const dialTimeout = 500 * time.Millisecond

// Client issues control commands against a running instance.
type Client struct {
	pool   anet.Pool
	broker anet.Broker
}

// NewClient connects to the control server at addr.
func NewClient(addr string) (*Client, error) {
	factory := func(addr string) (anet.PoolItem, error) {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			return nil, err
		}

		if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
			conn.Close()

			return nil, err
		}

		return conn, nil
	}

	pool := anet.NewPool(1, factory, addr, nil)
	broker := anet.NewBroker([]anet.Pool{pool}, 1, nil, nil)
	go broker.Start()

	return &Client{pool: pool, broker: broker}, nil
}

// Send issues one control command and returns the reply.
func (c *Client) Send(req Request) (Reply, error) {
	payload, err := EncodeRequest(req)
	if err != nil {
		return Reply{}, err
	}

	raw, err := c.broker.Send(&payload)
	if err != nil {
		return Reply{}, fmt.Errorf("control request failed: %w", err)
	}

	reply, err := DecodeReply(raw)
	if err != nil {
		return Reply{}, err
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("control server: %s", reply.Error)
	}

	return reply, nil
}

// Close releases the client's connections.
func (c *Client) Close() {
	c.broker.Close()
	c.pool.Close()
}
