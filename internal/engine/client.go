/*
PURPOSE:
  Performs one raw TCP request cycle against a target: connect, write the
  payload, one bounded read.

REQUIREMENTS:
  User-specified:
  - Connect to (host, port) on the transport the OS provides.
  - Write the full payload, then read up to a fixed-size buffer.
  - No retries: one attempt is one data point.

  Implementation-discovered:
  - A read that hits EOF with zero bytes is a zero-byte response. Whether
    it counts as success is configurable (RequireResponse).
  - No timeout unless one is configured; Timeout covers dial and the
    write/read deadline.

ARCHITECTURE INTEGRATION:
  - Called by: engine.Worker via the Requester interface.
  - Uses: internal/config

ERROR HANDLING:
  - Errors are returned to the worker, which records them as failed
    RequestMetrics. They never abort a run.
  - Errors are labelled by phase (dial/write/read) for debug logging.

IMPLEMENTATION RULES:
  - Use net.Dialer.
  - Always close the connection.

USAGE:
  c := engine.NewClient(cfg)
  err := c.Do(ctx, "127.0.0.1")

RELATED FILES:
  - internal/engine/worker.go
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/daryltucker/kali/internal/config"
)

// ReadBufferSize bounds the single read that confirms the target is alive.
const ReadBufferSize = 1024

// ErrEmptyResponse is returned when RequireResponse is set and the target
// closed the connection without sending anything.
var ErrEmptyResponse = errors.New("empty response")

// Requester performs one request cycle against host.
type Requester interface {
	Do(ctx context.Context, host string) error
}

// Client is the TCP Requester.
type Client struct {
	Port            uint16
	Payload         []byte
	Timeout         time.Duration
	RequireResponse bool

	dialer *net.Dialer
}

// NewClient creates a new Client from the run configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		Port:            cfg.Port,
		Payload:         []byte(cfg.Payload),
		Timeout:         cfg.Timeout,
		RequireResponse: cfg.RequireResponse,
		dialer:          &net.Dialer{Timeout: cfg.Timeout},
	}
}

// Do connects to host, writes the payload and performs one read.
func (c *Client) Do(ctx context.Context, host string) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(c.Port)))

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return fmt.Errorf("set deadline %s: %w", addr, err)
		}
	}

	if len(c.Payload) > 0 {
		// net.Conn.Write loops until the whole buffer is written or fails.
		if _, err := conn.Write(c.Payload); err != nil {
			return fmt.Errorf("write %s: %w", addr, err)
		}
	}

	buf := make([]byte, ReadBufferSize)
	n, err := conn.Read(buf)
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		if c.RequireResponse {
			return fmt.Errorf("read %s: %w", addr, ErrEmptyResponse)
		}
		return nil
	case err != nil && n == 0:
		return fmt.Errorf("read %s: %w", addr, err)
	}
	return nil
}
