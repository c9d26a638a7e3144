package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tarm/serial"
)

// Conn is an open link. Read returns (0, nil) when the read timeout elapsed
// without data, and an error wrapping ErrInterrupted when the link is gone.
type Conn interface {
	Read(p []byte) (int, error)
	Close() error
}

// Dialer opens one target.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, t Target) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, t Target) (Conn, error) {
	return f(ctx, t)
}

// SerialDialer opens serial devices through github.com/tarm/serial.
type SerialDialer struct {
	Baud        int
	ReadTimeout time.Duration
}

func (d SerialDialer) Dial(_ context.Context, t Target) (Conn, error) {
	unlock, err := lockDevice(t.Address)
	if err != nil {
		return nil, err
	}
	sp, err := serial.OpenPort(&serial.Config{
		Name:        t.Address,
		Baud:        d.Baud,
		ReadTimeout: d.ReadTimeout,
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("open serial %s: %w", t.Address, err)
	}
	return newSerialConn(sp, unlock, d.ReadTimeout, clockwork.NewRealClock()), nil
}

// hangupReads is how many consecutive empty reads that return well before
// the read timeout mark a device that has gone away.
const hangupReads = 3

type port interface {
	Read(p []byte) (int, error)
	Close() error
}

type serialConn struct {
	port    port
	unlock  func()
	timeout time.Duration
	clock   clockwork.Clock
	early   int
}

func newSerialConn(p port, unlock func(), timeout time.Duration, clock clockwork.Clock) *serialConn {
	return &serialConn{port: p, unlock: unlock, timeout: timeout, clock: clock}
}

func (c *serialConn) Read(p []byte) (int, error) {
	start := c.clock.Now()
	n, err := c.port.Read(p)
	if n > 0 {
		c.early = 0
		return n, nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	// tarm/serial reports both an idle read timeout and a hung-up device as
	// io.EOF. Only the timeout actually waits.
	if c.timeout > 0 && c.clock.Since(start) >= c.timeout/2 {
		c.early = 0
		return 0, nil
	}
	c.early++
	if c.early >= hangupReads {
		c.early = 0
		return 0, fmt.Errorf("%w: device hung up", ErrInterrupted)
	}
	return 0, nil
}

func (c *serialConn) Close() error {
	err := c.port.Close()
	c.unlock()
	return err
}

// TCPDialer connects to a TCP line-bridge.
type TCPDialer struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, t Target) (Conn, error) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	c, err := nd.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.Address, err)
	}
	return &tcpConn{conn: c, timeout: d.ReadTimeout}, nil
}

type tcpConn struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *tcpConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
	}
	n, err := c.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 0, nil
	}
	if err == nil {
		return 0, nil
	}
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: peer closed the bridge", ErrInterrupted)
	}
	return 0, fmt.Errorf("%w: %w", ErrInterrupted, err)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
