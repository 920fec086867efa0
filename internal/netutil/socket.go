// Package netutil provides the raw TCP layer of the tunnel: bounded
// dialing, full-length transfers and socket tuning.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrPeerClosed is returned when the remote end closes the connection
// while more bytes were expected. A zero-byte read is a failure here,
// never "no data".
var ErrPeerClosed = errors.New("peer closed connection")

// ResolveFunc resolves a hostname to a dialable IP. When nil, the system
// resolver inside net.Dialer is used.
type ResolveFunc func(ctx context.Context, host string) (string, error)

// Options tunes a freshly dialed TCP connection.
type Options struct {
	NoDelay         bool
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultOptions matches what an interactive tunnel wants: no Nagle
// delay and TCP keepalive probing under the protocol's own keepalives.
func DefaultOptions() Options {
	return Options{
		NoDelay:         true,
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// DialTCP resolves addr's host (through resolve, when given) and
// connects within timeout. Resolution and connect failures both surface
// as a dial error, distinct from post-connect I/O failures.
func DialTCP(ctx context.Context, host string, port int, timeout time.Duration, resolve ResolveFunc) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := host
	if resolve != nil {
		ip, err := resolve(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		target = ip
	}

	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	return conn, nil
}

// Tune applies socket options to a TCP connection. Non-TCP connections
// (test pipes) are left untouched.
func Tune(conn net.Conn, opts Options) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if opts.NoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return fmt.Errorf("set nodelay: %w", err)
		}
	}
	if opts.KeepAlive {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return fmt.Errorf("set keepalive: %w", err)
		}
		if opts.KeepAlivePeriod > 0 {
			if err := tcpConn.SetKeepAlivePeriod(opts.KeepAlivePeriod); err != nil {
				return fmt.Errorf("set keepalive period: %w", err)
			}
		}
	}
	if opts.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(opts.ReadBufferSize); err != nil {
			return fmt.Errorf("set read buffer: %w", err)
		}
	}
	if opts.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(opts.WriteBufferSize); err != nil {
			return fmt.Errorf("set write buffer: %w", err)
		}
	}
	return nil
}

// SendAll writes the whole buffer within timeout. Partial progress on a
// single write does not fail the call; only the deadline does.
func SendAll(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// RecvAll fills the whole buffer within timeout. A connection closed by
// the peer before the buffer is full yields ErrPeerClosed.
func RecvAll(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetReadDeadline(time.Time{})
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %v", ErrPeerClosed, err)
		}
		return err
	}
	return nil
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
