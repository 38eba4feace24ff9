// Package probe waits for a TCP port to accept connections.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultInterval is the pause between connection attempts.
const DefaultInterval = 150 * time.Millisecond

// DialFunc opens a connection, like (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures Wait.
type Options struct {
	// Timeout is the hard deadline, measured from the start of Wait.
	Timeout time.Duration

	// Interval is the sleep between attempts. Defaults to DefaultInterval.
	Interval time.Duration

	// Dial defaults to a net.Dialer.
	Dial DialFunc

	// Attempt, when set, is called after every failed attempt.
	Attempt func(n int, err error)
}

// Wait polls host:port with TCP connects until one succeeds or the timeout
// elapses. A refused and an unreachable port are both retried. It returns
// true as soon as a connection is made; the connection is closed at once.
// Cancelling ctx ends the wait early with false.
func Wait(ctx context.Context, host string, port int, opts Options) bool {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dial := opts.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(opts.Timeout)

	for n := 1; time.Now().Before(deadline); n++ {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		conn, err := dial(attemptCtx, "tcp", address)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
		if opts.Attempt != nil {
			opts.Attempt(n, err)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if wait > interval {
			wait = interval
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
	return false
}
