// Package netutil holds small network reachability helpers.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/imamik/gsclone/internal/util/retry"
)

const (
	// DefaultProbeInterval is the delay between TCP probes.
	DefaultProbeInterval = 2 * time.Second

	dialTimeout = 2 * time.Second
)

// WaitForPort waits until a TCP connection to ip:port succeeds or timeout
// elapses. The first probe is made immediately.
func WaitForPort(ctx context.Context, ip string, port int, timeout time.Duration) error {
	return WaitForPortEvery(ctx, ip, port, DefaultProbeInterval, timeout)
}

// WaitForPortEvery is WaitForPort with an explicit probe interval.
func WaitForPortEvery(ctx context.Context, ip string, port int, interval, timeout time.Duration) error {
	address := net.JoinHostPort(ip, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	err := retry.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	})
	if errors.Is(err, retry.ErrPollTimeout) {
		return fmt.Errorf("timeout waiting for %s: %w", address, err)
	}
	return err
}
