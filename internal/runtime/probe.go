package runtime

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// Probe attempts a bounded-timeout connect to the endpoint. It reports
// availability (true) when the endpoint is not currently listening —
// connection refused, reset, not-found, or address-not-available are
// all treated as "available". Any other error is returned unwrapped so
// the caller can surface it as a SocketProbe failure.
func Probe(e Endpoint, timeout time.Duration) (available bool, err error) {
	conn, dialErr := net.DialTimeout(e.Network(), e.Address(), timeout)
	if dialErr == nil {
		_ = conn.Close()
		return false, nil
	}
	if isAvailableError(dialErr) {
		return true, nil
	}
	return false, dialErr
}

func isAvailableError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isAvailableError(opErr.Err)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return isAvailableError(pathErr.Err)
	}
	return false
}
