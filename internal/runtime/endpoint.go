// Package runtime resolves the daemon's socket endpoint and the runtime
// directory that holds its lock, pid, and health files.
package runtime

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EndpointKind distinguishes the two supported socket transports.
type EndpointKind string

const (
	KindUnix EndpointKind = "unix"
	KindTCP  EndpointKind = "tcp"
)

// Endpoint is a tagged socket address: either a Unix domain socket path
// or a TCP host:port pair.
type Endpoint struct {
	Kind EndpointKind
	Path string // absolute, unix only
	Host string // tcp only
	Port int    // tcp only
}

// Unix builds a Unix-domain endpoint from an absolute path.
func Unix(path string) Endpoint {
	return Endpoint{Kind: KindUnix, Path: path}
}

// TCP builds a TCP endpoint.
func TCP(host string, port int) Endpoint {
	return Endpoint{Kind: KindTCP, Host: host, Port: port}
}

// String renders the endpoint as its URI form.
func (e Endpoint) String() string {
	switch e.Kind {
	case KindUnix:
		return "unix://" + e.Path
	case KindTCP:
		return fmt.Sprintf("tcp://%s:%d", e.Host, e.Port)
	default:
		return "invalid://"
	}
}

// Network and Address return the (network, address) pair suitable for
// net.Listen / net.Dial.
func (e Endpoint) Network() string {
	switch e.Kind {
	case KindUnix:
		return "unix"
	default:
		return "tcp"
	}
}

func (e Endpoint) Address() string {
	switch e.Kind {
	case KindUnix:
		return e.Path
	default:
		return fmt.Sprintf("%s:%d", e.Host, e.Port)
	}
}

// ParseEndpoint parses "unix:///absolute/path.sock" or "tcp://host:port".
// A missing scheme, a missing TCP port, or a relative Unix path is rejected.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if u.Host != "" || !filepath.IsAbs(path) {
			return Endpoint{}, fmt.Errorf("unix endpoint %q: path must be absolute", raw)
		}
		return Unix(filepath.Clean(path)), nil
	case "tcp":
		if u.Hostname() == "" {
			return Endpoint{}, fmt.Errorf("tcp endpoint %q: missing host", raw)
		}
		portStr := u.Port()
		if portStr == "" {
			return Endpoint{}, fmt.Errorf("tcp endpoint %q: missing port", raw)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("tcp endpoint %q: invalid port: %w", raw, err)
		}
		return TCP(u.Hostname(), port), nil
	case "":
		return Endpoint{}, fmt.Errorf("endpoint %q: missing scheme (expected unix:// or tcp://)", raw)
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// ErrMissingParent is returned by PrepareFilesystem when a Unix endpoint's
// parent directory cannot be determined.
var ErrMissingParent = fmt.Errorf("socket endpoint has no filesystem parent")

// PrepareFilesystem ensures the parent directory of a Unix endpoint exists
// with owner-only permission. TCP endpoints have no filesystem parent and
// are a no-op.
func PrepareFilesystem(e Endpoint) error {
	if e.Kind != KindUnix {
		return nil
	}
	parent := filepath.Dir(e.Path)
	if parent == "" || parent == "." {
		return ErrMissingParent
	}
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return fmt.Errorf("create socket parent %s: %w", parent, err)
	}
	return nil
}
