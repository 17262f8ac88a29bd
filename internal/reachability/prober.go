package reachability

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// TCPProber reports a host reachable when a TCP connection to Port succeeds.
type TCPProber struct {
	Port    int
	Timeout time.Duration
	Logger  Logger
}

// Probe dials host:Port and closes the connection immediately.
func (p TCPProber) Probe(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	if err != nil {
		loggerOrNoop(p.Logger).Debug("tcp probe failed", "host", host, "port", p.Port, "error", err)
		return false
	}
	conn.Close() //nolint:errcheck // Probe connection only
	return true
}

// HTTPProber reports a host reachable when it answers an HTTP request,
// whatever the status code.
type HTTPProber struct {
	Port    int // 0 means 80
	Path    string
	Timeout time.Duration
	Client  *http.Client // nil uses a client without keep-alives
	Logger  Logger
}

var probeClient = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Probe issues GET http://host:Port/Path.
func (p HTTPProber) Probe(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	logger := loggerOrNoop(p.Logger)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(host), nil)
	if err != nil {
		logger.Debug("http probe request invalid", "host", host, "error", err)
		return false
	}

	client := p.Client
	if client == nil {
		client = probeClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("http probe failed", "host", host, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Draining only
	resp.Body.Close()                                           //nolint:errcheck // Read-only body
	return true
}

func (p HTTPProber) url(host string) string {
	port := p.Port
	if port == 0 {
		port = 80
	}
	path := p.Path
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(port)), path)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
