package onkyo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// Default connection settings.
const (
	defaultDialTimeout      = 3 * time.Second
	defaultWriteTimeout     = 2 * time.Second
	defaultMinInterval      = 50 * time.Millisecond
	defaultFailureThreshold = 3
	defaultOpenTimeout      = 30 * time.Second

	// maxVolumeStep is the highest MVL value the protocol defines (0x64 on
	// most models, 0xC8 on models with half-dB steps).
	maxVolumeStep = 0xC8
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the connection settings for one receiver.
type Config struct {
	// Host is the receiver's IP address or hostname.
	Host string

	// Port is the eISCP port. Default: 60128.
	Port int

	// Sources are the input names configured for this receiver. Source
	// reports a selected input under the first of these that maps to its
	// SLI code, so names round-trip even when they are aliases.
	Sources []string

	// DialTimeout bounds connection establishment. Default: 3s.
	DialTimeout time.Duration

	// MinInterval is the minimum spacing between frames. Default: 50ms.
	MinInterval time.Duration

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit breaker. Default: 3.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// trial request through. Default: 30s.
	OpenTimeout time.Duration
}

type reply struct {
	param string
	err   error
}

// Ensure Client implements receiver.Client.
var _ receiver.Client = (*Client)(nil)

// Client is an eISCP connection to one receiver.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent queries for the same command share the next reply.
type Client struct {
	cfg   Config
	addr  string
	names map[string]string // SLI code -> configured name

	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter

	connMu sync.Mutex
	conn   net.Conn

	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[string][]chan reply

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a client. No connection is made until the first call.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}

	c := &Client{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		names:   configuredNames(cfg.Sources),
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		waiters: make(map[string][]chan reply),
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}

	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "onkyo-" + c.addr,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// An N/A answer proves the receiver is alive.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotAvailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.getLogger().Info("receiver circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

func configuredNames(sources []string) map[string]string {
	names := make(map[string]string, len(sources))
	for _, n := range sources {
		code, ok := SourceCode(n)
		if !ok {
			continue
		}
		if _, taken := names[code]; !taken {
			names[code] = n
		}
	}
	return names
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Address returns host:port.
func (c *Client) Address() string {
	return c.addr
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Close closes the connection and fails outstanding queries.
// Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.failWaiters(ErrClosed)
		c.wg.Wait()
	})
	return err
}

// IsOn reports whether the receiver is powered on (not in standby).
func (c *Client) IsOn(ctx context.Context) (bool, error) {
	param, err := c.query(ctx, cmdPower)
	if err != nil {
		return false, err
	}
	return parseFlag(cmdPower, param)
}

// Volume returns the raw master volume step.
func (c *Client) Volume(ctx context.Context) (int, error) {
	param, err := c.query(ctx, cmdVolume)
	if err != nil {
		return 0, err
	}
	return parseVolume(param)
}

// Muted reports whether audio is muted.
func (c *Client) Muted(ctx context.Context) (bool, error) {
	param, err := c.query(ctx, cmdMute)
	if err != nil {
		return false, err
	}
	return parseFlag(cmdMute, param)
}

// Source returns the name of the selected input: the configured name for
// its code if there is one, else the protocol name, else the raw SLI code.
func (c *Client) Source(ctx context.Context) (string, error) {
	param, err := c.query(ctx, cmdSource)
	if err != nil {
		return "", err
	}
	if name, ok := c.names[strings.ToUpper(param)]; ok {
		return name, nil
	}
	if name, ok := SourceName(param); ok {
		return name, nil
	}
	return param, nil
}

// SetSource selects an input by name.
func (c *Client) SetSource(ctx context.Context, name string) error {
	code, ok := SourceCode(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return c.send(ctx, cmdSource+code)
}

// SetVolume sets the raw master volume step.
func (c *Client) SetVolume(ctx context.Context, raw int) error {
	if raw < 0 || raw > maxVolumeStep {
		return fmt.Errorf("%w: volume %d", ErrInvalidValue, raw)
	}
	return c.send(ctx, fmt.Sprintf("%s%02X", cmdVolume, raw))
}

// SetMute mutes or unmutes audio.
func (c *Client) SetMute(ctx context.Context, muted bool) error {
	return c.send(ctx, cmdMute+flag(muted))
}

// VolumeUp raises the volume one step.
func (c *Client) VolumeUp(ctx context.Context) error {
	return c.send(ctx, cmdVolume+"UP")
}

// VolumeDown lowers the volume one step.
func (c *Client) VolumeDown(ctx context.Context) error {
	return c.send(ctx, cmdVolume+"DOWN")
}

// SendRemoteKey sends an on-screen-display key such as "UP" or "ENTER".
func (c *Client) SendRemoteKey(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	}
	return c.send(ctx, cmdOSD+code)
}

// PowerOn leaves standby. The receiver only listens in standby when
// network standby is enabled.
func (c *Client) PowerOn(ctx context.Context) error {
	return c.send(ctx, cmdPower+"01")
}

// PowerOff enters standby.
func (c *Client) PowerOff(ctx context.Context) error {
	return c.send(ctx, cmdPower+"00")
}

func flag(on bool) string {
	if on {
		return "01"
	}
	return "00"
}

// query sends command+"QSTN" and returns the reply parameter.
func (c *Client) query(ctx context.Context, command string) (string, error) {
	v, err := c.execute(ctx, command+queryParam, command)
	if err != nil {
		return "", err
	}
	param, _ := v.(string)
	return param, nil
}

// send writes a command without waiting for the echo.
func (c *Client) send(ctx context.Context, message string) error {
	_, err := c.execute(ctx, message, "")
	return err
}

func (c *Client) execute(ctx context.Context, message, replyTo string) (any, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		return c.exchange(ctx, message, replyTo)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, c.addr, err)
	}
	return v, err
}

// exchange writes message and, when replyTo is set, waits for the next
// message carrying that command.
func (c *Client) exchange(ctx context.Context, message, replyTo string) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	conn, err := c.connection(ctx)
	if err != nil {
		return "", err
	}

	var ch chan reply
	if replyTo != "" {
		ch = c.addWaiter(replyTo)
		defer c.removeWaiter(replyTo, ch)
	}

	if err := c.write(ctx, conn, message); err != nil {
		return "", err
	}
	if ch == nil {
		return "", nil
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if r.param == notAvailable {
			return "", fmt.Errorf("%w: %s", ErrNotAvailable, replyTo)
		}
		return r.param, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", ErrTimeout, replyTo, ctx.Err())
	case <-c.done:
		return "", ErrClosed
	}
}

func (c *Client) write(ctx context.Context, conn net.Conn, message string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline) //nolint:errcheck // Best effort; Write reports failures
	if _, err := conn.Write(encodePacket(message)); err != nil {
		c.dropConnection(conn, err)
		return fmt.Errorf("%w: writing %s: %w", ErrNotConnected, message, err)
	}
	c.getLogger().Debug("eISCP sent", "receiver", c.addr, "message", message)
	return nil
}

// connection returns the open connection, dialling if necessary.
func (c *Client) connection(ctx context.Context) (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.addr, err)
	}
	if c.closed.Load() {
		conn.Close() //nolint:errcheck // Closing during shutdown
		return nil, ErrClosed
	}

	c.conn = conn
	c.wg.Add(1)
	go c.receiveLoop(conn)

	c.getLogger().Info("connected to receiver", "receiver", c.addr)
	return conn, nil
}

// receiveLoop reads frames until the connection fails and routes each
// message to the queries waiting for its command.
func (c *Client) receiveLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		message, err := readPacket(conn)
		if err != nil {
			c.dropConnection(conn, err)
			return
		}

		command, param, ok := splitMessage(message)
		if !ok {
			continue
		}
		if !c.deliver(command, param) {
			c.getLogger().Debug("eISCP status received", "receiver", c.addr, "message", message)
		}
	}
}

// dropConnection forgets conn and fails everything waiting on it. The
// next call dials again.
func (c *Client) dropConnection(conn net.Conn, cause error) {
	c.connMu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.connMu.Unlock()

	conn.Close() //nolint:errcheck // Connection already failed
	if !current || c.closed.Load() {
		return
	}

	c.getLogger().Warn("receiver connection lost", "receiver", c.addr, "error", cause)
	c.failWaiters(fmt.Errorf("%w: %w", ErrNotConnected, cause))
}

func (c *Client) addWaiter(command string) chan reply {
	ch := make(chan reply, 1)
	c.waitMu.Lock()
	c.waiters[command] = append(c.waiters[command], ch)
	c.waitMu.Unlock()
	return ch
}

func (c *Client) removeWaiter(command string, ch chan reply) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	list := c.waiters[command]
	for i, w := range list {
		if w == ch {
			c.waiters[command] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.waiters[command]) == 0 {
		delete(c.waiters, command)
	}
}

// deliver hands param to every query waiting on command.
func (c *Client) deliver(command, param string) bool {
	c.waitMu.Lock()
	list := c.waiters[command]
	delete(c.waiters, command)
	c.waitMu.Unlock()

	for _, ch := range list {
		ch <- reply{param: param}
	}
	return len(list) > 0
}

func (c *Client) failWaiters(err error) {
	c.waitMu.Lock()
	all := c.waiters
	c.waiters = make(map[string][]chan reply)
	c.waitMu.Unlock()

	for _, list := range all {
		for _, ch := range list {
			ch <- reply{err: err}
		}
	}
}
