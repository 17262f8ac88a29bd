package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errDevice = errors.New("device said no")

// fakeClient is an in-memory receiver. Query errors are keyed by method
// name; block makes queries wait until it is closed or ctx expires.
type fakeClient struct {
	mu     sync.Mutex
	on     bool
	raw    int
	muted  bool
	source string
	errs   map[string]error
	panics map[string]bool
	block  chan struct{}
	calls  []string

	queries atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		on:     true,
		raw:    37,
		source: "cd",
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (c *fakeClient) setErr(method string, err error) {
	c.mu.Lock()
	c.errs[method] = err
	c.mu.Unlock()
}

func (c *fakeClient) enter(ctx context.Context, method string) error {
	c.mu.Lock()
	err := c.errs[method]
	panics := c.panics[method]
	block := c.block
	c.mu.Unlock()

	if panics {
		panic("fake " + method)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeClient) IsOn(ctx context.Context) (bool, error) {
	c.queries.Add(1)
	if err := c.enter(ctx, "IsOn"); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on, nil
}

func (c *fakeClient) Volume(ctx context.Context) (int, error) {
	c.queries.Add(1)
	if err := c.enter(ctx, "Volume"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, nil
}

func (c *fakeClient) Muted(ctx context.Context) (bool, error) {
	c.queries.Add(1)
	if err := c.enter(ctx, "Muted"); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted, nil
}

func (c *fakeClient) Source(ctx context.Context) (string, error) {
	c.queries.Add(1)
	if err := c.enter(ctx, "Source"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source, nil
}

func (c *fakeClient) SetSource(ctx context.Context, name string) error {
	c.record("SetSource " + name)
	return c.enter(ctx, "SetSource")
}

func (c *fakeClient) SetVolume(ctx context.Context, raw int) error {
	c.record(fmt.Sprintf("SetVolume %d", raw))
	return c.enter(ctx, "SetVolume")
}

func (c *fakeClient) SetMute(ctx context.Context, muted bool) error {
	c.record(fmt.Sprintf("SetMute %v", muted))
	return c.enter(ctx, "SetMute")
}

func (c *fakeClient) VolumeUp(ctx context.Context) error {
	c.record("VolumeUp")
	return c.enter(ctx, "VolumeUp")
}

func (c *fakeClient) VolumeDown(ctx context.Context) error {
	c.record("VolumeDown")
	return c.enter(ctx, "VolumeDown")
}

func (c *fakeClient) SendRemoteKey(ctx context.Context, code string) error {
	c.record("SendRemoteKey " + code)
	return c.enter(ctx, "SendRemoteKey")
}

func (c *fakeClient) PowerOn(ctx context.Context) error {
	c.record("PowerOn")
	return c.enter(ctx, "PowerOn")
}

func (c *fakeClient) PowerOff(ctx context.Context) error {
	c.record("PowerOff")
	return c.enter(ctx, "PowerOff")
}

type fakeProber struct {
	reachable atomic.Bool
	probes    atomic.Int32
}

func newFakeProber(reachable bool) *fakeProber {
	p := &fakeProber{}
	p.reachable.Store(reachable)
	return p
}

func (p *fakeProber) Probe(context.Context, string) bool {
	p.probes.Add(1)
	return p.reachable.Load()
}

type fakePower struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (p *fakePower) SetPower(_ context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, on)
	return p.err
}

func (p *fakePower) Calls() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.calls...)
}

// countingCache wraps MemoryStateCache and counts writes.
type countingCache struct {
	*MemoryStateCache
	puts   atomic.Int32
	getErr error
}

func newCountingCache() *countingCache {
	return &countingCache{MemoryStateCache: NewMemoryStateCache()}
}

func (c *countingCache) Get(ctx context.Context, id string) (CachedState, error) {
	if c.getErr != nil {
		return CachedState{}, c.getErr
	}
	return c.MemoryStateCache.Get(ctx, id)
}

func (c *countingCache) Put(ctx context.Context, id string, s CachedState) error {
	c.puts.Add(1)
	return c.MemoryStateCache.Put(ctx, id, s)
}

// updateRecorder collects published updates.
type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) listen(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *updateRecorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func testDevice(t *testing.T, client Client, prober Prober, power PowerSwitch) *Device {
	t.Helper()
	d, err := NewDevice(DeviceConfig{
		ID:           "living-room",
		Host:         "192.0.2.10",
		MaxVolume:    75,
		Sources:      []string{"CD", "TUNER"},
		PowerOnDelay: 300 * time.Millisecond,
		QueryTimeout: 200 * time.Millisecond,
		PowerTimeout: 200 * time.Millisecond,
	}, client, prober, power)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	return d
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
