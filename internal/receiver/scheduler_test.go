package receiver

import (
	"context"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, cooldown time.Duration, devices ...*Device) (*Scheduler, *Publisher, *updateRecorder) {
	t.Helper()
	syncer := NewSynchronizer(NewMemoryStateCache())
	pub := NewPublisher(nil)
	rec := &updateRecorder{}
	pub.AddListener(rec.listen)

	s := NewScheduler(syncer, pub, func() []*Device { return devices }, MinPollInterval, cooldown)
	t.Cleanup(s.Stop)
	return s, pub, rec
}

func TestNewScheduler_Interval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"default", 0, DefaultPollInterval},
		{"below floor", time.Second, MinPollInterval},
		{"at floor", 3 * time.Second, 3 * time.Second},
		{"custom", 45 * time.Second, 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(nil, nil, nil, tt.interval, 0)
			if got := s.Interval(); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_TickPublishesPoll(t *testing.T) {
	d := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	s, _, rec := newTestScheduler(t, 10*time.Millisecond, d)

	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("Tick() started %d cycles, want 1", n)
	}
	waitFor(t, time.Second, "publish", func() bool { return rec.count() == 1 })

	u := rec.all()[0]
	if u.Trigger != TriggerPoll {
		t.Errorf("Trigger = %q, want %q", u.Trigger, TriggerPoll)
	}
	want := State{Power: true, Volume: 49, Mute: false, Source: 0}
	if u.State != want {
		t.Errorf("State = %+v, want %+v", u.State, want)
	}
	if view, _, ok := d.View(); !ok || view != want {
		t.Errorf("View() = %+v, %v", view, ok)
	}
}

func TestScheduler_OverlappingTicksSynchronizeOnce(t *testing.T) {
	client := newFakeClient()
	client.block = make(chan struct{})
	prober := newFakeProber(true)
	d := testDevice(t, client, prober, nil)
	d.QueryTimeout = 2 * time.Second
	s, _, rec := newTestScheduler(t, 10*time.Millisecond, d)

	ctx := context.Background()
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("first Tick() started %d cycles, want 1", n)
	}
	waitFor(t, time.Second, "cycle running", func() bool { return d.Phase() == PhaseRunning })
	for i := 0; i < 3; i++ {
		if n := s.Tick(ctx); n != 0 {
			t.Fatalf("overlapping Tick() started %d cycles, want 0", n)
		}
	}

	close(client.block)
	waitFor(t, time.Second, "publish", func() bool { return rec.count() == 1 })

	if got := prober.probes.Load(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	if got := client.queries.Load(); got != 4 {
		t.Errorf("queries = %d, want 4", got)
	}
}

func TestScheduler_CooldownHoldsGuard(t *testing.T) {
	d := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	s, _, rec := newTestScheduler(t, 150*time.Millisecond, d)
	ctx := context.Background()

	s.Tick(ctx)
	waitFor(t, time.Second, "publish", func() bool { return rec.count() == 1 })

	if got := d.Phase(); got != PhaseCooldown {
		t.Errorf("Phase() = %v, want cooldown", got)
	}
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick() during cooldown started %d cycles, want 0", n)
	}

	waitFor(t, time.Second, "idle", func() bool { return d.Phase() == PhaseIdle && !d.inFlight.Load() })
	if n := s.Tick(ctx); n != 1 {
		t.Errorf("Tick() after cooldown started %d cycles, want 1", n)
	}
}

func TestScheduler_PowerOnWindowSuppressesTick(t *testing.T) {
	client := newFakeClient()
	d := testDevice(t, client, newFakeProber(true), &fakePower{})
	d.PowerOnDelay = 300 * time.Millisecond

	s, pub, rec := newTestScheduler(t, 10*time.Millisecond, d)
	syncer := NewSynchronizer(NewMemoryStateCache())
	p := NewDispatcher(syncer, pub, NewMemoryStateCache(), testSettle)
	t.Cleanup(p.Close)

	p.Power(d, true)
	time.Sleep(100 * time.Millisecond)

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("Tick() inside window started %d cycles, want 0", n)
	}
	if d.inFlight.Load() {
		t.Error("skipped tick took the in-flight guard")
	}

	waitFor(t, time.Second, "window close", func() bool { return !d.PoweringOn() })
	if n := s.Tick(context.Background()); n != 1 {
		t.Errorf("Tick() after window started %d cycles, want 1", n)
	}
	waitFor(t, time.Second, "poll publish", func() bool {
		for _, u := range rec.all() {
			if u.Trigger == TriggerPoll {
				return true
			}
		}
		return false
	})
}

func TestScheduler_DevicesAreIndependent(t *testing.T) {
	slow := newFakeClient()
	slow.block = make(chan struct{})
	defer close(slow.block)

	a := testDevice(t, slow, newFakeProber(true), nil)
	b := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	b.ID = "kitchen"
	s, _, rec := newTestScheduler(t, 10*time.Millisecond, a, b)

	if n := s.Tick(context.Background()); n != 2 {
		t.Fatalf("Tick() started %d cycles, want 2", n)
	}
	waitFor(t, time.Second, "kitchen publish", func() bool {
		for _, u := range rec.all() {
			if u.ReceiverID == "kitchen" {
				return true
			}
		}
		return false
	})
}

func TestScheduler_CancelledContextDoesNotPublish(t *testing.T) {
	d := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	s, _, rec := newTestScheduler(t, 10*time.Millisecond, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Tick(ctx)

	waitFor(t, time.Second, "guard release", func() bool { return !d.inFlight.Load() })
	if n := rec.count(); n != 0 {
		t.Errorf("published %d times with a cancelled context, want 0", n)
	}
}

func TestScheduler_Stop(t *testing.T) {
	d := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	s, _, _ := newTestScheduler(t, time.Hour, d)
	ctx := context.Background()

	s.Start(ctx)
	s.Tick(ctx)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not interrupt the cooldown")
	}

	if n := s.Tick(ctx); n != 0 {
		t.Errorf("Tick() after Stop started %d cycles, want 0", n)
	}
	s.Stop()
}
