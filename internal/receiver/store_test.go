package receiver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-avr/migrations"
)

func openMigratedDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "avrsync.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteStateCache(t *testing.T) {
	ctx := context.Background()
	db := openMigratedDB(t)
	cache := NewSQLiteStateCache(db.DB)

	t.Run("missing entry", func(t *testing.T) {
		if _, err := cache.Get(ctx, "living-room"); !errors.Is(err, ErrNotCached) {
			t.Errorf("Get() error = %v, want ErrNotCached", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		want := CachedState{Source: 1, Volume: 49, Mute: true}
		if err := cache.Put(ctx, "living-room", want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := cache.Get(ctx, "living-room")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != want {
			t.Errorf("Get() = %+v, want %+v", got, want)
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		want := CachedState{Source: 0, Volume: 12}
		if err := cache.Put(ctx, "living-room", want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, _ := cache.Get(ctx, "living-room")
		if got != want {
			t.Errorf("Get() = %+v, want %+v", got, want)
		}

		var rows int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cached_states").Scan(&rows); err != nil {
			t.Fatalf("count: %v", err)
		}
		if rows != 1 {
			t.Errorf("cached_states rows = %d, want 1", rows)
		}
	})

	t.Run("corrupt entry", func(t *testing.T) {
		_, err := db.ExecContext(ctx,
			"INSERT INTO cached_states (receiver_id, state, updated_at) VALUES ('den', 'not json', '')")
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := cache.Get(ctx, "den"); !errors.Is(err, ErrCorruptCacheEntry) {
			t.Errorf("Get() error = %v, want ErrCorruptCacheEntry", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		if err := cache.Put(ctx, "", CachedState{}); err == nil {
			t.Error("Put() with empty id should fail")
		}
	})
}

func TestSQLiteStateCache_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "avrsync.db")

	open := func() *database.DB {
		db, err := database.Open(ctx, database.Config{Path: path, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("database.Open() error = %v", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		return db
	}

	db := open()
	if err := NewSQLiteStateCache(db.DB).Put(ctx, "living-room", CachedState{Source: 1}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	db.Close() //nolint:errcheck // Reopened below

	db = open()
	defer db.Close() //nolint:errcheck // Test cleanup
	got, err := NewSQLiteStateCache(db.DB).Get(ctx, "living-room")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.Source != 1 {
		t.Errorf("Source = %d, want 1", got.Source)
	}
}

func TestSQLiteStateHistory(t *testing.T) {
	ctx := context.Background()
	db := openMigratedDB(t)
	h := NewSQLiteStateHistory(db.DB)

	records := []struct {
		id      string
		state   State
		trigger Trigger
	}{
		{"living-room", State{}, TriggerStartup},
		{"living-room", State{Power: true, Volume: 40}, TriggerPowerOn},
		{"kitchen", State{Power: true, Volume: 10}, TriggerPoll},
		{"living-room", State{Power: true, Volume: 55, Source: 1}, TriggerCommand},
	}
	for _, r := range records {
		if err := h.Record(ctx, r.id, r.state, r.trigger); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := h.List(ctx, "living-room", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []HistoryEntry{
		{ReceiverID: "living-room", State: State{Power: true, Volume: 55, Source: 1}, Trigger: TriggerCommand},
		{ReceiverID: "living-room", State: State{Power: true, Volume: 40}, Trigger: TriggerPowerOn},
		{ReceiverID: "living-room", State: State{}, Trigger: TriggerStartup},
	}
	opts := cmpopts.IgnoreFields(HistoryEntry{}, "ID", "RecordedAt")
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
	for _, e := range got {
		if e.RecordedAt.IsZero() || time.Since(e.RecordedAt) > time.Minute {
			t.Errorf("RecordedAt = %v, want recent", e.RecordedAt)
		}
	}

	limited, err := h.List(ctx, "living-room", 1)
	if err != nil {
		t.Fatalf("List(limit 1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].Trigger != TriggerCommand {
		t.Errorf("List(limit 1) = %+v, want newest entry only", limited)
	}

	none, err := h.List(ctx, "attic", 10)
	if err != nil {
		t.Fatalf("List(unknown) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("List(unknown) = %d entries, want 0", len(none))
	}
}

func TestSQLiteStateHistory_Prune(t *testing.T) {
	ctx := context.Background()
	db := openMigratedDB(t)
	h := NewSQLiteStateHistory(db.DB)

	old := formatRecordedAt(time.Now().Add(-48 * time.Hour))
	if _, err := db.ExecContext(ctx,
		"INSERT INTO state_history (receiver_id, state, triggered_by, recorded_at) VALUES ('den', '{}', 'poll', ?)", old,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.Record(ctx, "den", State{Power: true}, TriggerPoll); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	n, err := h.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d rows, want 1", n)
	}
	left, _ := h.List(ctx, "den", 0)
	if len(left) != 1 || !left[0].State.Power {
		t.Errorf("remaining entries = %+v", left)
	}

	if _, err := h.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

// A whole-second timestamp must still sort before a cutoff later in the
// same second.
func TestSQLiteStateHistory_PruneWithinSecond(t *testing.T) {
	ctx := context.Background()
	db := openMigratedDB(t)
	h := NewSQLiteStateHistory(db.DB)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{base, base.Add(100 * time.Millisecond)} {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO state_history (receiver_id, state, triggered_by, recorded_at) VALUES ('den', '{}', 'poll', ?)",
			formatRecordedAt(at),
		); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := h.pruneBefore(ctx, base.Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("pruneBefore() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("pruneBefore() removed %d rows, want 1", n)
	}

	left, err := h.List(ctx, "den", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(left) != 1 || !left[0].RecordedAt.Equal(base.Add(100*time.Millisecond)) {
		t.Errorf("remaining entries = %+v, want the later one", left)
	}
}

func TestPublisher_RecordsChangesOnly(t *testing.T) {
	ctx := context.Background()
	db := openMigratedDB(t)
	h := NewSQLiteStateHistory(db.DB)
	pub := NewPublisher(h)
	rec := &updateRecorder{}
	pub.AddListener(rec.listen)
	pub.AddListener(func(Update) { panic("listener bug") })

	d := testDevice(t, newFakeClient(), newFakeProber(true), nil)
	s := State{Power: true, Volume: 49, Source: 1}
	pub.Publish(ctx, d, s, TriggerPoll)
	pub.Publish(ctx, d, s, TriggerPoll)
	pub.Publish(ctx, d, State{Mute: true}, TriggerCommand)

	entries, err := h.List(ctx, d.ID, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("history entries = %d, want 2", len(entries))
	}

	updates := rec.all()
	if len(updates) != 3 {
		t.Fatalf("listener saw %d updates, want 3", len(updates))
	}
	wantChanged := []bool{true, false, true}
	for i, u := range updates {
		if u.Changed != wantChanged[i] {
			t.Errorf("update %d Changed = %v, want %v", i, u.Changed, wantChanged[i])
		}
	}
	if updates[0].SourceName != "TUNER" {
		t.Errorf("SourceName = %q, want TUNER", updates[0].SourceName)
	}
}
