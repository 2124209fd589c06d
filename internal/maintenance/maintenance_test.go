package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "m.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()
	got, err := ConfigFrom(config.MaintenanceConfig{Stats: "@every 10m"})
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if got.Optimize != "@daily" || got.Stats != "@every 10m" || got.PruneAudit != "@daily" {
		t.Fatalf("specs = %+v", got)
	}
	if got.AuditRetention != 720*time.Hour || got.Location != time.UTC {
		t.Fatalf("retention = %v, loc = %v", got.AuditRetention, got.Location)
	}
	if _, err := ConfigFrom(config.MaintenanceConfig{AuditRetention: "forever"}); err == nil {
		t.Fatal("bad retention accepted")
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Optimize: "every tuesday"}, openStore(t), logx.Nop(), nil)
	if err == nil {
		t.Fatal("bad cron spec accepted")
	}
	s, err := New(Config{Stats: "*/5 * * * *"}, openStore(t), logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != JobStats {
		t.Fatalf("jobs = %v", got)
	}
	if err := s.RunJob(context.Background(), JobOptimize); err == nil {
		t.Fatal("disabled job ran")
	}
}

func TestJobs(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, due := range []time.Time{now.Add(-time.Hour), now.Add(time.Hour)} {
		_, err := st.Create(ctx, reminder.Reminder{OwnerID: 1, ChatID: int64(-10 - i), OriginAt: now, DueAt: due, Body: "x", Shard: i})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	for _, at := range []time.Time{now.Add(-800 * time.Hour), now.Add(-time.Hour)} {
		if err := st.AppendAudit(ctx, reminder.AuditEntry{At: at, ActorID: 1, ChatID: -10, Action: reminder.ActionCreate}); err != nil {
			t.Fatalf("audit: %v", err)
		}
	}

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(4, "maintenance.")
	defer unsubscribe()

	s, err := New(Config{Optimize: "@daily", Stats: "@hourly", PruneAudit: "@daily", AuditRetention: 720 * time.Hour}, st, logx.Nop(), bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return now }

	for _, name := range []string{JobOptimize, JobPruneAudit, JobStats} {
		if err := s.RunJob(ctx, name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	stats, at := s.LastStats()
	if !at.Equal(now) {
		t.Fatalf("stats at = %v", at)
	}
	if stats.Pending != 2 || stats.Overdue != 1 || stats.Audit != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByShard[0] != 1 || stats.ByShard[1] != 1 {
		t.Fatalf("by shard = %v", stats.ByShard)
	}
	select {
	case ev := <-events:
		if ev.Type != EventStats {
			t.Fatalf("event = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats event")
	}
}

type failingStore struct{}

func (failingStore) Optimize(context.Context) error { return errors.New("disk on fire") }
func (failingStore) Stats(context.Context, time.Time) (storage.Stats, error) {
	return storage.Stats{}, errors.New("disk on fire")
}
func (failingStore) PruneAudit(context.Context, time.Time) (int64, error) { return 0, nil }

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Optimize: "@every 1h", Stats: "0 * * * *"}, failingStore{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunJob(context.Background(), JobOptimize); err == nil {
		t.Fatal("store error swallowed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStartupSpread(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(time.Hour, now, "stats")
	if jitter < 0 || jitter >= maxStartupSpread {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(time.Hour + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	// cron.Every rounds to whole seconds after the first run.
	if gap := sched.Next(first).Sub(first); gap <= time.Hour-time.Second || gap > time.Hour {
		t.Fatalf("interval after first run = %v", gap)
	}
}
