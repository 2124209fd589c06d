package reminder

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceCreate(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	clock := newFakeClock(t0)
	svc := NewService(store, ServiceOptions{ShardCount: 4, Clock: clock, Auditor: store})
	loop := &countingNotifier{}
	svc.Attach(2, loop)

	due := t0.Add(time.Hour)
	r, err := svc.Create(context.Background(), Reminder{OwnerID: 1, ChatID: -6, DueAt: due})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if r.ID == 0 || r.Shard != 2 || r.Body != DefaultBody {
		t.Fatalf("unexpected reminder: %+v", r)
	}
	if !r.OriginAt.Equal(t0) {
		t.Fatalf("OriginAt = %v, want %v", r.OriginAt, t0)
	}
	if len(loop.created) != 1 || !loop.created[0].Equal(due) {
		t.Fatalf("loop signals = %v", loop.created)
	}
	if len(store.audit) != 1 || store.audit[0].Action != ActionCreate || store.audit[0].TargetID != r.ID {
		t.Fatalf("audit = %+v", store.audit)
	}
}

func TestServiceCreateRejectsIncomplete(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemStore(), ServiceOptions{})
	tests := []struct {
		name string
		in   Reminder
	}{
		{name: "no owner", in: Reminder{ChatID: 1, DueAt: t0}},
		{name: "no chat", in: Reminder{OwnerID: 1, DueAt: t0}},
		{name: "no due", in: Reminder{OwnerID: 1, ChatID: 1}},
	}
	for _, tt := range tests {
		if _, err := svc.Create(context.Background(), tt.in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err = %v, want ErrInvalid", tt.name, err)
		}
	}
}

func TestServiceCancelOnlyOwned(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := NewService(store, ServiceOptions{Clock: newFakeClock(t0), Auditor: store})
	loop := &countingNotifier{}
	svc.Attach(0, loop)
	ctx := context.Background()

	mine, _ := svc.Create(ctx, Reminder{OwnerID: 1, ChatID: 10, DueAt: t0.Add(time.Minute)})
	otherChat, _ := svc.Create(ctx, Reminder{OwnerID: 1, ChatID: 11, DueAt: t0.Add(time.Minute)})
	theirs, _ := svc.Create(ctx, Reminder{OwnerID: 2, ChatID: 10, DueAt: t0.Add(time.Minute)})

	n, err := svc.Cancel(ctx, 10, 1, []int64{mine.ID, otherChat.ID, theirs.ID, 999})
	if err != nil || n != 1 {
		t.Fatalf("Cancel = %d, %v; want 1", n, err)
	}
	if n, _ := svc.Cancel(ctx, 10, 1, []int64{mine.ID}); n != 0 {
		t.Fatalf("second Cancel = %d, want 0", n)
	}
	if len(loop.cancelled) != 1 || loop.cancelled[0] != mine.ID {
		t.Fatalf("loop cancels = %v", loop.cancelled)
	}
	if store.len() != 2 {
		t.Fatalf("store has %d reminders, want 2", store.len())
	}

	// chat 0 matches any chat.
	if n, _ := svc.Cancel(ctx, 0, 1, []int64{otherChat.ID}); n != 1 {
		t.Fatalf("any-chat Cancel = %d, want 1", n)
	}
}

func TestServiceOwned(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemStore(), ServiceOptions{Clock: newFakeClock(t0)})
	r, err := svc.Create(context.Background(), Reminder{OwnerID: 1, ChatID: 10, DueAt: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Owned(context.Background(), r.ID, 1); err != nil {
		t.Fatalf("Owned by owner: %v", err)
	}
	if _, err := svc.Owned(context.Background(), r.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Owned by stranger: err = %v, want ErrNotFound", err)
	}
}

func TestServiceListOrdered(t *testing.T) {
	t.Parallel()
	svc := NewService(newMemStore(), ServiceOptions{Clock: newFakeClock(t0)})
	ctx := context.Background()
	late, _ := svc.Create(ctx, Reminder{OwnerID: 1, ChatID: 10, DueAt: t0.Add(2 * time.Hour)})
	early, _ := svc.Create(ctx, Reminder{OwnerID: 1, ChatID: 10, DueAt: t0.Add(time.Hour)})

	got, err := svc.List(ctx, 10, 1)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
		t.Fatalf("List = %+v", got)
	}
}

func TestServiceCreateRoundsDueUp(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := NewService(store, ServiceOptions{Clock: newFakeClock(t0)})

	cases := []struct {
		due  time.Time
		want time.Time
	}{
		{t0.Add(time.Hour + 400*time.Microsecond), t0.Add(time.Hour + time.Millisecond)},
		{t0.Add(time.Hour + time.Millisecond + 1), t0.Add(time.Hour + 2*time.Millisecond)},
		{t0.Add(time.Hour), t0.Add(time.Hour)},
	}
	for _, tc := range cases {
		r, err := svc.Create(context.Background(), Reminder{OwnerID: 1, ChatID: -6, DueAt: tc.due})
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if !r.DueAt.Equal(tc.want) || !store.due(r.ID).Equal(tc.want) {
			t.Fatalf("due %v stored as %v (returned %v), want %v", tc.due, store.due(r.ID), r.DueAt, tc.want)
		}
	}
}
