package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	keep := c.timers[:0]
	for _, t := range c.timers {
		if t.at.After(c.now) {
			keep = append(keep, t)
			continue
		}
		t.ch <- c.now
	}
	c.timers = keep
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeTimer struct {
	c  *fakeClock
	at time.Time
	ch chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, x := range t.c.timers {
		if x == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// memStore is an in-memory Store with call counters and error injection.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]Reminder
	deletes map[int64]int

	earliestErrs int // fail this many Earliest calls
	audit        []AuditEntry
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]Reminder{}, deletes: map[int64]int{}}
}

var errStoreDown = errors.New("store down")

func (s *memStore) Create(_ context.Context, r Reminder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.rows[r.ID] = r
	return r.ID, nil
}

func (s *memStore) Earliest(_ context.Context, shard int) (Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earliestErrs > 0 {
		s.earliestErrs--
		return Reminder{}, false, errStoreDown
	}
	var (
		best  Reminder
		found bool
	)
	for _, r := range s.rows {
		if r.Shard != shard {
			continue
		}
		if !found || r.DueAt.Before(best.DueAt) || (r.DueAt.Equal(best.DueAt) && r.ID < best.ID) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (s *memStore) Get(_ context.Context, id int64) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return Reminder{}, ErrNotFound
	}
	return r, nil
}

func (s *memStore) UpdateDueAt(_ context.Context, id int64, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.DueAt = due
	s.rows[id] = r
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	s.deletes[id]++
	return nil
}

func (s *memStore) ListForOwner(_ context.Context, chatID, ownerID int64) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.rows {
		if r.ChatID == chatID && r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) deleteCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[id]
}

func (s *memStore) due(id int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].DueAt
}

// fakeResolver fails chats listed in errs and resolves everything else.
type fakeResolver struct {
	mu   sync.Mutex
	errs map[int64]error
}

func (f *fakeResolver) set(chatID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[int64]error{}
	}
	if err == nil {
		delete(f.errs, chatID)
		return
	}
	f.errs[chatID] = err
}

func (f *fakeResolver) Resolve(_ context.Context, r Reminder) (Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[r.ChatID]; err != nil {
		return Destination{}, err
	}
	return Destination{ChatID: r.ChatID, ThreadID: r.ThreadID, Policy: MentionPolicy{Users: true, RepliedUser: true}}, nil
}

// fakeSender records every attempt. respond, when set, decides each result.
type fakeSender struct {
	mu      sync.Mutex
	sent    []Delivery
	respond func(ctx context.Context, n int, d Delivery) error
}

func (f *fakeSender) Send(ctx context.Context, d Delivery) error {
	f.mu.Lock()
	f.sent = append(f.sent, d)
	n := len(f.sent)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(ctx, n, d)
	}
	return nil
}

func (f *fakeSender) attempts() []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Delivery(nil), f.sent...)
}

// countingNotifier records producer signals.
type countingNotifier struct {
	mu        sync.Mutex
	created   []time.Time
	cancelled []int64
}

func (n *countingNotifier) Created(due time.Time) {
	n.mu.Lock()
	n.created = append(n.created, due)
	n.mu.Unlock()
}

func (n *countingNotifier) Cancelled(id int64) {
	n.mu.Lock()
	n.cancelled = append(n.cancelled, id)
	n.mu.Unlock()
}
