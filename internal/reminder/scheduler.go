package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/eventbus"
	"remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// Bus event types published by the loop.
const (
	EventSleeping   = "reminder.sleeping"
	EventFired      = "reminder.fired"
	EventPostponed  = "reminder.postponed"
	EventDropped    = "reminder.dropped"
	EventIdle       = "reminder.idle"
	EventStoreError = "reminder.store_error"
)

// LoopEvent is the Data of every reminder.* bus event.
type LoopEvent struct {
	Shard      int
	ReminderID int64
	DueAt      time.Time
	Detail     string
}

type Config struct {
	Shard           int
	PostponeDelay   time.Duration
	ErrorBackoff    time.Duration
	ErrorBackoffMax time.Duration
	StoreTimeout    time.Duration
	SendTimeout     time.Duration
}

type Deps struct {
	Store    Store
	Resolver Resolver
	Sender   Sender
	Clock    Clock
	Log      logx.Logger
	Bus      eventbus.Bus // optional
}

type wakeup struct {
	due time.Time
	id  int64
}

// Scheduler delivers the reminders of one shard in due order.
//
// Run is the single consumer; Created, Cancelled and Kick are safe to call
// from any goroutine.
type Scheduler struct {
	cfg      Config
	store    Store
	resolver Resolver
	sender   Sender
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus

	signal *Signal

	mu   sync.Mutex
	wake *wakeup

	// loop-owned
	backoff time.Duration
}

func NewScheduler(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil || deps.Resolver == nil || deps.Sender == nil {
		return nil, errors.New("reminder scheduler: store, resolver and sender are required")
	}
	if cfg.PostponeDelay <= 0 {
		cfg.PostponeDelay = 5 * time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.ErrorBackoffMax < cfg.ErrorBackoff {
		cfg.ErrorBackoffMax = 30 * time.Second
		if cfg.ErrorBackoffMax < cfg.ErrorBackoff {
			cfg.ErrorBackoffMax = cfg.ErrorBackoff
		}
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		resolver: deps.Resolver,
		sender:   deps.Sender,
		clock:    deps.Clock,
		log:      log.With(logx.String("comp", "reminder.scheduler"), logx.Int("shard", cfg.Shard)),
		bus:      deps.Bus,
		signal:   NewSignal(),
		backoff:  cfg.ErrorBackoff,
	}, nil
}

func (s *Scheduler) Shard() int { return s.cfg.Shard }

// Created tells the loop a reminder due at due was committed.
func (s *Scheduler) Created(due time.Time) {
	s.mu.Lock()
	w := s.wake
	s.mu.Unlock()
	if w == nil || due.Before(w.due) {
		s.signal.Notify()
	}
}

// Cancelled tells the loop reminder id was deleted.
func (s *Scheduler) Cancelled(id int64) {
	s.mu.Lock()
	w := s.wake
	s.mu.Unlock()
	if w == nil || w.id == id {
		s.signal.Notify()
	}
}

// Kick makes the loop re-read the store.
func (s *Scheduler) Kick() { s.signal.Notify() }

// Wakeup returns the reminder the loop is sleeping on.
func (s *Scheduler) Wakeup() (id int64, due time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wake == nil {
		return 0, time.Time{}, false
	}
	return s.wake.id, s.wake.due, true
}

func (s *Scheduler) setWake(w *wakeup) {
	s.mu.Lock()
	s.wake = w
	s.mu.Unlock()
}

// Run loops until ctx is done. It returns nil on shutdown; store and
// transport failures are retried with backoff and never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("reminder loop started")
	defer s.log.Info("reminder loop stopped")

	for ctx.Err() == nil {
		// Idle. Draining before the fetch is safe: producers commit before
		// they signal, so the fetch below sees their write.
		s.signal.Drain()

		r, ok, err := s.fetch(ctx)
		if err != nil {
			if !s.failed(ctx, "fetch earliest reminder", 0, err) {
				return nil
			}
			continue
		}
		if !ok {
			s.publish(EventIdle, Reminder{}, "")
			select {
			case <-ctx.Done():
				return nil
			case <-s.signal.C():
			}
			continue
		}

		due, alive := s.sleep(ctx, r)
		if !alive {
			return nil
		}
		if !due {
			continue
		}

		if err := s.fire(ctx, r); err != nil {
			if !s.failed(ctx, "fire reminder", r.ID, err) {
				return nil
			}
			continue
		}
		s.backoff = s.cfg.ErrorBackoff
	}
	return nil
}

func (s *Scheduler) fetch(ctx context.Context) (Reminder, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	r, ok, err := s.store.Earliest(cctx, s.cfg.Shard)
	if err == nil {
		s.backoff = s.cfg.ErrorBackoff
	}
	return r, ok, err
}

// sleep waits for r to become due. due is false when the loop must re-fetch
// instead; alive is false on shutdown.
func (s *Scheduler) sleep(ctx context.Context, r Reminder) (due, alive bool) {
	s.setWake(&wakeup{due: r.DueAt, id: r.ID})
	defer s.setWake(nil)

	d := r.DueAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	s.publish(EventSleeping, r, "")

	select {
	case <-ctx.Done():
		return false, false
	case <-s.signal.C():
		s.log.Debug("wakeup interrupted; refetching", logx.Int64("reminder_id", r.ID))
		return false, true
	case <-t.C():
		// Never fire early, even if the timer runs ahead of the clock.
		if s.clock.Now().Before(r.DueAt) {
			return false, true
		}
		return true, true
	}
}

// fire handles one due reminder. Signals are not observed here; shutdown
// is. A returned error is a store or transport failure worth a backoff.
func (s *Scheduler) fire(ctx context.Context, r Reminder) error {
	log := s.log.With(logx.Int64("reminder_id", r.ID), logx.Int64("chat_id", r.ChatID))

	// A cancel may have landed between the wakeup and now.
	cur, err := s.get(ctx, r.ID)
	if errors.Is(err, ErrNotFound) {
		log.Debug("reminder vanished before firing")
		return nil
	}
	if err != nil {
		return err
	}
	if cur.DueAt.After(s.clock.Now()) {
		return nil
	}
	r = cur

	dest, err := s.resolver.Resolve(ctx, r)
	switch {
	case err == nil:
	case errors.Is(err, ErrHostUnavailable):
		return s.postpone(ctx, r, log)
	case errors.Is(err, ErrHostGone), errors.Is(err, ErrDestinationGone), errors.Is(err, ErrNoPermission):
		log.Info("reminder destination gone; dropping", logx.Err(err))
		if err := s.delete(ctx, r.ID); err != nil {
			return err
		}
		s.publish(EventDropped, r, err.Error())
		return nil
	default:
		return fmt.Errorf("resolve destination: %w", err)
	}

	sent, aborted := s.deliver(ctx, r, dest, log)
	if aborted {
		// Shutdown interrupted the send; keep the reminder so it fires
		// again after restart.
		log.Info("delivery interrupted by shutdown; keeping reminder")
		return nil
	}
	if err := s.delete(ctx, r.ID); err != nil {
		return err
	}
	detail := "delivered"
	if !sent {
		detail = "undelivered"
	}
	s.publish(EventFired, r, detail)
	return nil
}

// deliver replies to the origin message and falls back once to a plain
// message when the origin is unusable.
func (s *Scheduler) deliver(ctx context.Context, r Reminder, dest Destination, log logx.Logger) (sent, aborted bool) {
	d := Delivery{
		To: dest,
		Notice: Notice{
			OwnerID:   r.OwnerID,
			OwnerName: r.OwnerName,
			Body:      r.Body,
			Elapsed:   humanize.RelTime(r.OriginAt, s.clock.Now(), "ago", "from now"),
		},
		ReplyTo: r.OriginMessageID,
	}

	err := s.send(ctx, d)
	if err == nil {
		return true, false
	}
	if ctx.Err() != nil {
		return false, true
	}
	if ReasonOf(err) == ReasonContentUnusable && d.ReplyTo != 0 {
		log.Debug("reply target unusable; sending standalone", logx.Err(err))
		d.ReplyTo = 0
		err = s.send(ctx, d)
		if err == nil {
			return true, false
		}
		if ctx.Err() != nil {
			return false, true
		}
	}
	log.Warn("reminder delivery failed", logx.String("reason", ReasonOf(err).String()), logx.Err(err))
	return false, false
}

func (s *Scheduler) send(ctx context.Context, d Delivery) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.sender.Send(sctx, d)
}

// postpone pushes due_at back by PostponeDelay, but never to less than
// PostponeDelay from now, so a long-overdue reminder does not spin.
func (s *Scheduler) postpone(ctx context.Context, r Reminder, log logx.Logger) error {
	now := s.clock.Now()
	next := r.DueAt.Add(s.cfg.PostponeDelay)
	if floor := now.Add(s.cfg.PostponeDelay); next.Before(floor) {
		next = floor
	}
	next = ceilMillis(next)

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	err := s.store.UpdateDueAt(wctx, r.ID, next)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("postpone: %w", err)
	}
	log.Info("chat unavailable; reminder postponed", logx.Time("due_at", next))
	r.DueAt = next
	s.publish(EventPostponed, r, "")
	return nil
}

// delete is idempotent: ErrNotFound counts as done.
func (s *Scheduler) delete(ctx context.Context, id int64) error {
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.store.Delete(wctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *Scheduler) get(ctx context.Context, id int64) (Reminder, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.Get(cctx, id)
}

// writeContext shields a store write from shutdown but still bounds it.
func (s *Scheduler) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
}

// failed logs err and waits out the backoff. It returns false on shutdown.
func (s *Scheduler) failed(ctx context.Context, op string, id int64, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	wait := supervisor.Jitter(s.backoff)
	s.log.Error("reminder loop: "+op+" failed",
		logx.Int64("reminder_id", id),
		logx.Duration("backoff", wait),
		logx.Err(err),
	)
	s.backoff *= 2
	if s.backoff > s.cfg.ErrorBackoffMax {
		s.backoff = s.cfg.ErrorBackoffMax
	}

	t := s.clock.NewTimer(wait)
	defer t.Stop()
	s.publish(EventStoreError, Reminder{ID: id}, err.Error())
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (s *Scheduler) publish(typ string, r Reminder, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.clock.Now(),
		Data: LoopEvent{Shard: s.cfg.Shard, ReminderID: r.ID, DueAt: r.DueAt, Detail: detail},
	})
}
