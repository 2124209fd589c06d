package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

var (
	ErrInvalid  = errors.New("invalid reminder")
	ErrNotOwner = errors.New("reminder belongs to someone else")
)

// Audit actions.
const (
	ActionCreate = "create"
	ActionCancel = "cancel"
)

type AuditEntry struct {
	At       time.Time
	ActorID  int64
	ChatID   int64
	Action   string
	TargetID int64
	Detail   string
}

// Auditor records who created or cancelled what.
type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Notifier is the producer-facing side of a Scheduler.
type Notifier interface {
	Created(due time.Time)
	Cancelled(id int64)
}

type ServiceOptions struct {
	ShardCount int
	Clock      Clock
	Auditor    Auditor // optional
	Log        logx.Logger
}

// Service is the producer API: every create and cancel goes to the store
// first and then to the owning shard's loop, if it runs in this process.
type Service struct {
	store      Store
	clock      Clock
	shardCount int
	audit      Auditor
	log        logx.Logger

	mu    sync.RWMutex
	loops map[int]Notifier
}

func NewService(store Store, opts ServiceOptions) *Service {
	if opts.ShardCount <= 0 {
		opts.ShardCount = 1
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:      store,
		clock:      opts.Clock,
		shardCount: opts.ShardCount,
		audit:      opts.Auditor,
		log:        log.With(logx.String("comp", "reminder.service")),
		loops:      map[int]Notifier{},
	}
}

func (s *Service) ShardCount() int { return s.shardCount }

// Attach routes signals for shard to n. A nil n detaches.
func (s *Service) Attach(shard int, n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		delete(s.loops, shard)
		return
	}
	s.loops[shard] = n
}

func (s *Service) loop(shard int) Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loops[shard]
}

// Create stores r and wakes its shard's loop when needed. ID and Shard are
// assigned here; an empty Body becomes DefaultBody.
func (s *Service) Create(ctx context.Context, r Reminder) (Reminder, error) {
	if r.OwnerID == 0 || r.ChatID == 0 {
		return Reminder{}, fmt.Errorf("%w: owner and chat are required", ErrInvalid)
	}
	if r.DueAt.IsZero() {
		return Reminder{}, fmt.Errorf("%w: due time is required", ErrInvalid)
	}
	r.ID = 0
	if strings.TrimSpace(r.Body) == "" {
		r.Body = DefaultBody
	}
	if r.OriginAt.IsZero() {
		r.OriginAt = s.clock.Now()
	}
	// Stores keep millisecond precision; rounding down would fire early.
	r.DueAt = ceilMillis(r.DueAt).UTC()
	r.OriginAt = r.OriginAt.UTC()
	r.Shard = ShardFor(r.ChatID, s.shardCount)

	id, err := s.store.Create(ctx, r)
	if err != nil {
		return Reminder{}, fmt.Errorf("create reminder: %w", err)
	}
	r.ID = id

	s.record(ctx, AuditEntry{ActorID: r.OwnerID, ChatID: r.ChatID, Action: ActionCreate, TargetID: id, Detail: r.DueAt.Format(time.RFC3339)})
	if n := s.loop(r.Shard); n != nil {
		n.Created(r.DueAt)
	}
	s.log.Debug("reminder created",
		logx.Int64("reminder_id", id),
		logx.Int64("chat_id", r.ChatID),
		logx.Int("shard", r.Shard),
		logx.Time("due_at", r.DueAt),
	)
	return r, nil
}

// Cancel deletes the reminders in ids that belong to ownerID and returns
// how many were deleted. chatID 0 matches any chat. Unknown or foreign ids
// are skipped.
func (s *Service) Cancel(ctx context.Context, chatID, ownerID int64, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		ok, err := s.cancelOne(ctx, chatID, ownerID, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Service) cancelOne(ctx context.Context, chatID, ownerID, id int64) (bool, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get reminder %d: %w", id, err)
	}
	if r.OwnerID != ownerID || (chatID != 0 && r.ChatID != chatID) {
		return false, nil
	}
	err = s.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Fired or cancelled concurrently.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete reminder %d: %w", id, err)
	}

	s.record(ctx, AuditEntry{ActorID: ownerID, ChatID: r.ChatID, Action: ActionCancel, TargetID: id})
	if n := s.loop(r.Shard); n != nil {
		n.Cancelled(id)
	}
	return true, nil
}

// List returns the owner's pending reminders in chatID, earliest first.
func (s *Service) List(ctx context.Context, chatID, ownerID int64) ([]Reminder, error) {
	out, err := s.store.ListForOwner(ctx, chatID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Reminder, error) {
	return s.store.Get(ctx, id)
}

// Owned returns reminder id if ownerID owns it, ErrNotFound otherwise.
func (s *Service) Owned(ctx context.Context, id, ownerID int64) (Reminder, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Reminder{}, err
	}
	if r.OwnerID != ownerID {
		return Reminder{}, fmt.Errorf("%w: %w", ErrNotFound, ErrNotOwner)
	}
	return r, nil
}

func (s *Service) record(ctx context.Context, e AuditEntry) {
	if s.audit == nil {
		return
	}
	e.At = s.clock.Now().UTC()
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", e.Action), logx.Int64("target", e.TargetID), logx.Err(err))
	}
}
