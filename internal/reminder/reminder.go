package reminder

import (
	"context"
	"errors"
	"time"
)

// DefaultBody is used when a reminder is created without a message.
const DefaultBody = "something"

// MaxAhead is the furthest a due time may lie in the future.
const MaxAhead = 10 * 365 * 24 * time.Hour

var ErrNotFound = errors.New("reminder not found")

type Reminder struct {
	ID              int64     `json:"id"`
	OwnerID         int64     `json:"owner_id"`
	OwnerName       string    `json:"owner_name,omitempty"`
	ChatID          int64     `json:"chat_id"`
	ThreadID        int       `json:"thread_id,omitempty"`
	OriginMessageID int       `json:"origin_message_id,omitempty"`
	OriginAt        time.Time `json:"origin_at"`
	DueAt           time.Time `json:"due_at"`
	Body            string    `json:"body"`
	Shard           int       `json:"shard"`
}

// Store persists reminders. All mutations are single-row and atomic, so it
// is safe for many producers and one loop per shard.
type Store interface {
	Create(ctx context.Context, r Reminder) (int64, error)
	// Earliest returns the reminder with the smallest (due_at, id) in shard.
	Earliest(ctx context.Context, shard int) (Reminder, bool, error)
	Get(ctx context.Context, id int64) (Reminder, error)
	UpdateDueAt(ctx context.Context, id int64, due time.Time) error
	// Delete reports ErrNotFound for a missing id, every time.
	Delete(ctx context.Context, id int64) error
	// ListForOwner is ordered by (due_at, id).
	ListForOwner(ctx context.Context, chatID, ownerID int64) ([]Reminder, error)
}

// ShardFor maps a chat to its shard: |chatID| mod shardCount.
func ShardFor(chatID int64, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	u := uint64(chatID)
	if chatID < 0 {
		u = uint64(-(chatID + 1)) + 1
	}
	return int(u % uint64(shardCount))
}
