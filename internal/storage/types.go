package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// Stats is a point-in-time view of the reminder table.
type Stats struct {
	Pending int64
	Overdue int64
	ByShard map[int]int64
	Audit   int64
}
