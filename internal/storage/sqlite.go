package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite backend. All mutations are single statements, so it is
// safe for concurrent producers and the per-shard loops.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

var (
	_ reminder.Store   = (*Store)(nil)
	_ reminder.Auditor = (*Store)(nil)
)

// Open creates the database file if needed and applies migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes the loops' writes
	// with producer writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &Store{db: db, log: log.With(logx.String("comp", "storage"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const reminderCols = `id, owner_id, owner_name, chat_id, thread_id, origin_message_id, origin_at, due_at, body, shard`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc rowScanner) (reminder.Reminder, error) {
	var (
		r               reminder.Reminder
		originMs, dueMs int64
	)
	err := sc.Scan(&r.ID, &r.OwnerID, &r.OwnerName, &r.ChatID, &r.ThreadID, &r.OriginMessageID, &originMs, &dueMs, &r.Body, &r.Shard)
	if err != nil {
		return reminder.Reminder{}, err
	}
	r.OriginAt = fromMillis(originMs)
	r.DueAt = fromMillis(dueMs)
	return r, nil
}

func (s *Store) Create(ctx context.Context, r reminder.Reminder) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, owner_name, chat_id, thread_id, origin_message_id, origin_at, due_at, body, shard)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.OwnerID, r.OwnerName, r.ChatID, r.ThreadID, r.OriginMessageID,
		r.OriginAt.UnixMilli(), r.DueAt.UnixMilli(), r.Body, r.Shard,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Earliest(ctx context.Context, shard int) (reminder.Reminder, bool, error) {
	if s == nil || s.db == nil {
		return reminder.Reminder{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE shard = ? ORDER BY due_at, id LIMIT 1`, shard)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	return r, true, nil
}

func (s *Store) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return reminder.Reminder{}, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateDueAt(ctx context.Context, id int64, due time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET due_at = ? WHERE id = ?`, due.UnixMilli(), id)
	return affectedOne(res, err)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

func (s *Store) ListForOwner(ctx context.Context, chatID, ownerID int64) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE chat_id = ? AND owner_id = ? ORDER BY due_at, id`,
		chatID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prefix returns the custom command prefix of chatID.
func (s *Store) Prefix(ctx context.Context, chatID int64) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var p string
	err := s.db.QueryRowContext(ctx, `SELECT prefix FROM chat_prefix WHERE chat_id = ?`, chatID).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

func (s *Store) SetPrefix(ctx context.Context, chatID int64, prefix string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_prefix(chat_id, prefix, updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET prefix=excluded.prefix, updated_at=excluded.updated_at`,
		chatID, prefix, time.Now().UnixMilli(),
	)
	return err
}

// DeletePrefix is a no-op for chats without a custom prefix.
func (s *Store) DeletePrefix(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_prefix WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, e reminder.AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, target_id, detail) VALUES(?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, e.ChatID, e.Action, e.TargetID, nullStr(e.Detail),
	)
	return err
}

// PruneAudit deletes audit rows older than before and returns how many.
func (s *Store) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts pending reminders; Overdue are those due before now.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrClosed
	}
	st := Stats{ByShard: map[int]int64{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT shard, COUNT(*), COALESCE(SUM(CASE WHEN due_at < ? THEN 1 ELSE 0 END), 0)
		 FROM reminders GROUP BY shard`, now.UnixMilli())
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var shard int
		var n, overdue int64
		if err := rows.Scan(&shard, &n, &overdue); err != nil {
			return Stats{}, err
		}
		st.ByShard[shard] = n
		st.Pending += n
		st.Overdue += overdue
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&st.Audit); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Optimize runs PRAGMA optimize; cheap enough for a daily job.
func (s *Store) Optimize(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA optimize")
	return err
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
