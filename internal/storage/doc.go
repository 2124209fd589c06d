// Package storage is remindbot's SQLite persistence layer.
//
// It stores:
//   - reminders (implements reminder.Store)
//   - per-chat command prefixes
//   - an audit trail of reminder creates and cancels
package storage
