// Package reminder holds the reminder model and the per-shard delivery loop.
//
// # Overview
//
// A Scheduler owns exactly one wakeup timer for its shard, no matter how many
// reminders are outstanding. It fetches the earliest pending reminder, sleeps
// until it is due, fires it and fetches again.
//
// # Rescheduling
//
// Producers commit to the Store first and then call Created or Cancelled on
// the shard's Scheduler. Those only signal when the change can affect the
// current wakeup; the loop drops its sleep and re-reads the store. Kick
// forces a re-read.
//
// # Firing
//
// The destination is re-resolved right before delivery:
//
//   - gone chat, gone topic, lost rights: the reminder is deleted unsent
//   - temporarily unavailable chat: due_at is pushed back by PostponeDelay
//   - otherwise the notice is sent as a reply to the origin message, falling
//     back once to a plain message when the origin is no longer usable
//
// The reminder is deleted after a delivery attempt whatever its outcome.
// Deletes that race with a user cancel report ErrNotFound, which counts as
// success. A delivery cut short by shutdown keeps the reminder, so it fires
// again after restart.
package reminder
