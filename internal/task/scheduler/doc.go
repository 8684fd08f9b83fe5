// Package scheduler provides keyed one-shot timers plus recurring cron and
// interval schedules, executed on a small worker pool.
//
// One-shot timers are the primary API for the moderation plugins: each timer
// is addressed by a caller-chosen key, fires exactly once, and is removed
// from the registry before its job runs so the job may legally reschedule
// under the same key. Recurring schedules are used for maintenance sweeps.
package scheduler
