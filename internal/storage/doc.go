package storage

// Package storage is the durable schedule store.
//
// It persists two independent namespaces keyed by moderator ID:
//   - off-until: when a suppressed role should be restored
//   - shift schedules: recurring on/off duty cycles
//
// plus an append-only audit log of role transitions.
//
// The store is the source of truth across restarts; the scheduler is a
// transient mirror rebuilt from it on startup.
