package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "modbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OffUntilEntry says the moderator's role is suppressed until Until.
// The entry exists iff the suppression is active.
type OffUntilEntry struct {
	ModID string
	Until time.Time
}

// ShiftEntry is a recurring on/off duty cycle: role on for Work starting at
// Start, then off, then on again after the shift gap. It recurs until deleted.
type ShiftEntry struct {
	ModID string
	Start time.Time
	Work  time.Duration
}

// AuditEntry records a role transition or command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID     string
	At     time.Time
	ModID  string
	Action string
	Detail string
}

// Store is the persistence API used by the moderation plugins.
//
// Each call is independently durable; there are no multi-key transactions.
// Consumers must tolerate the store being momentarily stale relative to the
// in-memory scheduler across a restart window.
type Store interface {
	OffUntilAll(ctx context.Context) ([]OffUntilEntry, error)
	SetOffUntil(ctx context.Context, modID string, until time.Time) error
	DeleteOffUntil(ctx context.Context, modID string) error

	ShiftAll(ctx context.Context) ([]ShiftEntry, error)
	SetShift(ctx context.Context, e ShiftEntry) error
	DeleteShift(ctx context.Context, modID string) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
