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

	logx "modbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, mod_id, action, detail) VALUES(?,?,?,?,?)`,
		e.ID, e.At.Format(time.RFC3339Nano), e.ModID, e.Action, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) OffUntilAll(ctx context.Context) ([]OffUntilEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT mod_id, until FROM pings_off`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OffUntilEntry
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		until, err := DecodeOffUntil(raw)
		if err != nil {
			s.log.Warn("skipping corrupt off-until row",
				logx.String("mod_id", id), logx.Err(err))
			continue
		}
		out = append(out, OffUntilEntry{ModID: id, Until: until})
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetOffUntil(ctx context.Context, modID string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	modID = strings.TrimSpace(modID)
	if modID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pings_off(mod_id, until) VALUES(?,?)
		 ON CONFLICT(mod_id) DO UPDATE SET until=excluded.until`,
		modID, EncodeOffUntil(until),
	)
	return err
}

func (s *sqliteStore) DeleteOffUntil(ctx context.Context, modID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pings_off WHERE mod_id = ?`, strings.TrimSpace(modID))
	return err
}

func (s *sqliteStore) ShiftAll(ctx context.Context) ([]ShiftEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT mod_id, sched FROM shift_schedule`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShiftEntry
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		start, work, err := DecodeShift(raw)
		if err != nil {
			s.log.Warn("skipping corrupt shift row",
				logx.String("mod_id", id), logx.Err(err))
			continue
		}
		out = append(out, ShiftEntry{ModID: id, Start: start, Work: work})
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetShift(ctx context.Context, e ShiftEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	modID := strings.TrimSpace(e.ModID)
	if modID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shift_schedule(mod_id, sched) VALUES(?,?)
		 ON CONFLICT(mod_id) DO UPDATE SET sched=excluded.sched`,
		modID, EncodeShift(e.Start, e.Work),
	)
	return err
}

func (s *sqliteStore) DeleteShift(ctx context.Context, modID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM shift_schedule WHERE mod_id = ?`, strings.TrimSpace(modID))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
