package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "modbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.pings.snapshot.json  (periodic snapshot, both namespaces)
//   - <prefix>.pings.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot. Values are stored
// in their wire form so a snapshot is readable with plain tooling.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	offUntil     map[string]string // modID -> off-until wire value
	shifts       map[string]string // modID -> shift wire value

	writes int
}

const (
	nsOffUntil = "off_until"
	nsShift    = "shift"
)

type journalRecord struct {
	NS    string `json:"ns"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Del   bool   `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".pings.snapshot.json"
	journalPath := prefix + ".pings.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Rebuild state from snapshot + journal.
	offUntil := map[string]string{}
	shifts := map[string]string{}
	_ = loadSnapshot(snapPath, offUntil, shifts)
	_ = replayJournal(journalPath, offUntil, shifts)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		offUntil:     offUntil,
		shifts:       shifts,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) OffUntilAll(ctx context.Context) ([]OffUntilEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OffUntilEntry, 0, len(s.offUntil))
	for id, v := range s.offUntil {
		until, err := DecodeOffUntil(v)
		if err != nil {
			s.log.Warn("skipping corrupt off-until entry",
				logx.String("mod_id", id), logx.Err(err))
			continue
		}
		out = append(out, OffUntilEntry{ModID: id, Until: until})
	}
	return out, nil
}

func (s *fileStore) SetOffUntil(ctx context.Context, modID string, until time.Time) error {
	_ = ctx
	modID = strings.TrimSpace(modID)
	if modID == "" {
		return nil
	}
	return s.put(nsOffUntil, modID, EncodeOffUntil(until))
}

func (s *fileStore) DeleteOffUntil(ctx context.Context, modID string) error {
	_ = ctx
	return s.del(nsOffUntil, strings.TrimSpace(modID))
}

func (s *fileStore) ShiftAll(ctx context.Context) ([]ShiftEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShiftEntry, 0, len(s.shifts))
	for id, v := range s.shifts {
		start, work, err := DecodeShift(v)
		if err != nil {
			s.log.Warn("skipping corrupt shift entry",
				logx.String("mod_id", id), logx.Err(err))
			continue
		}
		out = append(out, ShiftEntry{ModID: id, Start: start, Work: work})
	}
	return out, nil
}

func (s *fileStore) SetShift(ctx context.Context, e ShiftEntry) error {
	_ = ctx
	modID := strings.TrimSpace(e.ModID)
	if modID == "" {
		return nil
	}
	return s.put(nsShift, modID, EncodeShift(e.Start, e.Work))
}

func (s *fileStore) DeleteShift(ctx context.Context, modID string) error {
	_ = ctx
	return s.del(nsShift, strings.TrimSpace(modID))
}

func (s *fileStore) put(ns, key, value string) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	s.applyLocked(journalRecord{NS: ns, Key: key, Value: value})
	return s.appendLocked(journalRecord{NS: ns, Key: key, Value: value})
}

func (s *fileStore) del(ns, key string) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	s.applyLocked(journalRecord{NS: ns, Key: key, Del: true})
	return s.appendLocked(journalRecord{NS: ns, Key: key, Del: true})
}

func (s *fileStore) applyLocked(r journalRecord) {
	var m map[string]string
	switch r.NS {
	case nsOffUntil:
		m = s.offUntil
	case nsShift:
		m = s.shifts
	default:
		return
	}
	if r.Del {
		delete(m, r.Key)
	} else {
		m[r.Key] = r.Value
	}
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%256 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := map[string]map[string]string{
		nsOffUntil: s.offUntil,
		nsShift:    s.shifts,
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, offUntil, shifts map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap map[string]map[string]string
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap[nsOffUntil] {
		offUntil[k] = v
	}
	for k, v := range snap[nsShift] {
		shifts[k] = v
	}
	return nil
}

func replayJournal(path string, offUntil, shifts map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		var m map[string]string
		switch r.NS {
		case nsOffUntil:
			m = offUntil
		case nsShift:
			m = shifts
		default:
			continue
		}
		if r.Del {
			delete(m, r.Key)
		} else {
			m[r.Key] = r.Value
		}
	}
	return sc.Err()
}
