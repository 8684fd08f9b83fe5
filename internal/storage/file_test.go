package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "modbot/pkg/logx"
)

func openTestFileStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "modbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestFileStore(t, dir)
	until := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SetOffUntil(ctx, "1001", until); err != nil {
		t.Fatalf("SetOffUntil: %v", err)
	}
	start := time.Unix(1758216000, 0).UTC()
	if err := st.SetShift(ctx, ShiftEntry{ModID: "1002", Start: start, Work: 20 * time.Hour}); err != nil {
		t.Fatalf("SetShift: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and verify the journal replays.
	st = openTestFileStore(t, dir)
	defer st.Close()

	offs, err := st.OffUntilAll(ctx)
	if err != nil {
		t.Fatalf("OffUntilAll: %v", err)
	}
	if len(offs) != 1 || offs[0].ModID != "1001" || !offs[0].Until.Equal(until) {
		t.Fatalf("OffUntilAll = %+v", offs)
	}

	shifts, err := st.ShiftAll(ctx)
	if err != nil {
		t.Fatalf("ShiftAll: %v", err)
	}
	if len(shifts) != 1 || shifts[0].ModID != "1002" || !shifts[0].Start.Equal(start) || shifts[0].Work != 20*time.Hour {
		t.Fatalf("ShiftAll = %+v", shifts)
	}
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestFileStore(t, dir)
	if err := st.SetOffUntil(ctx, "1001", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SetOffUntil: %v", err)
	}
	if err := st.DeleteOffUntil(ctx, "1001"); err != nil {
		t.Fatalf("DeleteOffUntil: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTestFileStore(t, dir)
	defer st.Close()
	offs, err := st.OffUntilAll(ctx)
	if err != nil {
		t.Fatalf("OffUntilAll: %v", err)
	}
	if len(offs) != 0 {
		t.Fatalf("expected empty store, got %+v", offs)
	}
}

func TestFileStoreUpsert(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestFileStore(t, dir)
	defer st.Close()

	if err := st.SetShift(ctx, ShiftEntry{ModID: "1002", Start: time.Unix(100, 0), Work: time.Hour}); err != nil {
		t.Fatalf("SetShift: %v", err)
	}
	if err := st.SetShift(ctx, ShiftEntry{ModID: "1002", Start: time.Unix(200, 0), Work: 2 * time.Hour}); err != nil {
		t.Fatalf("SetShift (update): %v", err)
	}
	shifts, err := st.ShiftAll(ctx)
	if err != nil {
		t.Fatalf("ShiftAll: %v", err)
	}
	if len(shifts) != 1 || shifts[0].Start.Unix() != 200 || shifts[0].Work != 2*time.Hour {
		t.Fatalf("ShiftAll = %+v", shifts)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store for disabled driver")
	}
}
