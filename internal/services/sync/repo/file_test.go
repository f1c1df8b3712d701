package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/services/sync/domain"
)

func TestFile_MissingIsEmpty(t *testing.T) {
	t.Parallel()

	l, err := NewFile(filepath.Join(t.TempDir(), "ledger.json")).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.LastRun != 0 || len(l.History) != 0 {
		t.Fatalf("ledger = %+v", l)
	}
}

func TestFile_AppendIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	f := NewFile(path)

	starts := []int64{1_700_000_000, 1_700_003_600, 1_700_007_200}
	for _, s := range starts {
		if _, err := f.Append(ctx, domain.RunRecord{StartedAt: s, FinishedAt: s + 30, NewIncidents: 1, TotalUpdates: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	l, err := NewFile(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.LastRun != starts[2] || l.NumberOfExecutions != 3 || len(l.History) != 3 {
		t.Fatalf("ledger = %+v", l)
	}
	for i, rec := range l.History {
		if rec.Index != i+1 || rec.StartedAt != starts[i] {
			t.Fatalf("history[%d] = %+v", i, rec)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFile_ReadsExistingJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pagerflow-log.json")
	raw := `{"last_run": 1400000000, "number_of_executions": 1, "history": [
		{"finished_at": 1400000042, "started_at": 1400000000, "new_incidents": 12,
		 "total_updates": 12, "updates_from_unresolved_view": 0, "index": 1}]}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := NewFile(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.LastRun != 1400000000 || l.History[0].NewIncidents != 12 {
		t.Fatalf("ledger = %+v", l)
	}
}

func TestFile_CorruptIsReportedAndReplaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	if err := os.WriteFile(path, []byte(`{"last_run": 12, "hist`), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFile(path)

	l, err := f.Load(ctx)
	if !perr.IsCode(err, perr.ErrorCodeLedgerCorrupt) {
		t.Fatalf("err = %v, want ledger corrupt", err)
	}
	if l.LastRun != 0 {
		t.Fatalf("corrupt ledger should load empty, got %+v", l)
	}

	l, err = f.Append(ctx, domain.RunRecord{StartedAt: 99})
	if err != nil {
		t.Fatalf("Append over corrupt file: %v", err)
	}
	if l.NumberOfExecutions != 1 || l.History[0].Index != 1 {
		t.Fatalf("ledger = %+v", l)
	}

	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("corrupt copy not kept: %v", matches)
	}
}

func TestFile_MissingCounterKeepsWatermark(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	raw := `{"last_run":1700000000,"history":[{"index":1,"started_at":1700000000,"finished_at":1700000005,"new_incidents":3,"total_updates":3,"updates_from_unresolved_view":0}]}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFile(path)

	l, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.LastRun != 1700000000 || l.NumberOfExecutions != 1 {
		t.Fatalf("ledger = %+v", l)
	}

	next, err := f.Append(context.Background(), domain.RunRecord{StartedAt: 1700003600, FinishedAt: 1700003601})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if next.NumberOfExecutions != 2 || len(next.History) != 2 || next.History[1].Index != 2 {
		t.Fatalf("after append = %+v", next)
	}
	if m, _ := filepath.Glob(path + ".corrupt-*"); len(m) != 0 {
		t.Fatalf("history moved aside: %v", m)
	}
}
