package service

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"pagerflow/internal/adapters/couchdb"
	"pagerflow/internal/adapters/couchdb/couchtest"
	"pagerflow/internal/adapters/pagerduty"
	"pagerflow/internal/adapters/pagerduty/pdtest"
	"pagerflow/internal/core/normalize"
	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/logger"
	ptime "pagerflow/internal/platform/time"
	"pagerflow/internal/platform/testkit"
	"pagerflow/internal/services/sync/domain"
	"pagerflow/internal/services/sync/ingest"
	"pagerflow/internal/services/sync/repo"

	"github.com/rs/zerolog"
)

var (
	t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	pd     *pdtest.Server
	couch  *couchtest.Server
	ledger *repo.File
	svc    *Service
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{pd: pdtest.New(t), couch: couchtest.New(t)}
	h.ledger = repo.NewFile(filepath.Join(t.TempDir(), "pagerflow-log.json"))
	src := ingest.NewSource(pagerduty.NewClient(pagerduty.Options{
		BaseURL:     h.pd.URL,
		Token:       "secret",
		MaxAttempts: 3,
		Include:     []string{"channel"},
	}))
	dest := couchdb.NewClient(couchdb.Options{
		DBURL:          h.couch.DBURL,
		UnresolvedView: couchtest.ViewPath,
		MaxAttempts:    3,
	})
	h.svc = New(src, dest, h.ledger, normalize.New(), cfg)
	return h
}

// at pins the run clock and the run id
func at(t *testing.T, when time.Time) {
	t.Helper()
	testkit.Serial(t)
	testkit.Clock(t, &now, when)
	testkit.Swap(t, &newRunID, func() string { return "run-" + when.Format("0102") })
}

func (h *harness) seedLedger(t *testing.T, lastRun time.Time) {
	t.Helper()
	if _, err := h.ledger.Append(context.Background(), domain.RunRecord{StartedAt: lastRun.Unix(), FinishedAt: lastRun.Unix() + 60}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func (h *harness) load(t *testing.T) domain.Ledger {
	t.Helper()
	l, err := h.ledger.Load(context.Background())
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	return l
}

// seedIncremental sets up the view-diff scenario: 41 resolved and unchanged,
// 42 known open with a stale status change, 43 created after the last run
func (h *harness) seedIncremental(t *testing.T) {
	t.Helper()
	day := func(d, hr int) time.Time { return time.Date(2024, 2, d, hr, 0, 0, 0, time.UTC) }

	h.pd.Put(pdtest.Incident(41, pagerduty.StatusResolved, day(20, 0), day(21, 0)))
	h.pd.Put(pdtest.Incident(42, pagerduty.StatusAcknowledged, day(25, 0), t0.Add(6*time.Hour)))
	h.pd.Put(pdtest.Incident(43, pagerduty.StatusTriggered, t0.Add(8*time.Hour), t0.Add(8*time.Hour)))

	h.couch.Seed(map[string]any{"_id": "pd:41", "status": "resolved", "last_status_change_on": ptime.FormatAPI(day(21, 0))})
	h.couch.Seed(map[string]any{"_id": "pd:42", "status": "triggered", "last_status_change_on": ptime.FormatAPI(day(25, 0))})
	h.seedLedger(t, t0)
}

func TestNew_RequiresPorts(t *testing.T) {
	t.Parallel()
	testkit.MustPanic(t, func() { New(nil, nil, nil, nil, Config{}) })

	h := newHarness(t, Config{})
	if h.svc.Cfg.BulkSize != defaultBulkSize {
		t.Fatalf("BulkSize default = %d", h.svc.Cfg.BulkSize)
	}
}

func TestRun_FirstRunBackfills(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{RecordUpdatedIDs: true})
	for n := 1; n <= 3; n++ {
		created := t0.Add(time.Duration(n) * time.Hour)
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusResolved, created, created.Add(90*time.Second)))
	}

	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Mode != domain.ModeBackfill || sum.TotalUpdates != 3 || sum.NewIncidents != 3 || sum.ViewUpdates != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Uploaded != 3 || len(sum.Failed) != 0 || sum.Index != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if h.couch.Hits("POST /incidents/_bulk_docs") != 1 || h.couch.Hits("POST /incidents") != 0 {
		t.Fatalf("expected one bulk write")
	}
	doc, ok := h.couch.Doc("pd:2")
	if !ok || doc["duration"] != float64(90) {
		t.Fatalf("pd:2 = %v", doc)
	}

	l := h.load(t)
	if l.LastRun != t1.Unix() || len(l.History) != 1 {
		t.Fatalf("ledger = %+v", l)
	}
	rec := l.History[0]
	if rec.NewIncidents != 3 || rec.TotalUpdates != 3 || rec.UpdatesFromUnresolvedView != 0 || rec.Index != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Mode != domain.ModeBackfill || rec.RunID != "run-0302" || rec.UpdatedIncidents != nil {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRun_BackfillChunksAndSkipsMissingNumbers(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{BulkSize: 2, Workers: 3})
	for _, n := range []int{1, 2, 4, 5} {
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusTriggered, t0, t0))
	}
	// count says 4, number 3 was deleted upstream so 5 is beyond the range
	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Uploaded != 3 || !slices.Equal(sum.Missing, []string{"pd:3"}) {
		t.Fatalf("summary = %+v", sum)
	}
	if h.couch.Hits("POST /incidents/_bulk_docs") != 2 {
		t.Fatalf("bulk calls = %d", h.couch.Hits("POST /incidents/_bulk_docs"))
	}
}

func TestRun_BackfillUploadFailureIsFatal(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	for n := 1; n <= 3; n++ {
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusTriggered, t0, t0))
	}
	h.couch.Reject("pd:2")

	sum, err := h.svc.Run(context.Background())
	if err == nil {
		t.Fatalf("expected a fatal backfill error")
	}
	if !slices.Equal(sum.Failed, []string{"pd:2"}) || sum.Index != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if l := h.load(t); l.LastRun != 0 || len(l.History) != 0 {
		t.Fatalf("ledger written on a failed backfill: %+v", l)
	}
}

func TestRun_BackfillBuildFailureIsFatal(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.pd.Put(pdtest.Incident(1, pagerduty.StatusTriggered, t0, t0))
	h.pd.Fail("/incidents/1", 3)

	if _, err := h.svc.Run(context.Background()); err == nil {
		t.Fatalf("expected a fatal backfill error")
	}
	if h.couch.Len() != 0 {
		t.Fatalf("documents stored after a failed build")
	}
}

func TestRun_BackfillStopsBuildingAfterFatal(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{BulkSize: 10})
	for n := 1; n <= 6; n++ {
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusTriggered, t0.Add(time.Duration(n)*time.Minute), t0))
	}
	h.pd.Refuse("/incidents/2", http.StatusForbidden)

	if _, err := h.svc.Run(context.Background()); !perr.IsCode(err, perr.ErrorCodeUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	for _, path := range []string{"/incidents/3", "/incidents/4", "/incidents/5", "/incidents/6"} {
		if h.pd.Hits(path) != 0 {
			t.Fatalf("%s fetched after the run was already failing", path)
		}
	}
	if h.couch.Hits("POST /incidents/_bulk_docs") != 0 {
		t.Fatal("bulk write after a fatal build")
	}
}

func TestRun_CorruptLedgerWarningCarriesRunID(t *testing.T) {
	at(t, t1)
	var buf bytes.Buffer
	testkit.Swap(t, &runLog, func(ctx context.Context) *logger.Logger {
		l := zerolog.New(&buf).With().Str("run_id", logger.RunID(ctx)).Logger()
		return &l
	})
	h := newHarness(t, Config{DryRun: true})
	if err := writeFile(h.ledger.Path(), "{not json"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	testkit.MustContain(t, buf.String(), `"run_id":"run-0302"`)
	testkit.MustContain(t, buf.String(), "run ledger unreadable")
}

func TestRun_IncrementalViewDiffAndSinceWindow(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{RecordUpdatedIDs: true})
	h.seedIncremental(t)
	oldRev := h.couch.Rev("pd:42")

	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Mode != domain.ModeIncremental || sum.ViewUpdates != 1 || sum.NewIncidents != 1 || sum.TotalUpdates != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Uploaded != 2 || len(sum.Failed) != 0 || !sum.Watermark.Equal(t0) {
		t.Fatalf("summary = %+v", sum)
	}

	d42, _ := h.couch.Doc("pd:42")
	if d42["status"] != pagerduty.StatusAcknowledged || h.couch.Rev("pd:42") == oldRev {
		t.Fatalf("pd:42 not updated: %v", d42)
	}
	if _, ok := h.couch.Doc("pd:43"); !ok {
		t.Fatalf("pd:43 not created")
	}

	l := h.load(t)
	if l.LastRun != t1.Unix() || l.NumberOfExecutions != 2 {
		t.Fatalf("ledger = %+v", l)
	}
	rec := l.History[1]
	if rec.TotalUpdates != 2 || rec.UpdatesFromUnresolvedView != 1 || rec.NewIncidents != 1 || rec.Index != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if !slices.Equal(rec.UpdatedIncidents, []string{"pd:42", "pd:43"}) {
		t.Fatalf("updated = %v", rec.UpdatedIncidents)
	}
}

func TestRun_RerunWithoutChangesIsEmpty(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedIncremental(t)
	if _, err := h.svc.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	cs, err := h.svc.Detect(context.Background(), h.load(t).LastRun)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if cs.IDs.Len() != 0 || cs.ViewUpdates != 0 {
		t.Fatalf("changes after a clean run: %v", cs.IDs.Sorted())
	}
}

func TestRun_IncrementalUploadFailureIsReported(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedLedger(t, t0)
	for _, n := range []int{6, 7, 8} {
		created := t0.Add(time.Duration(n) * time.Hour)
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusTriggered, created, created))
	}
	h.couch.Reject("pd:7")

	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(sum.Failed, []string{"pd:7"}) || sum.Uploaded != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	l := h.load(t)
	if l.LastRun != t1.Unix() || len(l.History) != 2 {
		t.Fatalf("watermark did not advance: %+v", l)
	}
	if !slices.Equal(l.History[1].FailedIncidents, []string{"pd:7"}) {
		t.Fatalf("record = %+v", l.History[1])
	}
}

func TestRun_UnfetchableViewIncidentIsStillSynced(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedIncremental(t)
	h.couch.Seed(map[string]any{"_id": "pd:40", "status": "triggered", "last_status_change_on": "2024-02-10T00:00:00Z"})
	h.pd.Put(pdtest.Incident(40, pagerduty.StatusTriggered, t0.Add(-30*24*time.Hour), t0.Add(-20*24*time.Hour)))
	h.pd.Fail("/incidents/40", 3)

	cs, err := h.svc.Detect(context.Background(), t0.Unix())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !cs.IDs.Has(40) || !cs.IDs.Has(42) || cs.ViewUpdates != 2 {
		t.Fatalf("changes = %v (view %d)", cs.IDs.Sorted(), cs.ViewUpdates)
	}
}

func TestDetect_RefusedViewIncidentAborts(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedIncremental(t)
	h.couch.Seed(map[string]any{"_id": "pd:40", "status": "triggered", "last_status_change_on": "2024-02-10T00:00:00Z"})
	h.pd.Refuse("/incidents/40", http.StatusForbidden)

	_, err := h.svc.Detect(context.Background(), t0.Unix())
	if !perr.IsCode(err, perr.ErrorCodeUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if h.pd.Hits("/incidents/40") != 1 {
		t.Fatalf("refusal retried: %d hits", h.pd.Hits("/incidents/40"))
	}
}

func TestRun_GoneViewIncidentIsDropped(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedIncremental(t)
	h.couch.Seed(map[string]any{"_id": "pd:39", "status": "triggered", "last_status_change_on": "2024-02-10T00:00:00Z"})

	cs, err := h.svc.Detect(context.Background(), t0.Unix())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if cs.IDs.Has(39) || !slices.Equal(cs.IDs.Sorted(), []int{42, 43}) {
		t.Fatalf("changes = %v", cs.IDs.Sorted())
	}
}

func TestRun_DetectFailureRecordsNothing(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	h.seedIncremental(t)
	h.pd.Fail("/incidents/count", 3)

	if _, err := h.svc.Run(context.Background()); err == nil {
		t.Fatalf("expected detection error")
	}
	if l := h.load(t); l.LastRun != t0.Unix() || len(l.History) != 1 {
		t.Fatalf("ledger moved: %+v", l)
	}
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{DryRun: true})
	h.seedIncremental(t)

	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.DryRun || sum.TotalUpdates != 2 || sum.Uploaded != 0 || sum.Index != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if h.couch.Hits("POST /incidents") != 0 {
		t.Fatalf("dry run uploaded")
	}
	if l := h.load(t); len(l.History) != 1 {
		t.Fatalf("dry run recorded: %+v", l)
	}
}

func TestRun_WatermarkIsMonotonic(t *testing.T) {
	testkit.Serial(t)
	h := newHarness(t, Config{Workers: 4})
	h.pd.Put(pdtest.Incident(1, pagerduty.StatusTriggered, t0, t0))

	starts := []time.Time{t1, t1.Add(time.Hour), t1.Add(2 * time.Hour)}
	for i, start := range starts {
		testkit.Swap(t, &now, func() time.Time { return start })
		n := i + 2
		created := start.Add(-time.Minute)
		h.pd.Put(pdtest.Incident(n, pagerduty.StatusTriggered, created, created))
		if _, err := h.svc.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	l := h.load(t)
	if l.LastRun != starts[2].Unix() || len(l.History) != 3 {
		t.Fatalf("ledger = %+v", l)
	}
	for i, rec := range l.History {
		if rec.Index != i+1 || rec.StartedAt != starts[i].Unix() {
			t.Fatalf("history[%d] = %+v", i, rec)
		}
	}
	if h.couch.Len() != 4 {
		t.Fatalf("stored %d docs, want 4", h.couch.Len())
	}
}

func TestRun_CorruptLedgerStartsOver(t *testing.T) {
	at(t, t1)
	h := newHarness(t, Config{})
	if err := writeFile(h.ledger.Path(), "{not json"); err != nil {
		t.Fatal(err)
	}
	h.pd.Put(pdtest.Incident(1, pagerduty.StatusTriggered, t0, t0))

	sum, err := h.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Mode != domain.ModeBackfill || sum.Index != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func writeFile(path, s string) error { return os.WriteFile(path, []byte(s), 0o600) }
