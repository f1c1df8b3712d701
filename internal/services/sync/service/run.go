package service

import (
	"context"
	"slices"
	"sync"
	"time"

	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/logger"
	ptime "pagerflow/internal/platform/time"
	"pagerflow/internal/services/sync/domain"
)

// outcome collects per incident results from concurrent workers
type outcome struct {
	mu       sync.Mutex
	uploaded []string
	failed   []string
	missing  []string
	fatal    error
}

func (o *outcome) add(list *[]string, key string) {
	o.mu.Lock()
	*list = append(*list, key)
	o.mu.Unlock()
}

// failing reports whether a run-fatal error was already recorded
func (o *outcome) failing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatal != nil
}

func (o *outcome) setFatal(err error) {
	o.mu.Lock()
	if o.fatal == nil {
		o.fatal = err
	}
	o.mu.Unlock()
}

// Run implements domain.RunnerPort. It loads the watermark, detects changes, builds and
// uploads every changed incident and records the run with the watermark set to the run start.
// Incremental upload failures are reported in the summary; any backfill failure is returned
// and nothing is recorded
func (s *Service) Run(ctx context.Context) (domain.Summary, error) {
	started := now().UTC().Truncate(time.Second)
	sum := domain.Summary{RunID: newRunID(), StartedAt: started, DryRun: s.Cfg.DryRun}

	ctx = logger.WithRun(ctx, sum.RunID, "")
	ledger, err := s.Ledger.Load(ctx)
	switch {
	case perr.IsCode(err, perr.ErrorCodeLedgerCorrupt):
		runLog(ctx).Warn().Err(err).Msg("run ledger unreadable, starting over with a backfill")
		ledger = domain.Ledger{}
	case err != nil:
		return sum, perr.Wrapf(err, perr.CodeOf(err), "load run ledger")
	}
	sum.Watermark = ledger.Watermark()
	sum.Mode = domain.ModeIncremental
	if ledger.LastRun == 0 {
		sum.Mode = domain.ModeBackfill
	}

	ctx = logger.WithRun(ctx, "", string(sum.Mode))
	log := runLog(ctx)
	log.Info().Int64("last_run", ledger.LastRun).Bool("dry_run", s.Cfg.DryRun).Msg("sync run started")

	cs, err := s.Detect(ctx, ledger.LastRun)
	if err != nil {
		return sum, err
	}
	sum.ViewUpdates = cs.ViewUpdates
	sum.NewIncidents = cs.NewUpdates()
	sum.TotalUpdates = cs.IDs.Len()

	var res *outcome
	if cs.Backfill {
		res = s.backfill(ctx, cs.IDs.Sorted())
	} else {
		res = s.incremental(ctx, cs.IDs.Sorted())
	}
	slices.Sort(res.uploaded)
	slices.Sort(res.failed)
	slices.Sort(res.missing)
	sum.Uploaded = len(res.uploaded)
	sum.Failed = res.failed
	sum.Missing = res.missing
	sum.FinishedAt = now().UTC()

	if res.fatal != nil {
		log.Error().Err(res.fatal).Int("failed", len(res.failed)).Msg("backfill failed, run not recorded")
		return sum, res.fatal
	}
	if s.Cfg.DryRun {
		log.Info().Int("total", sum.TotalUpdates).Msg("dry run finished, nothing uploaded or recorded")
		return sum, nil
	}

	rec := domain.RunRecord{
		RunID:                     sum.RunID,
		Mode:                      sum.Mode,
		StartedAt:                 ptime.Epoch(started),
		FinishedAt:                ptime.Epoch(sum.FinishedAt),
		NewIncidents:              sum.NewIncidents,
		TotalUpdates:              sum.TotalUpdates,
		UpdatesFromUnresolvedView: sum.ViewUpdates,
		FailedIncidents:           res.failed,
	}
	if s.Cfg.RecordUpdatedIDs && !cs.Backfill {
		rec.UpdatedIncidents = keys(cs.IDs.Sorted())
	}
	ledger, err = s.Ledger.Append(ctx, rec)
	if err != nil {
		return sum, perr.Wrapf(err, perr.CodeOf(err), "record run")
	}
	sum.Index = ledger.NumberOfExecutions

	log.Info().
		Int("index", sum.Index).
		Int("total", sum.TotalUpdates).
		Int("uploaded", sum.Uploaded).
		Int("failed", len(sum.Failed)).
		Dur("took", sum.FinishedAt.Sub(started)).
		Msg("sync run finished")
	return sum, nil
}

// incremental builds and saves each incident on its own. Failures are collected, never fatal
func (s *Service) incremental(ctx context.Context, ids []int) *outcome {
	res := &outcome{}
	s.forEach(ctx, ids, func(ctx context.Context, n int) {
		key := domain.DocKey(n)
		log := runLog(ctx)

		doc, err := s.Build(ctx, n)
		if perr.IsNotFound(err) {
			log.Warn().Str("id", key).Msg("incident gone from the source, skipped")
			res.add(&res.missing, key)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("id", key).Msg("document build failed")
			res.add(&res.failed, key)
			return
		}
		if s.Cfg.DryRun {
			log.Debug().Str("id", key).Bool("update", doc.Rev != "").Msg("dry run, not uploading")
			return
		}
		if err := s.Dest.Save(ctx, doc); err != nil {
			log.Error().Err(err).Str("id", key).Msg("upload failed")
			res.add(&res.failed, key)
			return
		}
		log.Debug().Str("id", key).Bool("update", doc.Rev != "").Msg("uploaded")
		res.add(&res.uploaded, key)
	})
	return res
}

// backfill builds documents chunk by chunk and writes each chunk with one bulk call.
// Any build failure other than a missing incident, and any refused document, stops the run
func (s *Service) backfill(ctx context.Context, ids []int) *outcome {
	res := &outcome{}
	log := runLog(ctx)

	for start := 0; start < len(ids); start += s.Cfg.BulkSize {
		chunk := ids[start:min(start+s.Cfg.BulkSize, len(ids))]

		var mu sync.Mutex
		docs := make(map[int]domain.SyncDocument, len(chunk))
		s.forEach(ctx, chunk, func(ctx context.Context, n int) {
			if res.failing() {
				return
			}
			doc, err := s.Build(ctx, n)
			if perr.IsNotFound(err) {
				log.Warn().Int("incident", n).Msg("incident number not found during backfill, skipped")
				res.add(&res.missing, domain.DocKey(n))
				return
			}
			if err != nil {
				res.add(&res.failed, domain.DocKey(n))
				res.setFatal(err)
				return
			}
			mu.Lock()
			docs[n] = doc
			mu.Unlock()
		})
		if res.failing() {
			return res
		}

		batch := make([]domain.Doc, 0, len(docs))
		for _, n := range chunk {
			if d, ok := docs[n]; ok {
				batch = append(batch, d)
			}
		}
		if s.Cfg.DryRun || len(batch) == 0 {
			continue
		}

		refused, err := s.Dest.BulkSave(ctx, batch)
		if err != nil {
			for _, d := range batch {
				res.failed = append(res.failed, d.DocID())
			}
			res.fatal = err
			return res
		}
		if len(refused) > 0 {
			res.failed = append(res.failed, refused...)
			res.fatal = perr.Uploadf("backfill: destination refused %d of %d documents", len(refused), len(batch))
			return res
		}
		for _, d := range batch {
			res.uploaded = append(res.uploaded, d.DocID())
		}
		log.Info().Int("stored", len(res.uploaded)).Int("total", len(ids)).Msg("backfill chunk uploaded")
	}
	return res
}

func keys(ids []int) []string {
	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = domain.DocKey(n)
	}
	return out
}
