package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	perr "pagerflow/internal/platform/errors"
	ptime "pagerflow/internal/platform/time"
	"pagerflow/internal/services/sync/domain"
)

// Detect computes the incidents a run must sync. A zero watermark means no run
// was ever recorded and selects every incident from 1 through Count()
func (s *Service) Detect(ctx context.Context, watermark int64) (domain.ChangeSet, error) {
	if watermark == 0 {
		n, err := s.Source.Count(ctx, nil)
		if err != nil {
			return domain.ChangeSet{}, perr.Wrapf(err, perr.CodeOf(err), "backfill count")
		}
		ids := make(domain.IDSet, n)
		for i := 1; i <= n; i++ {
			ids.Add(i)
		}
		return domain.ChangeSet{IDs: ids, Backfill: true}, nil
	}

	ids := domain.IDSet{}
	if err := s.viewUpdates(ctx, ids); err != nil {
		return domain.ChangeSet{}, err
	}
	viewUpdates := ids.Len()

	since := ptime.FromEpoch(watermark)
	stream := s.Source.Stream(&since)
	for {
		inc, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.ChangeSet{}, perr.Wrapf(err, perr.CodeOf(err), "scan incidents since %s", ptime.FormatAPI(since))
		}
		ids.Add(inc.Number)
	}

	runLog(ctx).Info().
		Int("view_updates", viewUpdates).
		Int("new_updates", ids.Len()-viewUpdates).
		Int("total", ids.Len()).
		Msg("changes detected")
	return domain.ChangeSet{IDs: ids, ViewUpdates: viewUpdates}, nil
}

// viewUpdates adds every unresolved view row whose incident moved since the destination last saw it.
// An incident whose fetch outcome is unknown is added too; a confirmed 404 drops it
// and any other refusal aborts detection
func (s *Service) viewUpdates(ctx context.Context, ids domain.IDSet) error {
	rows, err := s.Dest.Unresolved(ctx)
	if err != nil {
		return perr.Wrapf(err, perr.CodeOf(err), "read unresolved view")
	}
	log := runLog(ctx)
	for _, row := range rows {
		n, ok := domain.ParseDocKey(row.ID)
		if !ok {
			log.Warn().Str("id", row.ID).Msg("unresolved view row without an incident key, skipped")
			continue
		}

		known, kerr := viewTime(row.Value)
		inc, err := s.Source.Incident(ctx, n)
		switch {
		case perr.IsNotFound(err):
			log.Warn().Int("incident", n).Msg("incident in unresolved view is gone from the source")
		case perr.IsUnknownOutcome(err):
			log.Warn().Err(err).Int("incident", n).Msg("incident fetch failed, syncing it anyway")
			ids.Add(n)
		case err != nil:
			// a definite refusal (auth, bad request) will refuse every other call too
			return perr.Wrapf(err, perr.CodeOf(err), "fetch incident %d from unresolved view", n)
		case kerr != nil:
			log.Warn().Err(kerr).Int("incident", n).Msg("unresolved view value unreadable, syncing it anyway")
			ids.Add(n)
		case known.Before(inc.LastStatusChangeOn):
			ids.Add(n)
		}
	}
	return nil
}

// viewTime reads the status change time a view row carries
func viewTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("view value %v is not a timestamp", v)
	}
	return ptime.ParseAPI(s)
}
