package service

import (
	"context"

	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/services/sync/domain"
)

// Build assembles the document for incident n. The log is left out when it cannot be built;
// a failed revision lookup fails the build since create and update cannot be told apart
func (s *Service) Build(ctx context.Context, n int) (domain.SyncDocument, error) {
	inc, err := s.Source.Incident(ctx, n)
	if err != nil {
		return domain.SyncDocument{}, perr.Wrapf(err, perr.CodeOf(err), "fetch incident %d", n)
	}
	doc := domain.SyncDocument{Incident: inc}

	if log, err := s.BuildLog(ctx, inc.Number); err != nil {
		runLog(ctx).Warn().Err(err).Int("incident", inc.Number).Msg("log unavailable, document stored without it")
	} else {
		doc.Log, doc.HasLog = log, true
	}

	rev, found, err := s.Dest.Revision(ctx, doc.DocID())
	if err != nil {
		return domain.SyncDocument{}, perr.Wrapf(err, perr.CodeOf(err), "revision of %s", doc.DocID())
	}
	if found {
		doc.Rev = rev
	}
	return doc, nil
}
