package service

import (
	"context"
	"maps"
	"time"

	"pagerflow/internal/core/tz"
	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/services/sync/domain"
)

// actorFields maps a log entry type to the field holding the user who acted
var actorFields = map[string]string{
	"assign":      "assigned_user",
	"notify":      "user",
	"acknowledge": "agent",
	"resolve":     "agent",
	"escalate":    "agent",
	"annotate":    "agent",
}

// BuildLog fetches the activity log of incident n and enriches every entry.
// Any failure fails the whole log
func (s *Service) BuildLog(ctx context.Context, n int) ([]domain.LogEntry, error) {
	entries, err := s.Source.LogEntries(ctx, n)
	if err != nil {
		return nil, perr.Wrapf(err, perr.CodeOf(err), "log entries of incident %d", n)
	}
	out := make([]domain.LogEntry, 0, len(entries))
	for i, e := range entries {
		ee, err := s.enrich(e)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeEnrichment, "incident %d log entry %d (%s)", n, i, e.Type)
		}
		out = append(out, ee)
	}
	return out, nil
}

// enrich returns a copy of e with the derived fields set
func (s *Service) enrich(e domain.LogEntry) (domain.LogEntry, error) {
	e.Fields = maps.Clone(e.Fields)

	if e.Type == "trigger" {
		if ch, ok := e.Object("channel"); ok && ch["type"] == "email" {
			body, _ := ch["body"].(string)
			e.Fields["untagged_body"] = s.Norm.Untag(body)
		}
		return e, nil
	}

	field, ok := actorFields[e.Type]
	if !ok {
		return e, nil
	}
	actor, ok := e.Object(field)
	if !ok {
		return e, nil
	}
	name, _ := actor["time_zone"].(string)
	if name == "" || e.CreatedAt.IsZero() {
		return e, nil
	}
	zone, err := tz.Resolve(name)
	if err != nil {
		return domain.LogEntry{}, err
	}
	e.Fields["local_created_at"] = zone.Local(e.CreatedAt).Format(time.RFC3339)
	return e, nil
}
