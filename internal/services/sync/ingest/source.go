// Package ingest adapts the PagerDuty client to the sync source port
package ingest

import (
	"time"

	"pagerflow/internal/adapters/pagerduty"
	"pagerflow/internal/services/sync/domain"
)

// Source is a domain.Source over the PagerDuty client
type Source struct {
	*pagerduty.Client
}

// NewSource wraps c
func NewSource(c *pagerduty.Client) Source {
	if c == nil {
		panic("ingest.NewSource requires a non nil client")
	}
	return Source{Client: c}
}

// Stream implements domain.Source
func (s Source) Stream(since *time.Time) domain.IncidentStream { return s.StreamAll(since) }

var _ domain.Source = Source{}
