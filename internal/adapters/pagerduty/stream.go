package pagerduty

import (
	"context"
	"io"
	"time"

	perr "pagerflow/internal/platform/errors"
)

// Stream walks every incident matching a since bound, one page at a time.
// It starts at offset = Count(since) and steps the offset down by the server's limit,
// so pages arrive newest window first and each page is oldest first.
// A Stream is forward only: once Next returns io.EOF or an error it keeps returning it.
//
// The walk is weakly consistent. Incidents created while it runs shift the offsets,
// so an incident can be skipped or seen twice; callers dedupe and the next run's
// since window picks up what was skipped
type Stream struct {
	c     *Client
	since *time.Time

	started bool
	offset  int
	limit   int
	total   int
	fetched int
	last    bool // the page at offset 0 has been requested

	buf []Incident
	err error
}

// StreamAll returns a lazy stream over all incidents since the bound, nil meaning all time
func (c *Client) StreamAll(since *time.Time) *Stream {
	return &Stream{c: c, since: since, limit: c.opts.PageSize}
}

// Next returns the next incident, io.EOF when the walk is done
func (s *Stream) Next(ctx context.Context) (Incident, error) {
	for len(s.buf) == 0 {
		if s.err != nil {
			return Incident{}, s.err
		}
		s.err = s.advance(ctx)
	}
	inc := s.buf[0]
	s.buf = s.buf[1:]
	return inc, nil
}

// advance fetches the next page into buf, or returns io.EOF / the failure
func (s *Stream) advance(ctx context.Context) error {
	if !s.started {
		n, err := s.c.Count(ctx, s.since)
		if err != nil {
			return err
		}
		s.started = true
		s.offset = n
		s.total = n
		if n == 0 {
			return io.EOF
		}
	} else if done, err := s.step(); done {
		return err
	}

	page, err := s.c.FetchPage(ctx, s.offset, s.limit, s.since)
	if err != nil {
		return err
	}
	if s.offset == 0 {
		s.last = true
	}
	if page.Limit > 0 {
		s.limit = page.Limit
	}
	s.total = page.Total
	s.fetched += len(page.Incidents)
	s.buf = page.Incidents

	s.c.log.Debug().Int("offset", s.offset).Int("fetched", s.fetched).Int("total", s.total).Msg("pagerduty page")
	return nil
}

// step moves the offset to the next window. done is true when the walk should end
func (s *Stream) step() (done bool, err error) {
	if s.fetched >= s.total {
		return true, io.EOF
	}
	if s.last {
		s.c.log.Warn().Int("fetched", s.fetched).Int("total", s.total).
			Msg("pagerduty total moved during the walk, stopping at offset 0")
		return true, io.EOF
	}
	if s.limit <= 0 {
		return true, perr.Newf(perr.ErrorCodeJSON, "pagerduty page without a usable limit")
	}
	next := s.offset - s.limit
	if next < 0 {
		// final window is shorter than a page, ask only for what is left below the previous offset
		s.limit = s.offset
		next = 0
	}
	s.offset = next
	return false, nil
}
