package pagerduty

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pnet "pagerflow/internal/platform/net"
	ptime "pagerflow/internal/platform/time"
)

// FetchPage lists incidents at offset, oldest first within the page
// limit <= 0 sends the configured page size
func (c *Client) FetchPage(ctx context.Context, offset, limit int, since *time.Time) (Page, error) {
	if limit <= 0 {
		limit = c.opts.PageSize
	}
	q := c.query(since)
	q.Set("sort_by", "created_on:asc")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var page Page
	_, err := c.http.Do(ctx, pnet.Request{
		Path:   "/incidents",
		Query:  q,
		Decode: func(b []byte) error { page = Page{}; return json.Unmarshal(b, &page) },
	})
	if err != nil {
		return Page{}, err
	}
	if page.Offset == 0 {
		page.Offset = offset
	}
	return page, nil
}

// Count returns how many incidents match since
func (c *Client) Count(ctx context.Context, since *time.Time) (int, error) {
	var out countResponse
	_, err := c.http.Do(ctx, pnet.Request{
		Path:   "/incidents/count",
		Query:  c.query(since),
		Decode: func(b []byte) error { return json.Unmarshal(b, &out) },
	})
	if err != nil {
		return 0, err
	}
	return out.Total, nil
}

// Incident fetches one incident by number; a missing incident is perr.ErrorCodeNotFound
func (c *Client) Incident(ctx context.Context, number int) (Incident, error) {
	var out Incident
	_, err := c.http.Do(ctx, pnet.Request{
		Path:   "/incidents/" + strconv.Itoa(number),
		Query:  c.query(nil),
		Decode: func(b []byte) error { return json.Unmarshal(b, &out) },
	})
	if err != nil {
		return Incident{}, err
	}
	return out, nil
}

// LogEntries fetches the activity log of one incident in the order the API returns it
func (c *Client) LogEntries(ctx context.Context, number int) ([]LogEntry, error) {
	var out logEntriesResponse
	_, err := c.http.Do(ctx, pnet.Request{
		Path:   "/incidents/" + strconv.Itoa(number) + "/log_entries",
		Query:  c.query(nil),
		Decode: func(b []byte) error { out = logEntriesResponse{}; return json.Unmarshal(b, &out) },
	})
	if err != nil {
		return nil, err
	}
	return out.LogEntries, nil
}

// query builds the parameters every call carries
func (c *Client) query(since *time.Time) url.Values {
	q := url.Values{}
	for _, inc := range c.opts.Include {
		q.Add("include[]", inc)
	}
	if since != nil && !since.IsZero() {
		q.Set("since", ptime.FormatAPI(*since))
	} else {
		q.Set("date_range", "all")
	}
	return q
}
