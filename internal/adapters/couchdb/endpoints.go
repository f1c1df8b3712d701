package couchdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	perr "pagerflow/internal/platform/errors"
	pnet "pagerflow/internal/platform/net"
)

// ViewRow is one row of a view; Value is whatever the map function emitted
type ViewRow struct {
	ID    string `json:"id"`
	Key   any    `json:"key"`
	Value any    `json:"value"`
}

type viewResponse struct {
	Rows []ViewRow `json:"rows"`
}

type bulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Revision returns the current revision of key. found is false only on a confirmed 404;
// any other failure is returned as an error and says nothing about existence
func (c *Client) Revision(ctx context.Context, key string) (rev string, found bool, err error) {
	resp, err := c.http.Do(ctx, pnet.Request{Method: http.MethodHead, Path: url.PathEscape(key)})
	if perr.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	rev = strings.Trim(resp.Header.Get("ETag"), `"`)
	if rev == "" {
		return "", false, perr.Newf(perr.ErrorCodeJSON, "couchdb HEAD %s: no ETag", key)
	}
	return rev, true, nil
}

// Save posts one document; a conditional update when it carries _rev
func (c *Client) Save(ctx context.Context, doc Doc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "couchdb encode %s", doc.DocID())
	}
	_, err = c.http.Do(ctx, pnet.Request{
		Method: http.MethodPost,
		Body:   body,
		Accept: []int{http.StatusCreated, http.StatusAccepted},
	})
	if err != nil && pnet.StatusOf(err) == http.StatusConflict && pnet.Replayed(err) {
		err = c.settleReplay(ctx, doc.DocID(), body, err)
	}
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUpload, "couchdb save %s", doc.DocID())
	}
	return nil
}

// settleReplay decides a conflict drawn by a resent write. An earlier send that
// landed leaves the doc exactly one generation past the revision we wrote against
func (c *Client) settleReplay(ctx context.Context, key string, body []byte, conflict error) error {
	var sent struct {
		Rev string `json:"_rev"`
	}
	_ = json.Unmarshal(body, &sent)

	cur, found, err := c.Revision(ctx, key)
	if err != nil {
		return perr.Wrapf(err, perr.CodeOf(err), "recheck %s after replayed write", key)
	}
	if !found || revGeneration(cur) != revGeneration(sent.Rev)+1 {
		return conflict
	}
	c.log.Warn().Str("id", key).Str("rev", cur).Msg("replayed write conflicted with its own earlier send; treating as stored")
	return nil
}

// revGeneration reads N from an "N-hash" revision; 0 for none
func revGeneration(rev string) int {
	n, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	g, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return g
}

// BulkSave posts docs in one _bulk_docs call and returns the keys the database refused.
// A failed call returns an error and no keys; every doc is then in doubt
func (c *Client) BulkSave(ctx context.Context, docs []Doc) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"docs": docs})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "couchdb encode bulk")
	}
	var results []bulkResult
	_, err = c.http.Do(ctx, pnet.Request{
		Method: http.MethodPost,
		Path:   "_bulk_docs",
		Body:   body,
		Accept: []int{http.StatusCreated, http.StatusAccepted},
		Decode: func(b []byte) error { results = nil; return json.Unmarshal(b, &results) },
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUpload, "couchdb bulk save of %d docs", len(docs))
	}

	ok := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Error != "" {
			c.log.Warn().Str("id", r.ID).Str("error", r.Error).Str("reason", r.Reason).Msg("couchdb bulk doc refused")
			continue
		}
		ok[r.ID] = true
	}
	var failed []string
	for _, d := range docs {
		if !ok[d.DocID()] {
			failed = append(failed, d.DocID())
		}
	}
	return failed, nil
}

// Unresolved reads the unresolved incidents view
func (c *Client) Unresolved(ctx context.Context) ([]ViewRow, error) {
	if c.opts.UnresolvedView == "" {
		return nil, perr.InvalidArgf("couchdb unresolved view is not configured")
	}
	var out viewResponse
	_, err := c.http.Do(ctx, pnet.Request{
		Path:   c.opts.UnresolvedView,
		Decode: func(b []byte) error { out = viewResponse{}; return json.Unmarshal(b, &out) },
	})
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}
