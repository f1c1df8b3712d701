// Package net provides the retrying HTTP client the source and destination adapters share
package net

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"pagerflow/internal/core/version"
	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/logger"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 10
	maxBackoff         = 30 * time.Second
	maxBody            = 64 << 20
)

// Options configures a Client
type Options struct {
	// Name tags log lines and error messages, e.g. "pagerduty"
	Name    string
	BaseURL string
	Timeout time.Duration

	// MaxAttempts bounds every call, first try included
	MaxAttempts int

	// RetryBase is the first backoff step, doubled per attempt
	// zero re-issues immediately
	RetryBase time.Duration

	// RPS and Burst gate every attempt when RPS > 0
	RPS   float64
	Burst int

	UserAgent string

	// Authorize stamps credentials on each outgoing request
	Authorize func(*http.Request)
}

// Request is one logical call; the client may send it several times
type Request struct {
	Method string
	// Path is joined to BaseURL unless it is already absolute
	Path  string
	Query url.Values
	Body  []byte

	// Accept lists the success statuses, default 200
	Accept []int

	// Decode runs on a success body; an error counts as a transport failure and is retried
	Decode func([]byte) error
}

// Response is the final accepted response with its body read
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client issues requests with bounded retries, rate limiting and status mapping
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	log     logger.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewClient creates a Client with defaults applied
func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.UserAgent == "" {
		o.UserAgent = version.UserAgent()
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")

	c := &Client{
		http:  &http.Client{Timeout: o.Timeout},
		opts:  o,
		log:   *logger.Named(o.Name),
		sleep: sleepCtx,
	}
	if o.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(o.RPS), max(o.Burst, 1))
	}
	return c
}

// URL resolves a path against BaseURL
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.opts.BaseURL
	}
	return c.opts.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// Do sends r until it is accepted, refused or the attempt budget runs out.
// Transport errors, undecodable bodies, 429 and 5xx are retried. Other statuses
// return a *StatusError coded by perr.FromHTTPStatus. Exhaustion is ErrorCodeUnavailable
func (c *Client) Do(ctx context.Context, r Request) (Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	u := c.URL(r.Path)
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	accept := r.Accept
	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}

	var last error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s %s: rate limiter", c.opts.Name, method, r.Path)
			}
		}

		resp, wait, err := c.once(ctx, method, u, r, accept)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, perr.Wrapf(ctx.Err(), perr.ErrorCodeUnavailable, "%s %s %s: canceled", c.opts.Name, method, r.Path)
		}
		if !retryable(err) {
			var se *StatusError
			if errors.As(err, &se) {
				se.Attempt = attempt
			}
			return Response{}, err
		}
		last = err
		if attempt == c.opts.MaxAttempts {
			break
		}

		if wait <= 0 {
			wait = c.backoff(attempt)
		}
		c.log.Warn().Err(err).Str("method", method).Str("path", r.Path).
			Int("attempt", attempt).Dur("retry_in", wait).Msgf("%s call failed, retrying", c.opts.Name)
		if wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return Response{}, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s %s: canceled", c.opts.Name, method, r.Path)
			}
		}
	}
	return Response{}, perr.Wrapf(last, perr.ErrorCodeUnavailable, "%s %s %s: gave up after %d attempts",
		c.opts.Name, method, r.Path, c.opts.MaxAttempts)
}

// once performs a single attempt; wait is a server requested delay before the next one
func (c *Client) once(ctx context.Context, method, u string, r Request, accept []int) (Response, time.Duration, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return Response{}, 0, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "%s new request", c.opts.Name)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Authorize != nil {
		c.opts.Authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s %s", c.opts.Name, method, r.Path)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	_ = resp.Body.Close()
	if err != nil {
		return Response{}, 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s %s: read body", c.opts.Name, method, r.Path)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", r.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Int("bytes", len(b)).
		Msgf("%s http response", c.opts.Name)

	if slices.Contains(accept, resp.StatusCode) {
		if r.Decode != nil {
			if err := r.Decode(b); err != nil {
				return Response{}, 0, perr.Wrapf(err, perr.ErrorCodeJSON, "%s %s %s: decode", c.opts.Name, method, r.Path)
			}
		}
		return Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, 0, nil
	}

	se := &StatusError{Status: resp.StatusCode, Body: tail(b)}
	code := perr.FromHTTPStatus(resp.StatusCode)
	if code == perr.ErrorCodeUnknown {
		// unmapped statuses outside the accepted set are still definite refusals
		code = perr.ErrorCodeInvalidArgument
	}
	return Response{}, retryAfter(resp.Header), perr.Wrapf(se, code, "%s %s %s", c.opts.Name, method, r.Path)
}

func (c *Client) backoff(attempt int) time.Duration {
	if c.opts.RetryBase <= 0 {
		return 0
	}
	d := c.opts.RetryBase << uint(attempt-1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// retryable reports whether an attempt error is worth another attempt
func retryable(err error) bool {
	switch perr.CodeOf(err) {
	case perr.ErrorCodeUnavailable, perr.ErrorCodeTooManyRequests, perr.ErrorCodeJSON:
		return true
	}
	return false
}
