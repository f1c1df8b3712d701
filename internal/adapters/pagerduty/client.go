// Package pagerduty reads incidents and their log entries from the PagerDuty v1 REST API
package pagerduty

import (
	"net/http"
	"strings"
	"time"

	pnet "pagerflow/internal/platform/net"
	"pagerflow/internal/platform/logger"
)

const (
	defaultAuthScheme = "Token token="
	defaultPageSize   = 100
)

// Options configures the Client
type Options struct {
	BaseURL string
	Token   string

	// AuthScheme prefixes the token in the Authorization header
	AuthScheme string

	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	RPS         float64
	Burst       int

	// PageSize is the limit sent with list calls; the server may answer with its own
	PageSize int

	// Include is sent as include[] on every call
	Include []string
}

// Client is a retrying PagerDuty reader
type Client struct {
	http *pnet.Client
	opts Options
	log  logger.Logger
}

// NewClient creates a new Client with defaults applied
func NewClient(o Options) *Client {
	if o.AuthScheme == "" {
		o.AuthScheme = defaultAuthScheme
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	auth := o.AuthScheme + o.Token
	return &Client{
		http: pnet.NewClient(pnet.Options{
			Name:        "pagerduty",
			BaseURL:     strings.TrimRight(o.BaseURL, "/"),
			Timeout:     o.Timeout,
			MaxAttempts: o.MaxAttempts,
			RetryBase:   o.RetryBase,
			RPS:         o.RPS,
			Burst:       o.Burst,
			Authorize:   func(r *http.Request) { r.Header.Set("Authorization", auth) },
		}),
		opts: o,
		log:  *logger.Named("pagerduty"),
	}
}
