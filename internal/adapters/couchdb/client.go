// Package couchdb writes sync documents to a CouchDB database and reads its views
package couchdb

import (
	"net/http"
	"strings"
	"time"

	pnet "pagerflow/internal/platform/net"
	"pagerflow/internal/platform/logger"
)

// Options configures the Client
type Options struct {
	// DBURL is the database URL, e.g. https://couch:5984/incidents
	DBURL    string
	User     string
	Password string

	// UnresolvedView is a view URL or a path under DBURL
	UnresolvedView string

	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// Client is a retrying CouchDB client
type Client struct {
	http *pnet.Client
	opts Options
	log  logger.Logger
}

// Doc is anything stored under a document key
type Doc interface {
	DocID() string
}

// NewClient creates a new Client
func NewClient(o Options) *Client {
	o.DBURL = strings.TrimRight(o.DBURL, "/")
	var authorize func(*http.Request)
	if o.User != "" {
		user, pass := o.User, o.Password
		authorize = func(r *http.Request) { r.SetBasicAuth(user, pass) }
	}
	return &Client{
		http: pnet.NewClient(pnet.Options{
			Name:        "couchdb",
			BaseURL:     o.DBURL,
			Timeout:     o.Timeout,
			MaxAttempts: o.MaxAttempts,
			RetryBase:   o.RetryBase,
			Authorize:   authorize,
		}),
		opts: o,
		log:  *logger.Named("couchdb"),
	}
}
