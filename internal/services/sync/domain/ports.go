package domain

import (
	"context"
	"time"
)

// RunnerPort is the public port exposed by the module
type RunnerPort interface {
	Run(ctx context.Context) (Summary, error)
}

// IncidentStream is a forward only walk; Next returns io.EOF when done
type IncidentStream interface {
	Next(ctx context.Context) (Incident, error)
}

// Source is read access to the incident API
type Source interface {
	Count(ctx context.Context, since *time.Time) (int, error)
	Incident(ctx context.Context, number int) (Incident, error)
	LogEntries(ctx context.Context, number int) ([]LogEntry, error)
	Stream(since *time.Time) IncidentStream
}

// Destination is the document store
type Destination interface {
	// Revision returns the current revision; found is false only when the key is confirmed absent
	Revision(ctx context.Context, key string) (rev string, found bool, err error)
	Save(ctx context.Context, doc Doc) error
	// BulkSave returns the keys the store refused
	BulkSave(ctx context.Context, docs []Doc) ([]string, error)
	Unresolved(ctx context.Context) ([]ViewRow, error)
}

// LedgerRepo persists the run journal
type LedgerRepo interface {
	// Load returns the ledger. An unreadable journal returns an empty Ledger
	// together with an ErrorCodeLedgerCorrupt error
	Load(ctx context.Context) (Ledger, error)

	// Append records rec as the next run and returns the updated ledger
	Append(ctx context.Context, rec RunRecord) (Ledger, error)
}

// Normalizer cleans an HTML message body to plain text
type Normalizer interface {
	Untag(s string) string
}
