// Package domain holds the types and ports of the incident sync
package domain

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"pagerflow/internal/adapters/couchdb"
	"pagerflow/internal/adapters/pagerduty"
	ptime "pagerflow/internal/platform/time"
)

type (
	// Incident re-exports the source incident shape
	Incident = pagerduty.Incident

	// LogEntry re-exports the source log entry shape
	LogEntry = pagerduty.LogEntry

	// Doc is anything the destination stores under a key
	Doc = couchdb.Doc

	// ViewRow is one row of the destination's unresolved view
	ViewRow = couchdb.ViewRow
)

// Mode says how a run chose its incidents
type Mode string

const (
	// ModeBackfill ingests every incident; used when no run was ever recorded
	ModeBackfill Mode = "backfill"

	// ModeIncremental syncs the unresolved view diff plus the since window
	ModeIncremental Mode = "incremental"
)

const keyPrefix = "pd:"

// DocKey is the destination key of incident n
func DocKey(n int) string { return keyPrefix + strconv.Itoa(n) }

// ParseDocKey returns the incident number of a key like "pd:42"
func ParseDocKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(key), keyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IDSet is an unordered set of incident numbers
type IDSet map[int]struct{}

// Add inserts n
func (s IDSet) Add(n int) { s[n] = struct{}{} }

// Has reports whether n is in the set
func (s IDSet) Has(n int) bool {
	_, ok := s[n]
	return ok
}

// Len returns the set size
func (s IDSet) Len() int { return len(s) }

// Sorted returns the members in ascending order
func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// ChangeSet is what one run has to sync
type ChangeSet struct {
	IDs IDSet

	// ViewUpdates is how many ids the unresolved view contributed, counted before
	// the since window was merged in
	ViewUpdates int

	Backfill bool
}

// NewUpdates is the set size minus the view contribution. It undercounts when
// an incident came from both paths
func (c ChangeSet) NewUpdates() int { return c.IDs.Len() - c.ViewUpdates }

// SyncDocument is the unit of persistence: the incident fields plus the key,
// the revision when overwriting, the duration when resolved and the enriched log
type SyncDocument struct {
	Incident Incident
	Rev      string
	Log      []LogEntry
	HasLog   bool
}

// DocID returns the destination key
func (d SyncDocument) DocID() string { return DocKey(d.Incident.Number) }

// MarshalJSON flattens the document into the shape the destination stores
func (d SyncDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Incident.Fields)+4)
	for k, v := range d.Incident.Fields {
		out[k] = v
	}
	out["_id"] = d.DocID()
	if d.Rev != "" {
		out["_rev"] = d.Rev
	}
	if secs, ok := d.Incident.Duration(); ok {
		out["duration"] = secs
	}
	if d.HasLog {
		log := d.Log
		if log == nil {
			log = []LogEntry{}
		}
		out["log_entries"] = log
	}
	return json.Marshal(out)
}

// RunRecord is one ledger entry
type RunRecord struct {
	Index      int    `json:"index"`
	RunID      string `json:"run_id,omitempty"`
	Mode       Mode   `json:"mode,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`

	NewIncidents              int `json:"new_incidents"`
	TotalUpdates              int `json:"total_updates"`
	UpdatesFromUnresolvedView int `json:"updates_from_unresolved_view"`

	UpdatedIncidents []string `json:"updated_incidents,omitempty"`
	FailedIncidents  []string `json:"failed_incidents,omitempty"`
}

// Ledger is the run journal plus the last successful run watermark
type Ledger struct {
	LastRun            int64       `json:"last_run"`
	NumberOfExecutions int         `json:"number_of_executions"`
	History            []RunRecord `json:"history"`
}

// Watermark returns the last run start, zero when no run was recorded
func (l Ledger) Watermark() time.Time { return ptime.FromEpoch(l.LastRun) }

// Append returns l with rec added as the next entry; the watermark moves to rec's start
func (l Ledger) Append(rec RunRecord) Ledger {
	rec.Index = len(l.History) + 1
	out := Ledger{
		LastRun:            rec.StartedAt,
		NumberOfExecutions: rec.Index,
		History:            make([]RunRecord, 0, rec.Index),
	}
	out.History = append(out.History, l.History...)
	out.History = append(out.History, rec)
	return out
}

// Summary is what a run reports when it ends
type Summary struct {
	RunID  string
	Mode   Mode
	DryRun bool

	StartedAt  time.Time
	FinishedAt time.Time

	// Watermark is the bound the run detected changes from
	Watermark time.Time

	NewIncidents int
	ViewUpdates  int
	TotalUpdates int

	Uploaded int

	// Failed lists keys that were not stored, sorted
	Failed []string

	// Missing lists keys the source no longer has, sorted
	Missing []string

	// Index is the ledger position of this run, 0 when nothing was recorded
	Index int
}
