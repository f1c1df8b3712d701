package pagerduty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	ptime "pagerflow/internal/platform/time"
)

// Status values an incident moves through
const (
	StatusTriggered    = "triggered"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Incident is one fetched incident. Fields keeps every source field verbatim;
// the typed fields are parsed copies used for derivations
type Incident struct {
	Number             int
	Status             string
	CreatedOn          time.Time
	LastStatusChangeOn time.Time
	Fields             map[string]any
}

// Resolved reports whether the incident is closed
func (i Incident) Resolved() bool { return i.Status == StatusResolved }

// Duration is the seconds between creation and resolution; ok is false unless resolved
func (i Incident) Duration() (int64, bool) {
	if !i.Resolved() || i.CreatedOn.IsZero() || i.LastStatusChangeOn.IsZero() {
		return 0, false
	}
	return ptime.Epoch(i.LastStatusChangeOn) - ptime.Epoch(i.CreatedOn), true
}

// UnmarshalJSON keeps the raw bag and lifts the fields we derive from
func (i *Incident) UnmarshalJSON(b []byte) error {
	m, err := decodeBag(b)
	if err != nil {
		return err
	}
	n, ok := intField(m, "incident_number")
	if !ok {
		return fmt.Errorf("incident without incident_number")
	}
	out := Incident{Number: n, Fields: m}
	out.Status, _ = m["status"].(string)
	if out.CreatedOn, err = timeField(m, "created_on"); err != nil {
		return err
	}
	if out.LastStatusChangeOn, err = timeField(m, "last_status_change_on"); err != nil {
		return err
	}
	*i = out
	return nil
}

// MarshalJSON writes the source fields back out
func (i Incident) MarshalJSON() ([]byte, error) { return json.Marshal(i.Fields) }

// LogEntry is one activity record of an incident
type LogEntry struct {
	Type      string
	CreatedAt time.Time
	Fields    map[string]any
}

// UnmarshalJSON keeps the raw bag and lifts type and created_at
func (e *LogEntry) UnmarshalJSON(b []byte) error {
	m, err := decodeBag(b)
	if err != nil {
		return err
	}
	out := LogEntry{Fields: m}
	out.Type, _ = m["type"].(string)
	if out.CreatedAt, err = timeField(m, "created_at"); err != nil {
		return err
	}
	*e = out
	return nil
}

// MarshalJSON writes the fields, derived ones included
func (e LogEntry) MarshalJSON() ([]byte, error) { return json.Marshal(e.Fields) }

// Object returns the nested object under key, if any
func (e LogEntry) Object(key string) (map[string]any, bool) {
	o, ok := e.Fields[key].(map[string]any)
	return o, ok
}

// Page is one list response
type Page struct {
	Incidents []Incident `json:"incidents"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

type countResponse struct {
	Total int `json:"total"`
}

type logEntriesResponse struct {
	LogEntries []LogEntry `json:"log_entries"`
}

// decodeBag decodes an object keeping numbers exact
func decodeBag(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return m, nil
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case float64:
		return int(v), true
	}
	return 0, false
}

// timeField parses an optional timestamp; absent or null is the zero time
func timeField(m map[string]any, key string) (time.Time, error) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := ptime.ParseAPI(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}
