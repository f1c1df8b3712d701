// Package pdtest runs an in-memory PagerDuty API for tests
package pdtest

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	ptime "pagerflow/internal/platform/time"
	"pagerflow/internal/platform/testkit"

	"github.com/go-chi/chi/v5"
)

// Server is a fake incidents API. Offsets are start indexes into the
// created_on ascending list, and limit is capped at MaxLimit
type Server struct {
	URL      string
	MaxLimit int

	mu        sync.Mutex
	incidents map[int]map[string]any
	logs      map[int][]map[string]any
	failures  map[string]int
	refusals  map[string]int
	hits      map[string]int
	lastQuery map[string][]string
	auth      string
}

// New starts a fake server closed on test cleanup
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		MaxLimit:  100,
		incidents: map[int]map[string]any{},
		logs:      map[int][]map[string]any{},
		failures:  map[string]int{},
		refusals:  map[string]int{},
		hits:      map[string]int{},
	}
	srv := testkit.NewServer(t, func(r chi.Router) {
		r.Get("/incidents", s.list)
		r.Get("/incidents/count", s.count)
		r.Get("/incidents/{id}", s.get)
		r.Get("/incidents/{id}/log_entries", s.logEntries)
	})
	s.URL = srv.URL
	return s
}

// Incident builds a source record
func Incident(number int, status string, created, changed time.Time) map[string]any {
	return map[string]any{
		"incident_number":       number,
		"id":                    "P" + strconv.Itoa(number),
		"status":                status,
		"created_on":            ptime.FormatAPI(created),
		"last_status_change_on": ptime.FormatAPI(changed),
		"service":               map[string]any{"name": "checkout"},
	}
}

// Put stores or replaces an incident
func (s *Server) Put(inc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[number(inc)] = inc
}

// SetLog replaces the log entries of an incident
func (s *Server) SetLog(n int, entries ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[n] = entries
}

// Fail makes the next times requests to path answer 500
func (s *Server) Fail(path string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = times
}

// Refuse makes every request to path answer status
func (s *Server) Refuse(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refusals[path] = status
}

// Hits returns how many requests reached path
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// LastQuery returns the query of the most recent request
func (s *Server) LastQuery() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

// Auth returns the last Authorization header seen
func (s *Server) Auth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// enter records the request and reports whether an injected failure was served
func (s *Server) enter(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++
	s.lastQuery = r.URL.Query()
	s.auth = r.Header.Get("Authorization")
	if st := s.refusals[r.URL.Path]; st != 0 {
		w.WriteHeader(st)
		return true
	}
	if s.failures[r.URL.Path] > 0 {
		s.failures[r.URL.Path]--
		w.WriteHeader(http.StatusInternalServerError)
		return true
	}
	return false
}

// matching returns incidents created at or after since, oldest first
func (s *Server) matching(r *http.Request) []map[string]any {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, _ = ptime.ParseAPI(v)
	}
	var out []map[string]any
	for _, inc := range s.incidents {
		created, _ := ptime.ParseAPI(inc["created_on"].(string))
		if !since.IsZero() && created.Before(since) {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i]["created_on"].(string), out[j]["created_on"].(string)
		if ci != cj {
			return ci < cj
		}
		return number(out[i]) < number(out[j])
	})
	return out
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	s.mu.Lock()
	all := s.matching(r)
	maxLimit := s.MaxLimit
	s.mu.Unlock()

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset = max(offset, 0)
	lo := min(offset, len(all))
	hi := min(offset+limit, len(all))
	testkit.WriteJSON(w, http.StatusOK, map[string]any{
		"incidents": all[lo:hi],
		"total":     len(all),
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	s.mu.Lock()
	n := len(s.matching(r))
	s.mu.Unlock()
	testkit.WriteJSON(w, http.StatusOK, map[string]int{"total": n})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	n, _ := strconv.Atoi(chi.URLParam(r, "id"))
	s.mu.Lock()
	inc, ok := s.incidents[n]
	s.mu.Unlock()
	if !ok {
		testkit.WriteJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "Not Found"}})
		return
	}
	testkit.WriteJSON(w, http.StatusOK, inc)
}

func (s *Server) logEntries(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	n, _ := strconv.Atoi(chi.URLParam(r, "id"))
	s.mu.Lock()
	entries, ok := s.logs[n]
	_, exists := s.incidents[n]
	s.mu.Unlock()
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !ok {
		entries = []map[string]any{}
	}
	testkit.WriteJSON(w, http.StatusOK, map[string]any{"log_entries": entries})
}

func number(inc map[string]any) int {
	switch v := inc["incident_number"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
