// Package couchtest runs an in-memory CouchDB database for tests
package couchtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"

	"pagerflow/internal/platform/testkit"

	"github.com/go-chi/chi/v5"
)

// ViewPath is where the fake serves the unresolved view, relative to DBURL
const ViewPath = "_design/incidents/_view/unresolved"

// Server is a fake database named "incidents" with revisioned writes
// and an unresolved view over stored docs whose status is not resolved
type Server struct {
	URL   string
	DBURL string

	mu       sync.Mutex
	docs     map[string]map[string]any
	revs     map[string]int
	failures map[string]int
	rejects  map[string]bool
	lostAcks map[string]int
	hits     map[string]int
}

// New starts a fake server closed on test cleanup
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		docs:     map[string]map[string]any{},
		revs:     map[string]int{},
		failures: map[string]int{},
		rejects:  map[string]bool{},
		lostAcks: map[string]int{},
		hits:     map[string]int{},
	}
	srv := testkit.NewServer(t, func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", s.save)
			r.Post("/_bulk_docs", s.bulk)
			r.Get("/"+ViewPath, s.view)
			r.Head("/{id}", s.head)
			r.Get("/{id}", s.get)
		})
	})
	s.URL = srv.URL
	s.DBURL = srv.URL + "/incidents"
	return s
}

// Seed stores doc as if it had been uploaded before and returns its revision
func (s *Server) Seed(doc map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := doc["_id"].(string)
	return s.store(id, doc)
}

// Doc returns a stored doc
func (s *Server) Doc(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

// Rev returns the current revision of id
func (s *Server) Rev(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev(id)
}

// Len returns the number of stored docs
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Fail makes the next times requests to method+path answer 500, e.g. "POST /incidents"
func (s *Server) Fail(route string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = times
}

// Reject makes every write of id answer 500
func (s *Server) Reject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[id] = true
}

// LoseAck makes the next times single-doc writes of id commit but answer 503
func (s *Server) LoseAck(id string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lostAcks[id] = times
}

// Hits returns how many requests reached method+path
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

func (s *Server) enter(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	route := r.Method + " " + r.URL.Path
	s.hits[route]++
	if s.failures[route] > 0 {
		s.failures[route]--
		w.WriteHeader(http.StatusInternalServerError)
		return true
	}
	return false
}

func (s *Server) rev(id string) string {
	n, ok := s.revs[id]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d-%08x", n, n*2654435761%(1<<32))
}

// store writes doc under id and bumps the revision; callers hold mu
func (s *Server) store(id string, doc map[string]any) string {
	cp := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		cp[k] = v
	}
	s.revs[id]++
	cp["_rev"] = s.rev(id)
	s.docs[id] = cp
	return cp["_rev"].(string)
}

// write applies the conditional write rules; callers hold mu
func (s *Server) write(doc map[string]any) (rev string, status int, reason string) {
	id, _ := doc["_id"].(string)
	if id == "" {
		return "", http.StatusBadRequest, "missing _id"
	}
	if s.rejects[id] {
		return "", http.StatusInternalServerError, "rejected"
	}
	given, _ := doc["_rev"].(string)
	if given != s.rev(id) {
		return "", http.StatusConflict, "Document update conflict."
	}
	return s.store(id, doc), http.StatusCreated, ""
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		testkit.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	s.mu.Lock()
	rev, status, reason := s.write(doc)
	id, _ := doc["_id"].(string)
	lost := status == http.StatusCreated && s.lostAcks[id] > 0
	if lost {
		s.lostAcks[id]--
	}
	s.mu.Unlock()
	if lost {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if status != http.StatusCreated {
		testkit.WriteJSON(w, status, map[string]string{"error": http.StatusText(status), "reason": reason})
		return
	}
	testkit.WriteJSON(w, status, map[string]any{"ok": true, "id": doc["_id"], "rev": rev})
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	var req struct {
		Docs []map[string]any `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		testkit.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	s.mu.Lock()
	out := make([]map[string]any, 0, len(req.Docs))
	for _, d := range req.Docs {
		rev, status, reason := s.write(d)
		if status != http.StatusCreated {
			out = append(out, map[string]any{"id": d["_id"], "error": http.StatusText(status), "reason": reason})
			continue
		}
		out = append(out, map[string]any{"ok": true, "id": d["_id"], "rev": rev})
	}
	s.mu.Unlock()
	testkit.WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) head(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	s.mu.Lock()
	rev := s.rev(chi.URLParam(r, "id"))
	s.mu.Unlock()
	if rev == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", `"`+rev+`"`)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	s.mu.Lock()
	d, ok := s.docs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		testkit.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	testkit.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	if s.enter(w, r) {
		return
	}
	s.mu.Lock()
	rows := []map[string]any{}
	for id, d := range s.docs {
		if d["status"] == "resolved" {
			continue
		}
		rows = append(rows, map[string]any{"id": id, "key": id, "value": d["last_status_change_on"]})
	}
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i]["id"].(string) < rows[j]["id"].(string) })
	testkit.WriteJSON(w, http.StatusOK, map[string]any{"total_rows": len(rows), "offset": 0, "rows": rows})
}
