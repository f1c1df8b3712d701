package pagerduty

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"pagerflow/internal/adapters/pagerduty/pdtest"
)

func seed(fake *pdtest.Server, n int) {
	for i := 1; i <= n; i++ {
		fake.Put(pdtest.Incident(i, StatusTriggered, t0.Add(time.Duration(i)*time.Minute), t0))
	}
}

func drain(t *testing.T, s *Stream) []int {
	t.Helper()
	var out []int
	for {
		inc, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, inc.Number)
	}
}

func TestStreamAll_Completeness(t *testing.T) {
	for _, n := range []int{1, 99, 100, 101, 250} {
		fake := pdtest.New(t)
		seed(fake, n)

		got := drain(t, newClient(fake).StreamAll(nil))
		if len(got) != n {
			t.Fatalf("n=%d: streamed %d records", n, len(got))
		}
		seen := map[int]bool{}
		for _, id := range got {
			if seen[id] {
				t.Fatalf("n=%d: incident %d streamed twice", n, id)
			}
			seen[id] = true
		}
	}
}

func TestStreamAll_ClampsFinalPage(t *testing.T) {
	fake := pdtest.New(t)
	seed(fake, 250)

	s := newClient(fake).StreamAll(nil)
	got := drain(t, s)
	if len(got) != 250 || s.fetched != 250 {
		t.Fatalf("got %d fetched %d", len(got), s.fetched)
	}
	// offsets 250, 150, 50, then 0 with limit 50
	if fake.Hits("/incidents") != 4 {
		t.Fatalf("page requests = %d", fake.Hits("/incidents"))
	}
	q := fake.LastQuery()
	if q["offset"][0] != "0" || q["limit"][0] != "50" {
		t.Fatalf("final page query = %v", q)
	}
	// each page is oldest first
	if got[0] != 151 || got[99] != 250 || got[249] != 50 {
		t.Fatalf("unexpected order head=%d tail=%d last=%d", got[0], got[99], got[249])
	}
}

func TestStreamAll_Empty(t *testing.T) {
	fake := pdtest.New(t)
	s := newClient(fake).StreamAll(nil)
	for i := 0; i < 2; i++ {
		if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("err = %v, want io.EOF", err)
		}
	}
	if fake.Hits("/incidents") != 0 {
		t.Fatalf("no page should be fetched for an empty count")
	}
}

func TestStreamAll_SinceWindow(t *testing.T) {
	fake := pdtest.New(t)
	seed(fake, 10)
	since := t0.Add(8 * time.Minute)

	got := drain(t, newClient(fake).StreamAll(&since))
	if len(got) != 3 || got[0] != 8 || got[2] != 10 {
		t.Fatalf("got %v", got)
	}
}

func TestStreamAll_FailureIsSticky(t *testing.T) {
	fake := pdtest.New(t)
	seed(fake, 5)
	fake.Fail("/incidents", 10)

	s := newClient(fake).StreamAll(nil)
	_, err := s.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if _, again := s.Next(context.Background()); again != err {
		t.Fatalf("stream should keep returning its failure, got %v", again)
	}
}
