package store

import (
	"context"
	"errors"
	"testing"

	perr "pagerflow/internal/platform/errors"
)

type fakeTag int64

func (f fakeTag) String() string      { return "UPDATE" }
func (f fakeTag) RowsAffected() int64 { return int64(f) }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *int64:
			*d = r.vals[i].(int64)
		case *string:
			*d = r.vals[i].(string)
		}
	}
	return nil
}

type fakeRows struct {
	data []fakeRow
	idx  int
}

func (r *fakeRows) Next() bool             { r.idx++; return r.idx <= len(r.data) }
func (r *fakeRows) Scan(dest ...any) error { return r.data[r.idx-1].Scan(dest...) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

type fakeQuerier struct {
	affected int64
	execErr  error
	rows     []fakeRow
	row      fakeRow
}

func (f *fakeQuerier) Exec(context.Context, string, ...any) (CommandTag, error) {
	return fakeTag(f.affected), f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (Rows, error) {
	return &fakeRows{data: f.rows}, nil
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) Row { return f.row }

func scanID(r Row) (int64, error) {
	var id int64
	err := r.Scan(&id)
	return id, err
}

func TestExecOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := ExecOne(ctx, &fakeQuerier{affected: 1}, "UPDATE x"); err != nil {
		t.Fatalf("ExecOne(1 row) = %v", err)
	}
	if err := ExecOne(ctx, &fakeQuerier{affected: 0}, "UPDATE x"); err == nil {
		t.Fatalf("expected error for 0 rows")
	}
	boom := errors.New("boom")
	if err := ExecOne(ctx, &fakeQuerier{execErr: boom}, "UPDATE x"); !errors.Is(err, boom) {
		t.Fatalf("expected exec error passthrough, got %v", err)
	}
}

func TestManyAndOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := &fakeQuerier{rows: []fakeRow{{vals: []any{int64(1)}}, {vals: []any{int64(2)}}}}
	ids, err := Many(ctx, q, scanID, "SELECT id")
	if err != nil || len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("Many = %v, %v", ids, err)
	}

	if _, err := One(ctx, q, scanID, "SELECT id"); err == nil {
		t.Fatalf("One should reject two rows")
	}
	if _, err := One(ctx, &fakeQuerier{}, scanID, "SELECT id"); !perr.IsNotFound(err) {
		t.Fatalf("One on empty = %v, want not found", err)
	}
	id, err := One(ctx, &fakeQuerier{rows: []fakeRow{{vals: []any{int64(7)}}}}, scanID, "SELECT id")
	if err != nil || id != 7 {
		t.Fatalf("One = %d, %v", id, err)
	}
}
