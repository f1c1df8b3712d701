package pg

import (
	"context"
	"errors"
	"testing"

	"pagerflow/internal/platform/testkit"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerDSN = "postgres://pagerflow:secret@db:5432/ledger?sslmode=disable"

func TestOpen_RejectsBadDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{URL: "postgres://%zz"}, nil, nil); err == nil {
		t.Fatal("want a parse error")
	}
}

func TestOpen_PoolFailureSurfaces(t *testing.T) {
	testkit.Serial(t)
	boom := errors.New("pool refused")
	testkit.Swap(t, &newPool, func(context.Context, *pgxpool.Config) (*pgxpool.Pool, error) {
		return nil, boom
	})

	if _, err := Open(context.Background(), Config{URL: ledgerDSN}, nil, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpen_AppliesLedgerSettings(t *testing.T) {
	testkit.Serial(t)
	var seen *pgxpool.Config
	testkit.Swap(t, &newPool, func(_ context.Context, pc *pgxpool.Config) (*pgxpool.Pool, error) {
		seen = pc
		return &pgxpool.Pool{}, nil
	})

	cfg := Config{URL: ledgerDSN, MaxConns: 2, SlowMs: 250, AppName: "pagerflow"}
	mutated := false
	p, err := Open(context.Background(), cfg, nil, func(*pgxpool.Config) { mutated = true })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !mutated {
		t.Fatal("pool config mutator not called")
	}
	if seen.MaxConns != 2 {
		t.Fatalf("MaxConns = %d", seen.MaxConns)
	}
	if got := seen.ConnConfig.RuntimeParams["application_name"]; got != "pagerflow" {
		t.Fatalf("application_name = %q", got)
	}
	if p.SlowMs != 250 || p.Pool == nil {
		t.Fatalf("client = %+v", p)
	}
}

func TestClose_ToleratesNil(t *testing.T) {
	t.Parallel()
	var p *PG
	p.Close()
	(&PG{}).Close()
}
