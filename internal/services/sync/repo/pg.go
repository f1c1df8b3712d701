package repo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"pagerflow/internal/modkit/repokit"
	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/store"
	"pagerflow/internal/services/sync/domain"
)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS pagerflow_runs (
	idx                          integer PRIMARY KEY,
	run_id                       text    NOT NULL DEFAULT '',
	mode                         text    NOT NULL DEFAULT '',
	started_at                   bigint  NOT NULL,
	finished_at                  bigint  NOT NULL,
	new_incidents                integer NOT NULL,
	total_updates                integer NOT NULL,
	updates_from_unresolved_view integer NOT NULL,
	updated_incidents            text[],
	failed_incidents             text[]
)`, `
CREATE TABLE IF NOT EXISTS pagerflow_state (
	id                   boolean PRIMARY KEY DEFAULT true CHECK (id),
	last_run             bigint  NOT NULL,
	number_of_executions integer NOT NULL
)`,
}

const maxTxAttempts = 4

type (
	// PG is a ledger in two tables: pagerflow_runs holds the history and
	// pagerflow_state the singleton watermark row
	PG struct {
		db     repokit.TxRunner
		binder repokit.Binder[*queries]

		schemaMu sync.Mutex
		schemaOK bool
	}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres ledger. Tables are created on first use
func NewPG(db repokit.TxRunner) *PG {
	if db == nil {
		panic("repo.NewPG requires a non nil TxRunner")
	}
	return &PG{
		db:     repokit.WithBeginHooks(db, repokit.SetLocal("lock_timeout", "'10s'")),
		binder: repokit.BindFunc[*queries](func(q repokit.Queryer) *queries { return &queries{q: q} }),
	}
}

// Load implements domain.LedgerRepo
func (r *PG) Load(ctx context.Context) (domain.Ledger, error) {
	var out domain.Ledger
	err := r.tx(ctx, func(q *queries) error {
		l, err := q.load(ctx)
		out = l
		return err
	})
	if err != nil {
		return domain.Ledger{}, perr.FromPostgres(err, "load ledger")
	}
	return out, nil
}

// Append implements domain.LedgerRepo; the run row and the state row move in one transaction
func (r *PG) Append(ctx context.Context, rec domain.RunRecord) (domain.Ledger, error) {
	var out domain.Ledger
	err := r.tx(ctx, func(q *queries) error {
		n, err := q.lockExecutions(ctx)
		if err != nil {
			return err
		}
		rec.Index = n + 1
		if err := q.insertRun(ctx, rec); err != nil {
			return err
		}
		if err := q.upsertState(ctx, rec.StartedAt, rec.Index); err != nil {
			return err
		}
		l, err := q.load(ctx)
		out = l
		return err
	})
	if err != nil {
		return domain.Ledger{}, perr.FromPostgres(err, "append ledger")
	}
	return out, nil
}

// tx runs fn with retries on serialization failures and creates the schema when a table is missing
func (r *PG) tx(ctx context.Context, fn func(q *queries) error) error {
	if err := r.ensureSchema(ctx, false); err != nil {
		return err
	}
	var last error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := repokit.WithTx(ctx, r.db, func(q repokit.Queryer) error {
			return fn(repokit.MustBind(r.binder, q))
		})
		if err == nil {
			return nil
		}
		last = err
		switch {
		case perr.IsUndefinedTable(err):
			if serr := r.ensureSchema(ctx, true); serr != nil {
				return serr
			}
		case perr.IsRetryable(err):
			d := min(50*time.Millisecond<<(attempt-1), time.Second)
			if serr := sleepCtx(ctx, d/2+time.Duration(rand.Int63n(int64(d/2)))); serr != nil {
				return err
			}
		default:
			return err
		}
	}
	return last
}

// ensureSchema runs the DDL once per process, again when force is set
func (r *PG) ensureSchema(ctx context.Context, force bool) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaOK && !force {
		return nil
	}
	for _, ddl := range schemaSQL {
		if _, err := r.db.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	r.schemaOK = true
	return nil
}

func (q *queries) load(ctx context.Context) (domain.Ledger, error) {
	var l domain.Ledger
	type state struct {
		lastRun int64
		n       int
	}
	st, err := store.One(ctx, q.q, func(row store.Row) (state, error) {
		var s state
		err := row.Scan(&s.lastRun, &s.n)
		return s, err
	}, `SELECT last_run, number_of_executions FROM pagerflow_state WHERE id`)
	switch {
	case perr.IsNotFound(err):
		return domain.Ledger{}, nil
	case err != nil:
		return domain.Ledger{}, err
	}
	l.LastRun, l.NumberOfExecutions = st.lastRun, st.n

	l.History, err = store.Many(ctx, q.q, scanRun, `
		SELECT idx, run_id, mode, started_at, finished_at,
		       new_incidents, total_updates, updates_from_unresolved_view,
		       updated_incidents, failed_incidents
		FROM pagerflow_runs
		ORDER BY idx`)
	if err != nil {
		return domain.Ledger{}, err
	}
	return l, nil
}

// lockExecutions reads the execution counter, locking the state row when it exists
func (q *queries) lockExecutions(ctx context.Context) (int, error) {
	n, err := store.One(ctx, q.q, func(row store.Row) (int, error) {
		var n int
		err := row.Scan(&n)
		return n, err
	}, `SELECT number_of_executions FROM pagerflow_state WHERE id FOR UPDATE`)
	if perr.IsNotFound(err) {
		return 0, nil
	}
	return n, err
}

func (q *queries) insertRun(ctx context.Context, rec domain.RunRecord) error {
	return store.ExecOne(ctx, q.q, `
		INSERT INTO pagerflow_runs (
			idx, run_id, mode, started_at, finished_at,
			new_incidents, total_updates, updates_from_unresolved_view,
			updated_incidents, failed_incidents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Index, rec.RunID, string(rec.Mode), rec.StartedAt, rec.FinishedAt,
		rec.NewIncidents, rec.TotalUpdates, rec.UpdatesFromUnresolvedView,
		rec.UpdatedIncidents, rec.FailedIncidents,
	)
}

func (q *queries) upsertState(ctx context.Context, lastRun int64, n int) error {
	return store.ExecOne(ctx, q.q, `
		INSERT INTO pagerflow_state (id, last_run, number_of_executions)
		VALUES (true, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_run = EXCLUDED.last_run, number_of_executions = EXCLUDED.number_of_executions`,
		lastRun, n,
	)
}

func scanRun(row store.Row) (domain.RunRecord, error) {
	var (
		rec  domain.RunRecord
		mode string
	)
	err := row.Scan(
		&rec.Index, &rec.RunID, &mode, &rec.StartedAt, &rec.FinishedAt,
		&rec.NewIncidents, &rec.TotalUpdates, &rec.UpdatesFromUnresolvedView,
		&rec.UpdatedIncidents, &rec.FailedIncidents,
	)
	rec.Mode = domain.Mode(mode)
	return rec, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
