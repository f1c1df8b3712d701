// Package module wires the incident sync from configuration
package module

import (
	"pagerflow/internal/adapters/couchdb"
	"pagerflow/internal/adapters/pagerduty"
	"pagerflow/internal/core/normalize"
	"pagerflow/internal/core/tz"
	"pagerflow/internal/modkit"
	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/config"
	"pagerflow/internal/services/sync/domain"
	"pagerflow/internal/services/sync/ingest"
	"pagerflow/internal/services/sync/repo"
	"pagerflow/internal/services/sync/service"
)

// Ports defines the sync module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the sync module
type Module struct {
	deps  modkit.Deps
	opts  Options
	ports Ports
}

// New reads Options from deps.Cfg and constructs the module
func New(deps modkit.Deps) (*Module, error) {
	return NewWithOptions(deps, FromConfig(deps.Cfg))
}

// NewWithOptions validates opts and wires the clients, the ledger and the service
func NewWithOptions(deps modkit.Deps, opts Options) (*Module, error) {
	if err := config.Validate(opts); err != nil {
		return nil, err
	}
	if err := tz.Validate(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeValidation, "time zone table")
	}

	var ledger domain.LedgerRepo
	switch opts.LedgerBackend {
	case "pg":
		if deps.PG == nil {
			return nil, perr.New(perr.ErrorCodeValidation, "PAGERFLOW_LEDGER_BACKEND=pg needs a postgres connection")
		}
		ledger = repo.NewPG(deps.PG)
	default:
		ledger = repo.NewFile(opts.LedgerPath)
	}

	src := ingest.NewSource(pagerduty.NewClient(pagerduty.Options{
		BaseURL:     opts.SourceURL,
		Token:       opts.SourceToken,
		AuthScheme:  opts.SourceAuthScheme,
		Timeout:     opts.SourceTimeout,
		MaxAttempts: opts.SourceMaxAttempts,
		RetryBase:   opts.SourceRetryBase,
		RPS:         opts.SourceRPS,
		Burst:       opts.SourceBurst,
		PageSize:    opts.SourcePageSize,
		Include:     opts.SourceInclude,
	}))
	dest := couchdb.NewClient(couchdb.Options{
		DBURL:          opts.DestURL,
		User:           opts.DestUser,
		Password:       opts.DestPassword,
		UnresolvedView: opts.DestUnresolvedView,
		Timeout:        opts.DestTimeout,
		MaxAttempts:    opts.DestMaxAttempts,
		RetryBase:      opts.DestRetryBase,
	})

	svc := service.New(src, dest, ledger, normalize.New(), service.Config{
		Workers:          opts.Workers,
		BulkSize:         opts.DestBulkSize,
		RecordUpdatedIDs: opts.RecordUpdatedIDs,
		DryRun:           opts.DryRun,
	})

	m := &Module{deps: deps, opts: opts}
	m.ports = Ports{Runner: svc}
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return "sync" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Options returns the validated options the module runs with
func (m *Module) Options() Options { return m.opts }

var _ modkit.Module = (*Module)(nil)
