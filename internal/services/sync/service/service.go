// Package service runs one incident sync: detect what changed, build documents, upload, record the run
package service

import (
	"context"
	"sync"
	"time"

	"pagerflow/internal/platform/logger"
	"pagerflow/internal/services/sync/domain"

	"github.com/google/uuid"
)

// Config holds the runner knobs
type Config struct {
	// Workers builds and uploads that many incidents at once; <=0 -> 1
	Workers int

	// BulkSize is the number of documents per bulk write during a backfill; <=0 -> 500
	BulkSize int

	// RecordUpdatedIDs stores the touched keys in each run record
	RecordUpdatedIDs bool

	// DryRun detects and builds but neither uploads nor records the run
	DryRun bool
}

// Service implements domain.RunnerPort
type Service struct {
	Source domain.Source
	Dest   domain.Destination
	Ledger domain.LedgerRepo
	Norm   domain.Normalizer
	Cfg    Config
}

// seams for tests
var (
	now      = time.Now
	runLog   = logger.C
	newRunID = uuid.NewString
)

const defaultBulkSize = 500

// New constructs the sync service
func New(src domain.Source, dest domain.Destination, ledger domain.LedgerRepo, norm domain.Normalizer, cfg Config) *Service {
	if src == nil {
		panic("sync.Service requires a non nil Source")
	}
	if dest == nil {
		panic("sync.Service requires a non nil Destination")
	}
	if ledger == nil {
		panic("sync.Service requires a non nil LedgerRepo")
	}
	if norm == nil {
		panic("sync.Service requires a non nil Normalizer")
	}
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = defaultBulkSize
	}
	return &Service{Source: src, Dest: dest, Ledger: ledger, Norm: norm, Cfg: cfg}
}

// forEach runs fn over ids on at most Cfg.Workers goroutines
func (s *Service) forEach(ctx context.Context, ids []int, fn func(context.Context, int)) {
	w := max(s.Cfg.Workers, 1)
	if w == 1 {
		for _, n := range ids {
			fn(ctx, n)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, w)
	for _, n := range ids {
		sem <- struct{}{}
		wg.Add(1)
		go func(n int) {
			defer func() { <-sem; wg.Done() }()
			fn(ctx, n)
		}(n)
	}
	wg.Wait()
}
