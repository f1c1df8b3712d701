// Package repo persists the run ledger to a JSON file or to Postgres
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	perr "pagerflow/internal/platform/errors"
	"pagerflow/internal/platform/logger"
	"pagerflow/internal/services/sync/domain"
)

// DefaultPath is where the ledger file lives unless configured
const DefaultPath = "pagerflow-log.json"

// File is a ledger kept in one JSON document, rewritten whole on every append
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a ledger stored at path
func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path returns the ledger location
func (f *File) Path() string { return f.path }

// Load implements domain.LedgerRepo. A missing file is an empty ledger
func (f *File) Load(_ context.Context) (domain.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) load() (domain.Ledger, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Ledger{}, nil
	}
	if err != nil {
		return domain.Ledger{}, perr.Wrapf(err, perr.ErrorCodeUnknown, "read ledger %s", f.path)
	}
	var l domain.Ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return domain.Ledger{}, perr.Wrapf(err, perr.ErrorCodeLedgerCorrupt, "parse ledger %s", f.path)
	}
	if l.NumberOfExecutions != len(l.History) {
		// the history is authoritative; last_run alone carries the watermark
		logger.Named("ledger").Warn().Str("path", f.path).
			Int("number_of_executions", l.NumberOfExecutions).Int("history", len(l.History)).
			Msg("ledger counter disagrees with history; recounting")
		l.NumberOfExecutions = len(l.History)
	}
	return l, nil
}

// Append implements domain.LedgerRepo. A corrupt file is moved aside and a fresh ledger started
func (f *File) Append(_ context.Context, rec domain.RunRecord) (domain.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, err := f.load()
	if perr.IsCode(err, perr.ErrorCodeLedgerCorrupt) {
		aside := f.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
		if rerr := os.Rename(f.path, aside); rerr != nil {
			return domain.Ledger{}, perr.Wrapf(rerr, perr.ErrorCodeUnknown, "move corrupt ledger aside")
		}
		logger.Named("ledger").Warn().Err(err).Str("moved_to", aside).Msg("corrupt ledger replaced")
		cur = domain.Ledger{}
	} else if err != nil {
		return domain.Ledger{}, err
	}

	next := cur.Append(rec)
	if err := f.write(next); err != nil {
		return domain.Ledger{}, err
	}
	return next, nil
}

// write replaces the file atomically through a temp file in the same directory
func (f *File) write(l domain.Ledger) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode ledger")
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".pagerflow-log-*.tmp")
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "create temp ledger in %s", dir)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return perr.Wrap(err, perr.ErrorCodeUnknown, "write ledger")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return perr.Wrap(err, perr.ErrorCodeUnknown, "sync ledger")
	}
	if err := tmp.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "close ledger")
	}
	if err := os.Rename(name, f.path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "replace ledger %s", f.path)
	}
	return nil
}
