package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pagerflow/internal/core/version"
	"pagerflow/internal/modkit"
	"pagerflow/internal/platform/config"
	"pagerflow/internal/platform/logger"
	"pagerflow/internal/platform/store"
	"pagerflow/internal/services/sync/domain"
	syncmod "pagerflow/internal/services/sync/module"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	var (
		fDryRun  = flag.Bool("dry-run", false, "detect and build documents but upload and record nothing")
		fVersion = flag.Bool("version", false, "print build info and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-dry-run] [settings.yaml]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *fVersion {
		_ = json.NewEncoder(os.Stdout).Encode(version.Info())
		return
	}

	// the settings file is the last positional argument
	var settings string
	if args := flag.Args(); len(args) > 0 {
		settings = args[len(args)-1]
	}

	l := logger.Get()
	root, err := config.Load(settings)
	if err != nil {
		l.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := modkit.Deps{
		Cfg: root,
		Log: *l,
	}

	ledgerCfg := root.Prefix("PAGERFLOW_LEDGER_")
	if strings.EqualFold(ledgerCfg.MayEnum("BACKEND", "file", "file", "pg"), "pg") {
		st, err := store.Open(ctx, store.Config{
			AppName: "pagerflow",
			PG: store.PGConfig{
				Enabled:     true,
				URL:         ledgerCfg.MustString("PG_URL"),
				MaxConns:    int32(ledgerCfg.MayInt("PG_MAX_CONNS", 2)),
				SlowQueryMs: ledgerCfg.MayInt("PG_SLOW_MS", 500),
				LogSQL:      ledgerCfg.MayBool("PG_LOG_SQL", false),
			},
		}, store.WithLogger(*l))
		if err != nil {
			l.Fatal().Err(err).Msg("store.Open failed")
		}
		defer func() {
			if err := st.Close(context.Background()); err != nil {
				l.Error().Err(err).Msg("failed to close store")
			}
		}()
		deps.PG = st.PG
	}

	// Surface the flag to the module, which reads PAGERFLOW_DRY_RUN
	if *fDryRun {
		mustSetEnv("PAGERFLOW_DRY_RUN", "1")
	}

	m, err := syncmod.New(deps)
	if err != nil {
		l.Fatal().Err(err).Msg("sync module setup failed")
	}

	o := m.Options()
	l.Info().Str("source", o.SourceURL).Str("dest", o.DestURL).Str("ledger", o.LedgerBackend).
		Int("workers", o.Workers).Bool("dry_run", o.DryRun).Msg("pagerflow starting")

	sum, err := m.Ports().(syncmod.Ports).Runner.Run(ctx)
	printSummary(sum)
	if err != nil {
		l.Error().Err(err).Str("run_id", sum.RunID).Msg("sync failed")
		stop()
		os.Exit(1)
	}
}

func printSummary(s domain.Summary) {
	if s.RunID == "" {
		return
	}
	kind := string(s.Mode)
	if s.DryRun {
		kind += " (dry run)"
	}
	fmt.Printf("run %s: %s\n", s.RunID, kind)
	fmt.Printf("unresolved incidents needing update: %d\n", s.ViewUpdates)
	fmt.Printf("newly created incidents: %d\n", s.NewIncidents)
	fmt.Printf("total number of updates: %d\n", s.TotalUpdates)
	fmt.Printf("uploaded: %d\n", s.Uploaded)
	if len(s.Missing) > 0 {
		fmt.Printf("missing at source: %s\n", strings.Join(s.Missing, ", "))
	}
	if len(s.Failed) > 0 {
		fmt.Printf("failed: %s\n", strings.Join(s.Failed, ", "))
	}
	if s.Index > 0 {
		fmt.Printf("recorded as execution %d\n", s.Index)
	}
}
