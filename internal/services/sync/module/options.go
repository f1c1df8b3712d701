package module

import (
	"strings"
	"time"

	"pagerflow/internal/platform/config"
)

// Options holds configuration for the sync module
type Options struct {
	SourceURL         string        `env:"PAGERFLOW_SOURCE_URL" validate:"required,url"`
	SourceToken       string        `env:"PAGERFLOW_SOURCE_TOKEN" validate:"required"`
	SourceAuthScheme  string        `env:"PAGERFLOW_SOURCE_AUTH_SCHEME"`
	SourceTimeout     time.Duration `env:"PAGERFLOW_SOURCE_TIMEOUT" validate:"gte=0"`
	SourceMaxAttempts int           `env:"PAGERFLOW_SOURCE_MAX_ATTEMPTS" validate:"gte=1,lte=100"`
	SourceRetryBase   time.Duration `env:"PAGERFLOW_SOURCE_RETRY_BASE" validate:"gte=0"`
	SourceRPS         float64       `env:"PAGERFLOW_SOURCE_RPS" validate:"gte=0"`
	SourceBurst       int           `env:"PAGERFLOW_SOURCE_BURST" validate:"gte=0"`
	SourcePageSize    int           `env:"PAGERFLOW_SOURCE_PAGE_SIZE" validate:"gte=1,lte=1000"`
	SourceInclude     []string      `env:"PAGERFLOW_SOURCE_INCLUDE"`

	DestURL            string        `env:"PAGERFLOW_DEST_URL" validate:"required,url"`
	DestUser           string        `env:"PAGERFLOW_DEST_USER"`
	DestPassword       string        `env:"PAGERFLOW_DEST_PASSWORD" validate:"required_with=DestUser"`
	DestUnresolvedView string        `env:"PAGERFLOW_DEST_UNRESOLVED_VIEW" validate:"required"`
	DestTimeout        time.Duration `env:"PAGERFLOW_DEST_TIMEOUT" validate:"gte=0"`
	DestMaxAttempts    int           `env:"PAGERFLOW_DEST_MAX_ATTEMPTS" validate:"gte=1,lte=100"`
	DestRetryBase      time.Duration `env:"PAGERFLOW_DEST_RETRY_BASE" validate:"gte=0"`
	DestBulkSize       int           `env:"PAGERFLOW_DEST_BULK_SIZE" validate:"gte=1,lte=10000"`

	LedgerBackend string `env:"PAGERFLOW_LEDGER_BACKEND" validate:"oneof=file pg"`
	LedgerPath    string `env:"PAGERFLOW_LEDGER_PATH" validate:"required_if=LedgerBackend file"`

	Workers          int  `env:"PAGERFLOW_WORKERS" validate:"gte=1,lte=64"`
	RecordUpdatedIDs bool `env:"PAGERFLOW_RECORD_UPDATED_IDS"`
	DryRun           bool `env:"PAGERFLOW_DRY_RUN"`
}

// FromConfig reads the sync options with the PAGERFLOW_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("PAGERFLOW_")
	src := c.Prefix("SOURCE_")
	dst := c.Prefix("DEST_")
	led := c.Prefix("LEDGER_")
	return Options{
		SourceURL:         src.MayString("URL", ""),
		SourceToken:       src.MayString("TOKEN", ""),
		SourceAuthScheme:  src.MayString("AUTH_SCHEME", "Token token="),
		SourceTimeout:     src.MayDuration("TIMEOUT", 30*time.Second),
		SourceMaxAttempts: src.MayInt("MAX_ATTEMPTS", 10),
		SourceRetryBase:   src.MayDuration("RETRY_BASE", 0),
		SourceRPS:         src.MayFloat64("RPS", 0),
		SourceBurst:       src.MayInt("BURST", 1),
		SourcePageSize:    src.MayInt("PAGE_SIZE", 100),
		SourceInclude:     src.MayCSV("INCLUDE", []string{"channel"}),

		DestURL:            dst.MayString("URL", ""),
		DestUser:           dst.MayString("USER", ""),
		DestPassword:       dst.MayString("PASSWORD", ""),
		DestUnresolvedView: dst.MayString("UNRESOLVED_VIEW", ""),
		DestTimeout:        dst.MayDuration("TIMEOUT", 30*time.Second),
		DestMaxAttempts:    dst.MayInt("MAX_ATTEMPTS", 10),
		DestRetryBase:      dst.MayDuration("RETRY_BASE", 0),
		DestBulkSize:       dst.MayInt("BULK_SIZE", 500),

		LedgerBackend: strings.ToLower(led.MayString("BACKEND", "file")),
		LedgerPath:    led.MayString("PATH", "pagerflow-log.json"),

		Workers:          c.MayInt("WORKERS", 1),
		RecordUpdatedIDs: c.MayBool("RECORD_UPDATED_IDS", true),
		DryRun:           c.MayBool("DRY_RUN", false),
	}
}
