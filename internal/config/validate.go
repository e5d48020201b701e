package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"backfill/internal/backfill"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg. kinds lists the registered warehouse backends; when
// nil the kind is not checked against it.
func Validate(cfg Config, kinds []string) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	w := cfg.Warehouse
	switch {
	case w.Kind == "":
		errf("warehouse.kind", "is required")
	case kinds != nil && !slices.Contains(kinds, w.Kind):
		errf("warehouse.kind", "unknown backend %q (have %s)", w.Kind, strings.Join(kinds, ", "))
	}
	if w.DSN == "" {
		if w.Kind != "snowflake" {
			errf("warehouse.dsn", "is required")
		} else if w.Snowflake.Account == "" || w.Snowflake.User == "" {
			errf("warehouse.snowflake", "account and user are required when dsn is empty")
		}
	}
	if w.Kind == "sqlite" && (w.Database != "" || w.Schema != "") {
		warnf("warehouse.schema", "ignored by sqlite")
	}

	for path, raw := range map[string]string{
		"source.base_url":      cfg.Source.BaseURL,
		"source.reference_url": cfg.Source.ReferenceURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errf(path, "must be an absolute URL, got %q", raw)
		}
	}
	if cfg.Source.Timeout < 0 {
		errf("source.timeout", "must not be negative")
	}

	if cfg.Retry.Delay < 0 {
		errf("retry.delay", "must not be negative")
	}
	if cfg.Retry.Multiplier < 1 {
		warnf("retry.multiplier", "%v is below 1; waits will not grow", cfg.Retry.Multiplier)
	}

	b := cfg.Backfill
	if b.Year < 1 {
		errf("backfill.year", "must be positive, got %d", b.Year)
	}
	if b.ChunkSize <= 0 {
		errf("backfill.chunk_size", "must be positive, got %d", b.ChunkSize)
	}
	if b.MaxRetries <= 0 {
		errf("backfill.max_retries", "must be positive, got %d", b.MaxRetries)
	}
	if b.Months != "" {
		if _, err := backfill.ParseMonths(b.Months); err != nil {
			errf("backfill.months", "%v", err)
		}
	}

	switch cfg.Metrics.Backend {
	case "", "none", "datadog":
	case "pushgateway":
		if cfg.Metrics.PushgatewayURL == "" {
			errf("metrics.pushgateway_url", "is required for the pushgateway backend")
		}
	default:
		errf("metrics.backend", "unknown backend %q", cfg.Metrics.Backend)
	}

	if cfg.Temporal.TaskQueue == "" {
		warnf("temporal.task_queue", "is empty; the worker cannot start")
	}
	return out
}
