package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "sink.kind",
// "reports.limits.sales_by_country"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// KnownReports lists the report names the binary ships.
var KnownReports = []string{
	"sales_by_period",
	"sales_by_category",
	"sales_by_country",
	"top_customers",
	"summary",
}

// KnownSinks lists the sink kinds registered by storage/all.
var KnownSinks = []string{
	"memory", "postgres", "mssql", "mysql", "sqlite", "pebble", "parquet", "kafka",
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline; callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateClean(p.Clean)...)
	issues = append(issues, validateReports(p.Reports)...)
	issues = append(issues, validateSink(p.Sink)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
	}

	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.file.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "http":
		u, err := url.Parse(s.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.url",
				Message:  fmt.Sprintf("http source requires an absolute http(s) url, got %q", s.HTTP.URL),
			})
		}
		if s.HTTP.MaxRetries < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.max_retries",
				Message:  "max_retries must not be negative",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unsupported source kind %q", s.Kind),
		})
	}

	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; want csv", p.Kind),
		})
	}

	switch enc := strings.ToLower(p.Options.String("encoding", "utf-8")); enc {
	case "utf-8", "utf8", "iso-8859-1", "latin1", "latin-1", "windows-1252", "cp1252":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.encoding",
			Message:  fmt.Sprintf("unsupported encoding %q", enc),
		})
	}
	if !p.Options.Bool("has_header", true) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.options.has_header",
			Message:  "headerless input is read positionally; column order must match the retail layout",
		})
	}

	return issues
}

func validateClean(c Clean) []Issue {
	var issues []Issue
	if c.Location != "" {
		if _, err := time.LoadLocation(c.Location); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "clean.location",
				Message:  fmt.Sprintf("unknown location %q: %v", c.Location, err),
			})
		}
	}
	for i, l := range c.TimestampLayouts {
		if strings.TrimSpace(l) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("clean.timestamp_layouts[%d]", i),
				Message:  "layout must not be empty",
			})
		}
	}
	return issues
}

func validateReports(r Reports) []Issue {
	var issues []Issue

	known := make(map[string]struct{}, len(KnownReports))
	for _, n := range KnownReports {
		known[n] = struct{}{}
	}
	seen := map[string]bool{}
	for i, n := range r.Names {
		if _, ok := known[n]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("reports.names[%d]", i),
				Message:  fmt.Sprintf("unknown report %q", n),
			})
		}
		if seen[n] {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("reports.names[%d]", i),
				Message:  fmt.Sprintf("report %q listed more than once", n),
			})
		}
		seen[n] = true
	}
	for n := range r.Limits {
		if _, ok := known[n]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "reports.limits." + n,
				Message:  fmt.Sprintf("limit set for unknown report %q", n),
			})
		}
	}
	return issues
}

func validateSink(s Sink) []Issue {
	var issues []Issue

	known := false
	for _, k := range KnownSinks {
		if s.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.kind",
			Message:  fmt.Sprintf("unsupported sink kind %q", s.Kind),
		})
	}

	switch s.Kind {
	case "memory":
	case "kafka":
		if len(s.Options.StringSlice("brokers")) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sink.options.brokers",
				Message:  "kafka sink requires at least one broker",
			})
		}
		if s.Options.String("topic", "") == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sink.options.topic",
				Message:  "kafka sink requires a topic",
			})
		}
	default:
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sink.dsn",
				Message:  fmt.Sprintf("%s sink requires a dsn", s.Kind),
			})
		}
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	check := func(path string, v int) {
		if v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("%s must not be negative", path[strings.LastIndexByte(path, '.')+1:]),
			})
		}
	}
	check("runtime.normalize_workers", r.NormalizeWorkers)
	check("runtime.aggregate_workers", r.AggregateWorkers)
	check("runtime.sink_workers", r.SinkWorkers)
	check("runtime.channel_buffer", r.ChannelBuffer)

	return issues
}
