// Package config defines the JSON-serializable configuration model for the
// sales aggregation pipeline. Decoding is performed by the standard library,
// with a light Options helper for typed access to implementation-specific
// settings.
//
// Example (trimmed):
//
//	{
//	  "job":     "retail_sales",
//	  "source":  { "kind": "file", "file": { "path": "data/raw/ecommerce.csv" } },
//	  "parser":  { "kind": "csv", "options": { "has_header": true, "encoding": "iso-8859-1" } },
//	  "clean":   { "timestamp_layouts": ["1/2/2006 15:04"], "location": "UTC" },
//	  "reports": { "names": ["sales_by_period", "summary"] },
//	  "sink":    { "kind": "sqlite", "dsn": "file:reports.db", "prefix": "report_" }
//	}
package config

import "encoding/json"

// Pipeline describes a full run. It is the top-level object decoded from a
// pipeline file (e.g., configs/pipelines/*.json).
type Pipeline struct {
	// Job names the run for logs and metrics labels.
	Job string `json:"job"`

	// Source describes where input data comes from (e.g., local file).
	Source Source `json:"source"`

	// Parser configures how raw bytes are turned into transaction lines.
	Parser Parser `json:"parser"`

	// Clean configures the record normalizer.
	Clean Clean `json:"clean"`

	// Reports selects which report definitions run and overrides their limits.
	Reports Reports `json:"reports"`

	// Sink describes where finished report relations are written.
	Sink Sink `json:"sink"`

	// Cleaned optionally exports the cleaned record stream.
	Cleaned Cleaned `json:"cleaned"`

	Runtime RuntimeConfig `json:"runtime"`
}

// RuntimeConfig controls concurrency and channel buffer sizes.
type RuntimeConfig struct {
	NormalizeWorkers int `json:"normalize_workers"`
	AggregateWorkers int `json:"aggregate_workers"`
	SinkWorkers      int `json:"sink_workers"`
	ChannelBuffer    int `json:"channel_buffer"`
}

// Source identifies the data source. Additional kinds can be added over time.
type Source struct {
	// Kind selects the source implementation: "file" or "http".
	Kind string `json:"kind"`

	// File carries options for the "file" source kind.
	File SourceFile `json:"file"`

	// HTTP carries options for the "http" source kind.
	HTTP SourceHTTP `json:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	// Path is the local filesystem path to the input file.
	Path string `json:"path"`
}

// SourceHTTP holds configuration for the "http" source kind. The export is
// fetched with GET; 5xx and 429 responses are retried with backoff.
type SourceHTTP struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxRetries     int               `json:"max_retries"`
}

// Parser selects how to parse the raw source into transaction lines.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the parser implementation.
	// For CSV, typical keys include:
	//   has_header (bool), comma (string), trim_space (bool),
	//   lazy_quotes (bool), encoding (string), header_map (object)
	Options Options `json:"options"`
}

// Clean configures timestamp parsing for the normalizer.
type Clean struct {
	// TimestampLayouts are tried in order; empty means the built-in defaults.
	TimestampLayouts []string `json:"timestamp_layouts"`

	// Location is an IANA zone name used for layouts without an offset.
	// Empty means UTC.
	Location string `json:"location"`
}

// Reports selects and tunes report definitions.
type Reports struct {
	// Names lists the reports to run; empty runs all of them.
	Names []string `json:"names"`

	// Limits overrides the row limit per report name. Zero or negative
	// removes the limit.
	Limits map[string]int `json:"limits"`

	// UnknownLabel is written in place of a key that could not be extracted.
	UnknownLabel string `json:"unknown_label"`
}

// Sink selects the storage backend for report relations.
type Sink struct {
	// Kind selects the backend, e.g. "postgres", "sqlite", "parquet", "pebble".
	Kind string `json:"kind"`

	// DSN is a connection string or a filesystem path, depending on Kind.
	DSN string `json:"dsn"`

	// Prefix is prepended to every destination name (table, key, file).
	Prefix string `json:"prefix"`

	// Options carries backend-specific settings (e.g. kafka brokers/topic).
	Options Options `json:"options"`
}

// Cleaned configures the optional cleaned-record export.
type Cleaned struct {
	// Path of the CSV file to write; empty disables the export.
	Path string `json:"path"`
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It performs only
// minimal type coercion and returns provided defaults when a key is absent or
// of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// UnmarshalJSON makes a missing or null "options" object decode to a non-nil,
// empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
