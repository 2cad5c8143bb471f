package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is written into every report produced by this module.
const SchemaVersion = 1

// Pattern is one detected-pattern record. Its shape belongs to the detector
// and is carried through untouched.
type Pattern = json.RawMessage

// NewPattern marshals v into an opaque pattern record.
func NewPattern(v any) (Pattern, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal pattern: %w", err)
	}
	return Pattern(b), nil
}

// RunReport is the immutable record of one analysis pass for one pair.
type RunReport struct {
	Symbol        Symbol          `json:"symbol" validate:"symbol"`
	Timeframe     Timeframe       `json:"timeframe" validate:"timeframe"`
	GeneratedAt   time.Time       `json:"generated_at"`
	CandleCount   int             `json:"candle_count" validate:"gte=0"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Patterns      []Pattern       `json:"patterns"`
	RunID         string          `json:"run_id,omitempty"`
	SchemaVersion int             `json:"schema_version,omitempty" validate:"gte=0"`

	// Extensions holds top-level fields this version does not know about.
	Extensions map[string]json.RawMessage `json:"-"`
}

// Pair returns the (symbol, timeframe) the report belongs to.
func (r RunReport) Pair() Pair { return Pair{Symbol: r.Symbol, Timeframe: r.Timeframe} }

// PatternCount returns len(Patterns).
func (r RunReport) PatternCount() int { return len(r.Patterns) }

// Validate checks the schema constraints of a run report.
func (r RunReport) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generated_at is required", ErrInvalidReport)
	}
	if !r.LastPrice.IsPositive() {
		return fmt.Errorf("%w: last_price must be positive, got %s", ErrInvalidReport, r.LastPrice)
	}
	return nil
}

var (
	runReportKeys      = []string{"symbol", "timeframe", "generated_at", "candle_count", "last_price", "patterns", "run_id", "schema_version"}
	runReportRequired  = []string{"symbol", "timeframe", "generated_at", "candle_count", "last_price", "patterns"}
	summaryKeys        = []string{"run_timestamp", "total_analyses_attempted", "total_analyses_succeeded", "pattern_total", "run_id", "schema_version", "pairs", "failed_pairs"}
	summaryRequiredKey = []string{"run_timestamp", "total_analyses_attempted", "total_analyses_succeeded", "pattern_total"}
)

// MarshalJSON writes the known fields followed by any preserved extensions.
func (r RunReport) MarshalJSON() ([]byte, error) {
	type plain RunReport
	b, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	return mergeExtensions(b, r.Extensions)
}

// UnmarshalJSON rejects records missing required fields and keeps unknown ones.
func (r *RunReport) UnmarshalJSON(b []byte) error {
	ext, err := splitExtensions(b, runReportKeys, runReportRequired)
	if err != nil {
		return err
	}
	type plain RunReport
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	*r = RunReport(p)
	r.Extensions = ext
	return nil
}

// SummaryReport aggregates the outcome of one batch across all pairs.
type SummaryReport struct {
	RunTimestamp  time.Time `json:"run_timestamp"`
	Attempted     int       `json:"total_analyses_attempted" validate:"gte=0"`
	Succeeded     int       `json:"total_analyses_succeeded" validate:"gte=0,ltefield=Attempted"`
	PatternTotal  int       `json:"pattern_total" validate:"gte=0"`
	RunID         string    `json:"run_id,omitempty"`
	SchemaVersion int       `json:"schema_version,omitempty" validate:"gte=0"`
	Pairs         []Pair    `json:"pairs,omitempty"`
	FailedPairs   []Pair    `json:"failed_pairs,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

// Incomplete reports whether some analyses of the run did not publish.
func (s SummaryReport) Incomplete() bool { return s.Succeeded < s.Attempted }

// Validate checks the schema constraints of a summary report.
func (s SummaryReport) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if s.RunTimestamp.IsZero() {
		return fmt.Errorf("%w: run_timestamp is required", ErrInvalidReport)
	}
	return nil
}

func (s SummaryReport) MarshalJSON() ([]byte, error) {
	type plain SummaryReport
	b, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	return mergeExtensions(b, s.Extensions)
}

func (s *SummaryReport) UnmarshalJSON(b []byte) error {
	ext, err := splitExtensions(b, summaryKeys, summaryRequiredKey)
	if err != nil {
		return err
	}
	type plain SummaryReport
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	*s = SummaryReport(p)
	s.Extensions = ext
	return nil
}

// splitExtensions decodes the top-level object, checks required keys and
// returns the keys not in known.
func splitExtensions(b []byte, known, required []string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidReport)
	}
	for _, k := range required {
		if _, ok := raw[k]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidReport, k)
		}
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func mergeExtensions(b []byte, ext map[string]json.RawMessage) ([]byte, error) {
	if len(ext) == 0 {
		return b, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for k, v := range ext {
		// known fields always win over a stale extension of the same name
		if _, taken := obj[k]; !taken {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// Published pairs a written record with the path it was published under.
type Published[T any] struct {
	Path   string `json:"path"`
	Record T      `json:"record"`
}

// ReportFilter narrows ListReports. Empty fields match every value.
type ReportFilter struct {
	Symbol    Symbol
	Timeframe Timeframe
	Since     time.Time // zero means unbounded
	Limit     int       // 0 means no limit
}

// Matches reports whether r satisfies the filter, ignoring Limit.
func (f ReportFilter) Matches(r RunReport) bool {
	return (f.Symbol == "" || f.Symbol == r.Symbol) &&
		(f.Timeframe == "" || f.Timeframe == r.Timeframe) &&
		(f.Since.IsZero() || !r.GeneratedAt.Before(f.Since))
}

// ReportList is one scan result: valid reports newest first plus the number
// of malformed files that were skipped.
type ReportList struct {
	Reports []RunReport `json:"reports"`
	Skipped int         `json:"skipped"`
}

// PatternSnapshot is one pattern-memory entry.
type PatternSnapshot struct {
	Symbol      Symbol    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	GeneratedAt time.Time `json:"generated_at"`
	Patterns    []Pattern `json:"patterns"`
}
