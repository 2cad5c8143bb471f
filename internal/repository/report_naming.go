package repository

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"PatternDesk/internal/domain/models"
)

// stampLayout is UTC with millisecond resolution; it sorts lexically.
const stampLayout = "20060102T150405.000Z"

const (
	runReportPrefix = "report_"
	summaryPrefix   = "summary_"
	reportExt       = ".json"
	tempPattern     = ".tmp-*"
)

var (
	runReportRe = regexp.MustCompile(`^report_([A-Z]+)_([A-Z0-9]+)_(\d{8}T\d{6}\.\d{3}Z)(?:_([0-9a-f]{8}))?\.json$`)
	summaryRe   = regexp.MustCompile(`^summary_(\d{8}T\d{6}\.\d{3}Z)(?:_([0-9a-f]{8}))?\.json$`)
)

// RunReportName derives the file name of a run report. suffix may be empty.
func RunReportName(symbol models.Symbol, tf models.Timeframe, generatedAt time.Time, suffix string) string {
	var b strings.Builder
	b.WriteString(runReportPrefix)
	b.WriteString(string(symbol))
	b.WriteByte('_')
	b.WriteString(string(tf))
	b.WriteByte('_')
	b.WriteString(generatedAt.UTC().Format(stampLayout))
	if suffix != "" {
		b.WriteByte('_')
		b.WriteString(suffix)
	}
	b.WriteString(reportExt)
	return b.String()
}

// SummaryName derives the file name of a summary report. suffix may be empty.
func SummaryName(runTimestamp time.Time, suffix string) string {
	name := summaryPrefix + runTimestamp.UTC().Format(stampLayout)
	if suffix != "" {
		name += "_" + suffix
	}
	return name + reportExt
}

// runIDSuffix maps a run identifier to the 8 lowercase hex characters used
// in file names. UUIDs keep their own prefix, anything else is hashed.
func runIDSuffix(runID string) string {
	if runID == "" {
		return ""
	}
	compact := strings.ToLower(strings.ReplaceAll(runID, "-", ""))
	if len(compact) >= 8 {
		if _, err := hex.DecodeString(compact[:8]); err == nil {
			return compact[:8]
		}
	}
	sum := sha1.Sum([]byte(runID))
	return hex.EncodeToString(sum[:4])
}

type reportName struct {
	symbol models.Symbol
	tf     models.Timeframe
	stamp  time.Time
}

// parseRunReportName reports whether name is a run report file and returns
// the pair it claims.
func parseRunReportName(name string) (reportName, bool) {
	m := runReportRe.FindStringSubmatch(name)
	if m == nil {
		return reportName{}, false
	}
	ts, err := time.Parse(stampLayout, m[3])
	if err != nil {
		return reportName{}, false
	}
	return reportName{symbol: models.Symbol(m[1]), tf: models.Timeframe(m[2]), stamp: ts}, true
}

func isSummaryName(name string) bool {
	return summaryRe.MatchString(name)
}
