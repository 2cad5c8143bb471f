package usecase

import (
	"context"
	"fmt"
	"time"

	"PatternDesk/internal/domain/models"
	drepo "PatternDesk/internal/domain/repository"
)

const (
	MsgNoData         = "no data yet"
	MsgRunIncomplete  = "run incomplete / no data yet"
	msgPartialFailure = "%d of %d analyses succeeded"
)

// PairView is the dashboard state of one (symbol, timeframe) pair.
type PairView struct {
	Symbol       models.Symbol      `json:"symbol"`
	Timeframe    models.Timeframe   `json:"timeframe"`
	State        models.RenderState `json:"state"`
	Report       *models.RunReport  `json:"report,omitempty"`
	AgeSeconds   float64            `json:"age_seconds,omitempty"`
	PatternCount int                `json:"pattern_count"`
	Message      string             `json:"message,omitempty"`
}

// SummaryView is the dashboard state of the latest summary. Warning is set
// exactly when the run published fewer reports than it attempted.
type SummaryView struct {
	State        models.RenderState    `json:"state"`
	Summary      *models.SummaryReport `json:"summary,omitempty"`
	Warning      bool                  `json:"warning"`
	PatternTotal int                   `json:"pattern_total"`
	AgeSeconds   float64               `json:"age_seconds,omitempty"`
	Message      string                `json:"message,omitempty"`
}

// Board is one full dashboard snapshot.
type Board struct {
	At        time.Time   `json:"at"`
	Threshold string      `json:"stale_threshold"`
	Pairs     []PairView  `json:"pairs"`
	Summary   SummaryView `json:"summary"`
	Skipped   int         `json:"skipped"`
}

// DashboardUseCase builds read-only views over the report directory. It
// re-scans on every call and never writes.
type DashboardUseCase struct {
	reader drepo.ReportReader
	pairs  []models.Pair
	policy models.FreshnessPolicy
}

func NewDashboardUseCase(reader drepo.ReportReader, pairs []models.Pair, policy models.FreshnessPolicy) *DashboardUseCase {
	return &DashboardUseCase{reader: reader, pairs: pairs, policy: policy}
}

// Policy returns the freshness policy in use.
func (d *DashboardUseCase) Policy() models.FreshnessPolicy { return d.policy }

// Board classifies every configured pair and the latest summary at now.
func (d *DashboardUseCase) Board(ctx context.Context, now time.Time) (Board, error) {
	list, err := d.reader.ListReports(ctx, models.ReportFilter{})
	if err != nil {
		return Board{}, fmt.Errorf("list reports: %w", err)
	}
	// list is newest first, so the first hit per pair is the latest
	latest := make(map[models.Pair]models.RunReport, len(d.pairs))
	for _, r := range list.Reports {
		if _, seen := latest[r.Pair()]; !seen {
			latest[r.Pair()] = r
		}
	}

	b := Board{At: now.UTC(), Threshold: d.policy.Threshold.String(), Pairs: make([]PairView, 0, len(d.pairs)), Skipped: list.Skipped}
	for _, pair := range d.pairs {
		r, found := latest[pair]
		b.Pairs = append(b.Pairs, d.pairView(pair, r, found, now))
	}

	s, found, err := d.reader.LatestSummary(ctx)
	if err != nil {
		return Board{}, fmt.Errorf("latest summary: %w", err)
	}
	b.Summary = d.SummaryView(s, found, now)
	return b, nil
}

// Pair returns the view of a single pair.
func (d *DashboardUseCase) Pair(ctx context.Context, pair models.Pair, now time.Time) (PairView, error) {
	r, found, err := d.reader.LatestReport(ctx, pair.Symbol, pair.Timeframe)
	if err != nil {
		return PairView{}, err
	}
	return d.pairView(pair, r, found, now), nil
}

func (d *DashboardUseCase) pairView(pair models.Pair, r models.RunReport, found bool, now time.Time) PairView {
	v := PairView{Symbol: pair.Symbol, Timeframe: pair.Timeframe, State: d.policy.Classify(now, r.GeneratedAt, found)}
	if !found {
		v.Message = MsgNoData
		return v
	}
	v.Report = &r
	v.PatternCount = r.PatternCount()
	v.AgeSeconds = max(0, now.Sub(r.GeneratedAt).Seconds())
	return v
}

// SummaryView classifies a summary lookup result.
func (d *DashboardUseCase) SummaryView(s models.SummaryReport, found bool, now time.Time) SummaryView {
	v := SummaryView{State: d.policy.Classify(now, s.RunTimestamp, found)}
	if !found {
		v.Message = MsgRunIncomplete
		return v
	}
	v.Summary = &s
	v.PatternTotal = s.PatternTotal
	v.AgeSeconds = max(0, now.Sub(s.RunTimestamp).Seconds())
	if s.Incomplete() {
		v.Warning = true
		v.Message = fmt.Sprintf(msgPartialFailure, s.Succeeded, s.Attempted)
	}
	return v
}
