package console

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/usecase"
)

var (
	stateColor = map[models.RenderState]lipgloss.Color{
		models.StateFresh:  lipgloss.Color("2"),
		models.StateStale:  lipgloss.Color("3"),
		models.StateAbsent: lipgloss.Color("8"),
	}
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// RenderBoard writes the board as a summary header and a table with one
// row per pair.
func RenderBoard(w io.Writer, b usecase.Board) error {
	if _, err := fmt.Fprintln(w, summaryLine(b.Summary)); err != nil {
		return err
	}
	if b.Summary.Warning {
		if _, err := fmt.Fprintln(w, warnStyle.Render("WARNING: "+b.Summary.Message)); err != nil {
			return err
		}
	}

	rows := make([][]string, 0, len(b.Pairs))
	for _, p := range b.Pairs {
		rows = append(rows, pairRow(p))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PAIR", "STATE", "GENERATED", "AGE", "CANDLES", "LAST PRICE", "PATTERNS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(b.Pairs) {
				return cellStyle.Foreground(stateColor[b.Pairs[row].State])
			}
			return cellStyle
		})
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "stale after %s, skipped malformed files: %d\n", b.Threshold, b.Skipped)
	return err
}

func summaryLine(v usecase.SummaryView) string {
	if v.Summary == nil {
		return "Latest run: " + v.Message
	}
	s := v.Summary
	return fmt.Sprintf("Latest run: %s (%s)  attempted %d  succeeded %d  patterns %d",
		s.RunTimestamp.UTC().Format(time.RFC3339), v.State, s.Attempted, s.Succeeded, v.PatternTotal)
}

func pairRow(p usecase.PairView) []string {
	pair := models.Pair{Symbol: p.Symbol, Timeframe: p.Timeframe}.String()
	if p.Report == nil {
		return []string{pair, string(p.State), "-", "-", "-", "-", "-"}
	}
	r := p.Report
	return []string{
		pair,
		string(p.State),
		r.GeneratedAt.UTC().Format(time.RFC3339),
		(time.Duration(p.AgeSeconds) * time.Second).String(),
		strconv.Itoa(r.CandleCount),
		r.LastPrice.String(),
		strconv.Itoa(p.PatternCount),
	}
}
