package tui

import (
	"strings"

	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/report"
)

// InputMode is the current TUI input mode (normal or search).
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeSearch
)

// SortOrder orders the result list (submission order or ranked best-first).
type SortOrder int

const (
	SortSubmission SortOrder = iota
	SortRanked
)

func (s SortOrder) Label() string {
	switch s {
	case SortRanked:
		return "Ranked"
	default:
		return "Sweep order"
	}
}

func (s SortOrder) Next() SortOrder {
	if s == SortSubmission {
		return SortRanked
	}
	return SortSubmission
}

// App holds the TUI state (results, search, sort, selection).
type App struct {
	ShouldQuit     bool
	InputMode      InputMode
	SearchQuery    string
	CursorPosition int

	AllResults      []*eval.EvaluationResult
	RankedResults   []*eval.EvaluationResult
	FilteredResults []int // indices into the active order

	SortOrder   SortOrder
	SelectedRow int
	ShowDetail  bool

	Width  int
	Height int
}

// NewApp builds app state from an ordered result list.
func NewApp(results []*eval.EvaluationResult) *App {
	app := &App{
		AllResults:    results,
		RankedResults: report.Rank(results),
	}
	app.ApplyFilters()
	return app
}

// activeOrder returns the result list for the current sort order.
func (a *App) activeOrder() []*eval.EvaluationResult {
	if a.SortOrder == SortRanked {
		return a.RankedResults
	}
	return a.AllResults
}

// ApplyFilters updates FilteredResults from the search query; clamps SelectedRow.
func (a *App) ApplyFilters() {
	query := strings.ToLower(a.SearchQuery)
	var out []int
	for i, r := range a.activeOrder() {
		if query == "" || strings.Contains(strings.ToLower(report.PairLabel(r)), query) {
			out = append(out, i)
		}
	}
	a.FilteredResults = out
	if len(a.FilteredResults) == 0 {
		a.SelectedRow = 0
	} else if a.SelectedRow >= len(a.FilteredResults) {
		a.SelectedRow = len(a.FilteredResults) - 1
	}
}

// SelectedResult returns the currently selected result or nil.
func (a *App) SelectedResult() *eval.EvaluationResult {
	if len(a.FilteredResults) == 0 || a.SelectedRow < 0 || a.SelectedRow >= len(a.FilteredResults) {
		return nil
	}
	idx := a.FilteredResults[a.SelectedRow]
	order := a.activeOrder()
	if idx < 0 || idx >= len(order) {
		return nil
	}
	return order[idx]
}

// BaselineAccuracy returns the reference accuracy for the loaded sweep.
func (a *App) BaselineAccuracy() float64 {
	return report.BaselineAccuracy(a.AllResults)
}

func (a *App) MoveUp() {
	if a.SelectedRow > 0 {
		a.SelectedRow--
	}
}

func (a *App) MoveDown() {
	if len(a.FilteredResults) > 0 && a.SelectedRow < len(a.FilteredResults)-1 {
		a.SelectedRow++
	}
}

func (a *App) PageUp() {
	a.SelectedRow -= 10
	if a.SelectedRow < 0 {
		a.SelectedRow = 0
	}
}

func (a *App) PageDown() {
	if len(a.FilteredResults) == 0 {
		return
	}
	a.SelectedRow += 10
	if a.SelectedRow >= len(a.FilteredResults) {
		a.SelectedRow = len(a.FilteredResults) - 1
	}
}

func (a *App) Home() {
	a.SelectedRow = 0
}

func (a *App) End() {
	if len(a.FilteredResults) > 0 {
		a.SelectedRow = len(a.FilteredResults) - 1
	}
}

func (a *App) CycleSortOrder() {
	a.SortOrder = a.SortOrder.Next()
	a.ApplyFilters()
}

func (a *App) EnterSearch() {
	a.InputMode = InputModeSearch
}

func (a *App) ExitSearch() {
	a.InputMode = InputModeNormal
}

func (a *App) SearchInput(r rune) {
	runes := []rune(a.SearchQuery)
	if a.CursorPosition > len(runes) {
		a.CursorPosition = len(runes)
	}
	runes = append(runes[:a.CursorPosition], append([]rune{r}, runes[a.CursorPosition:]...)...)
	a.SearchQuery = string(runes)
	a.CursorPosition++
	a.ApplyFilters()
}

func (a *App) SearchBackspace() {
	runes := []rune(a.SearchQuery)
	if a.CursorPosition <= 0 || a.CursorPosition > len(runes) {
		return
	}
	runes = append(runes[:a.CursorPosition-1], runes[a.CursorPosition:]...)
	a.SearchQuery = string(runes)
	a.CursorPosition--
	a.ApplyFilters()
}

func (a *App) ClearSearch() {
	a.SearchQuery = ""
	a.CursorPosition = 0
	a.ApplyFilters()
}

func (a *App) ToggleDetail() {
	a.ShowDetail = !a.ShowDetail
}
