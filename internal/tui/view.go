package tui

import (
	"fmt"
	"strings"

	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/report"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleNormal = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	styleCyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleStatus = lipgloss.NewStyle().Background(lipgloss.Color("10")).Foreground(lipgloss.Color("0")).Bold(true)
)

// Render returns the full TUI view for the app.
func Render(app *App) string {
	w := app.Width
	if w <= 0 {
		w = 80
	}
	h := app.Height
	if h <= 0 {
		h = 24
	}

	header := renderHeader(app)
	searchBar := renderSearchAndSort(app)
	mainHeight := h - 3 - 3 - 1
	if mainHeight < 5 {
		mainHeight = 5
	}

	var main string
	if app.ShowDetail {
		main = renderDetail(app)
	} else {
		main = renderTable(app, mainHeight)
	}
	statusBar := renderStatusBar(app)
	return lipgloss.JoinVertical(lipgloss.Left, header, searchBar, main, statusBar)
}

func renderHeader(app *App) string {
	modelName := "-"
	questions := 0
	if len(app.AllResults) > 0 {
		modelName = app.AllResults[0].Model
		questions = app.AllResults[0].Questions
	}
	line := styleDim.Render(" Model: ") +
		styleNormal.Render(modelName) +
		styleDim.Render("  │  ") +
		styleDim.Render("Questions: ") +
		styleCyan.Render(fmt.Sprintf("%d", questions)) +
		styleDim.Render("  │  ") +
		styleDim.Render("Baseline: ") +
		styleGreen.Render(fmt.Sprintf("%.1f%%", app.BaselineAccuracy()*100))
	block := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	title := styleTitle.Render(" kvgauge ")
	return block.Render(title + " " + line)
}

func renderSearchAndSort(app *App) string {
	searchTitle := " Search "
	if app.InputMode == InputModeSearch {
		searchTitle = styleYellow.Render(searchTitle)
	} else {
		searchTitle = styleDim.Render(searchTitle)
	}
	searchContent := "Press / to search..."
	if app.InputMode == InputModeSearch || app.SearchQuery != "" {
		searchContent = styleNormal.Render(app.SearchQuery)
	} else {
		searchContent = styleDim.Render(searchContent)
	}
	searchBlock := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	searchBox := searchBlock.Render(searchTitle + " " + searchContent)

	sortBlock := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Width(24)
	sortBox := sortBlock.Render(styleDim.Render(" Sort [s] ") + " " + styleCyan.Render(app.SortOrder.Label()))

	return lipgloss.JoinHorizontal(lipgloss.Top, searchBox, " ", sortBox)
}

func accuracyColor(r *eval.EvaluationResult, baseline float64) lipgloss.Style {
	drop := baseline - r.Accuracy
	switch {
	case drop <= 0.001:
		return styleGreen
	case drop <= 0.05:
		return styleYellow
	default:
		return styleRed
	}
}

func renderTable(app *App, height int) string {
	headers := []string{"Key Quantizer", "Value Quantizer", "Acc", "K bits", "V bits", "Compress"}
	colWidths := []int{28, 28, 7, 7, 7, 9}
	headerLine := ""
	for i, h := range headers {
		headerLine += truncPad(h, colWidths[i]) + " "
	}
	headerLine = styleCyan.Bold(true).Render(headerLine)

	baseline := app.BaselineAccuracy()
	var rows []string
	start := 0
	end := len(app.FilteredResults)
	visible := height - 2
	if visible < 1 {
		visible = 1
	}
	if end > visible {
		if app.SelectedRow >= end-visible {
			start = end - visible
		} else if app.SelectedRow > 0 {
			start = app.SelectedRow
		}
		end = start + visible
		if end > len(app.FilteredResults) {
			end = len(app.FilteredResults)
		}
	}
	order := app.activeOrder()
	for rowIdx := start; rowIdx < end; rowIdx++ {
		r := order[app.FilteredResults[rowIdx]]
		accStyle := accuracyColor(r, baseline)
		cells := []string{
			styleNormal.Render(truncPad(r.KeyQuantizer.Label(), colWidths[0])),
			styleNormal.Render(truncPad(r.ValueQuantizer.Label(), colWidths[1])),
			accStyle.Render(truncPad(fmt.Sprintf("%.1f%%", r.Accuracy*100), colWidths[2])),
			styleDim.Render(truncPad(bitsText(r.KeyAvgBits), colWidths[3])),
			styleDim.Render(truncPad(bitsText(r.ValueAvgBits), colWidths[4])),
			styleCyan.Render(truncPad(fmt.Sprintf("%.2fx", r.CompressionRatio()), colWidths[5])),
		}
		line := ""
		for i, c := range cells {
			line += lipgloss.NewStyle().Width(colWidths[i]).Render(c) + " "
		}
		if rowIdx == app.SelectedRow {
			line = lipgloss.NewStyle().Background(lipgloss.Color("8")).Bold(true).Render("▶ " + line)
		} else {
			line = "  " + line
		}
		rows = append(rows, line)
	}

	title := fmt.Sprintf(" Results (%d/%d) ", len(app.FilteredResults), len(app.AllResults))
	block := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	body := headerLine + "\n" + strings.Join(rows, "\n")
	return block.Render(styleNormal.Render(title) + "\n" + body)
}

func bitsText(b float64) string {
	if b <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", b)
}

func truncPad(s string, w int) string {
	runes := []rune(s)
	if len(runes) <= w {
		return s + strings.Repeat(" ", w-len(runes))
	}
	return string(runes[:w-1]) + "…"
}

func renderStatusBar(app *App) string {
	var keys, modeText string
	switch app.InputMode {
	case InputModeNormal:
		detailKey := "Enter:detail"
		if app.ShowDetail {
			detailKey = "Enter:table"
		}
		keys = fmt.Sprintf(" ↑↓/jk:navigate  %s  /:search  s:sort  q:quit", detailKey)
		modeText = "NORMAL"
	case InputModeSearch:
		keys = "  Type to search  Esc:done  Ctrl-U:clear"
		modeText = "SEARCH"
	}
	return styleStatus.Render(" "+modeText+" ") + styleDim.Render(keys)
}

func renderDetail(app *App) string {
	r := app.SelectedResult()
	if r == nil {
		block := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
		return block.Render(" No result selected ")
	}
	baseline := app.BaselineAccuracy()
	accStyle := accuracyColor(r, baseline)
	var lines []string
	lines = append(lines, "")
	lines = append(lines, styleDim.Render("  Key:         ")+styleNormal.Bold(true).Render(r.KeyQuantizer.Label()))
	lines = append(lines, styleDim.Render("  Value:       ")+styleNormal.Bold(true).Render(r.ValueQuantizer.Label()))
	lines = append(lines, styleDim.Render("  Model:       ")+styleNormal.Render(r.Model))
	lines = append(lines, "")
	lines = append(lines, styleCyan.Render("  ── Answer Quality ──"))
	lines = append(lines, "")
	lines = append(lines, styleDim.Render("  Accuracy:    ")+accStyle.Bold(true).Render(fmt.Sprintf("%.1f%%", r.Accuracy*100))+
		styleDim.Render(fmt.Sprintf("  (%d/%d correct, baseline %.1f%%)", r.Correct, r.Questions, baseline*100)))
	lines = append(lines, "")
	lines = append(lines, styleCyan.Render("  ── Cache Footprint ──"))
	lines = append(lines, "")
	lines = append(lines, styleDim.Render("  Key bits:    ")+styleNormal.Render(bitsText(r.KeyAvgBits))+
		styleDim.Render("  Value bits: ")+styleNormal.Render(bitsText(r.ValueAvgBits)))
	lines = append(lines, styleDim.Render("  Compression: ")+styleCyan.Bold(true).Render(fmt.Sprintf("%.2fx", r.CompressionRatio()))+
		styleDim.Render(fmt.Sprintf("  (%d bits vs %d baseline)", r.CacheBits, r.BaselineBits)))
	lines = append(lines, "")
	lines = append(lines, styleCyan.Render("  ── Reconstruction Error ──"))
	lines = append(lines, "")
	lines = append(lines, styleDim.Render("  Key MSE:     ")+styleNormal.Render(fmt.Sprintf("%.3e", r.KeyError)))
	lines = append(lines, styleDim.Render("  Value MSE:   ")+styleNormal.Render(fmt.Sprintf("%.3e", r.ValueError)))

	block := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	return block.Render(styleNormal.Bold(true).Render(" "+report.PairLabel(r)+" ") + "\n" + strings.Join(lines, "\n"))
}
