package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/chaos-io/pixfix/processor"
)

type SummaryRow struct {
	Label string
	Value string
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth, valueWidth := 0, 0
	for _, row := range rows {
		labelWidth = max(labelWidth, len(row.Label))
		valueWidth = max(valueWidth, len(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}
	for _, row := range rows {
		line := fmt.Sprintf("%s | %s",
			labelStyle.Render(padRight(row.Label, labelWidth)),
			valueStyle.Render(padRight(row.Value, valueWidth)))
		lines = append(lines, line)
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// ReportRows 批处理报告的汇总行
func ReportRows(r *processor.BatchReport) []SummaryRow {
	return []SummaryRow{
		{Label: "Operation", Value: r.Kind.String()},
		{Label: "Images processed", Value: fmt.Sprintf("%d", r.Processed())},
		{Label: "Succeeded", Value: fmt.Sprintf("%d", r.Succeeded())},
		{Label: "Failed", Value: fmt.Sprintf("%d", r.Failed())},
		{Label: "Skipped (unsupported)", Value: fmt.Sprintf("%d", len(r.Unsupported))},
		{Label: "Duration", Value: r.Duration.Round(time.Millisecond).String()},
	}
}

// RenderFailures 每个失败项一行，没有失败时返回空串
func RenderFailures(r *processor.BatchReport) string {
	failures := r.Failures()
	if len(failures) == 0 {
		return ""
	}
	lines := []string{warnStyle.Render(fmt.Sprintf("%d image(s) failed:", len(failures)))}
	for _, f := range failures {
		lines = append(lines, fmt.Sprintf("  %s %s",
			errorStyle.Render(filepath.Base(f.Input)),
			dimStyle.Render(f.Err.Error())))
	}
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

var (
	valueStyle = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(ColorError)
)
